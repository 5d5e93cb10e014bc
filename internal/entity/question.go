package entity

// Question is one extracted multiple-choice item.
type Question struct {
	QuestionNumber string `json:"question_number"`
	Question       string `json:"question"`
	OptionA        string `json:"option_a"`
	OptionB        string `json:"option_b"`
	OptionC        string `json:"option_c"`
	OptionD        string `json:"option_d"`
	CorrectAnswer  string `json:"correct_answer"`
	AnswerText     string `json:"answer_text"`
	Explanation    string `json:"explanation"`
	SourcePage     int    `json:"source_page,omitempty"`
}

// QuestionColumns is the artifact column order.
var QuestionColumns = []string{
	"question_number",
	"question",
	"option_a",
	"option_b",
	"option_c",
	"option_d",
	"correct_answer",
	"answer_text",
	"explanation",
	"source_page",
}

// Row returns the values in QuestionColumns order.
func (q Question) Row() []any {
	return []any{
		q.QuestionNumber,
		q.Question,
		q.OptionA,
		q.OptionB,
		q.OptionC,
		q.OptionD,
		q.CorrectAnswer,
		q.AnswerText,
		q.Explanation,
		q.SourcePage,
	}
}
