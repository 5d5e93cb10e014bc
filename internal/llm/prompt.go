package llm

import (
	"encoding/json"
	"strings"

	"github.com/simonraj1/pdf/internal/entity"
)

const maxPromptText = 12000

// TextExtractionPrompt asks a vision model for a faithful transcription of one page.
func TextExtractionPrompt() string {
	return strings.Join([]string{
		"Transcribe all text visible on this page exactly as printed.",
		"Keep question numbers, option letters (A, B, C, D), answer keys and explanations.",
		"Preserve line breaks between questions and options.",
		"Return plain text only, no commentary. If the page has no text, return an empty response.",
	}, " ")
}

// QuestionSystemPrompt describes the JSON shape shared by extraction and refinement.
func QuestionSystemPrompt() string {
	return strings.Join([]string{
		"You extract multiple-choice questions from exam and worksheet text.",
		`Return ONLY a JSON object of the form {"questions": [...]} that matches the provided JSON Schema.`,
		"Each question has question_number, question, option_a, option_b, option_c, option_d, correct_answer, answer_text and explanation.",
		"correct_answer is a single letter A, B, C or D when known, otherwise an empty string.",
		"answer_text repeats the text of the correct option.",
		"Use empty strings for missing fields. Never output null.",
		`If the text contains no multiple-choice questions return {"questions": []}.`,
	}, " ")
}

// BuildExtractionPrompt packages page text for question extraction.
func BuildExtractionPrompt(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	b.WriteString("Identify every multiple-choice question in the following page text.\n\nPage text:\n")
	if len(text) > maxPromptText {
		b.WriteString(text[:maxPromptText])
		b.WriteString("\n…(truncated)")
	} else {
		b.WriteString(text)
	}
	return b.String()
}

// BuildRefinePrompt packages candidate questions for the refinement pass.
func BuildRefinePrompt(questions []entity.Question) string {
	payload := map[string]any{"questions": questions}
	bs, _ := json.MarshalIndent(payload, "", "  ")
	return strings.Join([]string{
		"Improve these extracted questions without changing their meaning or count.",
		"Fix OCR errors and broken wording, fill answer_text from the correct option,",
		"and write a one or two sentence explanation when it is missing.",
		"Keep question_number values unchanged.",
		"\n\nQuestions:\n" + string(bs),
	}, " ")
}
