package llm

import "encoding/json"

var questionFields = []string{
	"question_number",
	"question",
	"option_a",
	"option_b",
	"option_c",
	"option_d",
	"correct_answer",
	"answer_text",
	"explanation",
}

// BuildQuestionsJSONSchema returns the JSON-Schema (draft 2020-12 subset) both
// question calls must satisfy. We pass it in the prompt and validate locally.
func BuildQuestionsJSONSchema() map[string]any {
	props := make(map[string]any, len(questionFields))
	for _, f := range questionFields {
		props[f] = map[string]any{"type": "string"}
	}
	props["question"] = map[string]any{"type": "string", "minLength": 1}
	props["correct_answer"] = map[string]any{"type": "string", "pattern": `^([A-Da-d])?$`}

	item := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             []string{"question"},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"questions": map[string]any{"type": "array", "items": item},
		},
		"required": []string{"questions"},
	}
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// SchemaText renders the schema for inclusion in a prompt.
func SchemaText() string {
	return mustJSON(BuildQuestionsJSONSchema())
}
