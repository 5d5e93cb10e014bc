package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"strconv"
	"strings"
)

var (
	reFence  = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	reLetter = regexp.MustCompile(`(?i)^\(?(?:option\s+)?([a-d])\)?[.):]?(?:\s|$)`)
	rePrefix = regexp.MustCompile(`^\(?[A-Da-d][.)]\s*`)
)

var keySynonyms = []struct{ from, to string }{
	{"number", "question_number"},
	{"question_no", "question_number"},
	{"q_number", "question_number"},
	{"text", "question"},
	{"question_text", "question"},
	{"a", "option_a"},
	{"b", "option_b"},
	{"c", "option_c"},
	{"d", "option_d"},
	{"answer", "correct_answer"},
	{"correct", "correct_answer"},
	{"answer_key", "correct_answer"},
	{"correct_option", "correct_answer"},
	{"answer_explanation", "explanation"},
	{"rationale", "explanation"},
}

// StripCodeFence removes a surrounding markdown fence the model sometimes adds.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := reFence.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// NormalizeQuestionsJSON
// - Unwraps bare arrays and single objects into {"questions": [...]}
// - Renames known synonyms (answer -> correct_answer, a -> option_a)
// - Expands an "options" list or map into option_a..option_d
// - Coerces numbers to strings and drops nulls
// - Removes unknown keys and items with no question text
func NormalizeQuestionsJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var doc any
	if err := json.Unmarshal([]byte(StripCodeFence(string(raw))), &doc); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	var items []any
	switch t := doc.(type) {
	case []any:
		items = t
	case map[string]any:
		switch {
		case t["questions"] != nil:
			arr, ok := t["questions"].([]any)
			if !ok {
				return nil, nil, fmt.Errorf("sanitize: questions is %T, want array", t["questions"])
			}
			items = arr
		case t["items"] != nil:
			arr, _ := t["items"].([]any)
			items = arr
		case t["question"] != nil:
			items = []any{t}
		default:
			items = []any{}
		}
	default:
		return nil, nil, fmt.Errorf("sanitize: unexpected top-level %T", doc)
	}

	changes := make([]string, 0, 8)
	out := make([]map[string]any, 0, len(items))
	for i, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			changes = append(changes, fmt.Sprintf("[%d](type)", i))
			continue
		}
		q, ch := normalizeQuestion(m)
		for _, c := range ch {
			changes = append(changes, fmt.Sprintf("[%d]%s", i, c))
		}
		if q["question"] == "" {
			changes = append(changes, fmt.Sprintf("[%d](empty question)", i))
			continue
		}
		out = append(out, q)
	}

	b, err := json.Marshal(map[string]any{"questions": out})
	if err != nil {
		return nil, changes, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(changes) > 0 {
		logger.Debug("llm.questions.normalize_sanitize", "changes", changes)
	}
	return b, changes, nil
}

func normalizeQuestion(in map[string]any) (map[string]any, []string) {
	m := make(map[string]any, len(in))
	var changes []string
	for k, v := range in {
		m[strings.ToLower(strings.TrimSpace(k))] = v
	}

	for _, syn := range keySynonyms {
		if v, ok := m[syn.from]; ok {
			if _, exists := m[syn.to]; !exists {
				m[syn.to] = v
			}
			delete(m, syn.from)
			changes = append(changes, syn.from+"->"+syn.to)
		}
	}

	if opts, ok := m["options"]; ok {
		expandOptions(m, opts)
		delete(m, "options")
		changes = append(changes, "options(expanded)")
	}

	q := make(map[string]any, len(questionFields))
	for _, f := range questionFields {
		q[f] = coerceString(m[f])
	}
	for k := range maps.Clone(m) {
		if _, ok := q[k]; !ok {
			changes = append(changes, k+"(unknown)")
		}
	}

	ans := q["correct_answer"].(string)
	if letter := normalizeAnswerLetter(ans); letter != ans {
		q["correct_answer"] = letter
		changes = append(changes, "correct_answer(normalized)")
	}
	if q["answer_text"] == "" && q["correct_answer"] != "" {
		key := "option_" + strings.ToLower(q["correct_answer"].(string))
		q["answer_text"] = q[key]
	}
	return q, changes
}

func expandOptions(m map[string]any, opts any) {
	letters := []string{"a", "b", "c", "d"}
	switch t := opts.(type) {
	case []any:
		for i, v := range t {
			if i >= len(letters) {
				break
			}
			key := "option_" + letters[i]
			if _, exists := m[key]; !exists {
				m[key] = stripLetterPrefix(coerceString(v))
			}
		}
	case map[string]any:
		for k, v := range t {
			l := strings.ToLower(strings.TrimSpace(k))
			l = strings.TrimPrefix(l, "option_")
			if len(l) == 1 && l >= "a" && l <= "d" {
				key := "option_" + l
				if _, exists := m[key]; !exists {
					m[key] = coerceString(v)
				}
			}
		}
	}
}

func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// normalizeAnswerLetter maps "b", "(B)", "B) Paris" or "Option C" to an upper-case letter.
// Anything else becomes empty.
func normalizeAnswerLetter(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if m := reLetter.FindStringSubmatch(s); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

func stripLetterPrefix(s string) string {
	return strings.TrimSpace(rePrefix.ReplaceAllString(s, ""))
}
