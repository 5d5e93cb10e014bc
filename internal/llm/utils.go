package llm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/simonraj1/pdf/internal/entity"
)

// ReadAsDataURL encodes an image file as a data URL for vision requests.
func ReadAsDataURL(path string) (string, string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	mt := mime.TypeByExtension("." + ext)
	if mt == "" {
		// fallbacks
		switch ext {
		case "jpg", "jpeg":
			mt = "image/jpeg"
		case "png":
			mt = "image/png"
		default:
			mt = "application/octet-stream"
		}
	}
	data := base64.StdEncoding.EncodeToString(b)
	return "data:" + mt + ";base64," + data, mt, nil
}

// ParseQuestions runs the normalize, validate and decode steps on a model reply.
func ParseQuestions(content []byte) ([]entity.Question, error) {
	cleaned, _, err := NormalizeQuestionsJSON(content, nil)
	if err != nil {
		return nil, err
	}
	if err := ValidateQuestionsJSON(cleaned); err != nil {
		return nil, err
	}
	var doc struct {
		Questions []entity.Question `json:"questions"`
	}
	if err := json.Unmarshal(cleaned, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal questions: %w", err)
	}
	return doc.Questions, nil
}
