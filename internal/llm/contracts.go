package llm

import (
	"context"

	"github.com/simonraj1/pdf/internal/entity"
)

// TextExtractor reads the printed text off a rendered page image.
type TextExtractor interface {
	ExtractText(ctx context.Context, imagePath string) (string, error)
}

// QuestionExtractor turns page text into candidate questions.
type QuestionExtractor interface {
	ExtractQuestions(ctx context.Context, text string) ([]entity.Question, error)
}

// QuestionRefiner cleans up candidate questions (wording, answer letters, explanations).
type QuestionRefiner interface {
	RefineQuestions(ctx context.Context, questions []entity.Question) ([]entity.Question, error)
}

// Client is the full set of model calls a page needs.
type Client interface {
	TextExtractor
	QuestionExtractor
	QuestionRefiner
}
