package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/simonraj1/pdf/internal/common"
	"github.com/simonraj1/pdf/internal/entity"
	"github.com/simonraj1/pdf/internal/llm"
)

var _ llm.Client = (*Client)(nil)

// ExtractText implements llm.TextExtractor with a single vision message.
func (c *Client) ExtractText(ctx context.Context, imagePath string) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	dataURL, mimeType, err := llm.ReadAsDataURL(imagePath)
	if err != nil {
		return "", fmt.Errorf("read page image: %w", err)
	}
	c.logger.Debug("llm.vision.start", "req_id", rid, "model", c.cfg.Model, "mime", mimeType, "data_url_len", len(dataURL))

	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": llm.TextExtractionPrompt()},
					{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
				},
			},
		},
	}

	content, err := c.complete(ctx, rid, body)
	if err != nil {
		return "", err
	}
	text := llm.StripCodeFence(content)
	c.logger.Info("llm.vision.ok",
		"req_id", rid,
		"text_len", len(text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}

// ExtractQuestions implements llm.QuestionExtractor.
func (c *Client) ExtractQuestions(ctx context.Context, text string) ([]entity.Question, error) {
	return c.questionsCall(ctx, "extract", llm.BuildExtractionPrompt(text))
}

// RefineQuestions implements llm.QuestionRefiner.
func (c *Client) RefineQuestions(ctx context.Context, questions []entity.Question) ([]entity.Question, error) {
	return c.questionsCall(ctx, "refine", llm.BuildRefinePrompt(questions))
}

func (c *Client) questionsCall(ctx context.Context, op, user string) ([]entity.Question, error) {
	rid := uuid.New().String()
	start := time.Now()

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.QuestionSystemPrompt()},
			{"role": "user", "content": user + "\n\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + llm.SchemaText()},
		},
	}

	content, err := c.complete(ctx, rid, body)
	if err != nil {
		return nil, err
	}

	qs, err := llm.ParseQuestions([]byte(content))
	if err != nil {
		c.logger.Error("llm.questions.parse_failed",
			"req_id", rid, "op", op, "error", err, "content", truncate(content, 2048),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.logger.Info("llm.questions.ok",
		"req_id", rid,
		"op", op,
		"count", len(qs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return qs, nil
}

// complete posts to chat/completions and returns the first choice's content.
func (c *Client) complete(ctx context.Context, rid string, body map[string]any) (string, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	raw, status, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if err != nil {
		return "", classify(err, status)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("llm.no_choices", "req_id", rid, "raw", truncate(string(raw), 2048))
		return "", fmt.Errorf("no choices in completion response")
	}
	return strings.TrimSpace(cc.Choices[0].Message.Content), nil
}

// classify marks credential failures as run-fatal; everything else stays retryable.
func classify(err error, status int) error {
	var he *llm.HTTPError
	if errors.As(err, &he) {
		status = he.StatusCode
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: model api rejected credentials: %w", common.ErrRunFatal, err)
	}
	return fmt.Errorf("model api: %w", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
