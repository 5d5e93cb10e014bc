package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/simonraj1/pdf/internal/common"
	"github.com/simonraj1/pdf/internal/entity"
	"github.com/simonraj1/pdf/internal/llm"
)

// Stage names one step of the per-page pipeline.
type Stage string

const (
	StageRender    Stage = "render"
	StageText      Stage = "text"
	StageQuestions Stage = "questions"
	StageRefine    Stage = "refine"
)

// OutcomeKind tags what a page produced.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeEmpty
	OutcomeAborted
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeAborted:
		return "aborted"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// PageOutcome is the tagged result of processing one page.
// Only OutcomeFatal ends the run; the others let the job continue.
type PageOutcome struct {
	Kind      OutcomeKind
	Questions []entity.Question
	Reason    string
	Err       error
}

// RefinePolicy decides what happens when the refinement call fails or returns nothing.
type RefinePolicy string

const (
	// RefineFallback keeps the unrefined candidates.
	RefineFallback RefinePolicy = "fallback"
	// RefineDrop aborts the page.
	RefineDrop RefinePolicy = "drop"
)

// ParseRefinePolicy maps a config string to a policy; unknown values fall back.
func ParseRefinePolicy(s string) RefinePolicy {
	if strings.EqualFold(strings.TrimSpace(s), string(RefineDrop)) {
		return RefineDrop
	}
	return RefineFallback
}

// Renderer rasterizes one page into dir and returns the image path.
type Renderer interface {
	RenderPage(ctx context.Context, path string, page int, dir string) (string, error)
}

// StageFunc is told when a stage starts. count is the candidate count for StageRefine.
type StageFunc func(stage Stage, page, count int)

// Page is one unit of work for PageProcessor.
type Page struct {
	SourcePath string
	Number     int
	ScratchDir string
	Retry      RetryPolicy
	OnStage    StageFunc
}

// PageProcessor runs render, text, questions and refine for a single page.
type PageProcessor struct {
	renderer Renderer
	text     llm.TextExtractor
	extract  llm.QuestionExtractor
	refine   llm.QuestionRefiner
	policy   RefinePolicy
	logger   *slog.Logger
}

func NewPageProcessor(renderer Renderer, client llm.Client, policy RefinePolicy, logger *slog.Logger) *PageProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = RefineFallback
	}
	return &PageProcessor{
		renderer: renderer,
		text:     client,
		extract:  client,
		refine:   client,
		policy:   policy,
		logger:   logger,
	}
}

// Process never deletes scratch artifacts; the run that owns ScratchDir does.
func (p *PageProcessor) Process(ctx context.Context, pg Page) PageOutcome {
	start := time.Now()
	log := p.logger.With("page", pg.Number)
	notify := func(s Stage, n int) {
		if pg.OnStage != nil {
			pg.OnStage(s, pg.Number, n)
		}
	}

	if err := ctx.Err(); err != nil {
		return fatal(err)
	}

	// 1) render, not retried
	notify(StageRender, 0)
	img, err := p.renderer.RenderPage(ctx, pg.SourcePath, pg.Number, pg.ScratchDir)
	if err != nil {
		if isFatal(ctx, err) {
			return fatal(err)
		}
		log.Error("pipeline.render.failed", "error", err)
		return PageOutcome{
			Kind:   OutcomeAborted,
			Reason: fmt.Sprintf("Failed to convert page %d to image.", pg.Number),
			Err:    err,
		}
	}

	// 2) vision text extraction
	notify(StageText, 0)
	text, err := Retry(ctx, pg.Retry, log, StageText,
		func(s string) bool { return strings.TrimSpace(s) == "" },
		func(ctx context.Context) (string, error) { return p.text.ExtractText(ctx, img) },
	)
	if err != nil {
		if isFatal(ctx, err) {
			return fatal(err)
		}
		log.Error("pipeline.text.failed", "error", err)
		return PageOutcome{
			Kind:   exhaustedKind(err),
			Reason: fmt.Sprintf("Failed to extract text from page %d.", pg.Number),
			Err:    err,
		}
	}

	// 3) structured question candidates
	notify(StageQuestions, 0)
	candidates, err := Retry(ctx, pg.Retry, log, StageQuestions,
		func(qs []entity.Question) bool { return len(qs) == 0 },
		func(ctx context.Context) ([]entity.Question, error) { return p.extract.ExtractQuestions(ctx, text) },
	)
	if err != nil {
		if isFatal(ctx, err) {
			return fatal(err)
		}
		log.Warn("pipeline.questions.none", "error", err)
		return PageOutcome{
			Kind:   exhaustedKind(err),
			Reason: fmt.Sprintf("No questions found on page %d.", pg.Number),
			Err:    err,
		}
	}

	// 4) refinement, single best-effort attempt
	notify(StageRefine, len(candidates))
	refined, err := p.refine.RefineQuestions(ctx, candidates)
	if err == nil && len(refined) == 0 {
		err = ErrEmptyResult
	}
	if err != nil {
		if isFatal(ctx, err) {
			return fatal(err)
		}
		if p.policy == RefineDrop {
			log.Warn("pipeline.refine.dropped", "error", err, "candidates", len(candidates))
			return PageOutcome{
				Kind:   OutcomeAborted,
				Reason: fmt.Sprintf("Failed to improve questions on page %d.", pg.Number),
				Err:    err,
			}
		}
		log.Warn("pipeline.refine.fallback", "error", err, "candidates", len(candidates))
		refined = candidates
	}

	log.Info("pipeline.page.ok",
		"questions", len(refined),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return PageOutcome{Kind: OutcomeSuccess, Questions: refined}
}

func fatal(err error) PageOutcome {
	return PageOutcome{Kind: OutcomeFatal, Reason: err.Error(), Err: err}
}

// isFatal reports errors that must end the run rather than the page.
func isFatal(ctx context.Context, err error) bool {
	return errors.Is(err, common.ErrRunFatal) ||
		errors.Is(err, context.Canceled) ||
		ctx.Err() != nil
}

// exhaustedKind separates "the model said nothing" from "the calls kept failing".
func exhaustedKind(err error) OutcomeKind {
	if errors.Is(err, ErrEmptyResult) {
		return OutcomeEmpty
	}
	return OutcomeAborted
}
