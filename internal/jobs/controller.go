package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/simonraj1/pdf/constants"
	"github.com/simonraj1/pdf/internal/entity"
	"github.com/simonraj1/pdf/internal/export"
	"github.com/simonraj1/pdf/internal/pipeline"
)

// Params describes one run.
type Params struct {
	JobID      string
	SourcePath string
	StartPage  int
	MaxPages   int // 0 means "to the end of the document"
	PageDelay  time.Duration
	RetryDelay time.Duration
	OutputPath string
}

// PageCounter resolves the number of pages in a document.
type PageCounter interface {
	PageCount(ctx context.Context, path string) (int, error)
}

// PageRunner processes a single page.
type PageRunner interface {
	Process(ctx context.Context, pg pipeline.Page) pipeline.PageOutcome
}

// Publisher uploads a finished artifact and returns a public URL.
type Publisher interface {
	Publish(ctx context.Context, jobID, path string) (string, error)
}

// Recorder stores a summary row for a finished job.
type Recorder interface {
	RecordRun(ctx context.Context, run entity.JobRun) error
}

// Controller drives one job from page-count resolution to a terminal state.
type Controller struct {
	registry    *Registry
	counter     PageCounter
	pages       PageRunner
	maxAttempts int
	scratchRoot string
	publisher   Publisher
	recorder    Recorder
	logger      *slog.Logger
	now         func() time.Time
}

type ControllerOption func(*Controller)

func WithMaxAttempts(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithScratchDir(dir string) ControllerOption {
	return func(c *Controller) {
		if dir != "" {
			c.scratchRoot = dir
		}
	}
}

func WithPublisher(p Publisher) ControllerOption {
	return func(c *Controller) { c.publisher = p }
}

func WithRecorder(r Recorder) ControllerOption {
	return func(c *Controller) { c.recorder = r }
}

func NewController(reg *Registry, counter PageCounter, pages PageRunner, logger *slog.Logger, opts ...ControllerOption) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		registry:    reg,
		counter:     counter,
		pages:       pages,
		maxAttempts: 3,
		scratchRoot: os.TempDir(),
		logger:      logger,
		now:         time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run processes the job to completion. The returned error mirrors a failed
// terminal state; the registry is always updated before Run returns.
func (c *Controller) Run(ctx context.Context, p Params) (err error) {
	started := c.now()
	log := c.logger.With("job_id", p.JobID)
	agg := export.NewAggregator(log)
	scratch := filepath.Join(c.scratchRoot, "temp_"+p.JobID)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("job.panic", "panic", rec, "stack", string(debug.Stack()))
			c.cleanup(log, scratch)
			err = fmt.Errorf("internal error: %v", rec)
			c.fail(ctx, log, p, agg, started, constants.FailurePanic, err)
		}
	}()

	// cancelled while queued: the service already failed the record
	if rec, ok := c.registry.Get(p.JobID); ok && rec.Terminal() {
		log.Info("job.skip.terminal", "status", string(rec.Status), "kind", string(rec.FailureKind))
		c.record(ctx, log, rec)
		return fmt.Errorf("job %s is %s: %w", p.JobID, rec.Status, context.Canceled)
	}
	if err := ctx.Err(); err != nil {
		c.fail(ctx, log, p, agg, started, constants.FailureCancelled, errors.New("cancelled before start"))
		return err
	}

	log.Info("job.start", "source", p.SourcePath, "start_page", p.StartPage, "max_pages", p.MaxPages)
	total, runErr := c.process(ctx, log, p, agg, scratch)
	c.cleanup(log, scratch)

	if runErr != nil {
		kind := constants.FailureRunFatal
		if errors.Is(runErr, context.Canceled) || ctx.Err() != nil {
			kind = constants.FailureCancelled
			runErr = fmt.Errorf("cancelled: %w", runErr)
		}
		c.fail(ctx, log, p, agg, started, kind, runErr)
		return runErr
	}

	c.complete(ctx, log, p, agg, total, started)
	return nil
}

// process runs the page loop and writes the artifact. Page-level problems are
// absorbed here; only run-fatal errors are returned.
func (c *Controller) process(ctx context.Context, log *slog.Logger, p Params, agg *export.Aggregator, scratch string) (int, error) {
	total := c.resolvePages(ctx, log, p)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return total, fmt.Errorf("create scratch dir: %w", err)
	}

	retry := pipeline.RetryPolicy{MaxAttempts: c.maxAttempts, Delay: p.RetryDelay}
	gate := pipeline.RateGate{Delay: p.PageDelay}
	last := p.StartPage + total - 1

	for i := 0; i < total; i++ {
		page := p.StartPage + i
		if err := ctx.Err(); err != nil {
			return total, err
		}

		c.update(log, p.JobID, func(r *Record) {
			r.Progress = float64(i) / float64(total) * 100
			r.CurrentPage = page
			r.StatusMessage = fmt.Sprintf("Processing page %d of %d...", page, last)
		})

		out := c.pages.Process(ctx, pipeline.Page{
			SourcePath: p.SourcePath,
			Number:     page,
			ScratchDir: scratch,
			Retry:      retry,
			OnStage:    c.stageReporter(log, p.JobID),
		})

		switch out.Kind {
		case pipeline.OutcomeSuccess:
			n := agg.Append(page, out.Questions)
			running := agg.Len()
			c.update(log, p.JobID, func(r *Record) {
				r.QuestionsPerPage[page] = n
				r.StatusMessage = fmt.Sprintf("Extracted and improved %d questions from page %d. Total: %d questions.", n, page, running)
			})
		case pipeline.OutcomeFatal:
			log.Error("job.page.fatal", "page", page, "error", out.Err)
			return total, out.Err
		default:
			log.Warn("job.page.skipped", "page", page, "outcome", out.Kind.String(), "reason", out.Reason, "error", out.Err)
			c.update(log, p.JobID, func(r *Record) { r.StatusMessage = out.Reason })
		}

		if i < total-1 {
			if p.PageDelay > 0 {
				c.update(log, p.JobID, func(r *Record) {
					r.StatusMessage = fmt.Sprintf("Waiting %s seconds before processing next page...", formatSeconds(p.PageDelay))
				})
			}
			if err := gate.Wait(ctx); err != nil {
				return total, err
			}
		}
	}

	n := agg.Len()
	c.update(log, p.JobID, func(r *Record) {
		if n > 0 {
			r.StatusMessage = fmt.Sprintf("Saving %d questions to Excel file...", n)
		} else {
			r.StatusMessage = "No questions were extracted. Creating empty output file."
		}
	})
	if err := agg.WriteXLSX(p.OutputPath); err != nil {
		return total, fmt.Errorf("write output: %w", err)
	}
	return total, nil
}

// resolvePages fixes total_pages once, degrading to a single page when the document can't be inspected.
func (c *Controller) resolvePages(ctx context.Context, log *slog.Logger, p Params) int {
	if p.MaxPages > 0 {
		c.update(log, p.JobID, func(r *Record) { r.TotalPages = p.MaxPages })
		return p.MaxPages
	}

	n, err := c.counter.PageCount(ctx, p.SourcePath)
	if err != nil {
		log.Warn("job.page_count.failed", "error", err)
		c.update(log, p.JobID, func(r *Record) {
			r.TotalPages = 1
			r.StatusMessage = "Failed to get PDF info. Processing only the first page."
		})
		return 1
	}

	total := max(n-p.StartPage+1, 0)
	c.update(log, p.JobID, func(r *Record) {
		r.TotalPages = total
		r.StatusMessage = fmt.Sprintf("Found %d pages in PDF. Will process %d pages.", n, total)
	})
	return total
}

func (c *Controller) stageReporter(log *slog.Logger, id string) pipeline.StageFunc {
	return func(stage pipeline.Stage, page, count int) {
		var msg string
		switch stage {
		case pipeline.StageRender:
			msg = fmt.Sprintf("Converting page %d to image...", page)
		case pipeline.StageText:
			msg = fmt.Sprintf("Extracting text from page %d using Gemini Vision...", page)
		case pipeline.StageQuestions:
			msg = fmt.Sprintf("Analyzing text from page %d to identify questions...", page)
		case pipeline.StageRefine:
			msg = fmt.Sprintf("Found %d questions on page %d. Improving questions...", count, page)
		default:
			return
		}
		c.update(log, id, func(r *Record) { r.StatusMessage = msg })
	}
}

func (c *Controller) cleanup(log *slog.Logger, scratch string) {
	if err := os.RemoveAll(scratch); err != nil {
		log.Warn("job.cleanup.failed", "dir", scratch, "error", err)
		return
	}
	log.Debug("job.cleanup.ok", "dir", scratch)
}

func (c *Controller) complete(ctx context.Context, log *slog.Logger, p Params, agg *export.Aggregator, total int, started time.Time) {
	var url string
	if c.publisher != nil {
		u, err := c.publisher.Publish(context.WithoutCancel(ctx), p.JobID, p.OutputPath)
		if err != nil {
			log.Warn("job.publish.failed", "error", err)
		} else {
			url = u
		}
	}

	elapsed := c.now().Sub(started).Seconds()
	n := agg.Len()
	rec, err := c.registry.Update(p.JobID, func(r *Record) {
		r.Status = constants.JobStatusCompleted
		r.Progress = 100
		r.ElapsedTime = strconv.FormatFloat(elapsed, 'f', 2, 64)
		r.Message = fmt.Sprintf("Extracted %d questions from %d pages in %.2f seconds", n, total, elapsed)
		r.StatusMessage = "Processing complete! You can now download the Excel file."
		r.OutputURL = url
	})
	if err != nil {
		log.Error("job.complete.update_failed", "error", err)
		return
	}
	log.Info("job.completed", "questions", n, "pages", total, "elapsed_ms", int64(elapsed*1000))
	c.record(ctx, log, rec)
}

// fail moves the job to failed. Records gathered so far are salvaged into the
// artifact and flagged with partial_output; a salvage error is only logged.
func (c *Controller) fail(ctx context.Context, log *slog.Logger, p Params, agg *export.Aggregator, started time.Time, kind constants.FailureKind, cause error) {
	partial := false
	if agg != nil && agg.Len() > 0 && p.OutputPath != "" {
		if err := agg.WriteXLSX(p.OutputPath); err != nil {
			log.Warn("job.salvage.failed", "error", err)
		} else {
			partial = true
		}
	}

	elapsed := c.now().Sub(started).Seconds()
	msg := "Error: " + cause.Error()
	rec, err := c.registry.Update(p.JobID, func(r *Record) {
		r.Status = constants.JobStatusFailed
		r.FailureKind = kind
		r.Progress = 100
		r.ElapsedTime = strconv.FormatFloat(elapsed, 'f', 2, 64)
		r.Message = msg
		r.StatusMessage = msg
		r.PartialOutput = partial
	})
	if err != nil {
		log.Error("job.fail.update_failed", "error", err)
		return
	}
	log.Error("job.failed", "kind", string(kind), "error", cause, "salvaged", partial)
	c.record(ctx, log, rec)
}

func (c *Controller) record(ctx context.Context, log *slog.Logger, rec Record) {
	if c.recorder == nil {
		return
	}
	startedAt := time.UnixMilli(int64(rec.StartTime * 1000))
	run := entity.JobRun{
		ID:                 rec.ID,
		Status:             string(rec.Status),
		FailureKind:        string(rec.FailureKind),
		SourceFile:         rec.SourceFile,
		TotalPages:         rec.TotalPages,
		QuestionsExtracted: rec.QuestionsExtracted,
		OutputFile:         rec.OutputFile,
		PartialOutput:      rec.PartialOutput,
		Message:            rec.Message,
		StartedAt:          startedAt,
		Elapsed:            rec.FinishedAt.Sub(startedAt),
	}
	if err := c.recorder.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("job.record.failed", "error", err)
	}
}

func (c *Controller) update(log *slog.Logger, id string, fn func(*Record)) {
	if _, err := c.registry.Update(id, fn); err != nil {
		log.Warn("job.update.failed", "error", err)
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
