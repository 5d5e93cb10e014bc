package jobs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/simonraj1/pdf/constants"
	"github.com/simonraj1/pdf/internal/async"
	"github.com/simonraj1/pdf/internal/common"
)

// SubmitRequest is a validated upload. Content is read once.
type SubmitRequest struct {
	Filename          string    `validate:"required"`
	Content           io.Reader `validate:"required"`
	StartPage         int       `validate:"min=1"`
	MaxPages          *int      `validate:"omitempty,min=1"` // nil means "to the end"
	DelaySeconds      *float64  `validate:"omitempty,min=0,max=86400"`
	RetryDelaySeconds *float64  `validate:"omitempty,min=0,max=86400"`
}

// JobRunner executes one job synchronously.
type JobRunner interface {
	Run(ctx context.Context, p Params) error
}

type ServiceConfig struct {
	UploadDir    string
	ResultsDir   string
	DefaultDelay time.Duration
}

// Service accepts submissions, hands them to the pool and answers status queries.
type Service struct {
	cfg       ServiceConfig
	registry  *Registry
	runner    JobRunner
	queue     async.Queue
	validator *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

func NewService(cfg ServiceConfig, reg *Registry, runner JobRunner, queue async.Queue, v *validator.Validate, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if v == nil {
		v = validator.New()
	}
	return &Service{
		cfg:       cfg,
		registry:  reg,
		runner:    runner,
		queue:     queue,
		validator: v,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

// Submit stores the upload, creates the job record and enqueues the run.
// It returns the new job id.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := s.validator.Struct(&req); err != nil {
		return "", common.NewAppError("VALIDATION_ERROR", validationMessage(err), common.ErrInvalidInput)
	}
	base := filepath.Base(strings.ReplaceAll(req.Filename, "\\", "/"))
	if !constants.IsAllowedExt(filepath.Ext(base)) {
		return "", common.NewAppError("VALIDATION_ERROR", "Invalid file type. Only PDF files are allowed.", common.ErrInvalidInput)
	}
	br := bufio.NewReader(req.Content)
	head, _ := br.Peek(len(constants.PDFMagic))
	if !constants.LooksLikePDF(head) {
		return "", common.NewAppError("VALIDATION_ERROR", "Uploaded file is not a PDF document.", common.ErrInvalidInput)
	}

	id := s.newID()
	log := s.logger.With("job_id", id)
	src := filepath.Join(s.cfg.UploadDir, id+"_"+base)
	if err := saveUpload(src, br); err != nil {
		log.Error("jobs.upload.save_failed", "error", err)
		return "", common.NewAppError("UPLOAD_ERROR", "could not store upload", err)
	}

	delay := s.cfg.DefaultDelay
	if req.DelaySeconds != nil {
		delay = seconds(*req.DelaySeconds)
	}
	retryDelay := delay
	if req.RetryDelaySeconds != nil {
		retryDelay = seconds(*req.RetryDelaySeconds)
	}

	maxPages := 0
	if req.MaxPages != nil {
		maxPages = *req.MaxPages
	}

	outName := constants.OutputFileName(id)
	now := s.now()
	rec := Record{
		ID:            id,
		Status:        constants.JobStatusProcessing,
		TotalPages:    maxPages,
		StartPage:     req.StartPage,
		StatusMessage: "Initializing extraction process...",
		StartTime:     float64(now.UnixMilli()) / 1000,
		SourceFile:    base,
		OutputFile:    outName,
		SourcePath:    src,
	}
	if err := s.registry.Create(rec); err != nil {
		_ = os.Remove(src)
		return "", err
	}

	params := Params{
		JobID:      id,
		SourcePath: src,
		StartPage:  req.StartPage,
		MaxPages:   maxPages,
		PageDelay:  delay,
		RetryDelay: retryDelay,
		OutputPath: filepath.Join(s.cfg.ResultsDir, outName),
	}
	task := async.Task{
		ID:          id,
		SubmittedAt: now,
		Run: func(ctx context.Context) {
			_ = s.runner.Run(common.WithJobID(ctx, id), params)
		},
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		log.Warn("jobs.submit.rejected", "error", err)
		_, _ = s.registry.Update(id, func(r *Record) {
			r.Status = constants.JobStatusFailed
			r.FailureKind = constants.FailureRejected
			r.Message = "Error: " + err.Error()
			r.StatusMessage = r.Message
		})
		_ = os.Remove(src)
		return id, err
	}

	log.Info("jobs.submit.ok",
		"file", base,
		"start_page", req.StartPage,
		"max_pages", maxPages,
		"delay_s", delay.Seconds(),
	)
	return id, nil
}

// Get returns a snapshot of the job.
func (s *Service) Get(id string) (Record, error) {
	rec, ok := s.registry.Get(id)
	if !ok {
		return Record{}, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	return rec, nil
}

// Cancel asks the pool to stop a processing job. A job still waiting for a
// worker fails at once; a running one is failed by the controller as it unwinds.
func (s *Service) Cancel(id string) (Record, error) {
	rec, err := s.Get(id)
	if err != nil {
		return Record{}, err
	}
	if rec.Terminal() {
		return rec, fmt.Errorf("job %s is %s: %w", id, rec.Status, common.ErrConflict)
	}
	switch s.queue.Cancel(id) {
	case async.CancelNotFound:
		return rec, fmt.Errorf("job %s is not scheduled: %w", id, common.ErrConflict)
	case async.CancelQueued:
		updated, err := s.registry.Update(id, func(r *Record) {
			r.Status = constants.JobStatusFailed
			r.FailureKind = constants.FailureCancelled
			r.Message = "Error: cancelled before start"
			r.StatusMessage = r.Message
		})
		if err == nil {
			rec = updated
		}
		s.logger.Info("jobs.cancel.queued", "job_id", id)
	default:
		s.logger.Info("jobs.cancel.requested", "job_id", id)
	}
	return rec, nil
}

// Counts proxies the registry tallies.
func (s *Service) Counts() map[constants.JobStatus]int {
	return s.registry.Counts()
}

// ResultPath resolves a download name inside the results directory.
// Only bare xlsx file names are accepted.
func (s *Service) ResultPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("download %q: %w", name, common.ErrInvalidInput)
	}
	if !strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return "", fmt.Errorf("download %q: %w", name, common.ErrInvalidInput)
	}
	path := filepath.Join(s.cfg.ResultsDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("download %q: %w", name, common.ErrNotFound)
	}
	return path, nil
}

// Forget removes the upload belonging to an evicted job.
func (s *Service) Forget(rec Record) {
	if rec.SourcePath == "" {
		return
	}
	if err := os.Remove(rec.SourcePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("jobs.upload.remove_failed", "job_id", rec.ID, "error", err)
	}
}

func saveUpload(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fieldName(fe.Field())))
		case "min":
			parts = append(parts, fmt.Sprintf("%s must be at least %s", fieldName(fe.Field()), fe.Param()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s", fieldName(fe.Field()), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid", fieldName(fe.Field())))
		}
	}
	return strings.Join(parts, "; ")
}

var fieldNames = map[string]string{
	"Filename":          "pdf_file",
	"Content":           "pdf_file",
	"StartPage":         "start_page",
	"MaxPages":          "max_pages",
	"DelaySeconds":      "delay_seconds",
	"RetryDelaySeconds": "retry_delay_seconds",
}

func fieldName(f string) string {
	if n, ok := fieldNames[f]; ok {
		return n
	}
	return f
}
