// Package inbox submits PDFs dropped into a watched directory.
package inbox

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/simonraj1/pdf/internal/common"
	"github.com/simonraj1/pdf/internal/jobs"
)

// RejectedSuffix is appended to files the service refused as invalid.
const RejectedSuffix = ".rejected"

// Submitter accepts one upload.
type Submitter interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (string, error)
}

type Config struct {
	Dir      string
	Debounce time.Duration
}

// Run watches cfg.Dir until ctx ends. Files are removed once submitted;
// invalid files are renamed with RejectedSuffix; other failures leave the
// file in place for the next restart.
func Run(ctx context.Context, cfg Config, sub Submitter, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return err
	}
	paths, errs, err := Watch(ctx, WatchConfig{Root: cfg.Dir, InitialScan: true, Debounce: cfg.Debounce}, logger)
	if err != nil {
		return err
	}
	logger.Info("inbox.watching", "dir", cfg.Dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-paths:
			if !ok {
				return nil
			}
			submitFile(ctx, sub, p, logger)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("inbox.watch_error", "error", err)
		}
	}
}

func submitFile(ctx context.Context, sub Submitter, path string, logger *slog.Logger) {
	log := logger.With("path", path)
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("inbox.open_failed", "error", err)
		}
		return
	}
	id, err := sub.Submit(ctx, jobs.SubmitRequest{
		Filename:  filepath.Base(path),
		Content:   f,
		StartPage: 1,
	})
	_ = f.Close()

	switch {
	case err == nil:
		if rmErr := os.Remove(path); rmErr != nil {
			log.Warn("inbox.remove_failed", "job_id", id, "error", rmErr)
		}
		log.Info("inbox.submitted", "job_id", id)
	case errors.Is(err, common.ErrInvalidInput):
		if mvErr := os.Rename(path, path+RejectedSuffix); mvErr != nil {
			log.Warn("inbox.rename_failed", "error", mvErr)
		}
		log.Warn("inbox.rejected", "error", err)
	default:
		log.Warn("inbox.submit_failed", "job_id", id, "error", err)
	}
}
