package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/simonraj1/pdf/internal/common"
)

var (
	// ErrEmptyResult marks an attempt that returned without error but with nothing usable.
	ErrEmptyResult = errors.New("empty result")
	// ErrRetriesExhausted wraps the last failure once every attempt has been used.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// RetryPolicy is a bounded, constant-delay retry budget for one stage.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Retry calls fn until it returns a non-empty value, the budget runs out, the
// error wraps common.ErrRunFatal, or ctx is done. Exhaustion returns the zero
// value and an error wrapping ErrRetriesExhausted and the last cause.
func Retry[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, stage Stage, isEmpty func(T) bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}

	max := p.attempts()
	var last error
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		switch {
		case err == nil && (isEmpty == nil || !isEmpty(v)):
			if attempt > 1 {
				logger.Info("pipeline.stage.recovered", "stage", stage, "attempt", attempt)
			}
			return v, nil
		case err == nil:
			last = ErrEmptyResult
		case errors.Is(err, common.ErrRunFatal):
			return zero, err
		case ctx.Err() != nil:
			return zero, ctx.Err()
		default:
			last = err
		}

		logger.Warn("pipeline.stage.retry",
			"stage", stage,
			"attempt", attempt,
			"max_attempts", max,
			"error", last,
		)
		if attempt < max {
			if err := sleep(ctx, p.Delay); err != nil {
				return zero, err
			}
		}
	}
	return zero, fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, stage, max, last)
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
