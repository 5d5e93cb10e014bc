package pipeline

import (
	"context"
	"time"
)

// RateGate is the fixed pause between pages of one job.
type RateGate struct {
	Delay time.Duration
}

// Wait blocks for the configured delay. It returns early with ctx.Err() on cancellation.
func (g RateGate) Wait(ctx context.Context) error {
	return sleep(ctx, g.Delay)
}
