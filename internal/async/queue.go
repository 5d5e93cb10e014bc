package async

import (
	"context"
	"time"
)

// Task is one unit of background work. Run must honour ctx cancellation.
type Task struct {
	ID          string
	SubmittedAt time.Time
	Run         func(ctx context.Context)
}

// CancelResult says what Cancel found for an id.
type CancelResult int

const (
	CancelNotFound CancelResult = iota
	CancelRunning
	CancelQueued // the task will start with an already cancelled context
)

type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Cancel(id string) CancelResult
	Shutdown(ctx context.Context)
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers int `json:"workers"`
	Pending int `json:"pending"`
	Running int `json:"running"`
}
