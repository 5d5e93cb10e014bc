package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/simonraj1/pdf/internal/common"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnqueueRunsTasks(t *testing.T) {
	q := NewProcessorQueue(nil, WithWorkers(2), WithQueueSize(8))
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		err := q.Enqueue(context.Background(), Task{ID: string(rune('a' + i)), Run: func(context.Context) { ran.Add(1) }})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	q.Shutdown(context.Background())
	if ran.Load() != 5 {
		t.Fatalf("ran = %d", ran.Load())
	}
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	q := NewProcessorQueue(nil, WithWorkers(1), WithQueueSize(1))
	release := make(chan struct{})
	started := make(chan struct{})
	block := func(context.Context) {
		close(started)
		<-release
	}

	if err := q.Enqueue(context.Background(), Task{ID: "running", Run: block}); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := q.Enqueue(context.Background(), Task{ID: "queued", Run: func(context.Context) {}}); err != nil {
		t.Fatal(err)
	}
	err := q.Enqueue(context.Background(), Task{ID: "overflow", Run: func(context.Context) {}})
	if !errors.Is(err, common.ErrQueueFull) {
		t.Fatalf("err = %v, want queue full", err)
	}
	if s := q.Stats(); s.Running != 1 || s.Pending != 1 {
		t.Fatalf("stats = %+v", s)
	}

	close(release)
	q.Shutdown(context.Background())
	if err := q.Enqueue(context.Background(), Task{ID: "late", Run: func(context.Context) {}}); !errors.Is(err, common.ErrShuttingDown) {
		t.Fatalf("err after shutdown = %v", err)
	}
}

func TestCancelRunningAndQueued(t *testing.T) {
	q := NewProcessorQueue(nil, WithWorkers(1), WithQueueSize(4))
	started := make(chan struct{})
	var firstErr, secondErr atomic.Value

	_ = q.Enqueue(context.Background(), Task{ID: "first", Run: func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		firstErr.Store(ctx.Err())
	}})
	_ = q.Enqueue(context.Background(), Task{ID: "second", Run: func(ctx context.Context) {
		secondErr.Store(ctx.Err())
	}})
	<-started

	if got := q.Cancel("second"); got != CancelQueued {
		t.Fatalf("Cancel(second) = %v, want CancelQueued", got)
	}
	if got := q.Cancel("first"); got != CancelRunning {
		t.Fatalf("Cancel(first) = %v, want CancelRunning", got)
	}
	if got := q.Cancel("unknown"); got != CancelNotFound {
		t.Fatalf("Cancel(unknown) = %v, want CancelNotFound", got)
	}

	q.Shutdown(context.Background())
	if firstErr.Load() != context.Canceled {
		t.Fatalf("first ctx err = %v", firstErr.Load())
	}
	if secondErr.Load() != context.Canceled {
		t.Fatalf("second ctx err = %v", secondErr.Load())
	}
}

func TestShutdownCancelsOnDeadline(t *testing.T) {
	q := NewProcessorQueue(nil, WithWorkers(1))
	started := make(chan struct{})
	var stopped atomic.Bool
	_ = q.Enqueue(context.Background(), Task{ID: "slow", Run: func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		stopped.Store(true)
	}})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	q.Shutdown(ctx)
	if !stopped.Load() {
		t.Fatal("task still running after shutdown")
	}
}

func TestWorkerSurvivesPanic(t *testing.T) {
	q := NewProcessorQueue(nil, WithWorkers(1))
	var ran atomic.Bool
	_ = q.Enqueue(context.Background(), Task{ID: "bad", Run: func(context.Context) { panic("boom") }})
	_ = q.Enqueue(context.Background(), Task{ID: "good", Run: func(context.Context) { ran.Store(true) }})
	waitFor(t, ran.Load)
	q.Shutdown(context.Background())
}
