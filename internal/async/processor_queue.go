package async

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/simonraj1/pdf/internal/common"
)

// ProcessorQueue is a bounded worker pool. Enqueue never blocks: a full
// buffer is reported as common.ErrQueueFull so callers can shed load.
type ProcessorQueue struct {
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Task
	wg   sync.WaitGroup
	once sync.Once

	base context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	closed  bool
	running map[string]context.CancelFunc
	queued  map[string]bool // id -> cancel requested while waiting
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Task, n)
		}
	}
}

// WithProcessTimeout bounds a single task. Zero means no limit.
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewProcessorQueue(logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	q := &ProcessorQueue{
		logger:  logger,
		workers: 4,
		ch:      make(chan Task, 32),
		base:    base,
		stop:    stop,
		running: make(map[string]context.CancelFunc),
		queued:  make(map[string]bool),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("queue.worker.started", "worker_id", workerID)
				for task := range q.ch {
					q.run(workerID, task)
				}
				q.logger.Debug("queue.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) run(workerID int, task Task) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if q.timeout > 0 {
		ctx, cancel = context.WithTimeout(q.base, q.timeout)
	} else {
		ctx, cancel = context.WithCancel(q.base)
	}
	defer cancel()

	q.mu.Lock()
	if q.queued[task.ID] {
		cancel()
	}
	delete(q.queued, task.ID)
	q.running[task.ID] = cancel
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.running, task.ID)
		q.mu.Unlock()
	}()

	log := q.logger.With("worker_id", workerID, "task_id", task.ID)
	log.Info("queue.task.start", "waited_ms", time.Since(task.SubmittedAt).Milliseconds())
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("queue.task.panic", "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
		}
	}()
	task.Run(ctx)
	log.Info("queue.task.done", "elapsed_ms", time.Since(start).Milliseconds())
}

func (q *ProcessorQueue) Enqueue(_ context.Context, task Task) error {
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = time.Now()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("queue.enqueue.closed", "task_id", task.ID)
		return common.ErrShuttingDown
	}
	select {
	case q.ch <- task:
		q.queued[task.ID] = false
		q.logger.Info("queue.enqueue.ok", "task_id", task.ID, "pending", len(q.ch))
		return nil
	default:
		q.logger.Warn("queue.enqueue.full", "task_id", task.ID, "capacity", cap(q.ch))
		return common.ErrQueueFull
	}
}

// Cancel stops a running task or marks a queued one so it starts already cancelled.
func (q *ProcessorQueue) Cancel(id string) CancelResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cancel, ok := q.running[id]; ok {
		cancel()
		return CancelRunning
	}
	if _, ok := q.queued[id]; ok {
		q.queued[id] = true
		return CancelQueued
	}
	return CancelNotFound
}

func (q *ProcessorQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Workers: q.workers, Pending: len(q.ch), Running: len(q.running)}
}

// Shutdown stops intake and waits for in-flight tasks. When ctx expires first
// the remaining tasks are cancelled and Shutdown waits for them to unwind.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-done:
		q.logger.Info("queue.shutdown.drained")
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.cancelling", "error", ctx.Err())
		q.stop()
		<-done
		q.logger.Info("queue.shutdown.done")
	}
	q.stop()
}
