package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/simonraj1/pdf/constants"
	"github.com/simonraj1/pdf/internal/common"
)

// Registry is the in-memory job table shared by pollers and job workers.
// Every Update applies a whole field-set under the write lock and readers
// only ever see copies, so a snapshot never mixes two updates.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*Record
	now    func() time.Time
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		jobs:   make(map[string]*Record),
		now:    time.Now,
		logger: logger,
	}
}

// Create inserts a new processing job. IDs are create-once.
func (r *Registry) Create(rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("create job: %w: empty id", common.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[rec.ID]; ok {
		return fmt.Errorf("create job %s: %w", rec.ID, common.ErrConflict)
	}
	next := rec.Clone()
	if next.Status == "" {
		next.Status = constants.JobStatusProcessing
	}
	normalize(Record{}, &next)
	next.UpdatedAt = r.now()
	if next.Terminal() && next.FinishedAt.IsZero() {
		next.FinishedAt = next.UpdatedAt
	}
	r.jobs[rec.ID] = &next
	return nil
}

// Get returns a point-in-time copy of the job.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.jobs[id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Update applies fn to a copy of the job and publishes the result atomically.
// Terminal jobs are immutable and unknown ids return common.ErrNotFound.
func (r *Registry) Update(id string, fn func(*Record)) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.jobs[id]
	if !ok {
		return Record{}, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	if cur.Terminal() {
		return cur.Clone(), fmt.Errorf("job %s is %s: %w", id, cur.Status, common.ErrConflict)
	}

	next := cur.Clone()
	fn(&next)
	normalize(*cur, &next)
	next.UpdatedAt = r.now()
	if next.Terminal() {
		next.FinishedAt = next.UpdatedAt
	}
	r.jobs[id] = &next
	return next.Clone(), nil
}

// normalize enforces the record invariants after a mutation.
func normalize(prev Record, next *Record) {
	if prev.ID != "" {
		next.ID = prev.ID
	}
	if next.Progress < 0 {
		next.Progress = 0
	}
	if next.Progress > 100 {
		next.Progress = 100
	}
	if next.Progress < prev.Progress {
		next.Progress = prev.Progress
	}
	if next.Terminal() {
		next.Progress = 100
	}
	if next.QuestionsPerPage == nil {
		next.QuestionsPerPage = map[int]int{}
	}
	next.QuestionsExtracted = sumPages(next.QuestionsPerPage)
}

// List returns copies of all jobs, newest first.
func (r *Registry) List() []Record {
	r.mu.RLock()
	out := make([]Record, 0, len(r.jobs))
	for _, rec := range r.jobs {
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime > out[j].StartTime })
	return out
}

// Counts tallies jobs by status.
func (r *Registry) Counts() map[constants.JobStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[constants.JobStatus]int{
		constants.JobStatusProcessing: 0,
		constants.JobStatusCompleted:  0,
		constants.JobStatusFailed:     0,
	}
	for _, rec := range r.jobs {
		out[rec.Status]++
	}
	return out
}

// Evict removes terminal jobs that finished more than retention ago and returns them.
// Processing jobs are never evicted.
func (r *Registry) Evict(now time.Time, retention time.Duration) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []Record
	for id, rec := range r.jobs {
		if !rec.Terminal() || rec.FinishedAt.IsZero() {
			continue
		}
		if now.Sub(rec.FinishedAt) >= retention {
			evicted = append(evicted, rec.Clone())
			delete(r.jobs, id)
		}
	}
	return evicted
}

// RunJanitor calls Evict every interval until ctx is done. onEvict may be nil.
func (r *Registry) RunJanitor(ctx context.Context, interval, retention time.Duration, onEvict func(Record)) {
	if interval <= 0 || retention <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			evicted := r.Evict(r.now(), retention)
			for _, rec := range evicted {
				if onEvict != nil {
					onEvict(rec)
				}
			}
			if len(evicted) > 0 {
				r.logger.Info("jobs.janitor.evicted", "count", len(evicted))
			}
		}
	}
}
