package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/simonraj1/pdf/constants"
	"github.com/simonraj1/pdf/internal/common"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	if err := r.Create(Record{ID: "j1", StartPage: 1, StartTime: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	return r
}

func TestRegistryCreate(t *testing.T) {
	r := newTestRegistry(t)

	rec, ok := r.Get("j1")
	if !ok {
		t.Fatal("job not found")
	}
	if rec.Status != constants.JobStatusProcessing {
		t.Fatalf("status = %q", rec.Status)
	}
	if rec.QuestionsPerPage == nil {
		t.Fatal("questions_per_page is nil")
	}

	if err := r.Create(Record{ID: "j1"}); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("duplicate create err = %v", err)
	}
	if err := r.Create(Record{}); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("empty id err = %v", err)
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("unknown id found")
	}
}

func TestRegistryUpdateInvariants(t *testing.T) {
	tests := []struct {
		name  string
		steps []func(*Record)
		check func(t *testing.T, rec Record)
	}{
		{
			name: "progress never decreases",
			steps: []func(*Record){
				func(r *Record) { r.Progress = 60 },
				func(r *Record) { r.Progress = 20 },
			},
			check: func(t *testing.T, rec Record) {
				if rec.Progress != 60 {
					t.Fatalf("progress = %v", rec.Progress)
				}
			},
		},
		{
			name: "progress clamped",
			steps: []func(*Record){
				func(r *Record) { r.Progress = 250 },
			},
			check: func(t *testing.T, rec Record) {
				if rec.Progress != 100 {
					t.Fatalf("progress = %v", rec.Progress)
				}
			},
		},
		{
			name: "questions extracted follows per-page counts",
			steps: []func(*Record){
				func(r *Record) { r.QuestionsPerPage[1] = 2 },
				func(r *Record) { r.QuestionsPerPage[3] = 5; r.QuestionsExtracted = 99 },
			},
			check: func(t *testing.T, rec Record) {
				if rec.QuestionsExtracted != 7 {
					t.Fatalf("questions_extracted = %d", rec.QuestionsExtracted)
				}
			},
		},
		{
			name: "terminal forces full progress",
			steps: []func(*Record){
				func(r *Record) { r.Progress = 10; r.Status = constants.JobStatusFailed },
			},
			check: func(t *testing.T, rec Record) {
				if rec.Progress != 100 || rec.FinishedAt.IsZero() {
					t.Fatalf("progress = %v finished = %v", rec.Progress, rec.FinishedAt)
				}
			},
		},
		{
			name: "id cannot be rewritten",
			steps: []func(*Record){
				func(r *Record) { r.ID = "other" },
			},
			check: func(t *testing.T, rec Record) {
				if rec.ID != "j1" {
					t.Fatalf("id = %q", rec.ID)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t)
			for _, step := range tt.steps {
				if _, err := r.Update("j1", step); err != nil {
					t.Fatalf("update: %v", err)
				}
			}
			rec, _ := r.Get("j1")
			tt.check(t, rec)
		})
	}
}

func TestRegistryTerminalIsImmutable(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Update("j1", func(rec *Record) { rec.Status = constants.JobStatusCompleted }); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err := r.Update("j1", func(rec *Record) { rec.Status = constants.JobStatusFailed })
	if !errors.Is(err, common.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	rec, _ := r.Get("j1")
	if rec.Status != constants.JobStatusCompleted {
		t.Fatalf("status = %q", rec.Status)
	}

	if _, err := r.Update("missing", func(*Record) {}); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	r := newTestRegistry(t)
	rec, _ := r.Get("j1")
	rec.QuestionsPerPage[1] = 42
	rec.Status = constants.JobStatusFailed

	again, _ := r.Get("j1")
	if len(again.QuestionsPerPage) != 0 || again.Status != constants.JobStatusProcessing {
		t.Fatalf("registry mutated through snapshot: %+v", again)
	}
}

func TestRegistryConcurrentSnapshotsAreConsistent(t *testing.T) {
	r := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for page := 1; page <= 200; page++ {
			_, _ = r.Update("j1", func(rec *Record) {
				rec.CurrentPage = page
				rec.QuestionsPerPage[page] = 1
				rec.Progress = float64(page) / 2
			})
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0.0
			for ctx.Err() == nil {
				rec, _ := r.Get("j1")
				if rec.QuestionsExtracted != rec.CurrentPage {
					t.Errorf("torn snapshot: current_page=%d questions=%d", rec.CurrentPage, rec.QuestionsExtracted)
					return
				}
				if rec.Progress < last {
					t.Errorf("progress went back: %v < %v", rec.Progress, last)
					return
				}
				last = rec.Progress
				if rec.CurrentPage == 200 {
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestRegistryEvict(t *testing.T) {
	r := NewRegistry(nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	for _, id := range []string{"done", "running", "fresh"} {
		if err := r.Create(Record{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	_, _ = r.Update("done", func(rec *Record) { rec.Status = constants.JobStatusCompleted })
	r.now = func() time.Time { return base.Add(23 * time.Hour) }
	_, _ = r.Update("fresh", func(rec *Record) { rec.Status = constants.JobStatusFailed })

	evicted := r.Evict(base.Add(24*time.Hour), 24*time.Hour)
	if len(evicted) != 1 || evicted[0].ID != "done" {
		t.Fatalf("evicted = %+v", evicted)
	}
	for _, id := range []string{"running", "fresh"} {
		if _, ok := r.Get(id); !ok {
			t.Fatalf("%s was evicted", id)
		}
	}
	counts := r.Counts()
	if counts[constants.JobStatusProcessing] != 1 || counts[constants.JobStatusFailed] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestRegistryListNewestFirst(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Create(Record{ID: "old", StartTime: 10})
	_ = r.Create(Record{ID: "new", StartTime: 20})
	list := r.List()
	if len(list) != 2 || list[0].ID != "new" {
		t.Fatalf("list = %+v", list)
	}
}
