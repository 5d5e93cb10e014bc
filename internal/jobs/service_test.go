package jobs

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/simonraj1/pdf/constants"
	"github.com/simonraj1/pdf/internal/async"
	"github.com/simonraj1/pdf/internal/common"
)

type fakeQueue struct {
	tasks     []async.Task
	err       error
	result    async.CancelResult
	cancelled []string
}

func (q *fakeQueue) Enqueue(_ context.Context, task async.Task) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *fakeQueue) Cancel(id string) async.CancelResult {
	q.cancelled = append(q.cancelled, id)
	return q.result
}

func (q *fakeQueue) Shutdown(context.Context) {}

type fakeRunner struct {
	params []Params
}

func (r *fakeRunner) Run(_ context.Context, p Params) error {
	r.params = append(r.params, p)
	return nil
}

func newTestService(t *testing.T, q *fakeQueue) (*Service, *fakeRunner, ServiceConfig) {
	t.Helper()
	dir := t.TempDir()
	cfg := ServiceConfig{
		UploadDir:    filepath.Join(dir, "uploads"),
		ResultsDir:   filepath.Join(dir, "results"),
		DefaultDelay: 10 * time.Second,
	}
	runner := &fakeRunner{}
	svc := NewService(cfg, NewRegistry(nil), runner, q, nil, nil)
	svc.newID = func() string { return "abc" }
	return svc, runner, cfg
}

func pdfBody() *bytes.Reader {
	return bytes.NewReader([]byte("%PDF-1.7\n%fake body\n"))
}

func ptr[T any](v T) *T { return &v }

func TestSubmitCreatesJobAndEnqueues(t *testing.T) {
	q := &fakeQueue{}
	svc, runner, cfg := newTestService(t, q)

	id, err := svc.Submit(context.Background(), SubmitRequest{
		Filename:     "../../exam paper.pdf",
		Content:      pdfBody(),
		StartPage:    2,
		MaxPages:     ptr(3),
		DelaySeconds: ptr(0.5),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "abc" {
		t.Fatalf("id = %q", id)
	}

	rec, err := svc.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != constants.JobStatusProcessing || rec.StatusMessage != "Initializing extraction process..." {
		t.Fatalf("record = %+v", rec)
	}
	if rec.TotalPages != 3 || rec.StartPage != 2 || rec.OutputFile != "questions_abc.xlsx" {
		t.Fatalf("record = %+v", rec)
	}

	saved := filepath.Join(cfg.UploadDir, "abc_exam paper.pdf")
	data, err := os.ReadFile(saved)
	if err != nil || !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("upload not saved intact: %v", err)
	}

	if len(q.tasks) != 1 {
		t.Fatalf("tasks = %d", len(q.tasks))
	}
	q.tasks[0].Run(context.Background())
	p := runner.params[0]
	if p.SourcePath != saved || p.PageDelay != 500*time.Millisecond || p.RetryDelay != 500*time.Millisecond {
		t.Fatalf("params = %+v", p)
	}
	if p.OutputPath != filepath.Join(cfg.ResultsDir, "questions_abc.xlsx") {
		t.Fatalf("output path = %q", p.OutputPath)
	}
}

func TestSubmitDefaultsDelay(t *testing.T) {
	q := &fakeQueue{}
	svc, runner, _ := newTestService(t, q)
	_, err := svc.Submit(context.Background(), SubmitRequest{
		Filename:          "a.PDF",
		Content:           pdfBody(),
		StartPage:         1,
		RetryDelaySeconds: ptr(2.0),
	})
	if err != nil {
		t.Fatal(err)
	}
	q.tasks[0].Run(context.Background())
	if p := runner.params[0]; p.PageDelay != 10*time.Second || p.RetryDelay != 2*time.Second {
		t.Fatalf("params = %+v", p)
	}
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     SubmitRequest
		wantMsg string
	}{
		{
			name:    "start page below one",
			req:     SubmitRequest{Filename: "a.pdf", Content: pdfBody(), StartPage: 0},
			wantMsg: "start_page must be at least 1",
		},
		{
			name:    "negative max pages",
			req:     SubmitRequest{Filename: "a.pdf", Content: pdfBody(), StartPage: 1, MaxPages: ptr(-1)},
			wantMsg: "max_pages must be at least 1",
		},
		{
			name:    "explicit zero max pages",
			req:     SubmitRequest{Filename: "a.pdf", Content: pdfBody(), StartPage: 1, MaxPages: ptr(0)},
			wantMsg: "max_pages must be at least 1",
		},
		{
			name:    "negative delay",
			req:     SubmitRequest{Filename: "a.pdf", Content: pdfBody(), StartPage: 1, DelaySeconds: ptr(-1.0)},
			wantMsg: "delay_seconds must be at least 0",
		},
		{
			name:    "delay beyond a day",
			req:     SubmitRequest{Filename: "a.pdf", Content: pdfBody(), StartPage: 1, DelaySeconds: ptr(1e10)},
			wantMsg: "delay_seconds must be at most 86400",
		},
		{
			name:    "infinite delay",
			req:     SubmitRequest{Filename: "a.pdf", Content: pdfBody(), StartPage: 1, DelaySeconds: ptr(math.Inf(1))},
			wantMsg: "delay_seconds must be at most 86400",
		},
		{
			name:    "retry delay beyond a day",
			req:     SubmitRequest{Filename: "a.pdf", Content: pdfBody(), StartPage: 1, RetryDelaySeconds: ptr(1e10)},
			wantMsg: "retry_delay_seconds must be at most 86400",
		},
		{
			name:    "nan delay",
			req:     SubmitRequest{Filename: "a.pdf", Content: pdfBody(), StartPage: 1, DelaySeconds: ptr(math.NaN())},
			wantMsg: "delay_seconds must be",
		},
		{
			name:    "missing file",
			req:     SubmitRequest{StartPage: 1},
			wantMsg: "pdf_file is required",
		},
		{
			name:    "wrong extension",
			req:     SubmitRequest{Filename: "a.docx", Content: pdfBody(), StartPage: 1},
			wantMsg: "Only PDF files are allowed",
		},
		{
			name:    "not a pdf payload",
			req:     SubmitRequest{Filename: "a.pdf", Content: strings.NewReader("hello"), StartPage: 1},
			wantMsg: "not a PDF",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{}
			svc, _, _ := newTestService(t, q)
			_, err := svc.Submit(context.Background(), tt.req)
			if !errors.Is(err, common.ErrInvalidInput) {
				t.Fatalf("err = %v", err)
			}
			var appErr *common.AppError
			if !errors.As(err, &appErr) || !strings.Contains(appErr.Message, tt.wantMsg) {
				t.Fatalf("message = %v, want %q", err, tt.wantMsg)
			}
			if len(q.tasks) != 0 {
				t.Fatal("invalid request was enqueued")
			}
		})
	}
}

func TestSubmitQueueFullMarksFailed(t *testing.T) {
	q := &fakeQueue{err: common.ErrQueueFull}
	svc, _, cfg := newTestService(t, q)

	id, err := svc.Submit(context.Background(), SubmitRequest{Filename: "a.pdf", Content: pdfBody(), StartPage: 1})
	if !errors.Is(err, common.ErrQueueFull) {
		t.Fatalf("err = %v", err)
	}
	rec, _ := svc.Get(id)
	if rec.Status != constants.JobStatusFailed || rec.FailureKind != constants.FailureRejected {
		t.Fatalf("record = %+v", rec)
	}
	if _, err := os.Stat(filepath.Join(cfg.UploadDir, "abc_a.pdf")); !os.IsNotExist(err) {
		t.Fatal("rejected upload was kept")
	}
}

func TestCancel(t *testing.T) {
	q := &fakeQueue{result: async.CancelRunning}
	svc, _, _ := newTestService(t, q)
	id, _ := svc.Submit(context.Background(), SubmitRequest{Filename: "a.pdf", Content: pdfBody(), StartPage: 1})

	if _, err := svc.Cancel(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(q.cancelled) != 1 || q.cancelled[0] != id {
		t.Fatalf("cancelled = %v", q.cancelled)
	}
	if _, err := svc.Cancel("nope"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("unknown err = %v", err)
	}

	_, _ = svc.registry.Update(id, func(r *Record) { r.Status = constants.JobStatusCompleted })
	if _, err := svc.Cancel(id); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("terminal err = %v", err)
	}
}

func TestCancelQueuedFailsImmediately(t *testing.T) {
	q := &fakeQueue{result: async.CancelQueued}
	svc, _, _ := newTestService(t, q)
	id, _ := svc.Submit(context.Background(), SubmitRequest{Filename: "a.pdf", Content: pdfBody(), StartPage: 1})

	rec, err := svc.Cancel(id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if rec.Status != constants.JobStatusFailed || rec.FailureKind != constants.FailureCancelled || rec.Progress != 100 {
		t.Fatalf("record = %+v", rec)
	}
	if got, _ := svc.Get(id); got.Status != constants.JobStatusFailed {
		t.Fatalf("stored status = %q", got.Status)
	}
}

func TestCancelUnscheduledConflicts(t *testing.T) {
	q := &fakeQueue{result: async.CancelNotFound}
	svc, _, _ := newTestService(t, q)
	id, _ := svc.Submit(context.Background(), SubmitRequest{Filename: "a.pdf", Content: pdfBody(), StartPage: 1})

	if _, err := svc.Cancel(id); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("err = %v", err)
	}
	if got, _ := svc.Get(id); got.Status != constants.JobStatusProcessing {
		t.Fatalf("status = %q", got.Status)
	}
}

func TestResultPath(t *testing.T) {
	svc, _, cfg := newTestService(t, &fakeQueue{})
	if err := os.MkdirAll(cfg.ResultsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.ResultsDir, "questions_abc.xlsx"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		file    string
		wantErr error
	}{
		{name: "existing", file: "questions_abc.xlsx"},
		{name: "missing", file: "questions_zzz.xlsx", wantErr: common.ErrNotFound},
		{name: "traversal", file: "../secret.xlsx", wantErr: common.ErrInvalidInput},
		{name: "not xlsx", file: "notes.txt", wantErr: common.ErrInvalidInput},
		{name: "empty", file: "", wantErr: common.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := svc.ResultPath(tt.file)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || filepath.Base(path) != tt.file {
				t.Fatalf("path = %q err = %v", path, err)
			}
		})
	}
}

func TestForgetRemovesUpload(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeQueue{})
	id, _ := svc.Submit(context.Background(), SubmitRequest{Filename: "a.pdf", Content: pdfBody(), StartPage: 1})
	rec, _ := svc.Get(id)
	svc.Forget(rec)
	if _, err := os.Stat(rec.SourcePath); !os.IsNotExist(err) {
		t.Fatalf("upload still present: %v", err)
	}
}
