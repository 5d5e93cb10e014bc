package inbox

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/simonraj1/pdf/internal/common"
	"github.com/simonraj1/pdf/internal/jobs"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	names []string
	body  map[string]string
	err   error
	got   chan string
}

func newFakeSubmitter(err error) *fakeSubmitter {
	return &fakeSubmitter{body: map[string]string{}, err: err, got: make(chan string, 8)}
}

func (f *fakeSubmitter) Submit(_ context.Context, req jobs.SubmitRequest) (string, error) {
	data, _ := io.ReadAll(req.Content)
	f.mu.Lock()
	f.names = append(f.names, req.Filename)
	f.body[req.Filename] = string(data)
	f.mu.Unlock()
	f.got <- req.Filename
	if f.err != nil {
		return "", f.err
	}
	return "job-" + req.Filename, nil
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for submission")
		return ""
	}
}

func waitGone(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s still present", path)
}

func startRun(t *testing.T, dir string, sub Submitter) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := Run(ctx, Config{Dir: dir, Debounce: 20 * time.Millisecond}, sub, nil); err != nil {
			t.Errorf("run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRunSubmitsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "exam.pdf")
	if err := os.WriteFile(existing, []byte("%PDF-1.4 body"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	sub := newFakeSubmitter(nil)
	startRun(t, dir, sub)

	if got := waitFor(t, sub.got); got != "exam.pdf" {
		t.Fatalf("submitted %q", got)
	}
	waitGone(t, existing)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.body["exam.pdf"] != "%PDF-1.4 body" {
		t.Fatalf("body = %q", sub.body["exam.pdf"])
	}
	if len(sub.names) != 1 {
		t.Fatalf("names = %v", sub.names)
	}
}

func TestRunSubmitsNewFiles(t *testing.T) {
	dir := t.TempDir()
	sub := newFakeSubmitter(nil)
	startRun(t, dir, sub)

	// give the watcher a moment to register the root
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(dir, "later.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.7"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := waitFor(t, sub.got); got != "later.pdf" {
		t.Fatalf("submitted %q", got)
	}
	waitGone(t, path)
}

func TestRunRenamesRejectedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.pdf")
	if err := os.WriteFile(path, []byte("not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}

	sub := newFakeSubmitter(common.NewAppError("VALIDATION_ERROR", "Uploaded file is not a PDF document.", common.ErrInvalidInput))
	startRun(t, dir, sub)

	waitFor(t, sub.got)
	waitGone(t, path)
	if _, err := os.Stat(path + RejectedSuffix); err != nil {
		t.Fatalf("rejected file: %v", err)
	}
}

func TestWatchRequiresRoot(t *testing.T) {
	if _, _, err := Watch(context.Background(), WatchConfig{}, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestWanted(t *testing.T) {
	tests := map[string]bool{
		"a.pdf":          true,
		"A.PDF":          true,
		"dir/b.pdf":      true,
		".hidden.pdf":    false,
		"a.pdf.rejected": false,
		"a.txt":          false,
	}
	for path, want := range tests {
		if got := wanted(path); got != want {
			t.Errorf("wanted(%q) = %v, want %v", path, got, want)
		}
	}
}
