package watch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/simonraj1/pdf/constants"
	"github.com/simonraj1/pdf/internal/jobs"
)

type stubFetcher struct {
	rec jobs.Record
	err error
	ids []string
}

func (f *stubFetcher) Fetch(_ context.Context, id string) (jobs.Record, error) {
	f.ids = append(f.ids, id)
	return f.rec, f.err
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestInputModeStartsWatching(t *testing.T) {
	f := &stubFetcher{rec: jobs.Record{ID: "abc", Status: constants.JobStatusProcessing}}
	m := NewModel(f, "", 0)

	var model tea.Model = m
	for _, r := range "abc" {
		model, _ = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	model, cmd := model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	got := model.(Model)
	if got.mode != modeWatch || got.jobID != "abc" {
		t.Fatalf("mode = %v job = %q", got.mode, got.jobID)
	}
	if cmd == nil {
		t.Fatal("expected fetch command")
	}
	msg := cmd()
	if _, ok := msg.(snapshotMsg); !ok {
		t.Fatalf("msg = %T", msg)
	}
	if len(f.ids) != 1 || f.ids[0] != "abc" {
		t.Fatalf("fetched = %v", f.ids)
	}
}

func TestQTypedIntoInput(t *testing.T) {
	m := NewModel(&stubFetcher{}, "", time.Millisecond)
	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if isQuit(cmd) {
		t.Fatal("q should be typed, not quit, in input mode")
	}
	if v := model.(Model).input.Value(); v != "q" {
		t.Fatalf("input = %q", v)
	}
}

func TestSnapshotUpdatesAndQuitsOnTerminal(t *testing.T) {
	m := NewModel(&stubFetcher{}, "j1", time.Millisecond)

	model, cmd := m.Update(snapshotMsg{rec: jobs.Record{
		ID:            "j1",
		Status:        constants.JobStatusProcessing,
		Progress:      40,
		StatusMessage: "Processing page 2 of 5...",
	}})
	if isQuit(cmd) {
		t.Fatal("quit while processing")
	}
	if view := model.View(); !strings.Contains(view, "Processing page 2 of 5...") {
		t.Fatalf("view = %s", view)
	}

	model, cmd = model.Update(snapshotMsg{rec: jobs.Record{
		ID:         "j1",
		Status:     constants.JobStatusCompleted,
		Progress:   100,
		Message:    "Extracted 6 questions from 3 pages in 4.20 seconds",
		OutputFile: "questions_j1.xlsx",
	}})
	if !isQuit(cmd) {
		t.Fatal("expected quit on terminal snapshot")
	}
	rec, ok := model.(Model).Result()
	if !ok || rec.Status != constants.JobStatusCompleted {
		t.Fatalf("result = %+v", rec)
	}
	if view := model.View(); !strings.Contains(view, "questions_j1.xlsx") {
		t.Fatalf("view = %s", view)
	}
}

func TestFetchErrors(t *testing.T) {
	m := NewModel(&stubFetcher{}, "j1", time.Millisecond)

	model, cmd := m.Update(fetchErrMsg{err: errors.New("connection refused")})
	if isQuit(cmd) {
		t.Fatal("transient error should keep polling")
	}
	if model.(Model).failures != 1 || !strings.Contains(model.View(), "connection refused") {
		t.Fatalf("view = %s", model.View())
	}

	_, cmd = model.Update(fetchErrMsg{err: ErrJobNotFound})
	if !isQuit(cmd) {
		t.Fatal("unknown job should quit")
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/job/j1":
			_, _ = w.Write([]byte(`{"id":"j1","status":"processing","progress":25,"questions_per_page":{"1":2},"questions_extracted":2}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"Job not found"}`))
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL + "/")
	rec, err := f.Fetch(context.Background(), "j1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Progress != 25 || rec.QuestionsPerPage[1] != 2 {
		t.Fatalf("rec = %+v", rec)
	}
	if _, err := f.Fetch(context.Background(), "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v", err)
	}
}
