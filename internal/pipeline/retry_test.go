package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/simonraj1/pdf/internal/common"
)

func TestRetry(t *testing.T) {
	transient := errors.New("503")
	tests := []struct {
		name      string
		results   []error // nil means success, ErrEmptyResult means empty value
		wantCalls int
		wantErr   error
	}{
		{"first try", []error{nil}, 1, nil},
		{"fails twice then succeeds", []error{transient, transient, nil}, 3, nil},
		{"empty then succeeds", []error{ErrEmptyResult, nil}, 2, nil},
		{"exhausted by errors", []error{transient, transient, transient}, 3, ErrRetriesExhausted},
		{"exhausted by empties", []error{ErrEmptyResult, ErrEmptyResult, ErrEmptyResult}, 3, ErrEmptyResult},
		{"fatal stops immediately", []error{fmt.Errorf("auth: %w", common.ErrRunFatal)}, 1, common.ErrRunFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			v, err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3}, nil, StageText,
				func(s string) bool { return s == "" },
				func(context.Context) (string, error) {
					r := tt.results[calls]
					calls++
					switch {
					case r == nil:
						return "ok", nil
					case errors.Is(r, ErrEmptyResult):
						return "", nil
					default:
						return "", r
					}
				})
			if calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr == nil {
				if err != nil || v != "ok" {
					t.Fatalf("got (%q, %v), want (ok, nil)", v, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if v != "" {
				t.Fatalf("value = %q, want zero", v)
			}
		})
	}
}

func TestRetryWaitsConstantDelay(t *testing.T) {
	delay := 20 * time.Millisecond
	var stamps []time.Time
	_, _ = Retry(context.Background(), RetryPolicy{MaxAttempts: 3, Delay: delay}, nil, StageQuestions, nil,
		func(context.Context) (int, error) {
			stamps = append(stamps, time.Now())
			return 0, errors.New("nope")
		})
	if len(stamps) != 3 {
		t.Fatalf("attempts = %d, want 3", len(stamps))
	}
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < delay {
			t.Fatalf("gap %d = %v, want >= %v", i, gap, delay)
		}
	}
}

func TestRetryCancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Retry(ctx, RetryPolicy{MaxAttempts: 3, Delay: time.Hour}, nil, StageText, nil,
			func(context.Context) (int, error) {
				calls++
				return 0, errors.New("nope")
			})
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("retry did not observe cancellation")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRateGate(t *testing.T) {
	start := time.Now()
	if err := (RateGate{Delay: 15 * time.Millisecond}).Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("gate returned early")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (RateGate{Delay: time.Hour}).Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if err := (RateGate{}).Wait(context.Background()); err != nil {
		t.Fatalf("zero delay: %v", err)
	}
}
