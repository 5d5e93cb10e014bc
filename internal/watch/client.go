package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/simonraj1/pdf/internal/jobs"
)

// ErrJobNotFound is returned when the server does not know the job.
var ErrJobNotFound = errors.New("job not found")

// Fetcher loads the current snapshot of a job.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (jobs.Record, error)
}

// HTTPFetcher polls GET /api/job/:id.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, id string) (jobs.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"/api/job/"+url.PathEscape(id), nil)
	if err != nil {
		return jobs.Record{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.Client.Do(req)
	if err != nil {
		return jobs.Record{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return jobs.Record{}, ErrJobNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return jobs.Record{}, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var rec jobs.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return jobs.Record{}, fmt.Errorf("decode job: %w", err)
	}
	return rec, nil
}
