package jobs

import (
	"maps"
	"time"

	"github.com/simonraj1/pdf/constants"
)

// Record is the pollable state of one extraction job.
// Field names in JSON match what the polling clients read.
type Record struct {
	ID                 string                `json:"id"`
	Status             constants.JobStatus   `json:"status"`
	Progress           float64               `json:"progress"`
	TotalPages         int                   `json:"total_pages"`
	StartPage          int                   `json:"start_page"`
	CurrentPage        int                   `json:"current_page"`
	StatusMessage      string                `json:"status_message"`
	Message            string                `json:"message,omitempty"`
	QuestionsExtracted int                   `json:"questions_extracted"`
	QuestionsPerPage   map[int]int           `json:"questions_per_page"`
	StartTime          float64               `json:"start_time"`
	ElapsedTime        string                `json:"elapsed_time,omitempty"`
	SourceFile         string                `json:"source_file"`
	OutputFile         string                `json:"output_file"`
	OutputURL          string                `json:"output_url,omitempty"`
	PartialOutput      bool                  `json:"partial_output"`
	FailureKind        constants.FailureKind `json:"failure_kind,omitempty"`

	SourcePath string    `json:"-"`
	UpdatedAt  time.Time `json:"-"`
	FinishedAt time.Time `json:"-"`
}

// Clone returns a deep copy safe to hand to readers.
func (r Record) Clone() Record {
	out := r
	out.QuestionsPerPage = maps.Clone(r.QuestionsPerPage)
	if out.QuestionsPerPage == nil {
		out.QuestionsPerPage = map[int]int{}
	}
	return out
}

// Terminal reports whether the job has finished.
func (r Record) Terminal() bool {
	return r.Status.IsTerminal()
}

// DownloadReady reports whether OutputFile holds an artifact worth offering.
func (r Record) DownloadReady() bool {
	return r.Status == constants.JobStatusCompleted || r.PartialOutput
}

func sumPages(m map[int]int) int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}
