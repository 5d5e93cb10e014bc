package entity

import "time"

// JobRun is the ledger row written once a job reaches a terminal state.
type JobRun struct {
	ID                 string        `json:"id"`
	Status             string        `json:"status"`
	FailureKind        string        `json:"failure_kind,omitempty"`
	SourceFile         string        `json:"source_file"`
	TotalPages         int           `json:"total_pages"`
	QuestionsExtracted int           `json:"questions_extracted"`
	OutputFile         string        `json:"output_file"`
	PartialOutput      bool          `json:"partial_output"`
	Message            string        `json:"message"`
	StartedAt          time.Time     `json:"started_at"`
	Elapsed            time.Duration `json:"elapsed"`
}
