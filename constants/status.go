package constants

// JobStatus is the externally visible state of an extraction job.
type JobStatus string

// Stable values (clients poll for these exact strings).
const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// FailureKind classifies why a job ended in JobStatusFailed.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureRunFatal  FailureKind = "run_fatal"
	FailureCancelled FailureKind = "cancelled"
	FailurePanic     FailureKind = "panic"
	FailureRejected  FailureKind = "rejected"
)
