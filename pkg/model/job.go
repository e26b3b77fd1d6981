package model

import "time"

// JobStatus is the lifecycle state of a Job. Terminal states are sticky.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether status is one a job cannot transition out of.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Job is a condensed, persisted record of one strategy execution request.
type Job struct {
	JobID        string         `json:"job_id"`
	StrategyName string         `json:"strategy_name"`
	Parameters   map[string]any `json:"parameters"`
	Status       JobStatus      `json:"status"`
	Revision     int            `json:"revision"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CurrentStep     string         `json:"current_step,omitempty"`
	CompletedSteps  []string       `json:"completed_steps,omitempty"`
	FailedStep      string         `json:"failed_step,omitempty"`
	ErrorKind       string         `json:"error_kind,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	MetricsSnapshot map[string]any `json:"metrics_snapshot,omitempty"`
	OutputFiles     map[string]string `json:"output_files,omitempty"`

	// RestartReason is set to "process_restart" when a restart-recovery pass
	// found this job stuck in a non-terminal state, per spec.md §4.9.
	RestartReason string `json:"restart_reason,omitempty"`

	// CancelRequested is recorded by the cancel endpoint. Nothing reads it
	// back: cancellation itself reaches the worker through the job's
	// context, which the executor checks between steps.
	CancelRequested bool `json:"cancel_requested,omitempty"`
}

// Progress is a lightweight view of job progress for the status endpoint.
type Progress struct {
	CurrentStep    string   `json:"current_step"`
	CompletedSteps []string `json:"completed_steps"`
	TotalSteps     int      `json:"total_steps"`
}
