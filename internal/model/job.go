// Package model defines the shared domain types for the address
// standardization pipeline.
package model

import "time"

// JobStatus represents the lifecycle state of a standardization job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether a job in this status will never transition again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusError:
		return true
	}
	return false
}

// MaxLogEntries caps the in-memory log mirror kept on a Job record. Older
// entries are dropped first; the persisted append order is preserved.
const MaxLogEntries = 200

// JobStep is one entry in a job's progress checklist.
type JobStep struct {
	Name           string `json:"name"`
	Label          string `json:"label"`
	TargetProgress int    `json:"target_progress"`
}

// DefaultSteps returns the standard pipeline checklist with the coarse
// progress milestones the orchestrator reports at.
func DefaultSteps() []JobStep {
	return []JobStep{
		{Name: "initialize", Label: "Reading input file", TargetProgress: 10},
		{Name: "split", Label: "Detecting multi-address fields", TargetProgress: 35},
		{Name: "standardize", Label: "Standardizing addresses", TargetProgress: 55},
		{Name: "merge", Label: "Merging results", TargetProgress: 85},
		{Name: "finalize", Label: "Writing output file", TargetProgress: 100},
	}
}

// JobLogEntry is a single timestamped progress message.
type JobLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Progress  int       `json:"progress"`
}

// JobOptions carries the per-job processing configuration supplied at
// submission time.
type JobOptions struct {
	AddressColumn   string `json:"address_column"`
	SecondaryColumn string `json:"secondary_column,omitempty"`
	CompareColumn   string `json:"compare_column,omitempty"`
	Country         string `json:"country,omitempty"`
	BatchSize       int    `json:"batch_size,omitempty"`
}

// Job is the durable record of one long-running standardization task.
type Job struct {
	ID               string        `json:"id"`
	Status           JobStatus     `json:"status"`
	Progress         int           `json:"progress"`
	Message          string        `json:"message,omitempty"`
	Error            string        `json:"error,omitempty"`
	Filename         string        `json:"filename"`
	OriginalFilename string        `json:"original_filename"`
	OutputFile       string        `json:"output_file,omitempty"`
	CallbackURL      string        `json:"callback_url,omitempty"`
	Options          JobOptions    `json:"options"`
	Steps            []JobStep     `json:"steps"`
	Logs             []JobLogEntry `json:"logs"`
	CreatedAt        time.Time     `json:"created_at"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
	FinishedAt       *time.Time    `json:"finished_at,omitempty"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty"`
}

// AppendLog appends a log entry to the job's in-memory mirror, enforcing the
// MaxLogEntries cap.
func (j *Job) AppendLog(entry JobLogEntry) {
	j.Logs = append(j.Logs, entry)
	if len(j.Logs) > MaxLogEntries {
		j.Logs = j.Logs[len(j.Logs)-MaxLogEntries:]
	}
}
