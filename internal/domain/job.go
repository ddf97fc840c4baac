package domain

import "time"

// JobHandle is the opaque token returned to callers for polling
type JobHandle string

// JobState is the queue-level state of a submitted job
type JobState string

// Job states. SUCCEEDED and FAILED are terminal.
const (
	JobStateSubmitted JobState = "SUBMITTED"
	JobStateRunning   JobState = "RUNNING"
	JobStateSucceeded JobState = "SUCCEEDED"
	JobStateFailed    JobState = "FAILED"
)

// Terminal reports whether no further transitions can happen
func (s JobState) Terminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// JobStatus is what the job-state backend holds for one handle
type JobStatus struct {
	Handle       JobHandle `json:"job_id"`
	State        JobState  `json:"state"`
	Key          CacheKey  `json:"key"`
	OriginalName string    `json:"original_name"`
	Error        string    `json:"error,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// JobMessage is the body published to the broker for a worker to pick up
type JobMessage struct {
	JobID        string  `json:"job_id"`
	InputPath    string  `json:"input_path"`
	ContentHash  string  `json:"content_hash"`
	OriginalName string  `json:"original_name"`
	Options      Options `json:"options"`
	Priority     uint8   `json:"priority"`
}

// Key returns the CacheKey the message will produce a record for
func (m *JobMessage) Key() CacheKey {
	return CacheKey{ContentHash: m.ContentHash, Options: m.Options}
}
