package domain

import "time"

// WorkflowSnapshot is the resumable checkpoint written at the end of every
// attempt. It lives outside the job queue's own progress field so a crashed
// worker can tell how far a generation got.
type WorkflowSnapshot struct {
	GenerationID string       `json:"generation_id"`
	JobID        string       `json:"job_id"`
	Attempt      int          `json:"attempt"`
	State        AttemptState `json:"state"`
	Verdicts     *Evaluation  `json:"verdicts,omitempty"`
	AcceptedKeys []string     `json:"accepted_keys,omitempty"`
	LastError    string       `json:"last_error,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
