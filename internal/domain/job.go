package domain

import "time"

// JobStatus enumerates generation job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Phase names one prompt-composition pass of the pipeline. Elements receive
// the phase so they can tailor their contribution to the step being built.
type Phase string

const (
	PhasePersonGeneration     Phase = "person-generation"
	PhaseBackgroundGeneration Phase = "background-generation"
	PhaseComposition          Phase = "composition"
	PhaseEvaluation           Phase = "evaluation"
)

// AttemptState enumerates the states of one workflow attempt.
type AttemptState string

const (
	StateComposing  AttemptState = "composing"
	StateGenerating AttemptState = "generating"
	StateEvaluating AttemptState = "evaluating"
	StateAccepted   AttemptState = "accepted"
	StateRetrying   AttemptState = "retrying"
	StateFailed     AttemptState = "failed"
)

// StyleSpec is the structured style selection for a portrait. Every field is
// an independently toggled feature; empty means the feature was not requested.
type StyleSpec struct {
	Preset     string `json:"preset"`
	Clothing   string `json:"clothing"`
	Pose       string `json:"pose"`
	Expression string `json:"expression"`
	Background string `json:"background"`
	Branding   string `json:"branding"`
	Lighting   string `json:"lighting"`
	// ExtraPrompt carries free-form prompt text supplied by the user.
	ExtraPrompt string `json:"extra_prompt"`
}

// GenerationJob identifies one end-to-end portrait request. Immutable except
// for the attempt counter, which the orchestrator advances between attempts.
type GenerationJob struct {
	ID            string
	GenerationID  string
	PersonID      string
	TeamID        string
	ReferenceKeys []string
	Style         StyleSpec
	MustFollow    []string
	Freedom       []string
	AspectRatio   string
	Attempt       int
	MaxAttempts   int
	Debug         bool
}

// Job is the durable record a queued generation request is stored under.
type Job struct {
	ID           string
	GenerationID string
	PersonID     string
	TeamID       string
	Status       JobStatus
	PromptJSON   []byte
	ResultJSON   []byte
	Progress     int
	Message      string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
