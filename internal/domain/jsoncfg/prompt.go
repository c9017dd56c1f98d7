// Package jsoncfg defines the JSON payload a queued generation job carries.
// The API validates and persists it; the worker decodes it back into a
// runnable job. Keeping the schema here prevents the two sides drifting.
package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"

	"portraitserver/internal/domain"
)

// PromptJSON is the durable prompt payload stored on a job row.
type PromptJSON struct {
	Version       string           `json:"version"`
	PersonID      string           `json:"person_id"`
	TeamID        string           `json:"team_id,omitempty"`
	ReferenceKeys []string         `json:"reference_keys"`
	Style         domain.StyleSpec `json:"style"`
	MustFollow    []string         `json:"must_follow,omitempty"`
	Freedom       []string         `json:"freedom,omitempty"`
	AspectRatio   string           `json:"aspect_ratio"`
	MaxAttempts   int              `json:"max_attempts"`
	Debug         bool             `json:"debug,omitempty"`
}

var allowedAspectRatios = map[string]struct{}{
	"1:1":  {},
	"4:3":  {},
	"3:4":  {},
	"4:5":  {},
	"16:9": {},
	"9:16": {},
}

const (
	// DefaultPromptVersion represents the schema version persisted for prompts.
	DefaultPromptVersion = "2026-08"
	// DefaultPromptAspectRatio is used when the request omits the aspect ratio.
	DefaultPromptAspectRatio = "3:4"
	// DefaultMaxAttempts is applied when the request omits an attempt budget.
	DefaultMaxAttempts = 3
	// MaxAttemptsCap bounds how many attempts a single job may request.
	MaxAttemptsCap = 5
)

// Normalize ensures the prompt JSON respects server defaults and limits.
func (p *PromptJSON) Normalize() {
	if p == nil {
		return
	}
	if p.Version == "" {
		p.Version = DefaultPromptVersion
	}
	if p.AspectRatio == "" {
		p.AspectRatio = DefaultPromptAspectRatio
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.MaxAttempts > MaxAttemptsCap {
		p.MaxAttempts = MaxAttemptsCap
	}
}

// Validate ensures the prompt JSON satisfies the required contract before
// persistence.
func (p PromptJSON) Validate() error {
	if strings.TrimSpace(p.PersonID) == "" {
		return fmt.Errorf("person_id is required")
	}
	if len(p.ReferenceKeys) == 0 {
		return fmt.Errorf("reference_keys is required")
	}
	for _, key := range p.ReferenceKeys {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("reference_keys must not contain empty entries")
		}
	}
	if _, ok := allowedAspectRatios[p.AspectRatio]; !ok {
		return fmt.Errorf("aspect_ratio must be one of 1:1, 4:3, 3:4, 4:5, 16:9, 9:16")
	}
	if p.MaxAttempts < 1 || p.MaxAttempts > MaxAttemptsCap {
		return fmt.Errorf("max_attempts must be between 1 and %d", MaxAttemptsCap)
	}
	return nil
}

// ToGenerationJob expands the payload into a runnable job for the engine.
func (p PromptJSON) ToGenerationJob(jobID, generationID string) *domain.GenerationJob {
	return &domain.GenerationJob{
		ID:            jobID,
		GenerationID:  generationID,
		PersonID:      p.PersonID,
		TeamID:        p.TeamID,
		ReferenceKeys: append([]string{}, p.ReferenceKeys...),
		Style:         p.Style,
		MustFollow:    append([]string{}, p.MustFollow...),
		Freedom:       append([]string{}, p.Freedom...),
		AspectRatio:   p.AspectRatio,
		MaxAttempts:   p.MaxAttempts,
		Debug:         p.Debug,
	}
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
