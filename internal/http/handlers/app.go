// Package handlers implements the JSON API surface: enqueueing generations,
// polling job progress, and retrieving produced assets.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"portraitserver/internal/domain"
)

// JobStore is the subset of the job repository the API needs.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, jobID string) (*domain.Job, error)
}

// AssetStore lists persisted generation outputs.
type AssetStore interface {
	ListByGeneration(ctx context.Context, generationID string) ([]domain.Asset, error)
}

// SnapshotStore reads workflow checkpoints.
type SnapshotStore interface {
	Load(ctx context.Context, generationID string) (domain.WorkflowSnapshot, error)
}

// ArtifactStore reads raw intermediate files for debug downloads.
type ArtifactStore interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Read(ctx context.Context, key string) ([]byte, error)
}

// JobFeed wakes workers up after a job row is created.
type JobFeed interface {
	Enqueue(ctx context.Context, jobID string) error
}

// App bundles the dependencies handler methods hang off.
type App struct {
	Jobs      JobStore
	Assets    AssetStore
	Snapshots SnapshotStore
	Artifacts ArtifactStore
	Feed      JobFeed
	Logger    zerolog.Logger

	// MaxAttempts is the server-side attempt budget applied to requests
	// that do not set one. Zero falls back to the payload schema default.
	MaxAttempts int
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]string{"error": message})
}
