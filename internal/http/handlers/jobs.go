package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"portraitserver/internal/domain"
	"portraitserver/internal/domain/jsoncfg"
)

type enqueueGenerationResponse struct {
	JobID        string `json:"job_id"`
	GenerationID string `json:"generation_id"`
	Status       string `json:"status"`
}

// EnqueueGeneration validates the request, stores a queued job and wakes a
// worker through the job feed.
func (a *App) EnqueueGeneration(w http.ResponseWriter, r *http.Request) {
	var prompt jsoncfg.PromptJSON
	if err := json.NewDecoder(r.Body).Decode(&prompt); err != nil {
		a.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if prompt.MaxAttempts == 0 && a.MaxAttempts > 0 {
		prompt.MaxAttempts = a.MaxAttempts
	}
	prompt.Normalize()
	if err := prompt.Validate(); err != nil {
		a.error(w, http.StatusBadRequest, err.Error())
		return
	}

	job := &domain.Job{
		ID:           uuid.NewString(),
		GenerationID: uuid.NewString(),
		PersonID:     prompt.PersonID,
		TeamID:       prompt.TeamID,
		Status:       domain.JobStatusQueued,
		PromptJSON:   jsoncfg.MustMarshal(prompt),
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: create job")
		a.error(w, http.StatusInternalServerError, "store job")
		return
	}
	if err := a.Feed.Enqueue(r.Context(), job.ID); err != nil {
		// The row exists; a worker sweep will still find it.
		a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("handlers: enqueue notification failed")
	}

	a.json(w, http.StatusAccepted, enqueueGenerationResponse{
		JobID:        job.ID,
		GenerationID: job.GenerationID,
		Status:       string(job.Status),
	})
}

type jobStatusResponse struct {
	JobID        string          `json:"job_id"`
	GenerationID string          `json:"generation_id"`
	Status       string          `json:"status"`
	Progress     int             `json:"progress"`
	Message      string          `json:"message"`
	Error        string          `json:"error,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// JobStatus reports the externally visible progress of a job.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: get job")
		a.error(w, http.StatusInternalServerError, "load job")
		return
	}

	a.json(w, http.StatusOK, jobStatusResponse{
		JobID:        job.ID,
		GenerationID: job.GenerationID,
		Status:       string(job.Status),
		Progress:     job.Progress,
		Message:      job.Message,
		Error:        job.ErrorMessage,
		Result:       json.RawMessage(job.ResultJSON),
	})
}

// WorkflowState exposes the last persisted checkpoint of a generation.
func (a *App) WorkflowState(w http.ResponseWriter, r *http.Request) {
	generationID := chi.URLParam(r, "id")
	snap, err := a.Snapshots.Load(r.Context(), generationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "no workflow state recorded")
			return
		}
		a.Logger.Error().Err(err).Str("generation_id", generationID).Msg("handlers: load snapshot")
		a.error(w, http.StatusInternalServerError, "load workflow state")
		return
	}
	a.json(w, http.StatusOK, snap)
}
