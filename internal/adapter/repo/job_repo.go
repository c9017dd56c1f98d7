package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"portraitserver/internal/domain"
	"portraitserver/internal/infra"
	"portraitserver/internal/sqlinline"
)

// JobRepositoryPG persists generation jobs in PostgreSQL.
type JobRepositoryPG struct {
	db infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(db infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// Create inserts a new queued job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	_, err := r.db.Exec(ctx, sqlinline.QJobsInsert,
		job.ID,
		job.GenerationID,
		job.PersonID,
		job.TeamID,
		job.Status,
		job.PromptJSON,
	)
	return err
}

// Claim atomically takes the oldest queued job and marks it running. It
// returns domain.ErrNotFound when the queue is empty.
func (r *JobRepositoryPG) Claim(ctx context.Context) (*domain.Job, error) {
	row := r.db.QueryRow(ctx, sqlinline.QJobsClaim)
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.GenerationID,
		&job.PersonID,
		&job.TeamID,
		&job.Status,
		&job.PromptJSON,
		&job.Progress,
		&job.Message,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// UpdateStatus updates job status and optionally error/result payloads.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg *string, resultJSON []byte) error {
	_, err := r.db.Exec(ctx, sqlinline.QJobsUpdateStatus, jobID, status, errMsg, nullableBytes(resultJSON))
	return err
}

// UpdateProgress records the externally visible progress of a running job.
// It satisfies the engine's progress sink port.
func (r *JobRepositoryPG) UpdateProgress(ctx context.Context, jobID string, percent int, message string) error {
	_, err := r.db.Exec(ctx, sqlinline.QJobsUpdateProgress, jobID, percent, message)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.db.QueryRow(ctx, sqlinline.QJobsGetByID, jobID)
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.GenerationID,
		&job.PersonID,
		&job.TeamID,
		&job.Status,
		&job.PromptJSON,
		&job.ResultJSON,
		&job.Progress,
		&job.Message,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
