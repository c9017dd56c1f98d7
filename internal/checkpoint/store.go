// Package checkpoint persists resumable workflow snapshots in a local SQLite
// database. Workers consult it on startup to pick up generations that were in
// flight when the previous process died.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"portraitserver/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS workflow_state (
    generation_id TEXT PRIMARY KEY,
    job_id        TEXT NOT NULL,
    attempt       INTEGER NOT NULL,
    state         TEXT NOT NULL,
    snapshot      TEXT NOT NULL,
    updated_at    TIMESTAMP NOT NULL
);
`

// Store is a SQLite-backed snapshot store. It satisfies the engine's state
// store port.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the checkpoint database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("checkpoint: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: ensure directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// PersistWorkflowState upserts the snapshot for its generation. The latest
// write wins; history is not kept.
func (s *Store) PersistWorkflowState(ctx context.Context, snap domain.WorkflowSnapshot) error {
	if snap.GenerationID == "" {
		return errors.New("checkpoint: snapshot missing generation id")
	}
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO workflow_state (generation_id, job_id, attempt, state, snapshot, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (generation_id) DO UPDATE SET
    job_id = excluded.job_id,
    attempt = excluded.attempt,
    state = excluded.state,
    snapshot = excluded.snapshot,
    updated_at = excluded.updated_at`,
		snap.GenerationID, snap.JobID, snap.Attempt, string(snap.State), string(blob), snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("checkpoint: persist snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot for generationID.
func (s *Store) Load(ctx context.Context, generationID string) (domain.WorkflowSnapshot, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM workflow_state WHERE generation_id = ?`, generationID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WorkflowSnapshot{}, fmt.Errorf("checkpoint: %q: %w", generationID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.WorkflowSnapshot{}, fmt.Errorf("checkpoint: load snapshot: %w", err)
	}
	var snap domain.WorkflowSnapshot
	if err := json.Unmarshal([]byte(blob), &snap); err != nil {
		return domain.WorkflowSnapshot{}, fmt.Errorf("checkpoint: unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Unfinished lists generations whose last recorded state is neither accepted
// nor failed.
func (s *Store) Unfinished(ctx context.Context) ([]domain.WorkflowSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT snapshot FROM workflow_state
WHERE state NOT IN (?, ?)
ORDER BY updated_at`,
		string(domain.StateAccepted), string(domain.StateFailed))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list unfinished: %w", err)
	}
	defer rows.Close()

	var snaps []domain.WorkflowSnapshot
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("checkpoint: scan snapshot: %w", err)
		}
		var snap domain.WorkflowSnapshot
		if err := json.Unmarshal([]byte(blob), &snap); err != nil {
			return nil, fmt.Errorf("checkpoint: unmarshal snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
