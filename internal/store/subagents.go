package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubagentRunStore records background worker runs so crashes leave an
// auditable trail. Rows stuck in running state after a restart are marked
// failed on startup.
type SubagentRunStore struct {
	db *sql.DB
}

const runColumns = `run_id, parent_session_id, task, status,
	COALESCE(result, ''), COALESCE(error, ''), input_tokens, output_tokens,
	started_at, finished_at`

func scanRun(row interface{ Scan(...any) error }) (*SubagentRun, error) {
	var r SubagentRun
	var finished sql.NullTime
	err := row.Scan(&r.RunID, &r.ParentSessionID, &r.Task, &r.Status,
		&r.Result, &r.Error, &r.InputTokens, &r.OutputTokens,
		&r.StartedAt, &finished)
	if err != nil {
		return nil, notFound(err)
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

// Create records a new run in running state.
func (s *SubagentRunStore) Create(ctx context.Context, r *SubagentRun) error {
	if r.RunID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		r.RunID = id
	}
	if r.Status == "" {
		r.Status = RunRunning
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO subagent_runs (run_id, parent_session_id, task, status)
		VALUES ($1, $2, $3, $4)
		RETURNING started_at`,
		r.RunID, r.ParentSessionID, r.Task, r.Status).Scan(&r.StartedAt)
	if err != nil {
		return fmt.Errorf("create subagent run: %w", err)
	}
	return nil
}

// Finish records terminal state, result or error, and token usage.
func (s *SubagentRunStore) Finish(ctx context.Context, runID uuid.UUID, status, result, errText string, inTokens, outTokens int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subagent_runs
		SET status = $2, result = NULLIF($3, ''), error = NULLIF($4, ''),
		    input_tokens = $5, output_tokens = $6, finished_at = now()
		WHERE run_id = $1`,
		runID, status, result, errText, inTokens, outTokens)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns one run.
func (s *SubagentRunStore) Get(ctx context.Context, runID uuid.UUID) (*SubagentRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM subagent_runs WHERE run_id = $1`, runID)
	return scanRun(row)
}

// Recent returns the latest runs, newest first.
func (s *SubagentRunStore) Recent(ctx context.Context, limit int) ([]*SubagentRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM subagent_runs
		ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SubagentRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FailOrphans marks runs left in running state by a previous process as
// failed. Called once at startup. Returns how many rows changed.
func (s *SubagentRunStore) FailOrphans(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subagent_runs
		SET status = $1, error = 'process restarted', finished_at = now()
		WHERE status IN ($2, $3)`, RunFailed, RunPending, RunRunning)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StuckBefore marks runs older than cutoff that never finished as failed.
func (s *SubagentRunStore) StuckBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subagent_runs
		SET status = $1, error = 'timed out', finished_at = now()
		WHERE status = $2 AND started_at < $3`, RunFailed, RunRunning, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
