package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStore persists scheduled tasks. Tasks survive restarts; the scheduler
// polls Due on an interval and reschedules or deletes after each run.
type TaskStore struct {
	db *sql.DB
}

const taskColumns = `id, name, schedule_type, schedule_value, payload,
	platform, chat_id, enabled, last_run, next_run, run_count, COALESCE(created_by, '')`

func scanTask(row interface{ Scan(...any) error }) (*ScheduledTask, error) {
	var t ScheduledTask
	var lastRun, nextRun sql.NullTime
	err := row.Scan(&t.ID, &t.Name, &t.ScheduleType, &t.ScheduleValue, &t.Payload,
		&t.Platform, &t.ChatID, &t.Enabled, &lastRun, &nextRun, &t.RunCount, &t.CreatedBy)
	if err != nil {
		return nil, notFound(err)
	}
	if lastRun.Valid {
		t.LastRun = &lastRun.Time
	}
	if nextRun.Valid {
		t.NextRun = &nextRun.Time
	}
	return &t, nil
}

// Create inserts a task with its first next_run already computed.
func (s *TaskStore) Create(ctx context.Context, t *ScheduledTask) error {
	if t.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		t.ID = id
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks
			(id, name, schedule_type, schedule_value, payload, platform, chat_id, enabled, next_run, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.Name, t.ScheduleType, t.ScheduleValue, t.Payload,
		t.Platform, t.ChatID, t.Enabled, t.NextRun, t.CreatedBy)
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.Name, err)
	}
	return nil
}

// Get returns one task.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = $1`, id)
	return scanTask(row)
}

// Due returns enabled tasks whose next_run has passed, oldest first.
func (s *TaskStore) Due(ctx context.Context, now time.Time) ([]*ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM scheduled_tasks
		WHERE enabled AND next_run IS NOT NULL AND next_run <= $1
		ORDER BY next_run`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// List returns tasks for one chat, or every task when chatID is empty.
func (s *TaskStore) List(ctx context.Context, platform, chatID string) ([]*ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks`
	args := []any{}
	if chatID != "" {
		query += ` WHERE platform = $1 AND chat_id = $2`
		args = append(args, platform, chatID)
	}
	query += ` ORDER BY next_run NULLS LAST`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkRun records a completed run and the next firing time. For once tasks
// the caller deletes instead.
func (s *TaskStore) MarkRun(ctx context.Context, id uuid.UUID, ranAt time.Time, nextRun *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET last_run = $2, next_run = $3, run_count = run_count + 1
		WHERE id = $1`, id, ranAt, nextRun)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEnabled pauses or resumes a task.
func (s *TaskStore) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a task.
func (s *TaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
