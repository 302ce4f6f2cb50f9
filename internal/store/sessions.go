package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SessionStore manages sessions and their message rows. A session's history
// is ordered by (created_at, id); compaction replaces an aged prefix with a
// single summary row in one transaction.
type SessionStore struct {
	db *sql.DB
}

// Active returns the active session for a chat, creating one when none
// exists. The partial unique index on (platform, chat_id) WHERE status =
// 'active' makes concurrent creation safe.
func (s *SessionStore) Active(ctx context.Context, platform, chatID string) (*Session, error) {
	sess, err := s.getActive(ctx, platform, chatID)
	if err == nil {
		return sess, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, platform, chat_id, status)
		VALUES ($1, $2, $3, 'active')
		ON CONFLICT (platform, chat_id) WHERE status = 'active' DO NOTHING`,
		id, platform, chatID)
	if err != nil {
		return nil, fmt.Errorf("create session %s/%s: %w", platform, chatID, err)
	}
	return s.getActive(ctx, platform, chatID)
}

func (s *SessionStore) getActive(ctx context.Context, platform, chatID string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, platform, chat_id, status, message_count, created_at, updated_at
		FROM sessions
		WHERE platform = $1 AND chat_id = $2 AND status = 'active'`,
		platform, chatID).Scan(&sess.ID, &sess.Platform, &sess.ChatID,
		&sess.Status, &sess.MessageCount, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

// Archive closes the active session for a chat. History stays in place; the
// next message starts a fresh session.
func (s *SessionStore) Archive(ctx context.Context, platform, chatID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'archived', updated_at = now()
		WHERE platform = $1 AND chat_id = $2 AND status = 'active'`,
		platform, chatID)
	return err
}

// Append persists one message row and bumps the session counters.
func (s *SessionStore) Append(ctx context.Context, m *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := appendTx(ctx, tx, m); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET message_count = message_count + 1, updated_at = now()
		WHERE id = $1`, m.SessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendAll persists several rows atomically. Either every row lands or none
// does; a turn's user message and assistant reply go through here.
func (s *SessionStore) AppendAll(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range msgs {
		if err := appendTx(ctx, tx, m); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET message_count = message_count + $2, updated_at = now()
		WHERE id = $1`, msgs[0].SessionID, len(msgs)); err != nil {
		return err
	}
	return tx.Commit()
}

func appendTx(ctx context.Context, tx *sql.Tx, m *Message) error {
	var toolArgs any
	if len(m.ToolArgs) > 0 {
		toolArgs = []byte(m.ToolArgs)
	}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO messages (session_id, role, content, tool_call_id, tool_name, tool_args, metadata)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)
		RETURNING id, created_at`,
		m.SessionID, m.Role, m.Content, m.ToolCallID, m.ToolName,
		toolArgs, jsonOrNil(m.Metadata)).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Messages returns the full ordered history of a session.
func (s *SessionStore) Messages(ctx context.Context, sessionID uuid.UUID) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, COALESCE(content, ''),
		       COALESCE(tool_call_id, ''), COALESCE(tool_name, ''), tool_args, metadata, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var toolArgs, metadata sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content,
			&m.ToolCallID, &m.ToolName, &toolArgs, &metadata, &m.CreatedAt); err != nil {
			return nil, err
		}
		if toolArgs.Valid {
			m.ToolArgs = json.RawMessage(toolArgs.String)
		}
		m.Metadata = scanMap(metadata)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// TotalChars returns the summed content length of a session's history.
// Compaction triggers on it.
func (s *SessionStore) TotalChars(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(sum(length(content)), 0) FROM messages WHERE session_id = $1`,
		sessionID).Scan(&n)
	return n, err
}

// Compact replaces every message up to and including beforeID with a single
// assistant summary row, in one transaction. The summary row is timestamped
// just before the surviving tail so ordering is preserved. Returns the new
// message count.
func (s *SessionStore) Compact(ctx context.Context, sessionID uuid.UUID, beforeID int64, summary string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM messages WHERE session_id = $1 AND id <= $2`,
		sessionID, beforeID)
	if err != nil {
		return 0, fmt.Errorf("compact delete: %w", err)
	}
	deleted, _ := res.RowsAffected()
	if deleted == 0 {
		return 0, ErrNotFound
	}

	meta, _ := json.Marshal(map[string]any{"type": MetaCompactionSummary})
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, metadata, created_at)
		VALUES ($1, 'assistant', $2, $3,
		        COALESCE((SELECT min(created_at) FROM messages WHERE session_id = $1), now())
		        - interval '1 millisecond')`,
		sessionID, summary, meta)
	if err != nil {
		return 0, fmt.Errorf("compact insert summary: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT count(*) FROM messages WHERE session_id = $1`, sessionID).Scan(&count); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET message_count = $2, updated_at = now() WHERE id = $1`,
		sessionID, count); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}
