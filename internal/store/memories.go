package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// MemoryStore holds long-term memories with pgvector embeddings. Similarity
// is cosine; queries order by the <=> operator so the HNSW index applies.
type MemoryStore struct {
	db *sql.DB
}

// MemoryQuery narrows a nearest-neighbor search.
type MemoryQuery struct {
	Embedding pgvector.Vector
	Category  string     // optional exact match
	UserID    *uuid.UUID // optional subject filter
	Limit     int
}

// Insert stores a new memory.
func (s *MemoryStore) Insert(ctx context.Context, m *Memory) error {
	if m.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		m.ID = id
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO memories (id, content, category, embedding, source, user_id, importance)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, accessed_at`,
		m.ID, m.Content, m.Category, m.Embedding, m.Source, m.UserID,
		m.Importance).Scan(&m.CreatedAt, &m.AccessedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// Update replaces the content and embedding of an existing memory, keeping
// its identity and bumping accessed_at.
func (s *MemoryStore) Update(ctx context.Context, id uuid.UUID, content string, embedding pgvector.Vector) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET content = $2, embedding = $3, accessed_at = now()
		WHERE id = $1`, id, content, embedding)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Nearest returns the closest memories to the query embedding, most similar
// first, with Similarity populated.
func (s *MemoryStore) Nearest(ctx context.Context, q MemoryQuery) ([]*Memory, error) {
	if q.Limit <= 0 {
		q.Limit = 5
	}
	query := `
		SELECT id, content, category, source, user_id, importance, access_count,
		       created_at, accessed_at, 1 - (embedding <=> $1) AS similarity
		FROM memories
		WHERE embedding IS NOT NULL`
	args := []any{q.Embedding}
	if q.Category != "" {
		args = append(args, q.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if q.UserID != nil {
		args = append(args, *q.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	args = append(args, q.Limit)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory search: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMemory(rows *sql.Rows) (*Memory, error) {
	var m Memory
	var userID sql.Null[uuid.UUID]
	err := rows.Scan(&m.ID, &m.Content, &m.Category, &m.Source, &userID,
		&m.Importance, &m.AccessCount, &m.CreatedAt, &m.AccessedAt, &m.Similarity)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		m.UserID = &userID.V
	}
	return &m, nil
}

// All returns every memory that has an embedding, oldest first, with the
// embedding populated. Used by offline maintenance such as deduplication.
func (s *MemoryStore) All(ctx context.Context) ([]*Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, category, embedding, source, user_id, importance,
		       access_count, created_at, accessed_at
		FROM memories
		WHERE embedding IS NOT NULL
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		var m Memory
		var userID sql.Null[uuid.UUID]
		err := rows.Scan(&m.ID, &m.Content, &m.Category, &m.Embedding,
			&m.Source, &userID, &m.Importance, &m.AccessCount,
			&m.CreatedAt, &m.AccessedAt)
		if err != nil {
			return nil, err
		}
		if userID.Valid {
			m.UserID = &userID.V
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Touch records a retrieval: bumps access_count and accessed_at.
func (s *MemoryStore) Touch(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET access_count = access_count + 1, accessed_at = now()
		WHERE id = ANY($1)`, ids)
	return err
}

// Get returns one memory without its embedding.
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Memory, error) {
	var m Memory
	var userID sql.Null[uuid.UUID]
	err := s.db.QueryRowContext(ctx, `
		SELECT id, content, category, source, user_id, importance, access_count,
		       created_at, accessed_at
		FROM memories WHERE id = $1`, id).Scan(
		&m.ID, &m.Content, &m.Category, &m.Source, &userID,
		&m.Importance, &m.AccessCount, &m.CreatedAt, &m.AccessedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if userID.Valid {
		m.UserID = &userID.V
	}
	return &m, nil
}

// Delete removes one memory.
func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of stored memories.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM memories`).Scan(&n)
	return n, err
}

// Dimension returns the embedding dimension currently in force, or 0 when
// no memory has an embedding yet.
func (s *MemoryStore) Dimension(ctx context.Context) (int, error) {
	var dim sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT vector_dims(embedding) FROM memories
		WHERE embedding IS NOT NULL LIMIT 1`).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(dim.Int64), nil
}

// SetDimension recreates the embedding column for a new dimension, wiping
// existing vectors. Called when the configured embedding model changes.
func (s *MemoryStore) SetDimension(ctx context.Context, dim int) error {
	if dim <= 0 || dim > 16000 {
		return fmt.Errorf("invalid embedding dimension %d", dim)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`DROP INDEX IF EXISTS memories_embedding_idx`,
		`ALTER TABLE memories DROP COLUMN IF EXISTS embedding`,
		fmt.Sprintf(`ALTER TABLE memories ADD COLUMN embedding vector(%d)`, dim),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("set dimension: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Warn("embedding dimension changed, stored vectors wiped", "dim", dim)
	return s.EnsureIndex(ctx)
}

// EnsureIndex creates the HNSW cosine index when missing.
func (s *MemoryStore) EnsureIndex(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS memories_embedding_idx
		ON memories USING hnsw (embedding vector_cosine_ops)`)
	if err != nil {
		return fmt.Errorf("ensure memory index: %w", err)
	}
	return nil
}
