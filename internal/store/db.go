package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Storage errors. Callers compare with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrProtectedUser = errors.New("user is protected")
	ErrProtectedRule = errors.New("rule is protected")
	ErrConflict      = errors.New("conflict")
)

// DB wraps the shared connection pool and the typed stores built on it.
type DB struct {
	SQL *sql.DB

	Configs   *ConfigStore
	Users     *UserStore
	Groups    *GroupStore
	Sessions  *SessionStore
	Memories  *MemoryStore
	Abilities *AbilityStore
	Tasks     *TaskStore
	Runs      *SubagentRunStore
	Identity  *IdentityStore
}

// Open connects to Postgres through the pgx stdlib driver and verifies the
// connection. Pool bounds come from config; the defaults are 2 and 10.
func Open(ctx context.Context, dsn string, minConns, maxConns int) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("store: empty dsn")
	}
	if minConns <= 0 {
		minConns = 2
	}
	if maxConns < minConns {
		maxConns = minConns + 8
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	d := &DB{SQL: db}
	d.Configs = &ConfigStore{db: db}
	d.Users = &UserStore{db: db}
	d.Groups = &GroupStore{db: db}
	d.Sessions = &SessionStore{db: db}
	d.Memories = &MemoryStore{db: db}
	d.Abilities = &AbilityStore{db: db}
	d.Tasks = &TaskStore{db: db}
	d.Runs = &SubagentRunStore{db: db}
	d.Identity = &IdentityStore{db: db}
	return d, nil
}

// Close releases the pool.
func (d *DB) Close() error {
	if d == nil || d.SQL == nil {
		return nil
	}
	return d.SQL.Close()
}

// HasVector reports whether the pgvector extension is installed. Memory
// features degrade to disabled when it is missing.
func (d *DB) HasVector(ctx context.Context) bool {
	var n int
	err := d.SQL.QueryRowContext(ctx,
		`SELECT 1 FROM pg_extension WHERE extname = 'vector'`).Scan(&n)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Warn("pgvector probe failed", "error", err)
		}
		return false
	}
	return true
}

// Transient reports whether an error looks like a pool or connectivity
// problem worth retrying rather than surfacing to the model.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"too many clients",
		"the database system is starting up",
		"pool exhausted",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
