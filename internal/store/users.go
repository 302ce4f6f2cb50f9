package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// UserStore manages known people per platform.
type UserStore struct {
	db *sql.DB
}

const userColumns = `id, platform, platform_id, COALESCE(display_name, ''),
	access_level, founder, preferences, aliases, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var prefs, aliases sql.NullString
	var level string
	err := row.Scan(&u.ID, &u.Platform, &u.PlatformID, &u.DisplayName,
		&level, &u.Founder, &prefs, &aliases, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	u.AccessLevel = AccessLevel(level)
	u.Preferences = scanMap(prefs)
	u.Aliases = scanMap(aliases)
	return &u, nil
}

// Get returns a user by platform identity, or ErrNotFound.
func (s *UserStore) Get(ctx context.Context, platform, platformID string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE platform = $1 AND platform_id = $2`,
		platform, platformID)
	return scanUser(row)
}

// GetByID returns a user by primary key.
func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// FindByName resolves a user by display name or alias, case-insensitive.
// Returns ErrNotFound when nobody matches, ErrConflict when several do.
func (s *UserStore) FindByName(ctx context.Context, name string) (*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE lower(display_name) = lower($1)
		   OR aliases ? lower($1)`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found *User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return nil, fmt.Errorf("%w: multiple users named %q", ErrConflict, name)
		}
		found = u
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// Create inserts a new user. The first user ever created on a platform
// becomes the founder owner; bootstrap logic decides the access level and
// passes founder accordingly.
func (s *UserStore) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		u.ID = id
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, platform, platform_id, display_name, access_level, founder, preferences, aliases)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		u.ID, u.Platform, u.PlatformID, u.DisplayName, string(u.AccessLevel),
		u.Founder, jsonOrNil(u.Preferences), jsonOrNil(u.Aliases)).Scan(&u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user %s/%s: %w", u.Platform, u.PlatformID, err)
	}
	return nil
}

// HasOwner reports whether any owner exists on the platform.
func (s *UserStore) HasOwner(ctx context.Context, platform string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM users
		WHERE platform = $1 AND access_level = 'owner'`, platform).Scan(&n)
	return n > 0, err
}

// SetAccessLevel updates a user's access level. The founder owner can never
// be demoted or blocked.
func (s *UserStore) SetAccessLevel(ctx context.Context, id uuid.UUID, level AccessLevel) error {
	u, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if u.Founder && level != AccessOwner {
		return fmt.Errorf("%w: founder owner cannot be demoted", ErrProtectedUser)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET access_level = $2 WHERE id = $1`, id, string(level))
	return err
}

// SetDisplayName updates the shown name.
func (s *UserStore) SetDisplayName(ctx context.Context, id uuid.UUID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET display_name = $2 WHERE id = $1`, id, name)
	return err
}

// SetPreference sets one key in the preferences map. A nil value deletes it.
func (s *UserStore) SetPreference(ctx context.Context, id uuid.UUID, key string, value any) error {
	u, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	prefs := u.Preferences
	if prefs == nil {
		prefs = make(map[string]any)
	}
	if value == nil {
		delete(prefs, key)
	} else {
		prefs[key] = value
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET preferences = $2 WHERE id = $1`, id, jsonOrNil(prefs))
	return err
}

// AddAlias records an alternative name for lookup.
func (s *UserStore) AddAlias(ctx context.Context, id uuid.UUID, alias string) error {
	u, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	aliases := u.Aliases
	if aliases == nil {
		aliases = make(map[string]any)
	}
	aliases[alias] = true
	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET aliases = $2 WHERE id = $1`, id, jsonOrNil(aliases))
	return err
}

// List returns users on a platform, or every user when platform is empty.
func (s *UserStore) List(ctx context.Context, platform string) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	args := []any{}
	if platform != "" {
		query += ` WHERE platform = $1`
		args = append(args, platform)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Delete removes a user. Founder owners cannot be deleted.
func (s *UserStore) Delete(ctx context.Context, id uuid.UUID) error {
	u, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if u.Founder {
		return fmt.Errorf("%w: founder owner cannot be deleted", ErrProtectedUser)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}
