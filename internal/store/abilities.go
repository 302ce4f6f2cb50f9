package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AbilityStore keeps ability records: name, version, enable flag, and a
// per-ability config blob merged into tool execution.
type AbilityStore struct {
	db *sql.DB
}

const abilityColumns = `name, COALESCE(version, ''), COALESCE(description, ''),
	enabled, config, source`

func scanAbility(row interface{ Scan(...any) error }) (*Ability, error) {
	var a Ability
	var cfg sql.NullString
	err := row.Scan(&a.Name, &a.Version, &a.Description, &a.Enabled, &cfg, &a.Source)
	if err != nil {
		return nil, notFound(err)
	}
	a.Config = scanMap(cfg)
	return &a, nil
}

// Get returns one ability record.
func (s *AbilityStore) Get(ctx context.Context, name string) (*Ability, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+abilityColumns+` FROM abilities WHERE name = $1`, name)
	return scanAbility(row)
}

// List returns all abilities ordered by name.
func (s *AbilityStore) List(ctx context.Context) ([]*Ability, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+abilityColumns+` FROM abilities ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ability
	for rows.Next() {
		a, err := scanAbility(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Upsert registers or updates an ability. The enabled flag of an existing
// record is preserved so a re-register does not silently re-enable.
func (s *AbilityStore) Upsert(ctx context.Context, a *Ability) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO abilities (name, version, description, enabled, config, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			version = EXCLUDED.version,
			description = EXCLUDED.description,
			config = COALESCE(abilities.config, EXCLUDED.config),
			source = EXCLUDED.source`,
		a.Name, a.Version, a.Description, a.Enabled, jsonOrNil(a.Config), a.Source)
	if err != nil {
		return fmt.Errorf("upsert ability %s: %w", a.Name, err)
	}
	return nil
}

// SetEnabled toggles an ability.
func (s *AbilityStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE abilities SET enabled = $2 WHERE name = $1`, name, enabled)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetConfig replaces an ability's config blob.
func (s *AbilityStore) SetConfig(ctx context.Context, name string, config map[string]any) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE abilities SET config = $2 WHERE name = $1`, name, jsonOrNil(config))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a user-installed ability record.
func (s *AbilityStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM abilities WHERE name = $1 AND source <> 'builtin'`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
