package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// GroupStore manages group chat records.
type GroupStore struct {
	db *sql.DB
}

const groupColumns = `id, platform, platform_group_id, COALESCE(name, ''),
	enabled, require_mention, allow_from, settings`

func scanGroup(row interface{ Scan(...any) error }) (*Group, error) {
	var g Group
	var settings sql.NullString
	err := row.Scan(&g.ID, &g.Platform, &g.PlatformGroupID, &g.Name,
		&g.Enabled, &g.RequireMention, &g.AllowFrom, &settings)
	if err != nil {
		return nil, notFound(err)
	}
	g.Settings = scanMap(settings)
	return &g, nil
}

// Get returns a group by platform identity, or ErrNotFound.
func (s *GroupStore) Get(ctx context.Context, platform, groupID string) (*Group, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE platform = $1 AND platform_group_id = $2`,
		platform, groupID)
	return scanGroup(row)
}

// GetOrCreate returns the group, creating a disabled record on first sight.
// Unknown groups stay silent until explicitly enabled.
func (s *GroupStore) GetOrCreate(ctx context.Context, platform, groupID, name string) (*Group, error) {
	g, err := s.Get(ctx, platform, groupID)
	if err == nil {
		return g, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO groups (id, platform, platform_group_id, name, enabled, require_mention, allow_from)
		VALUES ($1, $2, $3, $4, false, true, 'all')
		ON CONFLICT (platform, platform_group_id) DO NOTHING`,
		id, platform, groupID, name)
	if err != nil {
		return nil, fmt.Errorf("create group %s/%s: %w", platform, groupID, err)
	}
	return s.Get(ctx, platform, groupID)
}

// SetEnabled toggles whether the agent responds in this group.
func (s *GroupStore) SetEnabled(ctx context.Context, platform, groupID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE groups SET enabled = $3
		WHERE platform = $1 AND platform_group_id = $2`,
		platform, groupID, enabled)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRequireMention toggles the mention gate.
func (s *GroupStore) SetRequireMention(ctx context.Context, platform, groupID string, required bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE groups SET require_mention = $3
		WHERE platform = $1 AND platform_group_id = $2`,
		platform, groupID, required)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAllowFrom switches between responding to anyone and registered users only.
func (s *GroupStore) SetAllowFrom(ctx context.Context, platform, groupID, allowFrom string) error {
	if allowFrom != "all" && allowFrom != "registered" {
		return fmt.Errorf("invalid allow_from %q", allowFrom)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE groups SET allow_from = $3
		WHERE platform = $1 AND platform_group_id = $2`,
		platform, groupID, allowFrom)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSettings replaces the settings JSONB wholesale.
func (s *GroupStore) UpdateSettings(ctx context.Context, platform, groupID string, settings map[string]any) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE groups SET settings = $3
		WHERE platform = $1 AND platform_group_id = $2`,
		platform, groupID, jsonOrNil(settings))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all groups on a platform, or all groups when platform is empty.
func (s *GroupStore) List(ctx context.Context, platform string) ([]*Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups`
	args := []any{}
	if platform != "" {
		query += ` WHERE platform = $1`
		args = append(args, platform)
	}
	query += ` ORDER BY platform, name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
