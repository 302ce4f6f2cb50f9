package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// IdentityStore holds the agent's self-description, soul entries, and
// numbered rules. Rules with SEC, MEM, or IDT code prefixes cannot be
// changed or removed through this store's mutating methods.
type IdentityStore struct {
	db *sql.DB
}

// protectedRulePrefixes are enforced in code, not just prompt text.
var protectedRulePrefixes = []string{"SEC", "MEM", "IDT"}

func ruleProtected(code string) bool {
	for _, p := range protectedRulePrefixes {
		if strings.HasPrefix(code, p) {
			return true
		}
	}
	return false
}

// GetIdentity returns the single identity row, or a zero value when unset.
func (s *IdentityStore) GetIdentity(ctx context.Context) (*Identity, error) {
	var id Identity
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(name, ''), COALESCE(motto, ''),
		       COALESCE(backstory, ''), COALESCE(personality, '')
		FROM identity LIMIT 1`).Scan(&id.Name, &id.Motto, &id.Backstory, &id.Personality)
	if err == sql.ErrNoRows {
		return &Identity{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// SetIdentityField updates one named field of the identity row.
func (s *IdentityStore) SetIdentityField(ctx context.Context, field, value string) error {
	switch field {
	case "name", "motto", "backstory", "personality":
	default:
		return fmt.Errorf("unknown identity field %q", field)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity (singleton, `+field+`) VALUES (true, $1)
		ON CONFLICT (singleton) DO UPDATE SET `+field+` = EXCLUDED.`+field, value)
	return err
}

// Soul returns all soul entries ordered by id.
func (s *IdentityStore) Soul(ctx context.Context) ([]SoulEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(category, ''), content FROM soul ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SoulEntry
	for rows.Next() {
		var e SoulEntry
		if err := rows.Scan(&e.ID, &e.Category, &e.Content); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddSoul appends a soul entry.
func (s *IdentityStore) AddSoul(ctx context.Context, category, content string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO soul (category, content) VALUES ($1, $2) RETURNING id`,
		category, content).Scan(&id)
	return id, err
}

// RemoveSoul deletes a soul entry by id.
func (s *IdentityStore) RemoveSoul(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM soul WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Rules returns all rules ordered by code.
func (s *IdentityStore) Rules(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, severity, content FROM rules ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.Code, &r.Severity, &r.Content); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddRule inserts a rule. Protected code prefixes are rejected so tools
// cannot shadow the built-in rule set.
func (s *IdentityStore) AddRule(ctx context.Context, code, severity, content string) (int64, error) {
	if ruleProtected(code) {
		return 0, fmt.Errorf("%w: %s", ErrProtectedRule, code)
	}
	if severity != SeverityHard && severity != SeveritySoft {
		return 0, fmt.Errorf("invalid severity %q", severity)
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rules (code, severity, content) VALUES ($1, $2, $3) RETURNING id`,
		code, severity, content).Scan(&id)
	return id, err
}

// RemoveRule deletes a rule by code unless it is protected.
func (s *IdentityStore) RemoveRule(ctx context.Context, code string) error {
	if ruleProtected(code) {
		return fmt.Errorf("%w: %s", ErrProtectedRule, code)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE code = $1`, code)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedRules inserts built-in rules that are missing, never overwriting
// existing rows.
func (s *IdentityStore) SeedRules(ctx context.Context, rules []Rule) error {
	for _, r := range rules {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO rules (code, severity, content) VALUES ($1, $2, $3)
			ON CONFLICT (code) DO NOTHING`, r.Code, r.Severity, r.Content)
		if err != nil {
			return fmt.Errorf("seed rule %s: %w", r.Code, err)
		}
	}
	return nil
}
