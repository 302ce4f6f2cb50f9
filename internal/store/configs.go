package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ConfigStore is the runtime key/value config backed by the config table.
// Values are JSONB. Reads go through a small cache invalidated on write.
type ConfigStore struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[string]json.RawMessage
}

// credentialPrefix marks keys that hold secrets. List never returns their
// values in cleartext.
const credentialPrefix = "credential."

// Get returns the raw JSON value for key, or ErrNotFound.
func (s *ConfigStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	s.mu.RLock()
	if v, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = $1`, key).Scan(&raw)
	if err != nil {
		return nil, notFound(err)
	}
	s.mu.Lock()
	if s.cache == nil {
		s.cache = make(map[string]json.RawMessage)
	}
	s.cache[key] = raw
	s.mu.Unlock()
	return raw, nil
}

// GetString returns the string value for key, or def when absent or not a string.
func (s *ConfigStore) GetString(ctx context.Context, key, def string) string {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}

// GetInt returns the integer value for key, or def.
func (s *ConfigStore) GetInt(ctx context.Context, key string, def int) int {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return int(v)
}

// GetFloat returns the float value for key, or def.
func (s *ConfigStore) GetFloat(ctx context.Context, key string, def float64) float64 {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}

// GetBool returns the boolean value for key, or def.
func (s *ConfigStore) GetBool(ctx context.Context, key string, def bool) bool {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}

// GetJSON unmarshals the value for key into out.
func (s *ConfigStore) GetJSON(ctx context.Context, key string, out any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Set upserts a value. Non-JSON strings are stored as JSON strings so that
// "0.8" and "true" keep their intended types when they parse as JSON.
func (s *ConfigStore) Set(ctx context.Context, key string, value any) error {
	var raw []byte
	switch v := value.(type) {
	case json.RawMessage:
		raw = v
	case string:
		if json.Valid([]byte(v)) {
			raw = []byte(v)
		} else {
			var err error
			raw, err = json.Marshal(v)
			if err != nil {
				return err
			}
		}
	default:
		var err error
		raw, err = json.Marshal(v)
		if err != nil {
			return err
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, raw)
	if err != nil {
		return fmt.Errorf("config set %s: %w", key, err)
	}
	s.invalidate(key)
	return nil
}

// Delete removes a key.
func (s *ConfigStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM config WHERE key = $1`, key)
	if err != nil {
		return err
	}
	s.invalidate(key)
	return nil
}

// List returns all entries sorted by key. Credential values are replaced
// with a redaction marker; only their presence is exposed.
func (s *ConfigStore) List(ctx context.Context) ([]ConfigEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, COALESCE(description, '') FROM config`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConfigEntry
	for rows.Next() {
		var e ConfigEntry
		var raw []byte
		if err := rows.Scan(&e.Key, &raw, &e.Description); err != nil {
			return nil, err
		}
		if strings.HasPrefix(e.Key, credentialPrefix) {
			e.Value = json.RawMessage(`"(set, hidden)"`)
		} else {
			e.Value = raw
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, rows.Err()
}

// SeedDefaults inserts missing keys without touching existing values.
func (s *ConfigStore) SeedDefaults(ctx context.Context, defaults map[string]any) error {
	for key, value := range defaults {
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO config (key, value, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (key) DO NOTHING`, key, raw)
		if err != nil {
			return fmt.Errorf("config seed %s: %w", key, err)
		}
	}
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
	return nil
}

func (s *ConfigStore) invalidate(key string) {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
}
