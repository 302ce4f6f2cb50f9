package store

import (
	"database/sql"
	"encoding/json"
)

// jsonOrNil marshals a map for a JSONB column, writing NULL for empty maps.
func jsonOrNil(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}

// scanMap decodes a nullable JSONB column into a map.
func scanMap(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil
	}
	return m
}
