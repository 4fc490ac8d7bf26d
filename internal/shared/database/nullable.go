package database

import (
	"encoding/json"
	"strings"

	"github.com/mj-trademark/portal/internal/shared/types"
)

// Helpers shared by the Postgres and SQLite repositories for optional
// columns. Both drivers accept a nil interface as NULL.

// NullString maps "" to NULL.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// NullID maps the zero ID to NULL.
func NullID(id types.ID) any {
	if id.IsZero() {
		return nil
	}
	return string(id)
}

// NullJSON maps an empty or JSON-null document to NULL.
func NullJSON(raw json.RawMessage) any {
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return nil
	}
	return string(raw)
}

// StringValue dereferences an optional scanned string.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// EscapeLike escapes LIKE wildcards so user input matches literally with
// `ESCAPE '\'`.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
