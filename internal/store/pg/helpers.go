package pg

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// nilStr converts an empty string to a nil parameter so optional text
// columns store SQL NULL instead of "", matching the teacher's convention.
func nilStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nilUUID(id uuid.UUID) interface{} {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func derefUUIDPtr(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

func nilTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// jsonOrEmpty marshals v for a jsonb column, falling back to "{}" for a nil
// map so the column is never stored as SQL NULL.
func jsonOrEmpty(v interface{}) []byte {
	if v == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return []byte("{}")
	}
	return b
}

func jsonArrayOrEmpty(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return []byte("[]")
	}
	return b
}
