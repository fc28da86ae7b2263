package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 10000
)

// ClampLimit turns a caller supplied limit into one the backends accept.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// CheckReadOnly rejects anything other than a single SELECT, WITH, EXPLAIN
// or VALUES statement.
func CheckReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	trimmed = strings.TrimSuffix(trimmed, ";")
	if trimmed == "" {
		return fmt.Errorf("empty query")
	}
	if strings.Contains(trimmed, ";") {
		return fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	}
	fields := strings.Fields(trimmed)
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "EXPLAIN", "VALUES":
	default:
		return fmt.Errorf("%w: %s", ErrNotReadOnly, fields[0])
	}
	upper := strings.ToUpper(trimmed)
	for _, verb := range []string{"INSERT ", "UPDATE ", "DELETE ", "DROP ", "ALTER ", "TRUNCATE ", "PRAGMA "} {
		if strings.Contains(upper, verb) {
			return fmt.Errorf("%w: contains %s", ErrNotReadOnly, strings.TrimSpace(verb))
		}
	}
	return nil
}

func EncodeAttributes(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encoding attributes: %w", err)
	}
	return payload, nil
}

func DecodeAttributes(payload []byte) (map[string]string, error) {
	attrs := map[string]string{}
	if len(payload) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(payload, &attrs); err != nil {
		return nil, fmt.Errorf("decoding attributes: %w", err)
	}
	return attrs, nil
}

// CopyRecord returns rec with its own attribute map.
func CopyRecord(rec BusinessRecord) BusinessRecord {
	out := rec
	if rec.Attributes != nil {
		out.Attributes = make(map[string]string, len(rec.Attributes))
		for k, v := range rec.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}
