package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Record is a single variable-keyed row as returned by the remote API or read
// back from a table. Field sets differ between pages and runs, so callers go
// through the typed getters instead of indexing directly.
type Record map[string]any

// Get returns the value stored under key. A nil value counts as absent.
func (r Record) Get(key string) (any, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String returns scalar values rendered as text. Objects, arrays and empty
// strings are reported as absent.
func (r Record) String(key string) (string, bool) {
	v, ok := r.Get(key)
	if !ok {
		return "", false
	}
	switch v.(type) {
	case map[string]any, Record, []any:
		return "", false
	}
	return FormatCell(v)
}

// StringOr is String with a default for absent or malformed fields.
func (r Record) StringOr(key, def string) string {
	if s, ok := r.String(key); ok {
		return s
	}
	return def
}

// Float parses numeric fields. Numeric strings are accepted since table cells
// are read back as text.
func (r Record) Float(key string) (float64, bool) {
	v, ok := r.Get(key)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// Bool parses boolean fields, accepting "true"/"false" text.
func (r Record) Bool(key string) (bool, bool) {
	v, ok := r.Get(key)
	if !ok {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	}
	return false, false
}

// Object returns a nested object. Objects flattened to JSON text by a table
// round trip are decoded again.
func (r Record) Object(key string) (Record, bool) {
	v, ok := r.Get(key)
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case Record:
		return t, true
	case map[string]any:
		return Record(t), true
	case string:
		if !strings.HasPrefix(strings.TrimSpace(t), "{") {
			return nil, false
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(t), &obj); err != nil {
			return nil, false
		}
		return Record(obj), true
	}
	return nil, false
}

// Keys returns the record's field names in sorted order.
func (r Record) Keys() []string {
	return slices.Sorted(maps.Keys(r))
}

// FormatCell renders a value for tabular storage. The second result is false
// when the value must be written as the empty marker.
func FormatCell(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case json.Number:
		return t.String(), t != ""
	case bool:
		return strconv.FormatBool(t), true
	case time.Time:
		if t.IsZero() {
			return "", false
		}
		return t.UTC().Format(time.RFC3339), true
	case map[string]any, Record, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
	return fmt.Sprint(v), true
}
