package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

// ErrNotAMapping is returned when a document's top level is not a mapping.
var ErrNotAMapping = errors.New("document is not a mapping")

// LoadBody decodes a YAML or JSON document, selected by file extension, into
// a generic mapping.
func LoadBody(filePath string, data []byte) (map[string]any, error) {
	var body any
	switch strings.ToLower(path.Ext(filePath)) {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("decoding yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("decoding json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported extension %q", path.Ext(filePath))
	}
	m, ok := AsMap(body)
	if !ok {
		return nil, ErrNotAMapping
	}
	return m, nil
}

// AsMap normalizes decoded mappings to map[string]any.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

// Lookup walks nested mappings following keys.
func Lookup(body map[string]any, keys ...string) (any, bool) {
	var cur any = body
	for _, k := range keys {
		m, ok := AsMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the string at keys, converting scalars. Missing values
// yield "".
func String(body map[string]any, keys ...string) string {
	v, ok := Lookup(body, keys...)
	if !ok || v == nil {
		return ""
	}
	return scalarString(v)
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool, int, int64, uint64:
		return fmt.Sprint(s)
	}
	return ""
}

// Map returns the mapping at keys.
func Map(body map[string]any, keys ...string) map[string]any {
	v, ok := Lookup(body, keys...)
	if !ok {
		return nil
	}
	m, _ := AsMap(v)
	return m
}

// Slice returns the sequence at keys.
func Slice(body map[string]any, keys ...string) []any {
	v, ok := Lookup(body, keys...)
	if !ok {
		return nil
	}
	s, _ := v.([]any)
	return s
}

// Bool returns the boolean at keys, accepting "true"/"false" strings.
func Bool(body map[string]any, keys ...string) bool {
	v, ok := Lookup(body, keys...)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		return err == nil && parsed
	}
	return false
}

// Int returns the integer at keys and whether a numeric value was found.
func Int(body map[string]any, keys ...string) (int, bool) {
	v, ok := Lookup(body, keys...)
	if !ok {
		return 0, false
	}
	return toInt(v)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	}
	return 0, false
}

// IsNumber reports whether v decoded as a number.
func IsNumber(v any) bool {
	switch v.(type) {
	case int, int64, uint64, float64:
		return true
	}
	return false
}

// Strings returns the value at keys as a string list. A single string is
// treated as a one-element list.
func Strings(body map[string]any, keys ...string) []string {
	v, ok := Lookup(body, keys...)
	if !ok {
		return nil
	}
	return AsStrings(v)
}

// AsStrings converts a scalar or sequence into a string list, skipping
// empty entries.
func AsStrings(v any) []string {
	switch s := v.(type) {
	case string:
		if s == "" {
			return nil
		}
		return []string{s}
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str := scalarString(e); str != "" {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return s
	}
	return nil
}

// FirstString returns the first non-empty string found among the given
// top-level keys.
func FirstString(body map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := String(body, k); s != "" {
			return s
		}
	}
	return ""
}
