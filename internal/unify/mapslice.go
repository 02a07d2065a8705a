package unify

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/goccy/go-yaml"
)

// lookup returns the value stored under key.
func lookup(m yaml.MapSlice, key string) (any, bool) {
	for _, it := range m {
		if k, ok := it.Key.(string); ok && k == key {
			return it.Value, true
		}
	}
	return nil, false
}

func lookupString(m yaml.MapSlice, key string) string {
	v, _ := lookup(m, key)
	s, _ := v.(string)
	return s
}

func lookupMap(m yaml.MapSlice, key string) (yaml.MapSlice, bool) {
	v, _ := lookup(m, key)
	ms, ok := v.(yaml.MapSlice)
	return ms, ok
}

// put replaces the value of key in place, or appends the key.
func put(m yaml.MapSlice, key string, value any) yaml.MapSlice {
	for i, it := range m {
		if k, ok := it.Key.(string); ok && k == key {
			m[i].Value = value
			return m
		}
	}
	return append(m, yaml.MapItem{Key: key, Value: value})
}

func remove(m yaml.MapSlice, key string) yaml.MapSlice {
	out := make(yaml.MapSlice, 0, len(m))
	for _, it := range m {
		if k, ok := it.Key.(string); ok && k == key {
			continue
		}
		out = append(out, it)
	}
	return out
}

// deepCopy copies mappings and sequences. Scalars are shared.
func deepCopy(v any) any {
	switch t := v.(type) {
	case yaml.MapSlice:
		out := make(yaml.MapSlice, len(t))
		for i, it := range t {
			out[i] = yaml.MapItem{Key: it.Key, Value: deepCopy(it.Value)}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	}
	return v
}

func decodeOrdered(data []byte) (yaml.MapSlice, error) {
	var doc yaml.MapSlice
	if err := yaml.UnmarshalWithOptions(data, &doc, yaml.UseOrderedMap()); err != nil {
		return nil, err
	}
	return doc, nil
}

// encodeYAML writes multi-line strings as literal blocks, except those a
// block cannot reproduce, which are written double-quoted.
func encodeYAML(doc yaml.MapSlice) ([]byte, error) {
	return yaml.MarshalWithOptions(quoteUnsafeBlocks(doc), yaml.UseLiteralStyleIfMultiline(true))
}

// quotedString is a scalar always written as a double-quoted string.
type quotedString string

func (q quotedString) MarshalYAML() ([]byte, error) {
	return []byte(strconv.Quote(string(q))), nil
}

// quoteUnsafeBlocks copies v, replacing multi-line strings that lose
// content in a literal block: a first line indented with spaces, carriage
// returns, runs of trailing newlines and control characters.
func quoteUnsafeBlocks(v any) any {
	switch t := v.(type) {
	case yaml.MapSlice:
		out := make(yaml.MapSlice, len(t))
		for i, it := range t {
			out[i] = yaml.MapItem{Key: it.Key, Value: quoteUnsafeBlocks(it.Value)}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = quoteUnsafeBlocks(e)
		}
		return out
	case string:
		if unsafeBlock(t) {
			return quotedString(t)
		}
	}
	return v
}

func unsafeBlock(s string) bool {
	if !strings.Contains(s, "\n") {
		return false
	}
	if strings.HasPrefix(s, " ") || strings.HasSuffix(s, "\n\n") {
		return true
	}
	return strings.ContainsFunc(s, func(r rune) bool {
		return r != '\n' && r != '\t' && unicode.IsControl(r)
	})
}
