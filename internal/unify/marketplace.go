package unify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/Benny93/contentgraph/internal/content"
)

// AliasSuffix marks the marketplacev2 twin of a key.
const AliasSuffix = "_x2"

// ResolveAliases applies the marketplace transform to v. For marketplacev2
// every key with an _x2 twin takes the twin's value; for every other
// marketplace the twins are dropped. Mappings and sequences are walked
// recursively. Strings are never parsed, even when they hold YAML.
func ResolveAliases(v any, mp content.Marketplace) any {
	switch t := v.(type) {
	case yaml.MapSlice:
		twins := make(map[string]any)
		for _, it := range t {
			if k, ok := it.Key.(string); ok && strings.HasSuffix(k, AliasSuffix) {
				twins[strings.TrimSuffix(k, AliasSuffix)] = it.Value
			}
		}
		out := make(yaml.MapSlice, 0, len(t))
		for _, it := range t {
			k, _ := it.Key.(string)
			if strings.HasSuffix(k, AliasSuffix) {
				base := strings.TrimSuffix(k, AliasSuffix)
				if _, hasBase := lookup(t, base); !hasBase && mp == content.MarketplaceV2 {
					out = append(out, yaml.MapItem{Key: base, Value: ResolveAliases(it.Value, mp)})
				}
				continue
			}
			value := it.Value
			if twin, ok := twins[k]; ok && mp == content.MarketplaceV2 {
				value = twin
			}
			out = append(out, yaml.MapItem{Key: it.Key, Value: ResolveAliases(value, mp)})
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = ResolveAliases(e, mp)
		}
		return out
	}
	return v
}

var incidentWord = regexp.MustCompile(`\b(?:INCIDENTS?|[Ii]ncidents?)\b`)

// IncidentToAlert renames incident wording to alert wording, keeping the
// case of the original word.
func IncidentToAlert(s string) string {
	return incidentWord.ReplaceAllStringFunc(s, func(w string) string {
		switch {
		case strings.HasPrefix(w, "INCIDENT"):
			return "ALERT" + strings.TrimPrefix(w, "INCIDENT")
		case strings.HasPrefix(w, "I"):
			return "Alert" + strings.TrimPrefix(w, "Incident")
		default:
			return "alert" + strings.TrimPrefix(w, "incident")
		}
	})
}

// displayKeys are the keys whose values are shown to users.
var displayKeys = []string{"name", "display", "description"}

// renameDisplay rewrites the display fields of v, at every depth. Tabs and
// sections carry their titles under "name".
func renameDisplay(v any) any {
	switch t := v.(type) {
	case yaml.MapSlice:
		for i, it := range t {
			k, _ := it.Key.(string)
			if s, ok := it.Value.(string); ok && slices.Contains(displayKeys, k) {
				t[i].Value = IncidentToAlert(s)
				continue
			}
			t[i].Value = renameDisplay(it.Value)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = renameDisplay(e)
		}
		return t
	}
	return v
}

// renamesDisplay lists the types whose display fields are renamed for
// marketplacev2.
var renamesDisplay = []content.Type{
	content.TypeWidget, content.TypeDashboard, content.TypeLayout, content.TypeLayoutContainer,
}

// PrepareContent applies the marketplace transform to a JSON content item
// and returns the JSON to ship. Key order is preserved.
func PrepareContent(data []byte, t content.Type, mp content.Marketplace) ([]byte, error) {
	doc, err := decodeOrdered(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", t, err)
	}
	doc, _ = ResolveAliases(doc, mp).(yaml.MapSlice)
	if mp == content.MarketplaceV2 && slices.Contains(renamesDisplay, t) {
		renameDisplay(doc)
	}

	var buf bytes.Buffer
	if err := writeJSON(&buf, doc); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "    "); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", t, err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// writeJSON encodes v with mapping keys in document order.
func writeJSON(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case yaml.MapSlice:
		buf.WriteByte('{')
		for i, it := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(fmt.Sprint(it.Key))
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeJSON(buf, it.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		enc, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encoding %T: %w", t, err)
		}
		buf.Write(enc)
	}
	return nil
}
