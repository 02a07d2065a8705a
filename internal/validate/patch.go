package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/parser"
)

// Patch sets the value at a location of a content file. Path elements are
// mapping keys (string) or sequence indexes (int).
type Patch struct {
	Path  []any
	Value any
}

func (p Patch) String() string {
	var b strings.Builder
	b.WriteString("$")
	for _, e := range p.Path {
		switch v := e.(type) {
		case int:
			fmt.Fprintf(&b, "[%d]", v)
		default:
			fmt.Fprintf(&b, ".%v", v)
		}
	}
	return b.String()
}

// ApplyPatches rewrites the file at relPath under root. YAML files keep
// their key order and comments.
func ApplyPatches(root, relPath string, patches []Patch) error {
	full := filepath.Join(root, filepath.FromSlash(relPath))
	data, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("reading %s: %w", relPath, err)
	}
	var out []byte
	switch strings.ToLower(path.Ext(relPath)) {
	case ".yml", ".yaml":
		out, err = patchYAML(data, patches)
	case ".json":
		out, err = patchJSON(data, patches)
	default:
		return fmt.Errorf("%s: cannot patch %q files", relPath, path.Ext(relPath))
	}
	if err != nil {
		return fmt.Errorf("patching %s: %w", relPath, err)
	}
	info, err := os.Stat(full)
	if err != nil {
		return err
	}
	return os.WriteFile(full, out, info.Mode().Perm())
}

func yamlPath(elems []any) (*yaml.Path, error) {
	b := (&yaml.PathBuilder{}).Root()
	for _, e := range elems {
		switch v := e.(type) {
		case string:
			b = b.Child(v)
		case int:
			if v < 0 {
				return nil, fmt.Errorf("negative index %d", v)
			}
			b = b.Index(uint(v))
		default:
			return nil, fmt.Errorf("unsupported path element %T", e)
		}
	}
	return b.Build(), nil
}

func patchYAML(data []byte, patches []Patch) ([]byte, error) {
	file, err := parser.ParseBytes(data, parser.ParseComments)
	if err != nil {
		return nil, err
	}
	for _, p := range patches {
		if len(p.Path) == 0 {
			return nil, fmt.Errorf("empty patch path")
		}
		target, err := yamlPath(p.Path)
		if err != nil {
			return nil, err
		}
		if _, err := target.FilterFile(file); err == nil {
			value, err := yaml.Marshal(p.Value)
			if err != nil {
				return nil, err
			}
			if err := target.ReplaceWithReader(file, bytes.NewReader(value)); err != nil {
				return nil, fmt.Errorf("%s: %w", p, err)
			}
			continue
		}

		// Missing keys are added to their parent mapping.
		key, ok := p.Path[len(p.Path)-1].(string)
		if !ok {
			return nil, fmt.Errorf("%s: index out of range", p)
		}
		parent, err := yamlPath(p.Path[:len(p.Path)-1])
		if err != nil {
			return nil, err
		}
		frag, err := yaml.Marshal(yaml.MapSlice{{Key: key, Value: p.Value}})
		if err != nil {
			return nil, err
		}
		if err := parent.MergeFromReader(file, bytes.NewReader(frag)); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	out := file.String()
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return []byte(out), nil
}

func patchJSON(data []byte, patches []Patch) ([]byte, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	for _, p := range patches {
		if len(p.Path) == 0 {
			return nil, fmt.Errorf("empty patch path")
		}
		if err := setJSON(doc, p.Path, p.Value); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	out, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func setJSON(cur any, elems []any, value any) error {
	for i, e := range elems {
		last := i == len(elems)-1
		switch node := cur.(type) {
		case map[string]any:
			key, ok := e.(string)
			if !ok {
				return fmt.Errorf("index %v on a mapping", e)
			}
			if last {
				node[key] = value
				return nil
			}
			next, ok := node[key]
			if !ok {
				return fmt.Errorf("missing key %q", key)
			}
			cur = next
		case []any:
			idx, ok := e.(int)
			if !ok || idx < 0 || idx >= len(node) {
				return fmt.Errorf("bad index %v", e)
			}
			if last {
				node[idx] = value
				return nil
			}
			cur = node[idx]
		default:
			return fmt.Errorf("cannot descend into %T", cur)
		}
	}
	return nil
}
