package validate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, rel, data string) string {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(data), 0o644))
	return full
}

func TestPatch_String(t *testing.T) {
	t.Parallel()

	p := Patch{Path: []any{"script", "commands", 0, "arguments", 2, "description"}}
	assert.Equal(t, "$.script.commands[0].arguments[2].description", p.String())
}

func TestApplyPatches(t *testing.T) {
	t.Parallel()

	t.Run("YAML", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		full := writeFile(t, dir, "Packs/Demo/Integrations/X/X.yml", `# header comment
commonfields:
  id: X
name: 'X '
script:
  commands:
  - name: c
    arguments:
    - name: a
      description: An arg
`)
		err := ApplyPatches(dir, "Packs/Demo/Integrations/X/X.yml", []Patch{
			{Path: []any{"name"}, Value: "X"},
			{Path: []any{"script", "commands", 0, "arguments", 0, "description"}, Value: "An arg."},
			{Path: []any{"description"}, Value: "Added."},
		})
		require.NoError(t, err)

		data, err := os.ReadFile(full)
		require.NoError(t, err)
		assert.Contains(t, string(data), "# header comment")

		var got map[string]any
		require.NoError(t, yaml.Unmarshal(data, &got))
		assert.Equal(t, "X", got["name"])
		assert.Equal(t, "Added.", got["description"])
		cmds := got["script"].(map[string]any)["commands"].([]any)
		arg := cmds[0].(map[string]any)["arguments"].([]any)[0].(map[string]any)
		assert.Equal(t, "An arg.", arg["description"])
	})

	t.Run("JSON", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		full := writeFile(t, dir, "Packs/Demo/Layouts/l.json", `{"name": "L ", "tabs": [{"name": "a"}]}`)
		err := ApplyPatches(dir, "Packs/Demo/Layouts/l.json", []Patch{
			{Path: []any{"name"}, Value: "L"},
			{Path: []any{"tabs", 0, "name"}, Value: "b"},
		})
		require.NoError(t, err)

		data, err := os.ReadFile(full)
		require.NoError(t, err)
		var got map[string]any
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, "L", got["name"])
		assert.Equal(t, "b", got["tabs"].([]any)[0].(map[string]any)["name"])
	})

	t.Run("Errors", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFile(t, dir, "a.md", "text\n")
		writeFile(t, dir, "b.json", `{"a": 1}`)

		assert.Error(t, ApplyPatches(dir, "a.md", []Patch{{Path: []any{"x"}, Value: 1}}))
		assert.Error(t, ApplyPatches(dir, "missing.yml", nil))
		assert.Error(t, ApplyPatches(dir, "b.json", []Patch{{Path: []any{"a", "b"}, Value: 1}}))
	})
}
