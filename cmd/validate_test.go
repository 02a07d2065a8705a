package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/contentgraph/internal/ingestion"
	"github.com/Benny93/contentgraph/internal/validate"
)

func TestValidateCmd_Run(t *testing.T) {
	t.Parallel()

	t.Run("VersionSkew", func(t *testing.T) {
		g, out := newGlobals(t, writeRepo(t))
		cmd := &ValidateCmd{All: true, RunSpecificValidations: []string{"GR102"}}

		err := cmd.Run(g)
		assert.Equal(t, 1, exitCode(t, err))
		assert.Contains(t, out.String(), "Packs/Demo/Integrations/MyIntg/MyIntg.yml: [GR102]")
		assert.Contains(t, out.String(), "'HelperScr'")
	})

	t.Run("SpecificFiles", func(t *testing.T) {
		g, out := newGlobals(t, writeRepo(t))
		cmd := &ValidateCmd{
			Input:                  []string{"Packs/Demo/Scripts/Greeter"},
			RunSpecificValidations: []string{"GR102"},
		}

		require.NoError(t, cmd.Run(g))
		assert.NotContains(t, out.String(), "[GR102]")
	})

	t.Run("SkipValidations", func(t *testing.T) {
		g, _ := newGlobals(t, writeRepo(t))
		cmd := &ValidateCmd{
			RunSpecificValidations: []string{"GR102"},
			SkipValidations:        []string{"GR"},
		}
		assert.NoError(t, cmd.Run(g))
	})

	t.Run("JSONFile", func(t *testing.T) {
		g, _ := newGlobals(t, writeRepo(t))
		jsonFile := filepath.Join(t.TempDir(), "results.json")
		cmd := &ValidateCmd{RunSpecificValidations: []string{"GR102"}, JSONFile: jsonFile}

		assert.Equal(t, 1, exitCode(t, cmd.Run(g)))

		data, err := os.ReadFile(jsonFile)
		require.NoError(t, err)
		var results []map[string]any
		require.NoError(t, json.Unmarshal(data, &results))
		require.Len(t, results, 1)
		assert.Equal(t, "GR102", results[0]["error code"])
		assert.Equal(t, "Packs/Demo/Integrations/MyIntg/MyIntg.yml", results[0]["file path"])
	})

	t.Run("ConfigWarning", func(t *testing.T) {
		root := writeRepo(t)
		writeFile(t, root, validate.DefaultConfigFile, "[path_based_validations]\nwarning = [\"GR102\"]\n")
		g, out := newGlobals(t, root)
		cmd := &ValidateCmd{All: true, RunSpecificValidations: []string{"GR102"}}

		require.NoError(t, cmd.Run(g))
		assert.Contains(t, out.String(), "[GR102]")
	})

	t.Run("MissingConfigFile", func(t *testing.T) {
		g, _ := newGlobals(t, writeRepo(t))
		cmd := &ValidateCmd{ConfigFile: filepath.Join(t.TempDir(), "missing.toml")}

		assert.Equal(t, 2, exitCode(t, cmd.Run(g)))
	})

	t.Run("UseGitWithoutRepository", func(t *testing.T) {
		g, _ := newGlobals(t, writeRepo(t))
		cmd := &ValidateCmd{UseGit: true}

		err := cmd.Run(g)
		assert.Equal(t, 2, exitCode(t, err))
		assert.ErrorIs(t, err, ingestion.ErrNotARepository)
	})

	t.Run("ConflictingModes", func(t *testing.T) {
		g, _ := newGlobals(t, writeRepo(t))

		err := (&ValidateCmd{UseGit: true, Input: []string{"Packs/Demo"}}).Run(g)
		assert.Equal(t, 2, exitCode(t, err))

		err = (&ValidateCmd{All: true, Input: []string{"Packs/Demo"}}).Run(g)
		assert.Equal(t, 2, exitCode(t, err))
	})

	t.Run("Metrics", func(t *testing.T) {
		g, _ := newGlobals(t, writeRepo(t))
		g.MetricsFile = filepath.Join(t.TempDir(), "metrics.prom")
		cmd := &ValidateCmd{RunSpecificValidations: []string{"GR102"}}

		assert.Equal(t, 1, exitCode(t, cmd.Run(g)))
		require.NoError(t, g.finish())

		data, err := os.ReadFile(g.MetricsFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "contentgraph_validate_items")
		assert.Contains(t, string(data), `contentgraph_command_duration_seconds{command="validate"}`)
	})
}
