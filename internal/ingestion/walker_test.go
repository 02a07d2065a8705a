package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryPaths(entries []FileEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.RelPath)
	}
	return out
}

func TestWalkFS(t *testing.T) {
	t.Parallel()

	entries, err := WalkFS(demoRepo(), nil)
	require.NoError(t, err)
	paths := entryPaths(entries)

	t.Run("ContentFilesOnly", func(t *testing.T) {
		assert.Contains(t, paths, "Packs/Demo/pack_metadata.json")
		assert.Contains(t, paths, "Packs/Demo/Integrations/MyIntg/MyIntg.yml")
		assert.Contains(t, paths, "Packs/Demo/ReleaseNotes/1_0_0.md")
		assert.Contains(t, paths, "Tests/conf.json")

		assert.NotContains(t, paths, "Packs/Demo/Integrations/MyIntg/MyIntg.py")
		assert.NotContains(t, paths, "Packs/Demo/Integrations/MyIntg/MyIntg_image.png")
		assert.NotContains(t, paths, "Packs/Demo/Integrations/MyIntg/test_data/x.json")
		assert.NotContains(t, paths, "Packs/Demo/README.md")
	})

	t.Run("OneEntryPerTool", func(t *testing.T) {
		var tools []FileEntry
		for _, e := range entries {
			if e.Format == formatTool {
				tools = append(tools, e)
			}
		}
		require.Len(t, tools, 1)
		assert.Equal(t, "Packs/Demo/Tools/agent", tools[0].RelPath)
		assert.True(t, tools[0].IsDir)
	})

	t.Run("Sorted", func(t *testing.T) {
		assert.IsIncreasing(t, paths)
	})

	t.Run("ComputeSHA256", func(t *testing.T) {
		for _, e := range entries {
			if e.IsDir {
				continue
			}
			sum := sha256.Sum256(e.Content)
			assert.Equal(t, hex.EncodeToString(sum[:]), e.SHA256, e.RelPath)
		}
	})

	t.Run("RespectPatterns", func(t *testing.T) {
		entries, err := WalkFS(demoRepo(), []gitignore.Pattern{gitignore.ParsePattern("Packs/Other/", nil)})
		require.NoError(t, err)
		assert.NotContains(t, entryPaths(entries), "Packs/Other/Integrations/OtherIntg/OtherIntg.yml")
	})
}

func TestWalkRepo(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	files := map[string]string{
		"Packs/Demo/pack_metadata.json":           `{"name": "Demo"}`,
		"Packs/Demo/Scripts/S/S.yml":              "commonfields:\n  id: S\n",
		"Packs/Demo/Scripts/S/S.py":               "print(1)",
		"Packs/Ignored/pack_metadata.json":        `{"name": "Ignored"}`,
		".gitignore":                              "Packs/Ignored/\n",
		"node_modules/Packs/X/pack_metadata.json": "{}",
	}
	for p, data := range files {
		full := filepath.Join(tmpDir, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(data), 0o644))
	}

	patterns, err := loadGitignore(tmpDir)
	require.NoError(t, err)
	entries, err := WalkRepo(tmpDir, patterns)
	require.NoError(t, err)

	assert.Equal(t, []string{"Packs/Demo/Scripts/S/S.yml", "Packs/Demo/pack_metadata.json"}, entryPaths(entries))
	assert.Equal(t, filepath.Join(tmpDir, "Packs", "Demo", "Scripts", "S", "S.yml"), entries[0].Path)
}

func TestLoadGitignore(t *testing.T) {
	t.Parallel()

	t.Run("NoGitignore", func(t *testing.T) {
		t.Parallel()
		patterns, err := loadGitignore(t.TempDir())
		assert.NoError(t, err)
		assert.Empty(t, patterns)
	})

	t.Run("WithGitignore", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		err := os.WriteFile(filepath.Join(tmpDir, ".gitignore"), []byte("# comment\n*.pyc\n\n__pycache__/\n"), 0o644)
		require.NoError(t, err)

		patterns, err := loadGitignore(tmpDir)
		assert.NoError(t, err)
		assert.Len(t, patterns, 2)
	})
}

func TestIsContentCandidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{"TestConf", "Tests/conf.json", true},
		{"PackMetadata", "Packs/P/pack_metadata.json", true},
		{"PackReadme", "Packs/P/README.md", false},
		{"IntegrationYAML", "Packs/P/Integrations/I/I.yml", true},
		{"UnifiedIntegration", "Packs/P/Integrations/integration-I.yml", true},
		{"IntegrationCode", "Packs/P/Integrations/I/I.py", false},
		{"IntegrationJSON", "Packs/P/Integrations/I/I.json", false},
		{"ModelingSchema", "Packs/P/ModelingRules/M/M_schema.json", false},
		{"ReleaseNote", "Packs/P/ReleaseNotes/1_0_1.md", true},
		{"ReleaseNoteConfig", "Packs/P/ReleaseNotes/1_0_1.json", false},
		{"Layout", "Packs/P/Layouts/layoutscontainer-X.json", true},
		{"Tool", "Packs/P/Tools/agent.zip", true},
		{"UnknownDir", "Packs/P/Misc/x.json", false},
		{"OutsidePacks", "Utils/x.yml", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, isContentCandidate(tt.path))
		})
	}
}

func TestContentPathsFor(t *testing.T) {
	t.Parallel()

	repo := demoRepo()

	t.Run("Sidecar", func(t *testing.T) {
		assert.Equal(t, []string{"Packs/Demo/Integrations/MyIntg/MyIntg.yml"},
			ContentPathsFor(repo, "Packs/Demo/Integrations/MyIntg/MyIntg_image.png"))
	})

	t.Run("ToolFile", func(t *testing.T) {
		assert.Equal(t, []string{"Packs/Demo/Tools/agent"}, ContentPathsFor(repo, "Packs/Demo/Tools/agent/lib.sh"))
	})

	t.Run("ContentFile", func(t *testing.T) {
		assert.Equal(t, []string{"Packs/Demo/Playbooks/PB.yml"}, ContentPathsFor(repo, "Packs/Demo/Playbooks/PB.yml"))
	})

	t.Run("Unrelated", func(t *testing.T) {
		assert.Empty(t, ContentPathsFor(repo, "Packs/Demo/README.md"))
	})
}
