package validate

import (
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/contentgraph/internal/content"
)

const sampleConfig = `
[use_git]
select = ["BA", "GR"]
warning = ["GR107"]

[path_based_validations]
select = ["BA101"]

[ignorable_errors]
codes = ["BA101", "DS108"]

[support_level.community]
ignore = ["BA1", "PB"]
`

func TestConfig(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig(sampleConfig)
	require.NoError(t, err)

	t.Run("Sections", func(t *testing.T) {
		assert.True(t, cfg.Selected(ModeUseGit, "GR102"))
		assert.False(t, cfg.Selected(ModeUseGit, "RN103"))
		assert.True(t, cfg.Selected(ModeAllFiles, "BA101"))
		assert.False(t, cfg.Selected(ModeSpecificFiles, "BA102"))
		assert.True(t, cfg.IsWarning(ModeUseGit, "GR107"))
		assert.False(t, cfg.IsWarning(ModeAllFiles, "GR107"))
	})

	t.Run("Ignorable", func(t *testing.T) {
		assert.True(t, cfg.Ignorable("DS108"))
		assert.False(t, cfg.Ignorable("GR102"))
		assert.True(t, (&Config{}).Ignorable("GR102"))
	})

	t.Run("SupportLevel", func(t *testing.T) {
		assert.True(t, cfg.IgnoredForSupport(content.SupportCommunity, "BA113"))
		assert.True(t, cfg.IgnoredForSupport(content.SupportCommunity, "PB121"))
		assert.False(t, cfg.IgnoredForSupport(content.SupportXSOAR, "BA113"))
		assert.False(t, cfg.IgnoredForSupport("", "BA113"))
	})

	t.Run("NilConfig", func(t *testing.T) {
		var c *Config
		assert.True(t, c.Selected(ModeAllFiles, "BA101"))
		assert.False(t, c.IsWarning(ModeAllFiles, "BA101"))
	})
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	t.Run("Missing", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(dir, "nope.toml"), false)
		require.NoError(t, err)
		assert.True(t, cfg.Selected(ModeAllFiles, "GR102"))

		_, err = LoadConfig(filepath.Join(dir, "nope.toml"), true)
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("UnknownKey", func(t *testing.T) {
		p := writeFile(t, dir, "bad.toml", "[use_git]\nselekt = [\"BA\"]\n")
		_, err := LoadConfig(p, true)
		assert.ErrorIs(t, err, ErrConfig)
		assert.Contains(t, err.Error(), "selekt")
	})

	t.Run("Valid", func(t *testing.T) {
		p := writeFile(t, dir, DefaultConfigFile, sampleConfig)
		cfg, err := LoadConfig(p, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"BA101"}, cfg.PathBased.Select)
	})

	t.Run("Malformed", func(t *testing.T) {
		p := writeFile(t, dir, "broken.toml", "[use_git\n")
		_, err := LoadConfig(p, false)
		assert.ErrorIs(t, err, ErrConfig)
	})
}

func TestPackIgnore(t *testing.T) {
	t.Parallel()

	pi, err := ParsePackIgnore([]byte(`[file:MyIntg.yml]
ignore=BA101,DS108

[file:README.md]
ignore = RM104

[known_words]
demisto
`))
	require.NoError(t, err)

	assert.True(t, pi.Ignored("Packs/Demo/Integrations/MyIntg/MyIntg.yml", "DS108"))
	assert.False(t, pi.Ignored("Packs/Demo/Integrations/MyIntg/MyIntg.yml", "GR102"))
	assert.True(t, pi.Ignored("Packs/Demo/README.md", "RM104"))
	assert.Equal(t, []string{"BA101", "DS108"}, pi.Codes("MyIntg.yml"))

	var none *PackIgnore
	assert.False(t, none.Ignored("x.yml", "BA101"))

	t.Run("PerPack", func(t *testing.T) {
		repo := fstest.MapFS{
			"Packs/Demo/.pack-ignore": {Data: []byte("[file:X.yml]\nignore=BA101\n")},
		}
		ignores := newPackIgnores(repo)

		got, err := ignores.forPath("Packs/Demo/Scripts/X/X.yml")
		require.NoError(t, err)
		assert.True(t, got.Ignored("Packs/Demo/Scripts/X/X.yml", "BA101"))

		got, err = ignores.forPath("Packs/Other/Scripts/X/X.yml")
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = ignores.forPath("Tests/conf.json")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}
