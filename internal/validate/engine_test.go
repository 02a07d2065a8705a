package validate

import (
	"bytes"
	"encoding/json"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/graph"
	"github.com/Benny93/contentgraph/internal/ingestion"
)

const demoPack = `{
  "name": "Demo",
  "description": "Demo pack.",
  "support": "xsoar",
  "currentVersion": "1.0.0",
  "author": "Cortex XSOAR",
  "marketplaces": ["xsoar", "marketplacev2"]
}`

func buildGraph(t *testing.T, repo fstest.MapFS) (*graph.ContentGraph, []*ingestion.FileFailure) {
	t.Helper()
	entries, err := ingestion.WalkFS(repo, nil)
	require.NoError(t, err)
	b := ingestion.NewBuilder(repo, nil)
	require.NoError(t, b.Build(t.Context(), entries))
	return b.Graph(), b.Failures()
}

func runEngine(t *testing.T, repo fstest.MapFS, opts Options) *Report {
	t.Helper()
	g, failures := buildGraph(t, repo)
	if opts.Repo == nil {
		opts.Repo = repo
	}
	e, err := NewEngine(opts)
	require.NoError(t, err)
	report, err := e.Run(t.Context(), g, failures)
	require.NoError(t, err)
	return report
}

func withCode(results []Result, code string) []Result {
	var out []Result
	for _, r := range results {
		if r.Code == code {
			out = append(out, r)
		}
	}
	return out
}

func versionSkewRepo() fstest.MapFS {
	return fstest.MapFS{
		"Packs/Demo/pack_metadata.json":              {Data: []byte(demoPack)},
		"Packs/Demo/Integrations/MyIntg/MyIntg.yml": {Data: []byte(`commonfields:
  id: MyIntg
name: MyIntg
display: My Integration
description: Demo integration.
category: Utilities
toversion: 6.10.0
tests:
- No tests
script:
  type: python
  subtype: python3
  script: |
    def main():
        demisto.executeCommand("HelperScr", {})
`)},
		"Packs/Demo/Scripts/HelperScr/HelperScr.yml": {Data: []byte(`commonfields:
  id: HelperScr
name: HelperScr
comment: Helps.
type: python
toversion: 6.5.0
script: print(1)
`)},
	}
}

func TestEngine_VersionSkew(t *testing.T) {
	t.Parallel()

	report := runEngine(t, versionSkewRepo(), Options{Mode: ModeAllFiles})

	skews := withCode(report.Failures, "GR102")
	require.Len(t, skews, 1)
	msg := skews[0].Message
	assert.Contains(t, msg, "'MyIntg'")
	assert.Contains(t, msg, "'HelperScr'")
	assert.Contains(t, msg, "6.10.0")
	assert.Equal(t, "Packs/Demo/Integrations/MyIntg/MyIntg.yml", skews[0].Path)
	assert.Equal(t, 1, report.ExitCode())
}

func TestEngine_XSIAMLayout(t *testing.T) {
	t.Parallel()

	repo := fstest.MapFS{
		"Packs/Demo/pack_metadata.json":                 {Data: []byte(demoPack)},
		"Packs/Demo/Layouts/layoutscontainer-Case.json": {Data: []byte(`{
  "id": "Case",
  "name": "Case",
  "group": "incident",
  "marketplaces": ["marketplacev2"],
  "detailsV2": {
    "tabs": [{"id": "main", "name": "Main", "type": "custom",
              "sections": [{"name": "Evidence", "type": "evidence"}]}]
  }
}`)},
	}
	report := runEngine(t, repo, Options{Mode: ModeAllFiles, RunSpecific: []string{"LO"}})

	got := withCode(report.Failures, "LO107")
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Message, "evidence")

	t.Run("XSOAROnly", func(t *testing.T) {
		repo := fstest.MapFS{
			"Packs/Demo/pack_metadata.json":                 {Data: []byte(demoPack)},
			"Packs/Demo/Layouts/layoutscontainer-Case.json": {Data: []byte(`{
  "id": "Case", "name": "Case", "group": "incident", "marketplaces": ["xsoar"],
  "detailsV2": {"tabs": [{"id": "main", "name": "Main", "sections": [{"type": "evidence"}]}]}
}`)},
		}
		report := runEngine(t, repo, Options{Mode: ModeAllFiles, RunSpecific: []string{"LO107"}})
		assert.Empty(t, report.Failures)
	})
}

func TestEngine_ConfJSONPhantom(t *testing.T) {
	t.Parallel()

	repo := fstest.MapFS{
		"Tests/conf.json": {Data: []byte(`{
  "tests": [{"playbookID": "GhostTPB"}],
  "skipped_tests": {},
  "skipped_integrations": {}
}`)},
	}
	report := runEngine(t, repo, Options{Mode: ModeAllFiles})

	got := withCode(report.Failures, "GR109")
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Message, "'GhostTPB'")
	assert.Equal(t, "Tests/conf.json", got[0].Path)
}

func TestEngine_ReleaseNoteTemplates(t *testing.T) {
	t.Parallel()

	note := func(text string) fstest.MapFS {
		return fstest.MapFS{
			"Packs/Demo/pack_metadata.json":    {Data: []byte(demoPack)},
			"Packs/Demo/ReleaseNotes/1_0_1.md": {Data: []byte(text)},
		}
	}

	t.Run("Banned", func(t *testing.T) {
		t.Parallel()
		report := runEngine(t, note("- Stability and maintenance enhancements.\n"), Options{Mode: ModeAllFiles})
		got := withCode(report.Failures, "RN103")
		require.Len(t, got, 1)
		assert.Equal(t, 1, got[0].Line)
		assert.Equal(t, "Packs/Demo/ReleaseNotes/1_0_1.md", got[0].Path)
	})

	t.Run("Specific", func(t *testing.T) {
		t.Parallel()
		report := runEngine(t, note("- Fixed an issue where X was Y.\n"), Options{Mode: ModeAllFiles, RunSpecific: []string{"RN"}})
		assert.Empty(t, report.Failures)
		assert.Equal(t, 0, report.ExitCode())
	})

	t.Run("Placeholder", func(t *testing.T) {
		t.Parallel()
		report := runEngine(t, note("#### Integrations\n##### Ghost\n- %%UPDATE_RN%%\n"), Options{Mode: ModeAllFiles, RunSpecific: []string{"RN"}})
		assert.Len(t, withCode(report.Failures, "RN103"), 1)
		assert.Len(t, withCode(report.Failures, "RN114"), 1, "unknown item header")
	})
}

func TestEngine_Selection(t *testing.T) {
	t.Parallel()

	codes := func(e *Engine) []string {
		var out []string
		for _, v := range e.Validators() {
			out = append(out, v.Code)
		}
		return out
	}

	t.Run("DeclaredOrder", func(t *testing.T) {
		e, err := NewEngine(Options{})
		require.NoError(t, err)
		got := codes(e)
		assert.Equal(t, "BA101", got[0])
		assert.NotContains(t, got, "BC105", "use-git only")
	})

	t.Run("RunSpecificAndSkip", func(t *testing.T) {
		e, err := NewEngine(Options{RunSpecific: []string{"GR10"}, Skip: []string{"GR102", "GR108"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"GR101", "GR103", "GR104", "GR105", "GR106", "GR107", "GR109"}, codes(e))
	})

	t.Run("ConfigSelect", func(t *testing.T) {
		cfg, err := ParseConfig(`
[path_based_validations]
select = ["BA", "DO100"]
`)
		require.NoError(t, err)
		e, err := NewEngine(Options{Config: cfg, NoDockerChecks: true})
		require.NoError(t, err)
		for _, c := range codes(e) {
			assert.Regexp(t, `^BA`, c)
		}
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := NewEngine(Options{Mode: ModeSpecificFiles})
		assert.ErrorIs(t, err, ErrNoPaths)
		_, err = NewEngine(Options{Mode: ModeUseGit})
		assert.ErrorIs(t, err, ErrNoBaseline)
		_, err = NewEngine(Options{Mode: "sometimes"})
		assert.Error(t, err)
	})
}

func TestEngine_Scope(t *testing.T) {
	t.Parallel()

	repo := versionSkewRepo()
	repo["Packs/Other/pack_metadata.json"] = &fstest.MapFile{Data: []byte(`{"name": "Other", "support": "community"}`)}
	repo["Packs/Other/Scripts/Bad/Bad.yml"] = &fstest.MapFile{Data: []byte(`commonfields:
  id: Bad
name: 'Bad '
comment: Bad.
type: python
script: ''
`)}

	t.Run("SpecificFiles", func(t *testing.T) {
		report := runEngine(t, repo, Options{Mode: ModeSpecificFiles, Paths: []string{"Packs/Other/"}})
		for _, f := range report.Failures {
			assert.Contains(t, f.Path, "Packs/Other/")
		}
		assert.NotEmpty(t, withCode(report.Failures, "BA113"))
	})

	t.Run("UseGit", func(t *testing.T) {
		report := runEngine(t, repo, Options{
			Mode: ModeUseGit,
			Git:  fakeGit{},
			Changes: []ingestion.ChangedFile{
				{Path: "Packs/Other/Scripts/Bad/Bad.yml", Status: ingestion.StatusAdded},
			},
		})
		assert.NotEmpty(t, withCode(report.Failures, "BA113"))
		assert.Empty(t, withCode(report.Failures, "GR102"), "integration not changed")
	})

	t.Run("SupportLevelIgnore", func(t *testing.T) {
		cfg, err := ParseConfig(`
[support_level.community]
ignore = ["BA113"]
`)
		require.NoError(t, err)
		report := runEngine(t, repo, Options{Mode: ModeAllFiles, Config: cfg})
		assert.Empty(t, withCode(report.Failures, "BA113"))
	})

	t.Run("Warnings", func(t *testing.T) {
		cfg, err := ParseConfig(`
[path_based_validations]
warning = ["GR102"]
`)
		require.NoError(t, err)
		report := runEngine(t, repo, Options{Mode: ModeAllFiles, Config: cfg})
		assert.Empty(t, withCode(report.Failures, "GR102"))
		assert.Len(t, withCode(report.Warnings, "GR102"), 1)
	})
}

func TestEngine_PackIgnore(t *testing.T) {
	t.Parallel()

	repo := versionSkewRepo()
	repo["Packs/Demo/.pack-ignore"] = &fstest.MapFile{Data: []byte("[file:MyIntg.yml]\nignore=GR102,BA101\n")}

	report := runEngine(t, repo, Options{Mode: ModeAllFiles})
	assert.Empty(t, withCode(report.Failures, "GR102"))
	assert.Len(t, withCode(report.Ignored, "GR102"), 1)

	t.Run("NotIgnorable", func(t *testing.T) {
		cfg, err := ParseConfig(`
[ignorable_errors]
codes = ["BA101"]
`)
		require.NoError(t, err)
		report := runEngine(t, repo, Options{Mode: ModeAllFiles, Config: cfg})
		assert.Len(t, withCode(report.Failures, "GR102"), 1)
	})
}

func TestEngine_FileFailures(t *testing.T) {
	t.Parallel()

	repo := fstest.MapFS{
		"Packs/Demo/pack_metadata.json":    {Data: []byte(demoPack)},
		"Packs/Demo/Layouts/broken.json":   {Data: []byte(`{"nothing": true}`)},
		"Packs/Demo/Widgets/bad.json":      {Data: []byte(`{not json`)},
		"Packs/Demo/Scripts/Ok/Ok.yml":     {Data: []byte("commonfields:\n  id: Ok\nname: Ok\ncomment: Ok.\ntype: python\nscript: ''\n")},
		"Packs/Demo/ReleaseNotes/1_0_0.md": {Data: []byte("#### Scripts\n##### Ok\n- Added the script.\n")},
	}
	report := runEngine(t, repo, Options{Mode: ModeAllFiles, RunSpecific: []string{"BA102", "BA103"}})

	unknown := withCode(report.Failures, "BA102")
	require.Len(t, unknown, 1)
	assert.Equal(t, "Packs/Demo/Layouts/broken.json", unknown[0].Path)

	parse := withCode(report.Failures, "BA103")
	require.Len(t, parse, 1)
	assert.Equal(t, "Packs/Demo/Widgets/bad.json", parse[0].Path)
}

func TestEngine_ValidatorPanic(t *testing.T) {
	t.Parallel()
	repo := versionSkewRepo()
	g, failures := buildGraph(t, repo)
	e, err := NewEngine(Options{Repo: repo})
	require.NoError(t, err)
	e.validators = []*Validator{
		{
			Code:         "XX100",
			ContentTypes: []content.Type{content.TypeIntegration},
			Check: func(*Context, []*content.Item) []Result {
				panic("boom")
			},
		},
		{
			Code:         "XX101",
			ContentTypes: []content.Type{content.TypeIntegration},
			Check:        func(*Context, []*content.Item) []Result { return nil },
		},
	}

	report, err := e.Run(t.Context(), g, failures)
	require.NoError(t, err)

	require.Len(t, report.Failures, 1, "a crash must not read as a pass")
	r := report.Failures[0]
	assert.Equal(t, "XX100", r.Code)
	assert.Equal(t, "Packs/Demo/Integrations/MyIntg/MyIntg.yml", r.Path)
	assert.Contains(t, r.Message, "XX100")
	assert.Contains(t, r.Message, "boom")
}

func TestReport_Output(t *testing.T) {
	t.Parallel()

	report := &Report{
		Failures: []Result{
			{Code: "GR102", Path: "b.yml", Message: "second"},
			{Code: "BA101", Path: "a.yml", Message: "first", Line: 3},
		},
		Warnings: []Result{{Code: "DS108", Path: "c.yml", Message: "warn"}},
	}

	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, report.WriteJSON(&buf))
		var got []map[string]string
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, map[string]string{"file path": "a.yml", "error code": "BA101", "message": "first"}, got[0])
	})

	t.Run("Console", func(t *testing.T) {
		var buf bytes.Buffer
		report.Print(&buf, PrintOptions{})
		out := buf.String()
		assert.Contains(t, out, "a.yml:3: [BA101] - first")
		assert.Contains(t, out, "b.yml: [GR102] - second")
		assert.Contains(t, out, "BA101, GR102")
		assert.Less(t, bytes.Index(buf.Bytes(), []byte("a.yml")), bytes.Index(buf.Bytes(), []byte("b.yml")))
	})

	t.Run("ExitCode", func(t *testing.T) {
		assert.Equal(t, 1, report.ExitCode())
		assert.Equal(t, 0, (&Report{Warnings: report.Warnings}).ExitCode())
	})
}

type fakeGit map[string]string

func (f fakeGit) FileAtRevision(rev, path string) ([]byte, error) {
	data, ok := f[path]
	if !ok {
		return nil, ErrNoBaseline
	}
	return []byte(data), nil
}
