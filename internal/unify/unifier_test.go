package unify

import (
	"archive/zip"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/contentgraph/internal/content"
)

const fooIntegration = `commonfields:
  id: Foo
  version: -1
name: Foo
name_x2: Bar
display: Foo
category: Utilities
configuration: []
script:
  type: python
  subtype: python3
  script: '-'
  dockerimage: demisto/python3:3.10.1.1
  commands:
  - name: foo-get
    description: Gets incidents.
    description_x2: Gets alerts.
`

const fooCode = `import demistomock as demisto


def main():
    demisto.results("ok")


if __name__ in ("__main__", "builtin", "builtins"):
    main()
`

const helperScript = `commonfields:
  id: UsesHelper
  version: -1
name: UsesHelper
comment: Uses the helper module.
type: python
subtype: python3
script: ''
dockerimage: demisto/python3:3.10.1.1
`

const helperCode = `import demistomock as demisto
from HelperApiModule import *  # noqa: E402


def main():
    helper()
`

const helperModule = `def helper():
    return 1
`

func demoRepo() fstest.MapFS {
	return fstest.MapFS{
		"Packs/Demo/pack_metadata.json":                               {Data: []byte(`{"name": "Demo", "support": "xsoar", "author": "Cortex XSOAR"}`)},
		"Packs/Demo/Integrations/Foo/Foo.yml":                         {Data: []byte(fooIntegration)},
		"Packs/Demo/Integrations/Foo/Foo.py":                          {Data: []byte(fooCode)},
		"Packs/Demo/Integrations/Foo/Foo_test.py":                     {Data: []byte("def test_main():\n    pass\n")},
		"Packs/Demo/Integrations/Foo/Foo_image.png":                   {Data: []byte("\x89PNG fake")},
		"Packs/Demo/Integrations/Foo/Foo_description.md":              {Data: []byte("Use an api key.\n")},
		"Packs/Demo/Scripts/UsesHelper/UsesHelper.yml":                {Data: []byte(helperScript)},
		"Packs/Demo/Scripts/UsesHelper/UsesHelper.py":                 {Data: []byte(helperCode)},
		"Packs/ApiModules/Scripts/HelperApiModule/HelperApiModule.py": {Data: []byte(helperModule)},
	}
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))
	return doc
}

func unifyOne(t *testing.T, repo fstest.MapFS, dir string, opts Options) map[string]any {
	t.Helper()
	res, err := NewFS(repo, "", opts).Unify(dir)
	require.NoError(t, err)
	require.Len(t, res.Outputs, 1)
	return decode(t, res.Outputs[0].Data)
}

func TestUnify_Integration(t *testing.T) {
	t.Parallel()

	res, err := NewFS(demoRepo(), "", Options{}).Unify("Packs/Demo/Integrations/Foo")
	require.NoError(t, err)
	assert.Equal(t, content.TypeIntegration, res.Type)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "Packs/Demo/Integrations/Foo/integration-Foo.yml", res.Outputs[0].Path)

	doc := decode(t, res.Outputs[0].Data)
	script := doc["script"].(map[string]any)
	assert.Equal(t, fooCode, script["script"])
	assert.Equal(t, ImagePrefix+base64.StdEncoding.EncodeToString([]byte("\x89PNG fake")), doc["image"])
	assert.Equal(t, "Use an api key.\n", doc["detaileddescription"])
	assert.Equal(t, "Foo", doc["display"])

	t.Run("KeyOrder", func(t *testing.T) {
		out := string(res.Outputs[0].Data)
		assert.Less(t, strings.Index(out, "commonfields:"), strings.Index(out, "name:"))
		assert.Less(t, strings.Index(out, "category:"), strings.Index(out, "script:"))
	})
}

func TestUnify_CodeRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code string
	}{
		{"Plain", "x = 1\ny = 2\n"},
		{"IndentedFirstLine", "  x = 1\ny = 2\n"},
		{"TabIndent", "\tx = 1\ny = 2\n"},
		{"CRLF", "x = 1\r\ny = 2\r\n"},
		{"LeadingNewline", "\nx = 1\n"},
		{"TrailingNewlines", "x = 1\n\n\n"},
		{"NoTrailingNewline", "x = 1\ny = 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo := demoRepo()
			repo["Packs/Demo/Integrations/Foo/Foo.py"] = &fstest.MapFile{Data: []byte(tt.code)}

			res, err := NewFS(repo, "", Options{}).Unify("Packs/Demo/Integrations/Foo")
			require.NoError(t, err)
			require.Len(t, res.Outputs, 1)

			doc, err := decodeOrdered(res.Outputs[0].Data)
			require.NoError(t, err, string(res.Outputs[0].Data))
			script, ok := lookupMap(doc, "script")
			require.True(t, ok)
			assert.Equal(t, tt.code, lookupString(script, "script"))

			again, err := encodeYAML(doc)
			require.NoError(t, err)
			assert.Equal(t, decode(t, res.Outputs[0].Data), decode(t, again))
		})
	}
}

func TestQuoteUnsafeBlocks(t *testing.T) {
	t.Parallel()

	doc := yaml.MapSlice{
		{Key: "safe", Value: "a\nb\n"},
		{Key: "single", Value: "  one line"},
		{Key: "nested", Value: []any{yaml.MapSlice{{Key: "code", Value: "  a\nb\n"}}}},
	}
	out := quoteUnsafeBlocks(doc).(yaml.MapSlice)
	assert.Equal(t, "a\nb\n", out[0].Value)
	assert.Equal(t, "  one line", out[1].Value)
	nested := out[2].Value.([]any)[0].(yaml.MapSlice)
	assert.Equal(t, quotedString("  a\nb\n"), nested[0].Value)
	assert.Equal(t, "  a\nb\n", doc[2].Value.([]any)[0].(yaml.MapSlice)[0].Value, "input is not modified")
}

func TestUnify_ApiModule(t *testing.T) {
	t.Parallel()

	res, err := NewFS(demoRepo(), "", Options{}).Unify("Packs/Demo/Scripts/UsesHelper")
	require.NoError(t, err)
	assert.Equal(t, content.TypeScript, res.Type)
	assert.Equal(t, []string{"HelperApiModule"}, res.ApiModules)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "Packs/Demo/Scripts/UsesHelper/script-UsesHelper.yml", res.Outputs[0].Path)

	code := decode(t, res.Outputs[0].Data)["script"].(string)
	assert.NotContains(t, strings.Split(code, "\n"), "from HelperApiModule import *  # noqa: E402")
	assert.Contains(t, code, "### GENERATED CODE ###\n"+
		"# from HelperApiModule import *  # noqa: E402\n"+
		"# This code was inserted in place of an API module.\n"+
		helperModule+
		"\n### END GENERATED CODE ###\n")

	t.Run("RoundTrip", func(t *testing.T) {
		assert.Equal(t, helperCode, ExtractCode(code))
	})

	t.Run("Missing", func(t *testing.T) {
		repo := demoRepo()
		delete(repo, "Packs/ApiModules/Scripts/HelperApiModule/HelperApiModule.py")
		_, err := NewFS(repo, "", Options{}).Unify("Packs/Demo/Scripts/UsesHelper")
		assert.ErrorContains(t, err, "HelperApiModule")
	})
}

func TestExpandApiModules(t *testing.T) {
	t.Parallel()

	t.Run("Nested", func(t *testing.T) {
		repo := fstest.MapFS{
			"Packs/ApiModules/Scripts/OuterApiModule/OuterApiModule.py": {Data: []byte("from InnerApiModule import *\n\ndef outer():\n    return inner()\n")},
			"Packs/ApiModules/Scripts/InnerApiModule/InnerApiModule.py": {Data: []byte("def inner():\n    return 2\n")},
		}
		code := "import json\n    from OuterApiModule import *  # noqa: E402\nmain()\n"
		expanded, used, err := expandApiModules(repo, code, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"OuterApiModule", "InnerApiModule"}, used)
		assert.Equal(t, 2, strings.Count(expanded, generatedStart))
		assert.Equal(t, 2, strings.Count(expanded, generatedEnd))
		assert.Equal(t, code, ExtractCode(expanded))
	})

	t.Run("Cycle", func(t *testing.T) {
		repo := fstest.MapFS{
			"Packs/ApiModules/Scripts/AApiModule/AApiModule.py": {Data: []byte("from BApiModule import *\n")},
			"Packs/ApiModules/Scripts/BApiModule/BApiModule.py": {Data: []byte("from AApiModule import *\n")},
		}
		_, _, err := expandApiModules(repo, "from AApiModule import *\n", nil)
		assert.ErrorIs(t, err, ErrApiModuleCycle)
	})

	t.Run("NoImports", func(t *testing.T) {
		expanded, used, err := expandApiModules(fstest.MapFS{}, fooCode, nil)
		require.NoError(t, err)
		assert.Empty(t, used)
		assert.Equal(t, fooCode, expanded)
	})
}

func TestUnify_Marketplace(t *testing.T) {
	t.Parallel()

	t.Run("MarketplaceV2", func(t *testing.T) {
		doc := unifyOne(t, demoRepo(), "Packs/Demo/Integrations/Foo", Options{Marketplace: content.MarketplaceV2})
		assert.Equal(t, "Bar", doc["name"])
		assert.NotContains(t, doc, "name_x2")
		cmd := doc["script"].(map[string]any)["commands"].([]any)[0].(map[string]any)
		assert.Equal(t, "Gets alerts.", cmd["description"])
		assert.NotContains(t, cmd, "description_x2")
	})

	t.Run("XSOAR", func(t *testing.T) {
		doc := unifyOne(t, demoRepo(), "Packs/Demo/Integrations/Foo", Options{Marketplace: content.MarketplaceXSOAR})
		assert.Equal(t, "Foo", doc["name"])
		assert.NotContains(t, doc, "name_x2")
		cmd := doc["script"].(map[string]any)["commands"].([]any)[0].(map[string]any)
		assert.Equal(t, "Gets incidents.", cmd["description"])
	})

	t.Run("Idempotent", func(t *testing.T) {
		u := NewFS(demoRepo(), "", Options{Marketplace: content.MarketplaceV2})
		first, err := u.Unify("Packs/Demo/Integrations/Foo")
		require.NoError(t, err)
		second, err := u.Unify("Packs/Demo/Integrations/Foo")
		require.NoError(t, err)
		assert.Equal(t, first.Outputs, second.Outputs)
	})
}

func TestResolveAliases(t *testing.T) {
	t.Parallel()

	in := yaml.MapSlice{
		{Key: "query_x2", Value: "alerts"},
		{Key: "query", Value: "incidents"},
		{Key: "only_x2", Value: "v2"},
		{Key: "nested", Value: []any{yaml.MapSlice{{Key: "a", Value: 1}, {Key: "a_x2", Value: 2}}}},
		{Key: "yaml", Value: "a: 1\na_x2: 2\n"},
	}

	v2 := ResolveAliases(in, content.MarketplaceV2).(yaml.MapSlice)
	assert.Equal(t, yaml.MapSlice{
		{Key: "query", Value: "alerts"},
		{Key: "only", Value: "v2"},
		{Key: "nested", Value: []any{yaml.MapSlice{{Key: "a", Value: 2}}}},
		{Key: "yaml", Value: "a: 1\na_x2: 2\n"},
	}, v2)

	xsoar := ResolveAliases(in, content.MarketplaceXSOAR).(yaml.MapSlice)
	assert.Equal(t, yaml.MapSlice{
		{Key: "query", Value: "incidents"},
		{Key: "nested", Value: []any{yaml.MapSlice{{Key: "a", Value: 1}}}},
		{Key: "yaml", Value: "a: 1\na_x2: 2\n"},
	}, xsoar)
}

func TestIncidentToAlert(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Incidents by Type":     "Alerts by Type",
		"open incident":         "open alert",
		"INCIDENTS":             "ALERTS",
		"IncidentField":         "IncidentField",
		"no change":             "no change",
		"incident and Incident": "alert and Alert",
	}
	for in, want := range cases {
		assert.Equal(t, want, IncidentToAlert(in), in)
	}
}

func TestPrepareContent(t *testing.T) {
	t.Parallel()

	widget := []byte(`{
  "id": "incidents-by-type",
  "name": "Incidents by Type",
  "description": "Open incidents",
  "dataType": "incidents",
  "query": "status:active",
  "query_x2": "status:new"
}`)

	t.Run("MarketplaceV2", func(t *testing.T) {
		out, err := PrepareContent(widget, content.TypeWidget, content.MarketplaceV2)
		require.NoError(t, err)
		doc := decode(t, out)
		assert.Equal(t, "incidents-by-type", doc["id"])
		assert.Equal(t, "Alerts by Type", doc["name"])
		assert.Equal(t, "Open alerts", doc["description"])
		assert.Equal(t, "incidents", doc["dataType"])
		assert.Equal(t, "status:new", doc["query"])
		assert.NotContains(t, doc, "query_x2")
		assert.Less(t, strings.Index(string(out), `"id"`), strings.Index(string(out), `"name"`))
	})

	t.Run("XSOAR", func(t *testing.T) {
		out, err := PrepareContent(widget, content.TypeWidget, content.MarketplaceXSOAR)
		require.NoError(t, err)
		doc := decode(t, out)
		assert.Equal(t, "Incidents by Type", doc["name"])
		assert.Equal(t, "status:active", doc["query"])
	})

	t.Run("OtherTypes", func(t *testing.T) {
		out, err := PrepareContent([]byte(`{"id": "f", "name": "Incident Field"}`), content.TypeIncidentField, content.MarketplaceV2)
		require.NoError(t, err)
		assert.Equal(t, "Incident Field", decode(t, out)["name"])
	})
}

func TestUnify_DockerImage45(t *testing.T) {
	t.Parallel()

	legacy := `commonfields:
  id: Legacy
name: Legacy
comment: Old.
type: python
script: '-'
fromversion: 4.1.0
dockerimage: demisto/python3:3.10.1.1
dockerimage45: demisto/python:2.7.18
`
	repo := fstest.MapFS{
		"Packs/Demo/Scripts/Legacy/Legacy.yml": {Data: []byte(legacy)},
		"Packs/Demo/Scripts/Legacy/Legacy.py":  {Data: []byte("print(1)\n")},
	}

	res, err := NewFS(repo, "", Options{}).Unify("Packs/Demo/Scripts/Legacy")
	require.NoError(t, err)
	require.Len(t, res.Outputs, 2)
	assert.Equal(t, "Packs/Demo/Scripts/Legacy/script-Legacy.yml", res.Outputs[0].Path)
	assert.Equal(t, "Packs/Demo/Scripts/Legacy/script-Legacy_45.yml", res.Outputs[1].Path)

	main := decode(t, res.Outputs[0].Data)
	assert.Equal(t, "5.0.0", main["fromversion"])
	assert.Equal(t, "demisto/python3:3.10.1.1", main["dockerimage"])
	assert.NotContains(t, main, "dockerimage45")

	old := decode(t, res.Outputs[1].Data)
	assert.Equal(t, "4.1.0", old["fromversion"])
	assert.Equal(t, "4.5.9", old["toversion"])
	assert.Equal(t, "demisto/python:2.7.18", old["dockerimage"])
	assert.NotContains(t, old, "dockerimage45")

	t.Run("EmptyLegacyImage", func(t *testing.T) {
		repo := fstest.MapFS{
			"Packs/Demo/Scripts/Legacy/Legacy.yml": {Data: []byte(strings.Replace(legacy, "dockerimage45: demisto/python:2.7.18", "dockerimage45: ''", 1))},
			"Packs/Demo/Scripts/Legacy/Legacy.py":  {Data: []byte("print(1)\n")},
		}
		res, err := NewFS(repo, "", Options{}).Unify("Packs/Demo/Scripts/Legacy")
		require.NoError(t, err)
		require.Len(t, res.Outputs, 2)
		assert.NotContains(t, decode(t, res.Outputs[1].Data), "dockerimage")
	})

	t.Run("FiveOnly", func(t *testing.T) {
		repo := fstest.MapFS{
			"Packs/Demo/Scripts/Legacy/Legacy.yml": {Data: []byte(strings.Replace(legacy, "fromversion: 4.1.0", "fromversion: 5.0.0", 1))},
			"Packs/Demo/Scripts/Legacy/Legacy.py":  {Data: []byte("print(1)\n")},
		}
		_, err := NewFS(repo, "", Options{}).Unify("Packs/Demo/Scripts/Legacy")
		assert.ErrorIs(t, err, ErrDockerImage45)
	})

	t.Run("LegacyOnly", func(t *testing.T) {
		repo := fstest.MapFS{
			"Packs/Demo/Scripts/Legacy/Legacy.yml": {Data: []byte(legacy + "toversion: 4.5.0\n")},
			"Packs/Demo/Scripts/Legacy/Legacy.py":  {Data: []byte("print(1)\n")},
		}
		_, err := NewFS(repo, "", Options{}).Unify("Packs/Demo/Scripts/Legacy")
		assert.ErrorIs(t, err, ErrDockerImage45)
	})
}

func TestUnify_Contributor(t *testing.T) {
	t.Parallel()

	t.Run("Partner", func(t *testing.T) {
		repo := demoRepo()
		repo["Packs/Demo/pack_metadata.json"] = &fstest.MapFile{Data: []byte(`{"name": "Demo", "support": "partner", "author": "Acme", "email": "a@acme.io", "url": "https://acme.io"}`)}
		doc := unifyOne(t, repo, "Packs/Demo/Integrations/Foo", Options{})
		assert.Equal(t, "Foo (Partner Contribution)", doc["display"])
		desc := doc["detaileddescription"].(string)
		assert.True(t, strings.HasPrefix(desc, "### Partner Contributed Integration\n#### Integration Author: Acme\n"))
		assert.Contains(t, desc, "- **Email**: [a@acme.io](mailto:a@acme.io)")
		assert.Contains(t, desc, "- **URL**: [https://acme.io](https://acme.io)")
		assert.True(t, strings.HasSuffix(desc, "\n***\nUse an api key.\n"))
	})

	t.Run("Community", func(t *testing.T) {
		repo := demoRepo()
		repo["Packs/Demo/pack_metadata.json"] = &fstest.MapFile{Data: []byte(`{"name": "Demo", "support": "community", "author": "Someone"}`)}
		doc := unifyOne(t, repo, "Packs/Demo/Integrations/Foo", Options{})
		assert.Equal(t, "Foo (Community Contribution)", doc["display"])
		assert.Contains(t, doc["detaileddescription"], "No support or maintenance is provided by the author.")
	})

	t.Run("AlreadyMarked", func(t *testing.T) {
		repo := demoRepo()
		repo["Packs/Demo/pack_metadata.json"] = &fstest.MapFile{Data: []byte(`{"name": "Demo", "support": "partner", "author": "Acme"}`)}
		repo["Packs/Demo/Integrations/Foo/Foo_description.md"] = &fstest.MapFile{Data: []byte("### Acme Contributed Integration\nDetails.\n")}
		repo["Packs/Demo/Integrations/Foo/Foo.yml"] = &fstest.MapFile{Data: []byte(strings.Replace(fooIntegration, "display: Foo", "display: Foo (Partner Contribution)", 1))}
		doc := unifyOne(t, repo, "Packs/Demo/Integrations/Foo", Options{})
		assert.Equal(t, "Foo (Partner Contribution)", doc["display"])
		assert.Equal(t, "### Acme Contributed Integration\nDetails.\n", doc["detaileddescription"])
	})
}

func TestUnify_Overwrite(t *testing.T) {
	t.Parallel()

	t.Run("EmbeddedImage", func(t *testing.T) {
		repo := demoRepo()
		repo["Packs/Demo/Integrations/Foo/Foo.yml"] = &fstest.MapFile{Data: []byte(fooIntegration + "image: data:image/png;base64,AAAA\n")}
		_, err := NewFS(repo, "", Options{}).Unify("Packs/Demo/Integrations/Foo")
		assert.ErrorIs(t, err, ErrOverwrite)

		doc := unifyOne(t, repo, "Packs/Demo/Integrations/Foo", Options{Force: true})
		assert.NotEqual(t, "data:image/png;base64,AAAA", doc["image"])
	})

	t.Run("ExistingOutput", func(t *testing.T) {
		dir := t.TempDir()
		for name, f := range demoRepo() {
			full := filepath.Join(dir, filepath.FromSlash(name))
			require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
			require.NoError(t, os.WriteFile(full, f.Data, 0o644))
		}
		out := filepath.Join(t.TempDir(), "out")

		written, err := New(dir, Options{OutDir: out}).UnifyAndWrite("Packs/Demo/Scripts/UsesHelper")
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(out, "script-UsesHelper.yml")}, written)

		_, err = New(dir, Options{OutDir: out}).UnifyAndWrite("Packs/Demo/Scripts/UsesHelper")
		assert.ErrorIs(t, err, ErrOverwrite)

		_, err = New(dir, Options{OutDir: out, Force: true}).UnifyAndWrite("Packs/Demo/Scripts/UsesHelper")
		assert.NoError(t, err)
	})

	t.Run("NoCode", func(t *testing.T) {
		repo := fstest.MapFS{
			"Packs/Demo/Scripts/Empty/Empty.yml": {Data: []byte(helperScript)},
		}
		_, err := NewFS(repo, "", Options{}).Unify("Packs/Demo/Scripts/Empty")
		assert.ErrorIs(t, err, ErrNoCode)
	})
}

func TestFindCodeFile(t *testing.T) {
	t.Parallel()

	repo := fstest.MapFS{
		"Packs/Demo/Scripts/Odd/conftest.py":              {},
		"Packs/Demo/Scripts/Odd/demistomock.py":           {},
		"Packs/Demo/Scripts/Odd/Odd_test.py":              {},
		"Packs/Demo/Scripts/Odd/zeta.py":                  {},
		"Packs/Demo/Scripts/Odd/alpha.py":                 {},
		"Packs/Demo/Scripts/Pwsh/Pwsh.ps1":                {},
		"Packs/Demo/Scripts/Pwsh/Pwsh.Tests.ps1":          {},
		"Packs/Demo/Scripts/Helper/CommonServerPython.py": {},
	}

	got, err := findCodeFile(repo, "Packs/Demo/Scripts/Odd", "python")
	require.NoError(t, err)
	assert.Equal(t, "Packs/Demo/Scripts/Odd/alpha.py", got)

	got, err = findCodeFile(repo, "Packs/Demo/Scripts/Pwsh", "powershell")
	require.NoError(t, err)
	assert.Equal(t, "Packs/Demo/Scripts/Pwsh/Pwsh.ps1", got)

	_, err = findCodeFile(repo, "Packs/Demo/Scripts/Helper", "python")
	assert.ErrorIs(t, err, ErrNoCode)
}

func TestZipTool(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", "tool.sh"), []byte("#!/bin/sh\necho hi\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("tool\n"), 0o644))

	for _, system := range []bool{true, false} {
		out := filepath.Join(t.TempDir(), "tool.zip")
		require.NoError(t, ZipTool(dir, out, system))

		zr, err := zip.OpenReader(out)
		require.NoError(t, err)
		var names []string
		for _, f := range zr.File {
			names = append(names, f.Name)
			assert.Equal(t, zip.Deflate, f.Method)
		}
		assert.ElementsMatch(t, []string{"README.md", "bin/tool.sh"}, names)
		if system {
			assert.Equal(t, `{ "system": true }`, zr.Comment)
		} else {
			assert.Empty(t, zr.Comment)
		}
		require.NoError(t, zr.Close())
	}
}
