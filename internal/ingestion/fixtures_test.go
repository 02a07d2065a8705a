package ingestion

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/Benny93/contentgraph/internal/graph"
)

func demoRepo() fstest.MapFS {
	return fstest.MapFS{
		"Packs/Demo/pack_metadata.json": {Data: []byte(`{
  "name": "Demo",
  "support": "xsoar",
  "currentVersion": "1.0.0",
  "marketplaces": ["xsoar", "marketplacev2"]
}`)},
		"Packs/Demo/Integrations/MyIntg/MyIntg.yml": {Data: []byte(`commonfields:
  id: MyIntg
name: MyIntg
display: My Integration
category: Utilities
script:
  type: python
  subtype: python3
  script: ''
  commands:
  - name: my-cmd
  - name: shared-cmd
`)},
		"Packs/Demo/Integrations/MyIntg/MyIntg.py":         {Data: []byte("def main():\n    pass\n")},
		"Packs/Demo/Integrations/MyIntg/test_data/x.json":  {Data: []byte(`{"a": 1}`)},
		"Packs/Demo/Integrations/MyIntg/MyIntg_image.png":  {Data: []byte{0x89}},
		"Packs/Other/Integrations/OtherIntg/OtherIntg.yml": {Data: []byte(`commonfields:
  id: OtherIntg
name: OtherIntg
script:
  type: python
  script: ''
  commands:
  - name: shared-cmd
`)},
		"Packs/Demo/Scripts/HelperScr/HelperScr.yml": {Data: []byte(`commonfields:
  id: HelperScr
name: HelperScr
type: python
script: print(1)
`)},
		"Packs/Demo/Scripts/HelperScr2/HelperScr.yml": {Data: []byte(`commonfields:
  id: HelperScr
name: HelperScr
type: python
script: print(2)
`)},
		"Packs/Demo/Playbooks/PB.yml": {Data: []byte(`id: PB
name: PB
tests:
- PB-Test
tasks:
  "1":
    id: "1"
    type: regular
    task:
      name: helper
      scriptName: HelperScr
  "2":
    id: "2"
    type: regular
    task:
      name: shared
      script: '|||shared-cmd'
  "3":
    id: "3"
    type: regular
    task:
      name: branded
      script: GhostBrand|||my-cmd
  "4":
    id: "4"
    type: playbook
    task:
      name: sub
      playbookName: GhostPB
`)},
		"Packs/Demo/TestPlaybooks/PB-Test.yml": {Data: []byte(`id: PB-Test
name: PB-Test
tasks: {}
`)},
		"Packs/Demo/ReleaseNotes/1_0_0.md": {Data: []byte("#### Integrations\n##### MyIntg\n- Initial release.\n")},
		"Packs/Demo/Tools/agent/run.sh":     {Data: []byte("#!/bin/sh\n")},
		"Packs/Demo/Tools/agent/lib.sh":     {Data: []byte("#!/bin/sh\n")},
		"Packs/Demo/README.md":              {Data: []byte("# Demo\n")},
		"Packs/Demo/Layouts/broken.json":    {Data: []byte(`{"nothing": true}`)},
		"Packs/Demo/Widgets/bad.json":       {Data: []byte(`{not json`)},
		"Tests/conf.json": {Data: []byte(`{
  "tests": [{"playbookID": "PB-Test", "integrations": "MyIntg"}],
  "skipped_tests": {},
  "skipped_integrations": {}
}`)},
	}
}

func buildDemo(t *testing.T, repo fstest.MapFS) *Builder {
	t.Helper()
	entries, err := WalkFS(repo, nil)
	require.NoError(t, err)
	b := NewBuilder(repo, nil)
	require.NoError(t, b.Build(t.Context(), entries))
	return b
}

func relTargets(g *graph.ContentGraph, id string, kind graph.RelType) []string {
	var out []string
	for _, rel := range g.GetOutgoing(id, kind) {
		out = append(out, rel.Target)
	}
	return out
}

// writeRepo materializes a fixture repository in a temp dir.
func writeRepo(t *testing.T, repo fstest.MapFS) string {
	t.Helper()
	dir := t.TempDir()
	for p, f := range repo {
		full := filepath.Join(dir, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, f.Data, 0o644))
	}
	return dir
}
