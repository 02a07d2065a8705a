package ingestion

import (
	"fmt"
	"slices"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/graph"
)

func TestBuilder_Build(t *testing.T) {
	t.Parallel()

	b := buildDemo(t, demoRepo())
	g := b.Graph()

	t.Run("Nodes", func(t *testing.T) {
		for _, id := range []string{
			"pack-metadata:Demo", "integration:MyIntg", "integration:OtherIntg",
			"script:HelperScr", "playbook:PB", "test-playbook:PB-Test",
			"release-note:Demo_1.0.0", "tool:agent", "test-conf:conf.json",
			"command:my-cmd", "command:shared-cmd",
		} {
			n := g.GetNode(id)
			require.NotNil(t, n, id)
			assert.False(t, n.NotInRepository, id)
		}
		assert.Equal(t, 1, g.CountNodesByType(content.TypeTool), "one node per tool directory")
	})

	t.Run("InheritsPackAttributes", func(t *testing.T) {
		intg := g.GetNode("integration:MyIntg")
		assert.Equal(t, content.SupportXSOAR, intg.Support)
		assert.Equal(t, "Demo", intg.PackID)
	})

	t.Run("Duplicates", func(t *testing.T) {
		assert.Equal(t, "Packs/Demo/Scripts/HelperScr/HelperScr.yml", g.GetNode("script:HelperScr").Path)
		dups := g.Duplicates("script:HelperScr")
		require.Len(t, dups, 1)
		assert.Equal(t, "Packs/Demo/Scripts/HelperScr2/HelperScr.yml", dups[0].Path)
	})

	t.Run("HasCommand", func(t *testing.T) {
		assert.ElementsMatch(t, []string{"command:my-cmd", "command:shared-cmd"},
			relTargets(g, "integration:MyIntg", graph.RelHasCommand))
		assert.Len(t, g.GetIncoming("command:shared-cmd", graph.RelHasCommand), 2)

		for rel := range g.Relationships() {
			if rel.Type != graph.RelHasCommand {
				continue
			}
			assert.Equal(t, content.TypeIntegration, g.GetNode(rel.Source).Type, rel.ID)
			assert.Equal(t, content.TypeCommand, g.GetNode(rel.Target).Type, rel.ID)
		}
	})

	t.Run("CommandAttributes", func(t *testing.T) {
		shared := g.GetNode("command:shared-cmd")
		require.NotNil(t, shared)
		assert.Equal(t, content.DefaultMarketplaces, shared.Marketplaces)
		assert.Empty(t, shared.Path)
	})

	t.Run("CommandResolution", func(t *testing.T) {
		uses := relTargets(g, "playbook:PB", graph.RelUses)
		assert.Contains(t, uses, "script:HelperScr")
		assert.Contains(t, uses, "integration:MyIntg")
		assert.Contains(t, uses, "playbook:GhostPB")
		assert.Contains(t, uses, "integration:GhostBrand")

		rel := g.GetRelationship("playbook:PB|USES|integration:MyIntg")
		require.NotNil(t, rel)
		assert.Equal(t, []string{"MyIntg", "OtherIntg"}, rel.Properties[graph.PropCandidates],
			"bare commands resolve to the first declaring integration in path order")
	})

	t.Run("Phantoms", func(t *testing.T) {
		ghost := g.GetNode("playbook:GhostPB")
		require.NotNil(t, ghost)
		assert.True(t, ghost.NotInRepository)

		otherPack := g.GetNode("pack-metadata:Other")
		require.NotNil(t, otherPack, "items of packs without metadata point at a phantom pack")
		assert.True(t, otherPack.NotInRepository)
	})

	t.Run("InPack", func(t *testing.T) {
		assert.Equal(t, []string{"pack-metadata:Demo"}, relTargets(g, "integration:MyIntg", graph.RelInPack))
		assert.Empty(t, relTargets(g, "test-conf:conf.json", graph.RelInPack))
		assert.Empty(t, relTargets(g, "command:my-cmd", graph.RelInPack))
		assert.Empty(t, relTargets(g, "pack-metadata:Demo", graph.RelInPack))
	})

	t.Run("TestedBy", func(t *testing.T) {
		assert.Equal(t, []string{"test-playbook:PB-Test"}, relTargets(g, "playbook:PB", graph.RelTestedBy))
		assert.ElementsMatch(t, []string{"test-playbook:PB-Test", "integration:MyIntg"},
			relTargets(g, "test-conf:conf.json", graph.RelConfJSONUses))
	})

	t.Run("Failures", func(t *testing.T) {
		failures := b.Failures()
		require.Len(t, failures, 2)
		assert.Equal(t, "Packs/Demo/Layouts/broken.json", failures[0].Path)
		assert.True(t, failures[0].Unclassified())
		assert.Equal(t, "Packs/Demo/Widgets/bad.json", failures[1].Path)
		assert.False(t, failures[1].Unclassified())
	})
}

func TestBuilder_Add(t *testing.T) {
	t.Parallel()

	t.Run("SmallerPathWins", func(t *testing.T) {
		t.Parallel()
		repo := fstest.MapFS{
			"Packs/P/Scripts/B/S.yml": {Data: []byte("commonfields:\n  id: S\nname: S\ntype: python\nscript: x\n")},
			"Packs/P/Scripts/A/S.yml": {Data: []byte("commonfields:\n  id: S\nname: S\ntype: python\nscript: y\n")},
		}
		b := NewBuilder(repo, nil)
		// Reverse order on purpose: Build sorts, Add alone must still agree.
		for _, p := range []string{"Packs/P/Scripts/B/S.yml", "Packs/P/Scripts/A/S.yml"} {
			res, failure := b.parse(FileEntry{RelPath: p}, nil)
			require.Nil(t, failure)
			b.Add(res)
		}
		b.Resolve()

		assert.Equal(t, "Packs/P/Scripts/A/S.yml", b.Graph().GetNode("script:S").Path)
		require.Len(t, b.Graph().Duplicates("script:S"), 1)
		assert.Equal(t, "Packs/P/Scripts/B/S.yml", b.Graph().Duplicates("script:S")[0].Path)
	})

	t.Run("SelfReferenceSkipped", func(t *testing.T) {
		t.Parallel()
		repo := fstest.MapFS{
			"Packs/P/Scripts/S/S.yml": {Data: []byte("commonfields:\n  id: S\nname: S\ntype: python\nscript: x\ndependson:\n  must:\n  - S\n")},
		}
		b := buildDemo(t, repo)
		assert.Empty(t, relTargets(b.Graph(), "script:S", graph.RelUses))
	})
}

func TestBuilder_Reparse(t *testing.T) {
	t.Parallel()

	t.Run("DeletedTargetBecomesPhantom", func(t *testing.T) {
		t.Parallel()
		repo := demoRepo()
		b := buildDemo(t, repo)
		delete(repo, "Packs/Demo/Scripts/HelperScr/HelperScr.yml")
		delete(repo, "Packs/Demo/Scripts/HelperScr2/HelperScr.yml")

		report, err := b.Reparse(t.Context(), []string{
			"Packs/Demo/Scripts/HelperScr/HelperScr.yml",
			"Packs/Demo/Scripts/HelperScr2/HelperScr.yml",
		})
		require.NoError(t, err)

		assert.Contains(t, report.Removed, "script:HelperScr")
		assert.Contains(t, report.Resolved, "playbook:PB")
		assert.Contains(t, report.Paths, "Packs/Demo/Playbooks/PB.yml")

		n := b.Graph().GetNode("script:HelperScr")
		require.NotNil(t, n)
		assert.True(t, n.NotInRepository)
		assert.NotNil(t, b.Graph().GetRelationship("playbook:PB|USES|script:HelperScr"))
	})

	t.Run("DuplicatePromoted", func(t *testing.T) {
		t.Parallel()
		repo := demoRepo()
		b := buildDemo(t, repo)
		delete(repo, "Packs/Demo/Scripts/HelperScr/HelperScr.yml")

		_, err := b.Reparse(t.Context(), []string{"Packs/Demo/Scripts/HelperScr/HelperScr.yml"})
		require.NoError(t, err)

		n := b.Graph().GetNode("script:HelperScr")
		require.NotNil(t, n)
		assert.False(t, n.NotInRepository)
		assert.Equal(t, "Packs/Demo/Scripts/HelperScr2/HelperScr.yml", n.Path)
		assert.Empty(t, b.Graph().Duplicates("script:HelperScr"))
	})

	t.Run("NewItemSatisfiesPhantom", func(t *testing.T) {
		t.Parallel()
		repo := demoRepo()
		b := buildDemo(t, repo)
		repo["Packs/Demo/TestPlaybooks/GhostPB.yml"] = &fstest.MapFile{Data: []byte("id: GhostPB\nname: GhostPB\ntasks: {}\n")}

		_, err := b.Reparse(t.Context(), []string{"Packs/Demo/TestPlaybooks/GhostPB.yml"})
		require.NoError(t, err)

		g := b.Graph()
		assert.NotNil(t, g.GetRelationship("playbook:PB|USES|test-playbook:GhostPB"), "playbook refs fall back to test playbooks")
		assert.Nil(t, g.GetNode("playbook:GhostPB"), "unreferenced phantoms are collected")
	})

	t.Run("RemovedCommandProvider", func(t *testing.T) {
		t.Parallel()
		repo := demoRepo()
		b := buildDemo(t, repo)
		delete(repo, "Packs/Demo/Integrations/MyIntg/MyIntg.yml")

		_, err := b.Reparse(t.Context(), []string{"Packs/Demo/Integrations/MyIntg/MyIntg.yml"})
		require.NoError(t, err)

		g := b.Graph()
		assert.Nil(t, g.GetNode("command:my-cmd"), "commands without a declaring integration are collected")
		rel := g.GetRelationship("playbook:PB|USES|integration:OtherIntg")
		require.NotNil(t, rel)
		assert.NotContains(t, rel.Properties, graph.PropCandidates)
		branded := g.GetNode("integration:MyIntg")
		require.NotNil(t, branded)
		assert.True(t, branded.NotInRepository)
	})

	t.Run("SidecarMapsToYAML", func(t *testing.T) {
		t.Parallel()
		repo := demoRepo()
		b := buildDemo(t, repo)

		report, err := b.Reparse(t.Context(), []string{"Packs/Demo/Integrations/MyIntg/MyIntg.py"})
		require.NoError(t, err)
		assert.Equal(t, []string{"integration:MyIntg"}, report.Added)
	})
}

// graphShape renders the real nodes and every relationship of g in a
// comparable form.
func graphShape(g *graph.ContentGraph) []string {
	var out []string
	for n := range g.Nodes() {
		if n.NotInRepository {
			continue
		}
		out = append(out, fmt.Sprintf("node %s path=%s mp=%v from=%s to=%s deprecated=%t",
			n.ID(), n.Path, n.Marketplaces, n.FromVersion, n.ToVersion, n.Deprecated))
	}
	for rel := range g.Relationships() {
		out = append(out, fmt.Sprintf("rel %s mandatory=%t props=%v", rel.ID, rel.Mandatory, rel.Properties))
	}
	slices.Sort(out)
	return out
}

func TestBuilder_ReparseMatchesBuild(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		change func(fstest.MapFS)
		paths  []string
	}{
		{
			name: "EarlierCommandProvider",
			change: func(repo fstest.MapFS) {
				repo["Packs/Alpha/Integrations/First/First.yml"] = &fstest.MapFile{Data: []byte(`commonfields:
  id: First
name: First
script:
  type: python
  script: ''
  commands:
  - name: shared-cmd
  - name: my-cmd
`)}
			},
			paths: []string{"Packs/Alpha/Integrations/First/First.yml"},
		},
		{
			name: "PackMarketplaces",
			change: func(repo fstest.MapFS) {
				repo["Packs/Demo/pack_metadata.json"] = &fstest.MapFile{Data: []byte(`{
  "name": "Demo",
  "support": "xsoar",
  "currentVersion": "1.0.0",
  "marketplaces": ["xsoar"]
}`)}
			},
			paths: []string{"Packs/Demo/pack_metadata.json"},
		},
		{
			name: "RemovedCommandProvider",
			change: func(repo fstest.MapFS) {
				for p := range repo {
					if strings.HasPrefix(p, "Packs/Demo/Integrations/MyIntg/") {
						delete(repo, p)
					}
				}
			},
			paths: []string{"Packs/Demo/Integrations/MyIntg/MyIntg.yml"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo := demoRepo()
			b := buildDemo(t, repo)
			tt.change(repo)

			_, err := b.Reparse(t.Context(), tt.paths)
			require.NoError(t, err)

			fresh := buildDemo(t, repo)
			assert.Equal(t, graphShape(fresh.Graph()), graphShape(b.Graph()))
		})
	}

	t.Run("CommandNodeFollowsDeclarers", func(t *testing.T) {
		t.Parallel()
		repo := demoRepo()
		b := buildDemo(t, repo)
		repo["Packs/Demo/pack_metadata.json"] = &fstest.MapFile{Data: []byte(`{"name": "Demo", "marketplaces": ["xsoar"]}`)}

		_, err := b.Reparse(t.Context(), []string{"Packs/Demo/pack_metadata.json"})
		require.NoError(t, err)

		g := b.Graph()
		assert.Equal(t, []content.Marketplace{content.MarketplaceXSOAR}, g.GetNode("command:my-cmd").Marketplaces)
		assert.Equal(t, content.DefaultMarketplaces, g.GetNode("command:shared-cmd").Marketplaces,
			"shared commands keep the marketplaces of every declarer")
	})
}
