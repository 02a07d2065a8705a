package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/graph"
)

func newItem(t content.Type, id, path string) *content.Item {
	return &content.Item{
		Type:         t,
		ObjectID:     id,
		Name:         id,
		FromVersion:  content.DefaultFromVersion,
		ToVersion:    content.DefaultToVersion,
		Marketplaces: []content.Marketplace{content.MarketplaceXSOAR},
		PackID:       "P",
		Path:         path,
	}
}

// testGraph holds a pack, a playbook using a script and a phantom script,
// and a duplicate of the script.
func testGraph() *graph.ContentGraph {
	g := graph.NewContentGraph()
	pack := newItem(content.TypePackMetadata, "P", "Packs/P/pack_metadata.json")
	helper := newItem(content.TypeScript, "HelperScript", "Packs/P/Scripts/HelperScript/HelperScript.yml")
	pb := newItem(content.TypePlaybook, "PB", "Packs/P/Playbooks/PB.yml")
	ghost := content.NewPhantom(content.TypeScript, "Ghost")
	for _, n := range []*content.Item{pack, helper, pb, ghost} {
		g.AddNode(n)
	}
	g.AddRelationship(graph.NewRelationship(graph.RelUses, pb, helper, true))
	g.AddRelationship(graph.NewRelationship(graph.RelUses, pb, ghost, false))
	g.AddRelationship(graph.NewRelationship(graph.RelInPack, pb, pack, true))
	g.AddRelationship(graph.NewRelationship(graph.RelInPack, helper, pack, true))

	g.AddDuplicate(newItem(content.TypeScript, "HelperScript", "Packs/P/Scripts/Other/HelperScript.yml"))
	return g
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	badger := NewBadgerBackend()
	require.NoError(t, badger.Initialize(filepath.Join(t.TempDir(), "badger"), false))
	t.Cleanup(func() { badger.Close() })

	return map[string]Backend{
		"Memory": NewMemoryBackend(),
		"Badger": badger,
	}
}

func relIDs(g *graph.ContentGraph) []string {
	var ids []string
	for rel := range g.Relationships() {
		ids = append(ids, rel.ID)
	}
	return ids
}

func nodeIDs(g *graph.ContentGraph) []string {
	var ids []string
	for n := range g.Nodes() {
		ids = append(ids, n.ID())
	}
	return ids
}

func TestBackend_BulkLoad(t *testing.T) {
	t.Parallel()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			src := testGraph()

			report, err := backend.BulkLoad(ctx, src, 0)
			require.NoError(t, err)
			assert.Equal(t, 4, report.Nodes)
			assert.Equal(t, 4, report.Relationships)
			assert.Zero(t, report.RolledBack)
			assert.Equal(t, 4, backend.NodeCount())
			assert.Equal(t, 4, backend.RelationshipCount())

			loaded, err := backend.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, nodeIDs(src), nodeIDs(loaded))
			assert.Equal(t, relIDs(src), relIDs(loaded))
			assert.True(t, loaded.GetNode("script:Ghost").NotInRepository)
			require.Len(t, loaded.Duplicates("script:HelperScript"), 1)
			assert.Equal(t, "Packs/P/Scripts/Other/HelperScript.yml", loaded.Duplicates("script:HelperScript")[0].Path)
		})
	}
}

func TestBackend_BulkLoadReplacesContents(t *testing.T) {
	t.Parallel()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := backend.BulkLoad(ctx, testGraph(), 0)
			require.NoError(t, err)

			small := graph.NewContentGraph()
			small.AddNode(newItem(content.TypeScript, "Only", "Packs/P/Scripts/Only/Only.yml"))
			_, err = backend.BulkLoad(ctx, small, 0)
			require.NoError(t, err)

			assert.Equal(t, 1, backend.NodeCount())
			assert.Zero(t, backend.RelationshipCount())
		})
	}
}

func TestBackend_BatchRollback(t *testing.T) {
	t.Parallel()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := testGraph()
			broken := newItem(content.TypeScript, "Broken", "Packs/P/Scripts/Broken/Broken.yml")
			broken.FromVersion = ""
			g.AddNode(broken)
			g.AddRelationship(graph.NewRelationship(graph.RelUses, g.GetNode("playbook:PB"), broken, true))

			report, err := backend.BulkLoad(ctx, g, 1)
			require.NoError(t, err)

			assert.Equal(t, 2, report.RolledBack, "the broken node and the edge pointing at it")
			assert.Equal(t, 4, report.Nodes)
			assert.Equal(t, 4, report.Relationships)
			require.Len(t, report.Violations, 2)
			assert.Equal(t, "script:Broken", report.Violations[0].ID)
			assert.Equal(t, "missing fromversion", report.Violations[0].Reason)
			assert.Equal(t, "relationship", report.Violations[1].Kind)

			n, err := backend.GetNode(ctx, "script:Broken")
			require.NoError(t, err)
			assert.Nil(t, n)
		})
	}
}

func TestBackend_ReplacePaths(t *testing.T) {
	t.Parallel()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := backend.BulkLoad(ctx, testGraph(), 0)
			require.NoError(t, err)

			// The playbook no longer references the phantom.
			updated := testGraph()
			updated.RemoveNode("script:Ghost")
			pb := updated.GetNode("playbook:PB")
			pb.Description = "edited"

			report, err := backend.ReplacePaths(ctx, updated, []string{pb.Path})
			require.NoError(t, err)
			assert.Zero(t, report.RolledBack)

			loaded, err := backend.Load(ctx)
			require.NoError(t, err)
			assert.Nil(t, loaded.GetNode("script:Ghost"), "orphaned phantoms are dropped")
			assert.Equal(t, "edited", loaded.GetNode("playbook:PB").Description)
			assert.Equal(t, relIDs(updated), relIDs(loaded))
			assert.Equal(t, 3, backend.NodeCount())
		})
	}
}

func TestBackend_ReplacePathsRejectsConflictingIdentity(t *testing.T) {
	t.Parallel()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := backend.BulkLoad(ctx, testGraph(), 0)
			require.NoError(t, err)

			g := graph.NewContentGraph()
			moved := newItem(content.TypeScript, "HelperScript", "Packs/Q/Scripts/HelperScript/HelperScript.yml")
			g.AddNode(moved)

			report, err := backend.ReplacePaths(ctx, g, []string{moved.Path})
			require.NoError(t, err)
			assert.Equal(t, 1, report.RolledBack)

			n, err := backend.GetNode(ctx, "script:HelperScript")
			require.NoError(t, err)
			assert.Equal(t, "Packs/P/Scripts/HelperScript/HelperScript.yml", n.Path)
		})
	}
}

func TestBackend_Queries(t *testing.T) {
	t.Parallel()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := backend.BulkLoad(ctx, testGraph(), 0)
			require.NoError(t, err)

			n, err := backend.GetNode(ctx, "playbook:PB")
			require.NoError(t, err)
			require.NotNil(t, n)
			assert.Equal(t, "Packs/P/Playbooks/PB.yml", n.Path)

			missing, err := backend.GetNode(ctx, "playbook:Nope")
			assert.NoError(t, err)
			assert.Nil(t, missing)

			scripts, err := backend.GetNodesByType(ctx, content.TypeScript)
			require.NoError(t, err)
			require.Len(t, scripts, 2)
			assert.Equal(t, "script:Ghost", scripts[0].ID())
			assert.Equal(t, "script:HelperScript", scripts[1].ID())

			results, err := backend.Search(ctx, "helper", 10)
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, "script:HelperScript", results[0].NodeID)
			assert.Equal(t, content.TypeScript, results[0].Type)

			none, err := backend.Search(ctx, "zzz", 10)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestBatches(t *testing.T) {
	t.Parallel()

	assert.Equal(t, [][2]int{{0, 2}, {2, 4}, {4, 5}}, batches(5, 2))
	assert.Equal(t, [][2]int{{0, 5}}, batches(5, 0))
	assert.Empty(t, batches(0, 2))
}

func TestPathRecords(t *testing.T) {
	t.Parallel()

	nodes, rels := pathRecords(testGraph(), []string{"Packs/P/Playbooks/PB.yml"})

	var ids []string
	for _, n := range nodes {
		ids = append(ids, n.ID())
	}
	assert.Equal(t, []string{"pack-metadata:P", "playbook:PB", "script:Ghost", "script:HelperScript"}, ids)
	assert.Len(t, rels, 3, "the playbook edges only")
}

func TestLoadReport_Err(t *testing.T) {
	t.Parallel()

	assert.NoError(t, (&LoadReport{Nodes: 3}).Err())
	assert.ErrorIs(t, (&LoadReport{RolledBack: 1}).Err(), ErrConstraintViolation)

	var nilReport *LoadReport
	assert.NoError(t, nilReport.Err())
}
