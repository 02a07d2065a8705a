package graph

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/contentgraph/internal/content"
)

func versioned(t content.Type, id, from, to string) *content.Item {
	it := item(t, id, "Packs/P/"+id+".yml")
	it.FromVersion = from
	it.ToVersion = to
	return it
}

func TestQuery_Find(t *testing.T) {
	t.Parallel()

	g := NewContentGraph()
	s := item(content.TypeScript, "S", "s.yml")
	s.Support = content.SupportPartner
	tpb := item(content.TypeTestPlaybook, "T", "t.yml")
	v2 := item(content.TypePlaybook, "V2", "v2.yml")
	v2.Marketplaces = []content.Marketplace{content.MarketplaceV2}
	g.AddNode(s)
	g.AddNode(tpb)
	g.AddNode(v2)
	g.AddNode(content.NewPhantom(content.TypeScript, "Ghost"))
	q := NewQuery(g)

	t.Run("ByType", func(t *testing.T) {
		got := slices.Collect(q.Find(Filter{Types: []content.Type{content.TypePlaybook}}))
		require.Len(t, got, 2, "test playbooks are playbooks")
	})

	t.Run("ByMarketplace", func(t *testing.T) {
		got := slices.Collect(q.Find(Filter{Marketplaces: []content.Marketplace{content.MarketplaceXPANSE}}))
		assert.Empty(t, got)
		got = slices.Collect(q.Find(Filter{Marketplaces: []content.Marketplace{content.MarketplaceV2}}))
		assert.Len(t, got, 3)
	})

	t.Run("BySupport", func(t *testing.T) {
		got := slices.Collect(q.Find(Filter{Support: []content.SupportTier{content.SupportPartner}}))
		require.Len(t, got, 1)
		assert.Equal(t, "S", got[0].ObjectID)
	})

	t.Run("Phantoms", func(t *testing.T) {
		assert.Len(t, slices.Collect(q.Find(Filter{})), 3)
		assert.Len(t, slices.Collect(q.Find(Filter{IncludePhantoms: true})), 4)
	})
}

func TestQuery_Traversal(t *testing.T) {
	t.Parallel()

	g := NewContentGraph()
	a := item(content.TypePlaybook, "A", "a.yml")
	b := item(content.TypeScript, "B", "b.yml")
	c := item(content.TypeScript, "C", "c.yml")
	d := item(content.TypeTestPlaybook, "D", "d.yml")
	for _, n := range []*content.Item{a, b, c, d} {
		g.AddNode(n)
	}
	link(g, RelUses, a, b)
	link(g, RelUses, b, c)
	link(g, RelUses, c, b)
	link(g, RelTestedBy, a, d)
	q := NewQuery(g)

	ids := func(seq func(func(*content.Item) bool)) []string {
		var out []string
		for n := range seq {
			out = append(out, n.ObjectID)
		}
		return out
	}

	t.Run("UsesOf", func(t *testing.T) {
		assert.Equal(t, []string{"B", "C"}, ids(q.UsesOf("playbook:A")))
	})

	t.Run("UsesOfKinds", func(t *testing.T) {
		assert.Equal(t, []string{"D"}, ids(q.UsesOf("playbook:A", RelTestedBy)))
	})

	t.Run("UsedBy", func(t *testing.T) {
		assert.Equal(t, []string{"B", "A"}, ids(q.UsedBy("script:C")))
	})

	t.Run("EarlyStop", func(t *testing.T) {
		n := 0
		for range q.UsesOf("playbook:A") {
			n++
			break
		}
		assert.Equal(t, 1, n)
	})
}

func TestQuery_VersionSkew(t *testing.T) {
	t.Parallel()

	g := NewContentGraph()
	intg := versioned(content.TypeIntegration, "MyIntg", "0.0.0", "6.10.0")
	helper := versioned(content.TypeScript, "HelperScr", "0.0.0", "6.5.0")
	newer := versioned(content.TypeScript, "Newer", "6.8.0", "99.99.99")
	old := versioned(content.TypePlaybook, "Old", "0.0.0", "6.0.0")
	for _, n := range []*content.Item{intg, helper, newer, old} {
		g.AddNode(n)
	}
	link(g, RelUses, intg, helper)
	link(g, RelUses, intg, newer)
	link(g, RelUses, old, helper)
	ghost := content.NewPhantom(content.TypeScript, "Ghost")
	ghost.ToVersion = "1.0.0"
	g.AddNode(ghost)
	link(g, RelUses, intg, ghost)
	q := NewQuery(g)

	t.Run("ToVersion", func(t *testing.T) {
		got := slices.Collect(q.FindUsesPathsWithInvalidToVersion(nil, false))
		require.Len(t, got, 1)
		assert.Equal(t, "MyIntg", got[0].Source.ObjectID)
		require.Len(t, got[0].Targets, 1)
		assert.Equal(t, "HelperScr", got[0].Targets[0].ObjectID)
	})

	t.Run("SupportedVersionsOnly", func(t *testing.T) {
		got := slices.Collect(q.FindUsesPathsWithInvalidToVersion(nil, true))
		require.Len(t, got, 1)
		assert.Equal(t, "MyIntg", got[0].Source.ObjectID)
	})

	t.Run("ByPath", func(t *testing.T) {
		assert.Empty(t, slices.Collect(q.FindUsesPathsWithInvalidToVersion([]string{old.Path}, false)))
	})

	t.Run("FromVersion", func(t *testing.T) {
		got := slices.Collect(q.FindUsesPathsWithInvalidFromVersion(nil, false))
		require.Len(t, got, 1)
		assert.Equal(t, "Newer", got[0].Targets[0].ObjectID)
	})

	t.Run("DuplicateCoversSource", func(t *testing.T) {
		g := NewContentGraph()
		src := versioned(content.TypeIntegration, "I", "0.0.0", "99.99.99")
		low := versioned(content.TypeScript, "S", "0.0.0", "5.9.9")
		high := versioned(content.TypeScript, "S", "6.0.0", "99.99.99")
		high.Path = "Packs/P/S_new.yml"
		g.AddNode(src)
		g.AddNode(low)
		g.AddDuplicate(high)
		link(g, RelUses, src, low)

		assert.Empty(t, slices.Collect(NewQuery(g).FindUsesPathsWithInvalidToVersion(nil, false)))
	})
}

func TestQuery_FindCyclesOfKind(t *testing.T) {
	t.Parallel()

	g := NewContentGraph()
	a := item(content.TypeScript, "A", "a.yml")
	b := item(content.TypeScript, "B", "b.yml")
	c := item(content.TypeScript, "C", "c.yml")
	self := item(content.TypeScript, "Self", "self.yml")
	pb := item(content.TypePlaybook, "PB", "pb.yml")
	for _, n := range []*content.Item{a, b, c, self, pb} {
		g.AddNode(n)
	}
	link(g, RelUses, a, b)
	link(g, RelUses, b, c)
	link(g, RelUses, c, a)
	link(g, RelUses, self, self)
	link(g, RelUses, pb, a)
	link(g, RelUses, a, pb)
	ghost := content.NewPhantom(content.TypeScript, "Ghost")
	g.AddNode(ghost)
	link(g, RelUses, c, ghost)
	link(g, RelUses, ghost, c)
	q := NewQuery(g)

	t.Run("ScriptsOnly", func(t *testing.T) {
		cycles := slices.Collect(q.FindCyclesOfKind(RelUses, content.TypeScript))
		require.Len(t, cycles, 2)
		assert.Equal(t, []string{"script:A", "script:B", "script:C"}, cycles[0])
		assert.Equal(t, []string{"script:Self"}, cycles[1])
	})

	t.Run("AnyType", func(t *testing.T) {
		cycles := slices.Collect(q.FindCyclesOfKind(RelUses))
		require.Len(t, cycles, 2)
		assert.Len(t, cycles[0], 2, "shortest witness through the smallest member")
		assert.Equal(t, "playbook:PB", cycles[0][0])
	})

	t.Run("NoCycles", func(t *testing.T) {
		assert.Empty(t, slices.Collect(q.FindCyclesOfKind(RelTestedBy)))
	})
}

func TestQuery_Helpers(t *testing.T) {
	t.Parallel()

	g := NewContentGraph()
	src := item(content.TypePlaybook, "PB", "pb.yml")
	src.Marketplaces = []content.Marketplace{content.MarketplaceXSOAR, content.MarketplaceV2}
	dep := item(content.TypeScript, "Old", "old.yml")
	dep.Deprecated = true
	dep.Marketplaces = []content.Marketplace{content.MarketplaceXSOAR}
	g.AddNode(src)
	g.AddNode(dep)
	link(g, RelUses, src, dep)
	ghost := content.NewPhantom(content.TypeTestPlaybook, "GhostTPB")
	g.AddNode(ghost)
	link(g, RelConfJSONUses, item(content.TypeTestConf, "conf.json", "Tests/conf.json"), ghost)

	intg := item(content.TypeIntegration, "A", "a.yml")
	g.AddNode(intg)
	amb := NewRelationship(RelUses, src, intg, true)
	amb.Properties = map[string]any{PropCandidates: []any{"A", "B"}, "command": "shared"}
	g.AddRelationship(amb)

	g.AddDuplicate(item(content.TypeScript, "Old", "old2.yml"))
	q := NewQuery(g)

	t.Run("PhantomTargets", func(t *testing.T) {
		got := slices.Collect(q.FindPhantomTargets(RelConfJSONUses))
		require.Len(t, got, 1)
		assert.Equal(t, "test-playbook:GhostTPB", got[0].Target)
		assert.Empty(t, slices.Collect(q.FindPhantomTargets(RelImports)))
	})

	t.Run("DeprecatedUsage", func(t *testing.T) {
		got := slices.Collect(q.FindDeprecatedUsage(nil))
		require.Len(t, got, 1)
		assert.Equal(t, "PB", got[0].Source.ObjectID)
	})

	t.Run("MarketplaceMismatches", func(t *testing.T) {
		got := slices.Collect(q.FindMarketplaceMismatches(nil))
		require.Len(t, got, 1)
		assert.Equal(t, []content.Marketplace{content.MarketplaceV2}, got[0].Missing)
	})

	t.Run("AmbiguousCommands", func(t *testing.T) {
		got := slices.Collect(q.FindAmbiguousCommands())
		require.Len(t, got, 1)
		assert.Equal(t, "shared", got[0].Command)
		assert.Equal(t, []string{"A", "B"}, got[0].Candidates)
	})

	t.Run("Duplicates", func(t *testing.T) {
		got := slices.Collect(q.FindDuplicateObjectIDs())
		require.Len(t, got, 1)
		assert.Equal(t, "script:Old", got[0].ID)
		assert.Len(t, got[0].Items, 2)
	})
}
