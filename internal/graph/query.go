package graph

import (
	"iter"
	"slices"
	"sort"

	"github.com/Benny93/contentgraph/internal/content"
)

// Query is the read API over a content graph. Every query streams its
// results in a deterministic order.
type Query struct {
	g *ContentGraph
}

// NewQuery returns a query API over g.
func NewQuery(g *ContentGraph) *Query {
	return &Query{g: g}
}

// Graph returns the underlying graph.
func (q *Query) Graph() *ContentGraph {
	return q.g
}

// Filter selects nodes. Empty fields match everything.
type Filter struct {
	Types        []content.Type
	Marketplaces []content.Marketplace
	Support      []content.SupportTier

	// IncludePhantoms also yields nodes that are not in the repository.
	IncludePhantoms bool
}

// Match reports whether item passes the filter.
func (f Filter) Match(item *content.Item) bool {
	if item.NotInRepository && !f.IncludePhantoms {
		return false
	}
	if len(f.Types) > 0 && !slices.ContainsFunc(f.Types, item.Type.Is) {
		return false
	}
	if len(f.Marketplaces) > 0 && !slices.ContainsFunc(f.Marketplaces, item.InMarketplace) {
		return false
	}
	if len(f.Support) > 0 && !slices.Contains(f.Support, item.Support) {
		return false
	}
	return true
}

// Find yields the nodes matching f.
func (q *Query) Find(f Filter) iter.Seq[*content.Item] {
	return func(yield func(*content.Item) bool) {
		for item := range q.g.Nodes() {
			if f.Match(item) && !yield(item) {
				return
			}
		}
	}
}

// UsesOf yields every node reachable from id along edges of the given kinds
// (USES by default), depth-first. Each node is yielded once and the start
// node is never yielded.
func (q *Query) UsesOf(id string, kinds ...RelType) iter.Seq[*content.Item] {
	return q.traverse(id, true, kinds)
}

// UsedBy yields every node that reaches id along edges of the given kinds
// (USES by default), depth-first.
func (q *Query) UsedBy(id string, kinds ...RelType) iter.Seq[*content.Item] {
	return q.traverse(id, false, kinds)
}

func (q *Query) traverse(start string, forward bool, kinds []RelType) iter.Seq[*content.Item] {
	if len(kinds) == 0 {
		kinds = []RelType{RelUses}
	}
	return func(yield func(*content.Item) bool) {
		visited := map[string]bool{start: true}
		stack := []string{start}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			var rels []*Relationship
			if forward {
				rels = q.g.GetOutgoing(cur, kinds...)
			} else {
				rels = q.g.GetIncoming(cur, kinds...)
			}
			// push in reverse so that the lowest id is visited first
			for i := len(rels) - 1; i >= 0; i-- {
				next := rels[i].Target
				if !forward {
					next = rels[i].Source
				}
				if visited[next] {
					continue
				}
				visited[next] = true
				item := q.g.GetNode(next)
				if item == nil {
					continue
				}
				if !yield(item) {
					return
				}
				stack = append(stack, next)
			}
		}
	}
}

// VersionSkew is a source item and the targets it uses whose version window
// does not cover the source.
type VersionSkew struct {
	Source  *content.Item
	Targets []*content.Item
}

// FindUsesPathsWithInvalidToVersion yields, per source, the USES targets
// whose toversion is lower than the source toversion. With paths, only
// sources parsed from those paths are checked. forSupportedVersions limits
// sources to those whose toversion reaches the supported floor.
func (q *Query) FindUsesPathsWithInvalidToVersion(paths []string, forSupportedVersions bool) iter.Seq[VersionSkew] {
	return q.versionSkews(paths, forSupportedVersions, func(source, target *content.Item) bool {
		return content.VersionLess(target.ToVersion, source.ToVersion)
	})
}

// FindUsesPathsWithInvalidFromVersion yields, per source, the USES targets
// whose fromversion is higher than the source fromversion.
func (q *Query) FindUsesPathsWithInvalidFromVersion(paths []string, forSupportedVersions bool) iter.Seq[VersionSkew] {
	return q.versionSkews(paths, forSupportedVersions, func(source, target *content.Item) bool {
		return content.VersionLess(source.FromVersion, target.FromVersion)
	})
}

func (q *Query) versionSkews(paths []string, forSupportedVersions bool, invalid func(source, target *content.Item) bool) iter.Seq[VersionSkew] {
	return func(yield func(VersionSkew) bool) {
		for _, source := range q.sources(paths) {
			if forSupportedVersions && content.VersionLess(source.ToVersion, content.SupportedVersionFloor) {
				continue
			}
			var targets []*content.Item
			for _, rel := range q.g.GetOutgoing(source.ID(), RelUses) {
				target := q.g.GetNode(rel.Target)
				if target == nil || target.NotInRepository || target.ID() == source.ID() {
					continue
				}
				if !invalid(source, target) {
					continue
				}
				covered := false
				for _, alt := range q.g.Duplicates(target.ID()) {
					if !invalid(source, alt) {
						covered = true
						break
					}
				}
				if !covered {
					targets = append(targets, target)
				}
			}
			if len(targets) > 0 && !yield(VersionSkew{Source: source, Targets: targets}) {
				return
			}
		}
	}
}

// sources returns the repository nodes at paths, or all repository nodes.
func (q *Query) sources(paths []string) []*content.Item {
	var out []*content.Item
	if len(paths) == 0 {
		for item := range q.g.Nodes() {
			if !item.NotInRepository {
				out = append(out, item)
			}
		}
		return out
	}
	seen := make(map[string]bool)
	for _, p := range paths {
		for _, item := range q.g.NodesByPath(p) {
			if !seen[item.ID()] {
				seen[item.ID()] = true
				out = append(out, item)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// FindCyclesOfKind yields one elementary cycle per strongly connected
// component of the sub-graph made of edges of kind between nodes of types
// (any type when empty). Phantoms never take part. A cycle is a list of node
// ids whose last element links back to the first.
func (q *Query) FindCyclesOfKind(kind RelType, types ...content.Type) iter.Seq[[]string] {
	return func(yield func([]string) bool) {
		adj := q.subgraph(kind, types)
		for _, scc := range tarjan(adj) {
			var cycle []string
			switch {
			case len(scc) > 1:
				cycle = cycleWitness(adj, scc)
			case slices.Contains(adj[scc[0]], scc[0]):
				cycle = []string{scc[0]}
			}
			if len(cycle) > 0 && !yield(cycle) {
				return
			}
		}
	}
}

// subgraph builds sorted adjacency lists restricted to kind and types.
func (q *Query) subgraph(kind RelType, types []content.Type) map[string][]string {
	keep := func(id string) bool {
		item := q.g.GetNode(id)
		if item == nil || item.NotInRepository {
			return false
		}
		return len(types) == 0 || slices.ContainsFunc(types, item.Type.Is)
	}
	adj := make(map[string][]string)
	for _, rel := range q.g.RelationshipsByType(kind) {
		if !keep(rel.Source) || !keep(rel.Target) {
			continue
		}
		adj[rel.Source] = append(adj[rel.Source], rel.Target)
		if _, ok := adj[rel.Target]; !ok {
			adj[rel.Target] = nil
		}
	}
	for id := range adj {
		sort.Strings(adj[id])
	}
	return adj
}

// tarjan returns the strongly connected components of adj. Components and
// their members are sorted.
func tarjan(adj map[string][]string) [][]string {
	ids := make([]string, 0, len(adj))
	for id := range adj {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		index   = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		stack   []string
		counter int
		result  [][]string
	)

	var strongConnect func(v string)
	strongConnect = func(v string) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, seen := index[w]; !seen {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], index[w])
			}
		}

		if lowlink[v] == index[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			result = append(result, scc)
		}
	}

	for _, id := range ids {
		if _, seen := index[id]; !seen {
			strongConnect(id)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i][0] < result[j][0] })
	return result
}

// cycleWitness finds a cycle through the smallest member of scc using a
// breadth-first search that stays inside the component.
func cycleWitness(adj map[string][]string, scc []string) []string {
	members := make(map[string]bool, len(scc))
	for _, id := range scc {
		members[id] = true
	}
	start := scc[0]
	parent := map[string]string{}
	queue := []string{start}
	visited := map[string]bool{start: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if !members[next] {
				continue
			}
			if next == start {
				path := []string{cur}
				for path[len(path)-1] != start {
					path = append(path, parent[path[len(path)-1]])
				}
				slices.Reverse(path)
				return path
			}
			if !visited[next] {
				visited[next] = true
				parent[next] = cur
				queue = append(queue, next)
			}
		}
	}
	return nil
}

// FindPhantomTargets yields the edges of the given kinds (all kinds when
// empty) whose target is not in the repository.
func (q *Query) FindPhantomTargets(kinds ...RelType) iter.Seq[*Relationship] {
	return func(yield func(*Relationship) bool) {
		for rel := range q.g.Relationships() {
			if len(kinds) > 0 && !slices.Contains(kinds, rel.Type) {
				continue
			}
			target := q.g.GetNode(rel.Target)
			if target != nil && !target.NotInRepository {
				continue
			}
			if !yield(rel) {
				return
			}
		}
	}
}

// Duplicate is an identity declared by more than one file.
type Duplicate struct {
	ID string
	// Items holds the winning node first, then the losing declarations.
	Items []*content.Item
}

// FindDuplicateObjectIDs yields the identities declared by more than one path.
func (q *Query) FindDuplicateObjectIDs() iter.Seq[Duplicate] {
	return func(yield func(Duplicate) bool) {
		for _, id := range q.g.DuplicateIDs() {
			d := Duplicate{ID: id}
			if node := q.g.GetNode(id); node != nil {
				d.Items = append(d.Items, node)
			}
			d.Items = append(d.Items, q.g.Duplicates(id)...)
			if !yield(d) {
				return
			}
		}
	}
}

// DeprecatedUsage is an item that uses deprecated items.
type DeprecatedUsage struct {
	Source  *content.Item
	Targets []*content.Item
}

// FindDeprecatedUsage yields non-deprecated repository items whose USES
// edges point at deprecated items.
func (q *Query) FindDeprecatedUsage(paths []string) iter.Seq[DeprecatedUsage] {
	return func(yield func(DeprecatedUsage) bool) {
		for _, source := range q.sources(paths) {
			if source.Deprecated {
				continue
			}
			var targets []*content.Item
			for _, rel := range q.g.GetOutgoing(source.ID(), RelUses) {
				target := q.g.GetNode(rel.Target)
				if target != nil && target.Deprecated && !target.NotInRepository {
					targets = append(targets, target)
				}
			}
			if len(targets) > 0 && !yield(DeprecatedUsage{Source: source, Targets: targets}) {
				return
			}
		}
	}
}

// MarketplaceMismatch is a mandatory USES edge whose target does not ship
// to every marketplace of its source.
type MarketplaceMismatch struct {
	Source  *content.Item
	Target  *content.Item
	Missing []content.Marketplace
}

// FindMarketplaceMismatches yields mandatory USES edges from sources at
// paths (all sources when empty) to targets missing some of the source's
// marketplaces.
func (q *Query) FindMarketplaceMismatches(paths []string) iter.Seq[MarketplaceMismatch] {
	return func(yield func(MarketplaceMismatch) bool) {
		for _, source := range q.sources(paths) {
			for _, rel := range q.g.GetOutgoing(source.ID(), RelUses) {
				if !rel.Mandatory {
					continue
				}
				target := q.g.GetNode(rel.Target)
				if target == nil || target.NotInRepository {
					continue
				}
				ok, missing := content.MarketplacesSubset(source.Marketplaces, target.Marketplaces)
				if ok {
					continue
				}
				if !yield(MarketplaceMismatch{Source: source, Target: target, Missing: missing}) {
					return
				}
			}
		}
	}
}

// PropCandidates is the edge property listing every integration that
// declares an unqualified command.
const PropCandidates = "candidates"

// AmbiguousCommand is a command reference that more than one integration
// could serve.
type AmbiguousCommand struct {
	Relationship *Relationship
	Command      string
	Candidates   []string
}

// FindAmbiguousCommands yields USES edges created for unqualified commands
// declared by several integrations.
func (q *Query) FindAmbiguousCommands() iter.Seq[AmbiguousCommand] {
	return func(yield func(AmbiguousCommand) bool) {
		for _, rel := range q.g.RelationshipsByType(RelUses) {
			candidates := content.AsStrings(rel.Properties[PropCandidates])
			if len(candidates) < 2 {
				continue
			}
			cmd, _ := rel.Properties["command"].(string)
			if !yield(AmbiguousCommand{Relationship: rel, Command: cmd, Candidates: candidates}) {
				return
			}
		}
	}
}
