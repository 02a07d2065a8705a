package graph

import (
	"iter"
	"slices"
	"sort"
	"sync"

	"github.com/Benny93/contentgraph/internal/content"
)

// ContentGraph is an in-memory directed graph of content items and their
// relationships.
//
// Nodes are keyed by their identity string; relationships are keyed by
// GenerateRelID. Removing a node cascades to any relationship where the
// node appears as source or target.
//
// Lookups by type, path, relationship kind and adjacency are backed by
// secondary indexes so that they are O(result) rather than O(graph).
type ContentGraph struct {
	mu            sync.RWMutex
	nodes         map[string]*content.Item
	relationships map[string]*Relationship

	// Secondary indexes, kept in sync by the add/remove helpers.
	byType    map[content.Type]map[string]*content.Item
	byPath    map[string]map[string]*content.Item
	byRelType map[RelType]map[string]*Relationship
	outgoing  map[string]map[string]*Relationship
	incoming  map[string]map[string]*Relationship

	// duplicates holds the items that lost the identity race, by node id.
	duplicates map[string][]*content.Item
}

// NewContentGraph creates a new empty content graph.
func NewContentGraph() *ContentGraph {
	return &ContentGraph{
		nodes:         make(map[string]*content.Item),
		relationships: make(map[string]*Relationship),
		byType:        make(map[content.Type]map[string]*content.Item),
		byPath:        make(map[string]map[string]*content.Item),
		byRelType:     make(map[RelType]map[string]*Relationship),
		outgoing:      make(map[string]map[string]*Relationship),
		incoming:      make(map[string]map[string]*Relationship),
		duplicates:    make(map[string][]*content.Item),
	}
}

// NodeCount returns the number of nodes without list materialization.
func (g *ContentGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// RelationshipCount returns the number of relationships without list materialization.
func (g *ContentGraph) RelationshipCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.relationships)
}

// CountNodesByType returns the count of nodes with the given type.
func (g *ContentGraph) CountNodesByType(t content.Type) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byType[t])
}

// Nodes yields every node ordered by id. The sequence works on a snapshot,
// so the graph may be modified while iterating.
func (g *ContentGraph) Nodes() iter.Seq[*content.Item] {
	g.mu.RLock()
	snapshot := sortedItems(g.nodes)
	g.mu.RUnlock()
	return slices.Values(snapshot)
}

// Relationships yields every relationship ordered by id, on a snapshot.
func (g *ContentGraph) Relationships() iter.Seq[*Relationship] {
	g.mu.RLock()
	snapshot := sortedRels(g.relationships)
	g.mu.RUnlock()
	return slices.Values(snapshot)
}

// AddNode adds an item, replacing any node with the same identity. It
// returns the replaced node, if any.
func (g *ContentGraph) AddNode(item *content.Item) *content.Item {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := item.ID()
	old := g.nodes[id]
	if old != nil {
		g.unindexNode(id, old)
	}

	g.nodes[id] = item
	if g.byType[item.Type] == nil {
		g.byType[item.Type] = make(map[string]*content.Item)
	}
	g.byType[item.Type][id] = item
	if item.Path != "" {
		if g.byPath[item.Path] == nil {
			g.byPath[item.Path] = make(map[string]*content.Item)
		}
		g.byPath[item.Path][id] = item
	}
	return old
}

// GetNode returns the node with the given id, or nil if it does not exist.
func (g *ContentGraph) GetNode(nodeID string) *content.Item {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[nodeID]
}

// Lookup returns the node with the given type and object id.
func (g *ContentGraph) Lookup(t content.Type, objectID string) *content.Item {
	return g.GetNode(content.NodeID(t, objectID))
}

// RemoveNode removes a node and cascade-deletes all relationships that reference it.
// Returns true if the node existed and was removed, false otherwise.
func (g *ContentGraph) RemoveNode(nodeID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	item, ok := g.nodes[nodeID]
	if !ok {
		return false
	}
	g.unindexNode(nodeID, item)
	delete(g.nodes, nodeID)
	g.cascadeRelationshipsForNode(nodeID)
	return true
}

// RemoveNodesByPath removes every node parsed from filePath, cascade-deletes
// their relationships and forgets duplicates declared at that path.
// Returns the ids of the removed nodes.
func (g *ContentGraph) RemoveNodesByPath(filePath string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, dups := range g.duplicates {
		kept := slices.DeleteFunc(dups, func(d *content.Item) bool { return d.Path == filePath })
		if len(kept) == 0 {
			delete(g.duplicates, id)
		} else {
			g.duplicates[id] = kept
		}
	}

	items := g.byPath[filePath]
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		item := g.nodes[id]
		g.unindexNode(id, item)
		delete(g.nodes, id)
	}
	for _, id := range ids {
		g.cascadeRelationshipsForNode(id)
	}
	return ids
}

// NodesByPath returns the nodes parsed from filePath.
func (g *ContentGraph) NodesByPath(filePath string) []*content.Item {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedItems(g.byPath[filePath])
}

// AddRelationship adds a relationship, replacing any relationship with the same ID.
func (g *ContentGraph) AddRelationship(rel *Relationship) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.relationships[rel.ID]; ok {
		g.unindexRel(old)
	}

	g.relationships[rel.ID] = rel

	if g.byRelType[rel.Type] == nil {
		g.byRelType[rel.Type] = make(map[string]*Relationship)
	}
	g.byRelType[rel.Type][rel.ID] = rel

	if g.outgoing[rel.Source] == nil {
		g.outgoing[rel.Source] = make(map[string]*Relationship)
	}
	g.outgoing[rel.Source][rel.ID] = rel

	if g.incoming[rel.Target] == nil {
		g.incoming[rel.Target] = make(map[string]*Relationship)
	}
	g.incoming[rel.Target][rel.ID] = rel
}

// GetRelationship returns the relationship with the given id, or nil.
func (g *ContentGraph) GetRelationship(relID string) *Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.relationships[relID]
}

// RemoveRelationship deletes a relationship by id.
func (g *ContentGraph) RemoveRelationship(relID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	rel, ok := g.relationships[relID]
	if !ok {
		return false
	}
	g.unindexRel(rel)
	delete(g.relationships, relID)
	return true
}

// NodesByType returns all nodes with the given types, ordered by id.
func (g *ContentGraph) NodesByType(types ...content.Type) []*content.Item {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result []*content.Item
	for _, t := range types {
		result = append(result, sortedItems(g.byType[t])...)
	}
	return result
}

// RelationshipsByType returns all relationships of the given kind, ordered by id.
func (g *ContentGraph) RelationshipsByType(relType RelType) []*Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedRels(g.byRelType[relType])
}

// GetOutgoing returns relationships originating from the given node, ordered
// by id. With kinds, only relationships of those kinds are returned.
func (g *ContentGraph) GetOutgoing(nodeID string, kinds ...RelType) []*Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return filterRels(g.outgoing[nodeID], kinds)
}

// GetIncoming returns relationships targeting the given node, ordered by id.
// With kinds, only relationships of those kinds are returned.
func (g *ContentGraph) GetIncoming(nodeID string, kinds ...RelType) []*Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return filterRels(g.incoming[nodeID], kinds)
}

// HasIncoming returns true if the node has any incoming relationship of the given kind.
func (g *ContentGraph) HasIncoming(nodeID string, relType RelType) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, rel := range g.incoming[nodeID] {
		if rel.Type == relType {
			return true
		}
	}
	return false
}

// AddDuplicate records an item whose identity is already held by a node.
func (g *ContentGraph) AddDuplicate(item *content.Item) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.duplicates[item.ID()] = append(g.duplicates[item.ID()], item)
}

// Duplicates returns the items that share nodeID with the node in the graph.
func (g *ContentGraph) Duplicates(nodeID string) []*content.Item {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.duplicates[nodeID])
}

// DuplicateIDs returns the node ids declared by more than one path, sorted.
func (g *ContentGraph) DuplicateIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.duplicates))
	for id := range g.duplicates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns a summary of graph size.
func (g *ContentGraph) Stats() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	phantoms := 0
	for _, n := range g.nodes {
		if n.NotInRepository {
			phantoms++
		}
	}
	return map[string]int{
		"nodes":         len(g.nodes),
		"relationships": len(g.relationships),
		"phantoms":      phantoms,
		"duplicates":    len(g.duplicates),
	}
}

// unindexNode drops item from the type and path indexes.
// Must be called with the write lock held.
func (g *ContentGraph) unindexNode(id string, item *content.Item) {
	delete(g.byType[item.Type], id)
	if item.Path != "" {
		delete(g.byPath[item.Path], id)
		if len(g.byPath[item.Path]) == 0 {
			delete(g.byPath, item.Path)
		}
	}
}

// unindexRel drops rel from the kind and adjacency indexes.
// Must be called with the write lock held.
func (g *ContentGraph) unindexRel(rel *Relationship) {
	delete(g.byRelType[rel.Type], rel.ID)
	delete(g.outgoing[rel.Source], rel.ID)
	delete(g.incoming[rel.Target], rel.ID)
}

// cascadeRelationshipsForNode removes all relationships where the node is source or target.
// Must be called with the write lock held.
func (g *ContentGraph) cascadeRelationshipsForNode(nodeID string) {
	for _, rel := range g.outgoing[nodeID] {
		delete(g.relationships, rel.ID)
		delete(g.byRelType[rel.Type], rel.ID)
		delete(g.incoming[rel.Target], rel.ID)
	}
	delete(g.outgoing, nodeID)

	for _, rel := range g.incoming[nodeID] {
		delete(g.relationships, rel.ID)
		delete(g.byRelType[rel.Type], rel.ID)
		delete(g.outgoing[rel.Source], rel.ID)
	}
	delete(g.incoming, nodeID)
}

func sortedItems(m map[string]*content.Item) []*content.Item {
	out := make([]*content.Item, 0, len(m))
	for _, item := range m {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func sortedRels(m map[string]*Relationship) []*Relationship {
	out := make([]*Relationship, 0, len(m))
	for _, rel := range m {
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func filterRels(m map[string]*Relationship, kinds []RelType) []*Relationship {
	out := make([]*Relationship, 0, len(m))
	for _, rel := range m {
		if len(kinds) == 0 || slices.Contains(kinds, rel.Type) {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
