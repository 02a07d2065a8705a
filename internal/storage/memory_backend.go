package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/graph"
)

// MemoryBackend is an in-memory implementation of Backend for testing.
// It holds copies of the loaded records, never the caller's pointers.
type MemoryBackend struct {
	mu sync.RWMutex
	g  *graph.ContentGraph
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{g: graph.NewContentGraph()}
}

// Initialize implements Backend.
func (m *MemoryBackend) Initialize(location string, readOnly bool) error {
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.g = graph.NewContentGraph()
	return nil
}

// BulkLoad implements Backend.
func (m *MemoryBackend) BulkLoad(ctx context.Context, g *graph.ContentGraph, batchSize int) (*LoadReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.g = graph.NewContentGraph()
	report := &LoadReport{}
	batch := 0

	nodes := slices.Collect(g.Nodes())
	for _, r := range batches(len(nodes), batchSize) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		chunk := nodes[r[0]:r[1]]
		report.Batches++
		if v := nodeViolations(batch, chunk); len(v) > 0 {
			report.RolledBack++
			report.Violations = append(report.Violations, v...)
		} else {
			for _, n := range chunk {
				m.g.AddNode(cloneItem(n))
			}
			report.Nodes += len(chunk)
		}
		batch++
	}

	rels := slices.Collect(g.Relationships())
	for _, r := range batches(len(rels), batchSize) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		chunk := rels[r[0]:r[1]]
		report.Batches++
		exists := func(id string) bool { return m.g.GetNode(id) != nil }
		if v := relViolations(batch, chunk, exists); len(v) > 0 {
			report.RolledBack++
			report.Violations = append(report.Violations, v...)
		} else {
			for _, rel := range chunk {
				m.g.AddRelationship(cloneRel(rel))
			}
			report.Relationships += len(chunk)
		}
		batch++
	}

	for _, id := range g.DuplicateIDs() {
		for _, dup := range g.Duplicates(id) {
			m.g.AddDuplicate(cloneItem(dup))
		}
	}
	return report, nil
}

// ReplacePaths implements Backend.
func (m *MemoryBackend) ReplacePaths(ctx context.Context, g *graph.ContentGraph, paths []string) (*LoadReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := &LoadReport{Batches: 1}
	nodes, rels := pathRecords(g, paths)
	if v := nodeViolations(0, nodes); len(v) > 0 {
		report.RolledBack = 1
		report.Violations = v
		return report, nil
	}
	for _, n := range nodes {
		existing := m.g.GetNode(n.ID())
		if existing != nil && !existing.NotInRepository && existing.Path != n.Path && !slices.Contains(paths, existing.Path) {
			report.RolledBack = 1
			report.Violations = []Violation{{Kind: "node", ID: n.ID(), Reason: "identity already stored at " + existing.Path}}
			return report, nil
		}
	}

	orphans := make(map[string]bool)
	for _, p := range paths {
		for _, n := range m.g.NodesByPath(p) {
			for _, rel := range m.g.GetOutgoing(n.ID()) {
				orphans[rel.Target] = true
			}
			for _, rel := range m.g.GetIncoming(n.ID()) {
				orphans[rel.Source] = true
			}
		}
		m.g.RemoveNodesByPath(p)
	}

	for _, n := range nodes {
		m.g.AddNode(cloneItem(n))
		report.Nodes++
	}
	for _, rel := range rels {
		m.g.AddRelationship(cloneRel(rel))
		report.Relationships++
	}
	for _, id := range g.DuplicateIDs() {
		for _, dup := range g.Duplicates(id) {
			if slices.Contains(paths, dup.Path) {
				m.g.AddDuplicate(cloneItem(dup))
			}
		}
	}

	for id := range orphans {
		if g.GetNode(id) != nil {
			continue
		}
		if n := m.g.GetNode(id); n != nil && n.Path == "" {
			m.g.RemoveNode(id)
		}
	}
	return report, ctx.Err()
}

// Load implements Backend.
func (m *MemoryBackend) Load(ctx context.Context) (*graph.ContentGraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g := graph.NewContentGraph()
	for n := range m.g.Nodes() {
		g.AddNode(cloneItem(n))
	}
	for rel := range m.g.Relationships() {
		g.AddRelationship(cloneRel(rel))
	}
	for _, id := range m.g.DuplicateIDs() {
		for _, dup := range m.g.Duplicates(id) {
			g.AddDuplicate(cloneItem(dup))
		}
	}
	return g, nil
}

// GetNode implements Backend.
func (m *MemoryBackend) GetNode(ctx context.Context, nodeID string) (*content.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.g.GetNode(nodeID)
	if n == nil {
		return nil, nil
	}
	return cloneItem(n), nil
}

// GetNodesByType implements Backend.
func (m *MemoryBackend) GetNodesByType(ctx context.Context, t content.Type) ([]*content.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*content.Item
	for _, n := range m.g.NodesByType(t) {
		out = append(out, cloneItem(n))
	}
	return out, nil
}

// Search implements Backend.
func (m *MemoryBackend) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tokens := tokenize(query)
	var results []SearchResult
	for n := range m.g.Nodes() {
		if score := scoreItem(n, tokens); score > 0 {
			results = append(results, SearchResult{NodeID: n.ID(), Score: score, Name: n.Name, Path: n.Path, Type: n.Type})
		}
	}
	return rankResults(results, limit), nil
}

// NodeCount implements Backend.
func (m *MemoryBackend) NodeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.g.NodeCount()
}

// RelationshipCount implements Backend.
func (m *MemoryBackend) RelationshipCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.g.RelationshipCount()
}

func cloneItem(n *content.Item) *content.Item {
	c := *n
	c.Marketplaces = slices.Clone(n.Marketplaces)
	return &c
}

func cloneRel(rel *graph.Relationship) *graph.Relationship {
	c := *rel
	c.SourceMarketplaces = slices.Clone(rel.SourceMarketplaces)
	return &c
}
