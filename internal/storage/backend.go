// Package storage persists the content graph.
//
// It defines the Backend protocol that all storage implementations must
// satisfy, along with the load report shared across backends. Writes are
// batched: node batches first, relationship batches second, one
// transaction per batch. A batch holding a record that breaks a store
// constraint is rolled back as a whole and recorded in the LoadReport; the
// remaining batches continue.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/graph"
)

// DefaultBatchSize is the number of records written per transaction.
const DefaultBatchSize = 10_000

// ErrConstraintViolation is reported when a write rolled back at least one batch.
var ErrConstraintViolation = errors.New("store constraint violation")

// SearchResult represents a name search hit.
type SearchResult struct {
	// NodeID is the ID of the matching node.
	NodeID string

	// Score is the relevance score (higher is better).
	Score float64

	// Name is the item name.
	Name string

	// Path is the source path of the item.
	Path string

	// Type is the content type of the item.
	Type content.Type
}

// Violation is a record rejected by a store constraint.
type Violation struct {
	// Batch is the zero-based index of the rolled back batch.
	Batch int

	// Kind is "node" or "relationship".
	Kind string

	// ID is the identity of the offending record.
	ID string

	// Reason describes the broken constraint.
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("batch %d: %s %s: %s", v.Batch, v.Kind, v.ID, v.Reason)
}

// LoadReport summarizes a write.
type LoadReport struct {
	// Nodes and Relationships count the committed records.
	Nodes         int
	Relationships int

	// Batches counts the transactions attempted.
	Batches int

	// RolledBack counts the batches discarded because of violations.
	RolledBack int

	Violations []Violation
}

// Err returns ErrConstraintViolation when any batch was rolled back.
func (r *LoadReport) Err() error {
	if r == nil || r.RolledBack == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d batch(es) rolled back", ErrConstraintViolation, r.RolledBack)
}

// Backend defines the interface for storage implementations.
//
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Initialize opens or creates the store at the given location.
	// If readOnly is true, the store is opened in read-only mode.
	Initialize(location string, readOnly bool) error

	// Close releases all resources held by the backend.
	Close() error

	// BulkLoad replaces the entire store with the contents of the graph.
	// A batchSize of zero or less selects DefaultBatchSize.
	BulkLoad(ctx context.Context, g *graph.ContentGraph, batchSize int) (*LoadReport, error)

	// ReplacePaths rewrites the records of the given source paths from g,
	// together with their relationships and endpoint nodes.
	ReplacePaths(ctx context.Context, g *graph.ContentGraph, paths []string) (*LoadReport, error)

	// Load rebuilds a graph from the store.
	Load(ctx context.Context) (*graph.ContentGraph, error)

	// GetNode returns a single node by ID, or nil if not found.
	GetNode(ctx context.Context, nodeID string) (*content.Item, error)

	// GetNodesByType returns all nodes of the given type.
	GetNodesByType(ctx context.Context, t content.Type) ([]*content.Item, error)

	// Search finds items whose name matches the query tokens.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// NodeCount returns the number of stored nodes.
	NodeCount() int

	// RelationshipCount returns the number of stored relationships.
	RelationshipCount() int
}

// checkNode returns the existence violations of an item, if any.
func checkNode(item *content.Item) string {
	switch {
	case item.ObjectID == "":
		return "missing object id"
	case item.Name == "":
		return "missing name"
	case item.FromVersion == "":
		return "missing fromversion"
	}
	return ""
}

// batches splits n records into index ranges of at most size.
func batches(n, size int) [][2]int {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		out = append(out, [2]int{start, end})
	}
	return out
}

// pathRecords collects the nodes stored at paths, the endpoints of their
// relationships and the relationships themselves.
func pathRecords(g *graph.ContentGraph, paths []string) ([]*content.Item, []*graph.Relationship) {
	nodes := make(map[string]*content.Item)
	rels := make(map[string]*graph.Relationship)
	for _, p := range paths {
		for _, n := range g.NodesByPath(p) {
			nodes[n.ID()] = n
			for _, rel := range g.GetOutgoing(n.ID()) {
				rels[rel.ID] = rel
			}
			for _, rel := range g.GetIncoming(n.ID()) {
				rels[rel.ID] = rel
			}
		}
	}
	for _, rel := range rels {
		for _, id := range []string{rel.Source, rel.Target} {
			if _, ok := nodes[id]; !ok {
				if n := g.GetNode(id); n != nil {
					nodes[id] = n
				}
			}
		}
	}

	outNodes := make([]*content.Item, 0, len(nodes))
	for _, n := range nodes {
		outNodes = append(outNodes, n)
	}
	sortItems(outNodes)
	outRels := make([]*graph.Relationship, 0, len(rels))
	for _, r := range rels {
		outRels = append(outRels, r)
	}
	sortRels(outRels)
	return outNodes, outRels
}

func sortItems(items []*content.Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID() < items[j].ID() })
}

func sortRels(rels []*graph.Relationship) {
	sort.Slice(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })
}
