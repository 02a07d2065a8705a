package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/graph"
)

// Key prefixes for different data types
const (
	prefixNode      = "n:"     // node data
	prefixRel       = "r:"     // relationship data
	prefixIncoming  = "i:in:"  // incoming relationships
	prefixOutgoing  = "i:out:" // outgoing relationships
	prefixPath      = "p:"     // p:<path>:<nodeID> -> nodeID
	prefixType      = "t:"     // t:<type>:<nodeID> -> nodeID
	prefixDuplicate = "d:"     // d:<nodeID>:<path> -> item
)

// BadgerBackend is a BadgerDB-backed storage implementation.
type BadgerBackend struct {
	db                *badger.DB
	initialized       bool
	mu                sync.RWMutex
	nodeCount         int
	relationshipCount int
}

// NewBadgerBackend creates a new BadgerDB backend.
func NewBadgerBackend() *BadgerBackend {
	return &BadgerBackend{}
}

// Initialize opens or creates the BadgerDB database at the given path.
func (b *BadgerBackend) Initialize(path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR) // Suppress INFO/WARNING logs

	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	var err error
	b.db, err = badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}

	b.initialized = true
	return b.recount()
}

// recount refreshes the cached counters from the database.
func (b *BadgerBackend) recount() error {
	b.nodeCount = 0
	b.relationshipCount = 0
	return b.db.View(func(txn *badger.Txn) error {
		b.nodeCount = countPrefix(txn, prefixNode)
		b.relationshipCount = countPrefix(txn, prefixRel)
		return nil
	})
}

func countPrefix(txn *badger.Txn, prefix string) int {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n
}

// Close releases all resources held by the backend.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}

	err := b.db.Close()
	b.db = nil
	b.initialized = false
	return err
}

// BulkLoad replaces the entire store with the contents of the graph.
func (b *BadgerBackend) BulkLoad(ctx context.Context, g *graph.ContentGraph, batchSize int) (*LoadReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.db.DropAll(); err != nil {
		return nil, fmt.Errorf("clearing store: %w", err)
	}

	report := &LoadReport{}
	nodes := slices.Collect(g.Nodes())
	stored := make(map[string]bool, len(nodes))
	batch := 0

	for _, r := range batches(len(nodes), batchSize) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		chunk := nodes[r[0]:r[1]]
		report.Batches++
		if violations := nodeViolations(batch, chunk); len(violations) > 0 {
			report.RolledBack++
			report.Violations = append(report.Violations, violations...)
			batch++
			continue
		}
		if err := b.writeNodes(chunk); err != nil {
			return report, err
		}
		for _, n := range chunk {
			stored[n.ID()] = true
		}
		report.Nodes += len(chunk)
		batch++
	}

	rels := slices.Collect(g.Relationships())
	for _, r := range batches(len(rels), batchSize) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		chunk := rels[r[0]:r[1]]
		report.Batches++
		if violations := relViolations(batch, chunk, func(id string) bool { return stored[id] }); len(violations) > 0 {
			report.RolledBack++
			report.Violations = append(report.Violations, violations...)
			batch++
			continue
		}
		if err := b.writeRels(chunk); err != nil {
			return report, err
		}
		report.Relationships += len(chunk)
		batch++
	}

	if err := b.writeDuplicates(g); err != nil {
		return report, err
	}
	return report, b.recount()
}

// nodeViolations checks existence constraints. Identity uniqueness holds
// by construction within a graph.
func nodeViolations(batch int, nodes []*content.Item) []Violation {
	var out []Violation
	for _, n := range nodes {
		if reason := checkNode(n); reason != "" {
			out = append(out, Violation{Batch: batch, Kind: "node", ID: n.ID(), Reason: reason})
		}
	}
	return out
}

func relViolations(batch int, rels []*graph.Relationship, exists func(string) bool) []Violation {
	var out []Violation
	for _, rel := range rels {
		for _, end := range []string{rel.Source, rel.Target} {
			if !exists(end) {
				out = append(out, Violation{Batch: batch, Kind: "relationship", ID: rel.ID, Reason: "missing endpoint " + end})
				break
			}
		}
	}
	return out
}

// update runs fn in a transaction. When the transaction grows beyond the
// badger limit it is committed and fn continues in a fresh one.
func (b *BadgerBackend) update(n int, fn func(txn *badger.Txn, i int) error) error {
	txn := b.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	for i := 0; i < n; i++ {
		err := fn(txn, i)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return err
			}
			txn = b.db.NewTransaction(true)
			err = fn(txn, i)
		}
		if err != nil {
			return err
		}
	}
	return txn.Commit()
}

func (b *BadgerBackend) writeNodes(nodes []*content.Item) error {
	return b.update(len(nodes), func(txn *badger.Txn, i int) error {
		return putNode(txn, nodes[i])
	})
}

func putNode(txn *badger.Txn, n *content.Item) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling node: %w", err)
	}
	id := n.ID()
	if err := txn.Set(nodeKey(id), data); err != nil {
		return err
	}
	if err := txn.Set([]byte(prefixType+string(n.Type)+":"+id), []byte(id)); err != nil {
		return err
	}
	if n.Path != "" {
		if err := txn.Set(pathKey(n.Path, id), []byte(id)); err != nil {
			return err
		}
	}
	return indexItem(txn, n)
}

func (b *BadgerBackend) writeRels(rels []*graph.Relationship) error {
	return b.update(len(rels), func(txn *badger.Txn, i int) error {
		return putRel(txn, rels[i])
	})
}

func putRel(txn *badger.Txn, rel *graph.Relationship) error {
	data, err := json.Marshal(rel)
	if err != nil {
		return fmt.Errorf("marshaling relationship: %w", err)
	}
	if err := txn.Set(relKey(rel.ID), data); err != nil {
		return err
	}
	return indexRelationship(txn, rel)
}

// indexRelationship creates adjacency list indexes for a relationship.
func indexRelationship(txn *badger.Txn, rel *graph.Relationship) error {
	// Outgoing: source -> rel_type -> rel.ID (unique key per relationship)
	if err := txn.Set(outKey(rel), []byte(rel.ID)); err != nil {
		return fmt.Errorf("setting outgoing index: %w", err)
	}
	// Incoming: target -> rel_type -> rel.ID (unique key per relationship)
	if err := txn.Set(inKey(rel), []byte(rel.ID)); err != nil {
		return fmt.Errorf("setting incoming index: %w", err)
	}
	return nil
}

func (b *BadgerBackend) writeDuplicates(g *graph.ContentGraph) error {
	var dups []*content.Item
	for _, id := range g.DuplicateIDs() {
		dups = append(dups, g.Duplicates(id)...)
	}
	return b.update(len(dups), func(txn *badger.Txn, i int) error {
		data, err := json.Marshal(dups[i])
		if err != nil {
			return err
		}
		return txn.Set([]byte(prefixDuplicate+dups[i].ID()+":"+dups[i].Path), data)
	})
}

// ReplacePaths rewrites the records stored for the given paths.
func (b *BadgerBackend) ReplacePaths(ctx context.Context, g *graph.ContentGraph, paths []string) (*LoadReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	report := &LoadReport{Batches: 1}
	nodes, rels := pathRecords(g, paths)

	if violations := nodeViolations(0, nodes); len(violations) > 0 {
		report.RolledBack = 1
		report.Violations = violations
		return report, nil
	}

	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	// Endpoints of dropped relationships may become orphans.
	orphans := make(map[string]bool)
	for _, p := range paths {
		ids, err := scanValues(txn, prefixPath+p+":")
		if err != nil {
			return report, err
		}
		for _, id := range ids {
			ends, err := deleteNode(txn, id)
			if err != nil {
				return report, err
			}
			for _, e := range ends {
				orphans[e] = true
			}
		}
		if err := deleteDuplicatesAt(txn, p); err != nil {
			return report, err
		}
	}

	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		existing, err := getNode(txn, n.ID())
		if err != nil {
			return report, err
		}
		if existing != nil && !existing.NotInRepository && existing.Path != n.Path && !slices.Contains(paths, existing.Path) {
			report.RolledBack = 1
			report.Violations = append(report.Violations, Violation{Kind: "node", ID: n.ID(), Reason: "identity already stored at " + existing.Path})
			return report, nil
		}
		if existing != nil {
			// Endpoint nodes keep their other relationships.
			if err := unindexItem(txn, n.ID()); err != nil {
				return report, err
			}
			if existing.Path != "" && existing.Path != n.Path {
				if err := txn.Delete(pathKey(existing.Path, n.ID())); err != nil {
					return report, err
				}
			}
		}
		if err := putNode(txn, n); err != nil {
			return report, err
		}
		report.Nodes++
	}
	for _, rel := range rels {
		if err := putRel(txn, rel); err != nil {
			return report, err
		}
		report.Relationships++
	}
	for _, p := range paths {
		for _, id := range g.DuplicateIDs() {
			for _, dup := range g.Duplicates(id) {
				if dup.Path != p {
					continue
				}
				data, err := json.Marshal(dup)
				if err != nil {
					return report, err
				}
				if err := txn.Set([]byte(prefixDuplicate+dup.ID()+":"+dup.Path), data); err != nil {
					return report, err
				}
			}
		}
	}

	// Drop phantoms and commands the graph no longer holds.
	for id := range orphans {
		if g.GetNode(id) != nil {
			continue
		}
		n, err := getNode(txn, id)
		if err != nil {
			return report, err
		}
		if n != nil && n.Path == "" {
			if _, err := deleteNode(txn, id); err != nil {
				return report, err
			}
		}
	}

	if err := txn.Commit(); err != nil {
		return report, fmt.Errorf("committing replacement: %w", err)
	}
	return report, b.recount()
}

// deleteNode removes a node, its indexes and its relationships. It returns
// the ids of the other endpoints of the removed relationships.
func deleteNode(txn *badger.Txn, id string) ([]string, error) {
	n, err := getNode(txn, id)
	if err != nil || n == nil {
		return nil, err
	}

	var ends []string
	for _, prefix := range []string{prefixOutgoing + id + ":", prefixIncoming + id + ":"} {
		relIDs, err := scanValues(txn, prefix)
		if err != nil {
			return nil, err
		}
		for _, relID := range relIDs {
			rel, err := getRel(txn, relID)
			if err != nil {
				return nil, err
			}
			if rel == nil {
				continue
			}
			for _, key := range [][]byte{relKey(rel.ID), outKey(rel), inKey(rel)} {
				if err := txn.Delete(key); err != nil {
					return nil, err
				}
			}
			if rel.Source == id {
				ends = append(ends, rel.Target)
			} else {
				ends = append(ends, rel.Source)
			}
		}
	}

	if err := unindexItem(txn, id); err != nil {
		return nil, err
	}
	keys := [][]byte{nodeKey(id), []byte(prefixType + string(n.Type) + ":" + id)}
	if n.Path != "" {
		keys = append(keys, pathKey(n.Path, id))
	}
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return nil, err
		}
	}
	return ends, nil
}

func deleteDuplicatesAt(txn *badger.Txn, p string) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixDuplicate)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Item().KeyCopy(nil)
		if strings.HasSuffix(string(key), ":"+p) {
			keys = append(keys, key)
		}
	}
	it.Close()

	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Load rebuilds the content graph from the store.
func (b *BadgerBackend) Load(ctx context.Context) (*graph.ContentGraph, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	g := graph.NewContentGraph()
	err := b.db.View(func(txn *badger.Txn) error {
		if err := eachValue(txn, prefixNode, func(val []byte) error {
			var n content.Item
			if err := json.Unmarshal(val, &n); err != nil {
				return fmt.Errorf("unmarshaling node: %w", err)
			}
			g.AddNode(&n)
			return ctx.Err()
		}); err != nil {
			return err
		}
		if err := eachValue(txn, prefixRel, func(val []byte) error {
			var rel graph.Relationship
			if err := json.Unmarshal(val, &rel); err != nil {
				return fmt.Errorf("unmarshaling relationship: %w", err)
			}
			g.AddRelationship(&rel)
			return ctx.Err()
		}); err != nil {
			return err
		}
		return eachValue(txn, prefixDuplicate, func(val []byte) error {
			var n content.Item
			if err := json.Unmarshal(val, &n); err != nil {
				return fmt.Errorf("unmarshaling duplicate: %w", err)
			}
			g.AddDuplicate(&n)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GetNode returns a single node by ID, or nil if not found.
func (b *BadgerBackend) GetNode(ctx context.Context, nodeID string) (*content.Item, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var n *content.Item
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = getNode(txn, nodeID)
		return err
	})
	return n, err
}

// GetNodesByType returns all nodes of the given type, ordered by id.
func (b *BadgerBackend) GetNodesByType(ctx context.Context, t content.Type) ([]*content.Item, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var nodes []*content.Item
	err := b.db.View(func(txn *badger.Txn) error {
		ids, err := scanValues(txn, prefixType+string(t)+":")
		if err != nil {
			return err
		}
		for _, id := range ids {
			n, err := getNode(txn, id)
			if err != nil {
				return err
			}
			if n != nil {
				nodes = append(nodes, n)
			}
		}
		return nil
	})
	return nodes, err
}

// Search performs a name search using the token index.
func (b *BadgerBackend) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var results []SearchResult
	err := b.db.View(func(txn *badger.Txn) error {
		for nodeID, score := range searchTokens(txn, query) {
			n, err := getNode(txn, nodeID)
			if err != nil {
				return err
			}
			if n == nil {
				continue
			}
			results = append(results, SearchResult{NodeID: nodeID, Score: score, Name: n.Name, Path: n.Path, Type: n.Type})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rankResults(results, limit), nil
}

// NodeCount returns the node count.
func (b *BadgerBackend) NodeCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nodeCount
}

// RelationshipCount returns the relationship count.
func (b *BadgerBackend) RelationshipCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.relationshipCount
}

func getNode(txn *badger.Txn, nodeID string) (*content.Item, error) {
	item, err := txn.Get(nodeKey(nodeID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting node: %w", err)
	}
	var n content.Item
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &n)
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling node: %w", err)
	}
	return &n, nil
}

func getRel(txn *badger.Txn, relID string) (*graph.Relationship, error) {
	item, err := txn.Get(relKey(relID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting relationship: %w", err)
	}
	var rel graph.Relationship
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rel)
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling relationship: %w", err)
	}
	return &rel, nil
}

// scanValues returns the string values stored under a prefix.
func scanValues(txn *badger.Txn, prefix string) ([]string, error) {
	var out []string
	err := eachValue(txn, prefix, func(val []byte) error {
		out = append(out, string(val))
		return nil
	})
	return out, err
}

func eachValue(txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

// nodeKey returns the BadgerDB key for a node.
func nodeKey(nodeID string) []byte {
	return []byte(prefixNode + nodeID)
}

// relKey returns the BadgerDB key for a relationship.
func relKey(relID string) []byte {
	return []byte(prefixRel + relID)
}

func pathKey(p, nodeID string) []byte {
	return []byte(prefixPath + p + ":" + nodeID)
}

func outKey(rel *graph.Relationship) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixOutgoing, rel.Source, rel.Type, rel.ID))
}

func inKey(rel *graph.Relationship) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixIncoming, rel.Target, rel.Type, rel.ID))
}
