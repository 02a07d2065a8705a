package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/graph"
)

// Environment variables read by Neo4jConfigFromEnv.
const (
	EnvNeo4jURI      = "DEMISTO_SDK_NEO4J_URI"
	EnvNeo4jUser     = "DEMISTO_SDK_NEO4J_USER"
	EnvNeo4jPassword = "DEMISTO_SDK_NEO4J_PASSWORD"
)

// Neo4jConfig holds Neo4j connection configuration.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4jConfigFromEnv reads the connection settings from the environment,
// falling back to a local default server.
func Neo4jConfigFromEnv() Neo4jConfig {
	cfg := Neo4jConfig{
		URI:      "bolt://127.0.0.1:7687",
		Username: "neo4j",
		Password: "test",
		Database: "neo4j",
	}
	if v := os.Getenv(EnvNeo4jURI); v != "" {
		cfg.URI = v
	}
	if v := os.Getenv(EnvNeo4jUser); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv(EnvNeo4jPassword); v != "" {
		cfg.Password = v
	}
	return cfg
}

// errBatchViolation aborts a write transaction so the driver rolls it back.
var errBatchViolation = errors.New("batch violates store constraints")

// Neo4jBackend stores the content graph in a Neo4j database. Every node
// carries the Content label plus the label of its type; the full record is
// kept as a JSON property.
type Neo4jBackend struct {
	cfg    Neo4jConfig
	driver neo4j.DriverWithContext

	mu                sync.RWMutex
	nodeCount         int
	relationshipCount int
}

// NewNeo4jBackend creates a backend for the given configuration.
func NewNeo4jBackend(cfg Neo4jConfig) *Neo4jBackend {
	return &Neo4jBackend{cfg: cfg}
}

// Initialize connects to the server. A non-empty location overrides the
// configured URI.
func (b *Neo4jBackend) Initialize(location string, readOnly bool) error {
	ctx := context.Background()
	if location != "" {
		b.cfg.URI = location
	}

	driver, err := neo4j.NewDriverWithContext(
		b.cfg.URI,
		neo4j.BasicAuth(b.cfg.Username, b.cfg.Password, ""),
	)
	if err != nil {
		return fmt.Errorf("creating neo4j driver: %w", err)
	}

	// Verify connectivity
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return fmt.Errorf("connecting to neo4j: %w", err)
	}
	b.driver = driver

	if !readOnly {
		for _, q := range []string{
			`CREATE CONSTRAINT content_id IF NOT EXISTS FOR (n:Content) REQUIRE n.id IS UNIQUE`,
			`CREATE CONSTRAINT content_identity IF NOT EXISTS FOR (n:Content) REQUIRE (n.content_type, n.object_id) IS UNIQUE`,
		} {
			if err := b.run(ctx, q, nil); err != nil {
				return fmt.Errorf("creating constraint: %w", err)
			}
		}
	}
	return b.recount(ctx)
}

// Close closes the Neo4j connection.
func (b *Neo4jBackend) Close() error {
	if b.driver == nil {
		return nil
	}
	err := b.driver.Close(context.Background())
	b.driver = nil
	return err
}

func (b *Neo4jBackend) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return b.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: b.cfg.Database, AccessMode: mode})
}

func (b *Neo4jBackend) run(ctx context.Context, query string, params map[string]any) error {
	_, err := neo4j.ExecuteQuery(ctx, b.driver, query, params,
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(b.cfg.Database))
	return err
}

func (b *Neo4jBackend) recount(ctx context.Context) error {
	result, err := neo4j.ExecuteQuery(ctx, b.driver,
		`MATCH (n:Content) WITH count(n) AS nodes
		 OPTIONAL MATCH (:Content)-[r]->(:Content)
		 RETURN nodes, count(r) AS rels`,
		nil, neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(b.cfg.Database))
	if err != nil {
		return fmt.Errorf("counting records: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(result.Records) == 0 {
		b.nodeCount, b.relationshipCount = 0, 0
		return nil
	}
	nodes, _, _ := neo4j.GetRecordValue[int64](result.Records[0], "nodes")
	rels, _, _ := neo4j.GetRecordValue[int64](result.Records[0], "rels")
	b.nodeCount, b.relationshipCount = int(nodes), int(rels)
	return nil
}

// nodeRow is the parameter map stored for a node.
func nodeRow(n *content.Item) (map[string]any, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshaling node: %w", err)
	}
	row := map[string]any{
		"id":           n.ID(),
		"content_type": string(n.Type),
		"object_id":    n.ObjectID,
		"name":         n.Name,
		"phantom":      n.NotInRepository,
		"item":         string(data),
	}
	if n.Path != "" {
		row["path"] = n.Path
	}
	return row, nil
}

func relRow(rel *graph.Relationship) (map[string]any, error) {
	data, err := json.Marshal(rel)
	if err != nil {
		return nil, fmt.Errorf("marshaling relationship: %w", err)
	}
	return map[string]any{
		"id":     rel.ID,
		"source": rel.Source,
		"target": rel.Target,
		"rel":    string(data),
	}, nil
}

// writeNodes merges nodes grouped by label. Labels come from the closed
// type enumeration, so interpolating them is safe.
func writeNodes(ctx context.Context, tx neo4j.ManagedTransaction, nodes []*content.Item) error {
	byLabel := make(map[string][]map[string]any)
	var labels []string
	for _, n := range nodes {
		row, err := nodeRow(n)
		if err != nil {
			return err
		}
		label := n.Type.Label()
		if _, ok := byLabel[label]; !ok {
			labels = append(labels, label)
		}
		byLabel[label] = append(byLabel[label], row)
	}
	for _, label := range labels {
		query := fmt.Sprintf(`UNWIND $rows AS row
			MERGE (n:Content {id: row.id})
			SET n = row, n:%s`, label)
		if _, err := tx.Run(ctx, query, map[string]any{"rows": byLabel[label]}); err != nil {
			return err
		}
	}
	return nil
}

// writeRels merges relationships grouped by kind and reports how many
// found both endpoints.
func writeRels(ctx context.Context, tx neo4j.ManagedTransaction, rels []*graph.Relationship) (int, error) {
	byType := make(map[graph.RelType][]map[string]any)
	for _, rel := range rels {
		row, err := relRow(rel)
		if err != nil {
			return 0, err
		}
		byType[rel.Type] = append(byType[rel.Type], row)
	}

	written := 0
	for _, kind := range graph.AllRelTypes {
		rows := byType[kind]
		if len(rows) == 0 {
			continue
		}
		query := fmt.Sprintf(`UNWIND $rows AS row
			MATCH (s:Content {id: row.source})
			MATCH (t:Content {id: row.target})
			MERGE (s)-[r:%s {id: row.id}]->(t)
			SET r.rel = row.rel
			RETURN count(r) AS written`, kind)
		result, err := tx.Run(ctx, query, map[string]any{"rows": rows})
		if err != nil {
			return 0, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return 0, err
		}
		n, _, _ := neo4j.GetRecordValue[int64](record, "written")
		written += int(n)
	}
	return written, nil
}

func writeDuplicates(ctx context.Context, tx neo4j.ManagedTransaction, dups []*content.Item) error {
	if len(dups) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(dups))
	for _, d := range dups {
		row, err := nodeRow(d)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	_, err := tx.Run(ctx, `UNWIND $rows AS row
		MERGE (d:Duplicate {id: row.id, path: row.path})
		SET d.item = row.item`, map[string]any{"rows": rows})
	return err
}

func isConstraintError(err error) bool {
	var neoErr *neo4j.Neo4jError
	return errors.As(err, &neoErr) && strings.Contains(neoErr.Code, "ConstraintValidationFailed")
}

// BulkLoad replaces the database contents with the graph.
func (b *Neo4jBackend) BulkLoad(ctx context.Context, g *graph.ContentGraph, batchSize int) (*LoadReport, error) {
	if err := b.run(ctx, `MATCH (n) WHERE n:Content OR n:Duplicate DETACH DELETE n`, nil); err != nil {
		return nil, fmt.Errorf("clearing database: %w", err)
	}

	session := b.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	report := &LoadReport{}
	batch := 0

	nodes := slices.Collect(g.Nodes())
	for _, r := range batches(len(nodes), batchSize) {
		chunk := nodes[r[0]:r[1]]
		report.Batches++
		if v := nodeViolations(batch, chunk); len(v) > 0 {
			report.RolledBack++
			report.Violations = append(report.Violations, v...)
			batch++
			continue
		}
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			return nil, writeNodes(ctx, tx, chunk)
		})
		switch {
		case isConstraintError(err):
			report.RolledBack++
			report.Violations = append(report.Violations, Violation{Batch: batch, Kind: "node", Reason: err.Error()})
		case err != nil:
			return report, fmt.Errorf("writing node batch %d: %w", batch, err)
		default:
			report.Nodes += len(chunk)
		}
		batch++
	}

	rels := slices.Collect(g.Relationships())
	for _, r := range batches(len(rels), batchSize) {
		chunk := rels[r[0]:r[1]]
		report.Batches++
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			written, err := writeRels(ctx, tx, chunk)
			if err != nil {
				return nil, err
			}
			if written != len(chunk) {
				return nil, errBatchViolation
			}
			return nil, nil
		})
		switch {
		case errors.Is(err, errBatchViolation):
			report.RolledBack++
			report.Violations = append(report.Violations, Violation{Batch: batch, Kind: "relationship", Reason: "missing endpoint"})
		case err != nil:
			return report, fmt.Errorf("writing relationship batch %d: %w", batch, err)
		default:
			report.Relationships += len(chunk)
		}
		batch++
	}

	var dups []*content.Item
	for _, id := range g.DuplicateIDs() {
		dups = append(dups, g.Duplicates(id)...)
	}
	if _, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, writeDuplicates(ctx, tx, dups)
	}); err != nil {
		return report, fmt.Errorf("writing duplicates: %w", err)
	}

	return report, b.recount(ctx)
}

// ReplacePaths rewrites the records of paths in a single transaction.
func (b *Neo4jBackend) ReplacePaths(ctx context.Context, g *graph.ContentGraph, paths []string) (*LoadReport, error) {
	report := &LoadReport{Batches: 1}
	nodes, rels := pathRecords(g, paths)
	if v := nodeViolations(0, nodes); len(v) > 0 {
		report.RolledBack = 1
		report.Violations = v
		return report, nil
	}

	session := b.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `UNWIND $paths AS p
			MATCH (n:Content {path: p})
			OPTIONAL MATCH (n)--(m:Content)
			WITH n, collect(DISTINCT m.id) AS ends
			DETACH DELETE n
			RETURN ends`, map[string]any{"paths": paths})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		var orphans []string
		for _, record := range records {
			ends, _, _ := neo4j.GetRecordValue[[]any](record, "ends")
			for _, e := range ends {
				if id, ok := e.(string); ok && g.GetNode(id) == nil {
					orphans = append(orphans, id)
				}
			}
		}
		if _, err := tx.Run(ctx, `UNWIND $paths AS p MATCH (d:Duplicate {path: p}) DELETE d`,
			map[string]any{"paths": paths}); err != nil {
			return nil, err
		}

		if err := writeNodes(ctx, tx, nodes); err != nil {
			return nil, err
		}
		written, err := writeRels(ctx, tx, rels)
		if err != nil {
			return nil, err
		}
		if written != len(rels) {
			return nil, errBatchViolation
		}

		var dups []*content.Item
		for _, id := range g.DuplicateIDs() {
			for _, d := range g.Duplicates(id) {
				if slices.Contains(paths, d.Path) {
					dups = append(dups, d)
				}
			}
		}
		if err := writeDuplicates(ctx, tx, dups); err != nil {
			return nil, err
		}

		_, err = tx.Run(ctx, `UNWIND $ids AS id
			MATCH (n:Content {id: id})
			WHERE n.path IS NULL
			DETACH DELETE n`, map[string]any{"ids": orphans})
		return nil, err
	})
	switch {
	case errors.Is(err, errBatchViolation):
		report.RolledBack = 1
		report.Violations = []Violation{{Kind: "relationship", Reason: "missing endpoint"}}
		return report, nil
	case isConstraintError(err):
		report.RolledBack = 1
		report.Violations = []Violation{{Kind: "node", Reason: err.Error()}}
		return report, nil
	case err != nil:
		return report, fmt.Errorf("replacing paths: %w", err)
	}

	report.Nodes = len(nodes)
	report.Relationships = len(rels)
	return report, b.recount(ctx)
}

func decodeItem(raw any) (*content.Item, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected item value %T", raw)
	}
	var n content.Item
	if err := json.Unmarshal([]byte(s), &n); err != nil {
		return nil, fmt.Errorf("unmarshaling node: %w", err)
	}
	return &n, nil
}

func (b *Neo4jBackend) queryItems(ctx context.Context, query string, params map[string]any) ([]*content.Item, error) {
	result, err := neo4j.ExecuteQuery(ctx, b.driver, query, params,
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(b.cfg.Database))
	if err != nil {
		return nil, err
	}
	items := make([]*content.Item, 0, len(result.Records))
	for _, record := range result.Records {
		raw, _ := record.Get("item")
		n, err := decodeItem(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, nil
}

// Load rebuilds the content graph from the database.
func (b *Neo4jBackend) Load(ctx context.Context) (*graph.ContentGraph, error) {
	g := graph.NewContentGraph()

	nodes, err := b.queryItems(ctx, `MATCH (n:Content) RETURN n.item AS item ORDER BY n.id`, nil)
	if err != nil {
		return nil, fmt.Errorf("loading nodes: %w", err)
	}
	for _, n := range nodes {
		g.AddNode(n)
	}

	result, err := neo4j.ExecuteQuery(ctx, b.driver,
		`MATCH (:Content)-[r]->(:Content) RETURN r.rel AS rel ORDER BY r.id`,
		nil, neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(b.cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("loading relationships: %w", err)
	}
	for _, record := range result.Records {
		s, _, _ := neo4j.GetRecordValue[string](record, "rel")
		var rel graph.Relationship
		if err := json.Unmarshal([]byte(s), &rel); err != nil {
			return nil, fmt.Errorf("unmarshaling relationship: %w", err)
		}
		g.AddRelationship(&rel)
	}

	dups, err := b.queryItems(ctx, `MATCH (d:Duplicate) RETURN d.item AS item ORDER BY d.id, d.path`, nil)
	if err != nil {
		return nil, fmt.Errorf("loading duplicates: %w", err)
	}
	for _, d := range dups {
		g.AddDuplicate(d)
	}
	return g, nil
}

// GetNode retrieves a node by ID.
func (b *Neo4jBackend) GetNode(ctx context.Context, nodeID string) (*content.Item, error) {
	session := b.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `MATCH (n:Content {id: $id}) RETURN n.item AS item`, map[string]any{"id": nodeID})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			return nil, result.Err()
		}
		raw, _ := result.Record().Get("item")
		return decodeItem(raw)
	})
	if err != nil || result == nil {
		return nil, err
	}
	return result.(*content.Item), nil
}

// GetNodesByType returns all nodes of a type, ordered by id.
func (b *Neo4jBackend) GetNodesByType(ctx context.Context, t content.Type) ([]*content.Item, error) {
	return b.queryItems(ctx, `MATCH (n:Content {content_type: $type}) RETURN n.item AS item ORDER BY n.id`,
		map[string]any{"type": string(t)})
}

// Search matches the query against names and object ids.
func (b *Neo4jBackend) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	items, err := b.queryItems(ctx, `MATCH (n:Content)
		WHERE toLower(n.name) CONTAINS $q OR toLower(n.object_id) CONTAINS $q
		RETURN n.item AS item`, map[string]any{"q": strings.ToLower(query)})
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}

	tokens := tokenize(query)
	results := make([]SearchResult, 0, len(items))
	for _, n := range items {
		score := max(scoreItem(n, tokens), 1)
		results = append(results, SearchResult{NodeID: n.ID(), Score: score, Name: n.Name, Path: n.Path, Type: n.Type})
	}
	return rankResults(results, limit), nil
}

// NodeCount returns the node count at the last write.
func (b *Neo4jBackend) NodeCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nodeCount
}

// RelationshipCount returns the relationship count at the last write.
func (b *Neo4jBackend) RelationshipCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.relationshipCount
}
