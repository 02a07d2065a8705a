package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"sort"
	"strings"

	conciter "github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/graph"
	"github.com/Benny93/contentgraph/internal/parsers"
)

// ErrUnclassified is recorded for files whose content type is unknown.
var ErrUnclassified = errors.New("unable to determine the content type")

// FileFailure records a file that could not become a content item.
type FileFailure struct {
	Path string
	// Type is the classified type, TypeUnknown for classifier failures.
	Type content.Type
	Err  error
}

// Unclassified reports whether the failure comes from the classifier.
func (f *FileFailure) Unclassified() bool {
	return errors.Is(f.Err, ErrUnclassified)
}

// ReparseReport summarizes an incremental update.
type ReparseReport struct {
	// Removed are the node ids dropped from the reparsed paths.
	Removed []string
	// Added are the node ids parsed from the reparsed paths.
	Added []string
	// Resolved are the node ids whose edges were rebuilt.
	Resolved []string
	// Paths are the paths of every node touched by the update.
	Paths []string
}

// typeFallbacks lists the alternative types a reference may resolve to.
var typeFallbacks = map[content.Type][]content.Type{
	content.TypeScript:          {content.TypeTestScript},
	content.TypePlaybook:        {content.TypeTestPlaybook},
	content.TypeTestPlaybook:    {content.TypePlaybook},
	content.TypeLayoutContainer: {content.TypeLayout},
	content.TypeClassifier:      {content.TypeOldClassifier},
}

// Builder assembles the content graph from parse results.
type Builder struct {
	repo     fs.FS
	registry *parsers.Registry
	logger   *zap.Logger
	g        *graph.ContentGraph

	// refs holds the unresolved references of each node.
	refs map[string][]parsers.Reference
	// declared holds the command records parsed from each integration.
	declared map[string][]*content.Item
	// commandUsers maps a command name to the nodes that referenced it.
	commandUsers map[string]map[string]bool
	pending      map[string]bool
	failures     map[string]*FileFailure
	workers      int
}

// NewBuilder creates a builder reading sidecar files from repo.
func NewBuilder(repo fs.FS, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		repo:         repo,
		registry:     parsers.NewRegistry(),
		logger:       logger,
		g:            graph.NewContentGraph(),
		refs:         make(map[string][]parsers.Reference),
		declared:     make(map[string][]*content.Item),
		commandUsers: make(map[string]map[string]bool),
		pending:      make(map[string]bool),
		failures:     make(map[string]*FileFailure),
		workers:      8,
	}
}

// Graph returns the graph under construction.
func (b *Builder) Graph() *graph.ContentGraph {
	return b.g
}

// Failures returns the files that failed classification or parsing, ordered
// by path.
func (b *Builder) Failures() []*FileFailure {
	out := make([]*FileFailure, 0, len(b.failures))
	for _, f := range b.failures {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, c *FileFailure) int { return strings.Compare(a.Path, c.Path) })
	return out
}

// Build parses every entry, adds the results in path order and resolves all
// references. Pack metadata is parsed first so that items inherit the pack
// marketplaces and support tier.
func (b *Builder) Build(ctx context.Context, entries []FileEntry) error {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, c FileEntry) int { return strings.Compare(a.RelPath, c.RelPath) })

	var packs, rest []FileEntry
	for _, e := range sorted {
		if path.Base(e.RelPath) == content.PackMetadataFile {
			packs = append(packs, e)
		} else {
			rest = append(rest, e)
		}
	}
	if err := b.parseAndAdd(ctx, packs); err != nil {
		return err
	}
	if err := b.parseAndAdd(ctx, rest); err != nil {
		return err
	}
	b.Resolve()

	b.logger.Debug("graph built",
		zap.Int("files", len(entries)),
		zap.Int("nodes", b.g.NodeCount()),
		zap.Int("relationships", b.g.RelationshipCount()),
		zap.Int("failures", len(b.failures)),
	)
	return nil
}

type parsed struct {
	entry   FileEntry
	result  *parsers.ParseResult
	failure *FileFailure
}

// parseAndAdd parses entries concurrently and adds them in input order.
func (b *Builder) parseAndAdd(ctx context.Context, entries []FileEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	packs := b.packsSnapshot()
	mapper := conciter.Mapper[FileEntry, parsed]{MaxGoroutines: b.workers}
	results := mapper.Map(entries, func(e *FileEntry) parsed {
		res, failure := b.parse(*e, packs)
		return parsed{entry: *e, result: res, failure: failure}
	})
	for _, p := range results {
		if p.failure != nil {
			b.failures[p.failure.Path] = p.failure
			b.logger.Debug("file skipped", zap.String("path", p.failure.Path), zap.Error(p.failure.Err))
			continue
		}
		b.Add(p.result)
	}
	return ctx.Err()
}

func (b *Builder) packsSnapshot() map[string]*content.Item {
	packs := make(map[string]*content.Item)
	for _, n := range b.g.NodesByType(content.TypePackMetadata) {
		if !n.NotInRepository {
			packs[n.ObjectID] = n
		}
	}
	return packs
}

// parse classifies and parses one entry.
func (b *Builder) parse(e FileEntry, packs map[string]*content.Item) (*parsers.ParseResult, *FileFailure) {
	data := e.Content
	if data == nil && !e.IsDir && b.repo != nil {
		var err error
		data, err = fs.ReadFile(b.repo, e.RelPath)
		if err != nil {
			return nil, &FileFailure{Path: e.RelPath, Type: content.TypeUnknown, Err: err}
		}
	}

	var body map[string]any
	if f := getFormat(e.RelPath); !e.IsDir && (f == "yaml" || f == "json") {
		var err error
		body, err = content.LoadBody(e.RelPath, data)
		if err != nil {
			return nil, &FileFailure{Path: e.RelPath, Type: content.Classify(e.RelPath, nil), Err: err}
		}
	}

	t := content.Classify(e.RelPath, body)
	if t == content.TypeUnknown {
		return nil, &FileFailure{Path: e.RelPath, Type: t, Err: ErrUnclassified}
	}

	src := &parsers.Source{Path: e.RelPath, Content: data, Body: body, Repo: b.repo}
	if loc, ok := content.Locate(e.RelPath); ok {
		src.Pack = packs[loc.Pack]
	}
	res, err := b.registry.Parse(t, src)
	if err != nil {
		return nil, &FileFailure{Path: e.RelPath, Type: t, Err: err}
	}
	return res, nil
}

// Add adopts a parse result. When the identity is already taken by another
// path, the item with the smaller path wins and the other one is recorded
// as a duplicate. It reports whether the result became the node.
func (b *Builder) Add(res *parsers.ParseResult) bool {
	item := res.Item
	id := item.ID()

	if existing := b.g.GetNode(id); existing != nil && !existing.NotInRepository && existing.Path != item.Path {
		if existing.Path < item.Path {
			b.g.AddDuplicate(item)
			b.logger.Debug("duplicate object id", zap.String("id", id), zap.String("path", item.Path))
			return false
		}
		for _, rel := range b.g.GetOutgoing(id) {
			b.g.RemoveRelationship(rel.ID)
		}
		b.g.AddDuplicate(existing)
	}

	stale := b.declared[id]
	b.g.AddNode(item)
	b.refs[id] = res.References
	b.pending[id] = true
	b.declared[id] = res.Commands
	for _, cmd := range res.Commands {
		if n := b.g.GetNode(cmd.ID()); n == nil || n.NotInRepository {
			b.g.AddNode(cmd)
		}
		rel := graph.NewRelationship(graph.RelHasCommand, item, b.g.GetNode(cmd.ID()), true)
		if cmd.Command != nil {
			rel.Properties = map[string]any{"deprecated": cmd.Command.Deprecated}
		}
		b.g.AddRelationship(rel)
	}
	for _, cmd := range slices.Concat(stale, res.Commands) {
		b.refreshCommand(cmd.ObjectID)
	}
	return true
}

// refreshCommand recomputes a command node from the integrations currently
// declaring it. The node takes the record of the first declarer in path
// order and the union of marketplaces, the widest version range and
// deprecation only when every declarer deprecates it.
func (b *Builder) refreshCommand(name string) {
	cmdID := content.NodeID(content.TypeCommand, name)
	var records []*content.Item
	for _, intg := range b.commandDeclarers(name) {
		for _, rec := range b.declared[intg.ID()] {
			if rec.ObjectID == name {
				records = append(records, rec)
				break
			}
		}
	}
	if len(records) == 0 {
		return
	}

	merged := *records[0]
	merged.Marketplaces = nil
	for _, rec := range records {
		for _, mp := range rec.Marketplaces {
			if !slices.Contains(merged.Marketplaces, mp) {
				merged.Marketplaces = append(merged.Marketplaces, mp)
			}
		}
		if content.CompareVersions(rec.FromVersion, merged.FromVersion) < 0 {
			merged.FromVersion = rec.FromVersion
		}
		if content.CompareVersions(rec.ToVersion, merged.ToVersion) > 0 {
			merged.ToVersion = rec.ToVersion
		}
		merged.Deprecated = merged.Deprecated && rec.Deprecated
	}
	if merged.ID() == cmdID {
		b.g.AddNode(&merged)
	}
}

// Resolve turns the references of every node added since the last call
// into edges.
func (b *Builder) Resolve() {
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b.resolveSource(id)
	}
	clear(b.pending)
}

// resolveSource rebuilds the outgoing edges of a node from its references.
func (b *Builder) resolveSource(id string) {
	src := b.g.GetNode(id)
	if src == nil || src.NotInRepository {
		return
	}
	for _, rel := range b.g.GetOutgoing(id) {
		if rel.Type != graph.RelHasCommand {
			b.g.RemoveRelationship(rel.ID)
		}
	}
	for _, ref := range b.refs[id] {
		b.resolveRef(src, ref)
	}
	b.linkPack(src)
}

func (b *Builder) resolveRef(src *content.Item, ref parsers.Reference) {
	if ref.TargetID == "" {
		return
	}
	target, props := b.resolveTarget(src, ref)
	if target.ID() == src.ID() {
		return
	}

	rel := graph.NewRelationship(ref.Kind, src, target, ref.Mandatory)
	if existing := b.g.GetRelationship(rel.ID); existing != nil {
		existing.Mandatory = existing.Mandatory || ref.Mandatory
		return
	}
	if len(ref.Properties) > 0 || len(props) > 0 {
		rel.Properties = make(map[string]any, len(ref.Properties)+len(props))
		for k, v := range ref.Properties {
			rel.Properties[k] = v
		}
		for k, v := range props {
			rel.Properties[k] = v
		}
	}
	b.g.AddRelationship(rel)
}

// resolveTarget finds the node a reference points at, synthesizing a
// phantom when nothing in the repository matches.
func (b *Builder) resolveTarget(src *content.Item, ref parsers.Reference) (*content.Item, map[string]any) {
	switch ref.TargetType {
	case content.TypeCommand:
		b.noteCommandUser(ref.TargetID, src.ID())
		props := map[string]any{"command": ref.TargetID}
		if ref.Brand != "" {
			props["brand"] = ref.Brand
			if intg := b.g.Lookup(content.TypeIntegration, ref.Brand); intg != nil {
				return intg, props
			}
			return b.phantom(content.TypeIntegration, ref.Brand), props
		}
		if intg, candidates := b.commandProvider(ref.TargetID); intg != nil {
			if len(candidates) > 1 {
				props[graph.PropCandidates] = candidates
			}
			return intg, props
		}
		return b.phantom(content.TypeCommand, ref.TargetID), props

	case content.TypeCommandOrScript:
		b.noteCommandUser(ref.TargetID, src.ID())
		if script := b.lookup(content.TypeScript, ref.TargetID); script != nil {
			return script, nil
		}
		if intg, candidates := b.commandProvider(ref.TargetID); intg != nil {
			props := map[string]any{"command": ref.TargetID}
			if len(candidates) > 1 {
				props[graph.PropCandidates] = candidates
			}
			return intg, props
		}
		return b.phantom(content.TypeCommandOrScript, ref.TargetID), nil
	}

	if target := b.lookup(ref.TargetType, ref.TargetID); target != nil {
		return target, nil
	}
	return b.phantom(ref.TargetType, ref.TargetID), nil
}

// lookup finds a real node of type t or one of its fallbacks.
func (b *Builder) lookup(t content.Type, objectID string) *content.Item {
	for _, candidate := range append([]content.Type{t}, typeFallbacks[t]...) {
		if n := b.g.Lookup(candidate, objectID); n != nil && !n.NotInRepository {
			return n
		}
	}
	return nil
}

// commandProvider returns the first integration, in path order, declaring
// the command, along with the object ids of every declaring integration.
func (b *Builder) commandProvider(name string) (*content.Item, []string) {
	providers := b.commandDeclarers(name)
	if len(providers) == 0 {
		return nil, nil
	}
	candidates := make([]string, len(providers))
	for i, p := range providers {
		candidates[i] = p.ObjectID
	}
	return providers[0], candidates
}

// commandDeclarers returns the integrations declaring a command, in path
// order.
func (b *Builder) commandDeclarers(name string) []*content.Item {
	cmdID := content.NodeID(content.TypeCommand, name)
	var providers []*content.Item
	for _, rel := range b.g.GetIncoming(cmdID, graph.RelHasCommand) {
		if n := b.g.GetNode(rel.Source); n != nil && !n.NotInRepository && n.Type == content.TypeIntegration {
			providers = append(providers, n)
		}
	}
	slices.SortFunc(providers, func(a, c *content.Item) int {
		if a.Path != c.Path {
			return strings.Compare(a.Path, c.Path)
		}
		return strings.Compare(a.ObjectID, c.ObjectID)
	})
	return providers
}

func (b *Builder) noteCommandUser(name, sourceID string) {
	if b.commandUsers[name] == nil {
		b.commandUsers[name] = make(map[string]bool)
	}
	b.commandUsers[name][sourceID] = true
}

// phantom returns the node for (t, id), creating a phantom if absent.
func (b *Builder) phantom(t content.Type, objectID string) *content.Item {
	if n := b.g.Lookup(t, objectID); n != nil {
		return n
	}
	p := content.NewPhantom(t, objectID)
	b.g.AddNode(p)
	return p
}

// linkPack adds the IN_PACK edge of an item to its pack node.
func (b *Builder) linkPack(src *content.Item) {
	switch src.Type {
	case content.TypePackMetadata, content.TypeCommand, content.TypeTestConf:
		return
	}
	if src.PackID == "" || src.NotInRepository {
		return
	}
	pack := b.phantom(content.TypePackMetadata, src.PackID)
	b.g.AddRelationship(graph.NewRelationship(graph.RelInPack, src, pack, true))
}

// Reparse updates the graph after the given paths changed on disk. Removed
// files drop their nodes, edition re-parses them, and every node whose
// edges pointed at an affected identity is resolved again. Edges whose
// target disappeared end on a phantom.
func (b *Builder) Reparse(ctx context.Context, paths []string) (*ReparseReport, error) {
	report := &ReparseReport{}
	affected := make(map[string]bool)
	touched := make(map[string]bool)
	var staleCommands []string

	queue := b.expandPaths(paths)
	for i := 0; i < len(queue); i++ {
		p := queue[i]
		touched[p] = true
		for _, n := range b.g.NodesByPath(p) {
			id := n.ID()
			for _, rel := range b.g.GetIncoming(id) {
				affected[rel.Source] = true
			}
			for _, rel := range b.g.GetOutgoing(id, graph.RelHasCommand) {
				if cmd := b.g.GetNode(rel.Target); cmd != nil {
					b.markCommandUsers(cmd.ObjectID, affected)
					staleCommands = append(staleCommands, cmd.ObjectID)
				}
			}
			for _, dup := range b.g.Duplicates(id) {
				if !touched[dup.Path] && !slices.Contains(queue, dup.Path) {
					queue = append(queue, dup.Path)
				}
			}
			delete(b.refs, id)
			delete(b.declared, id)
			report.Removed = append(report.Removed, id)
		}
		b.g.RemoveNodesByPath(p)
		delete(b.failures, p)
	}

	var entries []FileEntry
	for p := range touched {
		if b.repo == nil {
			break
		}
		info, err := fs.Stat(b.repo, p)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("stat %s: %w", p, err)
			}
			continue
		}
		entries = append(entries, FileEntry{RelPath: p, Format: getFormat(p), IsDir: info.IsDir()})
	}

	before := b.g.NodeCount()
	var packs, rest []FileEntry
	for _, e := range entries {
		if path.Base(e.RelPath) == content.PackMetadataFile {
			packs = append(packs, e)
		} else {
			rest = append(rest, e)
		}
	}
	for _, batch := range [][]FileEntry{packs, rest} {
		slices.SortFunc(batch, func(a, c FileEntry) int { return strings.Compare(a.RelPath, c.RelPath) })
		snapshot := b.packsSnapshot()
		for _, e := range batch {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			res, failure := b.parse(e, snapshot)
			if failure != nil {
				b.failures[failure.Path] = failure
				continue
			}
			b.markSatisfied(res, affected)
			if b.Add(res) {
				report.Added = append(report.Added, res.Item.ID())
			}
		}
	}

	for _, name := range staleCommands {
		b.refreshCommand(name)
	}

	for id := range affected {
		if n := b.g.GetNode(id); n != nil && !n.NotInRepository {
			b.pending[id] = true
		}
	}
	for id := range b.pending {
		report.Resolved = append(report.Resolved, id)
		if n := b.g.GetNode(id); n != nil && n.Path != "" {
			touched[n.Path] = true
		}
	}
	b.Resolve()
	b.collectGarbage()

	sort.Strings(report.Removed)
	sort.Strings(report.Added)
	sort.Strings(report.Resolved)
	for p := range touched {
		report.Paths = append(report.Paths, p)
	}
	sort.Strings(report.Paths)

	b.logger.Debug("reparse done",
		zap.Int("paths", len(report.Paths)),
		zap.Int("removed", len(report.Removed)),
		zap.Int("added", len(report.Added)),
		zap.Int("node_delta", b.g.NodeCount()-before),
	)
	return report, nil
}

// expandPaths normalizes changed paths to content paths. A changed pack
// metadata file pulls in every item of the pack.
func (b *Builder) expandPaths(paths []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, raw := range paths {
		p := path.Clean(strings.TrimPrefix(strings.ReplaceAll(raw, "\\", "/"), "./"))
		candidates := []string{p}
		if b.repo != nil {
			candidates = ContentPathsFor(b.repo, p)
		}
		if len(candidates) == 0 && len(b.g.NodesByPath(p)) > 0 {
			candidates = []string{p}
		}
		for _, c := range candidates {
			add(c)
		}
		if path.Base(p) == content.PackMetadataFile {
			if loc, ok := content.Locate(p); ok {
				for n := range b.g.Nodes() {
					if n.PackID == loc.Pack && n.Path != "" && !n.NotInRepository {
						add(n.Path)
					}
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// markSatisfied records the nodes whose references may now resolve to the
// new result: users of phantoms with the same object id and users of the
// commands it declares.
func (b *Builder) markSatisfied(res *parsers.ParseResult, affected map[string]bool) {
	objectID := res.Item.ObjectID
	for _, t := range content.AllTypes {
		n := b.g.GetNode(content.NodeID(t, objectID))
		if n == nil || (!n.NotInRepository && t != res.Item.Type) {
			continue
		}
		for _, rel := range b.g.GetIncoming(n.ID()) {
			affected[rel.Source] = true
		}
	}
	b.markCommandUsers(objectID, affected)
	for _, cmd := range res.Commands {
		b.markCommandUsers(cmd.ObjectID, affected)
	}
}

func (b *Builder) markCommandUsers(name string, affected map[string]bool) {
	for id := range b.commandUsers[name] {
		affected[id] = true
	}
}

// collectGarbage drops commands no integration declares and phantoms
// nothing points at.
func (b *Builder) collectGarbage() {
	for n := range b.g.Nodes() {
		switch {
		case n.Type == content.TypeCommand && !n.NotInRepository:
			if !b.g.HasIncoming(n.ID(), graph.RelHasCommand) {
				b.g.RemoveNode(n.ID())
			}
		case n.NotInRepository:
			if len(b.g.GetIncoming(n.ID())) == 0 {
				b.g.RemoveNode(n.ID())
			}
		}
	}
}
