package mcp

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/graph"
	"github.com/Benny93/contentgraph/internal/ingestion"
	"github.com/Benny93/contentgraph/internal/registry"
	"github.com/Benny93/contentgraph/internal/unify"
	"github.com/Benny93/contentgraph/internal/validate"
)

const defaultLimit = 50

// tools is the tool table. It is filled at package initialization and
// frozen before any server exists.
var tools = registry.New[*Server]()

func init() {
	tools.MustRegister(registry.Command[*Server]{
		Name:        "validate",
		Description: "Run the validators over the whole repository or the given paths and report the failures.",
		Args: []registry.Arg{
			{Name: "paths", Type: registry.ArgList, Description: "Files or directories to validate; all files when empty"},
			{Name: "run_specific", Type: registry.ArgList, Description: "Error code prefixes to run"},
			{Name: "skip", Type: registry.ArgList, Description: "Error code prefixes to skip"},
		},
		Outputs: []registry.Output{
			{Path: "Validation.Failures", Type: "list", Description: "Failures as path, code and message"},
		},
		Handler: handleValidate,
	})
	tools.MustRegister(registry.Command[*Server]{
		Name:        "find_items",
		Description: "List content items filtered by type, marketplace and support tier.",
		Args: []registry.Arg{
			{Name: "type", Type: registry.ArgString, Description: "Content type, for example integration or script"},
			{Name: "marketplace", Type: registry.ArgString, Description: "Marketplace the items ship to", Predefined: marketplaceNames()},
			{Name: "support", Type: registry.ArgString, Description: "Support tier of the items"},
			{Name: "include_phantoms", Type: registry.ArgBoolean, Description: "Also list items referenced but missing from the repository"},
			{Name: "limit", Type: registry.ArgInteger, Description: "Maximum number of items", Default: defaultLimit},
		},
		Outputs: []registry.Output{{Path: "Items", Type: "list", Description: "Matching node ids"}},
		Handler: handleFindItems,
	})
	tools.MustRegister(registry.Command[*Server]{
		Name:        "get_item",
		Description: "Show one content item with its incoming and outgoing relationships.",
		Args: []registry.Arg{
			{Name: "id", Type: registry.ArgString, Description: "Node id (type:object id) or object id", Required: true},
		},
		Handler: handleGetItem,
	})
	tools.MustRegister(registry.Command[*Server]{
		Name:        "dependencies",
		Description: "List the items an item depends on, or with reverse the items depending on it.",
		Args: []registry.Arg{
			{Name: "id", Type: registry.ArgString, Description: "Node id (type:object id) or object id", Required: true},
			{Name: "kinds", Type: registry.ArgList, Description: "Relationship kinds to follow; USES when empty"},
			{Name: "reverse", Type: registry.ArgBoolean, Description: "Follow the edges backwards"},
			{Name: "limit", Type: registry.ArgInteger, Description: "Maximum number of items", Default: defaultLimit},
		},
		Handler: handleDependencies,
	})
	tools.MustRegister(registry.Command[*Server]{
		Name:        "find_cycles",
		Description: "Report dependency cycles between items of the given types.",
		Args: []registry.Arg{
			{Name: "kind", Type: registry.ArgString, Description: "Relationship kind", Default: string(graph.RelUses)},
			{Name: "types", Type: registry.ArgList, Description: "Content types in the cycle; scripts when empty"},
		},
		Handler: handleFindCycles,
	})
	tools.MustRegister(registry.Command[*Server]{
		Name:        "version_skew",
		Description: "Report items using items whose version window does not cover theirs.",
		Args: []registry.Arg{
			{Name: "paths", Type: registry.ArgList, Description: "Restrict the sources to these files"},
			{Name: "bound", Type: registry.ArgString, Description: "Version bound to compare", Default: "toversion", Predefined: []string{"toversion", "fromversion"}},
		},
		Handler: handleVersionSkew,
	})
	tools.MustRegister(registry.Command[*Server]{
		Name:        "phantoms",
		Description: "List relationships whose target is missing from the repository.",
		Args: []registry.Arg{
			{Name: "kinds", Type: registry.ArgList, Description: "Relationship kinds; all when empty"},
			{Name: "limit", Type: registry.ArgInteger, Description: "Maximum number of relationships", Default: defaultLimit},
		},
		Handler: handlePhantoms,
	})
	tools.MustRegister(registry.Command[*Server]{
		Name:        "duplicates",
		Description: "List object ids declared by more than one file.",
		Handler:     handleDuplicates,
	})
	tools.MustRegister(registry.Command[*Server]{
		Name:        "search",
		Description: "Search items by name.",
		Args: []registry.Arg{
			{Name: "query", Type: registry.ArgString, Description: "Search text", Required: true},
			{Name: "limit", Type: registry.ArgInteger, Description: "Maximum number of results", Default: 20},
		},
		Handler: handleSearch,
	})
	tools.MustRegister(registry.Command[*Server]{
		Name:        "unify",
		Description: "Return the unified form of a package directory without writing it.",
		Args: []registry.Arg{
			{Name: "dir", Type: registry.ArgString, Description: "Package directory relative to the repository", Required: true},
			{Name: "marketplace", Type: registry.ArgString, Description: "Target marketplace", Default: string(content.MarketplaceXSOAR), Predefined: marketplaceNames()},
		},
		Handler: handleUnify,
	})
	tools.MustRegister(registry.Command[*Server]{
		Name:        "deprecated_usage",
		Description: "List items that use deprecated items.",
		Args: []registry.Arg{
			{Name: "paths", Type: registry.ArgList, Description: "Restrict the sources to these files"},
		},
		Handler: handleDeprecatedUsage,
	})
	tools.MustRegister(registry.Command[*Server]{
		Name:        "marketplace_mismatches",
		Description: "List mandatory dependencies that do not ship to every marketplace of their user.",
		Args: []registry.Arg{
			{Name: "paths", Type: registry.ArgList, Description: "Restrict the sources to these files"},
		},
		Handler: handleMarketplaceMismatches,
	})
	tools.MustRegister(registry.Command[*Server]{
		Name:        "ambiguous_commands",
		Description: "List command references that several integrations could serve.",
		Handler:     handleAmbiguousCommands,
	})
	tools.MustRegister(registry.Command[*Server]{
		Name:        "reparse",
		Description: "Reparse changed files and update the graph and the store.",
		Args: []registry.Arg{
			{Name: "paths", Type: registry.ArgList, Description: "Changed files relative to the repository", Required: true},
		},
		Execution: true,
		Handler:   handleReparse,
	})
	tools.Freeze()
}

func marketplaceNames() []string {
	out := make([]string, len(content.AllMarketplaces))
	for i, m := range content.AllMarketplaces {
		out[i] = string(m)
	}
	return out
}

// Tool Handlers

func handleValidate(ctx context.Context, s *Server, args registry.Args) (string, error) {
	cfg, err := validate.LoadConfig(filepath.Join(s.root, validate.DefaultConfigFile), false)
	if err != nil {
		return "", err
	}
	opts := validate.Options{
		Mode:        validate.ModeAllFiles,
		RunSpecific: args.List("run_specific"),
		Skip:        args.List("skip"),
		Config:      cfg,
		RepoRoot:    s.root,
		Logger:      s.logger,
	}
	if paths := args.List("paths"); len(paths) > 0 {
		opts.Mode = validate.ModeSpecificFiles
		opts.Paths = paths
	}
	engine, err := validate.NewEngine(opts)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	report, err := engine.Run(ctx, s.graph(), s.builder.Failures())
	s.mu.RUnlock()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	report.Print(&buf, validate.PrintOptions{})
	return buf.String(), nil
}

func handleFindItems(_ context.Context, s *Server, args registry.Args) (string, error) {
	var f graph.Filter
	if t := args.String("type"); t != "" {
		ct := content.ParseType(t)
		if ct == content.TypeUnknown {
			return "", fmt.Errorf("unknown content type %q", t)
		}
		f.Types = []content.Type{ct}
	}
	if m := args.String("marketplace"); m != "" {
		f.Marketplaces = []content.Marketplace{content.Marketplace(m)}
	}
	if sup := args.String("support"); sup != "" {
		tier, ok := content.ParseSupportTier(sup)
		if !ok {
			return "", fmt.Errorf("unknown support tier %q", sup)
		}
		f.Support = []content.SupportTier{tier}
	}
	f.IncludePhantoms = args.Bool("include_phantoms")

	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []*content.Item
	for it := range graph.NewQuery(s.graph()).Find(f) {
		items = append(items, it)
	}
	sortItems(items)
	return formatItems("items", items, args.Int("limit")), nil
}

func handleGetItem(_ context.Context, s *Server, args registry.Args) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := s.graph()
	it := resolveItem(g, args.String("id"))
	if it == nil {
		return fmt.Sprintf("Item '%s' not found in the content graph.", args.String("id")), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s (%s)\n\n", it.Name, it.Type))
	sb.WriteString(fmt.Sprintf("**ID:** %s\n", it.ID()))
	if it.NotInRepository {
		sb.WriteString("**Not in repository**\n")
	} else {
		sb.WriteString(fmt.Sprintf("**File:** %s\n", it.Path))
	}
	if it.PackID != "" {
		sb.WriteString(fmt.Sprintf("**Pack:** %s\n", it.PackID))
	}
	sb.WriteString(fmt.Sprintf("**Versions:** %s - %s\n", it.FromVersion, it.ToVersion))
	if len(it.Marketplaces) > 0 {
		mps := make([]string, len(it.Marketplaces))
		for i, m := range it.Marketplaces {
			mps[i] = string(m)
		}
		sb.WriteString(fmt.Sprintf("**Marketplaces:** %s\n", strings.Join(mps, ", ")))
	}
	if it.Support != "" {
		sb.WriteString(fmt.Sprintf("**Support:** %s\n", it.Support))
	}
	if it.Deprecated {
		sb.WriteString("**Deprecated**\n")
	}

	writeRels := func(title string, rels []*graph.Relationship, outgoing bool) {
		sb.WriteString(fmt.Sprintf("\n### %s (%d)\n", title, len(rels)))
		if len(rels) == 0 {
			sb.WriteString("None\n")
			return
		}
		sort.Slice(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })
		for _, rel := range rels {
			other := rel.Source
			if outgoing {
				other = rel.Target
			}
			sb.WriteString(fmt.Sprintf("- %s %s", rel.Type, other))
			if target := g.GetNode(other); target != nil && target.NotInRepository {
				sb.WriteString(" (missing)")
			}
			sb.WriteString("\n")
		}
	}
	writeRels("Outgoing", g.GetOutgoing(it.ID()), true)
	writeRels("Incoming", g.GetIncoming(it.ID()), false)
	return sb.String(), nil
}

func handleDependencies(_ context.Context, s *Server, args registry.Args) (string, error) {
	kinds, err := parseRelTypes(args.List("kinds"))
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	g := s.graph()
	it := resolveItem(g, args.String("id"))
	if it == nil {
		return fmt.Sprintf("Item '%s' not found in the content graph.", args.String("id")), nil
	}
	q := graph.NewQuery(g)
	seq := q.UsesOf(it.ID(), kinds...)
	title := "dependencies of " + it.ID()
	if args.Bool("reverse") {
		seq = q.UsedBy(it.ID(), kinds...)
		title = "items depending on " + it.ID()
	}
	var items []*content.Item
	for dep := range seq {
		items = append(items, dep)
	}
	return formatItems(title, items, args.Int("limit")), nil
}

func handleFindCycles(_ context.Context, s *Server, args registry.Args) (string, error) {
	kinds, err := parseRelTypes([]string{args.String("kind")})
	if err != nil {
		return "", err
	}
	types := []content.Type{content.TypeScript}
	if names := args.List("types"); len(names) > 0 {
		types = types[:0]
		for _, n := range names {
			t := content.ParseType(n)
			if t == content.TypeUnknown {
				return "", fmt.Errorf("unknown content type %q", n)
			}
			types = append(types, t)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var sb strings.Builder
	n := 0
	for cycle := range graph.NewQuery(s.graph()).FindCyclesOfKind(kinds[0], types...) {
		if len(cycle) == 0 {
			continue
		}
		n++
		sb.WriteString(fmt.Sprintf("%d. %s → %s\n", n, strings.Join(cycle, " → "), cycle[0]))
	}
	if n == 0 {
		return "No cycles found.", nil
	}
	return fmt.Sprintf("Found %d cycles:\n\n%s", n, sb.String()), nil
}

func handleVersionSkew(_ context.Context, s *Server, args registry.Args) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := graph.NewQuery(s.graph())
	seq := q.FindUsesPathsWithInvalidToVersion(args.List("paths"), false)
	bound := "toversion"
	if args.String("bound") == "fromversion" {
		seq = q.FindUsesPathsWithInvalidFromVersion(args.List("paths"), false)
		bound = "fromversion"
	}
	var sb strings.Builder
	n := 0
	for skew := range seq {
		n++
		sb.WriteString(fmt.Sprintf("- %s (%s %s) uses:\n", skew.Source.ID(), bound, versionOf(skew.Source, bound)))
		for _, t := range skew.Targets {
			sb.WriteString(fmt.Sprintf("  - %s (%s %s)\n", t.ID(), bound, versionOf(t, bound)))
		}
	}
	if n == 0 {
		return "No version skew found.", nil
	}
	return fmt.Sprintf("Found %d items with %s skew:\n\n%s", n, bound, sb.String()), nil
}

func versionOf(it *content.Item, bound string) string {
	if bound == "fromversion" {
		return it.FromVersion
	}
	return it.ToVersion
}

func handlePhantoms(_ context.Context, s *Server, args registry.Args) (string, error) {
	kinds, err := parseRelTypes(args.List("kinds"))
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var rels []*graph.Relationship
	for rel := range graph.NewQuery(s.graph()).FindPhantomTargets(kinds...) {
		rels = append(rels, rel)
	}
	if len(rels) == 0 {
		return "No missing references.", nil
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })
	limit := args.Int("limit")
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d references to missing items:\n\n", len(rels)))
	for i, rel := range rels {
		if limit > 0 && i == limit {
			sb.WriteString(fmt.Sprintf("... and %d more\n", len(rels)-limit))
			break
		}
		sb.WriteString(fmt.Sprintf("- %s %s %s\n", rel.Source, rel.Type, rel.Target))
	}
	return sb.String(), nil
}

func handleDuplicates(_ context.Context, s *Server, _ registry.Args) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sb strings.Builder
	n := 0
	for d := range graph.NewQuery(s.graph()).FindDuplicateObjectIDs() {
		n++
		sb.WriteString(fmt.Sprintf("- %s\n", d.ID))
		for _, it := range d.Items {
			sb.WriteString(fmt.Sprintf("  - %s\n", it.Path))
		}
	}
	if n == 0 {
		return "No duplicate ids.", nil
	}
	return fmt.Sprintf("Found %d duplicate ids:\n\n%s", n, sb.String()), nil
}

func handleDeprecatedUsage(_ context.Context, s *Server, args registry.Args) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sb strings.Builder
	n := 0
	for u := range graph.NewQuery(s.graph()).FindDeprecatedUsage(args.List("paths")) {
		n++
		sb.WriteString(fmt.Sprintf("- %s uses:\n", u.Source.ID()))
		for _, t := range u.Targets {
			sb.WriteString(fmt.Sprintf("  - %s\n", t.ID()))
		}
	}
	if n == 0 {
		return "No deprecated usage.", nil
	}
	return fmt.Sprintf("Found %d items using deprecated items:\n\n%s", n, sb.String()), nil
}

func handleMarketplaceMismatches(_ context.Context, s *Server, args registry.Args) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sb strings.Builder
	n := 0
	for m := range graph.NewQuery(s.graph()).FindMarketplaceMismatches(args.List("paths")) {
		n++
		missing := make([]string, len(m.Missing))
		for i, mp := range m.Missing {
			missing[i] = string(mp)
		}
		sb.WriteString(fmt.Sprintf("- %s → %s, missing %s\n", m.Source.ID(), m.Target.ID(), strings.Join(missing, ", ")))
	}
	if n == 0 {
		return "No marketplace mismatches.", nil
	}
	return fmt.Sprintf("Found %d marketplace mismatches:\n\n%s", n, sb.String()), nil
}

func handleAmbiguousCommands(_ context.Context, s *Server, _ registry.Args) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sb strings.Builder
	n := 0
	for a := range graph.NewQuery(s.graph()).FindAmbiguousCommands() {
		n++
		sb.WriteString(fmt.Sprintf("- %s calls %s, resolved to %s among %s\n",
			a.Relationship.Source, a.Command, a.Relationship.Target, strings.Join(a.Candidates, ", ")))
	}
	if n == 0 {
		return "No ambiguous commands.", nil
	}
	return fmt.Sprintf("Found %d ambiguous commands:\n\n%s", n, sb.String()), nil
}

func handleSearch(ctx context.Context, s *Server, args registry.Args) (string, error) {
	query := args.String("query")
	if strings.TrimSpace(query) == "" {
		return "No query provided", nil
	}
	limit := args.Int("limit")

	if s.store != nil {
		results, err := s.store.Search(ctx, query, limit)
		if err != nil {
			return "", fmt.Errorf("searching: %w", err)
		}
		if len(results) == 0 {
			return "No results found", nil
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Found %d results for '%s':\n\n", len(results), query))
		for i, r := range results {
			sb.WriteString(fmt.Sprintf("%d. **%s** (%s)\n", i+1, r.Name, r.Type))
			sb.WriteString(fmt.Sprintf("   File: %s\n", r.Path))
			sb.WriteString(fmt.Sprintf("   Score: %.3f\n\n", r.Score))
		}
		sb.WriteString("Next: Use `get_item` on a result for its relationships.")
		return sb.String(), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(query)
	var items []*content.Item
	for it := range s.graph().Nodes() {
		if !it.NotInRepository && strings.Contains(strings.ToLower(it.Name), needle) {
			items = append(items, it)
		}
	}
	if len(items) == 0 {
		return "No results found", nil
	}
	sortItems(items)
	return formatItems(fmt.Sprintf("results for '%s'", query), items, limit), nil
}

func handleUnify(_ context.Context, s *Server, args registry.Args) (string, error) {
	u := unify.New(s.root, unify.Options{
		Marketplace: content.Marketplace(args.String("marketplace")),
		Logger:      s.logger,
	})
	res, err := u.Unify(args.String("dir"))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i, o := range res.Outputs {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("# %s\n", o.Path))
		sb.Write(o.Data)
	}
	return sb.String(), nil
}

func handleReparse(ctx context.Context, s *Server, args registry.Args) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, load, err := ingestion.UpdatePaths(ctx, s.builder, s.store, args.List("paths"))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Removed %d, added %d, resolved %d nodes.\n",
		len(report.Removed), len(report.Added), len(report.Resolved)))
	if load != nil {
		sb.WriteString(fmt.Sprintf("Stored %d nodes and %d relationships.\n", load.Nodes, load.Relationships))
		if err := load.Err(); err != nil {
			sb.WriteString(fmt.Sprintf("Warning: %v\n", err))
		}
	}
	return sb.String(), nil
}

// Helper functions

// resolveItem finds an item by node id, then by object id in type order.
func resolveItem(g *graph.ContentGraph, id string) *content.Item {
	if it := g.GetNode(id); it != nil {
		return it
	}
	var phantom *content.Item
	for _, t := range content.AllTypes {
		if it := g.Lookup(t, id); it != nil {
			if !it.NotInRepository {
				return it
			}
			if phantom == nil {
				phantom = it
			}
		}
	}
	return phantom
}

func parseRelTypes(names []string) ([]graph.RelType, error) {
	var out []graph.RelType
	for _, n := range names {
		if n == "" {
			continue
		}
		rt := graph.RelType(strings.ToUpper(n))
		valid := false
		for _, known := range graph.AllRelTypes {
			if rt == known {
				valid = true
				break
			}
		}
		if !valid {
			return nil, fmt.Errorf("unknown relationship kind %q", n)
		}
		out = append(out, rt)
	}
	if len(out) == 0 {
		out = []graph.RelType{graph.RelUses}
	}
	return out, nil
}

func sortItems(items []*content.Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID() < items[j].ID() })
}

func formatItems(title string, items []*content.Item, limit int) string {
	if len(items) == 0 {
		return fmt.Sprintf("No %s.", title)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d %s:\n\n", len(items), title))
	for i, it := range items {
		if limit > 0 && i == limit {
			sb.WriteString(fmt.Sprintf("... and %d more\n", len(items)-limit))
			break
		}
		if it.NotInRepository {
			sb.WriteString(fmt.Sprintf("- %s (missing)\n", it.ID()))
			continue
		}
		sb.WriteString(fmt.Sprintf("- %s in %s\n", it.ID(), it.Path))
	}
	return sb.String()
}
