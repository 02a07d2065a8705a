package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/Benny93/contentgraph/internal/ingestion"
	"github.com/Benny93/contentgraph/mcp"
)

// GraphCmd groups the graph store commands.
type GraphCmd struct {
	Create GraphCreateCmd `cmd:"" help:"Parse the repository and load the graph store"`
	Update GraphUpdateCmd `cmd:"" help:"Rewrite the store records of changed files"`
	Query  GraphQueryCmd  `cmd:"" help:"Run one graph query"`
	Status GraphStatusCmd `cmd:"" help:"Show the graph status of the repository"`
	Clean  GraphCleanCmd  `cmd:"" help:"Delete the local graph store"`
}

// graphMeta is written next to the local store after every load.
type graphMeta struct {
	Version  string                    `json:"version"`
	Name     string                    `json:"name"`
	Path     string                    `json:"path"`
	Store    string                    `json:"store"`
	Stats    *ingestion.PipelineResult `json:"stats"`
	LoadedAt string                    `json:"loaded_at"`
}

func metaPath(root string) string {
	return filepath.Join(root, stateDir, "meta.json")
}

func writeMeta(g *Globals, result *ingestion.PipelineResult) error {
	meta := graphMeta{
		Version:  Version,
		Name:     filepath.Base(g.Repo),
		Path:     g.Repo,
		Store:    g.Store,
		Stats:    result,
		LoadedAt: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(g.Repo, stateDir), 0o755); err != nil {
		return fmt.Errorf("creating %s directory: %w", stateDir, err)
	}
	if err := os.WriteFile(metaPath(g.Repo), data, 0o644); err != nil {
		return fmt.Errorf("writing meta.json: %w", err)
	}
	return nil
}

// progressPrinter redraws the current phase on one line of w.
func progressPrinter(w io.Writer, quiet bool) ingestion.ProgressCallback {
	if quiet {
		return nil
	}
	return func(phase string, pct float64) {
		fmt.Fprintf(w, "\r\033[K%s (%.0f%%)", phase, pct*100)
	}
}

// GraphCreateCmd builds the graph and bulk loads the store.
type GraphCreateCmd struct {
	BatchSize int `default:"10000" help:"Records written per transaction"`
}

// Run executes the graph create command.
func (c *GraphCreateCmd) Run(g *Globals) error {
	start := time.Now()
	store, err := g.openStore(false)
	if err != nil {
		return infraError(err)
	}
	defer func() { _ = store.Close() }()

	color.New(color.FgGreen).Fprintf(g.out, "Building content graph of %s\n", g.Repo)
	_, result, err := ingestion.RunPipeline(g.ctx, g.Repo, ingestion.PipelineOptions{
		Store:     store,
		BatchSize: c.BatchSize,
		Progress:  progressPrinter(os.Stderr, g.Quiet),
		Logger:    g.logger,
	})
	if !g.Quiet {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return infraError(fmt.Errorf("running pipeline: %w", err))
	}
	if err := writeMeta(g, result); err != nil {
		return infraError(err)
	}
	g.metrics.GraphSize(result.Nodes, result.Relationships)
	g.metrics.Observe("graph-create", start)

	printSummary(g.out, result)
	if err := result.Load.Err(); err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	return nil
}

func printSummary(w io.Writer, result *ingestion.PipelineResult) {
	color.New(color.FgGreen).Fprintln(w, "✓ Graph loaded")
	fmt.Fprintf(w, "  Files:          %d\n", result.Files)
	fmt.Fprintf(w, "  Nodes:          %d\n", result.Nodes)
	fmt.Fprintf(w, "  Relationships:  %d\n", result.Relationships)
	fmt.Fprintf(w, "  Phantoms:       %d\n", result.Phantoms)
	if result.Duplicates > 0 {
		fmt.Fprintf(w, "  Duplicate ids:  %d\n", result.Duplicates)
	}
	if result.Failures > 0 {
		fmt.Fprintf(w, "  Unparsed files: %d\n", result.Failures)
	}
	if result.Load != nil && result.Load.RolledBack > 0 {
		fmt.Fprintf(w, "  Rolled back:    %d batches\n", result.Load.RolledBack)
	}
	fmt.Fprintf(w, "  Duration:       %.2fs\n", result.DurationSecs)
}

// GraphUpdateCmd rewrites the store records of the given files.
type GraphUpdateCmd struct {
	Input []string `short:"i" sep:"," required:"" placeholder:"PATH,PATH" help:"Changed files"`
}

// Run executes the graph update command.
func (c *GraphUpdateCmd) Run(g *Globals) error {
	start := time.Now()
	paths := make([]string, 0, len(c.Input))
	for _, p := range c.Input {
		rel, err := repoRelative(g.Repo, p)
		if err != nil {
			return infraError(err)
		}
		paths = append(paths, rel)
	}

	store, err := g.openStore(false)
	if err != nil {
		return infraError(err)
	}
	defer func() { _ = store.Close() }()

	b, _, err := ingestion.RunPipeline(g.ctx, g.Repo, ingestion.PipelineOptions{Logger: g.logger})
	if err != nil {
		return infraError(fmt.Errorf("running pipeline: %w", err))
	}
	report, load, err := ingestion.UpdatePaths(g.ctx, b, store, paths)
	if err != nil {
		return infraError(err)
	}
	g.metrics.GraphSize(store.NodeCount(), store.RelationshipCount())
	g.metrics.Observe("graph-update", start)

	fmt.Fprintf(g.out, "Removed %d, added %d, resolved %d nodes.\n",
		len(report.Removed), len(report.Added), len(report.Resolved))
	if load != nil {
		fmt.Fprintf(g.out, "Stored %d nodes and %d relationships.\n", load.Nodes, load.Relationships)
		if err := load.Err(); err != nil {
			return &ExitError{Code: 1, Err: err}
		}
	}
	return nil
}

// queryTools maps query kinds to the tool computing them.
var queryTools = map[string]string{
	"cycles":               "find_cycles",
	"version-skew":         "version_skew",
	"phantoms":             "phantoms",
	"duplicates":           "duplicates",
	"deprecated":           "deprecated_usage",
	"marketplace-mismatch": "marketplace_mismatches",
	"ambiguous-commands":   "ambiguous_commands",
	"search":               "search",
	"item":                 "get_item",
	"dependencies":         "dependencies",
}

// GraphQueryCmd runs one query over a freshly parsed graph.
type GraphQueryCmd struct {
	Kind    string   `arg:"" enum:"cycles,version-skew,phantoms,duplicates,deprecated,marketplace-mismatch,ambiguous-commands,search,item,dependencies" help:"Query to run (${enum})"`
	Target  string   `arg:"" optional:"" help:"Search text, or item id for item and dependencies"`
	Paths   []string `sep:"," placeholder:"PATH,PATH" help:"Restrict sources to these files"`
	Reverse bool     `help:"For dependencies, list the items depending on the target"`
	Limit   int      `short:"n" help:"Maximum results"`
}

// Run executes the graph query command.
func (c *GraphQueryCmd) Run(g *Globals) error {
	args := map[string]any{}
	switch c.Kind {
	case "search":
		args["query"] = c.Target
	case "item", "dependencies":
		if c.Target == "" {
			return infraError(fmt.Errorf("%s needs an item id. Usage: contentgraph graph query %s <id>", c.Kind, c.Kind))
		}
		args["id"] = c.Target
		if c.Kind == "dependencies" {
			args["reverse"] = c.Reverse
		}
	}
	if len(c.Paths) > 0 {
		paths := make([]any, 0, len(c.Paths))
		for _, p := range c.Paths {
			rel, err := repoRelative(g.Repo, p)
			if err != nil {
				return infraError(err)
			}
			paths = append(paths, rel)
		}
		args["paths"] = paths
	}
	if c.Limit > 0 {
		args["limit"] = c.Limit
	}

	b, _, err := ingestion.RunPipeline(g.ctx, g.Repo, ingestion.PipelineOptions{Logger: g.logger})
	if err != nil {
		return infraError(fmt.Errorf("running pipeline: %w", err))
	}
	server := mcp.NewServer(g.Repo, b, nil, g.logger)
	text, err := server.CallTool(g.ctx, queryTools[c.Kind], args)
	if err != nil {
		return infraError(err)
	}
	fmt.Fprintln(g.out, strings.TrimRight(text, "\n"))
	return nil
}

// GraphStatusCmd shows what the last load recorded.
type GraphStatusCmd struct{}

// Run executes the graph status command.
func (c *GraphStatusCmd) Run(g *Globals) error {
	data, err := os.ReadFile(metaPath(g.Repo))
	if err != nil {
		if os.IsNotExist(err) {
			return infraError(fmt.Errorf("no graph found at %s. Run 'contentgraph graph create' first", g.Repo))
		}
		return infraError(fmt.Errorf("reading meta.json: %w", err))
	}
	var meta graphMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return infraError(fmt.Errorf("parsing meta.json: %w", err))
	}

	fmt.Fprintf(g.out, "Graph status for %s\n", g.Repo)
	fmt.Fprintf(g.out, "  Version:        %s\n", meta.Version)
	fmt.Fprintf(g.out, "  Store:          %s\n", meta.Store)
	fmt.Fprintf(g.out, "  Last loaded:    %s\n", meta.LoadedAt)
	if meta.Stats != nil {
		fmt.Fprintf(g.out, "  Files:          %d\n", meta.Stats.Files)
		fmt.Fprintf(g.out, "  Nodes:          %d\n", meta.Stats.Nodes)
		fmt.Fprintf(g.out, "  Relationships:  %d\n", meta.Stats.Relationships)
	}
	return nil
}

// GraphCleanCmd deletes the local store.
type GraphCleanCmd struct {
	Force bool `short:"f" help:"Skip confirmation"`

	in io.Reader
}

// Run executes the graph clean command.
func (c *GraphCleanCmd) Run(g *Globals) error {
	dir := filepath.Join(g.Repo, stateDir)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return infraError(fmt.Errorf("no graph found at %s. Nothing to clean", g.Repo))
	}

	if !c.Force {
		in := c.in
		if in == nil {
			in = os.Stdin
		}
		fmt.Fprintf(g.out, "Delete graph store at %s? [y/N] ", dir)
		var response string
		_, _ = fmt.Fscanln(in, &response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(g.out, "Aborted")
			return nil
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return infraError(fmt.Errorf("deleting graph store: %w", err))
	}
	color.New(color.FgGreen).Fprintf(g.out, "Deleted %s\n", dir)
	return nil
}
