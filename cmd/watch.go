package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/Benny93/contentgraph/internal/ingestion"
	"github.com/Benny93/contentgraph/internal/validate"
	"github.com/Benny93/contentgraph/mcp"
)

// WatchCmd keeps the graph store current and revalidates changed files.
type WatchCmd struct {
	Debounce     time.Duration `default:"2s" help:"Quiet period before a batch of changes is applied"`
	NoValidation bool          `help:"Only update the graph, do not revalidate"`
	ConfigFile   string        `type:"path" help:"Validation config (default validation_config.toml in the repository)"`
}

// noBaseline stands in for git when the repository has none. Every
// change is an addition, so no baseline file is ever needed.
type noBaseline struct{}

func (noBaseline) FileAtRevision(rev, path string) ([]byte, error) {
	return nil, fmt.Errorf("%s at %s: %w", path, rev, validate.ErrNoBaseline)
}

// revalidator validates the paths touched by each graph update.
type revalidator struct {
	g        *Globals
	builder  *ingestion.Builder
	config   *validate.Config
	repo     *ingestion.GitRepo
	baseline string
}

func newRevalidator(g *Globals, b *ingestion.Builder, cfg *validate.Config) *revalidator {
	r := &revalidator{g: g, builder: b, config: cfg}
	repo, err := ingestion.OpenGitRepo(g.Repo)
	if err != nil {
		g.logger.Warn("no git repository, changed files are validated as added", zap.Error(err))
		return r
	}
	r.repo = repo
	r.baseline = repo.DefaultBaseline()
	return r
}

// changes returns the git status of paths, the reader for their old
// versions and the revision to read them at. Paths git does not report are
// modified; without git every path is added.
func (r *revalidator) changes(ctx context.Context, paths []string) ([]ingestion.ChangedFile, validate.RevisionReader, string) {
	if r.repo == nil {
		return r.addedOnly(paths), noBaseline{}, r.baseline
	}

	changed, err := r.repo.ChangedFiles(ctx, ingestion.ChangeOptions{Baseline: r.baseline, IncludeUntracked: true})
	if err == nil {
		var forkPoint string
		if forkPoint, err = r.repo.MergeBase(r.baseline); err == nil {
			return r.withStatus(paths, changed), r.repo, forkPoint
		}
	}
	r.g.logger.Warn("listing changes, validating as added", zap.String("baseline", r.baseline), zap.Error(err))
	return r.addedOnly(paths), noBaseline{}, r.baseline
}

func (r *revalidator) withStatus(paths []string, changed []ingestion.ChangedFile) []ingestion.ChangedFile {
	known := make(map[string]ingestion.ChangedFile, len(changed))
	for _, c := range changed {
		known[c.Path] = c
	}
	out := make([]ingestion.ChangedFile, 0, len(paths))
	for _, p := range paths {
		if c, ok := known[p]; ok {
			out = append(out, c)
			continue
		}
		out = append(out, ingestion.ChangedFile{Path: p, Status: ingestion.StatusModified})
	}
	return out
}

func (r *revalidator) addedOnly(paths []string) []ingestion.ChangedFile {
	out := make([]ingestion.ChangedFile, 0, len(paths))
	for _, p := range paths {
		out = append(out, ingestion.ChangedFile{Path: p, Status: ingestion.StatusAdded})
	}
	return out
}

// run validates the paths of report in use-git mode.
func (r *revalidator) run(ctx context.Context, report *ingestion.ReparseReport) error {
	if len(report.Paths) == 0 {
		return nil
	}
	paths := slices.Clone(report.Paths)
	slices.Sort(paths)
	changes, git, baseline := r.changes(ctx, paths)

	engine, err := validate.NewEngine(validate.Options{
		Mode:     validate.ModeUseGit,
		Config:   r.config,
		Git:      git,
		Baseline: baseline,
		Changes:  changes,
		RepoRoot: r.g.Repo,
		Logger:   r.g.logger,
	})
	if err != nil {
		return err
	}
	res, err := engine.Run(ctx, r.builder.Graph(), r.builder.Failures())
	if err != nil {
		return err
	}
	fmt.Fprintf(r.g.out, "\n## %s\n", time.Now().Format("15:04:05"))
	res.Print(r.g.out, validate.PrintOptions{})
	recordValidation(r.g, res, r.builder)
	return nil
}

// Run executes the watch command.
func (c *WatchCmd) Run(g *Globals) error {
	store, err := g.openStore(false)
	if err != nil {
		return infraError(err)
	}
	defer func() { _ = store.Close() }()

	b, result, err := ingestion.RunPipeline(g.ctx, g.Repo, ingestion.PipelineOptions{Store: store, Logger: g.logger})
	if err != nil {
		return infraError(fmt.Errorf("running pipeline: %w", err))
	}
	if err := writeMeta(g, result); err != nil {
		return infraError(err)
	}

	w := ingestion.NewWatcher(g.Repo, b, store, g.logger)
	w.Debounce = c.Debounce
	if !c.NoValidation {
		cfgPath, required := filepath.Join(g.Repo, validate.DefaultConfigFile), false
		if c.ConfigFile != "" {
			cfgPath, required = c.ConfigFile, true
		}
		cfg, err := validate.LoadConfig(cfgPath, required)
		if err != nil {
			return infraError(err)
		}
		w.OnUpdate = newRevalidator(g, b, cfg).run
	}

	fmt.Fprintln(g.out, "## Watch Mode")
	fmt.Fprintf(g.out, "Watching %s for changes (Ctrl+C to stop)\n\n", g.Repo)

	err = w.Run(g.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return infraError(fmt.Errorf("watch error: %w", err))
	}

	fmt.Fprintln(g.out, "Watch mode stopped.")
	return nil
}

// MCPCmd serves the graph tools over stdio.
type MCPCmd struct {
	NoStore bool `help:"Keep the graph in memory only"`
}

// Run executes the mcp command.
func (c *MCPCmd) Run(g *Globals) error {
	var opts ingestion.PipelineOptions
	opts.Logger = g.logger
	if !c.NoStore {
		store, err := g.openStore(false)
		if err != nil {
			return infraError(err)
		}
		defer func() { _ = store.Close() }()
		opts.Store = store
	}

	// Standard output carries the protocol only.
	b, _, err := ingestion.RunPipeline(g.ctx, g.Repo, opts)
	if err != nil {
		return infraError(fmt.Errorf("running pipeline: %w", err))
	}
	server := mcp.NewServer(g.Repo, b, opts.Store, g.logger)
	if err := server.Run(g.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return infraError(err)
	}
	return nil
}
