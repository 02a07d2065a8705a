package ingestion

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Benny93/contentgraph/internal/storage"
)

// PipelineResult summarizes a pipeline run.
type PipelineResult struct {
	Files         int
	Nodes         int
	Relationships int
	Phantoms      int
	Duplicates    int
	Failures      int
	// Load is the store report, nil when no store was given.
	Load         *storage.LoadReport
	DurationSecs float64
}

// ProgressCallback is called with phase name and progress (0.0-1.0).
type ProgressCallback func(phase string, progress float64)

// PipelineOptions configures RunPipeline.
type PipelineOptions struct {
	// Store receives the graph with BulkLoad when set.
	Store storage.Backend
	// BatchSize is the store batch size, DefaultBatchSize when zero.
	BatchSize int
	Progress  ProgressCallback
	Logger    *zap.Logger
}

func (o PipelineOptions) phase(name string, progress float64) {
	if o.Progress != nil {
		o.Progress(name, progress)
	}
}

// RunPipeline walks the repository, builds the content graph and loads it
// into the store. The returned builder stays usable for incremental updates.
func RunPipeline(ctx context.Context, repoPath string, opts PipelineOptions) (*Builder, *PipelineResult, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	result := &PipelineResult{}

	// Phase 1: File walking
	opts.phase("Walking files", 0.0)
	patterns, err := loadGitignore(repoPath)
	if err != nil {
		logger.Warn("reading .gitignore", zap.Error(err))
	}
	entries, err := WalkRepo(repoPath, patterns)
	if err != nil {
		return nil, nil, fmt.Errorf("walking repo: %w", err)
	}
	result.Files = len(entries)
	opts.phase("Walking files", 1.0)

	// Phase 2: Parsing and resolution
	opts.phase("Building graph", 0.0)
	b := NewBuilder(os.DirFS(repoPath), logger)
	if err := b.Build(ctx, entries); err != nil {
		return nil, nil, fmt.Errorf("building graph: %w", err)
	}
	for _, f := range b.Failures() {
		logger.Debug("file not parsed", zap.String("path", f.Path), zap.Error(f.Err))
	}
	opts.phase("Building graph", 1.0)

	g := b.Graph()
	stats := g.Stats()
	result.Nodes = stats["nodes"]
	result.Relationships = stats["relationships"]
	result.Phantoms = stats["phantoms"]
	result.Duplicates = stats["duplicates"]
	result.Failures = len(b.Failures())

	// Phase 3: Store
	if opts.Store != nil {
		opts.phase("Loading to storage", 0.0)
		report, err := opts.Store.BulkLoad(ctx, g, opts.BatchSize)
		if err != nil {
			return nil, nil, fmt.Errorf("bulk load: %w", err)
		}
		for _, v := range report.Violations {
			logger.Warn("record rejected by the store", zap.Stringer("violation", v))
		}
		result.Load = report
		opts.phase("Loading to storage", 1.0)
	}

	result.DurationSecs = time.Since(start).Seconds()
	logger.Info("graph built",
		zap.Int("files", result.Files),
		zap.Int("nodes", result.Nodes),
		zap.Int("relationships", result.Relationships),
		zap.Float64("seconds", result.DurationSecs),
	)
	return b, result, nil
}

// UpdatePaths reparses the changed paths and rewrites their records in
// the store.
func UpdatePaths(ctx context.Context, b *Builder, store storage.Backend, paths []string) (*ReparseReport, *storage.LoadReport, error) {
	report, err := b.Reparse(ctx, paths)
	if err != nil {
		return nil, nil, fmt.Errorf("reparsing: %w", err)
	}
	if store == nil || len(report.Paths) == 0 {
		return report, nil, nil
	}
	load, err := store.ReplacePaths(ctx, b.Graph(), report.Paths)
	if err != nil {
		return report, nil, fmt.Errorf("replacing paths: %w", err)
	}
	return report, load, nil
}
