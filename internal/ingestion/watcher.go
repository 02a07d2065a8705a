package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"go.uber.org/zap"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/storage"
)

// DefaultDebounce is the quiet period before a batch of changes is applied.
const DefaultDebounce = 2 * time.Second

// UpdateFunc is called after each applied batch, typically to revalidate
// the touched paths.
type UpdateFunc func(ctx context.Context, report *ReparseReport) error

// Watcher keeps a graph and its store in sync with the repository.
type Watcher struct {
	repoPath string
	builder  *Builder
	store    storage.Backend
	matcher  gitignore.Matcher
	logger   *zap.Logger

	// Debounce is the quiet period before changes are applied.
	Debounce time.Duration
	// OnUpdate runs after every applied batch when set.
	OnUpdate UpdateFunc
}

// NewWatcher creates a watcher over a built graph. store may be nil.
func NewWatcher(repoPath string, b *Builder, store storage.Backend, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	patterns, err := loadGitignore(repoPath)
	if err != nil {
		logger.Warn("reading .gitignore", zap.Error(err))
	}
	return &Watcher{
		repoPath: repoPath,
		builder:  b,
		store:    store,
		matcher:  newMatcher(patterns),
		logger:   logger,
		Debounce: DefaultDebounce,
	}
}

// WatchRepo builds the graph, loads it into store and keeps both up to date
// until the context is cancelled.
func WatchRepo(ctx context.Context, repoPath string, store storage.Backend, onUpdate UpdateFunc, logger *zap.Logger) error {
	b, _, err := RunPipeline(ctx, repoPath, PipelineOptions{Store: store, Logger: logger})
	if err != nil {
		return err
	}
	w := NewWatcher(repoPath, b, store, logger)
	w.OnUpdate = onUpdate
	return w.Run(ctx)
}

// Run blocks until the context is cancelled, applying batched changes.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addTree(watcher, w.repoPath); err != nil {
		return fmt.Errorf("setting up watcher: %w", err)
	}

	// Batch changed files for efficient re-indexing
	changed := make(map[string]bool)
	batchTimer := time.NewTimer(w.Debounce)
	batchTimer.Stop() // Don't start yet

	w.logger.Info("watching for changes", zap.String("repo", w.repoPath))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(watcher, event.Name); err != nil {
						w.logger.Warn("watching new directory", zap.String("dir", event.Name), zap.Error(err))
					}
				}
			}
			relPath, ok := w.relevant(event.Name)
			if !ok {
				continue
			}
			changed[relPath] = true
			batchTimer.Reset(w.Debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-batchTimer.C:
			if len(changed) == 0 {
				continue
			}
			paths := make([]string, 0, len(changed))
			for p := range changed {
				paths = append(paths, p)
			}
			changed = make(map[string]bool)

			if _, err := w.Apply(ctx, paths); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				w.logger.Error("applying changes", zap.Error(err))
			}
		}
	}
}

// Apply reparses the changed paths, rewrites their store records and runs
// OnUpdate.
func (w *Watcher) Apply(ctx context.Context, relPaths []string) (*ReparseReport, error) {
	sort.Strings(relPaths)
	w.logger.Info("re-indexing changed files", zap.Strings("paths", relPaths))

	report, load, err := UpdatePaths(ctx, w.builder, w.store, relPaths)
	if err != nil {
		return nil, err
	}
	if load != nil {
		for _, v := range load.Violations {
			w.logger.Warn("record rejected by the store", zap.Stringer("violation", v))
		}
	}
	w.logger.Info("graph updated",
		zap.Int("removed", len(report.Removed)),
		zap.Int("added", len(report.Added)),
		zap.Int("resolved", len(report.Resolved)),
	)

	if w.OnUpdate != nil {
		if err := w.OnUpdate(ctx, report); err != nil {
			return report, fmt.Errorf("after update: %w", err)
		}
	}
	return report, nil
}

// addTree watches dir and its non-ignored subdirectories.
func (w *Watcher) addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.repoPath, p)
		if err != nil {
			return err
		}
		if rel != "." && shouldSkipDir(d.Name(), rel, w.matcher) {
			return filepath.SkipDir
		}
		return watcher.Add(p)
	})
}

// relevant maps an event path to a repository-relative path when it may
// affect content.
func (w *Watcher) relevant(name string) (string, bool) {
	rel, err := filepath.Rel(w.repoPath, name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if w.matcher.Match(splitPath(rel), false) {
		return "", false
	}
	if content.IsTestConf(rel) {
		return rel, true
	}
	return rel, strings.HasPrefix(rel, content.PacksDir+"/")
}
