package validate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/graph"
	"github.com/Benny93/contentgraph/internal/ingestion"
)

var (
	// ErrNoBaseline is returned in use-git mode without a git repository.
	ErrNoBaseline = errors.New("no git baseline available")
	// ErrNoPaths is returned in specific-files mode without paths.
	ErrNoPaths = errors.New("no paths to validate")
)

// Options configures an Engine.
type Options struct {
	Mode Mode
	// Paths are the files or directories validated in specific-files mode.
	Paths []string

	// RunSpecific and Skip select codes by prefix.
	RunSpecific []string
	Skip        []string
	// NoDockerChecks drops the DO validators.
	NoDockerChecks bool

	Config *Config

	Git      RevisionReader
	Baseline string
	Changes  []ingestion.ChangedFile

	// Fix repairs auto-fixable failures and writes them under RepoRoot.
	Fix      bool
	RepoRoot string
	// Repo is the repository tree. It defaults to RepoRoot.
	Repo fs.FS

	Logger *zap.Logger
}

// Engine runs the selected validators over a content graph.
type Engine struct {
	opts       Options
	logger     *zap.Logger
	validators []*Validator
	ignores    *packIgnores
}

// NewEngine selects the validators for opts.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Mode == "" {
		opts.Mode = ModeAllFiles
	}
	if !slices.Contains(AllModes, opts.Mode) {
		return nil, fmt.Errorf("unknown validation mode %q", opts.Mode)
	}
	if opts.Mode == ModeSpecificFiles && len(opts.Paths) == 0 {
		return nil, ErrNoPaths
	}
	if opts.Mode == ModeUseGit && opts.Git == nil {
		return nil, ErrNoBaseline
	}
	if opts.Config == nil {
		opts.Config = &Config{}
	}
	if opts.Repo == nil && opts.RepoRoot != "" {
		opts.Repo = os.DirFS(opts.RepoRoot)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		opts:    opts,
		logger:  logger,
		ignores: newPackIgnores(opts.Repo),
	}
	e.validators = e.selectValidators()
	return e, nil
}

// Validators returns the selected validators in execution order.
func (e *Engine) Validators() []*Validator {
	return slices.Clone(e.validators)
}

func hasPrefixAny(code string, prefixes []string) bool {
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" && strings.HasPrefix(code, p) {
			return true
		}
	}
	return false
}

func (e *Engine) selectValidators() []*Validator {
	var out []*Validator
	for _, v := range Validators() {
		if !v.RunsIn(e.opts.Mode) {
			continue
		}
		if len(e.opts.RunSpecific) > 0 && !hasPrefixAny(v.Code, e.opts.RunSpecific) {
			continue
		}
		if hasPrefixAny(v.Code, e.opts.Skip) {
			continue
		}
		if !e.opts.Config.Selected(e.opts.Mode, v.Code) {
			continue
		}
		if e.opts.NoDockerChecks && strings.HasPrefix(v.Code, "DO") {
			continue
		}
		out = append(out, v)
	}
	return out
}

// scope returns the path filter of the run.
func (e *Engine) scope() func(string) bool {
	switch e.opts.Mode {
	case ModeSpecificFiles:
		roots := make([]string, 0, len(e.opts.Paths))
		for _, p := range e.opts.Paths {
			p = path.Clean(filepath.ToSlash(p))
			roots = append(roots, strings.TrimPrefix(p, "./"))
		}
		return func(p string) bool {
			for _, r := range roots {
				if r == "." || p == r || strings.HasPrefix(p, r+"/") {
					return true
				}
			}
			return false
		}
	case ModeUseGit:
		set := make(map[string]bool)
		for _, c := range e.opts.Changes {
			if c.Status == ingestion.StatusDeleted {
				continue
			}
			set[c.Path] = true
			if e.opts.Repo != nil {
				for _, p := range ingestion.ContentPathsFor(e.opts.Repo, c.Path) {
					set[p] = true
				}
			}
		}
		return func(p string) bool { return set[p] }
	}
	return nil
}

// newContext builds the validator context for g.
func (e *Engine) newContext(g *graph.ContentGraph) *Context {
	vc := NewContext(g, e.opts.Mode)
	vc.Repo = e.opts.Repo
	vc.Git = e.opts.Git
	vc.Baseline = e.opts.Baseline
	vc.inScope = e.scope()
	if len(e.opts.Changes) > 0 {
		vc.Changes = make(map[string]ingestion.ChangedFile, len(e.opts.Changes))
		for _, c := range e.opts.Changes {
			vc.Changes[c.Path] = c
		}
		for _, c := range e.opts.Changes {
			if e.opts.Repo == nil || c.Status == ingestion.StatusDeleted {
				continue
			}
			// Sidecar changes mark their content file as modified.
			for _, p := range ingestion.ContentPathsFor(e.opts.Repo, c.Path) {
				if _, ok := vc.Changes[p]; !ok {
					vc.Changes[p] = ingestion.ChangedFile{Path: p, Status: ingestion.StatusModified}
				}
			}
		}
	}
	return vc
}

// shouldRun applies the deprecated rule, the git status filter and the
// support level ignores.
func (e *Engine) shouldRun(vc *Context, v *Validator, it *content.Item) bool {
	if it.Deprecated && !v.RunOnDeprecated {
		return false
	}
	if len(v.GitStatuses) > 0 {
		status := vc.Status(it.Path)
		if status == "" || !v.matchesStatus(status) {
			return false
		}
	}
	return !e.opts.Config.IgnoredForSupport(it.Support, v.Code)
}

// Run validates g. failures are the files the builder could not parse.
func (e *Engine) Run(ctx context.Context, g *graph.ContentGraph, failures []*ingestion.FileFailure) (*Report, error) {
	vc := e.newContext(g)
	report := &Report{Validators: len(e.validators)}

	var items []*content.Item
	for n := range g.Nodes() {
		if !n.NotInRepository && vc.InScope(n.Path) {
			items = append(items, n)
		}
	}
	slices.SortFunc(items, func(a, b *content.Item) int { return strings.Compare(a.ID(), b.ID()) })
	report.Items = len(items)

	fixable := make(map[string]*Validator)
	for _, v := range e.validators {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var results []Result
		switch v.Code {
		case unknownFileType.Code, parseFailure.Code:
			results = e.failureResults(vc, v, failures)
		default:
			var targets []*content.Item
			for _, it := range items {
				if v.Targets(it.Type) && e.shouldRun(vc, v, it) {
					targets = append(targets, it)
				}
			}
			results = e.check(vc, v, targets)
		}
		for _, r := range results {
			if r.Code == "" {
				r.Code = v.Code
			}
			e.route(report, r)
		}
		if e.opts.Fix && v.AutoFixable() {
			fixable[v.Code] = v
		}
	}

	if e.opts.Fix && len(report.Failures) > 0 {
		if err := e.fix(vc, report, fixable); err != nil {
			return report, err
		}
	}
	e.logger.Debug("validation finished",
		zap.Int("validators", report.Validators),
		zap.Int("items", report.Items),
		zap.Int("failures", len(report.Failures)),
		zap.Int("warnings", len(report.Warnings)),
	)
	return report, nil
}

// check runs v, turning a panic into a logged failure of the validator.
func (e *Engine) check(vc *Context, v *Validator, items []*content.Item) (results []Result) {
	if v.Check == nil || len(items) == 0 && v.ContentTypes != nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("validator panicked", zap.String("code", v.Code), zap.Any("panic", p))
			r := Result{Code: v.Code, Message: fmt.Sprintf("validator %s crashed: %v", v.Code, p)}
			if len(items) > 0 {
				r.Path = items[0].Path
			}
			results = []Result{r}
		}
	}()
	return v.Check(vc, items)
}

func (e *Engine) failureResults(vc *Context, v *Validator, failures []*ingestion.FileFailure) []Result {
	var out []Result
	for _, f := range failures {
		if !vc.InScope(f.Path) {
			continue
		}
		if f.Unclassified() != (v.Code == unknownFileType.Code) {
			continue
		}
		msg := "The file type is not supported by the validate command."
		if v.Code == parseFailure.Code {
			msg = fmt.Sprintf("Failed to parse the file: %v", f.Err)
		}
		out = append(out, Result{Code: v.Code, Path: f.Path, Message: msg})
	}
	return out
}

// route files r as a failure, a warning or an ignored result.
func (e *Engine) route(report *Report, r Result) {
	if e.opts.Config.Ignorable(r.Code) {
		pi, err := e.ignores.forPath(r.Path)
		if err != nil {
			e.logger.Warn("reading pack ignore file", zap.String("path", r.Path), zap.Error(err))
		}
		if pi.Ignored(r.Path, r.Code) {
			report.Ignored = append(report.Ignored, r)
			return
		}
	}
	if e.opts.Config.IsWarning(e.opts.Mode, r.Code) {
		report.Warnings = append(report.Warnings, r)
		return
	}
	report.Failures = append(report.Failures, r)
}

// fix repairs the failures of auto-fixable validators and writes the
// patched files. Each item is fixed once per validator.
func (e *Engine) fix(vc *Context, report *Report, fixable map[string]*Validator) error {
	type fileFix struct {
		patches []Patch
		fixes   []FixResult
	}
	byFile := make(map[string]*fileFix)
	var order []string
	done := make(map[string]bool)
	var remaining []Result
	for _, r := range report.Failures {
		v, ok := fixable[r.Code]
		if !ok || r.Item == nil {
			remaining = append(remaining, r)
			continue
		}
		key := r.Code + "|" + r.ItemID
		if done[key] {
			continue
		}
		res, err := v.Fix(vc, r.Item)
		if err != nil || res == nil {
			e.logger.Warn("fix failed", zap.String("code", r.Code), zap.String("path", r.Path), zap.Error(err))
			remaining = append(remaining, r)
			continue
		}
		done[key] = true
		if res.Code == "" {
			res.Code = r.Code
		}
		if res.Path == "" {
			res.Path = r.Path
		}
		ff, ok := byFile[res.Path]
		if !ok {
			ff = &fileFix{}
			byFile[res.Path] = ff
			order = append(order, res.Path)
		}
		ff.patches = append(ff.patches, res.Patches...)
		ff.fixes = append(ff.fixes, *res)
	}
	report.Failures = remaining

	var errs []error
	for _, p := range order {
		ff := byFile[p]
		if e.opts.RepoRoot != "" && len(ff.patches) > 0 {
			if err := ApplyPatches(e.opts.RepoRoot, p, ff.patches); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		report.Fixed = append(report.Fixed, ff.fixes...)
	}
	return errors.Join(errs...)
}
