// Package lint runs the linter ensemble over integration and script
// packages inside per-image test containers.
package lint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/ingestion"
	"github.com/Benny93/contentgraph/internal/metrics"
	"github.com/Benny93/contentgraph/internal/parsers"
	"github.com/Benny93/contentgraph/internal/unify"
)

const (
	// DefaultTimeout bounds docker client calls.
	DefaultTimeout = 60 * time.Second
	// DefaultContainerTimeout bounds one linter container run.
	DefaultContainerTimeout = 300 * time.Second
	// DefaultTestTimeout bounds one unit test container run.
	DefaultTestTimeout       = 10 * time.Minute
	DefaultVultureConfidence = 100
)

// connectionReset marks container runs cut off by the daemon.
const connectionReset = "connection reset by peer"

// Options configures a lint run.
type Options struct {
	Target ImageTarget
	// Skip lists tools not to run.
	Skip []Tool
	// KeepContainer leaves containers in place after their run.
	KeepContainer bool
	// TestXML is a host directory receiving pytest junit reports.
	TestXML string
	// Timeout bounds docker client calls: ping and container removal.
	Timeout time.Duration
	// ContainerTimeout bounds a linter run inside its container.
	ContainerTimeout time.Duration
	// TestTimeout bounds unit test runs (pytest, Pester).
	TestTimeout time.Duration
	// Workers is the number of packages linted at once.
	Workers           int
	VultureConfidence int
	// UpdateCerts is passed to containers as DEMISTO_LINT_UPDATE_CERTS.
	UpdateCerts string
	CI          bool
	// PluginsDir holds the support level pylint checkers on the host.
	PluginsDir string
	Build      BuildOptions

	Docker  Docker
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// DefaultWorkers is one less than the CPU count, at least one.
func DefaultWorkers() int {
	return max(runtime.NumCPU()-1, 1)
}

// ToolResult is the outcome of one tool against one image.
type ToolResult struct {
	Tool     Tool
	Image    string
	Status   Status
	ExitCode int
	Output   string
}

// PackageResult aggregates the tool results of one package.
type PackageResult struct {
	Dir   string
	Pack  string
	Tools []ToolResult
	// Failed and Skipped are tool bitfields.
	Failed  int
	Skipped int
	Errors  []string
	// Ignored is the reason a package was not linted.
	Ignored string
}

// Report is the result of a lint run, sorted by package path.
type Report struct {
	Packages []PackageResult
	Failed   int
	Skipped  int
	// NoDocker is set when the run degraded to skipping docker tools.
	NoDocker bool
}

// ExitCode is the OR of every package failure bit.
func (r *Report) ExitCode() int {
	return r.Failed
}

// Manager lints packages of one content repository.
type Manager struct {
	root   string
	repo   fs.FS
	opts   Options
	logger *zap.Logger

	images *ImageBuilder
	ignore gitignore.Matcher
	native *NativeImageConfig

	packLocks  sync.Map
	containers sync.Map
}

// NewManager creates a manager for the repository at root.
func NewManager(root string, opts Options) *Manager {
	return NewManagerFS(os.DirFS(root), root, opts)
}

// NewManagerFS creates a manager reading packages from repo. Containers
// mount the packages from root.
func NewManagerFS(repo fs.FS, root string, opts Options) *Manager {
	if opts.Target == "" {
		opts.Target = TargetFromYML
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ContainerTimeout <= 0 {
		opts.ContainerTimeout = DefaultContainerTimeout
	}
	if opts.TestTimeout <= 0 {
		opts.TestTimeout = DefaultTestTimeout
	}
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers()
	}
	if opts.VultureConfidence <= 0 {
		opts.VultureConfidence = DefaultVultureConfidence
	}
	if opts.UpdateCerts == "" {
		opts.UpdateCerts = "yes"
	}
	if opts.Docker == nil {
		opts.Docker = NewCLI()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		root:   root,
		repo:   repo,
		opts:   opts,
		logger: opts.Logger,
		images: NewImageBuilder(opts.Docker, opts.Build, opts.Logger),
	}
}

// Discover expands paths into package directories. A pack yields its
// integrations and scripts; a file yields its package. No paths means every
// pack in the repository.
func Discover(repo fs.FS, paths []string) ([]string, error) {
	if len(paths) == 0 {
		packs, err := fs.ReadDir(repo, content.PacksDir)
		if err != nil {
			return nil, fmt.Errorf("listing packs: %w", err)
		}
		for _, p := range packs {
			if p.IsDir() {
				paths = append(paths, path.Join(content.PacksDir, p.Name()))
			}
		}
	}
	var dirs []string
	add := func(d string) {
		if !slices.Contains(dirs, d) {
			dirs = append(dirs, d)
		}
	}
	for _, p := range paths {
		p = path.Clean(filepath.ToSlash(p))
		info, err := fs.Stat(repo, p)
		if err != nil {
			return nil, fmt.Errorf("lint path %s: %w", p, err)
		}
		if !info.IsDir() {
			add(path.Dir(p))
			continue
		}
		if _, err := unify.FindPackageYML(repo, p); err == nil {
			add(p)
			continue
		}
		for _, sub := range []string{"Integrations", "Scripts"} {
			entries, err := fs.ReadDir(repo, path.Join(p, sub))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("listing %s: %w", path.Join(p, sub), err)
			}
			for _, e := range entries {
				d := path.Join(p, sub, e.Name())
				if !e.IsDir() {
					continue
				}
				if _, err := unify.FindPackageYML(repo, d); err == nil {
					add(d)
				}
			}
		}
	}
	slices.Sort(dirs)
	return dirs, nil
}

// Run lints the packages at dirs.
func (m *Manager) Run(ctx context.Context, dirs []string) (*Report, error) {
	if err := m.prepare(); err != nil {
		return nil, err
	}

	noDocker := false
	pingCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	if err := m.opts.Docker.Ping(pingCtx); err != nil {
		m.logger.Warn("docker is not available, skipping docker linters", zap.Error(err))
		noDocker = true
	}
	cancel()

	var (
		results []PackageResult
		pkgs    []*Package
	)
	for _, dir := range dirs {
		pkg, err := GatherFacts(m.repo, dir, m.opts.Target, m.native, m.ignore)
		if err != nil {
			m.logger.Error("gathering package facts failed", zap.String("package", dir), zap.Error(err))
			results = append(results, PackageResult{Dir: dir, Failed: ToolImage.Bit(), Errors: []string{err.Error()}})
			continue
		}
		if pkg.Skip != "" {
			m.logger.Info("skipping package", zap.String("package", dir), zap.String("reason", pkg.Skip))
			results = append(results, PackageResult{Dir: dir, Pack: pkg.Pack, Ignored: pkg.Skip})
			continue
		}
		pkgs = append(pkgs, pkg)
	}

	if noDocker {
		for _, pkg := range pkgs {
			res := PackageResult{Dir: pkg.Dir, Pack: pkg.Pack}
			for _, t := range toolsFor(pkg.Language) {
				res.Tools = append(res.Tools, ToolResult{Tool: t, Status: StatusSkip})
				res.Skipped |= t.Bit()
			}
			results = append(results, res)
		}
		return m.report(results, true), nil
	}

	built := m.images.BuildAll(ctx, m.imageRequests(pkgs))

	p := pool.NewWithResults[PackageResult]().WithMaxGoroutines(m.opts.Workers)
	for _, pkg := range pkgs {
		p.Go(func() PackageResult {
			return m.lintPackage(ctx, pkg, built)
		})
	}
	results = append(results, p.Wait()...)

	if ctx.Err() != nil {
		m.removeContainers()
		return m.report(results, false), ctx.Err()
	}
	return m.report(results, false), nil
}

func (m *Manager) prepare() error {
	native, err := LoadNativeImageConfig(m.root)
	if err != nil {
		return err
	}
	m.native = native
	patterns, err := ingestion.LoadIgnorePatterns(m.root)
	if err != nil {
		return fmt.Errorf("loading gitignore: %w", err)
	}
	m.ignore = gitignore.NewMatcher(patterns)
	return nil
}

func (m *Manager) imageRequests(pkgs []*Package) []imageRequest {
	var reqs []imageRequest
	for _, pkg := range pkgs {
		for _, img := range pkg.Images {
			reqs = append(reqs, imageRequest{Base: img, Language: pkg.Language, Subtype: pkg.Subtype, Requirements: pkg.Requirements})
		}
	}
	return reqs
}

func (m *Manager) report(results []PackageResult, noDocker bool) *Report {
	slices.SortFunc(results, func(a, b PackageResult) int { return strings.Compare(a.Dir, b.Dir) })
	r := &Report{Packages: results, NoDocker: noDocker}
	for _, res := range results {
		r.Failed |= res.Failed
		r.Skipped |= res.Skipped
		switch {
		case res.Ignored != "":
			m.opts.Metrics.LintPackage("ignored")
		case res.Failed != 0:
			m.opts.Metrics.LintPackage("failed")
		default:
			m.opts.Metrics.LintPackage("passed")
		}
		for _, t := range res.Tools {
			m.opts.Metrics.LintTool(string(t.Tool), string(t.Status))
		}
	}
	return r
}

func (m *Manager) packLock(pack string) *sync.Mutex {
	mu, _ := m.packLocks.LoadOrStore(pack, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// lintPackage runs every applicable tool of pkg against each of its images.
func (m *Manager) lintPackage(ctx context.Context, pkg *Package, built map[string]imageOutcome) PackageResult {
	log := m.logger.With(zap.String("package", pkg.Dir))
	res := PackageResult{Dir: pkg.Dir, Pack: pkg.Pack}

	cleanup, err := m.addScratchFiles(pkg)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		res.Failed |= ToolImage.Bit()
		return res
	}
	defer cleanup()

	for _, base := range pkg.Images {
		req := imageRequest{Base: base, Language: pkg.Language, Subtype: pkg.Subtype, Requirements: pkg.Requirements}
		outcome := built[req.key()]
		if outcome.Err != nil {
			log.Error("test image unavailable", zap.String("image", base), zap.Error(outcome.Err))
			res.Tools = append(res.Tools, ToolResult{Tool: ToolImage, Image: base, Status: StatusFail, Output: outcome.Err.Error()})
			res.Failed |= ToolImage.Bit()
			continue
		}
		for _, l := range lintersFor(pkg.Language) {
			if slices.Contains(m.opts.Skip, l.tool) {
				res.Tools = append(res.Tools, ToolResult{Tool: l.tool, Image: base, Status: StatusSkip})
				res.Skipped |= l.tool.Bit()
				continue
			}
			if !l.enabled(pkg, outcome.Image.Python) {
				continue
			}
			if ctx.Err() != nil {
				res.Tools = append(res.Tools, ToolResult{Tool: l.tool, Image: base, Status: StatusFail, Output: ctx.Err().Error()})
				res.Failed |= l.tool.Bit()
				continue
			}
			tr := m.runTool(ctx, l, pkg, outcome.Image)
			res.Tools = append(res.Tools, tr)
			if tr.Status == StatusFail {
				res.Failed |= l.tool.Bit()
			}
			log.Debug("tool finished", zap.String("tool", string(l.tool)), zap.String("status", string(tr.Status)), zap.Int("exit", tr.ExitCode))
		}
	}
	return res
}

// runTool runs one tool, retrying once when the daemon dropped the
// connection or the tool asked for a rerun.
func (m *Manager) runTool(ctx context.Context, l linter, pkg *Package, img TestImage) ToolResult {
	j := &job{
		pkg:        pkg,
		image:      img,
		vulture:    m.opts.VultureConfidence,
		hasPlugins: m.opts.PluginsDir != "",
		testXML:    m.opts.TestXML != "",
	}
	tr := ToolResult{Tool: l.tool, Image: img.Base}
	timeout := m.opts.ContainerTimeout
	if l.tests {
		timeout = m.opts.TestTimeout
	}
	for attempt := 1; attempt <= 2; attempt++ {
		run, err := m.runContainer(ctx, l.tool, pkg, img, l.command(j), timeout)
		tr.ExitCode, tr.Output = run.ExitCode, run.Output
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			tr.Status = StatusFail
			tr.Output = fmt.Sprintf("%s timed out after %s", l.tool, timeout)
			return tr
		case err != nil && strings.Contains(err.Error(), connectionReset),
			err == nil && strings.Contains(run.Output, connectionReset):
			tr.Status = StatusFail
			m.logger.Warn("container connection reset, retrying", zap.String("package", pkg.Dir), zap.String("tool", string(l.tool)))
			continue
		case err != nil:
			tr.Status = StatusFail
			tr.Output = err.Error()
			return tr
		}
		tr.Status = l.interpret(run.ExitCode)
		if tr.Status != statusRerun {
			return tr
		}
	}
	if tr.Status == statusRerun {
		tr.Status = StatusFail
	}
	return tr
}

func (m *Manager) runContainer(ctx context.Context, tool Tool, pkg *Package, img TestImage, command string, timeout time.Duration) (RunResult, error) {
	name := fmt.Sprintf("%s-%s-%s", pkg.Name, tool, uuid.NewString()[:8])
	opts := RunOptions{
		Name:    name,
		Image:   img.Tag,
		Command: command,
		Env:     m.env(pkg, img),
		Mounts:  []Mount{{Source: filepath.Join(m.root, filepath.FromSlash(pkg.Dir)), Target: workDir}},
		User:    containerUser(),
		WorkDir: workDir,
		Keep:    m.opts.KeepContainer,
	}
	if m.opts.PluginsDir != "" {
		opts.Mounts = append(opts.Mounts, Mount{Source: m.opts.PluginsDir, Target: pluginsDir})
	}
	if m.opts.TestXML != "" && tool == ToolPytest {
		opts.Mounts = append(opts.Mounts, Mount{Source: m.opts.TestXML, Target: reportDir})
	}

	m.containers.Store(name, struct{}{})
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := m.opts.Docker.Run(tctx, opts)
	if err != nil || !m.opts.KeepContainer {
		m.forceRemove(name)
	} else {
		m.containers.Delete(name)
		m.logger.Info("kept container", zap.String("container", name))
	}
	return res, err
}

func (m *Manager) env(pkg *Package, img TestImage) map[string]string {
	env := map[string]string{
		"DEMISTO_LINT_UPDATE_CERTS": m.opts.UpdateCerts,
		"PYTHONDONTWRITEBYTECODE":   "1",
	}
	if m.opts.CI {
		env["CI"] = "true"
	}
	if pkg.Language == LanguagePython {
		for k, v := range pylintEnv(pkg, img.Python) {
			env[k] = v
		}
		if m.opts.PluginsDir != "" {
			env["PYTHONPATH"] = pluginsDir
		}
	}
	return env
}

func containerUser() string {
	uid := os.Getuid()
	if uid <= 0 {
		uid = 4000
	}
	return fmt.Sprintf("%d:4000", uid)
}

// forceRemove removes a container on a fresh context so that it also runs
// after cancellation.
func (m *Manager) forceRemove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout)
	defer cancel()
	if err := m.opts.Docker.Remove(ctx, name); err != nil {
		m.logger.Warn("removing container failed", zap.String("container", name), zap.Error(err))
	}
	m.containers.Delete(name)
}

// removeContainers removes every container still tracked.
func (m *Manager) removeContainers() {
	m.containers.Range(func(k, _ any) bool {
		m.forceRemove(k.(string))
		return true
	})
}

// addScratchFiles places the files the linters import but the package does
// not carry: an empty CommonServerUserPython and the api modules it imports.
// The returned function removes them.
func (m *Manager) addScratchFiles(pkg *Package) (func(), error) {
	if pkg.Language != LanguagePython {
		return func() {}, nil
	}
	mu := m.packLock(pkg.Pack)
	mu.Lock()
	defer mu.Unlock()

	dir := filepath.Join(m.root, filepath.FromSlash(pkg.Dir))
	var added []string
	undo := func() {
		for _, f := range added {
			if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
				m.logger.Warn("removing scratch file failed", zap.String("file", f), zap.Error(err))
			}
		}
	}
	write := func(name string, data []byte) error {
		target := filepath.Join(dir, name)
		if _, err := os.Stat(target); err == nil {
			return nil
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("writing scratch file: %w", err)
		}
		added = append(added, target)
		return nil
	}

	if err := write("CommonServerUserPython.py", nil); err != nil {
		undo()
		return nil, err
	}
	for _, f := range pkg.LintFiles {
		data, err := fs.ReadFile(m.repo, path.Join(pkg.Dir, f))
		if err != nil {
			undo()
			return nil, fmt.Errorf("reading lint file: %w", err)
		}
		for _, match := range parsers.ApiModuleImport.FindAllStringSubmatch(string(data), -1) {
			module := match[1]
			src, err := fs.ReadFile(m.repo, path.Join(unify.ApiModulesDir, module, module+".py"))
			if err != nil {
				m.logger.Warn("api module source not found", zap.String("module", module), zap.Error(err))
				continue
			}
			if err := write(module+".py", src); err != nil {
				undo()
				return nil, err
			}
		}
	}
	return func() {
		mu.Lock()
		defer mu.Unlock()
		undo()
	}, nil
}
