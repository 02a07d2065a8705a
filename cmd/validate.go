package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Benny93/contentgraph/internal/ingestion"
	"github.com/Benny93/contentgraph/internal/validate"
)

// ValidateCmd runs the validators over the repository, selected files or
// the files changed against a git baseline.
type ValidateCmd struct {
	UseGit                 bool     `short:"g" help:"Validate the files changed against the baseline revision"`
	Staged                 bool     `help:"With --use-git, validate staged changes only"`
	PrevVer                string   `placeholder:"REV" help:"Baseline revision (origin/master, or demisto/master when that remote exists)"`
	Input                  []string `short:"i" sep:"," placeholder:"PATH,PATH" help:"Files or directories to validate"`
	All                    bool     `short:"a" help:"Validate every file of the repository"`
	NoDockerChecks         bool     `help:"Skip docker image validations"`
	RunSpecificValidations []string `sep:"," placeholder:"CODE,CODE" help:"Run only these error codes or code prefixes"`
	SkipValidations        []string `sep:"," placeholder:"CODE,CODE" help:"Skip these error codes or code prefixes"`
	PrintIgnoredErrors     bool     `help:"Also print errors silenced by .pack-ignore files"`
	Fix                    bool     `help:"Repair auto-fixable failures in place"`
	JSONFile               string   `name:"json-file" type:"path" help:"Write the results to this JSON file"`
	ConfigFile             string   `type:"path" help:"Validation config (default validation_config.toml in the repository)"`
}

// Run executes the validate command.
func (c *ValidateCmd) Run(g *Globals) error {
	start := time.Now()
	if c.UseGit && len(c.Input) > 0 {
		return infraError(errors.New("--use-git and --input are mutually exclusive"))
	}
	if c.All && (c.UseGit || len(c.Input) > 0) {
		return infraError(errors.New("--all cannot be combined with --use-git or --input"))
	}

	cfg, err := c.config(g.Repo)
	if err != nil {
		return infraError(err)
	}

	b, _, err := ingestion.RunPipeline(g.ctx, g.Repo, ingestion.PipelineOptions{Logger: g.logger})
	if err != nil {
		return infraError(fmt.Errorf("running pipeline: %w", err))
	}

	opts := validate.Options{
		Mode:           validate.ModeAllFiles,
		RunSpecific:    c.RunSpecificValidations,
		Skip:           c.SkipValidations,
		NoDockerChecks: c.NoDockerChecks,
		Config:         cfg,
		Fix:            c.Fix,
		RepoRoot:       g.Repo,
		Logger:         g.logger,
	}
	switch {
	case len(c.Input) > 0:
		opts.Mode = validate.ModeSpecificFiles
		for _, p := range c.Input {
			rel, err := repoRelative(g.Repo, p)
			if err != nil {
				return infraError(err)
			}
			opts.Paths = append(opts.Paths, rel)
		}
	case c.UseGit:
		if err := c.gitChanges(g, &opts); err != nil {
			return infraError(err)
		}
	}

	engine, err := validate.NewEngine(opts)
	if err != nil {
		return infraError(err)
	}
	report, err := engine.Run(g.ctx, b.Graph(), b.Failures())
	if err != nil {
		return infraError(fmt.Errorf("validating: %w", err))
	}

	report.Print(g.out, validate.PrintOptions{ShowIgnored: c.PrintIgnoredErrors})
	if c.JSONFile != "" {
		if err := report.WriteJSONFile(c.JSONFile); err != nil {
			return infraError(err)
		}
	}
	recordValidation(g, report, b)
	g.metrics.Observe("validate", start)

	if code := report.ExitCode(); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// config loads --config-file, which must exist, or the optional
// repository config.
func (c *ValidateCmd) config(root string) (*validate.Config, error) {
	if c.ConfigFile != "" {
		return validate.LoadConfig(c.ConfigFile, true)
	}
	return validate.LoadConfig(filepath.Join(root, validate.DefaultConfigFile), false)
}

// gitChanges switches opts to use-git mode over the changes against the
// baseline. A missing repository is fatal here since git was requested.
func (c *ValidateCmd) gitChanges(g *Globals, opts *validate.Options) error {
	repo, err := ingestion.OpenGitRepo(g.Repo)
	if err != nil {
		return err
	}
	baseline := c.PrevVer
	if baseline == "" {
		baseline = repo.DefaultBaseline()
	}
	changes, err := repo.ChangedFiles(g.ctx, ingestion.ChangeOptions{
		Baseline:         baseline,
		Staged:           c.Staged,
		IncludeUntracked: !c.Staged,
	})
	if err != nil {
		return fmt.Errorf("listing changes against %s: %w", baseline, err)
	}
	forkPoint, err := repo.MergeBase(baseline)
	if err != nil {
		return err
	}
	g.logger.Info("validating changed files",
		zap.String("baseline", baseline),
		zap.String("merge_base", forkPoint),
		zap.String("branch", repo.CurrentBranch()),
		zap.Int("files", len(changes)),
	)
	opts.Mode = validate.ModeUseGit
	opts.Git = repo
	opts.Baseline = forkPoint
	opts.Changes = changes
	return nil
}

// repoRelative turns a command line path into a slash path relative to
// root. Relative paths are taken relative to root already.
func repoRelative(root, p string) (string, error) {
	if !filepath.IsAbs(p) {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", p, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the repository %s", p, root)
	}
	return filepath.ToSlash(rel), nil
}

func recordValidation(g *Globals, report *validate.Report, b *ingestion.Builder) {
	for _, r := range report.Failures {
		g.metrics.ValidationResult(r.Code, "failure")
	}
	for _, r := range report.Warnings {
		g.metrics.ValidationResult(r.Code, "warning")
	}
	for _, r := range report.Ignored {
		g.metrics.ValidationResult(r.Code, "ignored")
	}
	for _, f := range report.Fixed {
		g.metrics.ValidationResult(f.Code, "fixed")
	}
	g.metrics.ValidatedItems(report.Items)
	stats := b.Graph().Stats()
	g.metrics.GraphSize(stats["nodes"], stats["relationships"])
}
