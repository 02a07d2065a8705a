package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Benny93/contentgraph/internal/lint"
)

// maxExitCode bounds the lint bitfield to what a process can return.
const maxExitCode = 255

// LintCmd lints packages in test containers.
type LintCmd struct {
	Paths             []string `arg:"" optional:"" help:"Packages, packs or files to lint; every pack when empty"`
	DockerImageTarget string   `default:"from-yml" enum:"from-yml,native:ga,native:maintenance,native:dev,all" help:"Images to lint against (${enum})"`

	NoFlake8      bool `help:"Do not run flake8"`
	NoBandit      bool `help:"Do not run bandit"`
	NoMypy        bool `help:"Do not run mypy"`
	NoPylint      bool `help:"Do not run pylint"`
	NoVulture     bool `help:"Do not run vulture"`
	NoTest        bool `help:"Do not run pytest"`
	NoPwshAnalyze bool `help:"Do not run the powershell analyzer"`
	NoPwshTest    bool `help:"Do not run the powershell tests"`

	KeepContainer    bool          `help:"Keep the containers after their run"`
	TestXML          string        `type:"path" help:"Directory receiving the pytest junit reports"`
	Parallel         int           `short:"p" help:"Packages linted at once (default CPU count minus one)"`
	Timeout          time.Duration `default:"60s" help:"Timeout of docker client calls"`
	ContainerTimeout time.Duration `env:"DOCKER_CONTAINER_TIMEOUT" default:"300s" help:"Timeout of one linter container run"`
	TestTimeout      time.Duration `default:"10m" help:"Timeout of one unit test container run"`
	PluginsDir       string        `type:"path" help:"Directory holding the support level pylint checkers"`

	BuildTries        int    `env:"DEMISTO_SDK_DOCKER_BUILD_TRIES" help:"Test image build attempts (3 in CI, 1 otherwise)"`
	VultureConfidence int    `env:"VULTURE_MIN_CONFIDENCE_LEVEL" default:"100" help:"Minimal vulture confidence"`
	UpdateCerts       string `env:"DEMISTO_LINT_UPDATE_CERTS" default:"yes" help:"Update the certificates inside containers"`
	DockerhubUser     string `env:"DOCKERHUB_USER" help:"Push built test images as this user"`
	DockerhubPassword string `env:"DOCKERHUB_PASSWORD" help:"Password of the docker hub user"`
	CI                bool   `env:"CI" help:"Running in continuous integration"`

	docker lint.Docker
}

// skipped lists the tools disabled by flags.
func (c *LintCmd) skipped() []lint.Tool {
	var out []lint.Tool
	for tool, off := range map[lint.Tool]bool{
		lint.ToolFlake8:      c.NoFlake8,
		lint.ToolBandit:      c.NoBandit,
		lint.ToolMypy:        c.NoMypy,
		lint.ToolPylint:      c.NoPylint,
		lint.ToolVulture:     c.NoVulture,
		lint.ToolPytest:      c.NoTest,
		lint.ToolPwshAnalyze: c.NoPwshAnalyze,
		lint.ToolPwshTest:    c.NoPwshTest,
	} {
		if off {
			out = append(out, tool)
		}
	}
	return out
}

// Run executes the lint command.
func (c *LintCmd) Run(g *Globals) error {
	start := time.Now()
	repo := os.DirFS(g.Repo)

	paths := make([]string, 0, len(c.Paths))
	for _, p := range c.Paths {
		rel, err := repoRelative(g.Repo, p)
		if err != nil {
			return infraError(err)
		}
		paths = append(paths, rel)
	}
	dirs, err := lint.Discover(repo, paths)
	if err != nil {
		return infraError(err)
	}
	if len(dirs) == 0 {
		fmt.Fprintln(g.out, "No packages to lint")
		return nil
	}

	tries := c.BuildTries
	if tries <= 0 {
		tries = lint.DefaultBuildTries(c.CI)
	}
	mgr := lint.NewManagerFS(repo, g.Repo, lint.Options{
		Target:            lint.ImageTarget(c.DockerImageTarget),
		Skip:              c.skipped(),
		KeepContainer:     c.KeepContainer,
		TestXML:           c.TestXML,
		Timeout:           c.Timeout,
		ContainerTimeout:  c.ContainerTimeout,
		TestTimeout:       c.TestTimeout,
		Workers:           c.Parallel,
		VultureConfidence: c.VultureConfidence,
		UpdateCerts:       c.UpdateCerts,
		CI:                c.CI,
		PluginsDir:        c.PluginsDir,
		Build: lint.BuildOptions{
			Tries:        tries,
			PushUser:     c.DockerhubUser,
			PushPassword: c.DockerhubPassword,
		},
		Docker:  c.docker,
		Logger:  g.logger,
		Metrics: g.metrics,
	})

	report, err := mgr.Run(g.ctx, dirs)
	if report != nil {
		report.Print(g.out)
	}
	g.metrics.Observe("lint", start)
	if err != nil {
		return infraError(fmt.Errorf("linting: %w", err))
	}
	if code := report.ExitCode(); code != 0 {
		return &ExitError{Code: min(code, maxExitCode)}
	}
	return nil
}
