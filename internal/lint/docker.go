package lint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// ErrNoDocker is returned when the docker daemon cannot be reached.
var ErrNoDocker = errors.New("docker is not available")

// Mount binds a host path into a container.
type Mount struct {
	Source string
	Target string
}

// RunOptions describes one container run.
type RunOptions struct {
	Name  string
	Image string
	// Command is run with sh -c.
	Command string
	Env     map[string]string
	Mounts  []Mount
	User    string
	WorkDir string
	// Keep leaves the container in place after it exits.
	Keep bool
}

// RunResult is the outcome of a container run that started.
type RunResult struct {
	ExitCode int
	Output   string
}

// Docker is the subset of the docker engine the linter needs.
type Docker interface {
	// Ping returns ErrNoDocker when the daemon is unreachable.
	Ping(ctx context.Context) error
	ImageExists(ctx context.Context, image string) (bool, error)
	Pull(ctx context.Context, image string) error
	// Build builds dockerfile without a context directory and tags it.
	Build(ctx context.Context, tag string, dockerfile []byte) error
	Login(ctx context.Context, user, password string) error
	Push(ctx context.Context, tag string) error
	// Run runs a container to completion. A non-zero exit of the command
	// is reported in the result, not as an error.
	Run(ctx context.Context, opts RunOptions) (RunResult, error)
	// Remove force-removes a container; a missing container is no error.
	Remove(ctx context.Context, name string) error
	RemoveImage(ctx context.Context, image string) error
	// PythonVersion reports the MAJOR.MINOR python version of image.
	PythonVersion(ctx context.Context, image string) (string, error)
}

// CLI drives the docker command line client.
type CLI struct {
	// Binary is the docker executable, "docker" by default.
	Binary string
}

// NewCLI returns a client for the docker executable found in PATH.
func NewCLI() *CLI {
	return &CLI{Binary: "docker"}
}

func (c *CLI) command(ctx context.Context, stdin []byte, args ...string) (string, int, error) {
	bin := c.Binary
	if bin == "" {
		bin = "docker"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out.String(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return out.String(), -1, err
	}
	return out.String(), 0, nil
}

// simple runs a docker command that must succeed.
func (c *CLI) simple(ctx context.Context, stdin []byte, args ...string) error {
	out, code, err := c.command(ctx, stdin, args...)
	if err != nil {
		return fmt.Errorf("docker %s: %w", args[0], err)
	}
	if code != 0 {
		return fmt.Errorf("docker %s: exit %d: %s", args[0], code, strings.TrimSpace(out))
	}
	return nil
}

func (c *CLI) Ping(ctx context.Context) error {
	out, code, err := c.command(ctx, nil, "version", "--format", "{{.Server.Version}}")
	if err != nil || code != 0 {
		return fmt.Errorf("%w: %s", ErrNoDocker, strings.TrimSpace(out))
	}
	return nil
}

func (c *CLI) ImageExists(ctx context.Context, image string) (bool, error) {
	_, code, err := c.command(ctx, nil, "image", "inspect", "--format", "{{.Id}}", image)
	if err != nil {
		return false, fmt.Errorf("docker image inspect: %w", err)
	}
	return code == 0, nil
}

func (c *CLI) Pull(ctx context.Context, image string) error {
	return c.simple(ctx, nil, "pull", "--quiet", image)
}

func (c *CLI) Build(ctx context.Context, tag string, dockerfile []byte) error {
	return c.simple(ctx, dockerfile, "build", "--force-rm", "--tag", tag, "-")
}

func (c *CLI) Login(ctx context.Context, user, password string) error {
	return c.simple(ctx, []byte(password), "login", "--username", user, "--password-stdin")
}

func (c *CLI) Push(ctx context.Context, tag string) error {
	return c.simple(ctx, nil, "push", "--quiet", tag)
}

// dockerRunFailure is the exit status of docker run when the container
// could not be started.
const dockerRunFailure = 125

func (c *CLI) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	args := []string{"run", "--name", opts.Name}
	if !opts.Keep {
		args = append(args, "--rm")
	}
	if opts.User != "" {
		args = append(args, "--user", opts.User)
	}
	if opts.WorkDir != "" {
		args = append(args, "--workdir", opts.WorkDir)
	}
	for _, m := range opts.Mounts {
		args = append(args, "--volume", m.Source+":"+m.Target)
	}
	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--env", k+"="+opts.Env[k])
	}
	args = append(args, opts.Image, "sh", "-c", opts.Command)

	out, code, err := c.command(ctx, nil, args...)
	if err != nil {
		return RunResult{Output: out}, fmt.Errorf("docker run: %w", err)
	}
	if ctx.Err() != nil {
		return RunResult{ExitCode: code, Output: out}, ctx.Err()
	}
	if code == dockerRunFailure {
		return RunResult{ExitCode: code, Output: out}, fmt.Errorf("docker run: %s", strings.TrimSpace(out))
	}
	return RunResult{ExitCode: code, Output: out}, nil
}

func (c *CLI) Remove(ctx context.Context, name string) error {
	out, code, err := c.command(ctx, nil, "rm", "--force", name)
	if err != nil {
		return fmt.Errorf("docker rm: %w", err)
	}
	if code != 0 && !strings.Contains(out, "No such container") {
		return fmt.Errorf("docker rm: %s", strings.TrimSpace(out))
	}
	return nil
}

func (c *CLI) RemoveImage(ctx context.Context, image string) error {
	return c.simple(ctx, nil, "image", "rm", "--force", image)
}

func (c *CLI) PythonVersion(ctx context.Context, image string) (string, error) {
	out, code, err := c.command(ctx, nil, "run", "--rm", "--entrypoint", "python", image,
		"-c", "import sys; print('{}.{}'.format(sys.version_info[0], sys.version_info[1]))")
	if err != nil {
		return "", fmt.Errorf("docker run: %w", err)
	}
	if code != 0 {
		return "", fmt.Errorf("python version of %s: %s", image, strings.TrimSpace(out))
	}
	return strings.TrimSpace(out), nil
}
