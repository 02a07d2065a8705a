// Package cmd provides CLI command implementations for contentgraph.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/Benny93/contentgraph/internal/logging"
	"github.com/Benny93/contentgraph/internal/metrics"
	"github.com/Benny93/contentgraph/internal/storage"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Store backends selectable with --store.
const (
	StoreBadger = "badger"
	StoreNeo4j  = "neo4j"
	StoreMemory = "memory"
)

// stateDir holds the local graph store below the repository root.
const stateDir = ".contentgraph"

// ExitError carries the process exit code of a command. Err is nil when
// the command already reported its outcome.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// infraError marks err as an infrastructure failure, exit code 2.
func infraError(err error) error {
	var exit *ExitError
	if errors.As(err, &exit) {
		return err
	}
	return &ExitError{Code: 2, Err: err}
}

// Globals are the flags shared by every command.
type Globals struct {
	Verbose     bool   `short:"v" help:"Enable verbose output"`
	Quiet       bool   `short:"q" help:"Suppress non-essential output"`
	Repo        string `short:"C" default:"." help:"Content repository root"`
	Store       string `enum:"badger,neo4j,memory" default:"badger" help:"Graph store backend (${enum})"`
	MetricsFile string `type:"path" help:"Write prometheus metrics of the run to this file"`

	ctx     context.Context
	out     io.Writer
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// prepare resolves the repository and builds the logger.
func (g *Globals) prepare(ctx context.Context) error {
	root, err := filepath.Abs(g.Repo)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("accessing %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}
	g.Repo = root

	if g.logger == nil {
		logger, err := logging.New(g.Verbose, g.Quiet)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		g.logger = logger
	}
	if g.out == nil {
		g.out = os.Stdout
	}
	if g.ctx == nil {
		g.ctx = ctx
	}
	g.metrics = metrics.New()
	return nil
}

// finish writes the metrics file when one was requested.
func (g *Globals) finish() error {
	if g.MetricsFile == "" {
		return nil
	}
	return g.metrics.WriteFile(g.MetricsFile)
}

// openStore opens the selected graph store. The badger store lives under
// .contentgraph/badger in the repository.
func (g *Globals) openStore(readOnly bool) (storage.Backend, error) {
	var (
		store    storage.Backend
		location string
	)
	switch g.Store {
	case StoreMemory:
		store = storage.NewMemoryBackend()
	case StoreNeo4j:
		store = storage.NewNeo4jBackend(storage.Neo4jConfigFromEnv())
	default:
		location = filepath.Join(g.Repo, stateDir, "badger")
		if readOnly {
			if _, err := os.Stat(location); os.IsNotExist(err) {
				return nil, fmt.Errorf("no graph found at %s. Run 'contentgraph graph create' first", g.Repo)
			}
		} else if err := os.MkdirAll(location, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s directory: %w", stateDir, err)
		}
		store = storage.NewBadgerBackend()
	}
	if err := store.Initialize(location, readOnly); err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	g.logger.Debug("store opened", zap.String("backend", g.Store), zap.String("location", location))
	return store, nil
}

// osSignalChannel returns a channel that receives OS signals for graceful shutdown.
func osSignalChannel() <-chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

// signalContext is cancelled on the first SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-osSignalChannel():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// CLI is the root Kong command structure.
type CLI struct {
	Version kong.VersionFlag `help:"Show version information"`
	Globals

	// Commands
	Validate ValidateCmd `cmd:"" help:"Validate content items"`
	Lint     LintCmd     `cmd:"" help:"Lint integration and script packages in containers"`
	Unify    UnifyCmd    `cmd:"" help:"Merge a package directory into one deployable file"`
	Graph    GraphCmd    `cmd:"" help:"Build and query the content graph"`
	Watch    WatchCmd    `cmd:"" help:"Watch the repository, updating the graph and revalidating changes"`
	Upload   UploadCmd   `cmd:"" help:"Unify packages and upload them to the platform"`
	MCP      MCPCmd      `cmd:"" help:"Start MCP server (stdio transport)"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := kong.New(c,
		kong.Name("contentgraph"),
		kong.Description("Content graph, validation and packaging tooling for security content repositories"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
		kong.Bind(&c.Globals),
	)
	if err != nil {
		return err
	}
	kongCtx, err := parser.Parse(args)
	parser.FatalIfErrorf(err)

	ctx, cancel := signalContext(context.Background())
	defer cancel()
	if err := c.Globals.prepare(ctx); err != nil {
		return infraError(err)
	}
	defer func() { _ = c.logger.Sync() }()

	runErr := kongCtx.Run()
	if err := c.finish(); err != nil && runErr == nil {
		return infraError(err)
	}
	return runErr
}
