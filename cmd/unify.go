package cmd

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/platform"
	"github.com/Benny93/contentgraph/internal/unify"
)

// UnifyCmd merges one package directory into its deployable file.
type UnifyCmd struct {
	Input       string `short:"i" required:"" help:"Package directory to unify"`
	Output      string `short:"o" type:"path" help:"Output directory (default the package directory)"`
	Force       bool   `help:"Overwrite existing outputs and embedded images or descriptions"`
	Marketplace string `short:"m" default:"xsoar" enum:"xsoar,xsoar_saas,marketplacev2,xpanse" help:"Target marketplace (${enum})"`
	System      bool   `help:"Mark a zipped Tools directory as a system tool"`
}

// Run executes the unify command.
func (c *UnifyCmd) Run(g *Globals) error {
	dir, err := repoRelative(g.Repo, c.Input)
	if err != nil {
		return infraError(err)
	}

	if path.Base(path.Dir(dir)) == "Tools" {
		outDir := c.Output
		if outDir == "" {
			outDir = filepath.Join(g.Repo, filepath.FromSlash(dir))
		}
		out := filepath.Join(outDir, "tools-"+path.Base(dir)+".zip")
		if err := unify.ZipTool(filepath.Join(g.Repo, filepath.FromSlash(dir)), out, c.System); err != nil {
			return infraError(err)
		}
		color.New(color.FgGreen).Fprintf(g.out, "Created zipped tool: %s\n", out)
		return nil
	}

	u := unify.New(g.Repo, unify.Options{
		Marketplace: content.Marketplace(c.Marketplace),
		Force:       c.Force,
		OutDir:      c.Output,
		Logger:      g.logger,
	})
	written, err := u.UnifyAndWrite(dir)
	if err != nil {
		return infraError(fmt.Errorf("unifying %s: %w", dir, err))
	}
	green := color.New(color.FgGreen)
	for _, p := range written {
		green.Fprintf(g.out, "Created unified file: %s\n", p)
	}
	return nil
}

// UploadCmd unifies packages and uploads them to the configured tenant.
type UploadCmd struct {
	Input       []string `short:"i" sep:"," required:"" placeholder:"DIR,DIR" help:"Package directories to upload"`
	Marketplace string   `short:"m" default:"xsoar" enum:"xsoar,xsoar_saas,marketplacev2,xpanse" help:"Target marketplace (${enum})"`
	Insecure    bool     `help:"Skip TLS certificate verification"`

	pool *platform.Pool
}

// Run executes the upload command.
func (c *UploadCmd) Run(g *Globals) error {
	cfg, err := platform.LoadClientConfig()
	if err != nil {
		return infraError(err)
	}
	if c.Insecure {
		cfg.VerifySSL = false
	}
	if c.pool == nil {
		c.pool = platform.NewPool(g.logger)
	}
	client, err := c.pool.Get(cfg)
	if err != nil {
		return infraError(err)
	}

	u := unify.New(g.Repo, unify.Options{
		Marketplace: content.Marketplace(c.Marketplace),
		Logger:      g.logger,
	})
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	failed := 0
	for _, in := range c.Input {
		dir, err := repoRelative(g.Repo, in)
		if err != nil {
			return infraError(err)
		}
		res, err := u.Unify(dir)
		if err != nil {
			failed++
			red.Fprintf(g.out, "%s: %v\n", dir, err)
			continue
		}
		for _, o := range res.Outputs {
			name := path.Base(o.Path)
			if err := client.UploadContent(g.ctx, name, o.Data); err != nil {
				failed++
				g.logger.Debug("upload failed", zap.String("file", name), zap.Error(err))
				red.Fprintf(g.out, "%s: %v\n", name, err)
				continue
			}
			green.Fprintf(g.out, "Uploaded %s\n", name)
		}
	}
	if failed > 0 {
		return &ExitError{Code: 1}
	}
	return nil
}
