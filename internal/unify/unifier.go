package unify

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/Benny93/contentgraph/internal/content"
)

// ErrOverwrite is returned when unifying would replace existing content and
// force is not set.
var ErrOverwrite = errors.New("refusing to overwrite, use force")

// ErrDockerImage45 is returned when a dockerimage45 split is requested for an
// item that does not span both the 4.5 and 5.0 platforms.
var ErrDockerImage45 = errors.New("dockerimage45 requires an item supporting both 4.5 and 5.0")

// ImagePrefix is the data URI prefix of unified images.
const ImagePrefix = "data:image/png;base64,"

const (
	splitVersion    = "5.0.0"
	legacyToVersion = "4.5.9"
)

// Options configures a Unifier.
type Options struct {
	// Marketplace selects the marketplace transform, xsoar by default.
	Marketplace content.Marketplace
	// Force allows overwriting outputs and embedded images or descriptions.
	Force bool
	// OutDir is where Write places outputs. Defaults to the package directory.
	OutDir string
	Logger *zap.Logger
}

// Unifier merges package directories into single deployable files.
type Unifier struct {
	repo   fs.FS
	root   string
	opts   Options
	logger *zap.Logger
}

// New creates a Unifier over the repository at root.
func New(root string, opts Options) *Unifier {
	return NewFS(os.DirFS(root), root, opts)
}

// NewFS creates a Unifier reading from repo. root is the on-disk location
// of repo; Write resolves relative output directories against it.
func NewFS(repo fs.FS, root string, opts Options) *Unifier {
	if opts.Marketplace == "" {
		opts.Marketplace = content.MarketplaceXSOAR
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Unifier{repo: repo, root: root, opts: opts, logger: logger}
}

// Output is one unified file.
type Output struct {
	// Path is the slash-separated output path relative to the repository.
	Path string
	Data []byte
}

// Result is the outcome of unifying one package.
type Result struct {
	Type    content.Type
	Source  string
	Outputs []Output
	// ApiModules lists the api modules inlined into the code.
	ApiModules []string
}

// packageDoc holds the state of one package while it is unified.
type packageDoc struct {
	dir    string
	yml    string
	doc    yaml.MapSlice
	script yaml.MapSlice // the integration script section
	kind   content.Type
}

func (p *packageDoc) language() string {
	if p.kind == content.TypeIntegration {
		return lookupString(p.script, "type")
	}
	return lookupString(p.doc, "type")
}

// scriptObject returns the mapping holding code and docker settings.
func (p *packageDoc) scriptObject() yaml.MapSlice {
	if p.kind == content.TypeIntegration {
		return p.script
	}
	return p.doc
}

func (p *packageDoc) setScriptObject(m yaml.MapSlice) {
	if p.kind == content.TypeIntegration {
		p.script = m
		p.doc = put(p.doc, "script", m)
		return
	}
	p.doc = m
}

// Unify unifies the package at dir, a slash-separated path relative to the
// repository. Nothing is written.
func (u *Unifier) Unify(dir string) (*Result, error) {
	dir = path.Clean(filepath.ToSlash(dir))
	pkg, err := u.load(dir)
	if err != nil {
		return nil, err
	}
	log := u.logger.With(zap.String("package", dir), zap.String("marketplace", string(u.opts.Marketplace)))

	modules, err := u.insertCode(pkg, log)
	if err != nil {
		return nil, err
	}
	if pkg.kind == content.TypeIntegration {
		if err := u.insertImage(pkg); err != nil {
			return nil, err
		}
		if err := u.insertDescription(pkg); err != nil {
			return nil, err
		}
		if err := u.addContributorNotice(pkg); err != nil {
			return nil, err
		}
	}
	resolved, _ := ResolveAliases(pkg.doc, u.opts.Marketplace).(yaml.MapSlice)
	pkg.doc = resolved
	if pkg.kind == content.TypeIntegration {
		pkg.script, _ = lookupMap(pkg.doc, "script")
	}

	out := path.Join(u.outDir(dir), outputName(pkg))
	docs, err := splitDockerImage45(pkg, out)
	if err != nil {
		return nil, err
	}

	res := &Result{Type: pkg.kind, Source: pkg.yml, ApiModules: modules}
	for _, d := range docs {
		data, err := encodeYAML(d.doc)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", d.path, err)
		}
		res.Outputs = append(res.Outputs, Output{Path: d.path, Data: data})
	}
	log.Debug("unified package", zap.Int("outputs", len(res.Outputs)), zap.Strings("api_modules", modules))
	return res, nil
}

// Write writes the outputs of res, refusing to replace existing files
// unless force is set. It returns the written paths.
func (u *Unifier) Write(res *Result) ([]string, error) {
	var written []string
	for _, o := range res.Outputs {
		full := o.Path
		if !filepath.IsAbs(full) {
			full = filepath.Join(u.root, filepath.FromSlash(o.Path))
		}
		if _, err := os.Stat(full); err == nil && !u.opts.Force {
			return written, fmt.Errorf("%s: %w", o.Path, ErrOverwrite)
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return written, fmt.Errorf("creating output directory: %w", err)
		}
		if err := os.WriteFile(full, o.Data, 0o644); err != nil {
			return written, fmt.Errorf("writing %s: %w", o.Path, err)
		}
		written = append(written, full)
	}
	return written, nil
}

// UnifyAndWrite unifies the package at dir and writes the outputs.
func (u *Unifier) UnifyAndWrite(dir string) ([]string, error) {
	res, err := u.Unify(dir)
	if err != nil {
		return nil, err
	}
	return u.Write(res)
}

func (u *Unifier) outDir(dir string) string {
	if u.opts.OutDir == "" {
		return dir
	}
	if filepath.IsAbs(u.opts.OutDir) {
		return filepath.ToSlash(u.opts.OutDir)
	}
	return path.Clean(filepath.ToSlash(u.opts.OutDir))
}

func outputName(pkg *packageDoc) string {
	prefix := "script"
	if pkg.kind == content.TypeIntegration {
		prefix = "integration"
	}
	return prefix + "-" + path.Base(pkg.dir) + ".yml"
}

var unifiedName = regexp.MustCompile(`^(integration|script)-.*\.yml$|_unified\.yml$|_45\.yml$`)

// FindPackageYML returns the path of the source yml of the package at dir,
// skipping unified outputs.
func FindPackageYML(fsys fs.FS, dir string) (string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return "", fmt.Errorf("reading package: %w", err)
	}
	var yml string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || path.Ext(name) != ".yml" || unifiedName.MatchString(name) {
			continue
		}
		if yml == "" || name == path.Base(dir)+".yml" {
			yml = path.Join(dir, name)
		}
	}
	if yml == "" {
		return "", fmt.Errorf("%s: no package yml found", dir)
	}
	return yml, nil
}

// load finds and decodes the package yml.
func (u *Unifier) load(dir string) (*packageDoc, error) {
	yml, err := FindPackageYML(u.repo, dir)
	if err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(u.repo, yml)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", yml, err)
	}
	doc, err := decodeOrdered(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", yml, err)
	}

	pkg := &packageDoc{dir: dir, yml: yml, doc: doc, kind: content.TypeScript}
	if script, ok := lookupMap(doc, "script"); ok {
		pkg.kind = content.TypeIntegration
		pkg.script = script
	}
	return pkg, nil
}

// insertCode inlines the package code with its api modules expanded.
func (u *Unifier) insertCode(pkg *packageDoc, log *zap.Logger) ([]string, error) {
	codePath, err := findCodeFile(u.repo, pkg.dir, pkg.language())
	if err != nil {
		return nil, err
	}
	raw, err := fs.ReadFile(u.repo, codePath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", codePath, err)
	}
	var stack []string
	if base := path.Base(pkg.dir); strings.HasSuffix(base, "ApiModule") {
		stack = []string{base}
	}
	code, modules, err := expandApiModules(u.repo, string(raw), stack)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pkg.dir, err)
	}

	obj := pkg.scriptObject()
	key := "script"
	if isEmbedded(lookupString(obj, key)) {
		log.Warn("package yml already embeds code, replacing it", zap.String("code", codePath))
	}
	pkg.setScriptObject(put(obj, key, code))
	return modules, nil
}

func (u *Unifier) insertImage(pkg *packageDoc) error {
	name := path.Join(pkg.dir, path.Base(pkg.dir)+"_image.png")
	data, err := readOptional(u.repo, name)
	if err != nil || data == nil {
		return err
	}
	if lookupString(pkg.doc, "image") != "" && !u.opts.Force {
		return fmt.Errorf("%s already embeds an image: %w", pkg.yml, ErrOverwrite)
	}
	pkg.doc = put(pkg.doc, "image", ImagePrefix+base64.StdEncoding.EncodeToString(data))
	return nil
}

func (u *Unifier) insertDescription(pkg *packageDoc) error {
	name := path.Join(pkg.dir, path.Base(pkg.dir)+"_description.md")
	data, err := readOptional(u.repo, name)
	if err != nil || data == nil {
		return err
	}
	if lookupString(pkg.doc, "detaileddescription") != "" && !u.opts.Force {
		return fmt.Errorf("%s already embeds a detailed description: %w", pkg.yml, ErrOverwrite)
	}
	pkg.doc = put(pkg.doc, "detaileddescription", string(data))
	return nil
}

type splitDoc struct {
	path string
	doc  yaml.MapSlice
}

// splitDockerImage45 emits the legacy 4.5 variant when the script object
// declares dockerimage45.
func splitDockerImage45(pkg *packageDoc, out string) ([]splitDoc, error) {
	obj := pkg.scriptObject()
	legacyImage, declared := lookup(obj, "dockerimage45")
	if !declared {
		return []splitDoc{{path: out, doc: pkg.doc}}, nil
	}

	from := lookupString(pkg.doc, "fromversion")
	if from == "" {
		from = content.DefaultFromVersion
	}
	if content.CompareVersions(content.NormalizeVersion(from), splitVersion) >= 0 {
		return nil, fmt.Errorf("%s: %w: fromversion is %s", pkg.yml, ErrDockerImage45, from)
	}
	to := lookupString(pkg.doc, "toversion")
	if to == "" {
		to = content.DefaultToVersion
	}
	if content.CompareVersions(content.NormalizeVersion(to), splitVersion) < 0 {
		return nil, fmt.Errorf("%s: %w: toversion is %s", pkg.yml, ErrDockerImage45, to)
	}

	pkg.setScriptObject(remove(obj, "dockerimage45"))
	legacy := &packageDoc{dir: pkg.dir, yml: pkg.yml, kind: pkg.kind}
	legacy.doc, _ = deepCopy(pkg.doc).(yaml.MapSlice)
	legacy.script, _ = lookupMap(legacy.doc, "script")

	pkg.doc = put(pkg.doc, "fromversion", splitVersion)
	legacy.doc = put(legacy.doc, "toversion", legacyToVersion)
	legacyObj := legacy.scriptObject()
	if image, _ := legacyImage.(string); image != "" {
		legacyObj = put(legacyObj, "dockerimage", image)
	} else {
		legacyObj = remove(legacyObj, "dockerimage")
	}
	legacy.setScriptObject(legacyObj)

	return []splitDoc{
		{path: out, doc: pkg.doc},
		{path: strings.TrimSuffix(out, ".yml") + "_45.yml", doc: legacy.doc},
	}, nil
}
