package lint

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/unify"
)

// Language is the runtime of a lintable package.
type Language string

const (
	LanguagePython     Language = "python"
	LanguagePowershell Language = "powershell"
)

const (
	DefaultPythonImage     = "demisto/python:1.3-alpine"
	DefaultPowershellImage = "demisto/powershell:7.1.3.22028"
)

// Package holds the facts gathered about one lintable package.
type Package struct {
	// Dir is the repository-relative package directory.
	Dir      string
	Name     string
	Pack     string
	ID       string
	Language Language
	// Subtype is python2 or python3 for python packages.
	Subtype     string
	IsScript    bool
	LongRunning bool
	Images      []string
	Support     content.SupportTier
	HasTests    bool
	// Requirements are the extra pip packages of test-requirements.txt.
	Requirements []string
	// LintFiles are the package-relative files the linters check.
	LintFiles []string
	Commands  []string
	// Skip is set when the package cannot be linted.
	Skip string
}

var (
	pythonTest = regexp.MustCompile(`^test_.*\.py$|_test\.py$`)
	pwshTest   = regexp.MustCompile(`\.Tests\.ps1$`)
	lintStub   = regexp.MustCompile(`^(CommonServerPython|CommonServerUserPython|CommonServerPowerShell|demistomock|conftest)\.(py|ps1)$`)
)

// GatherFacts reads the package at dir from repo. Packages that are not
// python or powershell come back with Skip set.
func GatherFacts(repo fs.FS, dir string, target ImageTarget, native *NativeImageConfig, ignore gitignore.Matcher) (*Package, error) {
	yml, err := unify.FindPackageYML(repo, dir)
	if err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(repo, yml)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", yml, err)
	}
	body, err := content.LoadBody(yml, data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", yml, err)
	}

	pkg := &Package{
		Dir:      dir,
		Name:     path.Base(dir),
		ID:       content.String(body, "commonfields", "id"),
		IsScript: !isMap(body["script"]),
	}
	if pkg.ID == "" {
		pkg.ID = content.String(body, "name")
	}
	if loc, ok := content.Locate(dir); ok {
		pkg.Pack = loc.Pack
	}
	script := body
	if !pkg.IsScript {
		script = content.Map(body, "script")
	}
	pkg.Subtype = content.String(script, "subtype")
	pkg.LongRunning = content.Bool(script, "longRunning")
	pkg.Language = Language(content.String(script, "type"))
	if pkg.Language != LanguagePython && pkg.Language != LanguagePowershell {
		pkg.Skip = fmt.Sprintf("not a python or powershell package (%s)", pkg.Language)
		return pkg, nil
	}
	for _, c := range content.Slice(script, "commands") {
		if m, ok := content.AsMap(c); ok {
			pkg.Commands = append(pkg.Commands, content.String(m, "name"))
		}
	}

	ymlImages := declaredImages(script, pkg.Language)
	pkg.Images = native.Images(target, pkg.ID, ymlImages)
	if len(pkg.Images) == 0 {
		pkg.Skip = fmt.Sprintf("no image for target %s", target)
		return pkg, nil
	}

	if pkg.Support, err = supportLevel(repo, pkg.Pack); err != nil {
		return nil, err
	}
	if err := pkg.collectFiles(repo, ignore); err != nil {
		return nil, err
	}
	reqs, err := fs.ReadFile(repo, path.Join(dir, "test-requirements.txt"))
	switch {
	case err == nil:
		for _, line := range strings.Split(string(reqs), "\n") {
			if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
				pkg.Requirements = append(pkg.Requirements, line)
			}
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("reading test requirements: %w", err)
	}
	return pkg, nil
}

func isMap(v any) bool {
	_, ok := content.AsMap(v)
	return ok
}

// declaredImages returns dockerimage and alt_dockerimages, or the language
// default.
func declaredImages(script map[string]any, lang Language) []string {
	var images []string
	if img := content.String(script, "dockerimage"); img != "" {
		images = append(images, img)
	}
	for _, img := range content.Strings(script, "alt_dockerimages") {
		if img != "" && !slices.Contains(images, img) {
			images = append(images, img)
		}
	}
	if len(images) > 0 {
		return images
	}
	if lang == LanguagePowershell {
		return []string{DefaultPowershellImage}
	}
	return []string{DefaultPythonImage}
}

// supportLevel reads the support tier of pack. Certified partner packs are
// partner packs with a certification.
func supportLevel(repo fs.FS, pack string) (content.SupportTier, error) {
	if pack == "" {
		return content.SupportBase, nil
	}
	name := path.Join(content.PacksDir, pack, content.PackMetadataFile)
	data, err := fs.ReadFile(repo, name)
	if errors.Is(err, fs.ErrNotExist) {
		return content.SupportBase, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading pack metadata: %w", err)
	}
	meta, err := content.LoadBody(name, data)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", name, err)
	}
	tier, ok := content.ParseSupportTier(content.String(meta, "support"))
	if !ok {
		return content.SupportBase, nil
	}
	if tier == content.SupportPartner && content.FirstString(meta, "certification", "Certification") != "" {
		tier = content.SupportCertifiedPartner
	}
	return tier, nil
}

// collectFiles lists the lint files and notes whether tests exist.
func (p *Package) collectFiles(repo fs.FS, ignore gitignore.Matcher) error {
	entries, err := fs.ReadDir(repo, p.Dir)
	if err != nil {
		return fmt.Errorf("reading package: %w", err)
	}
	ext, test := ".py", pythonTest
	if p.Language == LanguagePowershell {
		ext, test = ".ps1", pwshTest
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || path.Ext(name) != ext {
			continue
		}
		if test.MatchString(name) {
			p.HasTests = true
			continue
		}
		if lintStub.MatchString(name) && name != p.Name+ext {
			continue
		}
		if strings.HasSuffix(name, "ApiModule"+ext) && !strings.HasSuffix(p.Name, "ApiModule") {
			continue
		}
		if ignore != nil && ignore.Match(strings.Split(path.Join(p.Dir, name), "/"), false) {
			continue
		}
		p.LintFiles = append(p.LintFiles, name)
	}
	if strings.HasPrefix(p.Name, "CommonServer") {
		own := p.Name + ext
		if slices.Contains(p.LintFiles, own) {
			p.LintFiles = []string{own}
		}
	}
	slices.Sort(p.LintFiles)
	return nil
}

var pythonTag = regexp.MustCompile(`[\d\w]+/python3?:([23]\.\d+)`)

// pythonFromImage reads the python version from an image tag, or returns
// "" when the tag does not carry it.
func pythonFromImage(image string) string {
	if m := pythonTag.FindStringSubmatch(image); m != nil {
		return m[1]
	}
	return ""
}
