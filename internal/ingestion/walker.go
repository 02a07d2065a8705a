// Package ingestion walks a content repository, parses every artifact and
// assembles the content graph.
package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/Benny93/contentgraph/internal/content"
)

// FileEntry represents a content file to be processed.
type FileEntry struct {
	// Path is the absolute file path. Empty when walking an fs.FS.
	Path string

	// RelPath is the slash-separated path relative to the repo root.
	RelPath string

	// Format is the detected document format.
	Format string

	// Content is the file content. Nil for tool directories.
	Content []byte

	// SHA256 is the hash of the file content.
	SHA256 string

	// IsDir indicates a tool directory, which is one content item.
	IsDir bool
}

// Document formats keyed by extension.
var supportedExtensions = map[string]string{
	".yml":  "yaml",
	".yaml": "yaml",
	".json": "json",
	".md":   "markdown",
}

// formatTool marks entries for pack tools.
const formatTool = "tool"

// Default patterns to ignore (in addition to .gitignore).
var defaultIgnorePatterns = []string{
	".git/",
	"node_modules/",
	".contentgraph/",
	"__pycache__/",
	".venv/",
	"venv/",
	".tox/",
	".pytest_cache/",
	".mypy_cache/",
	"test_data/",
	"TestData/",
	"doc_files/",
	"doc_imgs/",
	"*.pyc",
	".DS_Store",
	"Thumbs.db",
}

// codeDirs hold integrations and scripts, whose JSON files are test data.
var codeDirs = []string{
	content.DirIntegrations, content.DirScripts, content.DirPlaybooks, content.DirTestPlaybooks,
	content.DirModelingRules, content.DirParsingRules, content.DirCorrelationRules,
}

// WalkRepo walks the repository and returns all content files.
func WalkRepo(repoPath string, patterns []gitignore.Pattern) ([]FileEntry, error) {
	entries, err := WalkFS(os.DirFS(repoPath), patterns)
	for i := range entries {
		entries[i].Path = filepath.Join(repoPath, filepath.FromSlash(entries[i].RelPath))
	}
	return entries, err
}

// WalkFS walks a repository view and returns all content files, ordered by
// path. Each tool directory yields a single entry.
func WalkFS(fsys fs.FS, patterns []gitignore.Pattern) ([]FileEntry, error) {
	var entries []FileEntry
	matcher := newMatcher(patterns)
	tools := make(map[string]bool)

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == "." {
				return err
			}
			return nil
		}
		if p == "." {
			return nil
		}

		// Skip directories we don't want to traverse
		if d.IsDir() {
			if shouldSkipDir(d.Name(), p, matcher) {
				return fs.SkipDir
			}
			return nil
		}

		if matcher.Match(splitPath(p), false) || !isContentCandidate(p) {
			return nil
		}

		if root, ok := toolRoot(p); ok {
			if !tools[root] {
				tools[root] = true
				entries = append(entries, FileEntry{RelPath: root, Format: formatTool, IsDir: true})
			}
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		hash := sha256.Sum256(data)
		entries = append(entries, FileEntry{
			RelPath: p,
			Format:  getFormat(p),
			Content: data,
			SHA256:  hex.EncodeToString(hash[:]),
		})
		return nil
	})

	slices.SortFunc(entries, func(a, b FileEntry) int { return strings.Compare(a.RelPath, b.RelPath) })
	return entries, err
}

// ContentPathsFor maps a changed repository path to the content paths that
// must be parsed again. Code, image and description sidecars map to the
// YAML files of their directory.
func ContentPathsFor(fsys fs.FS, relPath string) []string {
	relPath = filepath.ToSlash(relPath)
	if root, ok := toolRoot(relPath); ok {
		return []string{root}
	}
	if isContentCandidate(relPath) {
		return []string{relPath}
	}
	loc, ok := content.Locate(relPath)
	if !ok || loc.Dir == "" || len(loc.Rest) < 2 || !slices.Contains(codeDirs, loc.Dir) {
		return nil
	}
	dir := path.Join(content.PacksDir, loc.Pack, loc.Dir, loc.Rest[0])
	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, f := range files {
		p := path.Join(dir, f.Name())
		if !f.IsDir() && getFormat(p) == "yaml" {
			out = append(out, p)
		}
	}
	return out
}

// isContentCandidate reports whether a path can hold a content item.
func isContentCandidate(relPath string) bool {
	if relPath == content.TestConfPath {
		return true
	}
	if !strings.HasPrefix(relPath, content.PacksDir+"/") {
		return false
	}
	loc, ok := content.Locate(relPath)
	if !ok {
		return false
	}
	base := path.Base(relPath)
	if loc.Dir == "" {
		return base == content.PackMetadataFile
	}
	if !slices.Contains(content.ContentDirs, loc.Dir) {
		return false
	}

	format := getFormat(base)
	switch loc.Dir {
	case content.DirTools:
		return len(loc.Rest) > 0
	case content.DirReleaseNotes:
		return format == "markdown" && len(loc.Rest) == 1
	}
	if format == "" || format == "markdown" {
		return false
	}
	if slices.Contains(codeDirs, loc.Dir) {
		return format == "yaml" && len(loc.Rest) <= 2
	}
	return true
}

// toolRoot returns the tool directory or archive that a path belongs to.
func toolRoot(relPath string) (string, bool) {
	loc, ok := content.Locate(relPath)
	if !ok || loc.Dir != content.DirTools || len(loc.Rest) == 0 {
		return "", false
	}
	return path.Join(content.PacksDir, loc.Pack, content.DirTools, loc.Rest[0]), true
}

// loadGitignore loads .gitignore patterns from the repository root.
func loadGitignore(repoPath string) ([]gitignore.Pattern, error) {
	data, err := os.ReadFile(filepath.Join(repoPath, ".gitignore"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var patterns []gitignore.Pattern
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns, nil
}

// LoadIgnorePatterns returns the repository .gitignore patterns.
func LoadIgnorePatterns(repoPath string) ([]gitignore.Pattern, error) {
	return loadGitignore(repoPath)
}

func newMatcher(patterns []gitignore.Pattern) gitignore.Matcher {
	all := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns)+len(patterns))
	for _, p := range defaultIgnorePatterns {
		all = append(all, gitignore.ParsePattern(p, nil))
	}
	all = append(all, patterns...)
	return gitignore.NewMatcher(all)
}

// getFormat returns the document format for a file name.
func getFormat(name string) string {
	return supportedExtensions[strings.ToLower(path.Ext(name))]
}

// shouldSkipDir checks if a directory should be skipped.
func shouldSkipDir(name, relPath string, matcher gitignore.Matcher) bool {
	if name == ".git" {
		return true
	}
	return matcher.Match(splitPath(relPath), true)
}

// splitPath splits a slash-separated path into its components.
func splitPath(p string) []string {
	return strings.Split(filepath.ToSlash(p), "/")
}
