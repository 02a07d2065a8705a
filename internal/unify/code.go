package unify

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/parsers"
)

const (
	generatedStart = "### GENERATED CODE ###"
	generatedEnd   = "### END GENERATED CODE ###"
	generatedNote  = "# This code was inserted in place of an API module."
)

// ApiModulesDir is the directory holding the shared api module scripts.
const ApiModulesDir = "Packs/ApiModules/Scripts"

// ErrNoCode is returned when a package has no code file for its language.
var ErrNoCode = errors.New("no code file found")

// ErrApiModuleCycle is returned when api modules import each other.
var ErrApiModuleCycle = errors.New("api module import cycle")

// ignoredCode matches files in a package directory that are never the
// package's code file.
var ignoredCode = regexp.MustCompile(`^(CommonServerPython|CommonServerUserPython|CommonServerPowerShell|demistomock|conftest|__init__|vulture_whitelist)\.|_test\.py$|\.Tests\.ps1$`)

func codeExtension(language string) string {
	switch strings.ToLower(language) {
	case "javascript":
		return ".js"
	case "powershell":
		return ".ps1"
	default:
		return ".py"
	}
}

// findCodeFile returns the path of the code file of the package at dir.
// The file named after the package wins; otherwise the first other file
// with the language extension is used.
func findCodeFile(fsys fs.FS, dir, language string) (string, error) {
	ext := codeExtension(language)
	own := path.Join(dir, path.Base(dir)+ext)
	if _, err := fs.Stat(fsys, own); err == nil {
		return own, nil
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return "", fmt.Errorf("reading package: %w", err)
	}
	var candidates []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || path.Ext(name) != ext || ignoredCode.MatchString(name) {
			continue
		}
		if strings.HasSuffix(name, "ApiModule"+ext) && !strings.HasSuffix(dir, "ApiModule") {
			continue
		}
		candidates = append(candidates, name)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%s: %w with extension %s", dir, ErrNoCode, ext)
	}
	slices.Sort(candidates)
	return path.Join(dir, candidates[0]), nil
}

// apiModulePath returns where the source of module lives.
func apiModulePath(module string) string {
	return path.Join(ApiModulesDir, module, module+".py")
}

// expandApiModules replaces every api module import in code by the module
// source, recursively. stack holds the modules being expanded.
func expandApiModules(fsys fs.FS, code string, stack []string) (string, []string, error) {
	matches := parsers.ApiModuleImport.FindAllStringSubmatchIndex(code, -1)
	if len(matches) == 0 {
		return code, nil, nil
	}

	var b strings.Builder
	var used []string
	last := 0
	for _, m := range matches {
		module := code[m[2]:m[3]]
		if slices.Contains(stack, module) {
			return "", nil, fmt.Errorf("%w: %s -> %s", ErrApiModuleCycle, strings.Join(stack, " -> "), module)
		}
		src, err := fs.ReadFile(fsys, apiModulePath(module))
		if err != nil {
			return "", nil, fmt.Errorf("reading api module %s: %w", module, err)
		}
		expanded, nested, err := expandApiModules(fsys, string(src), append(slices.Clone(stack), module))
		if err != nil {
			return "", nil, err
		}
		used = appendUnique(used, module)
		for _, n := range nested {
			used = appendUnique(used, n)
		}

		b.WriteString(code[last:m[0]])
		b.WriteString("\n" + generatedStart + "\n# " + code[m[0]:m[1]] + "\n" + generatedNote + "\n")
		b.WriteString(expanded)
		b.WriteString("\n" + generatedEnd)
		last = m[1]
	}
	b.WriteString(code[last:])
	return b.String(), used, nil
}

func appendUnique(list []string, s string) []string {
	if slices.Contains(list, s) {
		return list
	}
	return append(list, s)
}

// ExtractCode reverses api module expansion: every outermost generated block
// is replaced by the import statement it was generated from.
func ExtractCode(unified string) string {
	lines := strings.Split(unified, "\n")
	out := make([]string, 0, len(lines))
	depth := 0
	prefix := ""
	importLine := ""
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case line == generatedStart:
			if depth == 0 {
				// The block starts on a new line; the text before the
				// import statement is the last emitted line.
				if n := len(out); n > 0 {
					prefix = out[n-1]
					out = out[:n-1]
				}
				if i+1 < len(lines) {
					importLine = strings.TrimPrefix(lines[i+1], "# ")
				}
			}
			depth++
		case strings.HasPrefix(line, generatedEnd) && depth > 0:
			depth--
			if depth == 0 {
				out = append(out, prefix+importLine+strings.TrimPrefix(line, generatedEnd))
				prefix, importLine = "", ""
			}
		case depth == 0:
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// isEmbedded reports whether a yml script value already holds code.
func isEmbedded(script string) bool {
	s := strings.TrimSpace(script)
	return s != "" && s != "-"
}

func readOptional(fsys fs.FS, name string) ([]byte, error) {
	data, err := fs.ReadFile(fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func packOf(dir string) string {
	if loc, ok := content.Locate(dir); ok {
		return loc.Pack
	}
	return ""
}
