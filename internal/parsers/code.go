package parsers

import (
	"regexp"
	"strings"
)

// ApiModuleImport matches "from XApiModule import *" statements, with the
// optional flake8 suppression comment.
var ApiModuleImport = regexp.MustCompile(`from ([\w\d]+ApiModule) import \*(?:  # noqa: E402)?`)

// CodeScanner extracts content references from integration and script code.
// It is a line-based scanner; it does not build an AST.
type CodeScanner struct {
	executeRegex *regexp.Regexp
}

// NewCodeScanner creates a new code scanner.
func NewCodeScanner() *CodeScanner {
	return &CodeScanner{
		executeRegex: regexp.MustCompile(`(?:demisto\.executeCommand|execute_command|executeCommand|Invoke-Command)\(\s*["']([^"'\s|]+(?:\|\|\|[^"'\s]+)?)["']`),
	}
}

// CodeRefs are the references found in a piece of code.
type CodeRefs struct {
	// ApiModules lists imported api modules in order of first appearance.
	ApiModules []string

	// Commands lists executed commands or scripts in order of first appearance.
	Commands []string
}

// Scan scans code line by line. Comment lines are skipped.
func (s *CodeScanner) Scan(code string) CodeRefs {
	var refs CodeRefs
	seenModules := make(map[string]bool)
	seenCommands := make(map[string]bool)

	for line := range strings.SplitSeq(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") {
			continue
		}
		for _, m := range ApiModuleImport.FindAllStringSubmatch(trimmed, -1) {
			if !seenModules[m[1]] {
				seenModules[m[1]] = true
				refs.ApiModules = append(refs.ApiModules, m[1])
			}
		}
		for _, m := range s.executeRegex.FindAllStringSubmatch(trimmed, -1) {
			if !seenCommands[m[1]] {
				seenCommands[m[1]] = true
				refs.Commands = append(refs.Commands, m[1])
			}
		}
	}
	return refs
}

// codeExtension maps a script language to its source file extension.
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

// isExternalCode reports whether a yml script value points to a sidecar
// code file instead of holding the code inline.
func isExternalCode(script string) bool {
	s := strings.TrimSpace(script)
	return s == "" || s == "-"
}
