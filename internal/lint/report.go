package lint

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Print writes the report in the console format. Tool output is shown for
// failures only.
func (r *Report) Print(w io.Writer) {
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	green := color.New(color.FgGreen)
	faint := color.New(color.Faint)

	if r.NoDocker {
		yellow.Fprintln(w, "Docker is not available, docker linters were skipped.")
	}
	var passed, failed, ignored int
	for _, pkg := range r.Packages {
		switch {
		case pkg.Ignored != "":
			ignored++
			faint.Fprintf(w, "%s - skipped: %s\n", pkg.Dir, pkg.Ignored)
			continue
		case pkg.Failed != 0:
			failed++
			red.Fprintf(w, "%s - failed: %s\n", pkg.Dir, strings.Join(toolNames(pkg.Failed), ", "))
		default:
			passed++
			green.Fprintf(w, "%s - passed\n", pkg.Dir)
		}
		for _, e := range pkg.Errors {
			red.Fprintf(w, "  %s\n", e)
		}
		for _, t := range pkg.Tools {
			if t.Status != StatusFail {
				continue
			}
			red.Fprintf(w, "  %s (%s), exit %d\n", t.Tool, t.Image, t.ExitCode)
			for _, line := range strings.Split(strings.TrimSpace(t.Output), "\n") {
				if line != "" {
					fmt.Fprintf(w, "    %s\n", line)
				}
			}
		}
	}

	fmt.Fprintf(w, "\nPackages: %d passed, %d failed, %d skipped\n", passed, failed, ignored)
	if r.Skipped != 0 {
		yellow.Fprintf(w, "Skipped tools: %s\n", strings.Join(toolNames(r.Skipped), ", "))
	}
	if r.Failed != 0 {
		red.Fprintf(w, "Failed tools: %s\n", strings.Join(toolNames(r.Failed), ", "))
	}
}

// toolNames decodes a bitfield into tool names in bit order.
func toolNames(bits int) []string {
	var out []string
	for _, t := range AllTools {
		if bits&t.Bit() != 0 {
			out = append(out, string(t))
		}
	}
	return out
}
