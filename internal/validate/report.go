package validate

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/fatih/color"
)

// Report aggregates the results of a run.
type Report struct {
	Failures []Result
	Warnings []Result
	// Ignored are the failures silenced by .pack-ignore files.
	Ignored []Result
	Fixed   []FixResult

	Validators int
	Items      int
}

// ExitCode is 1 when the run has failures and 0 otherwise.
func (r *Report) ExitCode() int {
	if len(r.Failures) > 0 {
		return 1
	}
	return 0
}

// Codes returns the distinct failure codes in ascending order.
func (r *Report) Codes() []string {
	var codes []string
	for _, f := range r.Failures {
		if !slices.Contains(codes, f.Code) {
			codes = append(codes, f.Code)
		}
	}
	slices.Sort(codes)
	return codes
}

func sortedResults(rs []Result) []Result {
	out := slices.Clone(rs)
	slices.SortStableFunc(out, func(a, b Result) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// PrintOptions controls Print.
type PrintOptions struct {
	// ShowIgnored also lists the results silenced by .pack-ignore files.
	ShowIgnored bool
}

// Print writes the report in the console format.
func (r *Report) Print(w io.Writer, opts PrintOptions) {
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	green := color.New(color.FgGreen)
	faint := color.New(color.Faint)

	for _, f := range r.Fixed {
		green.Fprintln(w, f.String())
	}
	for _, res := range sortedResults(r.Warnings) {
		yellow.Fprintln(w, res.String())
	}
	for _, res := range sortedResults(r.Failures) {
		red.Fprintln(w, res.String())
	}
	if opts.ShowIgnored {
		for _, res := range sortedResults(r.Ignored) {
			faint.Fprintln(w, "ignored: "+res.String())
		}
	}

	switch {
	case len(r.Failures) > 0:
		red.Fprintf(w, "\nThe following errors were thrown as a part of this pre-commit/push check: %s\n", strings.Join(r.Codes(), ", "))
		fmt.Fprintf(w, "Found %d failures and %d warnings in %d items.\n", len(r.Failures), len(r.Warnings), r.Items)
	case len(r.Warnings) > 0:
		yellow.Fprintf(w, "\nValidations passed with %d warnings.\n", len(r.Warnings))
	default:
		green.Fprintln(w, "\nAll validations passed.")
	}
}

type jsonResult struct {
	Path    string `json:"file path"`
	Code    string `json:"error code"`
	Message string `json:"message"`
}

// WriteJSON writes the failures as a JSON list.
func (r *Report) WriteJSON(w io.Writer) error {
	out := make([]jsonResult, 0, len(r.Failures))
	for _, f := range sortedResults(r.Failures) {
		out = append(out, jsonResult{Path: f.Path, Code: f.Code, Message: f.Message})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// WriteJSONFile writes the JSON report to path.
func (r *Report) WriteJSONFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating json report: %w", err)
	}
	if err := r.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
