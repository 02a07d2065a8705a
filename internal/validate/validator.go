// Package validate runs declarative validators over the content graph.
//
// A Validator is a record describing one error code: the content types it
// targets, the execution modes it runs in and a Check function returning
// the invalid items. Graph-aware validators reach the graph through the
// Context; they never touch the store directly. The Engine selects the
// validators for a run, feeds them the items in scope and aggregates their
// results into a Report.
package validate

import (
	"fmt"
	"io/fs"
	"slices"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/graph"
	"github.com/Benny93/contentgraph/internal/ingestion"
)

// Mode is the way the files under validation were selected.
type Mode string

const (
	// ModeAllFiles validates the whole repository.
	ModeAllFiles Mode = "all-files"
	// ModeSpecificFiles validates the paths given with -i.
	ModeSpecificFiles Mode = "specific-files"
	// ModeUseGit validates the files changed against the baseline.
	ModeUseGit Mode = "use-git"
)

// AllModes lists every execution mode.
var AllModes = []Mode{ModeAllFiles, ModeSpecificFiles, ModeUseGit}

// CheckFunc returns one result per invalid item. It must not panic on
// malformed input; it reports it instead.
type CheckFunc func(vc *Context, items []*content.Item) []Result

// FixFunc repairs an item reported by the validator. It updates the item in
// memory and returns the edits to apply to its file.
type FixFunc func(vc *Context, item *content.Item) (*FixResult, error)

// Validator describes one validation.
type Validator struct {
	// Code is the error code, for example "GR102".
	Code        string
	Description string
	Rationale   string
	// RelatedField names the field the validation inspects.
	RelatedField string

	// ContentTypes are the targeted types. Nil targets every type.
	ContentTypes []content.Type
	// Modes are the modes the validator runs in. Nil means every mode.
	Modes []Mode
	// RunOnDeprecated includes deprecated items.
	RunOnDeprecated bool
	// GitStatuses restricts the items to those changed with one of the
	// statuses. Items without a status never match a non-empty list.
	GitStatuses []ingestion.GitStatus

	Check CheckFunc
	Fix   FixFunc
}

// AutoFixable reports whether the validator can repair what it reports.
func (v *Validator) AutoFixable() bool {
	return v.Fix != nil
}

// Targets reports whether items of type t are validated.
func (v *Validator) Targets(t content.Type) bool {
	return v.ContentTypes == nil || slices.Contains(v.ContentTypes, t)
}

// RunsIn reports whether the validator runs in mode m.
func (v *Validator) RunsIn(m Mode) bool {
	return v.Modes == nil || slices.Contains(v.Modes, m)
}

func (v *Validator) matchesStatus(status ingestion.GitStatus) bool {
	return len(v.GitStatuses) == 0 || slices.Contains(v.GitStatuses, status)
}

// fail builds a failure for item. The engine stamps the validator code.
func fail(item *content.Item, format string, args ...any) Result {
	return Result{
		Path:    item.Path,
		ItemID:  item.ID(),
		Message: fmt.Sprintf(format, args...),
		Item:    item,
	}
}

// Result is a single validation failure.
type Result struct {
	Code string `json:"error code"`
	Path string `json:"file path"`
	// Line is the 1-based line of the failure, zero when unknown.
	Line    int    `json:"line,omitempty"`
	ItemID  string `json:"-"`
	Message string `json:"message"`

	Item *content.Item `json:"-"`
}

// String renders the result as "{path}: [{code}] - {message}".
func (r Result) String() string {
	if r.Line > 0 {
		return fmt.Sprintf("%s:%d: [%s] - %s", r.Path, r.Line, r.Code, r.Message)
	}
	return fmt.Sprintf("%s: [%s] - %s", r.Path, r.Code, r.Message)
}

// FixResult describes a repair.
type FixResult struct {
	Code    string
	Path    string
	Message string
	Patches []Patch
}

// String renders the fix like a result.
func (f FixResult) String() string {
	return fmt.Sprintf("%s: [%s] - %s", f.Path, f.Code, f.Message)
}

// RevisionReader reads files at a git revision.
type RevisionReader interface {
	FileAtRevision(rev, path string) ([]byte, error)
}

// Context is what a validator may consult besides its items.
type Context struct {
	Graph *graph.ContentGraph
	Query *graph.Query
	Mode  Mode
	// Repo is the repository tree, used for sidecar files.
	Repo fs.FS

	// Git and Baseline give access to the pre-change files in use-git mode.
	Git      RevisionReader
	Baseline string
	// Changes are the changed files keyed by path in use-git mode.
	Changes map[string]ingestion.ChangedFile

	inScope func(path string) bool
}

// NewContext builds a Context over g.
func NewContext(g *graph.ContentGraph, mode Mode) *Context {
	return &Context{Graph: g, Query: graph.NewQuery(g), Mode: mode}
}

// InScope reports whether path is selected by the run.
func (vc *Context) InScope(path string) bool {
	if vc.inScope == nil {
		return true
	}
	return vc.inScope(path)
}

// Status returns the git status of path, empty outside use-git mode.
func (vc *Context) Status(path string) ingestion.GitStatus {
	if c, ok := vc.Changes[path]; ok {
		return c.Status
	}
	return ""
}

// BaselineFile returns the content of path before the change. Renamed
// files are read from their old path.
func (vc *Context) BaselineFile(path string) ([]byte, error) {
	if vc.Git == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNoBaseline)
	}
	if c, ok := vc.Changes[path]; ok && c.OldPath != "" {
		path = c.OldPath
	}
	return vc.Git.FileAtRevision(vc.Baseline, path)
}

// Pack returns the pack metadata node of item.
func (vc *Context) Pack(item *content.Item) *content.Item {
	if item.PackID == "" {
		return nil
	}
	return vc.Graph.Lookup(content.TypePackMetadata, item.PackID)
}
