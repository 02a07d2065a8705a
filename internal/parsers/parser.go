// Package parsers turns content files into detached content records and the
// references they make to other content.
//
// There is one parser per content type. A parser receives a Source (the
// repository-relative path, raw bytes, the decoded body when available and a
// read-only view of the repository for sidecar files) and returns the Item
// with its outgoing references. References are unresolved: they name a
// target by (type, object id) or by command, and the graph builder turns them
// into edges, synthesizing phantom nodes when needed.
package parsers

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/graph"
)

// ErrNoParser is returned when no parser is registered for a content type.
var ErrNoParser = errors.New("no parser registered for content type")

// Reference is an outgoing reference extracted from an artifact.
type Reference struct {
	// Kind is the edge kind the reference becomes.
	Kind graph.RelType

	// TargetType is the expected type of the target. TypeCommand and
	// TypeCommandOrScript are resolved by the builder.
	TargetType content.Type

	// TargetID is the object id of the target, or the command name.
	TargetID string

	// Brand qualifies command references ("Brand|||command").
	Brand string

	// Mandatory is false for dependencies the artifact can run without.
	Mandatory bool

	// Properties holds extra edge metadata.
	Properties map[string]any
}

// Source is the input of a parser.
type Source struct {
	// Path is the repository-relative, slash-separated path.
	Path string

	// Content is the raw file content.
	Content []byte

	// Body is the decoded document. Parsers decode Content when it is nil.
	Body map[string]any

	// Repo gives access to sidecar files, rooted at the repository. May be
	// nil, in which case sidecars are not read.
	Repo fs.FS

	// Pack is the parsed metadata of the containing pack, if known.
	Pack *content.Item
}

// ParseResult contains everything parsed from one file.
type ParseResult struct {
	// Item is the parsed content item.
	Item *content.Item

	// Commands are the command records declared by an integration.
	Commands []*content.Item

	// References are the outgoing references of Item.
	References []Reference
}

// Parser parses one content type.
type Parser interface {
	// Parse reads src into a content item and its references.
	Parse(src *Source) (*ParseResult, error)

	// Types returns the content types this parser handles.
	Types() []content.Type
}

// Registry maps content types to parsers.
type Registry struct {
	parsers map[content.Type]Parser
}

// NewRegistry returns a registry holding every built-in parser.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[content.Type]Parser)}
	for _, p := range []Parser{
		&IntegrationParser{},
		&ScriptParser{},
		&PlaybookParser{},
		&LayoutParser{},
		&MappingParser{},
		&IncidentTypeParser{},
		&IndicatorTypeParser{},
		&FieldParser{},
		&RuleParser{},
		&PackParser{},
		&ReleaseNoteParser{},
		&TestConfParser{},
		&GenericParser{},
	} {
		r.Register(p)
	}
	return r
}

// Register adds p for every type it handles, replacing earlier parsers.
func (r *Registry) Register(p Parser) {
	for _, t := range p.Types() {
		r.parsers[t] = p
	}
}

// Get returns the parser for t.
func (r *Registry) Get(t content.Type) (Parser, bool) {
	p, ok := r.parsers[t]
	return p, ok
}

// Parse dispatches src to the parser registered for t.
func (r *Registry) Parse(t content.Type, src *Source) (*ParseResult, error) {
	p, ok := r.Get(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoParser, t)
	}
	return p.Parse(src)
}

// body returns the decoded document of src, decoding it on first use.
func (src *Source) body() (map[string]any, error) {
	if src.Body != nil {
		return src.Body, nil
	}
	b, err := content.LoadBody(src.Path, src.Content)
	if err != nil {
		return nil, err
	}
	src.Body = b
	return b, nil
}

// readSibling reads a file next to src. A missing repository view or file
// yields nil without error.
func (src *Source) readSibling(name string) ([]byte, string) {
	if src.Repo == nil {
		return nil, ""
	}
	p := path.Join(path.Dir(src.Path), name)
	data, err := fs.ReadFile(src.Repo, p)
	if err != nil {
		return nil, ""
	}
	return data, p
}

// newItem builds an Item with the core attributes every parser shares.
func newItem(src *Source, t content.Type, body map[string]any, objectID, name string) *content.Item {
	item := &content.Item{
		Type:        t,
		ObjectID:    objectID,
		Name:        name,
		Path:        src.Path,
		Raw:         body,
		FromVersion: content.FirstString(body, "fromversion", "fromVersion"),
		ToVersion:   content.FirstString(body, "toversion", "toVersion"),
		Deprecated:  content.Bool(body, "deprecated"),
		Description: content.String(body, "description"),
	}
	if item.FromVersion == "" {
		item.FromVersion = content.DefaultFromVersion
	}
	if item.ToVersion == "" {
		item.ToVersion = content.DefaultToVersion
	}
	if loc, ok := content.Locate(src.Path); ok {
		item.PackID = loc.Pack
	}

	if declared := content.Strings(body, "marketplaces"); len(declared) > 0 {
		for _, m := range declared {
			item.Marketplaces = append(item.Marketplaces, content.Marketplace(m))
		}
	} else {
		item.Marketplaces = packMarketplaces(src.Pack)
	}

	if src.Pack != nil {
		item.Support = src.Pack.Support
	}
	item.DeclaredSupport = content.String(body, "supportlevelheader")
	return item
}

func packMarketplaces(pack *content.Item) []content.Marketplace {
	if pack == nil || len(pack.Marketplaces) == 0 {
		return append([]content.Marketplace(nil), content.DefaultMarketplaces...)
	}
	return append([]content.Marketplace(nil), pack.Marketplaces...)
}

func uses(t content.Type, id string, mandatory bool) Reference {
	return Reference{Kind: graph.RelUses, TargetType: t, TargetID: id, Mandatory: mandatory}
}

// commandReference turns a "Brand|||command", "|||command" or bare name
// into a reference. Bare names may be a script or a command.
func commandReference(value string, mandatory bool) (Reference, bool) {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, "Builtin|||") {
		return Reference{}, false
	}
	if brand, cmd, ok := strings.Cut(value, "|||"); ok {
		if cmd == "" {
			return Reference{}, false
		}
		r := uses(content.TypeCommand, cmd, mandatory)
		r.Brand = brand
		return r, true
	}
	return uses(content.TypeCommandOrScript, value, mandatory), true
}

// testReferences returns TESTED_BY references for a tests list and whether
// the list explicitly opts out of tests.
func testReferences(tests []string) ([]Reference, bool) {
	var refs []Reference
	optOut := false
	for _, t := range tests {
		if isNoTests(t) {
			optOut = true
			continue
		}
		refs = append(refs, Reference{
			Kind:       graph.RelTestedBy,
			TargetType: content.TypeTestPlaybook,
			TargetID:   t,
			Mandatory:  true,
		})
	}
	return refs, optOut
}

func isNoTests(t string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(t)), "no test")
}

// realTests drops the "No tests" markers from a tests list.
func realTests(tests []string) []string {
	out := make([]string, 0, len(tests))
	for _, t := range tests {
		if !isNoTests(t) {
			out = append(out, t)
		}
	}
	return out
}

func parseArguments(raw []any) []content.Argument {
	args := make([]content.Argument, 0, len(raw))
	for _, a := range raw {
		m, ok := content.AsMap(a)
		if !ok {
			continue
		}
		args = append(args, content.Argument{
			Name:        content.String(m, "name"),
			Description: content.String(m, "description"),
			Required:    content.Bool(m, "required"),
			IsArray:     content.Bool(m, "isArray"),
			Deprecated:  content.Bool(m, "deprecated"),
		})
	}
	return args
}

func parseOutputs(raw []any) []content.Output {
	outs := make([]content.Output, 0, len(raw))
	for _, o := range raw {
		m, ok := content.AsMap(o)
		if !ok {
			continue
		}
		outs = append(outs, content.Output{
			ContextPath: content.String(m, "contextPath"),
			Description: content.String(m, "description"),
			Type:        content.String(m, "type"),
		})
	}
	return outs
}
