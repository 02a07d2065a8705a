package parsers

import (
	"fmt"
	"path"
	"strings"

	"github.com/Benny93/contentgraph/internal/content"
)

// GenericParser parses the content types that only carry core attributes
// and a few well-known reference fields.
type GenericParser struct{}

// Types returns the content types this parser handles.
func (p *GenericParser) Types() []content.Type {
	return []content.Type{
		content.TypeDashboard, content.TypeWidget, content.TypeReport,
		content.TypeGenericType, content.TypeGenericModule, content.TypeGenericDefinition,
		content.TypeWizard, content.TypeJob, content.TypeTrigger,
		content.TypeXSIAMDashboard, content.TypeXSIAMReport,
		content.TypeList, content.TypePreProcessRule, content.TypeConnection, content.TypeTool,
	}
}

// Parse reads the core attributes of src and the references of its type.
func (p *GenericParser) Parse(src *Source) (*ParseResult, error) {
	t := content.Classify(src.Path, src.Body)
	if t == content.TypeTool {
		return p.parseTool(src)
	}
	body, err := src.body()
	if err != nil {
		return nil, err
	}
	t = content.Classify(src.Path, body)

	var id, name string
	switch t {
	case content.TypeXSIAMDashboard:
		if data := content.Slice(body, "dashboards_data"); len(data) > 0 {
			m, _ := content.AsMap(data[0])
			id = content.String(m, "global_id")
			name = content.String(m, "name")
		}
	case content.TypeTrigger:
		id = content.String(body, "trigger_id")
		name = content.String(body, "trigger_name")
	}
	if id == "" {
		id = content.FirstString(body, "id", "name")
	}
	if name == "" {
		name = content.FirstString(body, "name", "id")
	}
	if id == "" {
		return nil, fmt.Errorf("%s %s: missing id", t, src.Path)
	}
	item := newItem(src, t, body, id, name)
	return &ParseResult{Item: item, References: genericReferences(t, body)}, nil
}

// parseTool builds a tool node named after its directory or zip file.
func (p *GenericParser) parseTool(src *Source) (*ParseResult, error) {
	loc, ok := content.Locate(src.Path)
	if !ok || len(loc.Rest) == 0 {
		return nil, fmt.Errorf("tool %s: not under a pack", src.Path)
	}
	name := strings.TrimSuffix(loc.Rest[0], path.Ext(loc.Rest[0]))
	item := newItem(src, content.TypeTool, nil, name, name)
	item.Path = path.Join(content.PacksDir, loc.Pack, content.DirTools, loc.Rest[0])
	return &ParseResult{Item: item}, nil
}

func genericReferences(t content.Type, body map[string]any) []Reference {
	var refs []Reference
	add := func(target content.Type, id string, mandatory bool) {
		if id != "" {
			refs = append(refs, uses(target, id, mandatory))
		}
	}
	switch t {
	case content.TypeJob:
		add(content.TypePlaybook, content.String(body, "playbookId"), true)
	case content.TypeTrigger:
		add(content.TypePlaybook, content.String(body, "playbook_id"), true)
	case content.TypePreProcessRule:
		add(content.TypeScript, content.String(body, "scriptName"), true)
	case content.TypeWidget:
		if content.String(body, "dataType") == "scripts" {
			add(content.TypeScript, content.String(body, "query"), true)
		}
	case content.TypeDashboard, content.TypeReport:
		layouts := content.Slice(body, "layout")
		if layouts == nil {
			layouts = content.Slice(body, "dashboard", "layout")
		}
		for _, raw := range layouts {
			m, _ := content.AsMap(raw)
			w := content.Map(m, "widget")
			if content.String(w, "dataType") == "scripts" {
				add(content.TypeScript, content.String(w, "query"), true)
			}
		}
	case content.TypeWizard:
		wizard := content.Map(body, "wizard")
		for _, raw := range content.Slice(wizard, "fetching_integrations") {
			m, _ := content.AsMap(raw)
			add(content.TypeIntegration, content.String(m, "name"), true)
		}
		for _, raw := range content.Slice(wizard, "supporting_integrations") {
			m, _ := content.AsMap(raw)
			add(content.TypeIntegration, content.String(m, "name"), false)
		}
		for _, raw := range content.Slice(wizard, "set_playbook") {
			m, _ := content.AsMap(raw)
			add(content.TypePlaybook, content.String(m, "name"), true)
		}
	}
	return refs
}
