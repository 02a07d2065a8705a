package parsers

import (
	"fmt"

	"github.com/Benny93/contentgraph/internal/content"
)

// IncidentTypeParser parses incident types.
type IncidentTypeParser struct{}

// Types returns the content types this parser handles.
func (p *IncidentTypeParser) Types() []content.Type {
	return []content.Type{content.TypeIncidentType}
}

// Parse reads the playbook and layout bound to an incident type.
func (p *IncidentTypeParser) Parse(src *Source) (*ParseResult, error) {
	body, err := src.body()
	if err != nil {
		return nil, err
	}
	id := content.String(body, "id")
	if id == "" {
		return nil, fmt.Errorf("incident type %s: missing id", src.Path)
	}
	item := newItem(src, content.TypeIncidentType, body, id, content.FirstString(body, "name", "id"))
	item.IncidentType = &content.IncidentTypeData{
		Playbook: content.String(body, "playbookId"),
		Layout:   content.String(body, "layout"),
	}

	var refs []Reference
	if pb := item.IncidentType.Playbook; pb != "" {
		refs = append(refs, uses(content.TypePlaybook, pb, false))
	}
	if l := item.IncidentType.Layout; l != "" {
		refs = append(refs, uses(content.TypeLayoutContainer, l, true))
	}
	return &ParseResult{Item: item, References: refs}, nil
}

// IndicatorTypeParser parses indicator types and the legacy reputations file.
type IndicatorTypeParser struct{}

// Types returns the content types this parser handles.
func (p *IndicatorTypeParser) Types() []content.Type {
	return []content.Type{content.TypeIndicatorType, content.TypeReputations}
}

// Parse reads an indicator type. A reputations file becomes a single node
// named after the file; its entries are validated from the raw body.
func (p *IndicatorTypeParser) Parse(src *Source) (*ParseResult, error) {
	body, err := src.body()
	if err != nil {
		return nil, err
	}
	if content.Classify(src.Path, body) == content.TypeReputations {
		id := "reputations"
		if loc, ok := content.Locate(src.Path); ok {
			id = loc.Pack + "-reputations"
		}
		return &ParseResult{Item: newItem(src, content.TypeReputations, body, id, id)}, nil
	}

	id := content.FirstString(body, "id", "details")
	if id == "" {
		return nil, fmt.Errorf("indicator type %s: missing id", src.Path)
	}
	item := newItem(src, content.TypeIndicatorType, body, id, content.FirstString(body, "details", "id"))
	data := &content.IndicatorTypeData{
		Regex:              content.String(body, "regex"),
		Details:            content.String(body, "details"),
		Expiration:         body["expiration"],
		Layout:             content.String(body, "layout"),
		ReputationScript:   content.String(body, "reputationScriptName"),
		EnhancementScripts: content.Strings(body, "enhancementScriptNames"),
	}
	item.IndicatorType = data

	var refs []Reference
	if data.Layout != "" {
		refs = append(refs, uses(content.TypeLayoutContainer, data.Layout, true))
	}
	if data.ReputationScript != "" {
		refs = append(refs, uses(content.TypeScript, data.ReputationScript, true))
	}
	for _, s := range data.EnhancementScripts {
		refs = append(refs, uses(content.TypeScript, s, false))
	}
	return &ParseResult{Item: item, References: refs}, nil
}

// FieldParser parses incident, indicator and generic fields.
type FieldParser struct{}

// Types returns the content types this parser handles.
func (p *FieldParser) Types() []content.Type {
	return []content.Type{content.TypeIncidentField, content.TypeIndicatorField, content.TypeGenericField}
}

// Parse reads a field. Associated incident types become optional USES edges.
func (p *FieldParser) Parse(src *Source) (*ParseResult, error) {
	body, err := src.body()
	if err != nil {
		return nil, err
	}
	id := content.String(body, "id")
	if id == "" {
		return nil, fmt.Errorf("field %s: missing id", src.Path)
	}
	t := content.Classify(src.Path, body)
	if t == content.TypeUnknown {
		t = content.TypeIncidentField
	}
	item := newItem(src, t, body, id, content.FirstString(body, "name", "cliName"))

	var refs []Reference
	target := content.TypeIncidentType
	if t == content.TypeIndicatorField {
		target = content.TypeIndicatorType
	}
	if t != content.TypeGenericField {
		for _, assoc := range content.Strings(body, "associatedTypes") {
			if assoc == "all" {
				continue
			}
			refs = append(refs, uses(target, assoc, false))
		}
	}
	if script := content.String(body, "script"); script != "" {
		refs = append(refs, uses(content.TypeScript, script, true))
	}
	if script := content.String(body, "fieldCalcScript"); script != "" {
		refs = append(refs, uses(content.TypeScript, script, true))
	}
	return &ParseResult{Item: item, References: refs}, nil
}
