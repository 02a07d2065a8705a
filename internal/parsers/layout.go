package parsers

import (
	"fmt"
	"strings"

	"github.com/Benny93/contentgraph/internal/content"
)

// LayoutParser parses old layouts and layout containers.
type LayoutParser struct{}

// Types returns the content types this parser handles.
func (p *LayoutParser) Types() []content.Type {
	return []content.Type{content.TypeLayout, content.TypeLayoutContainer}
}

// Parse reads the tab and section structure of a layout.
func (p *LayoutParser) Parse(src *Source) (*ParseResult, error) {
	body, err := src.body()
	if err != nil {
		return nil, err
	}
	if content.Classify(src.Path, body) == content.TypeLayout {
		return p.parseOld(src, body)
	}

	id := content.String(body, "id")
	if id == "" {
		return nil, fmt.Errorf("layout %s: missing id", src.Path)
	}
	item := newItem(src, content.TypeLayoutContainer, body, id, content.FirstString(body, "name", "id"))
	data := &content.LayoutData{
		Group:       content.String(body, "group"),
		IsContainer: true,
	}
	for _, page := range content.LayoutPages {
		pageBody := content.Map(body, page)
		if pageBody == nil {
			continue
		}
		data.Tabs = append(data.Tabs, pageTabs(page, pageBody)...)
	}
	item.Layout = data
	return &ParseResult{Item: item, References: sectionScriptReferences(data.Tabs)}, nil
}

func (p *LayoutParser) parseOld(src *Source, body map[string]any) (*ParseResult, error) {
	inner := content.Map(body, "layout")
	typeID := content.FirstString(body, "typeId")
	if typeID == "" {
		typeID = content.String(inner, "typeId")
	}
	kind := content.String(body, "kind")
	id := content.FirstString(body, "id")
	if id == "" {
		id = typeID + "-" + kind
	}
	item := newItem(src, content.TypeLayout, body, id, content.FirstString(inner, "name", "id"))
	if item.Name == "" {
		item.Name = id
	}
	data := &content.LayoutData{Kind: kind, BoundType: typeID}
	if strings.Contains(strings.ToLower(kind), "indicator") {
		data.Group = "indicator"
	} else {
		data.Group = "incident"
	}
	data.Tabs = pageTabs(kind, inner)
	item.Layout = data

	var refs []Reference
	if typeID != "" {
		target := content.TypeIncidentType
		if data.Group == "indicator" {
			target = content.TypeIndicatorType
		}
		refs = append(refs, uses(target, typeID, true))
	}
	refs = append(refs, sectionScriptReferences(data.Tabs)...)
	return &ParseResult{Item: item, References: refs}, nil
}

// pageTabs reads the tabs of a page. Pages without tabs carry their
// sections directly and are returned as a single tab named after the page.
func pageTabs(page string, pageBody map[string]any) []content.LayoutTab {
	if pageBody == nil {
		return nil
	}
	rawTabs := content.Slice(pageBody, "tabs")
	if rawTabs == nil {
		sections := parseSections(content.Slice(pageBody, "sections"))
		if len(sections) == 0 {
			return nil
		}
		return []content.LayoutTab{{Page: page, Name: page, Sections: sections}}
	}
	tabs := make([]content.LayoutTab, 0, len(rawTabs))
	for _, raw := range rawTabs {
		m, ok := content.AsMap(raw)
		if !ok {
			continue
		}
		tabs = append(tabs, content.LayoutTab{
			Page:     page,
			ID:       content.String(m, "id"),
			Name:     content.String(m, "name"),
			Type:     content.String(m, "type"),
			Sections: parseSections(content.Slice(m, "sections")),
		})
	}
	return tabs
}

func parseSections(raw []any) []content.LayoutSection {
	sections := make([]content.LayoutSection, 0, len(raw))
	for _, s := range raw {
		m, ok := content.AsMap(s)
		if !ok {
			continue
		}
		sections = append(sections, content.LayoutSection{
			Name:      content.String(m, "name"),
			Type:      content.String(m, "type"),
			QueryType: content.String(m, "queryType"),
			Query:     content.String(m, "query"),
		})
	}
	return sections
}

func sectionScriptReferences(tabs []content.LayoutTab) []Reference {
	var refs []Reference
	seen := make(map[string]bool)
	for _, tab := range tabs {
		for _, s := range tab.Sections {
			if s.QueryType != "script" || s.Query == "" || seen[s.Query] {
				continue
			}
			seen[s.Query] = true
			refs = append(refs, uses(content.TypeScript, s.Query, true))
		}
	}
	return refs
}
