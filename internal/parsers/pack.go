package parsers

import (
	"fmt"
	"sort"

	"github.com/Benny93/contentgraph/internal/content"
)

// PackParser parses pack_metadata.json.
type PackParser struct{}

// Types returns the content types this parser handles.
func (p *PackParser) Types() []content.Type {
	return []content.Type{content.TypePackMetadata}
}

// Parse builds the pack node. Its object id is the pack directory name.
func (p *PackParser) Parse(src *Source) (*ParseResult, error) {
	body, err := src.body()
	if err != nil {
		return nil, err
	}
	loc, ok := content.Locate(src.Path)
	if !ok || loc.Pack == "" {
		return nil, fmt.Errorf("pack metadata %s: not under %s/", src.Path, content.PacksDir)
	}

	name := content.String(body, "name")
	if name == "" {
		name = loc.Pack
	}
	item := &content.Item{
		Type:        content.TypePackMetadata,
		ObjectID:    loc.Pack,
		Name:        name,
		Description: content.String(body, "description"),
		FromVersion: content.DefaultFromVersion,
		ToVersion:   content.DefaultToVersion,
		PackID:      loc.Pack,
		Path:        src.Path,
		Raw:         body,
		Deprecated:  content.Bool(body, "deprecated"),
	}

	data := &content.PackData{
		CurrentVersion:   content.String(body, "currentVersion"),
		Author:           content.String(body, "author"),
		RawSupport:       content.String(body, "support"),
		Categories:       content.Strings(body, "categories"),
		Tags:             content.Strings(body, "tags"),
		UseCases:         content.Strings(body, "useCases"),
		MinServerVersion: content.String(body, "serverMinVersion"),
		Hidden:           content.Bool(body, "hidden"),
		Dependencies:     make(map[string]content.PackDependency),
	}
	if tier, ok := content.ParseSupportTier(data.RawSupport); ok {
		item.Support = tier
	}

	if declared := content.Strings(body, "marketplaces"); len(declared) > 0 {
		data.DeclaredMarkets = true
		for _, m := range declared {
			item.Marketplaces = append(item.Marketplaces, content.Marketplace(m))
		}
	} else {
		item.Marketplaces = append([]content.Marketplace(nil), content.DefaultMarketplaces...)
	}

	deps := content.Map(body, "dependencies")
	names := make([]string, 0, len(deps))
	for dep := range deps {
		names = append(names, dep)
	}
	sort.Strings(names)
	for _, dep := range names {
		m, _ := content.AsMap(deps[dep])
		data.Dependencies[dep] = content.PackDependency{
			Mandatory: content.Bool(m, "mandatory"),
			Name:      content.String(m, "display_name"),
		}
	}
	item.Pack = data
	return &ParseResult{Item: item}, nil
}
