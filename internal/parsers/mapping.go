package parsers

import (
	"fmt"
	"sort"

	"github.com/Benny93/contentgraph/internal/content"
)

// allIncidentTypes is the wildcard key used by mappers.
const allIncidentTypes = "dbot_classification_incident_type_all"

// MappingParser parses classifiers, mappers and old classifiers.
type MappingParser struct{}

// Types returns the content types this parser handles.
func (p *MappingParser) Types() []content.Type {
	return []content.Type{content.TypeClassifier, content.TypeMapper, content.TypeOldClassifier}
}

// Parse reads the key-type map, mapped types and transformer scripts.
func (p *MappingParser) Parse(src *Source) (*ParseResult, error) {
	body, err := src.body()
	if err != nil {
		return nil, err
	}
	id := content.String(body, "id")
	if id == "" {
		return nil, fmt.Errorf("classifier %s: missing id", src.Path)
	}
	t := content.Classify(src.Path, body)
	if t == content.TypeUnknown {
		t = content.TypeClassifier
	}
	item := newItem(src, t, body, id, content.FirstString(body, "name", "brandName", "id"))

	data := &content.MappingData{
		Kind:                content.String(body, "type"),
		DefaultIncidentType: content.String(body, "defaultIncidentType"),
		KeyTypeMap:          make(map[string]string),
		Feed:                content.Bool(body, "feed"),
	}
	for k, v := range content.Map(body, "keyTypeMap") {
		if s, ok := v.(string); ok {
			data.KeyTypeMap[k] = s
		}
	}
	mapping := content.Map(body, "mapping")
	for typeName := range mapping {
		data.MappedTypes = append(data.MappedTypes, typeName)
	}
	sort.Strings(data.MappedTypes)

	seenOps := make(map[string]bool)
	collect := func(complexValue map[string]any) {
		for _, tr := range content.Slice(complexValue, "transformers") {
			if m, ok := content.AsMap(tr); ok {
				addOperator(&data.Transformers, seenOps, content.String(m, "operator"))
			}
		}
		for _, f := range content.Slice(complexValue, "filters") {
			group, _ := f.([]any)
			for _, g := range group {
				if m, ok := content.AsMap(g); ok {
					addOperator(&data.Transformers, seenOps, content.String(m, "operator"))
				}
			}
		}
	}
	collect(content.Map(body, "transformer", "complex"))
	for _, typeName := range data.MappedTypes {
		for _, field := range content.Map(mapping, typeName, "internalMapping") {
			if m, ok := content.AsMap(field); ok {
				collect(content.Map(m, "complex"))
			}
		}
	}
	item.Mapping = data

	typeTarget := content.TypeIncidentType
	if data.Feed {
		typeTarget = content.TypeIndicatorType
	}
	var refs []Reference
	seen := make(map[string]bool)
	addType := func(name string, mandatory bool) {
		if name == "" || name == allIncidentTypes || seen[name] {
			return
		}
		seen[name] = true
		refs = append(refs, uses(typeTarget, name, mandatory))
	}
	keys := make([]string, 0, len(data.KeyTypeMap))
	for k := range data.KeyTypeMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		addType(data.KeyTypeMap[k], true)
	}
	addType(data.DefaultIncidentType, true)
	for _, typeName := range data.MappedTypes {
		addType(typeName, false)
	}
	for _, op := range data.Transformers {
		refs = append(refs, uses(content.TypeScript, op, false))
	}
	return &ParseResult{Item: item, References: refs}, nil
}
