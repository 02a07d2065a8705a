package parsers

import (
	"fmt"
	"path"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/graph"
)

// IntegrationParser parses integration ymls.
type IntegrationParser struct {
	scanner *CodeScanner
}

// Types returns the content types this parser handles.
func (p *IntegrationParser) Types() []content.Type {
	return []content.Type{content.TypeIntegration}
}

// Parse parses an integration yml and its code sidecar.
func (p *IntegrationParser) Parse(src *Source) (*ParseResult, error) {
	body, err := src.body()
	if err != nil {
		return nil, err
	}
	id := content.String(body, "commonfields", "id")
	if id == "" {
		return nil, fmt.Errorf("integration %s: missing commonfields.id", src.Path)
	}
	item := newItem(src, content.TypeIntegration, body, id, content.String(body, "name"))
	item.DisplayName = content.String(body, "display")

	script := content.Map(body, "script")
	data := &content.IntegrationData{
		Category:          content.String(body, "category"),
		Language:          content.String(script, "type"),
		Subtype:           content.String(script, "subtype"),
		DockerImage:       content.String(script, "dockerimage"),
		DockerImage45:     content.String(script, "dockerimage45"),
		LongRunning:       content.Bool(script, "longRunning"),
		IsFetch:           content.Bool(script, "isfetch"),
		IsFeed:            content.Bool(script, "feed"),
		DefaultClassifier: content.String(body, "defaultclassifier"),
		DefaultMapperIn:   content.String(body, "defaultmapperin"),
		DefaultMapperOut:  content.String(body, "defaultmapperout"),
	}

	code := content.String(script, "script")
	if isExternalCode(code) {
		name := path.Base(path.Dir(src.Path)) + codeExtension(data.Language)
		if raw, codePath := src.readSibling(name); raw != nil {
			code = string(raw)
			data.CodePath = codePath
		}
	}
	data.Code = code

	for _, raw := range content.Slice(script, "commands") {
		m, ok := content.AsMap(raw)
		if !ok {
			continue
		}
		data.Commands = append(data.Commands, content.Command{
			Name:        content.String(m, "name"),
			Description: content.String(m, "description"),
			Deprecated:  content.Bool(m, "deprecated"),
			Arguments:   parseArguments(content.Slice(m, "arguments")),
			Outputs:     parseOutputs(content.Slice(m, "outputs")),
		})
	}

	for _, raw := range content.Slice(body, "configuration") {
		m, ok := content.AsMap(raw)
		if !ok {
			continue
		}
		typ, _ := content.Int(m, "type")
		data.Configuration = append(data.Configuration, content.Param{
			Name:         content.String(m, "name"),
			Display:      content.String(m, "display"),
			Type:         typ,
			Required:     content.Bool(m, "required"),
			Hidden:       content.Bool(m, "hidden"),
			DefaultValue: m["defaultvalue"],
		})
	}

	tests := content.Strings(body, "tests")
	refs, optOut := testReferences(tests)
	data.Tests = realTests(tests)
	data.NoTests = optOut
	item.Integration = data

	result := &ParseResult{Item: item, References: refs}
	for _, cmd := range data.Commands {
		if cmd.Name == "" {
			continue
		}
		c := cmd
		result.Commands = append(result.Commands, &content.Item{
			Type:         content.TypeCommand,
			ObjectID:     cmd.Name,
			Name:         cmd.Name,
			Description:  cmd.Description,
			FromVersion:  item.FromVersion,
			ToVersion:    item.ToVersion,
			Marketplaces: item.Marketplaces,
			Deprecated:   cmd.Deprecated || item.Deprecated,
			PackID:       item.PackID,
			Command:      &c,
		})
	}

	if data.DefaultClassifier != "" {
		result.References = append(result.References, uses(content.TypeClassifier, data.DefaultClassifier, true))
	}
	if data.DefaultMapperIn != "" {
		result.References = append(result.References, uses(content.TypeMapper, data.DefaultMapperIn, true))
	}
	if data.DefaultMapperOut != "" {
		result.References = append(result.References, uses(content.TypeMapper, data.DefaultMapperOut, true))
	}

	if p.scanner == nil {
		p.scanner = NewCodeScanner()
	}
	scanned := p.scanner.Scan(code)
	for _, module := range scanned.ApiModules {
		result.References = append(result.References, Reference{
			Kind:       graph.RelImports,
			TargetType: content.TypeScript,
			TargetID:   module,
			Mandatory:  true,
		})
	}
	for _, cmd := range scanned.Commands {
		if ref, ok := commandReference(cmd, true); ok {
			result.References = append(result.References, ref)
		}
	}
	return result, nil
}
