package parsers

import (
	"fmt"
	"path"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/graph"
)

// ScriptParser parses script and test-script ymls.
type ScriptParser struct {
	scanner *CodeScanner
}

// Types returns the content types this parser handles.
func (p *ScriptParser) Types() []content.Type {
	return []content.Type{content.TypeScript, content.TypeTestScript}
}

// Parse parses a script yml and its code sidecar.
func (p *ScriptParser) Parse(src *Source) (*ParseResult, error) {
	body, err := src.body()
	if err != nil {
		return nil, err
	}
	id := content.String(body, "commonfields", "id")
	if id == "" {
		return nil, fmt.Errorf("script %s: missing commonfields.id", src.Path)
	}
	t := content.TypeScript
	if loc, ok := content.Locate(src.Path); ok && loc.Dir == content.DirTestPlaybooks {
		t = content.TypeTestScript
	}
	item := newItem(src, t, body, id, content.String(body, "name"))
	if item.Description == "" {
		item.Description = content.String(body, "comment")
	}

	data := &content.ScriptData{
		Language:      content.String(body, "type"),
		Subtype:       content.String(body, "subtype"),
		DockerImage:   content.String(body, "dockerimage"),
		DockerImage45: content.String(body, "dockerimage45"),
		Args:          parseArguments(content.Slice(body, "args")),
		Outputs:       parseOutputs(content.Slice(body, "outputs")),
		Tags:          content.Strings(body, "tags"),
	}

	code := content.String(body, "script")
	if isExternalCode(code) {
		name := path.Base(path.Dir(src.Path)) + codeExtension(data.Language)
		if raw, codePath := src.readSibling(name); raw != nil {
			code = string(raw)
			data.CodePath = codePath
		}
	}
	data.Code = code

	tests := content.Strings(body, "tests")
	refs, optOut := testReferences(tests)
	data.Tests = realTests(tests)
	data.NoTests = optOut

	for _, dep := range content.Strings(body, "dependson", "must") {
		data.DependsOn = append(data.DependsOn, dep)
		if ref, ok := commandReference(dep, true); ok {
			refs = append(refs, ref)
		}
	}
	for _, dep := range content.Strings(body, "dependson", "should") {
		data.DependsOn = append(data.DependsOn, dep)
		if ref, ok := commandReference(dep, false); ok {
			refs = append(refs, ref)
		}
	}

	if p.scanner == nil {
		p.scanner = NewCodeScanner()
	}
	scanned := p.scanner.Scan(code)
	for _, module := range scanned.ApiModules {
		if module == id {
			continue
		}
		refs = append(refs, Reference{
			Kind:       graph.RelImports,
			TargetType: content.TypeScript,
			TargetID:   module,
			Mandatory:  true,
		})
	}
	for _, cmd := range scanned.Commands {
		if cmd == id {
			continue
		}
		if ref, ok := commandReference(cmd, true); ok {
			refs = append(refs, ref)
		}
	}

	item.Script = data
	return &ParseResult{Item: item, References: refs}, nil
}
