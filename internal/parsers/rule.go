package parsers

import (
	"fmt"
	"path"
	"strings"

	"github.com/Benny93/contentgraph/internal/content"
)

// RuleParser parses parsing, modeling and correlation rules.
type RuleParser struct{}

// Types returns the content types this parser handles.
func (p *RuleParser) Types() []content.Type {
	return []content.Type{content.TypeParsingRule, content.TypeModelingRule, content.TypeCorrelationRule}
}

// Parse reads a rule yml. Parsing and modeling rules keep their XIF rules in
// a .xif sidecar and modeling rules their schema in a _schema.json sidecar.
func (p *RuleParser) Parse(src *Source) (*ParseResult, error) {
	body, err := src.body()
	if err != nil {
		return nil, err
	}
	t := content.Classify(src.Path, body)
	if t == content.TypeUnknown {
		return nil, fmt.Errorf("rule %s: unknown rule directory", src.Path)
	}
	id := content.FirstString(body, "id", "global_rule_id", "name")
	if id == "" {
		return nil, fmt.Errorf("rule %s: missing id", src.Path)
	}
	item := newItem(src, t, body, id, content.FirstString(body, "name", "id"))

	data := &content.RuleData{Rules: content.String(body, "rules")}
	stem := strings.TrimSuffix(path.Base(src.Path), path.Ext(src.Path))
	if t != content.TypeCorrelationRule && isExternalCode(data.Rules) {
		if raw, rulesPath := src.readSibling(stem + ".xif"); raw != nil {
			data.Rules = string(raw)
			data.RulesPath = rulesPath
		}
	}
	if t == content.TypeModelingRule {
		if raw, _ := src.readSibling(stem + "_schema.json"); raw != nil {
			data.Schema = string(raw)
		}
	}
	item.Rule = data
	return &ParseResult{Item: item}, nil
}
