package parsers

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/graph"
)

// TestConfObjectID is the object id of the test-config manifest node.
const TestConfObjectID = "conf.json"

//go:embed schemas/conf.schema.json
var confSchemaJSON []byte

const confSchemaName = "conf.schema.json"

var (
	confSchemaOnce sync.Once
	confSchema     *jsonschema.Schema
	confSchemaErr  error
)

func loadConfSchema() (*jsonschema.Schema, error) {
	confSchemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal(confSchemaJSON, &doc); err != nil {
			confSchemaErr = fmt.Errorf("parse conf schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(confSchemaName, doc); err != nil {
			confSchemaErr = fmt.Errorf("add conf schema: %w", err)
			return
		}
		confSchema, confSchemaErr = c.Compile(confSchemaName)
	})
	return confSchema, confSchemaErr
}

// ValidateTestConf checks data against the strict test-config schema and
// returns one message per violation.
func ValidateTestConf(data []byte) ([]string, error) {
	s, err := loadConfSchema()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return schemaMessages(err), nil
	}
	return nil, nil
}

// schemaMessages splits a validation error into its leaf messages.
func schemaMessages(err error) []string {
	var out []string
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "jsonschema validation failed") {
			continue
		}
		out = append(out, strings.TrimPrefix(line, "- "))
	}
	if len(out) == 0 {
		out = append(out, err.Error())
	}
	return out
}

// TestConfParser parses Tests/conf.json.
type TestConfParser struct{}

// Types returns the content types this parser handles.
func (p *TestConfParser) Types() []content.Type {
	return []content.Type{content.TypeTestConf}
}

// Parse reads the test entries and skip lists and validates the manifest
// against its schema. Schema violations are kept on the item, not returned.
func (p *TestConfParser) Parse(src *Source) (*ParseResult, error) {
	body, err := src.body()
	if err != nil {
		return nil, err
	}
	item := newItem(src, content.TypeTestConf, body, TestConfObjectID, TestConfObjectID)
	item.Marketplaces = append([]content.Marketplace(nil), content.AllMarketplaces...)

	data := &content.TestConfData{
		SkippedTests:        stringMap(content.Map(body, "skipped_tests")),
		SkippedIntegrations: stringMap(content.Map(body, "skipped_integrations")),
	}
	if src.Content != nil {
		msgs, err := ValidateTestConf(src.Content)
		if err != nil {
			return nil, fmt.Errorf("test conf %s: %w", src.Path, err)
		}
		data.SchemaErrors = msgs
	}

	var refs []Reference
	confUses := func(t content.Type, id string, entry string) {
		refs = append(refs, Reference{
			Kind:       graph.RelConfJSONUses,
			TargetType: t,
			TargetID:   id,
			Mandatory:  true,
			Properties: map[string]any{"test": entry},
		})
	}
	for _, raw := range content.Slice(body, "tests") {
		m, ok := content.AsMap(raw)
		if !ok {
			continue
		}
		timeout, _ := content.Int(m, "timeout")
		entry := content.TestEntry{
			PlaybookID:    content.String(m, "playbookID"),
			Integrations:  content.AsStrings(m["integrations"]),
			Scripts:       content.AsStrings(m["scripts"]),
			InstanceNames: content.AsStrings(m["instance_names"]),
			Timeout:       timeout,
			FromVersion:   content.String(m, "fromversion"),
			ToVersion:     content.String(m, "toversion"),
		}
		data.Tests = append(data.Tests, entry)
		if entry.PlaybookID == "" {
			continue
		}
		confUses(content.TypeTestPlaybook, entry.PlaybookID, entry.PlaybookID)
		for _, id := range entry.Integrations {
			confUses(content.TypeIntegration, id, entry.PlaybookID)
		}
		for _, id := range entry.Scripts {
			confUses(content.TypeScript, id, entry.PlaybookID)
		}
	}

	skipped := func(t content.Type, m map[string]string) {
		for _, id := range sortedKeys(m) {
			refs = append(refs, Reference{
				Kind:       graph.RelConfJSONSkipped,
				TargetType: t,
				TargetID:   id,
				Properties: map[string]any{"reason": m[id]},
			})
		}
	}
	skipped(content.TypeTestPlaybook, data.SkippedTests)
	skipped(content.TypeIntegration, data.SkippedIntegrations)

	item.TestConf = data
	return &ParseResult{Item: item, References: refs}, nil
}

func stringMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		s, _ := v.(string)
		out[k] = s
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
