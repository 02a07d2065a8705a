package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Benny93/contentgraph/internal/content"
)

func TestRelTypeConstants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		relType  RelType
		expected string
	}{
		{"Uses", RelUses, "USES"},
		{"Imports", RelImports, "IMPORTS"},
		{"TestedBy", RelTestedBy, "TESTED_BY"},
		{"InPack", RelInPack, "IN_PACK"},
		{"HasCommand", RelHasCommand, "HAS_COMMAND"},
		{"ConfJSONUses", RelConfJSONUses, "CONF_JSON_USES"},
		{"ConfJSONSkipped", RelConfJSONSkipped, "CONF_JSON_SKIPPED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, string(tt.relType))
			assert.Contains(t, AllRelTypes, tt.relType)
		})
	}
}

func TestGenerateRelID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "script:A|USES|script:B", GenerateRelID("script:A", RelUses, "script:B"))
}

func TestNewRelationship(t *testing.T) {
	t.Parallel()

	src := &content.Item{
		Type:         content.TypeIntegration,
		ObjectID:     "MyIntg",
		FromVersion:  "6.0.0",
		Marketplaces: []content.Marketplace{content.MarketplaceXSOAR},
	}
	dst := &content.Item{Type: content.TypeScript, ObjectID: "HelperScr", FromVersion: "5.0.0"}

	rel := NewRelationship(RelUses, src, dst, true)

	assert.Equal(t, "integration:MyIntg|USES|script:HelperScr", rel.ID)
	assert.Equal(t, "integration:MyIntg", rel.Source)
	assert.Equal(t, "script:HelperScr", rel.Target)
	assert.True(t, rel.Mandatory)
	assert.Equal(t, "6.0.0", rel.SourceFromVersion)
	assert.Equal(t, "5.0.0", rel.TargetFromVersion)
	assert.Equal(t, []content.Marketplace{content.MarketplaceXSOAR}, rel.SourceMarketplaces)
}
