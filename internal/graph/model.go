// Package graph provides the content graph data model and its query API.
//
// Nodes are content.Item records keyed by their identity string
// "<type>:<object id>". Relationships are typed directed edges drawn from a
// closed set of kinds. Nodes synthesized for references that point outside
// the repository carry NotInRepository and are called phantoms.
package graph

import (
	"github.com/Benny93/contentgraph/internal/content"
)

// RelType is the kind of a relationship.
type RelType string

const (
	RelUses            RelType = "USES"
	RelImports         RelType = "IMPORTS"
	RelTestedBy        RelType = "TESTED_BY"
	RelInPack          RelType = "IN_PACK"
	RelHasCommand      RelType = "HAS_COMMAND"
	RelConfJSONUses    RelType = "CONF_JSON_USES"
	RelConfJSONSkipped RelType = "CONF_JSON_SKIPPED"
)

// AllRelTypes is the closed set of relationship kinds.
var AllRelTypes = []RelType{
	RelUses, RelImports, RelTestedBy, RelInPack, RelHasCommand, RelConfJSONUses, RelConfJSONSkipped,
}

// Relationship represents a directed edge in the content graph.
type Relationship struct {
	// ID is the unique identifier of the relationship.
	// Format: {source}|{type}|{target}
	ID string `json:"id"`

	// Type is the kind of relationship.
	Type RelType `json:"type"`

	// Source is the node ID of the source item.
	Source string `json:"source"`

	// Target is the node ID of the target item.
	Target string `json:"target"`

	// Mandatory is false for optional dependencies.
	Mandatory bool `json:"mandatory"`

	// SourceMarketplaces are the marketplaces of the source item.
	SourceMarketplaces []content.Marketplace `json:"source_marketplaces,omitempty"`

	// SourceFromVersion is the fromversion of the source item.
	SourceFromVersion string `json:"source_fromversion,omitempty"`

	// TargetFromVersion is the fromversion of the target at insert time.
	TargetFromVersion string `json:"target_fromversion,omitempty"`

	// Properties holds kind-specific metadata (brand, command, candidates).
	Properties map[string]any `json:"properties,omitempty"`
}

// GenerateRelID creates a deterministic relationship ID.
func GenerateRelID(source string, relType RelType, target string) string {
	return source + "|" + string(relType) + "|" + target
}

// NewRelationship builds an edge between two items, filling the version
// metadata from the endpoints.
func NewRelationship(relType RelType, source, target *content.Item, mandatory bool) *Relationship {
	rel := &Relationship{
		ID:                 GenerateRelID(source.ID(), relType, target.ID()),
		Type:               relType,
		Source:             source.ID(),
		Target:             target.ID(),
		Mandatory:          mandatory,
		SourceMarketplaces: source.Marketplaces,
		SourceFromVersion:  source.FromVersion,
		TargetFromVersion:  target.FromVersion,
	}
	return rel
}
