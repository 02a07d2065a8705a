// Package content defines the universal content item model shared by the
// parser layer, the graph builder and the validators.
//
// Every artifact found under a content repository is described by an Item
// whose identity is the pair (Type, ObjectID). Type-specific attributes hang
// off tagged variant pointers on the Item; exactly one of them is populated
// for a given Type. The package also owns the single file-type classifier
// used by every caller that needs to know what a file is.
package content

import "slices"

// Type is the closed enumeration of content types.
type Type string

const (
	TypeIntegration       Type = "integration"
	TypeScript            Type = "script"
	TypePlaybook          Type = "playbook"
	TypeTestPlaybook      Type = "test-playbook"
	TypeTestScript        Type = "test-script"
	TypeLayout            Type = "layout"
	TypeLayoutContainer   Type = "layout-container"
	TypeClassifier        Type = "classifier"
	TypeOldClassifier     Type = "old-classifier"
	TypeMapper            Type = "mapper"
	TypeIncidentField     Type = "incident-field"
	TypeIncidentType      Type = "incident-type"
	TypeIndicatorField    Type = "indicator-field"
	TypeIndicatorType     Type = "indicator-type"
	TypeReputations       Type = "reputations"
	TypeDashboard         Type = "dashboard"
	TypeWidget            Type = "widget"
	TypeReport            Type = "report"
	TypeGenericField      Type = "generic-field"
	TypeGenericType       Type = "generic-type"
	TypeGenericModule     Type = "generic-module"
	TypeGenericDefinition Type = "generic-definition"
	TypeParsingRule       Type = "parsing-rule"
	TypeModelingRule      Type = "modeling-rule"
	TypeCorrelationRule   Type = "correlation-rule"
	TypeWizard            Type = "wizard"
	TypeJob               Type = "job"
	TypeTrigger           Type = "trigger"
	TypeXSIAMDashboard    Type = "xsiam-dashboard"
	TypeXSIAMReport       Type = "xsiam-report"
	TypeList              Type = "list"
	TypePreProcessRule    Type = "pre-process-rule"
	TypeConnection        Type = "connection"
	TypeTool              Type = "tool"
	TypeReleaseNote       Type = "release-note"
	TypePackMetadata      Type = "pack-metadata"
	TypeTestConf          Type = "test-conf"
	TypeCommand           Type = "command"
	TypeCommandOrScript   Type = "command-or-script"
	TypeUnknown           Type = "unknown"
)

// AllTypes lists every known type except TypeUnknown, in declaration order.
var AllTypes = []Type{
	TypeIntegration, TypeScript, TypePlaybook, TypeTestPlaybook, TypeTestScript,
	TypeLayout, TypeLayoutContainer, TypeClassifier, TypeOldClassifier, TypeMapper,
	TypeIncidentField, TypeIncidentType, TypeIndicatorField, TypeIndicatorType,
	TypeReputations, TypeDashboard, TypeWidget, TypeReport,
	TypeGenericField, TypeGenericType, TypeGenericModule, TypeGenericDefinition,
	TypeParsingRule, TypeModelingRule, TypeCorrelationRule,
	TypeWizard, TypeJob, TypeTrigger, TypeXSIAMDashboard, TypeXSIAMReport,
	TypeList, TypePreProcessRule, TypeConnection, TypeTool,
	TypeReleaseNote, TypePackMetadata, TypeTestConf, TypeCommand, TypeCommandOrScript,
}

// ParseType converts a string into a Type, returning TypeUnknown when the
// value is not part of the enumeration.
func ParseType(s string) Type {
	t := Type(s)
	if slices.Contains(AllTypes, t) {
		return t
	}
	return TypeUnknown
}

// Is reports whether t is other or a specialization of it. A test playbook
// is also a playbook and a test script is also a script.
func (t Type) Is(other Type) bool {
	if t == other {
		return true
	}
	switch t {
	case TypeTestPlaybook:
		return other == TypePlaybook
	case TypeTestScript:
		return other == TypeScript
	case TypeScript, TypeCommand:
		return other == TypeCommandOrScript
	}
	return false
}

// IsYAML reports whether items of this type are stored as YAML.
func (t Type) IsYAML() bool {
	switch t {
	case TypeIntegration, TypeScript, TypeTestScript, TypePlaybook, TypeTestPlaybook,
		TypeParsingRule, TypeModelingRule, TypeCorrelationRule:
		return true
	}
	return false
}

// Label returns the CamelCase label used by graph databases for this type.
func (t Type) Label() string {
	out := make([]byte, 0, len(t))
	upper := true
	for i := 0; i < len(t); i++ {
		c := t[i]
		if c == '-' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		out = append(out, c)
	}
	return string(out)
}

// Marketplace is a distribution channel.
type Marketplace string

const (
	MarketplaceXSOAR       Marketplace = "xsoar"
	MarketplaceXSOARSaaS   Marketplace = "xsoar_saas"
	MarketplaceXSOAROnPrem Marketplace = "xsoar_on_prem"
	MarketplaceV2          Marketplace = "marketplacev2"
	MarketplaceXPANSE      Marketplace = "xpanse"
)

// AllMarketplaces is the closed marketplace vocabulary.
var AllMarketplaces = []Marketplace{
	MarketplaceXSOAR, MarketplaceXSOARSaaS, MarketplaceXSOAROnPrem, MarketplaceV2, MarketplaceXPANSE,
}

// DefaultMarketplaces applies to packs that do not declare any.
var DefaultMarketplaces = []Marketplace{MarketplaceXSOAR, MarketplaceV2}

// Valid reports whether m is part of the vocabulary.
func (m Marketplace) Valid() bool {
	return slices.Contains(AllMarketplaces, m)
}

// covers reports whether declaring m on a pack makes other available.
// xsoar on a pack implies both xsoar flavours.
func (m Marketplace) covers(other Marketplace) bool {
	if m == other {
		return true
	}
	return m == MarketplaceXSOAR && (other == MarketplaceXSOARSaaS || other == MarketplaceXSOAROnPrem)
}

// MarketplacesSubset reports whether every marketplace in items is covered by
// one of the marketplaces in set. It returns the uncovered values.
func MarketplacesSubset(items, set []Marketplace) (bool, []Marketplace) {
	var missing []Marketplace
	for _, m := range items {
		covered := false
		for _, s := range set {
			if s.covers(m) {
				covered = true
				break
			}
		}
		if !covered {
			missing = append(missing, m)
		}
	}
	return len(missing) == 0, missing
}

// SupportTier is the support level of a pack, ordered from least to most
// strict.
type SupportTier string

const (
	SupportBase             SupportTier = "base"
	SupportCommunity        SupportTier = "community"
	SupportPartner          SupportTier = "partner"
	SupportCertifiedPartner SupportTier = "certified partner"
	SupportXSOAR            SupportTier = "xsoar"
)

// SupportTiers lists the tiers in ascending strictness.
var SupportTiers = []SupportTier{SupportBase, SupportCommunity, SupportPartner, SupportCertifiedPartner, SupportXSOAR}

// ParseSupportTier normalizes a support value found in pack metadata.
// "developer" is the legacy spelling of community and "certified-partner"
// is accepted alongside the canonical spelling.
func ParseSupportTier(s string) (SupportTier, bool) {
	switch s {
	case "developer":
		return SupportCommunity, true
	case "certified-partner", "certified_partner":
		return SupportCertifiedPartner, true
	}
	t := SupportTier(s)
	return t, slices.Contains(SupportTiers, t)
}

// Rank returns the position of t in SupportTiers, or -1.
func (t SupportTier) Rank() int {
	return slices.Index(SupportTiers, t)
}
