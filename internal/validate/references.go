package validate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/graph"
)

func idSet(items []*content.Item) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it.ID()] = true
	}
	return set
}

func pathsOf(items []*content.Item) []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range items {
		if it.Path != "" && !seen[it.Path] {
			seen[it.Path] = true
			out = append(out, it.Path)
		}
	}
	slices.Sort(out)
	return out
}

func quotedIDs(items []*content.Item) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = "'" + it.ObjectID + "'"
	}
	return strings.Join(parts, ", ")
}

// typeLabel turns "test-playbook" into "test playbook".
func typeLabel(t content.Type) string {
	return strings.ReplaceAll(string(t), "-", " ")
}

// usingTypes are the types whose items may use other items.
var usingTypes = []content.Type{
	content.TypeIntegration, content.TypeScript, content.TypeTestScript,
	content.TypePlaybook, content.TypeTestPlaybook,
	content.TypeLayout, content.TypeLayoutContainer,
	content.TypeClassifier, content.TypeOldClassifier, content.TypeMapper,
	content.TypeIncidentType, content.TypeIncidentField,
	content.TypeIndicatorType, content.TypeIndicatorField,
	content.TypeDashboard, content.TypeWidget, content.TypeReport,
	content.TypeGenericField, content.TypeGenericType, content.TypeGenericModule,
	content.TypeJob, content.TypeWizard, content.TypeTrigger, content.TypePreProcessRule,
	content.TypeCorrelationRule, content.TypeParsingRule, content.TypeModelingRule,
}

var marketplaceAvailability = &Validator{
	Code:         "GR101",
	Description:  "Validate that the items used by a content item are available in all of its marketplaces.",
	Rationale:    "A mandatory dependency missing from a marketplace breaks the item there.",
	RelatedField: "marketplaces",
	ContentTypes: usingTypes,
	Check: func(vc *Context, items []*content.Item) []Result {
		if len(items) == 0 {
			return nil
		}
		set := idSet(items)
		var out []Result
		var order []string
		bySource := make(map[string][]graph.MarketplaceMismatch)
		for m := range vc.Query.FindMarketplaceMismatches(pathsOf(items)) {
			id := m.Source.ID()
			if !set[id] {
				continue
			}
			if _, ok := bySource[id]; !ok {
				order = append(order, id)
			}
			bySource[id] = append(bySource[id], m)
		}
		for _, id := range order {
			ms := bySource[id]
			src := ms[0].Source
			targets := make([]*content.Item, len(ms))
			for i, m := range ms {
				targets[i] = m.Target
			}
			out = append(out, fail(src,
				"Content item '%s' can be used in the '%s' marketplaces, however it uses content items: %s which are not supported in all of the marketplaces of '%s'.",
				src.ObjectID, joinMarketplaces(src.Marketplaces), quotedIDs(targets), src.ObjectID))
		}
		return out
	},
}

var toVersionCompatible = &Validator{
	Code:         "GR102",
	Description:  "Validate that the items used by a content item support its toversion.",
	Rationale:    "An item that outlives its dependencies breaks on the versions they drop.",
	RelatedField: "toversion",
	ContentTypes: usingTypes,
	Check: func(vc *Context, items []*content.Item) []Result {
		if len(items) == 0 {
			return nil
		}
		set := idSet(items)
		var out []Result
		for skew := range vc.Query.FindUsesPathsWithInvalidToVersion(pathsOf(items), false) {
			if !set[skew.Source.ID()] {
				continue
			}
			src := skew.Source
			out = append(out, fail(src,
				"Content item '%s' whose to_version is '%s' is using content items: %s whose to_version is lower than %s, making them incompatible.",
				src.ObjectID, src.ToVersion, quotedIDs(skew.Targets), src.ToVersion))
		}
		return out
	},
}

var fromVersionCompatible = &Validator{
	Code:         "GR103",
	Description:  "Validate that the items used by a content item support its fromversion.",
	Rationale:    "An item available before its dependencies breaks on the versions they miss.",
	RelatedField: "fromversion",
	ContentTypes: usingTypes,
	Check: func(vc *Context, items []*content.Item) []Result {
		if len(items) == 0 {
			return nil
		}
		set := idSet(items)
		var out []Result
		for skew := range vc.Query.FindUsesPathsWithInvalidFromVersion(pathsOf(items), false) {
			if !set[skew.Source.ID()] {
				continue
			}
			src := skew.Source
			out = append(out, fail(src,
				"Content item '%s' whose from_version is '%s' is using content items: %s whose from_version is higher than %s, making them incompatible.",
				src.ObjectID, src.FromVersion, quotedIDs(skew.Targets), src.FromVersion))
		}
		return out
	},
}

var scriptCycles = &Validator{
	Code:         "GR104",
	Description:  "Validate that scripts do not use each other in a cycle.",
	Rationale:    "Cyclic script dependencies cannot be installed or executed.",
	ContentTypes: []content.Type{content.TypeScript},
	Check: func(vc *Context, items []*content.Item) []Result {
		set := idSet(items)
		var out []Result
		for cycle := range vc.Query.FindCyclesOfKind(graph.RelUses, content.TypeScript) {
			var owner *content.Item
			names := make([]string, 0, len(cycle)+1)
			for _, id := range cycle {
				node := vc.Graph.GetNode(id)
				if node == nil {
					continue
				}
				if owner == nil && set[id] {
					owner = node
				}
				names = append(names, node.ObjectID)
			}
			if owner == nil || len(names) == 0 {
				continue
			}
			names = append(names, names[0])
			out = append(out, fail(owner, "Found a cycle of scripts using each other: %s.", strings.Join(names, " -> ")))
		}
		return out
	},
}

var duplicateIDs = &Validator{
	Code:        "GR105",
	Description: "Validate that every content item id is declared once.",
	Rationale:   "Items sharing an id overwrite each other on upload.",
	Check: func(vc *Context, items []*content.Item) []Result {
		set := idSet(items)
		var out []Result
		for d := range vc.Query.FindDuplicateObjectIDs() {
			if len(d.Items) < 2 {
				continue
			}
			winner := d.Items[0]
			for _, dup := range d.Items[1:] {
				if !set[d.ID] && !vc.InScope(dup.Path) {
					continue
				}
				out = append(out, fail(dup,
					"The %s id '%s' is already declared by %s.", typeLabel(dup.Type), dup.ObjectID, winner.Path))
			}
		}
		return out
	},
}

var unknownReferences = &Validator{
	Code:         "GR106",
	Description:  "Validate that mandatory references point to content in the repository.",
	Rationale:    "A mandatory dependency that does not exist makes the item unusable.",
	ContentTypes: usingTypes,
	Check: func(vc *Context, items []*content.Item) []Result {
		set := idSet(items)
		var out []Result
		for rel := range vc.Query.FindPhantomTargets(graph.RelUses) {
			if !rel.Mandatory || !set[rel.Source] {
				continue
			}
			src := vc.Graph.GetNode(rel.Source)
			target := vc.Graph.GetNode(rel.Target)
			if src == nil || target == nil {
				continue
			}
			out = append(out, fail(src,
				"Content item '%s' uses the %s '%s', which does not exist in the repository.",
				src.ObjectID, typeLabel(target.Type), target.ObjectID))
		}
		return out
	},
}

var deprecatedUsage = &Validator{
	Code:         "GR107",
	Description:  "Validate that no deprecated content items are used by non-deprecated content.",
	Rationale:    "Deprecated items are removed eventually and their users break.",
	ContentTypes: usingTypes,
	Check: func(vc *Context, items []*content.Item) []Result {
		if len(items) == 0 {
			return nil
		}
		set := idSet(items)
		var out []Result
		for u := range vc.Query.FindDeprecatedUsage(pathsOf(items)) {
			if !set[u.Source.ID()] {
				continue
			}
			out = append(out, fail(u.Source,
				"The content item '%s' uses the deprecated content items: %s. Replace them with their successors.",
				u.Source.ObjectID, quotedIDs(u.Targets)))
		}
		return out
	},
}

var ambiguousCommands = &Validator{
	Code:         "GR108",
	Description:  "Validate that commands used without a brand are implemented by a single integration.",
	Rationale:    "The platform picks an arbitrary implementation for ambiguous commands.",
	ContentTypes: usingTypes,
	Check: func(vc *Context, items []*content.Item) []Result {
		set := idSet(items)
		var out []Result
		for a := range vc.Query.FindAmbiguousCommands() {
			if !set[a.Relationship.Source] {
				continue
			}
			src := vc.Graph.GetNode(a.Relationship.Source)
			if src == nil {
				continue
			}
			chosen := a.Relationship.Target
			if target := vc.Graph.GetNode(a.Relationship.Target); target != nil {
				chosen = target.ObjectID
			}
			out = append(out, fail(src,
				"The command '%s' used by '%s' is implemented by several integrations: %s. '%s' was selected, qualify the command with a brand.",
				a.Command, src.ObjectID, strings.Join(a.Candidates, ", "), chosen))
		}
		return out
	},
}

// confTargets returns the distinct conf.json targets of conf matching keep.
func confTargets(vc *Context, conf *content.Item, keep func(*content.Item) bool) []*content.Item {
	var out []*content.Item
	for _, rel := range vc.Graph.GetOutgoing(conf.ID(), graph.RelConfJSONUses) {
		target := vc.Graph.GetNode(rel.Target)
		if target != nil && keep(target) {
			out = append(out, target)
		}
	}
	return out
}

var confJSONMissing = &Validator{
	Code:         "GR109",
	Description:  "Validate that conf.json only references content that exists in the repository.",
	Rationale:    "Tests configured for missing content fail in the build.",
	ContentTypes: []content.Type{content.TypeTestConf},
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, conf := range items {
			for _, t := range confTargets(vc, conf, func(n *content.Item) bool { return n.NotInRepository }) {
				out = append(out, fail(conf,
					"The %s '%s' is linked in conf.json but does not exist in the repository.", typeLabel(t.Type), t.ObjectID))
			}
		}
		return out
	},
}

var confJSONDeprecated = &Validator{
	Code:         "GR110",
	Description:  "Validate that conf.json does not reference deprecated content.",
	Rationale:    "Deprecated content is not tested anymore.",
	ContentTypes: []content.Type{content.TypeTestConf},
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, conf := range items {
			keep := func(n *content.Item) bool { return n.Deprecated && !n.NotInRepository }
			for _, t := range confTargets(vc, conf, keep) {
				out = append(out, fail(conf,
					"The %s '%s' is linked in conf.json but is deprecated, remove it from conf.json.", typeLabel(t.Type), t.ObjectID))
			}
		}
		return out
	},
}

// xsiamBannedLayoutTypes are the section and tab types marketplacev2
// layouts cannot hold.
var xsiamBannedLayoutTypes = []string{
	"evidence", "childInv", "linkedIncidents", "team",
	"droppedIncidents", "todoTasks", "evidenceBoard", "relatedIncidents",
}

var xsiamLayoutSections = &Validator{
	Code:         "LO107",
	Description:  "Validate that layouts available in marketplacev2 only use supported section and tab types.",
	Rationale:    "Some incident layout widgets do not exist on marketplacev2.",
	RelatedField: "tabs, sections",
	ContentTypes: []content.Type{content.TypeLayoutContainer},
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			if it.Layout == nil || !it.InMarketplace(content.MarketplaceV2) {
				continue
			}
			var found []string
			add := func(t string) {
				if slices.Contains(xsiamBannedLayoutTypes, t) && !slices.Contains(found, t) {
					found = append(found, t)
				}
			}
			for _, tab := range it.Layout.Tabs {
				add(tab.Type)
				for _, s := range tab.Sections {
					add(s.Type)
				}
			}
			if len(found) > 0 {
				slices.Sort(found)
				out = append(out, fail(it,
					"The layout '%s' is available in %s, which does not support the following section and tab types: %s.",
					it.ObjectID, content.MarketplaceV2, strings.Join(found, ", ")))
			}
		}
		return out
	},
}

var classifierResolves = &Validator{
	Code:         "CL100",
	Description:  "Validate that the default classifier and mappers of an integration exist in its pack or a declared dependency.",
	Rationale:    "Fetched incidents are dropped when their classifier is missing.",
	RelatedField: "defaultclassifier, defaultmapperin, defaultmapperout",
	ContentTypes: []content.Type{content.TypeIntegration},
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			if it.Integration == nil {
				continue
			}
			refs := []struct {
				field string
				id    string
				types []content.Type
			}{
				{"defaultclassifier", it.Integration.DefaultClassifier, []content.Type{content.TypeClassifier, content.TypeOldClassifier}},
				{"defaultmapperin", it.Integration.DefaultMapperIn, []content.Type{content.TypeMapper}},
				{"defaultmapperout", it.Integration.DefaultMapperOut, []content.Type{content.TypeMapper}},
			}
			for _, ref := range refs {
				if ref.id == "" {
					continue
				}
				var target *content.Item
				for _, t := range ref.types {
					if n := vc.Graph.Lookup(t, ref.id); n != nil && !n.NotInRepository {
						target = n
						break
					}
				}
				if target == nil {
					out = append(out, fail(it, "The %s '%s' of the integration was not found.", ref.field, ref.id))
					continue
				}
				if msg := dependencyProblem(vc, it, target); msg != "" {
					out = append(out, fail(it, "The %s '%s' %s", ref.field, ref.id, msg))
				}
			}
		}
		return out
	},
}

// dependencyProblem explains why target is not reachable from the pack of
// item, or returns "".
func dependencyProblem(vc *Context, item, target *content.Item) string {
	if target.PackID == item.PackID {
		return ""
	}
	pack := vc.Pack(item)
	if pack != nil && pack.Pack != nil {
		if _, ok := pack.Pack.Dependencies[target.PackID]; ok {
			return ""
		}
	}
	return fmt.Sprintf("belongs to the pack %s, which is not a dependency of %s.", target.PackID, item.PackID)
}

var testsDeclared = &Validator{
	Code:         "TB100",
	Description:  "Validate that integrations declare test playbooks.",
	Rationale:    "Untested integrations break silently.",
	RelatedField: "tests",
	ContentTypes: []content.Type{content.TypeIntegration},
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			if it.Integration != nil && len(it.Integration.Tests) == 0 && !it.Integration.NoTests {
				out = append(out, fail(it,
					"The integration '%s' does not declare test playbooks, add them or state 'No tests' in the tests field.", it.ObjectID))
			}
		}
		return out
	},
}

var testPlaybooksExist = &Validator{
	Code:         "TB101",
	Description:  "Validate that declared test playbooks exist.",
	Rationale:    "Tests pointing to missing playbooks never run.",
	RelatedField: "tests",
	ContentTypes: []content.Type{content.TypeIntegration, content.TypeScript, content.TypePlaybook},
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			for _, rel := range vc.Graph.GetOutgoing(it.ID(), graph.RelTestedBy) {
				target := vc.Graph.GetNode(rel.Target)
				if target == nil || target.NotInRepository {
					out = append(out, fail(it,
						"The test playbook '%s' declared by '%s' does not exist.", strings.TrimPrefix(rel.Target, string(content.TypeTestPlaybook)+":"), it.ObjectID))
				}
			}
		}
		return out
	},
}
