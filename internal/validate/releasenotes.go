package validate

import (
	"slices"
	"strings"

	"github.com/Benny93/contentgraph/internal/content"
)

var releaseNoteTypes = []content.Type{content.TypeReleaseNote}

var bannedReleaseNoteTemplates = []string{
	"stability and maintenance",
	"documentation and metadata improvements",
}

const releaseNotePlaceholder = "%%UPDATE_RN%%"

var releaseNoteTemplates = &Validator{
	Code:         "RN103",
	Description:  "Validate that release notes are filled in and avoid generic templates.",
	Rationale:    "Generic release notes do not tell users what changed.",
	ContentTypes: releaseNoteTypes,
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			rn := it.ReleaseNote
			if rn == nil {
				continue
			}
			if strings.TrimSpace(strings.Join(rn.Lines, "")) == "" {
				out = append(out, fail(it, "The release note is empty, describe the changes of version %s.", rn.Version))
				continue
			}
			for i, line := range rn.Lines {
				lower := strings.ToLower(line)
				if strings.Contains(line, releaseNotePlaceholder) {
					r := fail(it, "Complete the release note, it still contains %s.", releaseNotePlaceholder)
					r.Line = i + 1
					out = append(out, r)
					continue
				}
				for _, banned := range bannedReleaseNoteTemplates {
					if strings.Contains(lower, banned) {
						r := fail(it, "The release note line '%s' uses a generic template, describe the actual change.", strings.TrimSpace(line))
						r.Line = i + 1
						out = append(out, r)
						break
					}
				}
			}
		}
		return out
	},
}

// releaseNoteHeaders maps the "#### " headers to the types they describe.
var releaseNoteHeaders = map[string][]content.Type{
	"Integrations":             {content.TypeIntegration},
	"Scripts":                  {content.TypeScript},
	"Playbooks":                {content.TypePlaybook},
	"Layouts":                  {content.TypeLayout, content.TypeLayoutContainer},
	"Classifiers":              {content.TypeClassifier, content.TypeOldClassifier},
	"Mappers":                  {content.TypeMapper},
	"Incident Types":           {content.TypeIncidentType},
	"Incident Fields":          {content.TypeIncidentField},
	"Indicator Types":          {content.TypeIndicatorType},
	"Indicator Fields":         {content.TypeIndicatorField},
	"Reputations":              {content.TypeReputations},
	"Dashboards":               {content.TypeDashboard},
	"Widgets":                  {content.TypeWidget},
	"Reports":                  {content.TypeReport},
	"Lists":                    {content.TypeList},
	"Jobs":                     {content.TypeJob},
	"Wizards":                  {content.TypeWizard},
	"Triggers Recommendations": {content.TypeTrigger},
	"Objects":                  {content.TypeGenericDefinition},
	"Modules":                  {content.TypeGenericModule},
	"Object Types":             {content.TypeGenericType},
	"Object Fields":            {content.TypeGenericField},
	"Correlation Rules":        {content.TypeCorrelationRule},
	"Parsing Rules":            {content.TypeParsingRule},
	"Modeling Rules":           {content.TypeModelingRule},
	"XSIAM Dashboards":         {content.TypeXSIAMDashboard},
	"XSIAM Reports":            {content.TypeXSIAMReport},
	"PreProcess Rules":         {content.TypePreProcessRule},
}

func headerNames() string {
	names := make([]string, 0, len(releaseNoteHeaders))
	for h := range releaseNoteHeaders {
		names = append(names, h)
	}
	slices.Sort(names)
	return strings.Join(names, ", ")
}

// packItemNames collects the names an item header may use for items of
// types in pack.
func packItemNames(vc *Context, pack string, types []content.Type) map[string]bool {
	names := make(map[string]bool)
	for _, n := range vc.Graph.NodesByType(types...) {
		if n.PackID != pack || n.NotInRepository {
			continue
		}
		for _, s := range []string{n.Name, n.DisplayName, n.ObjectID} {
			if s != "" {
				names[s] = true
			}
		}
	}
	return names
}

var releaseNoteHeadersValid = &Validator{
	Code:         "RN114",
	Description:  "Validate that release-note headers name existing content types and items.",
	Rationale:    "Release notes are rendered per content type and item.",
	ContentTypes: releaseNoteTypes,
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			rn := it.ReleaseNote
			if rn == nil {
				continue
			}
			var current []content.Type
			var names map[string]bool
			for i, line := range rn.Lines {
				trimmed := strings.TrimSpace(line)
				if header, ok := strings.CutPrefix(trimmed, "#### "); ok {
					header = strings.TrimSpace(header)
					types, known := releaseNoteHeaders[header]
					if !known {
						r := fail(it, "The release-note header '%s' is not a content type, use one of: %s.", header, headerNames())
						r.Line = i + 1
						out = append(out, r)
						current, names = nil, nil
						continue
					}
					current, names = types, nil
					continue
				}
				header, ok := strings.CutPrefix(trimmed, "##### ")
				if !ok || current == nil {
					continue
				}
				header = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "New: "))
				if names == nil {
					names = packItemNames(vc, it.PackID, current)
				}
				if !names[header] {
					r := fail(it, "The release-note item '%s' does not match any content item of the pack %s.", header, it.PackID)
					r.Line = i + 1
					out = append(out, r)
				}
			}
		}
		return out
	},
}

var releaseNoteVerbs = []string{"Added", "Fixed", "Updated", "Deprecated", "Improved", "Removed", "Note"}

var releaseNoteBullets = &Validator{
	Code:         "RN116",
	Description:  "Validate that release-note bullets start with a change verb.",
	Rationale:    "Consistent bullets make release notes scannable.",
	ContentTypes: releaseNoteTypes,
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			if it.ReleaseNote == nil {
				continue
			}
			for i, line := range it.ReleaseNote.Lines {
				var text string
				var ok bool
				if text, ok = strings.CutPrefix(line, "- "); !ok {
					text, ok = strings.CutPrefix(line, "* ")
				}
				if !ok {
					continue
				}
				text = strings.TrimLeft(strings.TrimSpace(text), "*_")
				if !slices.ContainsFunc(releaseNoteVerbs, func(v string) bool { return strings.HasPrefix(text, v) }) {
					r := fail(it, "The release-note bullet should start with one of: %s.", strings.Join(releaseNoteVerbs, ", "))
					r.Line = i + 1
					out = append(out, r)
				}
			}
		}
		return out
	},
}
