package validate

import (
	"strings"

	"github.com/Benny93/contentgraph/internal/content"
)

var packMetadataFields = []string{"name", "description", "support", "currentVersion", "author"}

var packMetadataFormat = &Validator{
	Code:            "PA100",
	Description:     "Validate that the pack metadata is well formed.",
	Rationale:       "The marketplace rejects packs with incomplete metadata.",
	RelatedField:    "pack_metadata.json",
	ContentTypes:    []content.Type{content.TypePackMetadata},
	RunOnDeprecated: true,
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			for _, field := range packMetadataFields {
				if strings.TrimSpace(content.String(it.Raw, field)) == "" {
					out = append(out, fail(it, "The pack metadata is missing the field '%s'.", field))
				}
			}
			if it.Pack == nil {
				continue
			}
			if v := it.Pack.CurrentVersion; v != "" && !content.IsStrictVersion(v) {
				out = append(out, fail(it, "The currentVersion '%s' is not a valid version, use the format x.y.z.", v))
			}
			if it.Pack.DeclaredMarkets {
				var invalid []content.Marketplace
				for _, m := range it.Marketplaces {
					if !m.Valid() {
						invalid = append(invalid, m)
					}
				}
				if len(invalid) > 0 {
					out = append(out, fail(it, "The pack declares unknown marketplaces: %s.", joinMarketplaces(invalid)))
				}
			}
			if deps, ok := it.Raw["dependencies"]; ok && deps != nil {
				if _, ok := content.AsMap(deps); !ok {
					out = append(out, fail(it, "The dependencies field must be a mapping of pack ids."))
				}
			}
		}
		return out
	},
}

func tierNames() string {
	names := make([]string, len(content.SupportTiers))
	for i, t := range content.SupportTiers {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

var packSupportValid = &Validator{
	Code:            "PA101",
	Description:     "Validate that the pack declares a known support tier.",
	Rationale:       "The support tier drives the certification badges and validation levels.",
	RelatedField:    "support",
	ContentTypes:    []content.Type{content.TypePackMetadata},
	RunOnDeprecated: true,
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			if it.Pack == nil || it.Pack.RawSupport == "" {
				continue
			}
			if _, ok := content.ParseSupportTier(it.Pack.RawSupport); !ok {
				out = append(out, fail(it, "The support tier '%s' is invalid, use one of: %s.", it.Pack.RawSupport, tierNames()))
			}
		}
		return out
	},
}

var supportConsistent = &Validator{
	Code:         "PA102",
	Description:  "Validate that item level support headers agree with the pack support tier.",
	Rationale:    "An item cannot claim stricter support than its pack offers.",
	RelatedField: "supportlevelheader",
	ContentTypes: []content.Type{
		content.TypeIntegration, content.TypeScript, content.TypePlaybook,
		content.TypeTestPlaybook, content.TypeTestScript,
	},
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			if it.DeclaredSupport == "" {
				continue
			}
			declared, ok := content.ParseSupportTier(it.DeclaredSupport)
			if !ok {
				out = append(out, fail(it, "The supportlevelheader '%s' is invalid, use one of: %s.", it.DeclaredSupport, tierNames()))
				continue
			}
			if it.Support != "" && declared.Rank() > it.Support.Rank() {
				out = append(out, fail(it,
					"The supportlevelheader '%s' is stricter than the '%s' support of the pack %s.", declared, it.Support, it.PackID))
			}
		}
		return out
	},
}
