package validate

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/ingestion"
)

// itemTypes are the types backed by a content file of their own.
var itemTypes = func() []content.Type {
	var out []content.Type
	for _, t := range content.AllTypes {
		switch t {
		case content.TypePackMetadata, content.TypeReleaseNote, content.TypeTestConf,
			content.TypeCommand, content.TypeCommandOrScript, content.TypeTool:
			continue
		}
		out = append(out, t)
	}
	return out
}()

var idEqualsName = &Validator{
	Code:         "BA101",
	Description:  "Validate that the ID field is identical to the name field.",
	Rationale:    "Keeping the id and name identical avoids confusion between the two.",
	RelatedField: "name",
	ContentTypes: []content.Type{content.TypeIntegration, content.TypeScript, content.TypePlaybook},
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			if it.Name != it.ObjectID {
				out = append(out, fail(it,
					"The name attribute (currently %s) should be identical to its `id` attribute (%s)", it.Name, it.ObjectID))
			}
		}
		return out
	},
	Fix: func(vc *Context, it *content.Item) (*FixResult, error) {
		it.Name = it.ObjectID
		return &FixResult{
			Message: fmt.Sprintf("Changing name to be equal to id (%s).", it.ObjectID),
			Patches: []Patch{{Path: []any{"name"}, Value: it.ObjectID}},
		}, nil
	},
}

// Placeholders for the file-level failures produced by the builder.
var (
	unknownFileType = &Validator{
		Code:        "BA102",
		Description: "Validate that the file type of every content file can be determined.",
		Rationale:   "Files the tooling cannot classify are never uploaded.",
	}
	parseFailure = &Validator{
		Code:        "BA103",
		Description: "Validate that every content file can be loaded.",
		Rationale:   "Malformed files break the content graph and the upload.",
	}
)

// minFromVersion is the lowest fromversion supported per type.
var minFromVersion = map[content.Type]string{
	content.TypeScript:            "5.0.0",
	content.TypePlaybook:          "5.0.0",
	content.TypeReport:            "5.0.0",
	content.TypeWidget:            "5.0.0",
	content.TypeDashboard:         "5.0.0",
	content.TypeIncidentType:      "5.0.0",
	content.TypeIncidentField:     "5.0.0",
	content.TypeIndicatorField:    "5.0.0",
	content.TypeLayoutContainer:   "6.0.0",
	content.TypeMapper:            "6.0.0",
	content.TypeClassifier:        "6.0.0",
	content.TypeGenericDefinition: "6.5.0",
	content.TypeGenericModule:     "6.5.0",
	content.TypeGenericField:      "6.5.0",
	content.TypeGenericType:       "6.5.0",
	content.TypeList:              "6.5.0",
	content.TypeWizard:            "6.8.0",
	content.TypeJob:               "6.8.0",
	content.TypePreProcessRule:    "6.8.0",
	content.TypeXSIAMReport:       "6.10.0",
	content.TypeXSIAMDashboard:    "6.10.0",
	content.TypeCorrelationRule:   "6.10.0",
	content.TypeParsingRule:       "6.10.0",
}

func sortedTypes(m map[content.Type]string) []content.Type {
	out := make([]content.Type, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// versionKey returns the key holding name ("fromversion" or "toversion")
// in the item file. JSON items spell it in camel case.
func versionKey(it *content.Item, name string) string {
	camel := strings.Replace(name, "version", "Version", 1)
	if _, ok := it.Raw[name]; ok {
		return name
	}
	if _, ok := it.Raw[camel]; ok {
		return camel
	}
	if it.Type.IsYAML() {
		return name
	}
	return camel
}

var fromVersionSufficient = &Validator{
	Code:         "BA106",
	Description:  "Validate that the item's fromversion field is sufficient.",
	Rationale:    "Items declared for unsupported platform versions cannot be installed there.",
	RelatedField: "fromversion",
	ContentTypes: sortedTypes(minFromVersion),
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			need := minFromVersion[it.Type]
			if content.VersionLess(it.FromVersion, need) {
				out = append(out, fail(it,
					"The %s from version field is either missing or insufficient, need at least %s, current is %s.",
					it.Type, need, it.FromVersion))
			}
		}
		return out
	},
	Fix: func(vc *Context, it *content.Item) (*FixResult, error) {
		need := minFromVersion[it.Type]
		it.FromVersion = need
		return &FixResult{
			Message: fmt.Sprintf("Raised the fromversion field to %s.", need),
			Patches: []Patch{{Path: []any{versionKey(it, "fromversion")}, Value: need}},
		}, nil
	},
}

var marketplacesSubsetOfPack = &Validator{
	Code:         "BA111",
	Description:  "Validate that the item's marketplaces are a subset of its pack marketplaces.",
	Rationale:    "An item cannot ship to a marketplace its pack is not published to.",
	RelatedField: "marketplaces",
	ContentTypes: itemTypes,
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			pack := vc.Pack(it)
			if pack == nil {
				continue
			}
			if ok, missing := content.MarketplacesSubset(it.Marketplaces, pack.Marketplaces); !ok {
				out = append(out, fail(it,
					"The content item '%s' has marketplaces %s that are not declared by its pack %s.",
					it.ObjectID, joinMarketplaces(missing), pack.ObjectID))
			}
		}
		return out
	},
}

var nameTrailingSpaces = &Validator{
	Code:         "BA113",
	Description:  "Validate that the name field does not end with spaces.",
	Rationale:    "Trailing spaces make names look identical while comparing differently.",
	RelatedField: "name",
	ContentTypes: itemTypes,
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			name := content.String(it.Raw, "name")
			if name != strings.TrimRight(name, " \t") {
				out = append(out, fail(it,
					"Content item '%s' has trailing spaces in the name field.", strings.TrimSpace(name)))
			}
		}
		return out
	},
	Fix: func(vc *Context, it *content.Item) (*FixResult, error) {
		name := strings.TrimRight(content.String(it.Raw, "name"), " \t")
		it.Name = name
		return &FixResult{
			Message: fmt.Sprintf("Removed trailing spaces from the name of '%s'.", name),
			Patches: []Patch{{Path: []any{"name"}, Value: name}},
		}, nil
	},
}

var strictVersions = &Validator{
	Code:         "BA116",
	Description:  "Validate that fromversion and toversion are three-integer versions.",
	Rationale:    "The platform only understands MAJOR.MINOR.PATCH versions.",
	RelatedField: "fromversion, toversion",
	ContentTypes: itemTypes,
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			for _, name := range []string{"fromversion", "toversion"} {
				v := content.String(it.Raw, versionKey(it, name))
				if v != "" && !content.IsStrictVersion(v) {
					out = append(out, fail(it,
						"The %s field '%s' is not a valid version, use the MAJOR.MINOR.PATCH format.", name, v))
				}
			}
		}
		return out
	},
}

var fromBeforeTo = &Validator{
	Code:         "BA118",
	Description:  "Validate that fromversion is not higher than toversion.",
	Rationale:    "An item whose version window is empty is never available.",
	RelatedField: "fromversion, toversion",
	ContentTypes: itemTypes,
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			if !content.IsStrictVersion(it.FromVersion) || !content.IsStrictVersion(it.ToVersion) {
				continue
			}
			if content.CompareVersions(it.FromVersion, it.ToVersion) > 0 {
				out = append(out, fail(it,
					"The fromversion %s is higher than the toversion %s.", it.FromVersion, it.ToVersion))
			}
		}
		return out
	},
}

var requiredFields = map[content.Type][][]string{
	content.TypeIntegration:     {{"commonfields", "id"}, {"name"}, {"display"}, {"category"}, {"script"}},
	content.TypeScript:          {{"commonfields", "id"}, {"name"}, {"script"}, {"type"}},
	content.TypeTestScript:      {{"commonfields", "id"}, {"name"}, {"script"}, {"type"}},
	content.TypePlaybook:        {{"id"}, {"name"}, {"tasks"}},
	content.TypeTestPlaybook:    {{"id"}, {"name"}, {"tasks"}},
	content.TypeLayoutContainer: {{"id"}, {"name"}, {"group"}},
	content.TypeIncidentType:    {{"id"}, {"name"}},
	content.TypeIndicatorType:   {{"id"}, {"details"}},
	content.TypeIncidentField:   {{"id"}, {"name"}, {"cliName"}, {"type"}},
	content.TypeIndicatorField:  {{"id"}, {"name"}, {"cliName"}, {"type"}},
	content.TypeClassifier:      {{"id"}, {"name"}, {"type"}},
	content.TypeMapper:          {{"id"}, {"name"}, {"type"}},
	content.TypeDashboard:       {{"id"}, {"name"}},
	content.TypeWidget:          {{"id"}, {"name"}, {"dataType"}},
}

var requiredFieldsPresent = &Validator{
	Code:         "ST110",
	Description:  "Validate that the structure of the file holds every required field.",
	Rationale:    "The platform rejects content missing mandatory fields.",
	ContentTypes: func() []content.Type {
		out := make([]content.Type, 0, len(requiredFields))
		for t := range requiredFields {
			out = append(out, t)
		}
		slices.Sort(out)
		return out
	}(),
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			var missing []string
			for _, keys := range requiredFields[it.Type] {
				if v, ok := content.Lookup(it.Raw, keys...); !ok || v == nil {
					missing = append(missing, strings.Join(keys, "."))
				}
			}
			if len(missing) > 0 {
				out = append(out, fail(it,
					"The following required fields are missing: %s.", strings.Join(missing, ", ")))
			}
		}
		return out
	},
}

var reputationIDChars = regexp.MustCompile(`^[A-Za-z0-9_& ]+$`)

// reputationEntries returns the indicator type bodies held by item.
func reputationEntries(it *content.Item) []map[string]any {
	if it.Type == content.TypeIndicatorType {
		return []map[string]any{it.Raw}
	}
	var out []map[string]any
	for _, raw := range content.Slice(it.Raw, "reputations") {
		if m, ok := content.AsMap(raw); ok {
			out = append(out, m)
		}
	}
	return out
}

var reputationID = &Validator{
	Code:         "RP101",
	Description:  "Validate that the reputation id only holds letters, digits, underscores, ampersands and spaces.",
	Rationale:    "Other characters break indicator extraction on the platform.",
	RelatedField: "id",
	ContentTypes: []content.Type{content.TypeIndicatorType, content.TypeReputations},
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			for _, entry := range reputationEntries(it) {
				id := content.String(entry, "id")
				if !reputationIDChars.MatchString(id) {
					out = append(out, fail(it,
						"The id '%s' of the reputation is invalid, it may only contain letters, digits, '_', '&' and spaces.", id))
				}
			}
		}
		return out
	},
}

// expirationFloor is the version from which indicator types carry an
// expiration.
const expirationFloor = "5.5.0"

var reputationExpiration = &Validator{
	Code:         "RP102",
	Description:  "Validate that the expiration field of a reputation is a non-negative number.",
	Rationale:    "Indicator expiration is computed from this field on 5.5.0 and later.",
	RelatedField: "expiration",
	ContentTypes: []content.Type{content.TypeIndicatorType, content.TypeReputations},
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			if content.VersionLess(it.FromVersion, expirationFloor) && content.VersionLess(it.ToVersion, expirationFloor) {
				continue
			}
			for _, entry := range reputationEntries(it) {
				exp, ok := entry["expiration"]
				n, isInt := content.Int(entry, "expiration")
				if ok && content.IsNumber(exp) && isInt && n >= 0 {
					continue
				}
				out = append(out, fail(it,
					"The expiration field of the reputation '%s' must be a non-negative integer, got %v.",
					content.String(entry, "id"), exp))
			}
		}
		return out
	},
}

var sentenceSuffixes = []string{".", "!", "?", ".)", ".'", `."`, "}", "]"}

var trailingURL = regexp.MustCompile(`https?://\S+$`)

func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

// missingDot reports whether a description sentence lacks a final dot.
func missingDot(description string) bool {
	s := stripQuotes(description)
	if s == "" || trailingURL.MatchString(s) {
		return false
	}
	for _, suffix := range sentenceSuffixes {
		if strings.HasSuffix(s, suffix) {
			return false
		}
	}
	return true
}

// dotPatches finds the description fields of an integration or script
// that lack a final dot. It returns a line per field and the patches
// adding the dots.
func dotPatches(it *content.Item) ([]string, []Patch) {
	var lines []string
	var patches []Patch
	check := func(desc string, at []any, line string) {
		if missingDot(desc) {
			lines = append(lines, line)
			patches = append(patches, Patch{Path: at, Value: strings.TrimSpace(desc) + "."})
		}
	}
	walk := func(prefix []any, list []any, key, label, indent string) {
		for i, raw := range list {
			m, ok := content.AsMap(raw)
			if !ok {
				continue
			}
			at := append(slices.Clone(prefix), key, i, "description")
			name := content.FirstString(m, "name", "contextPath")
			check(content.String(m, "description"), at,
				fmt.Sprintf("%sThe %s %s description should end with a period.", indent, label, name))
		}
	}

	if it.Type == content.TypeScript || it.Type == content.TypeTestScript {
		check(content.String(it.Raw, "comment"), []any{"comment"},
			"The file's comment field is missing a '.' at the end of the sentence.")
		walk(nil, content.Slice(it.Raw, "args"), "args", "argument", "")
		walk(nil, content.Slice(it.Raw, "outputs"), "outputs", "context path", "")
		return lines, patches
	}

	check(content.String(it.Raw, "description"), []any{"description"},
		"The file's description field is missing a '.' at the end of the sentence.")
	for i, raw := range content.Slice(it.Raw, "script", "commands") {
		cmd, ok := content.AsMap(raw)
		if !ok {
			continue
		}
		before := len(lines)
		prefix := []any{"script", "commands", i}
		walk(prefix, content.Slice(cmd, "arguments"), "arguments", "argument", "\t")
		walk(prefix, content.Slice(cmd, "outputs"), "outputs", "context path", "\t")
		if len(lines) > before {
			header := fmt.Sprintf("- In command '%s':", content.String(cmd, "name"))
			lines = slices.Insert(lines, before, header)
		}
	}
	return lines, patches
}

var descriptionEndsWithDot = &Validator{
	Code:         "DS108",
	Description:  "Ensure that all yml's description fields ends with a dot.",
	Rationale:    "To ensure high documentation standards.",
	RelatedField: "description, comment",
	ContentTypes: []content.Type{content.TypeIntegration, content.TypeScript},
	GitStatuses:  []ingestion.GitStatus{ingestion.StatusModified, ingestion.StatusAdded},
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			if lines, _ := dotPatches(it); len(lines) > 0 {
				out = append(out, fail(it,
					"The %s contains description fields without dots at the end:\n%s\nPlease make sure to add a dot at the end of all the mentioned fields.",
					it.Type, strings.Join(lines, "\n")))
			}
		}
		return out
	},
	Fix: func(vc *Context, it *content.Item) (*FixResult, error) {
		_, patches := dotPatches(it)
		if missingDot(it.Description) {
			it.Description = strings.TrimSpace(it.Description) + "."
		}
		fields := make([]string, 0, len(patches))
		for _, p := range patches {
			fields = append(fields, p.String())
		}
		return &FixResult{
			Message: "Added dots ('.') at the end of the following description fields: " + strings.Join(fields, ", "),
			Patches: patches,
		}, nil
	},
}

// contextRef reports the comma separated parts of a value that look like
// context paths passed as plain strings.
func contextRef(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if strings.HasPrefix(part, "incident.") || strings.HasPrefix(part, "inputs.") {
			out = append(out, part)
		}
	}
	return out
}

// notateRefs wraps every context reference part of value in ${}.
func notateRefs(value string) string {
	parts := strings.Split(value, ",")
	for i, part := range parts {
		if strings.HasPrefix(part, "incident.") || strings.HasPrefix(part, "inputs.") {
			parts[i] = "${" + part + "}"
		}
	}
	return strings.Join(parts, ",")
}

type taskRef struct {
	taskID, taskName string
	value            string
	at               []any
}

// playbookRefs walks the raw tasks of a playbook and returns the values
// holding context references notated as plain strings.
func playbookRefs(it *content.Item) []taskRef {
	tasks := content.Map(it.Raw, "tasks")
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []taskRef
	for _, id := range ids {
		task, ok := content.AsMap(tasks[id])
		if !ok {
			continue
		}
		name := content.String(task, "task", "name")
		add := func(value string, at ...any) {
			if len(contextRef(value)) > 0 {
				out = append(out, taskRef{taskID: id, taskName: name, value: value, at: append([]any{"tasks", id}, at...)})
			}
		}
		// A value object {simple: ...} not marked as context.
		valueObj := func(obj map[string]any, at ...any) {
			if obj == nil || content.Bool(obj, "iscontext") {
				return
			}
			if s, ok := obj["simple"].(string); ok {
				add(s, append(at, "simple")...)
			}
		}

		switch content.String(task, "type") {
		case "regular", "condition", "collection":
			args := content.Map(task, "scriptarguments")
			names := make([]string, 0, len(args))
			for n := range args {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, n := range names {
				m, _ := content.AsMap(args[n])
				valueObj(m, "scriptarguments", n)
			}
		}
		if content.String(task, "type") == "condition" {
			for ci, raw := range content.Slice(task, "conditions") {
				cond, _ := content.AsMap(raw)
				for gi, group := range content.Slice(cond, "condition") {
					terms, _ := group.([]any)
					for ti, term := range terms {
						tm, _ := content.AsMap(term)
						for _, side := range []string{"left", "right"} {
							op := content.Map(tm, side)
							if op == nil || content.Bool(op, "iscontext") {
								continue
							}
							valueObj(content.Map(op, "value"), "conditions", ci, "condition", gi, ti, side, "value")
						}
					}
				}
			}
		}
		if s, ok := content.Lookup(task, "task", "description"); ok {
			if str, ok := s.(string); ok {
				add(str, "task", "description")
			}
		}
		add(name, "task", "name")
	}
	return out
}

var contextReferencesNotated = &Validator{
	Code:         "PB121",
	Description:  "Validate that all inputs that are intended to be fetched from the context are correctly notated.",
	Rationale:    "Context paths can be mistakenly used without the correct notation.",
	RelatedField: "scriptarguments, conditions",
	ContentTypes: []content.Type{content.TypePlaybook},
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			for _, ref := range playbookRefs(it) {
				for _, path := range contextRef(ref.value) {
					out = append(out, fail(it,
						"In task: '%s' with ID: '%s', an input with the value: '%s' was passed as a string not a reference."+
							` Change the reference to "From previous tasks" from "As value", or change the value to ${%s}.`,
						ref.taskName, ref.taskID, path, path))
				}
			}
		}
		return out
	},
	Fix: func(vc *Context, it *content.Item) (*FixResult, error) {
		refs := playbookRefs(it)
		fr := &FixResult{}
		lines := make([]string, 0, len(refs))
		for _, ref := range refs {
			fr.Patches = append(fr.Patches, Patch{Path: ref.at, Value: notateRefs(ref.value)})
			lines = append(lines, fmt.Sprintf("'%s' in task: '%s'", ref.value, ref.taskName))
		}
		fr.Message = "Fixed the following inputs:\n" + strings.Join(lines, "\n")
		return fr, nil
	},
}

var dockerImagePattern = regexp.MustCompile(
	`^(?:[a-z0-9.-]+(?::\d+)?/)?[a-z0-9]+(?:[._-][a-z0-9]+)*(?:/[a-z0-9]+(?:[._-][a-z0-9]+)*)*:[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)

// dockerImages returns the declared images of an integration or script.
func dockerImages(it *content.Item) []string {
	var images []string
	switch {
	case it.Integration != nil:
		images = []string{it.Integration.DockerImage, it.Integration.DockerImage45}
	case it.Script != nil:
		images = []string{it.Script.DockerImage, it.Script.DockerImage45}
	}
	return slices.DeleteFunc(images, func(s string) bool { return s == "" })
}

var dockerImageFormat = &Validator{
	Code:         "DO100",
	Description:  "Validate that the docker image is a repository:tag reference with an explicit version tag.",
	Rationale:    "Untagged or latest images make the runtime environment unpredictable.",
	RelatedField: "dockerimage",
	ContentTypes: []content.Type{content.TypeIntegration, content.TypeScript, content.TypeTestScript},
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			for _, image := range dockerImages(it) {
				switch {
				case !dockerImagePattern.MatchString(image):
					out = append(out, fail(it,
						"The docker image '%s' is not in the repository:tag format.", image))
				case strings.HasSuffix(image, ":latest"):
					out = append(out, fail(it,
						"The docker image '%s' uses the latest tag, use a version tag instead.", image))
				}
			}
		}
		return out
	},
}

var versionsBackwardCompatible = &Validator{
	Code:         "BC105",
	Description:  "Validate that fromversion was not raised and toversion was not lowered.",
	Rationale:    "Narrowing the version window removes the item from existing installations.",
	RelatedField: "fromversion, toversion",
	ContentTypes: itemTypes,
	Modes:        []Mode{ModeUseGit},
	GitStatuses:  []ingestion.GitStatus{ingestion.StatusModified, ingestion.StatusRenamed},
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			data, err := vc.BaselineFile(it.Path)
			if err != nil {
				continue
			}
			old, err := content.LoadBody(it.Path, data)
			if err != nil {
				continue
			}
			oldFrom := content.FirstString(old, "fromversion", "fromVersion")
			if oldFrom == "" {
				oldFrom = content.DefaultFromVersion
			}
			oldTo := content.FirstString(old, "toversion", "toVersion")
			if oldTo == "" {
				oldTo = content.DefaultToVersion
			}
			if content.VersionLess(oldFrom, it.FromVersion) {
				out = append(out, fail(it,
					"The fromversion of '%s' was raised from %s to %s, which is a breaking change.", it.ObjectID, oldFrom, it.FromVersion))
			}
			if content.VersionLess(it.ToVersion, oldTo) {
				out = append(out, fail(it,
					"The toversion of '%s' was lowered from %s to %s, which is a breaking change.", it.ObjectID, oldTo, it.ToVersion))
			}
		}
		return out
	},
}

var confJSONSchema = &Validator{
	Code:         "CJ100",
	Description:  "Validate conf.json against its schema.",
	Rationale:    "The test infrastructure rejects unknown or malformed fields.",
	ContentTypes: []content.Type{content.TypeTestConf},
	Check: func(vc *Context, items []*content.Item) []Result {
		var out []Result
		for _, it := range items {
			if it.TestConf == nil {
				continue
			}
			for _, msg := range it.TestConf.SchemaErrors {
				out = append(out, fail(it, "conf.json does not match its schema: %s", msg))
			}
		}
		return out
	},
}

func joinMarketplaces(ms []content.Marketplace) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = string(m)
	}
	return strings.Join(parts, ", ")
}
