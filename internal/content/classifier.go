package content

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// PacksDir is the repository directory holding every pack.
const PacksDir = "Packs"

// TestConfPath is the repository-relative path of the test-config manifest.
const TestConfPath = "Tests/conf.json"

// PackMetadataFile is the metadata file at the root of every pack.
const PackMetadataFile = "pack_metadata.json"

// Canonical pack subdirectories.
const (
	DirIntegrations       = "Integrations"
	DirScripts            = "Scripts"
	DirPlaybooks          = "Playbooks"
	DirTestPlaybooks      = "TestPlaybooks"
	DirLayouts            = "Layouts"
	DirClassifiers        = "Classifiers"
	DirIncidentTypes      = "IncidentTypes"
	DirIncidentFields     = "IncidentFields"
	DirIndicatorTypes     = "IndicatorTypes"
	DirIndicatorFields    = "IndicatorFields"
	DirDashboards         = "Dashboards"
	DirWidgets            = "Widgets"
	DirReports            = "Reports"
	DirReleaseNotes       = "ReleaseNotes"
	DirGenericFields      = "GenericFields"
	DirGenericTypes       = "GenericTypes"
	DirGenericModules     = "GenericModules"
	DirGenericDefinitions = "GenericDefinitions"
	DirWizards            = "Wizards"
	DirJobs               = "Jobs"
	DirTriggers           = "Triggers"
	DirCorrelationRules   = "CorrelationRules"
	DirParsingRules       = "ParsingRules"
	DirModelingRules      = "ModelingRules"
	DirXSIAMDashboards    = "XSIAMDashboards"
	DirXSIAMReports       = "XSIAMReports"
	DirTools              = "Tools"
	DirConnections        = "Connections"
	DirLists              = "Lists"
	DirPreProcessRules    = "PreProcessRules"
)

// ContentDirs lists every canonical pack subdirectory.
var ContentDirs = []string{
	DirIntegrations, DirScripts, DirPlaybooks, DirTestPlaybooks, DirLayouts, DirClassifiers,
	DirIncidentTypes, DirIncidentFields, DirIndicatorTypes, DirIndicatorFields,
	DirDashboards, DirWidgets, DirReports, DirReleaseNotes,
	DirGenericFields, DirGenericTypes, DirGenericModules, DirGenericDefinitions,
	DirWizards, DirJobs, DirTriggers, DirCorrelationRules, DirParsingRules, DirModelingRules,
	DirXSIAMDashboards, DirXSIAMReports, DirTools, DirConnections, DirLists, DirPreProcessRules,
}

// jsonDirTypes maps directories whose JSON files have a single possible type.
var jsonDirTypes = map[string]Type{
	DirIncidentTypes:      TypeIncidentType,
	DirDashboards:         TypeDashboard,
	DirWidgets:            TypeWidget,
	DirReports:            TypeReport,
	DirGenericTypes:       TypeGenericType,
	DirGenericModules:     TypeGenericModule,
	DirGenericDefinitions: TypeGenericDefinition,
	DirWizards:            TypeWizard,
	DirJobs:               TypeJob,
	DirTriggers:           TypeTrigger,
	DirXSIAMDashboards:    TypeXSIAMDashboard,
	DirXSIAMReports:       TypeXSIAMReport,
	DirLists:              TypeList,
	DirPreProcessRules:    TypePreProcessRule,
	DirConnections:        TypeConnection,
}

// yamlDirTypes maps rule directories to their YAML content type.
var yamlDirTypes = map[string]Type{
	DirCorrelationRules: TypeCorrelationRule,
	DirParsingRules:     TypeParsingRule,
	DirModelingRules:    TypeModelingRule,
}

// LayoutPages are the page keys of a layout container.
var LayoutPages = []string{
	"detailsV2", "details", "edit", "close", "quickView", "mobile",
	"indicatorsDetails", "indicatorsQuickView",
}

var releaseNoteName = regexp.MustCompile(`^\d+_\d+_\d+\.md$`)

// Location is the position of a file within the pack layout.
type Location struct {
	// Pack is the pack directory name.
	Pack string
	// Dir is the canonical subdirectory, empty for files at the pack root.
	Dir string
	// Rest holds the path elements below Dir.
	Rest []string
}

// Locate finds the pack location of a path. It accepts repository-relative
// and absolute paths by searching for the Packs element.
func Locate(p string) (Location, bool) {
	parts := strings.Split(filepath.ToSlash(p), "/")
	for i := len(parts) - 2; i >= 0; i-- {
		if parts[i] != PacksDir || i+1 >= len(parts) {
			continue
		}
		loc := Location{Pack: parts[i+1]}
		below := parts[i+2:]
		if len(below) <= 1 {
			loc.Rest = below
			return loc, true
		}
		loc.Dir = below[0]
		loc.Rest = below[1:]
		return loc, true
	}
	return Location{}, false
}

// IsTestConf reports whether p is the test-config manifest.
func IsTestConf(p string) bool {
	p = filepath.ToSlash(p)
	return p == TestConfPath || strings.HasSuffix(p, "/"+TestConfPath)
}

// Classify assigns a content type to a file from its placement and body.
// Release notes and tools are classified by path alone and may pass a nil
// body. It never fails; undecidable files are TypeUnknown.
func Classify(relPath string, body map[string]any) Type {
	if IsTestConf(relPath) {
		return TypeTestConf
	}
	loc, ok := Locate(relPath)
	if !ok {
		return TypeUnknown
	}
	base := path.Base(filepath.ToSlash(relPath))
	ext := strings.ToLower(path.Ext(base))

	if loc.Dir == "" {
		if base == PackMetadataFile {
			return TypePackMetadata
		}
		return TypeUnknown
	}

	switch loc.Dir {
	case DirReleaseNotes:
		if releaseNoteName.MatchString(base) {
			return TypeReleaseNote
		}
		return TypeUnknown
	case DirTools:
		return TypeTool
	}

	switch ext {
	case ".yml", ".yaml":
		return classifyYAML(loc.Dir, body)
	case ".json":
		return classifyJSON(loc.Dir, base, body)
	}
	return TypeUnknown
}

func classifyYAML(dir string, body map[string]any) Type {
	if body == nil {
		return TypeUnknown
	}
	_, hasScript := body["script"]
	_, hasCommon := body["commonfields"]
	_, hasTasks := body["tasks"]

	switch dir {
	case DirIntegrations:
		if hasCommon && (Map(body, "script") != nil || body["configuration"] != nil) {
			return TypeIntegration
		}
	case DirScripts:
		if hasCommon && hasScript && Map(body, "script") == nil {
			return TypeScript
		}
	case DirPlaybooks:
		if hasTasks {
			return TypePlaybook
		}
	case DirTestPlaybooks:
		if hasTasks {
			return TypeTestPlaybook
		}
		if hasCommon && hasScript {
			return TypeTestScript
		}
	default:
		if t, ok := yamlDirTypes[dir]; ok && FirstString(body, "id", "name") != "" {
			return t
		}
	}
	return TypeUnknown
}

func classifyJSON(dir, base string, body map[string]any) Type {
	if body == nil {
		return TypeUnknown
	}
	switch dir {
	case DirLayouts:
		return classifyLayout(body)
	case DirClassifiers:
		return classifyClassifier(body)
	case DirIncidentFields:
		if String(body, "cliName") != "" {
			return TypeIncidentField
		}
	case DirIndicatorFields:
		if String(body, "cliName") != "" {
			return TypeIndicatorField
		}
	case DirGenericFields:
		if String(body, "cliName") != "" {
			return TypeGenericField
		}
	case DirIndicatorTypes:
		if base == "reputations.json" {
			if Slice(body, "reputations") != nil {
				return TypeReputations
			}
			return TypeUnknown
		}
		if FirstString(body, "id", "details") != "" {
			return TypeIndicatorType
		}
	case DirModelingRules, DirParsingRules, DirCorrelationRules:
		// schema and test-data sidecars of rules
		return TypeUnknown
	default:
		if t, ok := jsonDirTypes[dir]; ok && FirstString(body, "id", "name") != "" {
			return t
		}
	}
	return TypeUnknown
}

func classifyLayout(body map[string]any) Type {
	for _, page := range LayoutPages {
		p := Map(body, page)
		if p == nil {
			continue
		}
		if _, ok := p["tabs"]; ok {
			return TypeLayoutContainer
		}
		if _, ok := p["sections"]; ok {
			return TypeLayoutContainer
		}
	}
	if _, ok := body["group"]; ok && String(body, "id") != "" {
		return TypeLayoutContainer
	}
	if String(body, "typeId") != "" && String(body, "kind") != "" {
		return TypeLayout
	}
	if inner := Map(body, "layout"); inner != nil && (String(body, "typeId") != "" || String(inner, "typeId") != "") {
		return TypeLayout
	}
	return TypeUnknown
}

func classifyClassifier(body map[string]any) Type {
	kind := String(body, "type")
	switch {
	case kind == "classification":
		return TypeClassifier
	case strings.HasPrefix(kind, "mapping-") && body["mapping"] != nil:
		return TypeMapper
	case kind == "":
		_, hasTransformer := body["transformer"]
		_, hasKeyTypeMap := body["keyTypeMap"]
		if hasTransformer && hasKeyTypeMap {
			return TypeOldClassifier
		}
	}
	return TypeUnknown
}

// ClassifyFile loads a file from disk and classifies it. Load errors are
// returned alongside TypeUnknown.
func ClassifyFile(filePath string) (Type, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext != ".yml" && ext != ".yaml" && ext != ".json" {
		return Classify(filePath, nil), nil
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return TypeUnknown, fmt.Errorf("reading %s: %w", filePath, err)
	}
	body, err := LoadBody(filePath, data)
	if err != nil {
		return TypeUnknown, fmt.Errorf("loading %s: %w", filePath, err)
	}
	return Classify(filePath, body), nil
}
