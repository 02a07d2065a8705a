package content

// Item is the universal content record. Parsers produce Items detached from
// any graph; the graph builder adopts them.
type Item struct {
	// Type is the content type of the item.
	Type Type `json:"type"`

	// ObjectID is the stable object id declared by the item.
	ObjectID string `json:"object_id"`

	// Name is the item name.
	Name string `json:"name"`

	// DisplayName is the human facing name, when it differs from Name.
	DisplayName string `json:"display_name,omitempty"`

	// Description is the short description of the item, if any.
	Description string `json:"description,omitempty"`

	// FromVersion is the lowest platform version supporting the item.
	FromVersion string `json:"fromversion"`

	// ToVersion is the highest platform version supporting the item.
	ToVersion string `json:"toversion"`

	// Marketplaces are the distribution channels the item ships to.
	Marketplaces []Marketplace `json:"marketplaces,omitempty"`

	// Deprecated marks items kept only for backward compatibility.
	Deprecated bool `json:"deprecated,omitempty"`

	// Support is the support tier inherited from the pack.
	Support SupportTier `json:"support,omitempty"`

	// DeclaredSupport is the item-level support override (supportlevelheader).
	DeclaredSupport string `json:"declared_support,omitempty"`

	// PackID is the id of the containing pack.
	PackID string `json:"pack_id,omitempty"`

	// Path is the repository-relative, slash-separated source path.
	Path string `json:"path,omitempty"`

	// NotInRepository marks phantom nodes synthesized for dangling references.
	NotInRepository bool `json:"not_in_repository,omitempty"`

	// Raw is the body as loaded from disk, including _x2 override keys.
	Raw map[string]any `json:"raw,omitempty"`

	Integration   *IntegrationData   `json:"integration,omitempty"`
	Script        *ScriptData        `json:"script,omitempty"`
	Playbook      *PlaybookData      `json:"playbook,omitempty"`
	Layout        *LayoutData        `json:"layout,omitempty"`
	Mapping       *MappingData       `json:"mapping,omitempty"`
	IncidentType  *IncidentTypeData  `json:"incident_type,omitempty"`
	IndicatorType *IndicatorTypeData `json:"indicator_type,omitempty"`
	Rule          *RuleData          `json:"rule,omitempty"`
	Pack          *PackData          `json:"pack,omitempty"`
	ReleaseNote   *ReleaseNoteData   `json:"release_note,omitempty"`
	TestConf      *TestConfData      `json:"test_conf,omitempty"`
	Command       *Command           `json:"command,omitempty"`
}

// NodeID returns the graph identity string for a (type, object id) pair.
func NodeID(t Type, objectID string) string {
	return string(t) + ":" + objectID
}

// ID returns the graph identity of the item.
func (i *Item) ID() string {
	return NodeID(i.Type, i.ObjectID)
}

// IsTest reports whether the item only exists to test other content.
func (i *Item) IsTest() bool {
	return i.Type == TypeTestPlaybook || i.Type == TypeTestScript
}

// InMarketplace reports whether the item ships to m.
func (i *Item) InMarketplace(m Marketplace) bool {
	ok, _ := MarketplacesSubset([]Marketplace{m}, i.Marketplaces)
	return ok
}

// Tests returns the declared test playbook ids of integrations, scripts and
// playbooks.
func (i *Item) Tests() []string {
	switch {
	case i.Integration != nil:
		return i.Integration.Tests
	case i.Script != nil:
		return i.Script.Tests
	case i.Playbook != nil:
		return i.Playbook.Tests
	}
	return nil
}

// Code returns the source code attached to integrations and scripts.
func (i *Item) Code() string {
	switch {
	case i.Integration != nil:
		return i.Integration.Code
	case i.Script != nil:
		return i.Script.Code
	}
	return ""
}

// NewPhantom builds a placeholder for a referenced item that does not
// exist in the repository.
func NewPhantom(t Type, objectID string) *Item {
	return &Item{
		Type:            t,
		ObjectID:        objectID,
		Name:            objectID,
		FromVersion:     DefaultFromVersion,
		ToVersion:       DefaultToVersion,
		Marketplaces:    append([]Marketplace(nil), AllMarketplaces...),
		NotInRepository: true,
	}
}

// Argument is a command or script argument.
type Argument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
	IsArray     bool   `json:"is_array,omitempty"`
	Deprecated  bool   `json:"deprecated,omitempty"`
}

// Output is a context output declared by a command, script or playbook.
type Output struct {
	ContextPath string `json:"context_path"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
}

// Command is an integration command record.
type Command struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Deprecated  bool       `json:"deprecated,omitempty"`
	Arguments   []Argument `json:"arguments,omitempty"`
	Outputs     []Output   `json:"outputs,omitempty"`
}

// Param is an integration configuration parameter.
type Param struct {
	Name         string `json:"name"`
	Display      string `json:"display,omitempty"`
	Type         int    `json:"type,omitempty"`
	Required     bool   `json:"required,omitempty"`
	Hidden       bool   `json:"hidden,omitempty"`
	DefaultValue any    `json:"default_value,omitempty"`
}

// IntegrationData holds integration specific attributes.
type IntegrationData struct {
	Category          string    `json:"category,omitempty"`
	Language          string    `json:"language,omitempty"`
	Subtype           string    `json:"subtype,omitempty"`
	DockerImage       string    `json:"docker_image,omitempty"`
	DockerImage45     string    `json:"docker_image_45,omitempty"`
	LongRunning       bool      `json:"long_running,omitempty"`
	IsFetch           bool      `json:"is_fetch,omitempty"`
	IsFeed            bool      `json:"is_feed,omitempty"`
	Commands          []Command `json:"commands,omitempty"`
	Configuration     []Param   `json:"configuration,omitempty"`
	DefaultClassifier string    `json:"default_classifier,omitempty"`
	DefaultMapperIn   string    `json:"default_mapper_in,omitempty"`
	DefaultMapperOut  string    `json:"default_mapper_out,omitempty"`
	Tests             []string  `json:"tests,omitempty"`
	NoTests           bool      `json:"no_tests,omitempty"`
	Code              string    `json:"-"`
	CodePath          string    `json:"code_path,omitempty"`
}

// ScriptData holds script specific attributes.
type ScriptData struct {
	Language      string     `json:"language,omitempty"`
	Subtype       string     `json:"subtype,omitempty"`
	DockerImage   string     `json:"docker_image,omitempty"`
	DockerImage45 string     `json:"docker_image_45,omitempty"`
	Args          []Argument `json:"args,omitempty"`
	Outputs       []Output   `json:"outputs,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	DependsOn     []string   `json:"depends_on,omitempty"`
	Tests         []string   `json:"tests,omitempty"`
	NoTests       bool       `json:"no_tests,omitempty"`
	Code          string     `json:"-"`
	CodePath      string     `json:"code_path,omitempty"`
}

// PlaybookData holds the task graph of a playbook.
type PlaybookData struct {
	StartTaskID string           `json:"start_task_id,omitempty"`
	Tasks       map[string]*Task `json:"tasks,omitempty"`
	Inputs      []string         `json:"inputs,omitempty"`
	Outputs     []Output         `json:"outputs,omitempty"`
	Tests       []string         `json:"tests,omitempty"`
	NoTests     bool             `json:"no_tests,omitempty"`
}

// Task is a single playbook task.
type Task struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
	Name string `json:"name,omitempty"`

	// Script is the raw task.script value, for example "Brand|||command".
	Script string `json:"script,omitempty"`

	// ScriptName is task.scriptName, a plain script reference.
	ScriptName string `json:"script_name,omitempty"`

	// SubPlaybook is the referenced playbook id, if any.
	SubPlaybook string `json:"sub_playbook,omitempty"`

	// SkipUnavailable makes the task's dependency optional.
	SkipUnavailable bool `json:"skip_unavailable,omitempty"`

	Inputs map[string]any `json:"inputs,omitempty"`

	// NextTasks maps branch label to target task ids.
	NextTasks map[string][]string `json:"next_tasks,omitempty"`

	// ErrorBranch lists the tasks reached through the error handler.
	ErrorBranch []string `json:"error_branch,omitempty"`

	// Operators are transformer and filter script names used by the task.
	Operators []string `json:"operators,omitempty"`
}

// LayoutSection is a section within a layout tab.
type LayoutSection struct {
	Name      string `json:"name,omitempty"`
	Type      string `json:"type,omitempty"`
	QueryType string `json:"query_type,omitempty"`
	Query     string `json:"query,omitempty"`
}

// LayoutTab is a tab of a layout container page.
type LayoutTab struct {
	// Page is the container key the tab belongs to (detailsV2, quickView...).
	Page     string          `json:"page"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Type     string          `json:"type,omitempty"`
	Sections []LayoutSection `json:"sections,omitempty"`
}

// LayoutData holds the structure of old layouts and layout containers.
type LayoutData struct {
	Group       string      `json:"group,omitempty"`
	Kind        string      `json:"kind,omitempty"`
	BoundType   string      `json:"bound_type,omitempty"`
	IsContainer bool        `json:"is_container,omitempty"`
	Tabs        []LayoutTab `json:"tabs,omitempty"`
}

// MappingData holds classifier and mapper attributes.
type MappingData struct {
	// Kind is the raw type value: classification, mapping-incoming or
	// mapping-outgoing. Empty for old classifiers.
	Kind                string            `json:"kind,omitempty"`
	DefaultIncidentType string            `json:"default_incident_type,omitempty"`
	KeyTypeMap          map[string]string `json:"key_type_map,omitempty"`
	MappedTypes         []string          `json:"mapped_types,omitempty"`
	Transformers        []string          `json:"transformers,omitempty"`
	Feed                bool              `json:"feed,omitempty"`
}

// IncidentTypeData holds incident type bindings.
type IncidentTypeData struct {
	Playbook string `json:"playbook,omitempty"`
	Layout   string `json:"layout,omitempty"`
}

// IndicatorTypeData holds indicator type attributes.
type IndicatorTypeData struct {
	Regex              string   `json:"regex,omitempty"`
	Details            string   `json:"details,omitempty"`
	Expiration         any      `json:"expiration,omitempty"`
	Layout             string   `json:"layout,omitempty"`
	ReputationScript   string   `json:"reputation_script,omitempty"`
	EnhancementScripts []string `json:"enhancement_scripts,omitempty"`
}

// RuleData holds parsing, modeling and correlation rule attributes.
type RuleData struct {
	Rules     string `json:"rules,omitempty"`
	Schema    string `json:"schema,omitempty"`
	RulesPath string `json:"rules_path,omitempty"`
}

// PackDependency is a dependency declared in pack metadata.
type PackDependency struct {
	Mandatory bool   `json:"mandatory"`
	Name      string `json:"display_name,omitempty"`
}

// PackData holds pack metadata.
type PackData struct {
	CurrentVersion   string                    `json:"current_version,omitempty"`
	Author           string                    `json:"author,omitempty"`
	RawSupport       string                    `json:"raw_support,omitempty"`
	Categories       []string                  `json:"categories,omitempty"`
	Tags             []string                  `json:"tags,omitempty"`
	UseCases         []string                  `json:"use_cases,omitempty"`
	Dependencies     map[string]PackDependency `json:"dependencies,omitempty"`
	MinServerVersion string                    `json:"min_server_version,omitempty"`
	Hidden           bool                      `json:"hidden,omitempty"`
	DeclaredMarkets  bool                      `json:"declared_markets,omitempty"`
}

// ReleaseNoteHeader is a "#### <Header>" line of a release note.
type ReleaseNoteHeader struct {
	Text string `json:"text"`
	Line int    `json:"line"`
}

// ReleaseNoteData holds a parsed release-note file.
type ReleaseNoteData struct {
	Version string              `json:"version"`
	Lines   []string            `json:"lines,omitempty"`
	Headers []ReleaseNoteHeader `json:"headers,omitempty"`
}

// TestEntry is a "tests" entry of the test-config manifest.
type TestEntry struct {
	PlaybookID    string   `json:"playbookID"`
	Integrations  []string `json:"integrations,omitempty"`
	Scripts       []string `json:"scripts,omitempty"`
	InstanceNames []string `json:"instance_names,omitempty"`
	Timeout       int      `json:"timeout,omitempty"`
	FromVersion   string   `json:"fromversion,omitempty"`
	ToVersion     string   `json:"toversion,omitempty"`
}

// TestConfData holds the parsed test-config manifest.
type TestConfData struct {
	Tests               []TestEntry       `json:"tests,omitempty"`
	SkippedTests        map[string]string `json:"skipped_tests,omitempty"`
	SkippedIntegrations map[string]string `json:"skipped_integrations,omitempty"`
	SchemaErrors        []string          `json:"schema_errors,omitempty"`
}
