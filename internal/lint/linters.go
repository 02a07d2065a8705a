package lint

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/Benny93/contentgraph/internal/content"
)

// Tool names one linter of the ensemble.
type Tool string

const (
	ToolFlake8      Tool = "flake8"
	ToolBandit      Tool = "bandit"
	ToolMypy        Tool = "mypy"
	ToolPytest      Tool = "pytest"
	ToolPylint      Tool = "pylint"
	ToolImage       Tool = "image"
	ToolVulture     Tool = "vulture"
	ToolPwshAnalyze Tool = "pwsh-analyze"
	ToolPwshTest    Tool = "pwsh-test"
)

// Bit returns the exit code bit of t.
func (t Tool) Bit() int {
	switch t {
	case ToolFlake8:
		return 1
	case ToolBandit:
		return 2
	case ToolMypy:
		return 4
	case ToolPytest:
		return 8
	case ToolPylint:
		return 16
	case ToolImage:
		return 32
	case ToolVulture:
		return 64
	case ToolPwshAnalyze:
		return 128
	case ToolPwshTest:
		return 256
	}
	return 0
}

// AllTools lists the tools in bit order.
var AllTools = []Tool{
	ToolFlake8, ToolBandit, ToolMypy, ToolPytest, ToolPylint,
	ToolImage, ToolVulture, ToolPwshAnalyze, ToolPwshTest,
}

// Bits ORs the bits of tools.
func Bits(tools ...Tool) int {
	code := 0
	for _, t := range tools {
		code |= t.Bit()
	}
	return code
}

// Status is the outcome of one tool run.
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusSkip  Status = "skip"
	statusRerun Status = "rerun"
)

const (
	// workDir is where the package is mounted in the container.
	workDir = "/devwork"
	// pluginsDir holds the support level pylint checkers.
	pluginsDir = "/devwork-plugins"
	// reportDir receives junit reports.
	reportDir = "/devwork-report"
)

// stubFiles are excluded by linters that walk the package.
var stubFiles = []string{"CommonServerPython.py", "demistomock.py", "CommonServerUserPython.py", "conftest.py", "venv"}

// checkerTiers lists the pylint checkers enabled per support tier; each
// tier adds to the previous one.
var checkerTiers = []struct {
	tier    content.SupportTier
	checker string
}{
	{content.SupportBase, "base_checker"},
	{content.SupportCommunity, "community_level_checker"},
	{content.SupportPartner, "partner_level_checker"},
	{content.SupportCertifiedPartner, "certified_partner_level_checker"},
	{content.SupportXSOAR, "xsoar_level_checker"},
}

// Checkers returns the pylint plugins for tier.
func Checkers(tier content.SupportTier) []string {
	rank := tier.Rank()
	if rank < 0 {
		rank = 0
	}
	var out []string
	for _, c := range checkerTiers {
		if c.tier.Rank() <= rank {
			out = append(out, c.checker)
		}
	}
	return out
}

// linter describes how to run one tool and read its exit code.
type linter struct {
	tool      Tool
	language  Language
	command   func(job *job) string
	interpret func(code int) Status
	// enabled reports whether the tool applies to the package.
	enabled func(p *Package, python string) bool
	// tests marks unit test runners, bounded by the test timeout.
	tests bool
}

// job is one tool run against one image.
type job struct {
	pkg        *Package
	image      TestImage
	vulture    int
	hasPlugins bool
	testXML    bool
}

func (j *job) files() string {
	quoted := make([]string, len(j.pkg.LintFiles))
	for i, f := range j.pkg.LintFiles {
		quoted[i] = shellQuote(f)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func zeroPasses(code int) Status {
	if code == 0 {
		return StatusPass
	}
	return StatusFail
}

// pylintStatus reads the pylint bit-encoded exit status: fatal and error
// messages fail, a usage error is retried and the rest pass.
func pylintStatus(code int) Status {
	switch {
	case code&3 != 0:
		return StatusFail
	case code&32 != 0:
		return statusRerun
	}
	return StatusPass
}

// pytestStatus passes when all tests pass or none were collected and
// retries internal and usage errors.
func pytestStatus(code int) Status {
	switch code {
	case 0, 5:
		return StatusPass
	case 3, 4:
		return statusRerun
	}
	return StatusFail
}

func always(*Package, string) bool { return true }

func python3Only(_ *Package, python string) bool { return !strings.HasPrefix(python, "2.") }

var linters = []linter{
	{
		tool:     ToolFlake8,
		language: LanguagePython,
		command: func(j *job) string {
			return "python -m flake8 --max-line-length 130 " + j.files()
		},
		interpret: zeroPasses,
		enabled:   always,
	},
	{
		tool:     ToolBandit,
		language: LanguagePython,
		command: func(j *job) string {
			return "python -m bandit -ll -iii -s B301,B303,B310,B314,B318,B410 -q --format custom " +
				"--msg-template '{abspath}:{line}: {test_id} [Severity: {severity} Confidence: {confidence}] {msg}' " +
				"-r " + j.files()
		},
		interpret: zeroPasses,
		enabled:   python3Only,
	},
	{
		tool:     ToolMypy,
		language: LanguagePython,
		command: func(j *job) string {
			return "python -m mypy --python-version " + j.image.Python +
				" --check-untyped-defs --ignore-missing-imports --follow-imports=silent --show-column-numbers" +
				" --show-error-codes --pretty --allow-redefinition --cache-dir=/dev/null " + j.files()
		},
		interpret: zeroPasses,
		enabled:   python3Only,
	},
	{
		tool:     ToolVulture,
		language: LanguagePython,
		command: func(j *job) string {
			return fmt.Sprintf("python -m vulture --min-confidence %d --exclude=%s %s",
				j.vulture, strings.Join(stubFiles, ","), j.files())
		},
		interpret: zeroPasses,
		enabled:   always,
	},
	{
		tool:     ToolPylint,
		language: LanguagePython,
		command: func(j *job) string {
			cmd := "python -m pylint --ignore=" + strings.Join(stubFiles, ",") +
				" -E --disable=bad-option-value -d duplicate-string-formatting-argument" +
				" --msg-template='{path}:{line}:{column}: {msg_id} {obj}: {msg}'"
			if j.hasPlugins {
				cmd += " --load-plugins " + strings.Join(Checkers(j.pkg.Support), ",")
			}
			return cmd + " " + j.files()
		},
		interpret: pylintStatus,
		enabled:   always,
	},
	{
		tool:     ToolPytest,
		language: LanguagePython,
		command: func(j *job) string {
			cmd := "python -m pytest -ra -p no:cacheprovider"
			if j.testXML {
				cmd += " --junitxml=" + path.Join(reportDir, j.pkg.Name+"_pytest.xml")
			}
			return cmd
		},
		interpret: pytestStatus,
		enabled:   func(p *Package, _ string) bool { return p.HasTests },
		tests:     true,
	},
	{
		tool:     ToolPwshAnalyze,
		language: LanguagePowershell,
		command: func(*job) string {
			return "pwsh -Command Invoke-ScriptAnalyzer -EnableExit -Severity Error -Path ."
		},
		interpret: zeroPasses,
		enabled:   always,
	},
	{
		tool:     ToolPwshTest,
		language: LanguagePowershell,
		command: func(*job) string {
			return `pwsh -Command Invoke-Pester -Configuration '@{Run=@{Exit=$true}; Output=@{Verbosity="Detailed"}}'`
		},
		interpret: zeroPasses,
		enabled:   func(p *Package, _ string) bool { return p.HasTests },
		tests:     true,
	},
}

// lintersFor returns the linters of lang, in run order.
func lintersFor(lang Language) []linter {
	var out []linter
	for _, l := range linters {
		if l.language == lang {
			out = append(out, l)
		}
	}
	return out
}

// toolsFor returns the tools that apply to lang.
func toolsFor(lang Language) []Tool {
	var out []Tool
	for _, l := range lintersFor(lang) {
		out = append(out, l.tool)
	}
	return out
}

// pylintEnv is passed to the support level checkers, which read no
// arguments.
func pylintEnv(p *Package, python string) map[string]string {
	env := map[string]string{"is_script": "False"}
	if p.IsScript {
		env["is_script"] = "True"
	}
	if p.LongRunning {
		env["LONGRUNNING"] = "True"
	}
	if strings.HasPrefix(python, "2.") {
		env["PY2"] = "True"
	}
	if !p.IsScript {
		env["commands"] = strings.Join(slices.DeleteFunc(slices.Clone(p.Commands), func(s string) bool { return s == "" }), ",")
	}
	return env
}
