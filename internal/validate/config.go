package validate

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/Benny93/contentgraph/internal/content"
)

// DefaultConfigFile is the validation config looked up at the repository root.
const DefaultConfigFile = "validation_config.toml"

// ErrConfig is returned when the validation config cannot be used.
var ErrConfig = errors.New("invalid validation config")

// ModeConfig selects the codes of one config section.
type ModeConfig struct {
	// Select lists the enabled codes or code prefixes. Empty enables all.
	Select []string `toml:"select"`
	// Warning lists the codes reported as warnings instead of failures.
	Warning []string `toml:"warning"`
}

// SupportLevelConfig lists the codes ignored for a support tier.
type SupportLevelConfig struct {
	Ignore []string `toml:"ignore"`
}

// Config is the content of validation_config.toml.
type Config struct {
	UseGit    ModeConfig `toml:"use_git"`
	PathBased ModeConfig `toml:"path_based_validations"`

	IgnorableErrors struct {
		Codes []string `toml:"codes"`
	} `toml:"ignorable_errors"`

	SupportLevel map[string]SupportLevelConfig `toml:"support_level"`
}

// LoadConfig reads a validation config. A missing file yields an empty
// config unless required is set.
func LoadConfig(path string, required bool) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !required {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfig, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("%w: %s: unknown keys %s", ErrConfig, path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// ParseConfig decodes a validation config from TOML text.
func ParseConfig(data string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return cfg, nil
}

// Section returns the section applying to mode.
func (c *Config) Section(mode Mode) ModeConfig {
	if c == nil {
		return ModeConfig{}
	}
	if mode == ModeUseGit {
		return c.UseGit
	}
	return c.PathBased
}

// Selected reports whether code is enabled in mode.
func (c *Config) Selected(mode Mode, code string) bool {
	sel := c.Section(mode).Select
	return len(sel) == 0 || matchesAny(code, sel)
}

// IsWarning reports whether code is reported as a warning in mode.
func (c *Config) IsWarning(mode Mode, code string) bool {
	return matchesAny(code, c.Section(mode).Warning)
}

// Ignorable reports whether .pack-ignore may silence code. Every code is
// ignorable when the config does not list any.
func (c *Config) Ignorable(code string) bool {
	if c == nil || len(c.IgnorableErrors.Codes) == 0 {
		return true
	}
	return slices.Contains(c.IgnorableErrors.Codes, code)
}

// IgnoredForSupport reports whether code is disabled for items of tier.
func (c *Config) IgnoredForSupport(tier content.SupportTier, code string) bool {
	if c == nil || tier == "" {
		return false
	}
	level, ok := c.SupportLevel[string(tier)]
	return ok && matchesAny(code, level.Ignore)
}

// matchesAny reports whether code starts with one of the selectors.
func matchesAny(code string, selectors []string) bool {
	for _, s := range selectors {
		if s = strings.TrimSpace(s); s != "" && strings.HasPrefix(code, s) {
			return true
		}
	}
	return false
}
