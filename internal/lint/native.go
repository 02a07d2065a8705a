package lint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// NativeConfigPath is the repository-relative path of the native image
// configuration.
const NativeConfigPath = "Tests/docker_native_image_config.json"

// ImageTarget selects which images a package is linted against.
type ImageTarget string

const (
	TargetFromYML     ImageTarget = "from-yml"
	TargetNativeGA    ImageTarget = "native:ga"
	TargetMaintenance ImageTarget = "native:maintenance"
	TargetNativeDev   ImageTarget = "native:dev"
	TargetAll         ImageTarget = "all"
)

// ImageTargets lists the accepted targets.
var ImageTargets = []ImageTarget{TargetFromYML, TargetNativeGA, TargetMaintenance, TargetNativeDev, TargetAll}

// Valid reports whether t is a known target.
func (t ImageTarget) Valid() bool {
	return slices.Contains(ImageTargets, t)
}

// NativeImage is one native image and the images it can stand in for.
type NativeImage struct {
	DockerRef       string   `json:"docker_ref"`
	SupportedImages []string `json:"supported_docker_images"`
}

// IgnoredItem excludes a content item from some native images.
type IgnoredItem struct {
	ID           string   `json:"id"`
	Reason       string   `json:"reason"`
	NativeImages []string `json:"ignored_native_images"`
}

// NativeImageConfig is the native image configuration of a repository.
type NativeImageConfig struct {
	NativeImages map[string]NativeImage `json:"native_images"`
	Ignored      []IgnoredItem          `json:"ignored_content_items"`
	// FlagsVersions maps a target flag like native:ga to a native image key.
	FlagsVersions map[string]string `json:"flags_versions_mapping"`
}

// LoadNativeImageConfig reads the configuration below repoRoot. A missing
// file yields an empty configuration.
func LoadNativeImageConfig(repoRoot string) (*NativeImageConfig, error) {
	data, err := os.ReadFile(filepath.Join(repoRoot, filepath.FromSlash(NativeConfigPath)))
	if errors.Is(err, fs.ErrNotExist) {
		return &NativeImageConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading native image config: %w", err)
	}
	var cfg NativeImageConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", NativeConfigPath, err)
	}
	return &cfg, nil
}

// imageName strips the organization and tag: demisto/python3:3.10.1 is
// python3.
func imageName(image string) string {
	name := image
	if i := strings.LastIndex(name, ":"); i > strings.LastIndex(name, "/") {
		name = name[:i]
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// ignored reports whether item id must not run on the native image key.
func (c *NativeImageConfig) ignored(id, key string) bool {
	for _, it := range c.Ignored {
		if it.ID == id && slices.Contains(it.NativeImages, key) {
			return true
		}
	}
	return false
}

// Supported returns the native image keys that can run item id whose own
// image is image, in sorted order.
func (c *NativeImageConfig) Supported(id, image string) []string {
	if c == nil {
		return nil
	}
	name := imageName(image)
	var keys []string
	for key, native := range c.NativeImages {
		if slices.Contains(native.SupportedImages, name) && !c.ignored(id, key) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

// ResolveTarget returns the native image reference for a native target
// flag, or "" when item id cannot run on it.
func (c *NativeImageConfig) ResolveTarget(target ImageTarget, id, image string) string {
	if c == nil {
		return ""
	}
	key, ok := c.FlagsVersions[string(target)]
	if !ok {
		return ""
	}
	if !slices.Contains(c.Supported(id, image), key) {
		return ""
	}
	return c.NativeImages[key].DockerRef
}

// Images returns the images to lint item id against for target, given the
// images its yml declares.
func (c *NativeImageConfig) Images(target ImageTarget, id string, ymlImages []string) []string {
	switch target {
	case TargetFromYML, "":
		return ymlImages
	case TargetAll:
		out := slices.Clone(ymlImages)
		for _, t := range []ImageTarget{TargetNativeGA, TargetMaintenance, TargetNativeDev} {
			for _, img := range ymlImages {
				if ref := c.ResolveTarget(t, id, img); ref != "" && !slices.Contains(out, ref) {
					out = append(out, ref)
				}
			}
		}
		return out
	}
	var out []string
	for _, img := range ymlImages {
		if ref := c.ResolveTarget(target, id, img); ref != "" && !slices.Contains(out, ref) {
			out = append(out, ref)
		}
	}
	return out
}
