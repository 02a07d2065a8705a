package content

import (
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

const (
	// DefaultFromVersion applies when an item declares no fromversion.
	DefaultFromVersion = "0.0.0"

	// DefaultToVersion applies when an item declares no toversion.
	DefaultToVersion = "99.99.99"

	// SupportedVersionFloor is the lowest platform version still supported.
	// Queries asked to focus on supported versions ignore items whose
	// toversion is below it.
	SupportedVersionFloor = "6.10.0"
)

// semverOf converts a content version ("6.10.0") into the form expected by
// golang.org/x/mod/semver ("v6.10.0").
func semverOf(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// CompareVersions returns -1, 0 or +1 comparing a and b. Invalid versions
// compare lower than any valid one, matching semver.Compare.
func CompareVersions(a, b string) int {
	return semver.Compare(semverOf(a), semverOf(b))
}

// VersionLess reports whether a < b.
func VersionLess(a, b string) bool {
	return CompareVersions(a, b) < 0
}

// IsStrictVersion reports whether v is exactly three dot-separated
// non-negative integers.
func IsStrictVersion(v string) bool {
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		if _, err := strconv.ParseUint(p, 10, 32); err != nil {
			return false
		}
	}
	return semver.IsValid(semverOf(v))
}

// NormalizeVersion returns v in MAJOR.MINOR.PATCH form when it is a valid
// (possibly abbreviated) version, and v unchanged otherwise.
func NormalizeVersion(v string) string {
	c := semver.Canonical(semverOf(v))
	if c == "" {
		return v
	}
	return strings.TrimPrefix(c, "v")
}

// VersionFromFileName converts a release-note file name such as "1_2_3.md"
// into "1.2.3".
func VersionFromFileName(name string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(name, ".md"), ".json")
	return strings.ReplaceAll(base, "_", ".")
}
