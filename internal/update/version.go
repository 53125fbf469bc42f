package update

import (
	"fmt"

	"github.com/adamancini/hold/internal/manifest"
)

// Version represents a cargo version.
type Version struct {
	Major      int
	Minor      int
	Patch      int
	Prerelease string
}

// ParseVersion parses a cargo version string using the same rule as the
// manifest validator: "MAJOR.MINOR.PATCH" with an optional "-suffix".
func ParseVersion(s string) (*Version, error) {
	parts, pre, ok := manifest.SplitVersion(s)
	if !ok {
		return nil, fmt.Errorf("invalid version format: %q", s)
	}

	return &Version{
		Major:      parts[0],
		Minor:      parts[1],
		Patch:      parts[2],
		Prerelease: pre,
	}, nil
}

// String returns the string representation
func (v *Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	return s
}

// Compare compares two versions by their numeric components.
// The pre-release suffix does not take part in ordering.
// Returns:
//   - 1 if v > other
//   - 0 if v == other
//   - -1 if v < other
func (v *Version) Compare(other *Version) int {
	a := [3]int{v.Major, v.Minor, v.Patch}
	b := [3]int{other.Major, other.Minor, other.Patch}
	for i := range a {
		if a[i] > b[i] {
			return 1
		}
		if a[i] < b[i] {
			return -1
		}
	}
	return 0
}

// IsGreaterThan returns true if v > other
func (v *Version) IsGreaterThan(other *Version) bool {
	return v.Compare(other) > 0
}

// IsLessThan returns true if v < other
func (v *Version) IsLessThan(other *Version) bool {
	return v.Compare(other) < 0
}

// Comparison describes how a candidate version relates to the current one.
type Comparison struct {
	Equal bool `json:"equal" yaml:"equal"`
	// Newer is set when the candidate is ahead of the current version.
	Newer bool `json:"newer" yaml:"newer"`
	// OlderExists is set when the current version is ahead of the candidate.
	OlderExists bool `json:"olderExists" yaml:"olderExists"`
}

// Compare orders a candidate version against the current version.
// Unparseable versions are incomparable and reported as an error.
func Compare(current, candidate string) (Comparison, error) {
	cur, err := ParseVersion(current)
	if err != nil {
		return Comparison{}, fmt.Errorf("invalid current version: %w", err)
	}

	cand, err := ParseVersion(candidate)
	if err != nil {
		return Comparison{}, fmt.Errorf("invalid candidate version: %w", err)
	}

	switch {
	case cand.IsGreaterThan(cur):
		return Comparison{Newer: true}, nil
	case cand.IsLessThan(cur):
		return Comparison{OlderExists: true}, nil
	}
	return Comparison{Equal: true}, nil
}
