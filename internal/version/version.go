// Package version parses and orders dotted numeric package versions.
package version

import "strings"

// Version is a package version as written in a descriptor
type Version struct {
	Raw  string
	base string
	// decimal digit strings with leading zeros removed
	components []string
}

// Parse derives the base version and the numeric components of raw.
// It never fails: a version without any leading digits has no components.
func Parse(raw string) Version {
	return Version{
		Raw:        raw,
		base:       Base(raw),
		components: components(Base(raw)),
	}
}

// Base strips the build suffix (from the first '+') and then the pre-release
// suffix (from the first '-').
func Base(raw string) string {
	base := raw
	if i := strings.IndexByte(base, '+'); i >= 0 {
		base = base[:i]
	}
	if i := strings.IndexByte(base, '-'); i >= 0 {
		base = base[:i]
	}
	return base
}

// Base returns the version with build and pre-release suffixes removed
func (v Version) Base() string {
	return v.base
}

// String returns the raw version
func (v Version) String() string {
	return v.Raw
}

// GreaterThan reports whether v orders strictly after other
func (v Version) GreaterThan(other Version) bool {
	return Compare(v, other) > 0
}

// Compare returns -1, 0 or 1 depending on whether a orders before, equal to or
// after b. Components are compared numerically left to right; when one
// sequence is a prefix of the other, the longer one is greater.
func Compare(a, b Version) int {
	n := len(a.components)
	if len(b.components) < n {
		n = len(b.components)
	}

	for i := 0; i < n; i++ {
		if c := compareDigits(a.components[i], b.components[i]); c != 0 {
			return c
		}
	}

	switch {
	case len(a.components) > len(b.components):
		return 1
	case len(a.components) < len(b.components):
		return -1
	default:
		return 0
	}
}

// CompareStrings parses and compares two raw version strings
func CompareStrings(a, b string) int {
	return Compare(Parse(a), Parse(b))
}

// components splits base on '.' and keeps the leading digits of each part.
// Empty parts are skipped; a part that does not start with a digit ends the
// sequence.
func components(base string) []string {
	var result []string
	for _, part := range strings.Split(base, ".") {
		if part == "" {
			continue
		}

		end := 0
		for end < len(part) && part[end] >= '0' && part[end] <= '9' {
			end++
		}
		if end == 0 {
			break
		}

		digits := strings.TrimLeft(part[:end], "0")
		if digits == "" {
			digits = "0"
		}
		result = append(result, digits)
	}
	return result
}

// compareDigits orders two normalized decimal strings of arbitrary length
func compareDigits(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
