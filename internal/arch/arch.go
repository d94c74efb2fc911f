// Package arch maps free-form architecture strings onto the canonical set
// used as repository directory names.
package arch

import (
	"errors"
	"fmt"
	"strings"
)

// Canonical architecture identifiers
const (
	X86_64  = "x86_64"
	AArch64 = "aarch64"
	I386    = "i386"
)

// ErrUnknownArchitecture is returned when no heuristic matches
var ErrUnknownArchitecture = errors.New("unknown architecture")

// IsCanonical reports whether raw passes validation without any heuristic.
// i386 is only ever produced by the heuristics.
func IsCanonical(raw string) bool {
	return raw == X86_64 || raw == AArch64
}

// IsKnown reports whether raw is one of the canonical identifiers,
// including those only reachable through heuristics
func IsKnown(raw string) bool {
	return IsCanonical(raw) || raw == I386
}

// Normalize returns the canonical architecture for raw. The boolean is true
// when a substring heuristic had to be applied, which means the package did
// not pass canonical validation.
func Normalize(raw string) (string, bool, error) {
	if IsCanonical(raw) {
		return raw, false, nil
	}

	switch {
	case strings.Contains(raw, "amd"):
		return X86_64, true, nil
	case strings.Contains(raw, "x86"):
		return I386, true, nil
	case strings.Contains(raw, "arm"), strings.Contains(raw, "aarch"):
		return AArch64, true, nil
	}

	return "", false, fmt.Errorf("%w: %q", ErrUnknownArchitecture, raw)
}
