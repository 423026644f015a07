package domain

import (
	"fmt"
	"slices"
)

// APIVersion names a version of the intake API. Values come from ParseAPIVersion
// or the declared constants; the zero value means "not set".
type APIVersion string

const APIVersionV1 APIVersion = "v1"

// knownVersions lists versions oldest first; position is the ordering.
var knownVersions = []APIVersion{APIVersionV1}

func ParseAPIVersion(s string) (APIVersion, error) {
	v := APIVersion(s)
	if !slices.Contains(knownVersions, v) {
		return "", fmt.Errorf("unknown API version: %q", s)
	}
	return v, nil
}

func (v APIVersion) String() string {
	return string(v)
}

func (v APIVersion) IsNil() bool {
	return v == ""
}

// IsAtLeast reports whether v is the same as or newer than other. An unknown v is
// never at least anything; any known v is at least an unknown other.
func (v APIVersion) IsAtLeast(other APIVersion) bool {
	vi := slices.Index(knownVersions, v)
	if vi < 0 {
		return false
	}
	return vi >= slices.Index(knownVersions, other)
}

// DefaultVersion is the version new intake tokens are minted for.
func DefaultVersion() APIVersion {
	return knownVersions[len(knownVersions)-1]
}
