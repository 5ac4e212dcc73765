package domain

import (
	"strings"

	"golang.org/x/mod/semver"
)

// FormatVersion is written into every export as the network-level "version"
// attribute.
const FormatVersion = "v1.3.0"

// PositionalSeriesVersion is the first format version whose hierarchical
// series tables address entities by position instead of by name.
const PositionalSeriesVersion = "v1.1.0"

// CanonicalVersion normalises "1.2", "v1.2.0" and similar spellings to the
// semver form used for comparison. Unparseable input yields "".
func CanonicalVersion(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}

// OlderThan reports whether version raw predates ref. A missing or invalid
// version counts as older.
func OlderThan(raw, ref string) bool {
	v := CanonicalVersion(raw)
	if v == "" {
		return true
	}
	return semver.Compare(v, CanonicalVersion(ref)) < 0
}
