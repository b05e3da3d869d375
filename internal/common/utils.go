package common

import "strings"

// HasAny returns true if s contains any of the substrings, ignoring case.
func HasAny(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// CollapseSpace trims s and replaces every run of whitespace (including
// newlines and tabs) with a single space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CleanCell normalizes a table cell: whitespace collapsed and the source's
// "-" marker for missing data turned into the empty string.
func CleanCell(s string) string {
	s = CollapseSpace(s)
	if s == "-" {
		return ""
	}
	return s
}

var layoutStripper = strings.NewReplacer("\n", "", "\r", "", "\t", "")

// StripLayout removes the newlines and tabs markup indentation leaves inside
// free-text cells, keeping ordinary spaces.
func StripLayout(s string) string {
	s = strings.TrimSpace(layoutStripper.Replace(s))
	if s == "-" {
		return ""
	}
	return s
}
