package strx

import "strings"

// Coalesce returns s if non-empty, otherwise d.
func Coalesce(s, d string) string {
	if s == "" {
		return d
	}
	return s
}

// Strip trims leading and trailing whitespace from a control buffer.
func Strip(s string) string { return strings.TrimSpace(s) }
