package domain

import (
	"strings"
	"unicode"
)

const fallbackFilename = "image"

// SanitizeFilename lower-cases name, turns whitespace runs into a single
// underscore and drops every character outside [a-z0-9._-]. Leading dots
// are removed so the result never addresses a parent or hidden path.
func SanitizeFilename(name string) string {
	var b strings.Builder
	inSpace := false

	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('_')
			}
			inSpace = true
			continue
		}
		inSpace = false

		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}

	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return fallbackFilename
	}

	return out
}
