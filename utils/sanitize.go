package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	sanitizer = bluemonday.UGCPolicy()
	stripper  = bluemonday.StrictPolicy()
)

const sanitizeRounds = 4

// Sanitize cleans HTML content to prevent XSS attacks. Allowed markup is kept,
// plain text is stored unescaped so "Tom & Jerry" stays as typed.
func Sanitize(input string) string {
	out := input
	// unescaping may expose markup that was hidden in entities, so clean until stable
	for i := 0; i < sanitizeRounds; i++ {
		plain := html.UnescapeString(sanitizer.Sanitize(out))
		if plain == out {
			return strings.TrimSpace(plain)
		}
		out = plain
	}
	return strings.TrimSpace(sanitizer.Sanitize(out))
}

// StripTags removes all markup, for short plain fields like listing names and tag text.
func StripTags(input string) string {
	return strings.TrimSpace(html.UnescapeString(stripper.Sanitize(input)))
}
