// Package headline canonicalizes headline text and derives the stable
// cross-source dedup key that identifies one real-world story.
package headline

import (
	"strings"
	"unicode"
)

// Normalize canonicalizes a headline for dedup comparison: lowercase, strip
// everything that is not alphanumeric or whitespace, collapse whitespace runs
// to a single space, and trim. It is pure and idempotent; an empty input
// yields an empty output, which callers must reject before keying.
func Normalize(h string) string {
	lowered := strings.ToLower(h)
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
