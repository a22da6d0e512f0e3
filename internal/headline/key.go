package headline

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	apperrors "github.com/pulsewire/newsfuse/pkg/errors"
)

// KeyLength is the number of hex characters in a dedup key.
const KeyLength = 32

// dateLen is the calendar-date prefix of a publish timestamp. Truncating to
// the date is a deliberate tie-break: two reports of the same story on the
// same calendar day dedup together; reports straddling a midnight boundary
// do not.
const dateLen = 10

// DedupKey derives the stable cross-source identity key for a headline and
// publish timestamp: the first 32 hex characters of
// SHA-256(normalize(headline) + "|" + publishDate[:10]). Before normalizing,
// a trailing " - <source>" decoration that wire services append to headlines
// is stripped, so "Apple Reports Q4 Earnings Beat - Reuters" and
// "apple reports q4 earnings beat" key identically. The result is stable
// across process restarts. It returns ErrMalformedHeadline when the headline
// normalizes to the empty string.
func DedupKey(headline, publishDate string) (string, error) {
	normalized := Normalize(stripSourceTag(headline))
	if normalized == "" {
		return "", apperrors.ErrMalformedHeadline
	}
	if len(publishDate) > dateLen {
		publishDate = publishDate[:dateLen]
	}
	sum := sha256.Sum256([]byte(normalized + "|" + publishDate))
	return hex.EncodeToString(sum[:])[:KeyLength], nil
}

// stripSourceTag removes the final " - tail" segment of a headline. Only the
// last segment is dropped; earlier separators are treated as story text. The
// strip applies to key derivation only, never to the stored display headline.
func stripSourceTag(h string) string {
	if i := strings.LastIndex(h, " - "); i > 0 {
		return h[:i]
	}
	return h
}
