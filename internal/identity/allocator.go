// Package identity holds the pure domain core of the enrollment and
// verification engine: id allocation, the same-person policy, the running
// mean centroid update and the nearest-centroid matcher. Nothing here
// touches storage.
package identity

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// BaseLength is the fixed length of an id base: two letters from the
	// family name plus three from the given name.
	BaseLength = 5

	// MaxSuffix is the capacity of one id base; suffixes run 001-999.
	MaxSuffix = 999
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// normalizeNamePart strips diacritics and drops everything that is not a
// letter. Non-Latin scripts pass through, so a Cyrillic or CJK name
// yields an id in that script.
func normalizeNamePart(s string) string {
	s = RemoveDiacritics(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return r
		}
		return -1
	}, s)
}

// Base derives the 5-character id base for a name: first and last letter
// of the family name followed by the first three letters of the given
// name, padded with 'X' when the given name is shorter than three letters.
// The base is intentionally human-decodable (initials-based) rather than a
// random token; e.g. ("Min", "Kim") -> "KmMin".
func Base(givenName, familyName string) (string, error) {
	given := normalizeNamePart(givenName)
	family := normalizeNamePart(familyName)
	if given == "" || family == "" {
		return "", ErrInvalidName
	}

	fr := []rune(family)
	gr := []rune(given)

	var b strings.Builder
	b.WriteRune(fr[0])
	b.WriteRune(fr[len(fr)-1])
	if len(gr) >= 3 {
		b.WriteString(string(gr[:3]))
	} else {
		b.WriteString(string(gr))
		b.WriteString(strings.Repeat("X", 3-len(gr)))
	}
	return b.String(), nil
}

// NextSuffix returns the suffix for a new identity given how many ids
// already share the base. Fails with ErrAllocationExhausted past MaxSuffix.
func NextSuffix(existing int) (int, error) {
	if existing >= MaxSuffix {
		return 0, ErrAllocationExhausted
	}
	return existing + 1, nil
}

// FormatID combines a base and a numeric suffix into the final id,
// e.g. ("KmMin", 1) -> "KmMin001".
func FormatID(base string, suffix int) string {
	return fmt.Sprintf("%s%03d", base, suffix)
}
