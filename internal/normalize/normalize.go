// Package normalize canonicalizes identifiers and free text so that values
// coming from different spreadsheets compare equal regardless of punctuation,
// accents or case.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// aggregateMarkers are labels that spreadsheet exports put on summary rows.
var aggregateMarkers = map[string]struct{}{
	"total":       {},
	"totales":     {},
	"subtotal":    {},
	"suma":        {},
	"sumatoria":   {},
	"resumen":     {},
	"consolidado": {},
}

// ID returns the canonical form of a national identifier: punctuation and
// spaces removed, leading zeros dropped, letters upper-cased. A dash in front
// of the final check character is kept. "12.345.678-9", "12345678-9" and
// " 12345678-9 " all map to "12345678-9"; "12345678k" maps to "12345678K".
func ID(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	dashed, pending := false, false
	for _, r := range raw {
		switch {
		case r < unicode.MaxASCII && (unicode.IsDigit(r) || unicode.IsLetter(r)):
			dashed, pending = pending, false
			b.WriteRune(unicode.ToUpper(r))
		case r == '-':
			pending = b.Len() > 0
		}
	}

	s := b.String()
	if !dashed || len(s) < 2 {
		return strings.TrimLeft(s, "0")
	}
	body := strings.TrimLeft(s[:len(s)-1], "0")
	if body == "" {
		return s[len(s)-1:]
	}
	return body + "-" + s[len(s)-1:]
}

// Text lower-cases s, strips diacritics and collapses every run of
// non-alphanumeric characters into a single space.
func Text(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	var b strings.Builder
	b.Grow(len(stripped))
	space := false
	for _, r := range strings.ToLower(stripped) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

func IDsEqual(a, b string) bool {
	return ID(a) == ID(b)
}

func TextsEqual(a, b string) bool {
	return Text(a) == Text(b)
}

// IsValidIdentifier reports whether raw can identify an employee row. Nil,
// blank, "nan" and aggregate row labels ("Total", "Subtotal general", ...)
// are rejected.
func IsValidIdentifier(raw *string) bool {
	if raw == nil {
		return false
	}
	return ValidIdentifier(*raw)
}

// ValidIdentifier is IsValidIdentifier for a non-nil string.
func ValidIdentifier(raw string) bool {
	text := Text(raw)
	if text == "" || text == "nan" {
		return false
	}
	first := text
	if i := strings.IndexByte(text, ' '); i >= 0 {
		first = text[:i]
	}
	if _, ok := aggregateMarkers[first]; ok {
		return false
	}
	return ID(raw) != ""
}
