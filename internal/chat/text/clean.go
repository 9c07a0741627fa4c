// Package text normalizes chat payloads before they are propagated to other clients.
package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Clean - returns single-line printable representation of s:
// invalid unicode sequences and control characters are dropped,
// continuous EOLs and other whitespace are replaced with single space,
// trailing line breaks are removed.
func Clean(s string) string {
	s = strings.TrimRight(s, "\r\n")
	if isClean(s) {
		return s
	}

	b := strings.Builder{}
	b.Grow(len(s))
	var prev rune
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == utf8.RuneError && size <= 1:
			// drop
			continue
		case r == '\n' || r == '\r':
			if prev != '\n' && prev != '\r' {
				b.WriteByte(' ')
			}
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case unicode.IsControl(r):
			// drop
			continue
		default:
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}

func isClean(s string) bool {
	for _, r := range s {
		if r == utf8.RuneError || r != ' ' && (unicode.IsSpace(r) || unicode.IsControl(r)) {
			return false
		}
	}
	return true
}
