package db

import (
	"strings"
	"unicode/utf8"
)

// StorableText returns value in a form a Postgres text column accepts.
// Invalid UTF-8 becomes U+FFFD and NUL bytes are dropped. When maxBytes is
// positive the result is cut to at most maxBytes on a character boundary.
func StorableText(value string, maxBytes int) string {
	clean := strings.ReplaceAll(strings.ToValidUTF8(value, "\uFFFD"), "\x00", "")
	if maxBytes <= 0 || len(clean) <= maxBytes {
		return clean
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(clean[cut]) {
		cut--
	}
	return clean[:cut]
}
