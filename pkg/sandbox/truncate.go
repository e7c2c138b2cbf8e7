package sandbox

import (
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// TruncateOutput caps s at maxBytes without splitting a multi-byte rune,
// then NFC-normalizes the result so truncated command output is stable
// across encodings before it is hashed into a manifest or command log.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return norm.NFC.String(s)
	}

	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return norm.NFC.String(s[:cut])
}
