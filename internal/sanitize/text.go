package sanitize

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// TextOptions bounds text sanitization.
type TextOptions struct {
	MaxLength int // byte ceiling after stripping; 0 means the default
}

// DefaultMaxTextLength is the downstream storage ceiling for extracted text.
const DefaultMaxTextLength = 51200

// Text normalizes raw extracted text for trusted storage: bytes that are not
// valid UTF-8 are re-read as Latin-1, NUL and unsafe control characters are
// stripped, and the result is truncated to the byte ceiling without ever
// splitting a multi-byte sequence.
func Text(raw []byte, opts TextOptions) string {
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxTextLength
	}

	s := decodeText(raw)
	s = stripControl(s)
	return truncateUTF8(s, opts.MaxLength)
}

// decodeText interprets raw as UTF-8, falling back to Latin-1 when the bytes
// are not valid UTF-8. Latin-1 maps every byte, so the fallback never fails.
func decodeText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		// Unreachable for ISO 8859-1, but stay safe.
		return strings.ToValidUTF8(string(raw), "")
	}
	return string(decoded)
}

// stripControl removes NUL and control characters unsafe for downstream
// storage, keeping tab, newline and carriage return.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\r':
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// truncateUTF8 cuts s to at most maxBytes without splitting a rune.
func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
