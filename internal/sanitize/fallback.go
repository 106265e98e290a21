package sanitize

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"

	perrors "github.com/fileworks/previewd/internal/errors"
)

// DefaultMinPrintableRatio is the fraction of printable runes required before
// unrecognized bytes may pass as text.
const DefaultMinPrintableRatio = 0.99

// FallbackText decides whether bytes of an unrecognized format may be treated
// as text at all, and if so sanitizes them. Binary content is rejected with a
// terminal error; retrying cannot change the content.
func FallbackText(raw []byte, minPrintable float64, opts TextOptions) (string, error) {
	if minPrintable <= 0 || minPrintable > 1 {
		minPrintable = DefaultMinPrintableRatio
	}
	if len(raw) == 0 {
		return "", nil
	}

	mtype := mimetype.Detect(raw)
	if !isTextual(mtype) {
		return "", perrors.SanitizeRejection("binary content cannot pass as text: " + mtype.String())
	}

	s := Text(raw, opts)
	if ratio := printableRatio(s); ratio < minPrintable {
		return "", perrors.SanitizeRejection(
			fmt.Sprintf("printable ratio %.3f below threshold %.3f", ratio, minPrintable))
	}
	return s, nil
}

// isTextual walks the detected type and its ancestors looking for text/plain.
func isTextual(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return strings.HasPrefix(mtype.String(), "text/")
}

// printableRatio reports the fraction of runes that are printable or benign
// whitespace.
func printableRatio(s string) float64 {
	if s == "" {
		return 1
	}
	total, printable := 0, 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || r == '\n' || r == '\t' || r == '\r' {
			printable++
		}
	}
	return float64(printable) / float64(total)
}
