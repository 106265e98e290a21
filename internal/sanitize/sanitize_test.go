package sanitize

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func TestImageProducesCanonicalPNG(t *testing.T) {
	raw := encodePNG(t, testImage(800, 600))

	out, err := Image(raw, ImageOptions{Width: 400, Height: 300})
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 400, img.Bounds().Dx())
	assert.Equal(t, 300, img.Bounds().Dy())
}

func TestImageDropsTrailingBytes(t *testing.T) {
	raw := encodePNG(t, testImage(100, 100))
	payload := []byte("EXFILTRATED-SECRET-DATA")
	tampered := append(append([]byte{}, raw...), payload...)

	out, err := Image(tampered, ImageOptions{Width: 50, Height: 50})
	require.NoError(t, err)
	assert.False(t, bytes.Contains(out, payload), "appended bytes must not survive re-encoding")
}

func TestImageReencodeIsIdempotent(t *testing.T) {
	raw := encodePNG(t, testImage(400, 300))

	once, err := Image(raw, ImageOptions{Width: 400, Height: 300})
	require.NoError(t, err)
	twice, err := Image(once, ImageOptions{Width: 400, Height: 300})
	require.NoError(t, err)

	// PNG is lossless, so pixel content is stable across a second pass.
	imgA, _, err := image.Decode(bytes.NewReader(once))
	require.NoError(t, err)
	imgB, _, err := image.Decode(bytes.NewReader(twice))
	require.NoError(t, err)
	require.Equal(t, imgA.Bounds(), imgB.Bounds())
	for y := imgA.Bounds().Min.Y; y < imgA.Bounds().Max.Y; y += 17 {
		for x := imgA.Bounds().Min.X; x < imgA.Bounds().Max.X; x += 17 {
			assert.Equal(t, imgA.At(x, y), imgB.At(x, y))
		}
	}
}

func TestImageRejectsUndecodable(t *testing.T) {
	_, err := Image([]byte("not an image at all"), ImageOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undecodable")
}

func TestImageRejectsOversized(t *testing.T) {
	raw := encodePNG(t, testImage(100, 100))
	_, err := Image(raw, ImageOptions{Width: 50, Height: 50, MaxInputSize: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestTextStripsNULAndControl(t *testing.T) {
	out := Text([]byte("hello\x00world\x01\x02\ttab\nline\r"), TextOptions{})
	assert.Equal(t, "helloworld\ttab\nline\r", out)
	assert.NotContains(t, out, "\x00")
}

func TestTextLatin1Fallback(t *testing.T) {
	// 0xE9 alone is invalid UTF-8 but is é in Latin-1.
	out := Text([]byte{'c', 'a', 'f', 0xE9}, TextOptions{})
	assert.Equal(t, "café", out)
	assert.True(t, utf8.ValidString(out))
}

func TestTextTruncationPreservesRunes(t *testing.T) {
	// é is two bytes in UTF-8; an odd ceiling lands mid-rune.
	in := strings.Repeat("é", 100)
	out := Text([]byte(in), TextOptions{MaxLength: 51})
	assert.True(t, utf8.ValidString(out))
	assert.LessOrEqual(t, len(out), 51)
	assert.Equal(t, 50, len(out), "truncation backs off to the rune boundary")
}

func TestTextNeverExceedsMaxLength(t *testing.T) {
	out := Text([]byte(strings.Repeat("a", 200)), TextOptions{MaxLength: 64})
	assert.Len(t, out, 64)
}

func TestFallbackAcceptsPlainText(t *testing.T) {
	out, err := FallbackText([]byte("ordinary report text\nwith lines\n"), 0.99, TextOptions{})
	require.NoError(t, err)
	assert.Contains(t, out, "ordinary report")
}

func TestFallbackRejectsBinary(t *testing.T) {
	raw := encodePNG(t, testImage(10, 10))
	_, err := FallbackText(raw, 0.99, TextOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binary content")
}

func TestFallbackRejectsLowPrintableRatio(t *testing.T) {
	// Textual enough for the sniffer, but full of replacement-worthy noise.
	raw := []byte("abc" + strings.Repeat("￿", 100))
	_, err := FallbackText(raw, 0.99, TextOptions{})
	require.Error(t, err)
}

func TestFallbackEmptyInput(t *testing.T) {
	out, err := FallbackText(nil, 0.99, TextOptions{})
	require.NoError(t, err)
	assert.Empty(t, out)
}
