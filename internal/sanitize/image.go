// Package sanitize is the only code path allowed to move artifacts from the
// sandbox boundary into the trusted system. Images are fully decoded and
// re-encoded so nothing but the pixel grid survives; text is stripped and
// bounded; anything else must pass a binary-safety check or is rejected.
package sanitize

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/disintegration/imaging"

	perrors "github.com/fileworks/previewd/internal/errors"
)

// ImageOptions bounds thumbnail sanitization.
type ImageOptions struct {
	Width        int   // canonical thumbnail width
	Height       int   // canonical thumbnail height
	MaxInputSize int64 // reject encoded payloads larger than this
}

// DefaultImageOptions returns the documented defaults (400x300, 64 MiB cap).
func DefaultImageOptions() ImageOptions {
	return ImageOptions{Width: 400, Height: 300, MaxInputSize: 64 << 20}
}

// Image decodes raw and re-encodes it as a canonical PNG thumbnail. Decoding
// consumes only the pixel data, so metadata and any bytes appended after the
// encoded image cannot survive into the output. Oversized or undecodable
// payloads are rejected with a terminal error.
func Image(raw []byte, opts ImageOptions) ([]byte, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		d := DefaultImageOptions()
		opts.Width, opts.Height = d.Width, d.Height
	}
	if opts.MaxInputSize > 0 && int64(len(raw)) > opts.MaxInputSize {
		return nil, perrors.SanitizeRejection(fmt.Sprintf("image payload too large: %d bytes", len(raw)))
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, perrors.SanitizeRejection("undecodable image: " + err.Error())
	}

	thumb := imaging.Fill(img, opts.Width, opts.Height, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return nil, fmt.Errorf("encode %s thumbnail: %w", format, err)
	}
	return buf.Bytes(), nil
}
