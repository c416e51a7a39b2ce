package imageops

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/disintegration/imaging"
)

// ScaledSize computes the target size for an image bounded by maxDim.
//
// When either side exceeds maxDim, both sides are floor-divided by
// max(width, height)/maxDim independently, flooring the exact quotient rather
// than its rounded double. That can drift from the exact aspect ratio and
// even leave the long side one pixel short (1999x1000 becomes 999x500); the
// drift is kept. A very thin image can get a zero side (2001x1 gives 1000x0).
// The boolean result reports whether any scaling is needed.
func ScaledSize(width, height, maxDim int) (int, int, bool) {
	if width <= maxDim && height <= maxDim {
		return width, height, false
	}
	scale := float64(max(width, height)) / float64(maxDim)
	newWidth := int(floorDiv(float64(width), scale))
	newHeight := int(floorDiv(float64(height), scale))
	return newWidth, newHeight, true
}

// floorDiv is floating point floor division for positive operands. The
// remainder is taken exactly, so a quotient that rounds up to an integer in
// float64 is still floored below it.
func floorDiv(a, b float64) float64 {
	mod := math.Mod(a, b)
	div := (a - mod) / b
	q := math.Floor(div)
	if div-q > 0.5 {
		q++
	}
	return q
}

// Resize scales img down so that it fits within maxDim. Images that already
// fit are returned unchanged. A side that scales to zero is kept at one pixel.
func Resize(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h, scaled := ScaledSize(b.Dx(), b.Dy(), maxDim)
	if !scaled {
		return img
	}
	// imaging.Resize reads a zero side as "preserve aspect ratio"
	return imaging.Resize(img, max(w, 1), max(h, 1), imaging.CatmullRom)
}

// Decode reads an image in any registered format.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("image decode failed: %w", err)
	}
	return img, nil
}

// EncodeForFilename encodes img in the format implied by filename's
// extension, falling back to JPEG. It returns the encoded bytes and MIME type.
func EncodeForFilename(img image.Image, filename string) (*bytes.Buffer, string, error) {
	format, err := imaging.FormatFromFilename(filename)
	if err != nil {
		format = imaging.JPEG
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(75)); err != nil {
		return nil, "", fmt.Errorf("%s encode failed: %w", format, err)
	}
	return &buf, mimeType(format), nil
}

// EncodeJPEG encodes img as a quality 75 JPEG.
func EncodeJPEG(img image.Image) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(75)); err != nil {
		return nil, fmt.Errorf("JPEG encode failed: %w", err)
	}
	return &buf, nil
}

func mimeType(format imaging.Format) string {
	switch format {
	case imaging.PNG:
		return "image/png"
	case imaging.GIF:
		return "image/gif"
	case imaging.TIFF:
		return "image/tiff"
	case imaging.BMP:
		return "image/bmp"
	default:
		return "image/jpeg"
	}
}
