// Package geometry turns an arbitrary source image into a pixel-exact,
// center-cropped rendition of a target size.
package geometry

import (
	"fmt"
	"image"
	"math"

	"github.com/andresmejia3/rendition/internal/types"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// IntermediateWidth is the width every source is scaled to before cropping,
// so crop math does not depend on the source resolution.
const IntermediateWidth = 1200

const (
	// MaxSourcePixels caps the decoded source size.
	MaxSourcePixels = 64 << 20
	// MaxIntermediateHeight caps the scaled image, which bounds how tall
	// and narrow a source may be (10:1 at IntermediateWidth).
	MaxIntermediateHeight = 10 * IntermediateWidth
)

// Normalize scales img to IntermediateWidth, center-crops it to the target
// aspect ratio and resizes the crop to exactly width x height.
// The caller's image is never modified.
func Normalize(img image.Image, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: got %dx%d", types.ErrInvalidTarget, width, height)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, types.ErrInvalidImage
	}

	if err := CheckSource(b.Dx(), b.Dy()); err != nil {
		return nil, err
	}

	iw, ih := IntermediateSize(b.Dx(), b.Dy())
	if width > iw || height > ih {
		return nil, &types.SizeValidationError{
			TargetWidth:  width,
			TargetHeight: height,
			Width:        iw,
			Height:       ih,
		}
	}

	scaled := resize.Resize(uint(iw), uint(ih), ToNRGBA(img), resize.Lanczos3)

	crop := CropRect(iw, ih, width, height)
	cropped := image.NewNRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	draw.Draw(cropped, cropped.Bounds(), scaled, scaled.Bounds().Min.Add(crop.Min), draw.Src)

	return resize.Resize(uint(width), uint(height), cropped, resize.Lanczos3), nil
}

// IntermediateSize returns the dimensions of a w x h image scaled to
// IntermediateWidth, keeping its aspect ratio. Height is never below 1.
func IntermediateSize(w, h int) (int, int) {
	ih := int(math.Round(float64(IntermediateWidth) * float64(h) / float64(w)))
	if ih < 1 {
		ih = 1
	}
	return IntermediateWidth, ih
}

// CheckSource rejects a w x h source whose pixels, or whose normalized
// intermediate, exceed the limits above. It needs only the dimensions, so
// callers can run it on a decoded header before allocating anything.
func CheckSource(w, h int) error {
	if w <= 0 || h <= 0 {
		return types.ErrInvalidImage
	}
	if int64(w)*int64(h) > MaxSourcePixels {
		return fmt.Errorf("%w: %dx%d is over %d pixels", types.ErrImageTooLarge, w, h, MaxSourcePixels)
	}
	if _, ih := IntermediateSize(w, h); ih > MaxIntermediateHeight {
		return fmt.Errorf("%w: %dx%d would scale to %dx%d", types.ErrImageTooLarge, w, h, IntermediateWidth, ih)
	}
	return nil
}

// CropRect returns the centered window of a w x h image that has the aspect
// ratio targetW:targetH. The offset is floored, so on an odd difference the
// extra trimmed pixel comes off the right (or bottom) edge.
func CropRect(w, h, targetW, targetH int) image.Rectangle {
	ratio := float64(targetW) / float64(targetH)

	if float64(w)/float64(h) > ratio {
		// Wider than the target: trim left and right.
		nw := clamp(int(math.Round(float64(h)*ratio)), 1, w)
		off := (w - nw) / 2
		return image.Rect(off, 0, off+nw, h)
	}

	nh := clamp(int(math.Round(float64(w)/ratio)), 1, h)
	off := (h - nh) / 2
	return image.Rect(0, off, w, off+nh)
}

// ToNRGBA returns a copy of img as 8-bit non-premultiplied RGBA anchored at
// the origin. The copy is always fresh, so callers may draw on it.
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
