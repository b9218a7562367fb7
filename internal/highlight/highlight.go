// Package highlight burns detection boxes into an image.
package highlight

import (
	"image"
	"image/color"

	"github.com/andresmejia3/rendition/internal/geometry"
	"github.com/andresmejia3/rendition/internal/types"
)

const (
	// DefaultMargin is the fraction of a box's height added above it.
	DefaultMargin = 0.2
	// StrokeWidth is the outline thickness in pixels.
	StrokeWidth = 2
)

// Color is the outline color.
var Color = color.NRGBA{R: 255, A: 255}

// Highlight draws an unfilled outline for every box, in input order.
// Only the top edge is pushed outward, by (y2-y1)*marginRatio and clamped
// at row 0; left, right and bottom stay on the detector's box.
//
// With no boxes img is returned as is. Otherwise the boxes are drawn on a
// copy and img is left untouched.
func Highlight(img image.Image, boxes []types.BoundingBox, marginRatio float64) image.Image {
	if len(boxes) == 0 {
		return img
	}

	dst := geometry.ToNRGBA(img)
	for _, box := range boxes {
		drawOutline(dst, Outline(box, marginRatio), StrokeWidth, Color)
	}
	return dst
}

// Outline returns the rectangle drawn for box. Max is inclusive: the stroke
// covers column X2 and row Y2.
func Outline(box types.BoundingBox, marginRatio float64) image.Rectangle {
	r := box.Rect()
	top := r.Min.Y - int(box.Height()*marginRatio)
	if top < 0 {
		top = 0
	}
	r.Min.Y = top
	return r
}

// drawOutline paints a stroke-px frame on the inside of r (inclusive max),
// clipped to the image.
func drawOutline(img *image.NRGBA, r image.Rectangle, stroke int, c color.NRGBA) {
	outer := image.Rect(r.Min.X, r.Min.Y, r.Max.X+1, r.Max.Y+1).Canon()
	if outer.Empty() {
		return
	}

	edges := []image.Rectangle{
		image.Rect(outer.Min.X, outer.Min.Y, outer.Max.X, outer.Min.Y+stroke), // top
		image.Rect(outer.Min.X, outer.Max.Y-stroke, outer.Max.X, outer.Max.Y), // bottom
		image.Rect(outer.Min.X, outer.Min.Y, outer.Min.X+stroke, outer.Max.Y), // left
		image.Rect(outer.Max.X-stroke, outer.Min.Y, outer.Max.X, outer.Max.Y), // right
	}

	stride := img.Stride
	pix := img.Pix
	imgMinX, imgMinY := img.Rect.Min.X, img.Rect.Min.Y
	for _, e := range edges {
		// Clip to image bounds to prevent panics
		e = e.Intersect(outer).Intersect(img.Bounds())
		for y := e.Min.Y; y < e.Max.Y; y++ {
			rowStart := (y-imgMinY)*stride + (e.Min.X-imgMinX)*4
			for x := 0; x < e.Dx(); x++ {
				off := rowStart + x*4
				pix[off] = c.R
				pix[off+1] = c.G
				pix[off+2] = c.B
				pix[off+3] = c.A
			}
		}
	}
}
