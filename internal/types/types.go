package types

import "image"

// ImageTask represents a single input image sent to a worker for processing
type ImageTask struct {
	Index int
	ID    string // stable identifier, usually the source path
	Name  string // original filename, used for output naming and reporting
	Data  []byte
}

// BoundingBox is a detected subject in source-image pixel space.
// Coordinates are floats because detectors report sub-pixel boxes.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
	// Confidence is the detector's score in [0,1]. Zero when unknown.
	Confidence float64 `json:"confidence,omitempty"`
}

// Rect returns the box snapped to integer pixels (truncating, like the detector overlay does).
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() float64 {
	return b.Y2 - b.Y1
}
