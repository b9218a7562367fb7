// Package detector abstracts the face-detection capability consumed by the
// highlight stage so the pipeline does not depend on any model runtime.
package detector

import (
	"context"
	"image"

	"github.com/andresmejia3/rendition/internal/types"
)

// Detector finds subjects in an image and reports them in source pixel space.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]types.BoundingBox, error)
	Close() error
}

// Factory creates one Detector per pipeline worker. Detectors are not
// assumed to be safe for concurrent use.
type Factory func(ctx context.Context, id int) (Detector, error)

// Noop never finds anything. It is used when detection is disabled or the
// capability is not installed.
type Noop struct{}

func (Noop) Detect(context.Context, image.Image) ([]types.BoundingBox, error) { return nil, nil }

func (Noop) Close() error { return nil }

// NoopFactory hands out Noop detectors.
func NoopFactory(context.Context, int) (Detector, error) { return Noop{}, nil }

// Static returns the same boxes for every image. Useful when boxes come from
// an earlier run or from a caller that already ran detection.
type Static []types.BoundingBox

func (s Static) Detect(context.Context, image.Image) ([]types.BoundingBox, error) {
	return append([]types.BoundingBox(nil), s...), nil
}

func (Static) Close() error { return nil }
