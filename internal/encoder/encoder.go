// Package encoder compresses images under a byte budget by walking encode
// quality down from a ceiling until the output fits.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"

	"github.com/andresmejia3/rendition/internal/types"
	"github.com/gen2brain/webp"
)

const (
	MaxQuality  = 100
	QualityStep = 5
	MinQuality  = 0

	// MIMEType is the content type of every artifact this package produces.
	MIMEType = "image/webp"
	// Format is the logical format tag of produced artifacts.
	Format = "WebP"
)

// Encoder serialises an image at a given lossy quality in [0,100].
type Encoder interface {
	Encode(w io.Writer, img image.Image, quality int) error
}

// WebPMinQuality is the lowest quality the WebP backend honours. It reads a
// quality of 0 as "use the default", so lower requests are raised to this.
const WebPMinQuality = 1

// WebP encodes lossy WebP through libwebp.
type WebP struct {
	// Method trades speed for size, 0 (fast) to 6 (slowest). Zero means 4.
	Method int
}

// Encode writes img as lossy WebP. Quality 0 is encoded at WebPMinQuality.
func (e WebP) Encode(w io.Writer, img image.Image, quality int) error {
	method := e.Method
	if method == 0 {
		method = 4
	}
	if quality < WebPMinQuality {
		quality = WebPMinQuality
	}
	return webp.Encode(w, img, webp.Options{
		Quality: quality,
		Method:  method,
	})
}

// Result is one size-constrained encoding.
type Result struct {
	Data    []byte
	Quality int
	// Attempts is the number of encodes performed to reach Quality.
	Attempts int
	// BudgetMet is false when even MinQuality did not fit; Data then holds
	// the MinQuality encoding as a best-effort result.
	BudgetMet bool
}

// Size returns the encoded length in bytes.
func (r Result) Size() int { return len(r.Data) }

// EncodeWithinBudget encodes img starting at MaxQuality and steps down by
// QualityStep until the output is at most maxBytes long. Every attempt
// encodes the original img, never a previous encoding.
//
// If MinQuality still exceeds the budget, the MinQuality result is returned
// with BudgetMet false and a nil error. Monotonic shrinkage with quality is
// assumed but not guaranteed by every backend; on pathological inputs such as
// dense noise the floor result may still be over budget.
func EncodeWithinBudget(ctx context.Context, img image.Image, maxBytes int, enc Encoder) (Result, error) {
	if maxBytes <= 0 {
		return Result{}, fmt.Errorf("%w: byte budget %d", types.ErrInvalidTarget, maxBytes)
	}

	var buf bytes.Buffer
	res := Result{}
	for quality := MaxQuality; ; quality -= QualityStep {
		if quality < MinQuality {
			quality = MinQuality
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		buf.Reset()
		if err := enc.Encode(&buf, img, quality); err != nil {
			return Result{}, fmt.Errorf("encode at quality %d: %w", quality, err)
		}
		res.Attempts++
		res.Quality = quality

		if buf.Len() <= maxBytes {
			res.BudgetMet = true
			break
		}
		if quality == MinQuality {
			break
		}
	}

	res.Data = bytes.Clone(buf.Bytes())
	return res, nil
}
