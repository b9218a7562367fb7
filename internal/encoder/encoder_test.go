package encoder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"math/rand"
	"testing"

	"github.com/andresmejia3/rendition/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xwebp "golang.org/x/image/webp"
)

// sizeEncoder writes quality*perStep+base bytes and records what it was given.
type sizeEncoder struct {
	perStep   int
	base      int
	qualities []int
	images    []image.Image
	failAt    int
}

func (e *sizeEncoder) Encode(w io.Writer, img image.Image, quality int) error {
	if e.failAt != 0 && quality == e.failAt {
		return errors.New("boom")
	}
	e.qualities = append(e.qualities, quality)
	e.images = append(e.images, img)
	_, err := w.Write(bytes.Repeat([]byte{byte(quality)}, quality*e.perStep+e.base))
	return err
}

func textured(w, h int) *image.NRGBA {
	rng := rand.New(rand.NewSource(42))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := uint8(rng.Intn(24))
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x*200/w) + n,
				G: uint8(y*200/h) + n,
				B: uint8((x+y)%64) + n,
				A: 255,
			})
		}
	}
	return img
}

func TestEncodeWithinBudgetFirstFit(t *testing.T) {
	enc := &sizeEncoder{perStep: 100}
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))

	res, err := EncodeWithinBudget(context.Background(), img, 10_000, enc)
	require.NoError(t, err)

	assert.True(t, res.BudgetMet)
	assert.Equal(t, 100, res.Quality)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 10_000, res.Size())
}

func TestEncodeWithinBudgetStepsDown(t *testing.T) {
	enc := &sizeEncoder{perStep: 100}
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))

	res, err := EncodeWithinBudget(context.Background(), img, 2_000, enc)
	require.NoError(t, err)

	assert.True(t, res.BudgetMet)
	assert.Equal(t, 20, res.Quality)
	assert.Equal(t, []int{100, 95, 90, 85, 80, 75, 70, 65, 60, 55, 50, 45, 40, 35, 30, 25, 20}, enc.qualities)
	assert.LessOrEqual(t, res.Size(), 2_000)

	// Every attempt starts from the untouched input.
	for _, seen := range enc.images {
		assert.Same(t, img, seen)
	}
}

func TestEncodeWithinBudgetBestEffortFloor(t *testing.T) {
	enc := &sizeEncoder{perStep: 100, base: 50}
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))

	res, err := EncodeWithinBudget(context.Background(), img, 10, enc)
	require.NoError(t, err)

	assert.False(t, res.BudgetMet)
	assert.Equal(t, MinQuality, res.Quality)
	assert.Equal(t, 50, res.Size())
	assert.Equal(t, 21, res.Attempts)
}

func TestEncodeWithinBudgetErrors(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))

	_, err := EncodeWithinBudget(context.Background(), img, 0, &sizeEncoder{})
	assert.ErrorIs(t, err, types.ErrInvalidTarget)

	_, err = EncodeWithinBudget(context.Background(), img, 100, &sizeEncoder{perStep: 100, failAt: 95})
	assert.ErrorContains(t, err, "quality 95")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = EncodeWithinBudget(ctx, img, 100, &sizeEncoder{perStep: 100})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWebPScenario(t *testing.T) {
	img := textured(600, 400)

	res, err := EncodeWithinBudget(context.Background(), img, 50*1024, WebP{})
	require.NoError(t, err)
	assert.True(t, res.BudgetMet)
	assert.LessOrEqual(t, res.Size(), 51200)

	cfg, err := xwebp.DecodeConfig(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, 600, cfg.Width)
	assert.Equal(t, 400, cfg.Height)
}

func TestWebPQualityMonotonic(t *testing.T) {
	img := textured(320, 240)

	var prev int
	for i, q := range []int{100, 75, 50, 25, 0} {
		var buf bytes.Buffer
		require.NoError(t, WebP{}.Encode(&buf, img, q))
		if i > 0 {
			assert.LessOrEqual(t, buf.Len(), prev, "quality %d grew the output", q)
		}
		prev = buf.Len()
	}
}

func TestWebPFloorIsSmallest(t *testing.T) {
	img := textured(600, 400)

	var q5, q0 bytes.Buffer
	require.NoError(t, WebP{}.Encode(&q5, img, 5))
	require.NoError(t, WebP{}.Encode(&q0, img, 0))
	assert.LessOrEqual(t, q0.Len(), q5.Len(), "the floor encoded larger than quality 5")

	// An unreachable budget returns the floor, which is the smallest attempt.
	res, err := EncodeWithinBudget(context.Background(), img, 100, WebP{})
	require.NoError(t, err)
	assert.False(t, res.BudgetMet)
	assert.Equal(t, MinQuality, res.Quality)
	assert.Equal(t, q0.Len(), res.Size())

	_, err = xwebp.DecodeConfig(bytes.NewReader(res.Data))
	assert.NoError(t, err)
}
