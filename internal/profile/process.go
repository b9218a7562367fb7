package profile

import (
	"context"
	"errors"
	"image"

	"github.com/andresmejia3/rendition/internal/encoder"
	"github.com/andresmejia3/rendition/internal/geometry"
	"github.com/andresmejia3/rendition/internal/types"
)

// Rendition is the outcome of one profile: either encoded bytes or an error.
type Rendition struct {
	Profile Profile
	Data    []byte
	Quality int
	// Warning is a *types.BudgetUnmetError when the best-effort encoding is
	// still over budget. Data is valid in that case.
	Warning error
	Err     error
}

// OK reports whether the rendition produced bytes.
func (r Rendition) OK() bool { return r.Err == nil }

// Name returns the profile name.
func (r Rendition) Name() string { return r.Profile.Name }

// Results holds renditions in the order the profiles were requested.
type Results []Rendition

// Get returns the rendition for a profile name.
func (rs Results) Get(name string) (Rendition, bool) {
	for _, r := range rs {
		if r.Profile.Name == name {
			return r, true
		}
	}
	return Rendition{}, false
}

// Failed returns the renditions that have no data.
func (rs Results) Failed() []Rendition {
	var out []Rendition
	for _, r := range rs {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Warnings returns the renditions delivered over budget.
func (rs Results) Warnings() []Rendition {
	var out []Rendition
	for _, r := range rs {
		if r.OK() && r.Warning != nil {
			out = append(out, r)
		}
	}
	return out
}

// Bytes maps profile name to encoded data for the successful renditions.
func (rs Results) Bytes() map[string][]byte {
	out := make(map[string][]byte, len(rs))
	for _, r := range rs {
		if r.OK() {
			out[r.Profile.Name] = r.Data
		}
	}
	return out
}

// Process renders img once per profile. Profiles are independent: a failure
// in one is recorded on its Rendition and the rest still run. Only context
// cancellation stops the loop early; remaining profiles then carry ctx.Err().
func Process(ctx context.Context, img image.Image, profiles []Profile, enc encoder.Encoder) Results {
	results := make(Results, 0, len(profiles))
	for _, p := range profiles {
		if err := ctx.Err(); err != nil {
			results = append(results, Rendition{Profile: p, Err: err})
			continue
		}
		results = append(results, Render(ctx, img, p, enc))
	}
	return results
}

// Render produces a single rendition: normalize to the profile's size, then
// encode under its byte budget.
func Render(ctx context.Context, img image.Image, p Profile, enc encoder.Encoder) Rendition {
	r := Rendition{Profile: p}

	cropped, err := geometry.Normalize(img, p.Width, p.Height)
	if err != nil {
		var sizeErr *types.SizeValidationError
		if errors.As(err, &sizeErr) {
			sizeErr.Profile = p.Name
		}
		r.Err = err
		return r
	}

	res, err := encoder.EncodeWithinBudget(ctx, cropped, p.MaxBytes(), enc)
	if err != nil {
		r.Err = err
		return r
	}

	r.Data = res.Data
	r.Quality = res.Quality
	if !res.BudgetMet {
		r.Warning = &types.BudgetUnmetError{
			Profile:  p.Name,
			MaxBytes: p.MaxBytes(),
			Size:     res.Size(),
			Quality:  res.Quality,
		}
	}
	return r
}
