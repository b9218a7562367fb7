// Package profile holds the catalog of named output renditions and drives
// the geometry and encoder stages once per profile.
package profile

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Profile is a named output target.
type Profile struct {
	Name   string `mapstructure:"name" json:"name" validate:"required,max=64,excludesall=/"`
	Width  int    `mapstructure:"width" json:"width" validate:"required,gt=0"`
	Height int    `mapstructure:"height" json:"height" validate:"required,gt=0"`
	MaxKB  int    `mapstructure:"max_kb" json:"max_kb" validate:"required,gt=0"`
}

// MaxBytes is the byte budget of the profile.
func (p Profile) MaxBytes() int { return p.MaxKB * 1024 }

func (p Profile) String() string {
	return fmt.Sprintf("%s %dx%d <=%dKB", p.Name, p.Width, p.Height, p.MaxKB)
}

// Built-in profiles.
var (
	Thumbnail = Profile{Name: "thumbnail", Width: 600, Height: 400, MaxKB: 50}
	Banner    = Profile{Name: "banner", Width: 1200, Height: 500, MaxKB: 100}
	Photo     = Profile{Name: "photo", Width: 1200, Height: 600, MaxKB: 100}
)

// Catalog returns the default profiles in their canonical order.
func Catalog() []Profile {
	return []Profile{Thumbnail, Banner, Photo}
}

// CustomName is the name given to a caller-supplied profile.
const CustomName = "custom"

// custom bounds the dimensions a caller may request.
type custom struct {
	Width  int `validate:"gte=100,lte=1920"`
	Height int `validate:"gte=100,lte=1080"`
	MaxKB  int `validate:"gte=50,lte=1000"`
}

var validate = validator.New()

// Validate checks a profile's structural constraints.
func Validate(p Profile) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid profile %q: %w", p.Name, err)
	}
	return nil
}

// Custom builds the caller-supplied profile, enforcing width in [100,1920],
// height in [100,1080] and budget in [50,1000] KB.
func Custom(width, height, maxKB int) (Profile, error) {
	if err := validate.Struct(custom{Width: width, Height: height, MaxKB: maxKB}); err != nil {
		return Profile{}, fmt.Errorf("invalid custom profile %dx%d:%dKB: %w", width, height, maxKB, err)
	}
	return Profile{Name: CustomName, Width: width, Height: height, MaxKB: maxKB}, nil
}

var customSpec = regexp.MustCompile(`^(\d+)x(\d+):(\d+)$`)

// ParseCustom parses "WIDTHxHEIGHT:KB", e.g. "1200x630:150".
func ParseCustom(spec string) (Profile, error) {
	m := customSpec.FindStringSubmatch(strings.ToLower(strings.TrimSpace(spec)))
	if m == nil {
		return Profile{}, fmt.Errorf("custom profile %q: want WIDTHxHEIGHT:KB", spec)
	}
	w, _ := strconv.Atoi(m[1])
	h, _ := strconv.Atoi(m[2])
	kb, _ := strconv.Atoi(m[3])
	return Custom(w, h, kb)
}

// Resolve picks profiles by name from catalog, keeping the requested order.
// An empty names list selects the whole catalog.
func Resolve(catalog []Profile, names []string) ([]Profile, error) {
	if len(names) == 0 {
		return append([]Profile(nil), catalog...), nil
	}

	byName := make(map[string]Profile, len(catalog))
	for _, p := range catalog {
		byName[p.Name] = p
	}

	seen := make(map[string]bool, len(names))
	out := make([]Profile, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		p, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown profile %q (known: %s)", n, strings.Join(Names(catalog), ", "))
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, p)
	}
	return out, nil
}

// Names lists profile names in order.
func Names(ps []Profile) []string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
	}
	return names
}

// ValidateSet checks every profile and rejects duplicate names.
func ValidateSet(ps []Profile) error {
	if len(ps) == 0 {
		return fmt.Errorf("no profiles configured")
	}
	seen := make(map[string]bool, len(ps))
	for _, p := range ps {
		if err := Validate(p); err != nil {
			return err
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate profile %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
