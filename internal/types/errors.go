package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidImage is returned when an image has no pixels.
	ErrInvalidImage = errors.New("image has zero width or height")
	// ErrInvalidTarget is returned when a requested output size is not positive.
	ErrInvalidTarget = errors.New("target dimensions must be positive")
	// ErrImageTooLarge is returned when a source, or its normalized
	// intermediate, would not fit the pixel limits.
	ErrImageTooLarge = errors.New("image exceeds pixel limits")
)

// DecodeError reports input bytes that could not be decoded into an image.
type DecodeError struct {
	Name string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Name, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SizeValidationError reports a target profile that is larger than the
// normalized intermediate image in at least one dimension.
type SizeValidationError struct {
	Profile      string
	TargetWidth  int
	TargetHeight int
	Width        int // normalized intermediate width
	Height       int // normalized intermediate height
}

func (e *SizeValidationError) Error() string {
	name := e.Profile
	if name == "" {
		name = "target"
	}
	return fmt.Sprintf("%s %dx%d exceeds normalized image %dx%d",
		name, e.TargetWidth, e.TargetHeight, e.Width, e.Height)
}

// BudgetUnmetError is a soft failure: the encoder reached its quality floor
// and the best-effort result is still larger than the byte budget.
// The artifact it is attached to is valid and should still be delivered.
type BudgetUnmetError struct {
	Profile  string
	MaxBytes int
	Size     int
	Quality  int
}

func (e *BudgetUnmetError) Error() string {
	return fmt.Sprintf("%s: %d bytes at quality %d exceeds budget of %d bytes",
		e.Profile, e.Size, e.Quality, e.MaxBytes)
}

// EngineError is a failure of the external detection engine. Logs holds the
// tail of what the engine wrote to stderr before it was stopped.
type EngineError struct {
	Worker int
	Err    error
	Logs   string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("worker %d: %v", e.Worker, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }
