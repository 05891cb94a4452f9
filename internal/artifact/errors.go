package artifact

import (
	"errors"
	"fmt"
)

// ErrInvalidArtifact matches every error that makes an artifact unusable.
var ErrInvalidArtifact = errors.New("invalid model artifact")

// PlaceholderError reports a Git LFS pointer checked in where the binary
// model should be.
type PlaceholderError struct {
	Path string
}

func (e *PlaceholderError) Error() string {
	return fmt.Sprintf("model file %s looks like a Git LFS pointer; fetch the real binary model file", e.Path)
}

func (e *PlaceholderError) Is(target error) bool {
	return target == ErrInvalidArtifact
}

// DeserializationError carries the cause from the last scheme attempted.
type DeserializationError struct {
	Path   string
	Scheme string
	Err    error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("failed to load model at %s (%s): %v", e.Path, e.Scheme, e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

func (e *DeserializationError) Is(target error) bool {
	return target == ErrInvalidArtifact
}
