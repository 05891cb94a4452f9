package inference

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyInput      = errors.New("empty message")
	ErrEmptyAudio      = errors.New("empty audio file")
	ErrEmptyTranscript = errors.New("transcription was empty")
)

// UnsupportedMediaError rejects an upload by extension before anything is
// written to disk.
type UnsupportedMediaError struct {
	Ext     string
	Allowed []string
}

func (e *UnsupportedMediaError) Error() string {
	return fmt.Sprintf("unsupported audio type %s, allowed: %s", e.Ext, strings.Join(e.Allowed, ", "))
}

// TranscriptionError wraps a chain failure other than silence.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}
