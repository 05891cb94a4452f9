package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Backend abstracts a speech-to-text engine.
type Backend interface {
	Name() string
	// Available reports whether the backend can run. It must not load
	// models or touch the network.
	Available() bool
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

var (
	ErrNoBackend = errors.New("no transcription backend available")
	ErrNoSpeech  = errors.New("no speech recognized")
	// ErrUnavailable is returned by Transcribe when a backend discovers at
	// run time that it cannot work on this host.
	ErrUnavailable = errors.New("transcription backend unavailable")
)

const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
	OutcomeEmpty       = "empty"
)

// Attempt records what one backend did for a request.
type Attempt struct {
	Backend string
	Outcome string
	Err     error
}

// ExhaustedError is returned when no backend produced a transcript.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrNoBackend.Error() + " (none configured)"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			parts = append(parts, fmt.Sprintf("%s: %s: %v", a.Backend, a.Outcome, a.Err))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", a.Backend, a.Outcome))
		}
	}
	return ErrNoBackend.Error() + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ExhaustedError) Is(target error) bool {
	switch target {
	case ErrNoBackend:
		return true
	case ErrNoSpeech:
		return e.speechless()
	}
	return false
}

// speechless is true when at least one backend ran cleanly and every run
// came back empty.
func (e *ExhaustedError) speechless() bool {
	ran := false
	for _, a := range e.Attempts {
		switch a.Outcome {
		case OutcomeError:
			return false
		case OutcomeEmpty:
			ran = true
		}
	}
	return ran
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
