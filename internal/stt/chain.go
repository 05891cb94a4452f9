package stt

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Result is the first usable transcript and the backend that produced it.
type Result struct {
	Text    string
	Backend string
}

// Chain tries backends in priority order until one returns text.
type Chain struct {
	backends []Backend
	logger   *slog.Logger
	attempts metric.Int64Counter
}

func NewChain(logger *slog.Logger, backends ...Backend) *Chain {
	meter := otel.Meter("github.com/loqalabs/spamguard/internal/stt")
	attempts, err := meter.Int64Counter("spamguard.transcription.attempts",
		metric.WithDescription("Transcription attempts by backend and outcome"))
	if err != nil {
		logger.Warn("failed to create transcription counter", slogError(err))
	}
	return &Chain{
		backends: backends,
		logger:   logger.With(slog.String("component", "stt")),
		attempts: attempts,
	}
}

// Backends returns the configured backend names in priority order.
func (c *Chain) Backends() []string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return names
}

// Resolve names the first available backend, or "none".
func (c *Chain) Resolve() string {
	for _, b := range c.backends {
		if b.Available() {
			return b.Name()
		}
	}
	return "none"
}

// Transcribe runs backends in order. Errors and blank transcripts fall
// through to the next backend. The audio file is never modified.
func (c *Chain) Transcribe(ctx context.Context, audioPath string) (Result, error) {
	var attempts []Attempt
	for _, b := range c.backends {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Backend: b.Name(), Outcome: OutcomeError, Err: err})
			break
		}
		if !b.Available() {
			attempts = append(attempts, c.record(ctx, Attempt{Backend: b.Name(), Outcome: OutcomeUnavailable}))
			continue
		}
		text, err := b.Transcribe(ctx, audioPath)
		if errors.Is(err, ErrUnavailable) {
			c.logger.Warn("transcription backend unavailable", slog.String("backend", b.Name()), slogError(err))
			attempts = append(attempts, c.record(ctx, Attempt{Backend: b.Name(), Outcome: OutcomeUnavailable, Err: err}))
			continue
		}
		if err != nil {
			c.logger.Warn("transcription backend failed", slog.String("backend", b.Name()), slogError(err))
			attempts = append(attempts, c.record(ctx, Attempt{Backend: b.Name(), Outcome: OutcomeError, Err: err}))
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			c.logger.Debug("transcription backend returned no text", slog.String("backend", b.Name()))
			attempts = append(attempts, c.record(ctx, Attempt{Backend: b.Name(), Outcome: OutcomeEmpty}))
			continue
		}
		c.record(ctx, Attempt{Backend: b.Name(), Outcome: OutcomeOK})
		return Result{Text: text, Backend: b.Name()}, nil
	}
	return Result{}, &ExhaustedError{Attempts: attempts}
}

func (c *Chain) record(ctx context.Context, a Attempt) Attempt {
	if c.attempts != nil {
		c.attempts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("backend", a.Backend),
			attribute.String("outcome", a.Outcome),
		))
	}
	return a
}
