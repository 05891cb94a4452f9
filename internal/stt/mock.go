package stt

import (
	"context"

	"github.com/loqalabs/spamguard/internal/config"
)

type mockBackend struct {
	text string
}

// NewMock returns a backend that always answers with the configured text.
func NewMock(cfg config.MockConfig) Backend {
	return &mockBackend{text: cfg.Text}
}

func (m *mockBackend) Name() string { return config.BackendMock }

func (m *mockBackend) Available() bool { return true }

func (m *mockBackend) Transcribe(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.text, nil
}
