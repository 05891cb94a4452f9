package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/spamguard/internal/config"
)

type fakeBackend struct {
	name      string
	available bool
	text      string
	err       error
	calls     int
}

func (f *fakeBackend) Name() string    { return f.name }
func (f *fakeBackend) Available() bool { return f.available }
func (f *fakeBackend) Transcribe(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.text, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func TestChainFallsThroughOnError(t *testing.T) {
	first := &fakeBackend{name: "first", available: true, err: errors.New("model load failed")}
	second := &fakeBackend{name: "second", available: true, text: "hello"}
	chain := NewChain(testLogger(), first, second)

	res, err := chain.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "hello" || res.Backend != "second" {
		t.Fatalf("unexpected result %+v", res)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("expected one call each, got %d/%d", first.calls, second.calls)
	}
}

func TestChainFallsThroughOnBlankText(t *testing.T) {
	first := &fakeBackend{name: "first", available: true, text: "   \n"}
	second := &fakeBackend{name: "second", available: true, text: "  call me back  "}
	chain := NewChain(testLogger(), first, second)

	res, err := chain.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "call me back" {
		t.Fatalf("expected trimmed text, got %q", res.Text)
	}
}

func TestChainStopsAtFirstSuccess(t *testing.T) {
	first := &fakeBackend{name: "first", available: true, text: "hi"}
	second := &fakeBackend{name: "second", available: true, text: "unused"}
	chain := NewChain(testLogger(), first, second)

	if _, err := chain.Transcribe(context.Background(), writeAudio(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.calls != 0 {
		t.Fatal("second backend should not run after a success")
	}
}

func TestChainSkipsUnavailable(t *testing.T) {
	missing := &fakeBackend{name: "missing", available: false, text: "never"}
	present := &fakeBackend{name: "present", available: true, text: "ok"}
	chain := NewChain(testLogger(), missing, present)

	res, err := chain.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing.calls != 0 {
		t.Fatal("unavailable backend was invoked")
	}
	if res.Backend != "present" {
		t.Fatalf("unexpected backend %q", res.Backend)
	}
}

func TestChainExhaustion(t *testing.T) {
	cases := []struct {
		name       string
		backends   []Backend
		wantSpeech bool
	}{
		{
			name: "all empty",
			backends: []Backend{
				&fakeBackend{name: "a", available: true, text: ""},
				&fakeBackend{name: "b", available: true, text: " "},
			},
			wantSpeech: true,
		},
		{
			name: "all failing",
			backends: []Backend{
				&fakeBackend{name: "a", available: true, err: errors.New("boom")},
				&fakeBackend{name: "b", available: true, err: errors.New("bang")},
			},
		},
		{
			name: "error and empty",
			backends: []Backend{
				&fakeBackend{name: "a", available: true, err: errors.New("boom")},
				&fakeBackend{name: "b", available: true, text: ""},
			},
		},
		{
			name: "unavailable at run time and empty",
			backends: []Backend{
				&fakeBackend{name: "a", available: true, err: fmt.Errorf("%w: module missing", ErrUnavailable)},
				&fakeBackend{name: "b", available: true, text: ""},
			},
			wantSpeech: true,
		},
		{
			name: "none available",
			backends: []Backend{
				&fakeBackend{name: "a"},
				&fakeBackend{name: "b"},
			},
		},
		{name: "none configured"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chain := NewChain(testLogger(), tc.backends...)
			_, err := chain.Transcribe(context.Background(), writeAudio(t))
			if !errors.Is(err, ErrNoBackend) {
				t.Fatalf("expected ErrNoBackend, got %v", err)
			}
			if got := errors.Is(err, ErrNoSpeech); got != tc.wantSpeech {
				t.Fatalf("expected ErrNoSpeech=%v, got %v (%v)", tc.wantSpeech, got, err)
			}
			var exhausted *ExhaustedError
			if !errors.As(err, &exhausted) || len(exhausted.Attempts) != len(tc.backends) {
				t.Fatalf("expected one attempt per backend, got %v", err)
			}
		})
	}
}

func TestChainLeavesAudioInPlace(t *testing.T) {
	path := writeAudio(t)
	chain := NewChain(testLogger(), &fakeBackend{name: "a", available: true, err: errors.New("boom")})
	_, _ = chain.Transcribe(context.Background(), path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("audio file should still exist: %v", err)
	}
	if string(data) != "RIFF....WAVE" {
		t.Fatalf("audio file was modified: %q", data)
	}
}

func TestChainResolve(t *testing.T) {
	chain := NewChain(testLogger(),
		&fakeBackend{name: "a"},
		&fakeBackend{name: "b", available: true},
		&fakeBackend{name: "c", available: true},
	)
	if got := chain.Resolve(); got != "b" {
		t.Fatalf("expected b, got %q", got)
	}
	if got := NewChain(testLogger(), &fakeBackend{name: "a"}).Resolve(); got != "none" {
		t.Fatalf("expected none, got %q", got)
	}
	if got := NewChain(testLogger()).Resolve(); got != "none" {
		t.Fatalf("expected none for empty chain, got %q", got)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default().STT
	cfg.Backends = []string{config.BackendMock, config.BackendSphinx, config.BackendRemote}
	cfg.Mock.Text = "from mock"

	chain, err := FromConfig(cfg, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names := chain.Backends()
	if len(names) != 3 || names[0] != "mock" || names[1] != "sphinx" || names[2] != "remote" {
		t.Fatalf("unexpected order %v", names)
	}
	res, err := chain.Transcribe(context.Background(), writeAudio(t))
	if err != nil || res.Text != "from mock" {
		t.Fatalf("expected mock transcript, got %+v %v", res, err)
	}

	cfg.Backends = []string{config.BackendSphinx}
	cfg.Sphinx.Command = "   "
	if _, err := FromConfig(cfg, testLogger()); err == nil {
		t.Fatal("expected error for empty sphinx command")
	}
}
