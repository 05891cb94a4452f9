package stt

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/spamguard/internal/config"
)

func newTestRemote(url string) *remoteBackend {
	b := NewRemote(config.RemoteConfig{
		Endpoint:   url,
		APIKey:     "secret",
		Model:      "whisper-1",
		Timeout:    5 * time.Second,
		MaxElapsed: 5 * time.Second,
	}).(*remoteBackend)
	b.initialInterval = time.Millisecond
	return b
}

func TestRemoteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("model") != "whisper-1" {
			t.Errorf("unexpected model %q", r.FormValue("model"))
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			if string(data) != "RIFF....WAVE" {
				t.Errorf("unexpected upload %q", data)
			}
		}
		if calls.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"text":"hello from remote"}`))
	}))
	defer srv.Close()

	b := newTestRemote(srv.URL + "/")
	if !b.Available() {
		t.Fatal("configured remote should be available")
	}
	text, err := b.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello from remote" {
		t.Fatalf("unexpected text %q", text)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestRemoteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestRemote(srv.URL).Transcribe(context.Background(), writeAudio(t))
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestRemoteUnavailableWithoutEndpoint(t *testing.T) {
	if NewRemote(config.RemoteConfig{}).Available() {
		t.Fatal("remote without endpoint should be unavailable")
	}
}

func TestRemoteZeroMaxElapsedStillGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := NewRemote(config.RemoteConfig{Endpoint: srv.URL}).(*remoteBackend)
	if b.maxElapsed != defaultMaxElapsed || b.client.Timeout != defaultTimeout {
		t.Fatalf("expected defaults, got max_elapsed=%s timeout=%s", b.maxElapsed, b.client.Timeout)
	}
	b.initialInterval = time.Millisecond
	b.maxElapsed = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := b.Transcribe(ctx, writeAudio(t))
	if err == nil || ctx.Err() != nil {
		t.Fatalf("expected retries to stop before the context deadline, err=%v ctx=%v", err, ctx.Err())
	}
	if calls.Load() < 2 {
		t.Fatalf("expected retries, got %d calls", calls.Load())
	}
}
