package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/loqalabs/spamguard/internal/config"
)

const (
	transcriptionsPath = "/v1/audio/transcriptions"
	defaultTimeout     = 2 * time.Minute
	defaultMaxElapsed  = 30 * time.Second
)

// remoteBackend talks to an OpenAI compatible transcription endpoint.
type remoteBackend struct {
	url             string
	apiKey          string
	model           string
	maxElapsed      time.Duration
	initialInterval time.Duration
	client          *http.Client
}

type remoteResponse struct {
	Text string `json:"text"`
}

func NewRemote(cfg config.RemoteConfig) Backend {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	url := ""
	if endpoint != "" {
		url = endpoint + transcriptionsPath
	}
	// Zero MaxElapsedTime means retry forever in backoff.
	maxElapsed := cfg.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = defaultMaxElapsed
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &remoteBackend{
		url:             url,
		apiKey:          cfg.APIKey,
		model:           cfg.Model,
		maxElapsed:      maxElapsed,
		initialInterval: 500 * time.Millisecond,
		client:          &http.Client{Timeout: timeout},
	}
}

func (r *remoteBackend) Name() string { return config.BackendRemote }

func (r *remoteBackend) Available() bool { return r.url != "" }

func (r *remoteBackend) Transcribe(ctx context.Context, audioPath string) (string, error) {
	body, contentType, err := r.buildPayload(audioPath)
	if err != nil {
		return "", err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initialInterval
	bo.MaxElapsedTime = r.maxElapsed

	var text string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)
		if r.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+r.apiKey)
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		payload, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			return fmt.Errorf("remote stt http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("remote stt http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
		}
		var parsed remoteResponse
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("decode remote stt response: %w", err))
		}
		text = parsed.Text
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}
	return text, nil
}

func (r *remoteBackend) buildPayload(audioPath string) ([]byte, string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", r.model); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return nil, "", err
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return body.Bytes(), mw.FormDataContentType(), nil
}
