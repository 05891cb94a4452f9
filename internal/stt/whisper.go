package stt

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/loqalabs/spamguard/internal/config"
)

//go:embed assets/faster_whisper.py
var fasterWhisperScript []byte

// Exit status of the helper when the faster_whisper module cannot be imported.
const fasterWhisperMissingExit = 3

// Exits non-zero when faster_whisper is not importable, without importing it.
const fasterWhisperProbe = "import importlib.util,sys;sys.exit(importlib.util.find_spec('faster_whisper') is None)"

const probeTimeout = 10 * time.Second

type fasterWhisperBackend struct {
	cmd []string
	cfg config.FasterWhisperConfig

	probeOnce sync.Once
	installed bool
}

type fasterWhisperResult struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// NewFasterWhisper runs the embedded helper script with the configured
// Python interpreter.
func NewFasterWhisper(cfg config.FasterWhisperConfig) (Backend, error) {
	args, err := parseCommand(cfg.Command)
	if err != nil {
		return nil, err
	}
	return &fasterWhisperBackend{cmd: args, cfg: cfg}, nil
}

func (b *fasterWhisperBackend) Name() string { return config.BackendFasterWhisper }

// Available checks the interpreter and that the faster_whisper module is
// installed. The module check runs once per process.
func (b *fasterWhisperBackend) Available() bool {
	if !onPath(b.cmd[0]) {
		return false
	}
	b.probeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		_, err := runCommand(ctx, b.cmd, nil, "-c", fasterWhisperProbe)
		b.installed = err == nil
	})
	return b.installed
}

func (b *fasterWhisperBackend) Transcribe(ctx context.Context, audioPath string) (string, error) {
	out, err := runCommand(ctx, b.cmd, bytes.NewReader(fasterWhisperScript),
		"-",
		"--audio", audioPath,
		"--model", b.cfg.Model,
		"--device", b.cfg.Device,
		"--beam-size", strconv.Itoa(b.cfg.BeamSize),
	)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == fasterWhisperMissingExit {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return "", err
	}
	var resp fasterWhisperResult
	if err := json.Unmarshal(out, &resp); err != nil {
		return "", fmt.Errorf("decode faster-whisper response: %w", err)
	}
	return resp.Text, nil
}
