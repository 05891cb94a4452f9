package stt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-audio/wav"
	"github.com/loqalabs/spamguard/internal/config"
)

type sphinxBackend struct {
	cmd []string
}

type sphinxLine struct {
	Text string `json:"t"`
}

// NewSphinx wraps the pocketsphinx command line decoder. Only WAV input is
// accepted.
func NewSphinx(cfg config.SphinxConfig) (Backend, error) {
	args, err := parseCommand(cfg.Command)
	if err != nil {
		return nil, err
	}
	return &sphinxBackend{cmd: args}, nil
}

func (b *sphinxBackend) Name() string { return config.BackendSphinx }

func (b *sphinxBackend) Available() bool {
	return onPath(b.cmd[0])
}

func (b *sphinxBackend) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if err := checkWAV(audioPath); err != nil {
		return "", err
	}
	out, err := runCommand(ctx, b.cmd, nil, "single", audioPath)
	if err != nil {
		return "", err
	}
	return parseSphinxOutput(out)
}

func checkWAV(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if !wav.NewDecoder(f).IsValidFile() {
		return fmt.Errorf("sphinx: %s is not a valid wav file", path)
	}
	return nil
}

// parseSphinxOutput joins the "t" field of each JSON line.
func parseSphinxOutput(out []byte) (string, error) {
	var parts []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var parsed sphinxLine
		if err := json.Unmarshal(line, &parsed); err != nil {
			return "", fmt.Errorf("decode sphinx output: %w", err)
		}
		if t := strings.TrimSpace(parsed.Text); t != "" {
			parts = append(parts, t)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(parts, " "), nil
}
