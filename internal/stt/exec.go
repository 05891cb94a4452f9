package stt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

func parseCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return args, nil
}

func onPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// runCommand executes base with args and returns stdout. A non-zero exit
// includes stderr in the error.
func runCommand(ctx context.Context, base []string, stdin io.Reader, args ...string) ([]byte, error) {
	cmdArgs := append(append([]string{}, base[1:]...), args...)
	command := exec.CommandContext(ctx, base[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdin = stdin
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", base[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
