package stt

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/spamguard/internal/config"
)

// FromConfig builds the chain in the order listed by cfg.Backends.
func FromConfig(cfg config.STTConfig, logger *slog.Logger) (*Chain, error) {
	backends := make([]Backend, 0, len(cfg.Backends))
	for _, name := range cfg.Backends {
		var (
			backend Backend
			err     error
		)
		switch name {
		case config.BackendFasterWhisper:
			backend, err = NewFasterWhisper(cfg.FasterWhisper)
		case config.BackendSphinx:
			backend, err = NewSphinx(cfg.Sphinx)
		case config.BackendRemote:
			backend = NewRemote(cfg.Remote)
		case config.BackendMock:
			backend = NewMock(cfg.Mock)
		default:
			err = fmt.Errorf("unknown stt backend %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("stt backend %s: %w", name, err)
		}
		backends = append(backends, backend)
	}
	return NewChain(logger, backends...), nil
}
