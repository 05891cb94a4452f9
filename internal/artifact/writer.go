package artifact

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/loqalabs/spamguard/internal/classifier"
)

// Write encodes model with the given scheme.
func Write(w io.Writer, model *classifier.Model, scheme Scheme) error {
	switch scheme {
	case SchemeGob:
		return gob.NewEncoder(w).Encode(model)
	case SchemeBundleJSON:
		return json.NewEncoder(w).Encode(model)
	case SchemeBundleZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("zstd writer: %w", err)
		}
		if err := json.NewEncoder(enc).Encode(model); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown artifact scheme %q", scheme)
	}
}

// Save writes model to path atomically.
func Save(path string, model *classifier.Model, scheme Scheme) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".spamguard_model_*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, model, scheme); err != nil {
		tmp.Close()
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp artifact: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
