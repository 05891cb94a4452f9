package artifact

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/loqalabs/spamguard/internal/classifier"
)

// Scheme identifies an on-disk encoding of a classifier.Model.
type Scheme string

const (
	SchemeGob        Scheme = "gob"
	SchemeBundleZstd Scheme = "bundle-zstd"
	SchemeBundleJSON Scheme = "bundle-json"
)

const headerSize = 64

var (
	lfsMagic  = []byte("version https://git-lfs.github.com/spec/v1")
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Load reads the artifact at path and returns a ready pipeline.
func Load(path string) (classifier.Pipeline, error) {
	model, scheme, err := Decode(path)
	if err != nil {
		return nil, err
	}
	pipeline, err := model.Build()
	if err != nil {
		return nil, &DeserializationError{Path: path, Scheme: string(scheme), Err: err}
	}
	return pipeline, nil
}

// Decode reads the artifact without building it. Scheme A (gob) is tried
// first; any failure falls through to scheme B (bundle) whose error is the
// one reported.
func Decode(path string) (*classifier.Model, Scheme, error) {
	head, err := readHeader(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, "", &DeserializationError{Path: path, Scheme: "header", Err: err}
	}
	if isPlaceholder(head) {
		return nil, "", &PlaceholderError{Path: path}
	}

	if model, err := decodeGob(path); err == nil {
		return model, SchemeGob, nil
	}
	model, scheme, err := decodeBundle(path)
	if err != nil {
		return nil, "", &DeserializationError{Path: path, Scheme: "bundle", Err: err}
	}
	return model, scheme, nil
}

func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, headerSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

func isPlaceholder(head []byte) bool {
	return bytes.HasPrefix(head, lfsMagic)
}

func decodeGob(path string) (*classifier.Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var model classifier.Model
	if err := gob.NewDecoder(f).Decode(&model); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return &model, nil
}

func decodeBundle(path string) (*classifier.Model, Scheme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	scheme := SchemeBundleJSON
	if bytes.HasPrefix(data, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, "", fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, "", fmt.Errorf("zstd decode: %w", err)
		}
		scheme = SchemeBundleZstd
	}
	var model classifier.Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, "", fmt.Errorf("decode bundle: %w", err)
	}
	return &model, scheme, nil
}
