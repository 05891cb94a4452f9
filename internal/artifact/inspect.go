package artifact

import (
	"bytes"
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

// Header describes the first bytes of an artifact without decoding it.
type Header struct {
	Path        string
	Exists      bool
	Size        int64
	Head        []byte
	Placeholder bool
	Sniffed     string
}

func (h Header) HeadHex() string {
	return hex.EncodeToString(h.Head)
}

// HeadASCII renders printable bytes as-is and everything else as '.'.
func (h Header) HeadASCII() string {
	var b strings.Builder
	for _, c := range h.Head {
		if c >= 32 && c < 127 {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}

// Inspect stats path and sniffs its header. A missing file is reported
// through Exists, not as an error.
func Inspect(path string) (Header, error) {
	h := Header{Path: path}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return h, nil
		}
		return h, err
	}
	h.Exists = true
	h.Size = info.Size()

	head, err := readHeader(path)
	if err != nil {
		return h, err
	}
	h.Head = head
	h.Placeholder = isPlaceholder(head)
	h.Sniffed = sniff(head)
	return h, nil
}

func sniff(head []byte) string {
	switch {
	case len(head) == 0:
		return "empty"
	case isPlaceholder(head):
		return "lfs-pointer"
	case bytes.HasPrefix(head, zstdMagic):
		return string(SchemeBundleZstd)
	case bytes.HasPrefix(bytes.TrimLeft(head, " \t\r\n"), []byte("{")):
		return string(SchemeBundleJSON)
	case looksLikeGob(head):
		return string(SchemeGob)
	default:
		return "unknown"
	}
}

// looksLikeGob checks gob stream framing: a message length followed by a
// negative type id, which opens the type definition of a user type.
func looksLikeGob(head []byte) bool {
	length, n, ok := gobUint(head)
	if !ok || length == 0 || length > maxGobMessage {
		return false
	}
	u, _, ok := gobUint(head[n:])
	if !ok || u&1 == 0 {
		return false
	}
	id := ^int64(u >> 1)
	return id <= -firstGobUserType
}

const (
	maxGobMessage    = 1 << 30
	firstGobUserType = 64
)

// gobUint decodes gob's unsigned integer encoding: values below 128 are one
// byte, larger ones are a negated byte count followed by big-endian bytes.
func gobUint(buf []byte) (uint64, int, bool) {
	if len(buf) == 0 {
		return 0, 0, false
	}
	b := buf[0]
	if b <= 0x7f {
		return uint64(b), 1, true
	}
	n := -int(int8(b))
	if n > 8 || len(buf) < 1+n {
		return 0, 0, false
	}
	var x uint64
	for _, c := range buf[1 : 1+n] {
		x = x<<8 | uint64(c)
	}
	return x, 1 + n, true
}
