package compress

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Compress encodes and decodes opaque payloads such as cached aggregates and
// exported backup snapshots.
type Compress interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

var (
	_ Compress = GZip{}
	_ Compress = Brotli{}
	_ Compress = LZ4{}
	_ Compress = Nop{}
)

// ByName returns the codec for one of gzip, brotli, lz4 or none.
func ByName(name string) (Compress, error) {
	switch strings.ToLower(name) {
	case "gzip", "gz":
		return NewGZip(), nil
	case "brotli", "br":
		return NewBrotli(), nil
	case "lz4":
		return NewLZ4(), nil
	case "none", "nop", "":
		return NewNop(), nil
	}

	return nil, fmt.Errorf("unknown compression %q", name)
}

// ForFile picks the codec from a file extension; unknown extensions are stored raw.
func ForFile(path string) Compress {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return NewGZip()
	case ".br":
		return NewBrotli()
	case ".lz4":
		return NewLZ4()
	}

	return NewNop()
}

// Nop stores payloads as they are.
type Nop struct{}

func NewNop() Nop { return Nop{} }

func (Nop) Encode(data []byte) ([]byte, error) { return data, nil }

func (Nop) Decode(data []byte) ([]byte, error) { return data, nil }
