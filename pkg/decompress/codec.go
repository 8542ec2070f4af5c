package decompress

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Codec turns a compressed stream into a decompressed one
type Codec interface {
	Name() string
	NewReader(r io.Reader) (io.ReadCloser, error)
}

var (
	// XZ decodes xz streams, the compression used for MAR entries
	XZ Codec = xzCodec{}
	// Zstd decodes Zstandard streams
	Zstd Codec = zstdCodec{}
	// Gzip decodes gzip streams
	Gzip Codec = gzipCodec{}
	// Auto picks XZ, Zstd or Gzip from the stream's magic bytes
	Auto Codec = autoCodec{}
)

var (
	xzMagic   = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	gzipMagic = []byte{0x1F, 0x8B}
)

// CodecByName returns the codec registered under name
func CodecByName(name string) (Codec, error) {
	for _, c := range []Codec{XZ, Zstd, Gzip, Auto} {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unknown compression %q", name)
}

type xzCodec struct{}

func (xzCodec) Name() string { return "xz" }

func (xzCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	xzr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create xz reader: %w", err)
	}
	return io.NopCloser(xzr), nil
}

type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	return zr.IOReadCloser(), nil
}

type gzipCodec struct{}

func (gzipCodec) Name() string { return "gzip" }

func (gzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	return gzr, nil
}

type autoCodec struct{}

func (autoCodec) Name() string { return "auto" }

func (autoCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(xzMagic))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read stream header: %w", err)
	}
	switch {
	case bytes.HasPrefix(head, xzMagic):
		return XZ.NewReader(br)
	case bytes.HasPrefix(head, zstdMagic):
		return Zstd.NewReader(br)
	case bytes.HasPrefix(head, gzipMagic):
		return Gzip.NewReader(br)
	default:
		return nil, fmt.Errorf("unrecognized compression format")
	}
}
