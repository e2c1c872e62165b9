package publisher

import (
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// newCompressor maps a configured compression name to a compressor. Empty
// and "none" mean no compression.
func newCompressor(name string) (Compressor, error) {
	switch name {
	case "", "none":
		return noCompressor{}, nil
	case "zstd":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		return zstdCompressor{enc: enc}, nil
	case "snappy":
		return snappyCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

type noCompressor struct{}

func (noCompressor) Compress(payload []byte) []byte { return payload }
func (noCompressor) Name() string                   { return "none" }

type zstdCompressor struct {
	enc *zstd.Encoder
}

func (c zstdCompressor) Compress(payload []byte) []byte {
	return c.enc.EncodeAll(payload, nil)
}

func (zstdCompressor) Name() string { return "zstd" }

type snappyCompressor struct{}

func (snappyCompressor) Compress(payload []byte) []byte {
	return s2.EncodeSnappy(nil, payload)
}

func (snappyCompressor) Name() string { return "snappy" }
