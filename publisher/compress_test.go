package publisher

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

func TestNewCompressorNames(t *testing.T) {
	for _, tt := range []struct {
		format string
		want   string
	}{
		{"", "none"},
		{"none", "none"},
		{"zstd", "zstd"},
		{"snappy", "snappy"},
	} {
		compressor, err := newCompressor(tt.format)
		if err != nil {
			t.Fatalf("newCompressor(%q): %v", tt.format, err)
		}
		if compressor.Name() != tt.want {
			t.Errorf("newCompressor(%q).Name() = %s, want %s", tt.format, compressor.Name(), tt.want)
		}
	}

	if _, err := newCompressor("lz4"); err == nil {
		t.Fatal("expected error for unknown compression")
	}
}

func TestNoCompressorPassesThrough(t *testing.T) {
	compressor, _ := newCompressor("none")
	payload := []byte(`{"type":"delete","table":"todos","id":1}`)
	if got := compressor.Compress(payload); !bytes.Equal(got, payload) {
		t.Error("none compressor must not alter the payload")
	}
}

// Consumers decompress with stock zstd/snappy decoders, so the output has
// to be standard frames.
func TestZstdOutputDecodes(t *testing.T) {
	compressor, err := newCompressor("zstd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := bytes.Repeat([]byte(`{"type":"create","table":"todos"}`), 20)
	compressed := compressor.Compress(payload)

	reader, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatalf("failed to create zstd reader: %v", err)
	}
	defer reader.Close()

	restored, err := reader.DecodeAll(compressed, nil)
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !bytes.Equal(restored, payload) {
		t.Error("zstd round trip lost data")
	}
}

func TestSnappyOutputDecodes(t *testing.T) {
	compressor, err := newCompressor("snappy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := bytes.Repeat([]byte(`{"type":"create","table":"todos"}`), 20)
	compressed := compressor.Compress(payload)

	restored, err := s2.Decode(nil, compressed)
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !bytes.Equal(restored, payload) {
		t.Error("snappy round trip lost data")
	}
}
