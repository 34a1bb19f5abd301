package compress

import (
	"bytes"
	"testing"
)

func TestCompressorsRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		alg  Type
		data []byte
	}{
		{"gzip small", TypeGzip, []byte("hello world")},
		{"gzip large", TypeGzip, bytes.Repeat([]byte("hello world "), 1000)},
		{"snappy small", TypeSnappy, []byte("hello world")},
		{"snappy large", TypeSnappy, bytes.Repeat([]byte("hello world "), 1000)},
		{"zstd small", TypeZstd, []byte("hello world")},
		{"zstd large", TypeZstd, bytes.Repeat([]byte("hello world "), 1000)},
		{"none passthrough", None, []byte("hello world")},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			compressed, err := Compress(test.alg, test.data)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			decompressed, err := Decompress(test.alg, compressed)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(test.data, decompressed) {
				t.Fatalf("roundtrip mismatch: got %q want %q", decompressed, test.data)
			}
		})
	}
}

func TestCompressEmptyData(t *testing.T) {
	for _, alg := range []Type{TypeGzip, TypeSnappy, TypeZstd, None} {
		compressed, err := Compress(alg, nil)
		if err != nil {
			t.Fatalf("Compress(%v): %v", alg, err)
		}
		decompressed, err := Decompress(alg, compressed)
		if err != nil {
			t.Fatalf("Decompress(%v): %v", alg, err)
		}
		if len(decompressed) != 0 {
			t.Fatalf("Decompress(%v) got len %d, want 0", alg, len(decompressed))
		}
	}
}

func TestCompressActuallyCompresses(t *testing.T) {
	data := bytes.Repeat([]byte("hello world "), 1000)
	for _, alg := range []Type{TypeGzip, TypeSnappy, TypeZstd} {
		compressed, err := Compress(alg, data)
		if err != nil {
			t.Fatalf("Compress(%v): %v", alg, err)
		}
		if len(compressed) >= len(data) {
			t.Fatalf("Compress(%v): compressed size %d >= original %d", alg, len(compressed), len(data))
		}
	}
}

type reverseCompressor struct{}

func (reverseCompressor) Type() Type { return Type(100) }

func (reverseCompressor) Compress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	for i, b := range data {
		out[len(data)-1-i] = b
	}
	return out, nil
}

func (reverseCompressor) Decompress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	for i, b := range data {
		out[len(data)-1-i] = b
	}
	return out, nil
}

func TestCustomCompressor(t *testing.T) {
	Register(reverseCompressor{})
	data := []byte("test data")
	compressed, err := Compress(Type(100), data)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	decompressed, err := Decompress(Type(100), compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(data, decompressed) {
		t.Fatalf("roundtrip mismatch: got %q want %q", decompressed, data)
	}
}

func TestUnregisteredCompressor(t *testing.T) {
	if _, err := Compress(Type(200), []byte("data")); err == nil {
		t.Fatal("expected error for unregistered compressor")
	}
	if _, err := Decompress(Type(200), []byte("data")); err == nil {
		t.Fatal("expected error for unregistered compressor")
	}
}

func TestGetCompressor(t *testing.T) {
	for _, alg := range []Type{TypeGzip, TypeSnappy, TypeZstd} {
		if Get(alg) == nil {
			t.Fatalf("Get(%v) = nil, want compressor", alg)
		}
	}
	if Get(None) != nil {
		t.Fatal("Get(None) should be nil")
	}
	if Get(Type(250)) != nil {
		t.Fatal("Get(unregistered) should be nil")
	}
}
