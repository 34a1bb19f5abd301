// Package compress provides an optional payload-compression plugin layer
// above the core wire format. The core only preserves and forwards the
// compression_flag byte in a payload frame (spec §3); this package is the
// enrichment that actually implements a handful of algorithms behind it.
package compress

import (
	"fmt"

	"github.com/gostdlib/base/concurrency/sync"
)

// Compressor defines the interface for compression algorithms.
type Compressor interface {
	// Compress compresses data. Returns compressed data or error.
	Compress(data []byte) ([]byte, error)

	// Decompress decompresses data. Returns original data or error.
	Decompress(data []byte) ([]byte, error)

	// Type returns the compression type for the wire protocol.
	Type() Type
}

var (
	registry   = map[Type]Compressor{}
	registryMu sync.RWMutex
)

// Register adds a compressor to the registry. This can be used to register
// custom compressors or override built-in compressors. Thread-safe.
func Register(c Compressor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[c.Type()] = c
}

// Get returns the compressor for the given type, or nil if not found.
func Get(t Type) Compressor {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[t]
}

// Compress compresses data using the specified algorithm.
// Returns original data unchanged if type is None.
// Returns an error if the compressor is not registered.
func Compress(t Type, data []byte) ([]byte, error) {
	if t == None {
		return data, nil
	}
	if len(data) == 0 {
		return data, nil
	}
	c := Get(t)
	if c == nil {
		return nil, fmt.Errorf("compressor not registered for type %d", t)
	}
	return c.Compress(data)
}

// Decompress decompresses data using the specified algorithm.
// Returns original data unchanged if type is None.
// Returns an error if the compressor is not registered.
func Decompress(t Type, data []byte) ([]byte, error) {
	if t == None {
		return data, nil
	}
	if len(data) == 0 {
		return data, nil
	}
	c := Get(t)
	if c == nil {
		return nil, fmt.Errorf("compressor not registered for type %d", t)
	}
	return c.Decompress(data)
}

func init() {
	Register(&Gzip{})
	Register(&Snappy{})
	Register(&Zstd{})
}
