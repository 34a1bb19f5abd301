// Package metadata provides the ordered header-list model used for RPC
// initial metadata and trailers (spec §3: duplicates allowed, last
// occurrence wins for reserved single-valued keys). Adapted from the
// teacher's map-based MD type, whose public surface (New, Pairs, Get, Set,
// Clone, FromContext/NewContext) is kept, now backed by an ordered slice.
package metadata

import (
	"github.com/gostdlib/base/context"

	"github.com/natebridge/muxrpc/wire"
)

// MD is an ordered list of metadata pairs. Unlike a map, duplicate keys are
// preserved on the wire; Get/GetString implement last-occurrence-wins.
type MD struct {
	pairs wire.HeaderList
}

// New creates metadata from key-value pairs, provided as
// (key, value, key, value, ...).
func New(kv ...string) MD {
	if len(kv)%2 != 0 {
		panic("metadata: New requires even number of arguments")
	}
	md := MD{}
	for i := 0; i < len(kv); i += 2 {
		md.pairs.Add(kv[i], kv[i+1])
	}
	return md
}

// Pairs creates metadata from key-value pairs where values may be string or
// []byte, provided as (key, value, key, value, ...).
func Pairs(kv ...any) MD {
	if len(kv)%2 != 0 {
		panic("metadata: Pairs requires even number of arguments")
	}
	md := MD{}
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic("metadata: Pairs key must be string")
		}
		switch v := kv[i+1].(type) {
		case string:
			md.pairs.Add(key, v)
		case []byte:
			md.pairs.Add(key, string(v))
		default:
			panic("metadata: Pairs value must be string or []byte")
		}
	}
	return md
}

// FromHeaderList wraps an already-decoded wire.HeaderList.
func FromHeaderList(h wire.HeaderList) MD {
	return MD{pairs: h}
}

// HeaderList returns the underlying ordered pairs for wire encoding.
func (md MD) HeaderList() wire.HeaderList {
	return md.pairs
}

// Get retrieves the last value for key, and whether it was present.
func (md MD) Get(key string) (string, bool) {
	return md.pairs.Get(key)
}

// GetString retrieves the last value for key, or "" if absent.
func (md MD) GetString(key string) string {
	v, _ := md.pairs.Get(key)
	return v
}

// All returns every value for key in wire order.
func (md MD) All(key string) []string {
	return md.pairs.All(key)
}

// Set appends a new occurrence of key=value. Callers who need
// single-valued semantics rely on Get's last-occurrence-wins rule rather
// than Set removing prior occurrences, matching the wire model exactly.
func (md *MD) Set(key, value string) {
	md.pairs.Add(key, value)
}

// Clone returns a deep copy of md.
func (md MD) Clone() MD {
	return MD{pairs: md.pairs.Clone()}
}

// Len returns the number of pairs, including duplicates.
func (md MD) Len() int {
	return len(md.pairs)
}

// mdKey is the context key for metadata.
type mdKey struct{}

// NewContext creates a new context with md attached.
func NewContext(ctx context.Context, md MD) context.Context {
	return context.WithValue(ctx, mdKey{}, md)
}

// FromContext retrieves metadata from a context.
func FromContext(ctx context.Context) (MD, bool) {
	md, ok := ctx.Value(mdKey{}).(MD)
	return md, ok
}

// AppendToContext appends key-value pairs to the metadata already in ctx,
// creating a fresh MD if none is attached yet.
func AppendToContext(ctx context.Context, kv ...string) context.Context {
	md, ok := FromContext(ctx)
	if !ok {
		md = New(kv...)
	} else {
		md = md.Clone()
		for i := 0; i < len(kv); i += 2 {
			md.Set(kv[i], kv[i+1])
		}
	}
	return NewContext(ctx, md)
}
