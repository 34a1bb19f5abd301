package wire

import (
	"encoding/binary"
	"strconv"

	binaryutil "github.com/natebridge/muxrpc/internal/binary"
)

// Header is one (name, value) pair carried in a METADATA frame body.
type Header struct {
	Name  string
	Value string
}

// Reserved header names with single-valued, last-occurrence-wins semantics
// (spec §3).
const (
	HeaderGRPCStatus  = "grpc-status"
	HeaderGRPCMessage = "grpc-message"
	HeaderContentType = "content-type"
	HeaderPseudoMethod    = ":method"
	HeaderPseudoPath      = ":path"
	HeaderPseudoScheme    = ":scheme"
	HeaderPseudoAuthority = ":authority"
)

// HeaderList is an ordered sequence of header pairs. Duplicates are allowed
// on the wire; Get implements last-occurrence-wins.
type HeaderList []Header

// Add appends a pair, preserving order and duplicates.
func (h *HeaderList) Add(name, value string) {
	*h = append(*h, Header{Name: name, Value: value})
}

// Get returns the value of the last occurrence of name, and whether it was
// present at all.
func (h HeaderList) Get(name string) (string, bool) {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Name == name {
			return h[i].Value, true
		}
	}
	return "", false
}

// All returns every value associated with name, in wire order.
func (h HeaderList) All(name string) []string {
	var out []string
	for _, hd := range h {
		if hd.Name == name {
			out = append(out, hd.Value)
		}
	}
	return out
}

// Clone returns a deep copy of h.
func (h HeaderList) Clone() HeaderList {
	if h == nil {
		return nil
	}
	out := make(HeaderList, len(h))
	copy(out, h)
	return out
}

// EncodeHeaders serializes a HeaderList to the bytes carried as a METADATA
// frame's Body. Format: repeated [name_len:u16][name][value_len:u16][value].
func EncodeHeaders(h HeaderList) []byte {
	size := 0
	for _, hd := range h {
		size += 2 + len(hd.Name) + 2 + len(hd.Value)
	}
	buf := make([]byte, 0, size)
	for _, hd := range h {
		buf = appendU16String(buf, hd.Name)
		buf = appendU16String(buf, hd.Value)
	}
	return buf
}

// DecodeHeaders parses the bytes produced by EncodeHeaders.
func DecodeHeaders(b []byte) (HeaderList, error) {
	var out HeaderList
	for len(b) > 0 {
		name, rest, err := readU16String(b)
		if err != nil {
			return nil, err
		}
		value, rest2, err := readU16String(rest)
		if err != nil {
			return nil, err
		}
		out = append(out, Header{Name: name, Value: value})
		b = rest2
	}
	return out, nil
}

func appendU16String(buf []byte, s string) []byte {
	var lenBuf [2]byte
	binaryutil.Put(binary.BigEndian, lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

func readU16String(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, ErrMalformedFrame
	}
	n := int(binaryutil.Get[uint16](binary.BigEndian, b[:2]))
	b = b[2:]
	if len(b) < n {
		return "", nil, ErrMalformedFrame
	}
	return string(b[:n]), b[n:], nil
}

// StatusFromTrailer extracts grpc-status/grpc-message from a trailer header
// list. Missing grpc-status is treated as OK per a permissive default; core
// callers should only invoke this on frames already known to be trailers.
func StatusFromTrailer(h HeaderList) (code int, message string) {
	if v, ok := h.Get(HeaderGRPCStatus); ok {
		if n, err := strconv.Atoi(v); err == nil {
			code = n
		}
	}
	message, _ = h.Get(HeaderGRPCMessage)
	return code, message
}
