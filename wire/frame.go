// Package wire implements the on-wire frame codec (C1), the length-prefixed
// payload parser (C3), and the header-list encoding used by METADATA frames.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	binaryutil "github.com/natebridge/muxrpc/internal/binary"
)

// Flags is the one-byte flag field of a Frame.
type Flags uint8

const (
	// FlagEndStream marks the last frame sent in one direction of a stream.
	FlagEndStream Flags = 1 << 0
	// FlagMetadata marks a METADATA frame; absent means DATA.
	FlagMetadata Flags = 1 << 1
	// FlagHasMethodPath marks the presence of the method_path_len/method_path
	// fields. Only ever set together with FlagMetadata, and only on the very
	// first METADATA frame of a caller-initiated stream.
	FlagHasMethodPath Flags = 1 << 2
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// EndStream reports whether the END_STREAM bit is set.
func (f Flags) EndStream() bool { return f.has(FlagEndStream) }

// IsMetadata reports whether the IS_METADATA bit is set.
func (f Flags) IsMetadata() bool { return f.has(FlagMetadata) }

// HasMethodPath reports whether the HAS_METHOD_PATH bit is set.
func (f Flags) HasMethodPath() bool { return f.has(FlagHasMethodPath) }

// Frame is one unit of transport delivery (spec §3/§4.1).
type Frame struct {
	StreamID   uint32
	Flags      Flags
	MethodPath string
	Body       []byte
}

// ErrMalformedFrame is returned when a frame header is truncated.
var ErrMalformedFrame = fmt.Errorf("wire: malformed frame")

// ProtocolError is returned for structurally invalid but non-truncated frames.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "wire: protocol error: " + e.Reason }

func protoErr(reason string) error { return &ProtocolError{Reason: reason} }

const (
	headerFixedSize = 5 // stream_id(4) + flags(1)
	methodLenSize   = 2
)

// Encode serializes f into its on-wire byte representation (header +
// optional method path + body), without any outer length prefix. For
// byte-stream transports WriteLengthPrefixed adds the 4-byte length prefix;
// datagram transports send this slice as-is.
func Encode(f Frame) ([]byte, error) {
	if f.StreamID == 0 {
		return nil, protoErr("stream_id == 0")
	}
	if f.Flags.HasMethodPath() && !f.Flags.IsMetadata() {
		return nil, protoErr("HAS_METHOD_PATH set on non-METADATA frame")
	}
	if f.Flags.HasMethodPath() && len(f.MethodPath) > 0xFFFF {
		return nil, protoErr("method_path too long")
	}

	size := headerFixedSize
	if f.Flags.HasMethodPath() {
		size += methodLenSize + len(f.MethodPath)
	}
	size += len(f.Body)

	buf := make([]byte, size)
	binaryutil.Put(binary.BigEndian, buf[0:4], f.StreamID)
	buf[4] = byte(f.Flags)

	off := headerFixedSize
	if f.Flags.HasMethodPath() {
		binaryutil.Put(binary.BigEndian, buf[off:off+2], uint16(len(f.MethodPath)))
		off += 2
		off += copy(buf[off:], f.MethodPath)
	}
	copy(buf[off:], f.Body)
	return buf, nil
}

// Decode parses a complete frame from b. b must contain exactly one frame's
// worth of bytes (the caller is responsible for delimiting frames, e.g. via
// the 4-byte length prefix on byte-stream transports).
func Decode(b []byte) (Frame, error) {
	if len(b) < headerFixedSize {
		return Frame{}, ErrMalformedFrame
	}
	streamID := binaryutil.Get[uint32](binary.BigEndian, b[0:4])
	flags := Flags(b[4])

	if streamID == 0 {
		return Frame{}, protoErr("stream_id == 0")
	}
	if flags.HasMethodPath() && !flags.IsMetadata() {
		return Frame{}, protoErr("HAS_METHOD_PATH set on non-METADATA frame")
	}

	off := headerFixedSize
	var methodPath string
	if flags.HasMethodPath() {
		if len(b) < off+methodLenSize {
			return Frame{}, ErrMalformedFrame
		}
		n := int(binaryutil.Get[uint16](binary.BigEndian, b[off:off+2]))
		off += methodLenSize
		if len(b) < off+n {
			return Frame{}, ErrMalformedFrame
		}
		methodPath = string(b[off : off+n])
		off += n
	}

	body := append([]byte(nil), b[off:]...)
	return Frame{StreamID: streamID, Flags: flags, MethodPath: methodPath, Body: body}, nil
}

// WriteLengthPrefixed encodes f and writes it to w with a 4-byte big-endian
// length prefix, as required by byte-stream transports (spec §6.1).
func WriteLengthPrefixed(w io.Writer, f Frame) error {
	b, err := Encode(f)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binaryutil.Put(binary.BigEndian, lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadLengthPrefixed reads one length-prefixed frame from r.
func ReadLengthPrefixed(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	n := binaryutil.Get[uint32](binary.BigEndian, lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Frame{}, err
	}
	return Decode(buf)
}
