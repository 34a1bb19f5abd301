package wire

import (
	"encoding/binary"
	"fmt"

	binaryutil "github.com/natebridge/muxrpc/internal/binary"
)

// DefaultMaxMessageSize is the default ceiling on a single message's
// declared length inside a payload frame (spec §4.3).
const DefaultMaxMessageSize = 4 * 1024 * 1024 // 4 MiB

// MessageTooLargeError is returned when a declared payload length exceeds the
// configured maximum.
type MessageTooLargeError struct {
	Declared int
	Max      int
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("wire: message of %d bytes exceeds max %d bytes", e.Declared, e.Max)
}

// EncodePayload builds one payload frame: [compression_flag:u8][length:u32 BE][message_bytes].
func EncodePayload(compressed bool, message []byte) []byte {
	buf := make([]byte, 1+4+len(message))
	if compressed {
		buf[0] = 1
	}
	binaryutil.Put(binary.BigEndian, buf[1:5], uint32(len(message)))
	copy(buf[5:], message)
	return buf
}

// PayloadReader reassembles concatenated length-prefixed payload frames from
// arbitrary chunk boundaries (C3). Not safe for concurrent use; one instance
// per stream direction.
type PayloadReader struct {
	buf            []byte
	MaxMessageSize int
}

// NewPayloadReader creates a PayloadReader with the given max message size.
// A zero maxMessageSize uses DefaultMaxMessageSize.
func NewPayloadReader(maxMessageSize int) *PayloadReader {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &PayloadReader{MaxMessageSize: maxMessageSize}
}

// Message is one decoded payload-frame message plus its compression flag.
type Message struct {
	Compressed bool
	Data       []byte
}

// Push appends b to the internal accumulator and returns every whole payload
// frame that can now be extracted. Partial trailing bytes remain buffered
// for the next call.
func (p *PayloadReader) Push(b []byte) ([]Message, error) {
	p.buf = append(p.buf, b...)

	var out []Message
	for {
		if len(p.buf) < 5 {
			break
		}
		declared := int(binaryutil.Get[uint32](binary.BigEndian, p.buf[1:5]))
		if declared > p.MaxMessageSize {
			return out, &MessageTooLargeError{Declared: declared, Max: p.MaxMessageSize}
		}
		total := 5 + declared
		if len(p.buf) < total {
			break
		}
		compressed := p.buf[0] == 1
		data := append([]byte(nil), p.buf[5:total]...)
		out = append(out, Message{Compressed: compressed, Data: data})
		p.buf = p.buf[total:]
	}
	// Keep the residual compact; avoid unbounded growth of a shared backing array.
	if len(p.buf) > 0 {
		residual := make([]byte, len(p.buf))
		copy(residual, p.buf)
		p.buf = residual
	} else {
		p.buf = nil
	}
	return out, nil
}
