package wire

import (
	"bytes"
	"testing"
)

func TestPayloadReaderWholeFrames(t *testing.T) {
	r := NewPayloadReader(0)
	a := EncodePayload(false, []byte("one"))
	b := EncodePayload(true, []byte("two"))
	msgs, err := r.Push(append(a, b...))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Compressed || !bytes.Equal(msgs[0].Data, []byte("one")) {
		t.Fatalf("msg0 = %+v", msgs[0])
	}
	if !msgs[1].Compressed || !bytes.Equal(msgs[1].Data, []byte("two")) {
		t.Fatalf("msg1 = %+v", msgs[1])
	}
}

func TestPayloadReaderSplitAcrossChunks(t *testing.T) {
	r := NewPayloadReader(0)
	whole := EncodePayload(false, []byte("chunked message"))
	mid := len(whole) / 2

	msgs, err := r.Push(whole[:mid])
	if err != nil || len(msgs) != 0 {
		t.Fatalf("unexpected early emit: %v %v", msgs, err)
	}
	msgs, err = r.Push(whole[mid:])
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(msgs) != 1 || !bytes.Equal(msgs[0].Data, []byte("chunked message")) {
		t.Fatalf("got %+v", msgs)
	}
}

func TestPayloadReaderOverflow(t *testing.T) {
	r := NewPayloadReader(4)
	frame := EncodePayload(false, []byte("12345"))
	_, err := r.Push(frame)
	if err == nil {
		t.Fatal("expected MessageTooLargeError")
	}
	if _, ok := err.(*MessageTooLargeError); !ok {
		t.Fatalf("got %T, want *MessageTooLargeError", err)
	}
}
