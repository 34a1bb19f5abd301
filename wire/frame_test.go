package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []Frame{
		{StreamID: 1, Flags: FlagMetadata | FlagHasMethodPath, MethodPath: "/Echo/Ping", Body: EncodeHeaders(HeaderList{{Name: ":path", Value: "/Echo/Ping"}})},
		{StreamID: 1, Flags: 0, Body: EncodePayload(false, []byte("hello"))},
		{StreamID: 2, Flags: FlagMetadata | FlagEndStream, Body: EncodeHeaders(HeaderList{{Name: HeaderGRPCStatus, Value: "0"}})},
	}
	for _, f := range tests {
		b, err := Encode(f)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		got, err := Decode(b)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.StreamID != f.StreamID || got.Flags != f.Flags || got.MethodPath != f.MethodPath {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, f)
		}
		if !bytes.Equal(got.Body, f.Body) {
			t.Fatalf("body mismatch: got %x want %x", got.Body, f.Body)
		}
	}
}

func TestEncodeRejectsZeroStreamID(t *testing.T) {
	_, err := Encode(Frame{StreamID: 0})
	if err == nil {
		t.Fatal("expected error for stream_id == 0")
	}
}

func TestEncodeRejectsMethodPathOnData(t *testing.T) {
	_, err := Encode(Frame{StreamID: 1, Flags: FlagHasMethodPath, MethodPath: "/x/y"})
	if err == nil {
		t.Fatal("expected protocol error for HAS_METHOD_PATH on DATA frame")
	}
}

func TestDecodeTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{0, 0, 0})
	if err != ErrMalformedFrame {
		t.Fatalf("got %v, want ErrMalformedFrame", err)
	}
}

func TestLengthPrefixedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{StreamID: 5, Flags: 0, Body: EncodePayload(false, []byte("payload"))}
	if err := WriteLengthPrefixed(&buf, f); err != nil {
		t.Fatalf("WriteLengthPrefixed: %v", err)
	}
	got, err := ReadLengthPrefixed(&buf)
	if err != nil {
		t.Fatalf("ReadLengthPrefixed: %v", err)
	}
	if got.StreamID != 5 || !bytes.Equal(got.Body, f.Body) {
		t.Fatalf("got %+v, want %+v", got, f)
	}
}

func TestHeaderListGetLastOccurrenceWins(t *testing.T) {
	h := HeaderList{
		{Name: "grpc-status", Value: "0"},
		{Name: "x-custom", Value: "a"},
		{Name: "grpc-status", Value: "5"},
	}
	v, ok := h.Get("grpc-status")
	if !ok || v != "5" {
		t.Fatalf("Get(grpc-status) = %q, %v, want 5, true", v, ok)
	}
	all := h.All("grpc-status")
	if len(all) != 2 {
		t.Fatalf("All(grpc-status) = %v, want 2 entries", all)
	}
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := HeaderList{{Name: ":path", Value: "/Echo/Ping"}, {Name: "x-trace", Value: "abc"}}
	b := EncodeHeaders(h)
	got, err := DecodeHeaders(b)
	if err != nil {
		t.Fatalf("DecodeHeaders: %v", err)
	}
	if len(got) != len(h) {
		t.Fatalf("got %v, want %v", got, h)
	}
	for i := range h {
		if got[i] != h[i] {
			t.Fatalf("entry %d: got %+v want %+v", i, got[i], h[i])
		}
	}
}
