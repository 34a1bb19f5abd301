package caller

import (
	"strconv"
	"testing"
	"time"

	"github.com/natebridge/muxrpc/credentials"
	"github.com/natebridge/muxrpc/hedge"
	"github.com/natebridge/muxrpc/registry"
	"github.com/natebridge/muxrpc/retry"
	"github.com/natebridge/muxrpc/status"
	"github.com/natebridge/muxrpc/streamid"
	"github.com/natebridge/muxrpc/wire"
)

// recordingSender captures every frame sent and optionally drives a
// responder-side script in response, simulating the peer without a real
// transport.
type recordingSender struct {
	frames []wire.Frame
	onSend func(f wire.Frame)
}

func (s *recordingSender) SendFrame(f wire.Frame) error {
	s.frames = append(s.frames, f)
	if s.onSend != nil {
		s.onSend(f)
	}
	return nil
}

func trailerFrame(id uint32, code status.Code, msg string) wire.Frame {
	var hl wire.HeaderList
	hl.Add(wire.HeaderGRPCStatus, strconv.FormatUint(uint64(code), 10))
	if msg != "" {
		hl.Add(wire.HeaderGRPCMessage, msg)
	}
	return wire.Frame{StreamID: id, Flags: wire.FlagMetadata | wire.FlagEndStream, Body: wire.EncodeHeaders(hl)}
}

func newTestRuntime() (*Runtime, *registry.StreamRegistry, *recordingSender) {
	streams := registry.NewStreamRegistry()
	sender := &recordingSender{}
	ids := streamid.New(streamid.Caller)
	return New(sender, ids, streams), streams, sender
}

func TestCallUnarySuccess(t *testing.T) {
	r, streams, sender := newTestRuntime()

	sender.onSend = func(f wire.Frame) {
		if f.Flags.EndStream() && !f.Flags.IsMetadata() {
			entry, ok := streams.Lookup(f.StreamID)
			if !ok {
				t.Fatalf("[TestCallUnarySuccess]: stream %d not registered", f.StreamID)
			}
			if err := entry.Deliver(false, false, wire.EncodePayload(false, []byte("pong"))); err != nil {
				t.Fatalf("[TestCallUnarySuccess]: Deliver data: %v", err)
			}
			if err := entry.Deliver(true, true, trailerFrame(f.StreamID, status.OK, "").Body); err != nil {
				t.Fatalf("[TestCallUnarySuccess]: Deliver trailer: %v", err)
			}
		}
	}

	resp, err := r.CallUnary(t.Context(), "/Echo/Say", []byte("ping"))
	if err != nil {
		t.Fatalf("[TestCallUnarySuccess]: got err = %v, want nil", err)
	}
	if string(resp) != "pong" {
		t.Errorf("[TestCallUnarySuccess]: got resp = %q, want %q", resp, "pong")
	}
	if streams.Len() != 0 {
		t.Errorf("[TestCallUnarySuccess]: got %d streams still registered, want 0", streams.Len())
	}
}

func TestCallUnaryErrorTrailer(t *testing.T) {
	r, streams, sender := newTestRuntime()

	sender.onSend = func(f wire.Frame) {
		if f.Flags.EndStream() && !f.Flags.IsMetadata() {
			entry, _ := streams.Lookup(f.StreamID)
			_ = entry.Deliver(true, true, trailerFrame(f.StreamID, status.NotFound, "no such widget").Body)
		}
	}

	_, err := r.CallUnary(t.Context(), "/Widgets/Get", []byte("x"))
	if err == nil {
		t.Fatal("[TestCallUnaryErrorTrailer]: got nil err, want NotFound")
	}
	st, ok := err.(*status.Status)
	if !ok {
		t.Fatalf("[TestCallUnaryErrorTrailer]: got err of type %T, want *status.Status", err)
	}
	if st.Code != status.NotFound {
		t.Errorf("[TestCallUnaryErrorTrailer]: got code = %v, want %v", st.Code, status.NotFound)
	}
}

func TestCallUnaryAttachesPerRPCCredentials(t *testing.T) {
	streams := registry.NewStreamRegistry()
	sender := &recordingSender{}
	ids := streamid.New(streamid.Caller)
	r := New(sender, ids, streams, WithPerRPCCredentials(credentials.NewTokenCredentials("Bearer", "tok-123", false)))

	sender.onSend = func(f wire.Frame) {
		if f.Flags.EndStream() && !f.Flags.IsMetadata() {
			entry, _ := streams.Lookup(f.StreamID)
			_ = entry.Deliver(true, true, trailerFrame(f.StreamID, status.OK, "").Body)
		}
	}

	if _, err := r.CallUnary(t.Context(), "/Echo/Say", []byte("ping")); err != nil {
		t.Fatalf("[TestCallUnaryAttachesPerRPCCredentials]: CallUnary: %v", err)
	}

	meta := sender.frames[0]
	if !meta.Flags.IsMetadata() || meta.Flags.EndStream() {
		t.Fatalf("[TestCallUnaryAttachesPerRPCCredentials]: frame 0 = %+v, want initial METADATA", meta)
	}
	hl, err := wire.DecodeHeaders(meta.Body)
	if err != nil {
		t.Fatalf("[TestCallUnaryAttachesPerRPCCredentials]: DecodeHeaders: %v", err)
	}
	got, ok := hl.Get("authorization")
	if !ok || got != "Bearer tok-123" {
		t.Errorf("[TestCallUnaryAttachesPerRPCCredentials]: authorization header = %q, %v, want %q, true", got, ok, "Bearer tok-123")
	}
}

func TestCallUnaryRetriesOnRetryableErrorEachAttemptOwnStream(t *testing.T) {
	streams := registry.NewStreamRegistry()
	sender := &recordingSender{}
	ids := streamid.New(streamid.Caller)
	r := New(sender, ids, streams, WithRetryPolicy(retry.Policy{
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     1,
	}))

	var seenIDs []uint32
	sender.onSend = func(f wire.Frame) {
		if f.Flags.EndStream() && !f.Flags.IsMetadata() {
			entry, _ := streams.Lookup(f.StreamID)
			seenIDs = append(seenIDs, f.StreamID)
			if len(seenIDs) == 1 {
				_ = entry.Deliver(true, true, trailerFrame(f.StreamID, status.Unavailable, "try again").Body)
				return
			}
			_ = entry.Deliver(false, false, wire.EncodePayload(false, []byte("pong")))
			_ = entry.Deliver(true, true, trailerFrame(f.StreamID, status.OK, "").Body)
		}
	}

	resp, err := r.CallUnary(t.Context(), "/Echo/Say", []byte("ping"))
	if err != nil {
		t.Fatalf("[TestCallUnaryRetriesOnRetryableErrorEachAttemptOwnStream]: got err = %v, want nil", err)
	}
	if string(resp) != "pong" {
		t.Errorf("[TestCallUnaryRetriesOnRetryableErrorEachAttemptOwnStream]: got resp = %q, want %q", resp, "pong")
	}
	if len(seenIDs) != 2 || seenIDs[0] == seenIDs[1] {
		t.Errorf("[TestCallUnaryRetriesOnRetryableErrorEachAttemptOwnStream]: stream ids = %v, want 2 distinct ids", seenIDs)
	}
}

func TestCallUnaryHedgeReturnsFirstSuccess(t *testing.T) {
	streams := registry.NewStreamRegistry()
	sender := &recordingSender{}
	ids := streamid.New(streamid.Caller)
	r := New(sender, ids, streams, WithHedgePolicy(hedge.Policy{
		MaxHedgedRequests: 1,
		HedgeDelay:        time.Hour, // never actually fires before the original completes
	}))

	sender.onSend = func(f wire.Frame) {
		if f.Flags.EndStream() && !f.Flags.IsMetadata() {
			entry, _ := streams.Lookup(f.StreamID)
			_ = entry.Deliver(false, false, wire.EncodePayload(false, []byte("pong")))
			_ = entry.Deliver(true, true, trailerFrame(f.StreamID, status.OK, "").Body)
		}
	}

	resp, err := r.CallUnary(t.Context(), "/Echo/Say", []byte("ping"))
	if err != nil {
		t.Fatalf("[TestCallUnaryHedgeReturnsFirstSuccess]: got err = %v, want nil", err)
	}
	if string(resp) != "pong" {
		t.Errorf("[TestCallUnaryHedgeReturnsFirstSuccess]: got resp = %q, want %q", resp, "pong")
	}
}

func TestCallServerStreamMultipleMessages(t *testing.T) {
	r, streams, sender := newTestRuntime()

	sender.onSend = func(f wire.Frame) {
		if f.Flags.EndStream() && !f.Flags.IsMetadata() {
			entry, _ := streams.Lookup(f.StreamID)
			_ = entry.Deliver(false, false, wire.EncodePayload(false, []byte("one")))
			_ = entry.Deliver(false, false, wire.EncodePayload(false, []byte("two")))
			_ = entry.Deliver(true, true, trailerFrame(f.StreamID, status.OK, "").Body)
		}
	}

	stream, err := r.CallServerStream(t.Context(), "/Counter/Stream", []byte("go"))
	if err != nil {
		t.Fatalf("[TestCallServerStreamMultipleMessages]: CallServerStream: %v", err)
	}

	var got []string
	for {
		msg, ok, err := stream.Recv(t.Context())
		if err != nil {
			t.Fatalf("[TestCallServerStreamMultipleMessages]: Recv: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, string(msg))
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("[TestCallServerStreamMultipleMessages]: got %v, want [one two]", got)
	}
}

func TestClientStreamSendAfterFinishSendFails(t *testing.T) {
	r, _, _ := newTestRuntime()
	s := r.OpenClientStream("/Sum/Accumulate")

	if err := s.Send([]byte("1")); err != nil {
		t.Fatalf("[TestClientStreamSendAfterFinishSendFails]: Send: %v", err)
	}
	if err := s.FinishSending(); err != nil {
		t.Fatalf("[TestClientStreamSendAfterFinishSendFails]: FinishSending: %v", err)
	}

	err := s.Send([]byte("2"))
	if err == nil {
		t.Fatal("[TestClientStreamSendAfterFinishSendFails]: got nil err, want FailedPrecondition")
	}
	st, ok := err.(*status.Status)
	if !ok || st.Code != status.FailedPrecondition {
		t.Errorf("[TestClientStreamSendAfterFinishSendFails]: got %v, want FailedPrecondition", err)
	}
}

func TestCancelReleasesStreamID(t *testing.T) {
	streams := registry.NewStreamRegistry()
	sender := &recordingSender{}
	ids := streamid.New(streamid.Caller)
	r := New(sender, ids, streams)

	s := r.OpenBidi("/Chat/Talk")
	if !ids.IsActive(1) {
		t.Fatal("[TestCancelReleasesStreamID]: expected id 1 active after open")
	}

	s.Cancel()

	if ids.IsActive(1) {
		t.Error("[TestCancelReleasesStreamID]: expected id released after Cancel")
	}
	if _, ok := streams.Lookup(1); ok {
		t.Error("[TestCancelReleasesStreamID]: expected stream removed after Cancel")
	}

	var sawCancelFrame bool
	for _, f := range sender.frames {
		if f.Flags.IsMetadata() && f.Flags.EndStream() && !f.Flags.HasMethodPath() {
			sawCancelFrame = true
		}
	}
	if !sawCancelFrame {
		t.Error("[TestCancelReleasesStreamID]: expected a DATA-less METADATA+END_STREAM frame on cancel")
	}
}

func TestCallUnaryMaxActiveStreamsExhausted(t *testing.T) {
	streams := registry.NewStreamRegistry()
	sender := &recordingSender{}
	ids := streamid.New(streamid.Caller)
	r := New(sender, ids, streams, WithMaxActiveStreams(1))

	held, err := r.CallServerStream(t.Context(), "/Counter/Stream", []byte("go"))
	if err != nil {
		t.Fatalf("[TestCallUnaryMaxActiveStreamsExhausted]: CallServerStream: %v", err)
	}
	defer held.Cancel()

	_, err = r.CallUnary(t.Context(), "/Echo/Say", []byte("ping"))
	if err == nil {
		t.Fatal("[TestCallUnaryMaxActiveStreamsExhausted]: got nil err, want ResourceExhausted")
	}
	st, ok := err.(*status.Status)
	if !ok || st.Code != status.ResourceExhausted {
		t.Errorf("[TestCallUnaryMaxActiveStreamsExhausted]: got %v, want ResourceExhausted", err)
	}
	if ids.IsActive(3) {
		t.Error("[TestCallUnaryMaxActiveStreamsExhausted]: expected rejected call's id to be released")
	}
}

func TestAbortUnblocksPendingRecv(t *testing.T) {
	r, streams, _ := newTestRuntime()
	s, err := r.CallServerStream(t.Context(), "/Stuck/Stream", []byte("go"))
	if err != nil {
		t.Fatalf("[TestAbortUnblocksPendingRecv]: CallServerStream: %v", err)
	}

	entry, ok := streams.Lookup(s.c.id)
	if !ok {
		t.Fatal("[TestAbortUnblocksPendingRecv]: stream not registered")
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := s.Recv(t.Context())
		done <- err
	}()

	entry.Abort(status.New(status.Unavailable, "transport closed"))

	select {
	case err := <-done:
		st, ok := err.(*status.Status)
		if !ok || st.Code != status.Unavailable {
			t.Errorf("[TestAbortUnblocksPendingRecv]: got %v, want Unavailable", err)
		}
	case <-time.After(time.Second):
		t.Fatal("[TestAbortUnblocksPendingRecv]: Recv did not unblock within 1s")
	}
}
