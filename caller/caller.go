// Package caller implements the caller runtime (C7): per-call-kind factories
// that allocate a self-assigned stream id, drive the call's callstate
// machine, and exchange framed payloads over a shared FrameSender. Adapted
// from the teacher's session/SyncClient model (mutex-guarded pending map,
// per-session channels), generalized to the four call shapes and to this
// module's handshake-free stream-id allocation (spec §4.7, §9).
package caller

import (
	"strconv"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"
	"github.com/gostdlib/base/telemetry/otel/trace/span"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/natebridge/muxrpc/callstate"
	"github.com/natebridge/muxrpc/credentials"
	"github.com/natebridge/muxrpc/hedge"
	"github.com/natebridge/muxrpc/internal/streamio"
	"github.com/natebridge/muxrpc/registry"
	"github.com/natebridge/muxrpc/retry"
	"github.com/natebridge/muxrpc/status"
	"github.com/natebridge/muxrpc/streamid"
	"github.com/natebridge/muxrpc/wire"
)

// FrameSender serializes and writes one wire frame. Declared locally so
// this package does not depend on a concrete transport or on the endpoint
// package that owns the write-side mutex (spec §5: transport writer is
// serialized).
type FrameSender interface {
	SendFrame(f wire.Frame) error
}

// Runtime is the caller side of one endpoint: it owns the subset of
// transport/registry access needed to originate calls.
type Runtime struct {
	sender        FrameSender
	ids           *streamid.Allocator
	streams       *registry.StreamRegistry
	inboxCapacity int
	maxActive     int
	creds         credentials.PerRPCCredentials
	retryPolicy   *retry.Policy
	hedgePolicy   *hedge.Policy
}

// Option configures a Runtime at construction time.
type Option func(*Runtime)

// WithInboxCapacity overrides the per-stream inbox size (spec §5's default
// of streamio.DefaultCapacity otherwise applies).
func WithInboxCapacity(n int) Option {
	return func(r *Runtime) { r.inboxCapacity = n }
}

// WithMaxActiveStreams sets the number of open streams in the Runtime's
// stream registry (which may also hold peer-originated streams) at which
// CallUnary and CallServerStream fail fast with RESOURCE_EXHAUSTED instead
// of sending (spec §5's high-water mark). OpenClientStream and OpenBidi do
// not check it. Zero (the default) means unbounded.
func WithMaxActiveStreams(n int) Option {
	return func(r *Runtime) { r.maxActive = n }
}

// WithPerRPCCredentials attaches creds to every call this Runtime
// originates: its GetRequestMetadata result is merged into the initial
// METADATA frame's header list (spec §4.1).
func WithPerRPCCredentials(creds credentials.PerRPCCredentials) Option {
	return func(r *Runtime) { r.creds = creds }
}

// WithRetryPolicy makes CallUnary retry a failed attempt according to
// policy, each retry running on its own freshly allocated stream (spec §9).
// Only CallUnary is retried/hedged: the streaming call shapes have
// caller-visible partial progress (messages already sent or received) that
// a transparent re-attempt cannot safely replay.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(r *Runtime) { r.retryPolicy = &policy }
}

// WithHedgePolicy makes CallUnary hedge: it fires one or more speculative
// duplicate attempts in parallel, each on its own stream, and returns
// whichever settles first (spec §9). Composes with WithRetryPolicy: when
// both are set, each hedge branch is itself retried on failure.
func WithHedgePolicy(policy hedge.Policy) Option {
	return func(r *Runtime) { r.hedgePolicy = &policy }
}

// New creates a caller Runtime. ids must be a streamid.Allocator created
// with streamid.Caller so originated stream ids follow the odd-starting-at-1
// convention (spec §4.2).
func New(sender FrameSender, ids *streamid.Allocator, streams *registry.StreamRegistry, opts ...Option) *Runtime {
	r := &Runtime{sender: sender, ids: ids, streams: streams}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// admit reports whether a new stream may be opened under maxActive, and if
// so registers it; ok is false once the cap is reached.
func (r *Runtime) admit(id uint32, c *call) bool {
	if r.maxActive > 0 && r.streams.Len() >= r.maxActive {
		return false
	}
	return r.streams.Create(id, c)
}

// call is the shared per-stream state behind every call handle. It
// implements registry.StreamEntry so the endpoint's read loop can deliver
// inbound frames to it.
type call struct {
	id      uint32
	method  string
	machine *callstate.Machine
	inbox   *streamio.Inbox
	payload *wire.PayloadReader
	sender  FrameSender
	creds   credentials.PerRPCCredentials
	ctx     context.Context

	mu       sync.Mutex
	sentMeta bool
}

func newCall(sender FrameSender, id uint32, method string, inboxCapacity int, creds credentials.PerRPCCredentials, ctx context.Context) *call {
	return &call{
		id:      id,
		method:  method,
		machine: callstate.New(callstate.RoleCaller),
		inbox:   streamio.NewInbox(inboxCapacity),
		payload: wire.NewPayloadReader(0),
		sender:  sender,
		creds:   creds,
		ctx:     ctx,
	}
}

// Deliver implements registry.StreamEntry.
func (c *call) Deliver(isMetadata, endStream bool, body []byte) error {
	switch {
	case isMetadata:
		c.machine.Apply(callstate.RecvTrailer)
	case endStream:
		c.machine.Apply(callstate.RecvEOS)
	default:
		c.machine.Apply(callstate.RecvData)
	}
	return c.inbox.Push(streamio.Item{IsMetadata: isMetadata, EndStream: endStream, Body: body})
}

// Abort implements registry.StreamEntry: force-terminate with st as though
// a trailer carrying it had arrived, without a real inbound frame.
func (c *call) Abort(st *status.Status) {
	c.machine.Apply(callstate.Reset)
	var hl wire.HeaderList
	hl.Add(wire.HeaderGRPCStatus, strconv.FormatUint(uint64(st.Code), 10))
	hl.Add(wire.HeaderGRPCMessage, st.Message)
	_ = c.inbox.Push(streamio.Item{IsMetadata: true, EndStream: true, Body: wire.EncodeHeaders(hl)})
}

func (c *call) ensureMeta() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sentMeta {
		return nil
	}
	f := wire.Frame{StreamID: c.id, Flags: wire.FlagMetadata | wire.FlagHasMethodPath, MethodPath: c.method}
	if c.creds != nil {
		md, err := c.creds.GetRequestMetadata(c.ctx, c.method)
		if err != nil {
			return status.New(status.PermissionDenied, "caller: per-rpc credentials: "+err.Error())
		}
		var hl wire.HeaderList
		for k, v := range md {
			hl.Add(k, v)
		}
		f.Body = wire.EncodeHeaders(hl)
	}
	if err := c.sender.SendFrame(f); err != nil {
		return err
	}
	c.machine.Apply(callstate.SendMeta)
	c.sentMeta = true
	return nil
}

// send transmits one request message, triggering lazy initial METADATA on
// the first call.
func (c *call) send(body []byte) error {
	switch c.machine.Phase() {
	case callstate.HalfClosedLocal, callstate.Closed:
		return status.New(status.FailedPrecondition, "caller: send on half-closed or closed stream")
	}
	if err := c.ensureMeta(); err != nil {
		return err
	}
	if err := c.sender.SendFrame(wire.Frame{StreamID: c.id, Body: wire.EncodePayload(false, body)}); err != nil {
		return err
	}
	c.machine.Apply(callstate.SendData)
	return nil
}

// finishSend signals no more local messages are coming.
func (c *call) finishSend() error {
	if err := c.ensureMeta(); err != nil {
		return err
	}
	if err := c.sender.SendFrame(wire.Frame{StreamID: c.id, Flags: wire.FlagEndStream}); err != nil {
		return err
	}
	c.machine.Apply(callstate.FinishSend)
	return nil
}

// cancel tears down the stream locally and notifies the peer (spec §4.6:
// caller cancellation emits a DATA-less METADATA frame with end_of_stream).
func (c *call) cancel() {
	c.machine.Apply(callstate.Cancel)
	_ = c.sender.SendFrame(wire.Frame{StreamID: c.id, Flags: wire.FlagMetadata | wire.FlagEndStream})
	c.inbox.Close()
}

// timeout tears down the stream locally after its deadline expired. Same
// wire effect as cancel, but drives the callstate machine's Timeout event
// instead of Cancel so FinalStatus carries DEADLINE_EXCEEDED rather than
// CANCELLED (spec §4.6, §7).
func (c *call) timeout() {
	c.machine.Apply(callstate.Timeout)
	_ = c.sender.SendFrame(wire.Frame{StreamID: c.id, Flags: wire.FlagMetadata | wire.FlagEndStream})
	c.inbox.Close()
}

// teardown tears down the stream after a recvMessage failure, choosing
// timeout over cancel when err is the translated deadline-exceeded status
// (internal/streamio.Inbox.Recv's ctx.Err() translation).
func (c *call) teardown(err error) {
	if status.Is(err, status.DeadlineExceeded) {
		c.timeout()
		return
	}
	c.cancel()
}

func (c *call) release(r *Runtime) {
	r.streams.Remove(c.id)
	r.ids.Release(c.id)
	c.inbox.Close()
}

// recvMessage waits for and decodes the next inbound DATA message, or
// returns the trailer status once the stream ends.
func (c *call) recvMessage(ctx context.Context) (msg []byte, trailer *status.Status, err error) {
	for {
		it, err := c.inbox.Recv(ctx)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case it.IsMetadata:
			h, decErr := wire.DecodeHeaders(it.Body)
			if decErr != nil {
				return nil, nil, decErr
			}
			code, msgStr := wire.StatusFromTrailer(h)
			return nil, status.New(status.Code(code), msgStr), nil
		case it.EndStream:
			continue
		default:
			msgs, perr := c.payload.Push(it.Body)
			if perr != nil {
				return nil, nil, perr
			}
			if len(msgs) > 0 {
				return msgs[0].Data, nil, nil
			}
		}
	}
}

// unaryAttempt runs one complete unary call attempt on its own freshly
// allocated stream: send req, await the single reply and the trailer (spec
// §4.7). It is the retry.Invoker a WithRetryPolicy/WithHedgePolicy Runtime
// wraps, since retrying or hedging a unary call means re-running the whole
// stream, not replaying frames on one (spec §4.2: every attempt gets its
// own stream id).
func (r *Runtime) unaryAttempt(method string) retry.Invoker {
	return func(ctx context.Context, req []byte) ([]byte, error) {
		id := r.ids.Next()
		c := newCall(r.sender, id, method, r.inboxCapacity, r.creds, ctx)
		if !r.admit(id, c) {
			r.ids.Release(id)
			return nil, status.New(status.ResourceExhausted, "caller: max active streams reached")
		}
		defer c.release(r)

		if err := c.send(req); err != nil {
			return nil, err
		}
		if err := c.finishSend(); err != nil {
			return nil, err
		}

		var resp []byte
		for {
			msg, trailer, err := c.recvMessage(ctx)
			if err != nil {
				c.teardown(err)
				return nil, err
			}
			if trailer != nil {
				if trailer.Code != status.OK {
					return nil, trailer
				}
				return resp, nil
			}
			resp = msg
		}
	}
}

// CallUnary performs a unary call, retried and/or hedged per the Runtime's
// WithRetryPolicy/WithHedgePolicy options if set (spec §9).
func (r *Runtime) CallUnary(ctx context.Context, method string, req []byte) ([]byte, error) {
	var sp span.Span
	ctx, sp = span.New(ctx, span.WithName(method), span.WithSpanStartOption(trace.WithSpanKind(trace.SpanKindClient)))
	defer sp.End()
	sp.Span.SetAttributes(
		attribute.String("rpc.system", "muxrpc"),
		attribute.String("rpc.method", method),
		attribute.Int("rpc.request.size", len(req)),
	)

	invoke := r.unaryAttempt(method)
	if r.hedgePolicy != nil {
		invoke = hedge.Wrap(*r.hedgePolicy, invoke)
	}
	if r.retryPolicy != nil {
		invoke = retry.Wrap(*r.retryPolicy, invoke)
	}

	resp, err := invoke(ctx, req)
	if err != nil {
		if st, ok := err.(*status.Status); ok {
			sp.Span.SetAttributes(attribute.Bool("rpc.error", true), attribute.Int64("rpc.grpc_status", int64(st.Code)))
		} else {
			sp.Span.SetAttributes(attribute.Bool("rpc.error", true))
		}
		return nil, err
	}
	return resp, nil
}

// ServerStream is the caller-side handle for a server-streaming call.
type ServerStream struct {
	c *call
	r *Runtime
}

// CallServerStream sends req and returns a handle to read the response
// sequence until the trailer.
func (r *Runtime) CallServerStream(ctx context.Context, method string, req []byte) (*ServerStream, error) {
	id := r.ids.Next()
	c := newCall(r.sender, id, method, r.inboxCapacity, r.creds, ctx)
	if !r.admit(id, c) {
		r.ids.Release(id)
		return nil, status.New(status.ResourceExhausted, "caller: max active streams reached")
	}

	if err := c.send(req); err != nil {
		c.release(r)
		return nil, err
	}
	if err := c.finishSend(); err != nil {
		c.release(r)
		return nil, err
	}
	return &ServerStream{c: c, r: r}, nil
}

// Recv returns the next response message. ok is false once the trailer has
// been consumed; err is non-nil only for a non-OK trailer or transport
// failure.
func (s *ServerStream) Recv(ctx context.Context) (msg []byte, ok bool, err error) {
	msg, trailer, err := s.c.recvMessage(ctx)
	if err != nil {
		s.c.teardown(err)
		s.c.release(s.r)
		return nil, false, err
	}
	if trailer != nil {
		s.c.release(s.r)
		if trailer.Code != status.OK {
			return nil, false, trailer
		}
		return nil, false, nil
	}
	return msg, true, nil
}

// Cancel aborts the stream, per spec §4.7 ("dropping/closing the handle
// cancels the stream").
func (s *ServerStream) Cancel() {
	s.c.cancel()
	s.c.release(s.r)
}

// ClientStream is the caller-side handle for a client-streaming call.
type ClientStream struct {
	c *call
	r *Runtime
}

// OpenClientStream opens a client-streaming call; the caller sends zero or
// more requests via Send, then FinishSending, then awaits Response.
func (r *Runtime) OpenClientStream(method string) *ClientStream {
	id := r.ids.Next()
	c := newCall(r.sender, id, method, r.inboxCapacity, r.creds, context.Background())
	r.streams.Create(id, c)
	return &ClientStream{c: c, r: r}
}

// Send transmits one request message.
func (s *ClientStream) Send(body []byte) error {
	return s.c.send(body)
}

// FinishSending signals no more requests are coming.
func (s *ClientStream) FinishSending() error {
	return s.c.finishSend()
}

// Response awaits the responder's single reply and trailer.
func (s *ClientStream) Response(ctx context.Context) ([]byte, error) {
	defer s.c.release(s.r)
	var resp []byte
	for {
		msg, trailer, err := s.c.recvMessage(ctx)
		if err != nil {
			s.c.teardown(err)
			return nil, err
		}
		if trailer != nil {
			if trailer.Code != status.OK {
				return nil, trailer
			}
			return resp, nil
		}
		resp = msg
	}
}

// Cancel aborts the stream.
func (s *ClientStream) Cancel() {
	s.c.cancel()
	s.c.release(s.r)
}

// BidiStream is the caller-side handle for a bidirectional-streaming call.
type BidiStream struct {
	c *call
	r *Runtime
}

// OpenBidi opens a bidirectional-streaming call with independent send and
// receive directions.
func (r *Runtime) OpenBidi(method string) *BidiStream {
	id := r.ids.Next()
	c := newCall(r.sender, id, method, r.inboxCapacity, r.creds, context.Background())
	r.streams.Create(id, c)
	return &BidiStream{c: c, r: r}
}

// Send transmits one message on the outbound direction.
func (s *BidiStream) Send(body []byte) error {
	return s.c.send(body)
}

// FinishSending signals no more outbound messages are coming.
func (s *BidiStream) FinishSending() error {
	return s.c.finishSend()
}

// Recv returns the next inbound message. ok is false once the trailer has
// been consumed.
func (s *BidiStream) Recv(ctx context.Context) (msg []byte, ok bool, err error) {
	msg, trailer, err := s.c.recvMessage(ctx)
	if err != nil {
		s.c.teardown(err)
		s.c.release(s.r)
		return nil, false, err
	}
	if trailer != nil {
		s.c.release(s.r)
		if trailer.Code != status.OK {
			return nil, false, trailer
		}
		return nil, false, nil
	}
	return msg, true, nil
}

// Cancel aborts the stream.
func (s *BidiStream) Cancel() {
	s.c.cancel()
	s.c.release(s.r)
}
