// Package responder implements the responder runtime (C8): resolving
// inbound calls against the method registry, running the four handler
// shapes, and emitting DATA/trailer frames back to the caller. Adapted from
// the teacher's conn/session dispatch loop (rpc/server), generalized from
// its OpenAck handshake to this module's self-assigned stream ids and from
// its single request/response shape to all four call kinds (spec §4.8).
package responder

import (
	stdcontext "context"
	"errors"
	"strconv"

	"github.com/gostdlib/base/context"
	"github.com/gostdlib/base/telemetry/otel/trace/span"
	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/natebridge/muxrpc/callstate"
	"github.com/natebridge/muxrpc/internal/streamio"
	"github.com/natebridge/muxrpc/registry"
	"github.com/natebridge/muxrpc/status"
	"github.com/natebridge/muxrpc/wire"
)

// FrameSender serializes and writes one wire frame.
type FrameSender interface {
	SendFrame(f wire.Frame) error
}

// Runtime is the responder side of one endpoint: it resolves inbound calls
// against methods and tracks their stream state in streams.
type Runtime struct {
	sender        FrameSender
	methods       *registry.MethodRegistry
	streams       *registry.StreamRegistry
	inboxCapacity int
	maxActive     int
}

// Option configures a Runtime at construction time.
type Option func(*Runtime)

// WithInboxCapacity overrides the per-stream inbox size (spec §5's default
// of streamio.DefaultCapacity otherwise applies).
func WithInboxCapacity(n int) Option {
	return func(r *Runtime) { r.inboxCapacity = n }
}

// WithMaxActiveStreams caps the number of concurrently open calls this
// Runtime will accept; inbound opens beyond the cap get a RESOURCE_EXHAUSTED
// trailer instead of a handler (spec §5's high-water mark, applied to
// peer-originated streams). Zero (the default) means unbounded.
func WithMaxActiveStreams(n int) Option {
	return func(r *Runtime) { r.maxActive = n }
}

// New creates a responder Runtime.
func New(sender FrameSender, methods *registry.MethodRegistry, streams *registry.StreamRegistry, opts ...Option) *Runtime {
	r := &Runtime{sender: sender, methods: methods, streams: streams}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleFrame routes one inbound frame: to an existing stream's Deliver, or,
// for an unregistered stream id carrying HAS_METHOD_PATH, to a freshly
// opened call. A HAS_METHOD_PATH frame for a stream id that is already
// registered is rejected with a *wire.ProtocolError. Frames for neither case
// are late arrivals on a stream this side has already torn down and are
// silently dropped (spec §4.3).
func (r *Runtime) HandleFrame(ctx context.Context, f wire.Frame) error {
	if entry, ok := r.streams.Lookup(f.StreamID); ok {
		if f.Flags.HasMethodPath() {
			return &wire.ProtocolError{Reason: "duplicate stream id"}
		}
		return entry.Deliver(f.Flags.IsMetadata(), f.Flags.EndStream(), f.Body)
	}
	if f.Flags.IsMetadata() && f.Flags.HasMethodPath() {
		return r.openStream(ctx, f)
	}
	return nil
}

func (r *Runtime) openStream(ctx context.Context, f wire.Frame) error {
	desc, ok := r.methods.Lookup(f.MethodPath)
	if !ok {
		return r.sendTrailer(f.StreamID, status.New(status.Unimplemented, "method not found: "+f.MethodPath), nil)
	}

	headers, err := wire.DecodeHeaders(f.Body)
	if err != nil {
		return r.sendTrailer(f.StreamID, status.New(status.InvalidArgument, "malformed initial metadata"), nil)
	}

	if r.maxActive > 0 && r.streams.Len() >= r.maxActive {
		return r.sendTrailer(f.StreamID, status.New(status.ResourceExhausted, "responder: max active streams reached"), nil)
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	rc := &call{
		id:      f.StreamID,
		machine: callstate.New(callstate.RoleResponder),
		inbox:   streamio.NewInbox(r.inboxCapacity),
		payload: wire.NewPayloadReader(0),
		sender:  r.sender,
		cancel:  cancel,
	}
	rc.machine.Apply(callstate.RecvMeta)
	if !r.streams.Create(f.StreamID, rc) {
		cancel()
		return &wire.ProtocolError{Reason: "duplicate stream id"}
	}

	cc := registry.NewCallContext(handlerCtx, f.StreamID, f.MethodPath, headers)
	go r.runHandler(cc, rc, desc)
	return nil
}

// call is a responder-side stream's state. It implements
// registry.StreamEntry so the endpoint's read loop can deliver frames
// addressed to it.
type call struct {
	id      uint32
	machine *callstate.Machine
	inbox   *streamio.Inbox
	payload *wire.PayloadReader
	sender  FrameSender
	cancel  context.CancelFunc
}

// Deliver implements registry.StreamEntry. A metadata-shaped delivery here
// is never a second initial METADATA (the registry only routes here after
// the stream already exists); it is the caller aborting the stream, the
// only way a caller-originated frame ever carries IS_METADATA (spec §4.6).
func (c *call) Deliver(isMetadata, endStream bool, body []byte) error {
	switch {
	case isMetadata:
		c.machine.Apply(callstate.RecvTrailer)
		c.cancel()
	case endStream:
		c.machine.Apply(callstate.RecvEOS)
	default:
		c.machine.Apply(callstate.RecvData)
	}
	return c.inbox.Push(streamio.Item{IsMetadata: isMetadata, EndStream: endStream, Body: body})
}

// Abort implements registry.StreamEntry: force-terminate the stream and
// unblock anything waiting on its inbox, used by endpoint Close and
// transport-failure handling. Unlike Deliver's cancel-shaped path, no
// trailer is sent here — the connection that would carry it is already
// gone or going away.
func (c *call) Abort(st *status.Status) {
	c.machine.Apply(callstate.Reset)
	c.cancel()
	_ = c.inbox.Push(streamio.Item{IsMetadata: true, EndStream: true})
}

// teardown reacts to a recvRequest failure by driving the call's machine
// with the event matching the failure's cause: Timeout for a translated
// deadline-exceeded status (internal/streamio.Inbox.Recv's ctx.Err()
// translation), Cancel for everything else, so FinalStatus distinguishes
// DEADLINE_EXCEEDED from CANCELLED the same way the caller side does
// (spec §4.6, §7).
func (c *call) teardown(err error) {
	if status.Is(err, status.DeadlineExceeded) {
		c.machine.Apply(callstate.Timeout)
	} else {
		c.machine.Apply(callstate.Cancel)
	}
	c.cancel()
}

// recvRequest waits for the next decoded request message. ok is false once
// the caller has finished sending (FINISH_SEND or cancel) with no further
// message pending.
func (c *call) recvRequest(ctx context.Context) (msg []byte, ok bool, err error) {
	for {
		it, err := c.inbox.Recv(ctx)
		if err != nil {
			c.teardown(err)
			return nil, false, err
		}
		if it.IsMetadata {
			return nil, false, status.New(status.Cancelled, "caller cancelled")
		}
		msgs, perr := c.payload.Push(it.Body)
		if perr != nil {
			return nil, false, perr
		}
		if len(msgs) > 0 {
			return msgs[0].Data, true, nil
		}
		if it.EndStream {
			return nil, false, nil
		}
	}
}

func (c *call) sendData(body []byte) error {
	if err := c.sender.SendFrame(wire.Frame{StreamID: c.id, Body: wire.EncodePayload(false, body)}); err != nil {
		return err
	}
	c.machine.Apply(callstate.SendData)
	return nil
}

func (c *call) sendTrailer(st *status.Status, trailer wire.HeaderList) error {
	hl := trailer.Clone()
	hl.Add(wire.HeaderGRPCStatus, statusCodeString(st.Code))
	if st.Message != "" {
		hl.Add(wire.HeaderGRPCMessage, st.Message)
	}
	err := c.sender.SendFrame(wire.Frame{StreamID: c.id, Flags: wire.FlagMetadata | wire.FlagEndStream, Body: wire.EncodeHeaders(hl)})
	c.machine.Apply(callstate.SendTrailer)
	return err
}

// sendTrailer is used directly (without a call) for the unimplemented /
// malformed-metadata fast paths, where no stream entry is ever created.
func (r *Runtime) sendTrailer(id uint32, st *status.Status, trailer wire.HeaderList) error {
	hl := trailer.Clone()
	hl.Add(wire.HeaderGRPCStatus, statusCodeString(st.Code))
	if st.Message != "" {
		hl.Add(wire.HeaderGRPCMessage, st.Message)
	}
	return r.sender.SendFrame(wire.Frame{StreamID: id, Flags: wire.FlagMetadata | wire.FlagEndStream, Body: wire.EncodeHeaders(hl)})
}

func statusCodeString(c status.Code) string {
	return strconv.FormatUint(uint64(c), 10)
}

// runHandler drives one call's handler to completion and emits its trailer.
// Always removes the stream from the registry before returning, regardless
// of outcome (spec §3 Ownership: this side's registration ends when its own
// terminal frame goes out).
func (r *Runtime) runHandler(cc *registry.CallContext, rc *call, desc *registry.MethodDescriptor) {
	defer r.streams.Remove(rc.id)
	defer rc.inbox.Close()

	ctx, sp := span.New(cc.Context, span.WithName(cc.MethodPath), span.WithSpanStartOption(trace.WithSpanKind(trace.SpanKindServer)))
	defer sp.End()
	sp.Span.SetAttributes(
		attribute.String("rpc.system", "muxrpc"),
		attribute.String("rpc.method", cc.MethodPath),
		attribute.String("rpc.kind", desc.Kind.String()),
	)
	cc.Context = ctx

	defer func() {
		if p := recover(); p != nil {
			sp.Span.SetAttributes(attribute.Bool("rpc.error", true), attribute.Int64("rpc.grpc_status", int64(status.Internal)))
			_ = rc.sendTrailer(status.New(status.Internal, "handler panicked"), cc.Trailer())
		}
	}()

	var finalErr error
	switch desc.Kind {
	case registry.Unary:
		finalErr = r.runUnary(cc, rc, desc)
	case registry.ServerStream:
		finalErr = r.runServerStream(cc, rc, desc)
	case registry.ClientStream:
		finalErr = r.runClientStream(cc, rc, desc)
	case registry.Bidi:
		finalErr = r.runBidi(cc, rc, desc)
	default:
		finalErr = status.New(status.Internal, "unknown method kind")
	}

	st := errToStatus(finalErr)
	if st.Code != status.OK {
		sp.Span.SetAttributes(attribute.Bool("rpc.error", true), attribute.Int64("rpc.grpc_status", int64(st.Code)))
	}
	_ = rc.sendTrailer(st, cc.Trailer())
}

func (r *Runtime) runUnary(cc *registry.CallContext, rc *call, desc *registry.MethodDescriptor) error {
	req, ok, err := rc.recvRequest(cc)
	if err != nil {
		return err
	}
	if !ok {
		return status.New(status.InvalidArgument, "no request received")
	}
	resp, err := desc.Unary(cc, req)
	if err != nil {
		return err
	}
	return rc.sendData(resp)
}

func (r *Runtime) runServerStream(cc *registry.CallContext, rc *call, desc *registry.MethodDescriptor) error {
	req, ok, err := rc.recvRequest(cc)
	if err != nil {
		return err
	}
	if !ok {
		return status.New(status.InvalidArgument, "no request received")
	}
	return desc.ServerStream(cc, req, rc.sendData)
}

func (r *Runtime) runClientStream(cc *registry.CallContext, rc *call, desc *registry.MethodDescriptor) error {
	resp, err := desc.ClientStream(cc, func() ([]byte, bool, error) { return rc.recvRequest(cc) })
	if err != nil {
		return err
	}
	return rc.sendData(resp)
}

func (r *Runtime) runBidi(cc *registry.CallContext, rc *call, desc *registry.MethodDescriptor) error {
	return desc.Bidi(cc, func() ([]byte, bool, error) { return rc.recvRequest(cc) }, rc.sendData)
}

// errToStatus maps a handler's returned error to a trailer status: an
// explicit *status.Status (or a bare context.DeadlineExceeded/Canceled, via
// status.FromError) passes through with its own code, everything else
// becomes INTERNAL carrying the error's message (spec §4.8, §4.6, §7 — a
// handler that returns ctx.Err() directly must still trailer
// DEADLINE_EXCEEDED/CANCELLED, not INTERNAL).
func errToStatus(err error) *status.Status {
	if err == nil {
		return status.New(status.OK, "")
	}
	var st *status.Status
	if errors.As(err, &st) {
		return st
	}
	if errors.Is(err, stdcontext.DeadlineExceeded) || errors.Is(err, stdcontext.Canceled) {
		return status.FromError(err)
	}
	return status.New(status.Internal, pkgerrors.Wrap(err, "handler").Error())
}
