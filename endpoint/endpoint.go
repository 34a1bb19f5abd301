// Package endpoint implements the endpoint facade (C10): the lifecycle that
// glues the method registry, stream registry, stream-id allocator, and the
// caller/responder runtimes to a concrete transport. Adapted from the
// teacher's rpc/server.Server + rpc/client.Conn pairing (separate
// OpenAck-handshake-driven connection managers) into one facade that is
// symmetric in both directions over this module's handshake-free framing
// (spec §4.10).
package endpoint

import (
	"strings"
	"time"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"
	"go.uber.org/atomic"

	"github.com/natebridge/muxrpc/caller"
	"github.com/natebridge/muxrpc/credentials"
	"github.com/natebridge/muxrpc/hedge"
	"github.com/natebridge/muxrpc/registry"
	"github.com/natebridge/muxrpc/retry"
	"github.com/natebridge/muxrpc/responder"
	"github.com/natebridge/muxrpc/serviceconfig"
	"github.com/natebridge/muxrpc/status"
	"github.com/natebridge/muxrpc/streamid"
	"github.com/natebridge/muxrpc/transport"
	"github.com/natebridge/muxrpc/wire"
)

// Role selects which direction(s) of the protocol an Endpoint participates
// in.
type Role int

const (
	// RoleCaller only originates calls; ServeTransport's connection is
	// treated as a dial (odd, caller-parity self-allocated stream ids).
	RoleCaller Role = iota
	// RoleResponder only serves registered methods; it never originates a
	// stream itself.
	RoleResponder
	// RoleBoth originates and serves calls over the same connection.
	RoleBoth
)

// DefaultCloseGrace is the longest Close waits for its connections to wind
// down when ctx carries no earlier deadline (spec §4.10).
const DefaultCloseGrace = 10 * time.Second

// Endpoint is one RPC peer: a long-lived method registry shared across every
// connection it serves or dials, plus bookkeeping for the connections
// currently active.
type Endpoint struct {
	role    Role
	methods *registry.MethodRegistry

	inboxCapacity int
	maxActive     int
	svcConfig     *serviceconfig.Config
	creds         credentials.PerRPCCredentials
	retryPolicy   *retry.Policy
	hedgePolicy   *hedge.Policy

	mu         sync.Mutex
	conns      map[*conn]struct{}
	activeCall *conn // most recently established connection, used by the Call* convenience methods
	closed     atomic.Bool
}

// Option configures an Endpoint at construction time.
type Option func(*Endpoint)

// WithStreamInboxSize overrides the per-stream inbox capacity every
// connection's caller and responder runtimes use (spec §5's default
// otherwise applies).
func WithStreamInboxSize(n int) Option {
	return func(e *Endpoint) { e.inboxCapacity = n }
}

// WithMaxActiveStreams caps the number of concurrently open streams any one
// connection of this Endpoint will carry, in either direction of
// origination. Breaching it produces a RESOURCE_EXHAUSTED trailer/error for
// the newest stream rather than admitting it (spec §5's high-water mark).
// OpenClientStream and OpenBidi do not check the cap, though their streams
// count toward it. Zero (the default) means unbounded.
func WithMaxActiveStreams(n int) Option {
	return func(e *Endpoint) { e.maxActive = n }
}

// WithServiceConfig attaches pattern-matched per-method timeout and
// wait-for-ready defaults. Only CallUnary applies cfg.GetTimeout's result
// as a deadline on ctx when the caller hasn't already set one: it is the
// one call shape that blocks for its entire lifetime inside the method
// that received ctx, so there's a single point to release the timer.
// CallServerStream's ctx outlives the call that opened it, and
// OpenClientStream/OpenBidi take no ctx at all, so none of the three are
// bounded by it.
func WithServiceConfig(cfg *serviceconfig.Config) Option {
	return func(e *Endpoint) { e.svcConfig = cfg }
}

// WithPerRPCCredentials attaches creds to every connection's caller
// Runtime, so every call this Endpoint originates carries creds'
// request metadata on its initial METADATA frame (spec §4.1).
func WithPerRPCCredentials(creds credentials.PerRPCCredentials) Option {
	return func(e *Endpoint) { e.creds = creds }
}

// WithRetryPolicy makes every connection's caller Runtime retry failed
// CallUnary attempts per policy (spec §9; see caller.WithRetryPolicy).
func WithRetryPolicy(policy retry.Policy) Option {
	return func(e *Endpoint) { e.retryPolicy = &policy }
}

// WithHedgePolicy makes every connection's caller Runtime hedge CallUnary
// attempts per policy (spec §9; see caller.WithHedgePolicy).
func WithHedgePolicy(policy hedge.Policy) Option {
	return func(e *Endpoint) { e.hedgePolicy = &policy }
}

// New creates an Endpoint in the given role.
func New(role Role, opts ...Option) *Endpoint {
	e := &Endpoint{
		role:    role,
		methods: registry.NewMethodRegistry(),
		conns:   make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterService runs contract.Setup and adds its method descriptors to
// the method registry every connection of this Endpoint shares; they are
// visible to connections already being served as soon as it returns.
func (e *Endpoint) RegisterService(service string, contract registry.ServiceContract) error {
	return e.methods.RegisterService(service, contract)
}

// frameWriter serializes writes to one connection's transport, satisfying
// both caller.FrameSender and responder.FrameSender (spec §5: the transport
// writer is a single serialization point).
type frameWriter struct {
	mu     sync.Mutex
	stream transport.Transport
	framed transport.FrameTransport
}

func (w *frameWriter) SendFrame(f wire.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.framed != nil {
		b, err := wire.Encode(f)
		if err != nil {
			return err
		}
		return w.framed.SendFrame(b)
	}
	return wire.WriteLengthPrefixed(w.stream, f)
}

// conn is the per-connection state backing one ServeTransport call.
type conn struct {
	sender    *frameWriter
	streams   *registry.StreamRegistry
	callerIDs *streamid.Allocator
	caller    *caller.Runtime
	responder *responder.Runtime

	cancel context.CancelFunc
	done   chan struct{}
}

func newConn(ep *Endpoint, sender *frameWriter, parity streamid.Role, cancel context.CancelFunc) *conn {
	streams := registry.NewStreamRegistry()
	c := &conn{
		sender:    sender,
		streams:   streams,
		callerIDs: streamid.New(parity),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	callerOpts := []caller.Option{
		caller.WithInboxCapacity(ep.inboxCapacity),
		caller.WithMaxActiveStreams(ep.maxActive),
		caller.WithPerRPCCredentials(ep.creds),
	}
	if ep.retryPolicy != nil {
		callerOpts = append(callerOpts, caller.WithRetryPolicy(*ep.retryPolicy))
	}
	if ep.hedgePolicy != nil {
		callerOpts = append(callerOpts, caller.WithHedgePolicy(*ep.hedgePolicy))
	}
	c.caller = caller.New(sender, c.callerIDs, streams, callerOpts...)
	c.responder = responder.New(sender, ep.methods, streams, responder.WithInboxCapacity(ep.inboxCapacity), responder.WithMaxActiveStreams(ep.maxActive))
	return c
}

// cancelAll drives every still-open stream on this connection to CLOSED
// with st (spec §4.10's close sequence uses CANCELLED; a transport failure
// uses UNAVAILABLE per spec §5).
func (c *conn) cancelAll(st *status.Status) {
	c.streams.Range(func(id uint32, entry registry.StreamEntry) bool {
		entry.Abort(st)
		return true
	})
}

// ServeTransport runs the read loop for a byte-stream transport in the
// background and returns once the connection is registered; the loop itself
// runs until the transport errs, is closed, or ctx is done. role determines
// the parity this connection uses for ids it originates: RoleCaller treats
// the connection as a dial (odd ids); RoleResponder and RoleBoth treat it as
// an accept (even ids) unless the endpoint itself is RoleCaller.
func (e *Endpoint) ServeTransport(ctx context.Context, t transport.Transport) {
	sender := &frameWriter{stream: t}
	e.serve(ctx, sender, func(ctx context.Context, dispatch func(wire.Frame) error) error {
		for {
			f, err := wire.ReadLengthPrefixed(t)
			if err != nil {
				return err
			}
			if err := dispatch(f); err != nil {
				return err
			}
		}
	})
}

// ServeFrameTransport runs the read loop for a datagram/message transport
// (spec §6.1's one-frame-per-message shape).
func (e *Endpoint) ServeFrameTransport(ctx context.Context, t transport.FrameTransport) {
	sender := &frameWriter{framed: t}
	e.serve(ctx, sender, func(ctx context.Context, dispatch func(wire.Frame) error) error {
		for {
			select {
			case b, ok := <-t.Frames():
				if !ok {
					if err := t.Err(); err != nil {
						return err
					}
					return nil
				}
				f, err := wire.Decode(b)
				if err != nil {
					return err
				}
				if err := dispatch(f); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

func (e *Endpoint) serve(ctx context.Context, sender *frameWriter, readLoop func(context.Context, func(wire.Frame) error) error) {
	parity := streamid.Responder
	if e.role == RoleCaller {
		parity = streamid.Caller
	}

	connCtx, cancel := context.WithCancel(ctx)
	c := newConn(e, sender, parity, cancel)

	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		cancel()
		return
	}
	e.conns[c] = struct{}{}
	e.activeCall = c
	e.mu.Unlock()

	pool := context.Pool(ctx)
	pool.Submit(ctx, func() {
		defer close(c.done)

		_ = readLoop(connCtx, func(f wire.Frame) error {
			return c.responder.HandleFrame(connCtx, f)
		})

		e.mu.Lock()
		delete(e.conns, c)
		if e.activeCall == c {
			e.activeCall = nil
		}
		e.mu.Unlock()

		st := status.New(status.Unavailable, "transport closed")
		if connCtx.Err() != nil {
			st = status.New(status.Cancelled, "endpoint closed")
		}
		c.cancelAll(st)
	})
}

// Close stops accepting new connections and cancels every connection's
// context. A connection aborts its active streams with CANCELLED once its
// read loop returns: a frame-transport loop returns on cancellation, a
// byte-stream loop only when a read from its transport fails. Close waits
// for those read loops up to DefaultCloseGrace, or ctx's deadline if
// sooner, and returns a DEADLINE_EXCEEDED status if the grace runs out or
// ctx.Err() if ctx ends first. Handler goroutines are not waited for.
func (e *Endpoint) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		return nil
	}
	e.closed.Store(true)
	conns := make([]*conn, 0, len(e.conns))
	for c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	for _, c := range conns {
		c.cancel()
	}

	grace := DefaultCloseGrace
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until > 0 && until < grace {
			grace = until
		}
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	for _, c := range conns {
		select {
		case <-c.done:
		case <-timer.C:
			return status.New(status.DeadlineExceeded, "endpoint close: grace period exceeded")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// CallUnary issues a unary call over the endpoint's most recently
// established connection. Returns FailedPrecondition if no connection is
// active or the endpoint was constructed RoleResponder.
func (e *Endpoint) CallUnary(ctx context.Context, method string, req []byte) ([]byte, error) {
	c, err := e.requireCaller()
	if err != nil {
		return nil, err
	}
	ctx, cancel := e.boundContext(ctx, method)
	defer cancel()
	return c.caller.CallUnary(ctx, method, req)
}

// CallServerStream issues a server-streaming call over the active
// connection.
func (e *Endpoint) CallServerStream(ctx context.Context, method string, req []byte) (*caller.ServerStream, error) {
	c, err := e.requireCaller()
	if err != nil {
		return nil, err
	}
	return c.caller.CallServerStream(ctx, method, req)
}

// OpenClientStream opens a client-streaming call over the active
// connection.
func (e *Endpoint) OpenClientStream(method string) (*caller.ClientStream, error) {
	c, err := e.requireCaller()
	if err != nil {
		return nil, err
	}
	return c.caller.OpenClientStream(method), nil
}

// OpenBidi opens a bidirectional-streaming call over the active connection.
func (e *Endpoint) OpenBidi(method string) (*caller.BidiStream, error) {
	c, err := e.requireCaller()
	if err != nil {
		return nil, err
	}
	return c.caller.OpenBidi(method), nil
}

// boundContext applies the service config's per-method timeout to ctx if
// the endpoint has one configured, the method matches an entry, and ctx
// doesn't already carry a deadline of its own. The returned cancel must
// always be called by the caller once the RPC finishes.
func (e *Endpoint) boundContext(ctx context.Context, method string) (context.Context, context.CancelFunc) {
	noop := func() {}
	if e.svcConfig == nil {
		return ctx, noop
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, noop
	}
	service, m, ok := serviceconfig.ParsePattern(strings.TrimPrefix(method, "/"))
	if !ok {
		return ctx, noop
	}
	timeout := e.svcConfig.GetTimeout(service, m)
	if timeout <= 0 {
		return ctx, noop
	}
	bounded, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(timeout, cancel)
	return bounded, func() {
		timer.Stop()
		cancel()
	}
}

func (e *Endpoint) requireCaller() (*conn, error) {
	if e.role == RoleResponder {
		return nil, status.New(status.FailedPrecondition, "endpoint: not configured as a caller")
	}
	e.mu.Lock()
	c := e.activeCall
	e.mu.Unlock()
	if c == nil {
		return nil, status.New(status.FailedPrecondition, "endpoint: no active connection")
	}
	return c, nil
}
