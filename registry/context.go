package registry

import (
	"time"

	"github.com/gostdlib/base/context"

	"github.com/natebridge/muxrpc/wire"
)

// CallContext is handed to every handler invocation (spec §6.3): method
// path, inbound headers, deadline, cancellation, and a mutable trailer map
// the handler may populate before returning.
type CallContext struct {
	context.Context

	MethodPath string
	Headers    wire.HeaderList
	StreamID   uint32

	trailer wire.HeaderList
}

// NewCallContext wraps ctx with the per-call fields.
func NewCallContext(ctx context.Context, streamID uint32, methodPath string, headers wire.HeaderList) *CallContext {
	return &CallContext{Context: ctx, MethodPath: methodPath, Headers: headers, StreamID: streamID}
}

// Deadline reports ok=false when no deadline was attached, matching the
// embedded context.Context's own semantics (kept as a convenience
// passthrough named the way spec §6.3 names it).
func (c *CallContext) Deadline() (time.Time, bool) {
	return c.Context.Deadline()
}

// SetTrailer appends (name, value) to the response trailer map. Safe to
// call multiple times before the handler returns; last value for a
// single-valued reserved key wins on the wire per spec §3.
func (c *CallContext) SetTrailer(name, value string) {
	c.trailer.Add(name, value)
}

// Trailer returns the trailer accumulated so far.
func (c *CallContext) Trailer() wire.HeaderList {
	return c.trailer
}
