// Package streamio provides the bounded per-stream inbox shared by the
// caller and responder runtimes. Each side's registry.StreamEntry pushes
// decoded frame deliveries here; a consumer goroutine (the call handle or
// the handler task) drains them in order (spec §5: per-stream inbox,
// default capacity 32). A full inbox blocks its producer, which is the
// connection's read loop; see Push.
package streamio

import (
	stdcontext "context"
	"errors"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"

	"github.com/natebridge/muxrpc/status"
)

// DefaultCapacity is the per-stream inbox size.
const DefaultCapacity = 32

// ErrClosed is returned by Push/Recv once the inbox has been closed.
var ErrClosed = errors.New("streamio: inbox closed")

// Item is one inbound delivery for a stream.
type Item struct {
	// IsMetadata marks a header-list body: either the initial METADATA
	// (MethodPath set, responder side only) or the trailer (EndStream set).
	IsMetadata bool
	EndStream  bool
	MethodPath string
	Body       []byte
}

// Inbox is a bounded, closeable FIFO queue of Items.
type Inbox struct {
	ch   chan Item
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewInbox creates an inbox with the given capacity (DefaultCapacity if <= 0).
func NewInbox(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Inbox{
		ch:   make(chan Item, capacity),
		done: make(chan struct{}),
	}
}

// Push enqueues it. Returns ErrClosed if the inbox has been closed. While
// the inbox is full, Push blocks the calling goroutine until the consumer
// frees a slot or the inbox closes; registry.StreamEntry.Deliver calls it
// from the connection's read loop, so reading of the whole connection
// waits with it.
func (ib *Inbox) Push(it Item) error {
	select {
	case <-ib.done:
		return ErrClosed
	default:
	}

	select {
	case ib.ch <- it:
		return nil
	case <-ib.done:
		return ErrClosed
	}
}

// Recv waits for the next Item, ctx cancellation, or closure. Buffered
// items are always delivered before ErrClosed is returned.
func (ib *Inbox) Recv(ctx context.Context) (Item, error) {
	select {
	case it := <-ib.ch:
		return it, nil
	default:
	}

	select {
	case it := <-ib.ch:
		return it, nil
	case <-ib.done:
		select {
		case it := <-ib.ch:
			return it, nil
		default:
			return Item{}, ErrClosed
		}
	case <-ctx.Done():
		return Item{}, translateCtxErr(ctx.Err())
	}
}

// translateCtxErr turns a bare context sentinel error into a *status.Status
// so a local deadline expiry is distinguishable from explicit cancellation
// by every caller downstream (spec §4.6, §7), instead of propagating as an
// untyped context.DeadlineExceeded/context.Canceled.
func translateCtxErr(err error) error {
	switch {
	case errors.Is(err, stdcontext.DeadlineExceeded):
		return status.New(status.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, stdcontext.Canceled):
		return status.New(status.Cancelled, "context canceled")
	default:
		return err
	}
}

// Close marks the inbox closed. Idempotent.
func (ib *Inbox) Close() {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if ib.closed {
		return
	}
	ib.closed = true
	close(ib.done)
}
