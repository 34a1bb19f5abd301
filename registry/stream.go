package registry

import (
	"github.com/gostdlib/base/concurrency/sync"
	"go.uber.org/atomic"

	"github.com/natebridge/muxrpc/status"
)

// StreamEntry is the minimal per-stream handle the registry routes frames
// to. Concrete stream state (callstate.Machine, inbox, etc.) lives in the
// caller/responder packages; the registry only needs enough to deliver.
type StreamEntry interface {
	// Deliver is invoked by the endpoint's read loop for every inbound
	// frame addressed to this stream's id.
	Deliver(isMetadata bool, endStream bool, body []byte) error

	// Abort force-terminates the stream with st, without a real inbound
	// frame: used by endpoint Close and transport-failure handling to
	// surface CANCELLED/UNAVAILABLE to whatever is waiting on the stream
	// (spec §4.10, §5 "Transport failure").
	Abort(st *status.Status)
}

// StreamRegistry is the C5 stream registry: per-endpoint id -> StreamEntry
// map used to route inbound frames. It is a weak, lookup-only mapping; it
// never extends a stream's lifetime (spec §3 Ownership).
type StreamRegistry struct {
	mu      sync.RWMutex
	streams map[uint32]StreamEntry
	hwm     atomic.Int64
}

// NewStreamRegistry creates an empty registry.
func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{streams: make(map[uint32]StreamEntry)}
}

// Create registers a new stream entry under id. Returns false if id is
// already registered (caller error; ids must be unique per spec §4.2).
func (r *StreamRegistry) Create(id uint32, entry StreamEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.streams[id]; exists {
		return false
	}
	r.streams[id] = entry
	if n := int64(len(r.streams)); n > r.hwm.Load() {
		r.hwm.Store(n)
	}
	return true
}

// HighWaterMark returns the largest number of concurrently registered
// streams this registry has ever held (spec §5's capacity bookkeeping).
func (r *StreamRegistry) HighWaterMark() int64 {
	return r.hwm.Load()
}

// Lookup finds the entry for id, if any.
func (r *StreamRegistry) Lookup(id uint32) (StreamEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.streams[id]
	return e, ok
}

// Remove deregisters id. Idempotent.
func (r *StreamRegistry) Remove(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

// Len returns the number of currently registered streams (used for the
// global high-water mark, spec §5).
func (r *StreamRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// Range calls f for every registered stream; f returning false stops
// iteration early. Used by endpoint close to cancel every active stream.
func (r *StreamRegistry) Range(f func(id uint32, entry StreamEntry) bool) {
	r.mu.RLock()
	snapshot := make(map[uint32]StreamEntry, len(r.streams))
	for k, v := range r.streams {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	for id, e := range snapshot {
		if !f(id, e) {
			return
		}
	}
}
