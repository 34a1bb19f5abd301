// Package callstate implements the per-stream call state machine (C6):
// IDLE -> OPEN -> HALF_CLOSED_LOCAL/REMOTE -> CLOSED, with the tie-break and
// deadline-expiry rules of spec §4.6.
package callstate

import (
	"github.com/gostdlib/base/concurrency/sync"

	"github.com/natebridge/muxrpc/status"
)

// Phase is a call's lifecycle phase.
type Phase int

const (
	Idle Phase = iota
	Open
	HalfClosedLocal
	HalfClosedRemote
	Closed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "IDLE"
	case Open:
		return "OPEN"
	case HalfClosedLocal:
		return "HALF_CLOSED_LOCAL"
	case HalfClosedRemote:
		return "HALF_CLOSED_REMOTE"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Event is a local or remote stimulus applied to the machine.
type Event int

const (
	SendMeta Event = iota
	SendData
	SendTrailer
	FinishSend
	Cancel
	// Timeout is the deadline-expiry stimulus, distinct from Cancel so the
	// resulting FinalStatus carries DEADLINE_EXCEEDED instead of CANCELLED
	// (spec §4.6, §7).
	Timeout
	RecvMeta
	RecvData
	RecvTrailer
	RecvEOS
	Reset
)

// Role distinguishes which side of the stream this machine instance tracks.
type Role int

const (
	RoleCaller Role = iota
	RoleResponder
)

// Machine is one stream's FSM instance. Apply and Phase may be called from
// multiple goroutines: each runs under the Machine's internal mutex, so
// transitions are strictly ordered. The exported ProtocolErr and
// FinalStatus fields are written under that mutex but read without it.
type Machine struct {
	mu    sync.Mutex
	phase Phase
	role  Role

	// ProtocolErr is set when an invalid transition forced the stream closed.
	ProtocolErr error
	// FinalStatus is set when the machine closes through a locally sent
	// trailer, Cancel, Timeout, Reset or a protocol error. Closing on a
	// received trailer or on end of stream from both sides leaves it nil.
	FinalStatus *status.Status
}

// New creates a Machine in IDLE for the given role.
func New(role Role) *Machine {
	return &Machine{phase: Idle, role: role}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Apply drives the machine with ev, returning the resulting phase.
// Invalid transitions force the stream to CLOSED with an INTERNAL
// ProtocolErr, per spec §4.6 ("all others -> PROTOCOL_ERROR and force-CLOSED
// with INTERNAL"), except CLOSED itself, which silently ignores all events
// (terminal).
func (m *Machine) Apply(ev Event) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase == Closed {
		return Closed
	}

	switch {
	case m.phase == Idle && ev == SendMeta:
		m.phase = Open
	case m.phase == Idle && ev == RecvMeta:
		m.phase = Open
	case m.phase == Open && (ev == SendData || ev == RecvData):
		// no phase change
	case m.phase == Open && (ev == FinishSend || ev == SendTrailer && m.role == RoleResponder):
		if ev == SendTrailer {
			m.phase = Closed
			m.setStatusIfUnset(status.New(status.OK, ""))
		} else {
			m.phase = HalfClosedLocal
		}
	case m.phase == Open && ev == RecvEOS:
		m.phase = HalfClosedRemote
	case m.phase == Open && ev == RecvTrailer:
		// Trailer arriving while local send is still open: auto-half-close
		// local (tie-break rule) then finish, since a trailer always implies
		// end_of_stream and terminates the stream from the caller's view.
		m.phase = Closed
	case m.phase == HalfClosedLocal && ev == RecvData:
		// local side finished sending; the peer may still send: no phase change
	case m.phase == HalfClosedLocal && ev == RecvTrailer:
		m.phase = Closed
	case m.phase == HalfClosedLocal && ev == RecvEOS:
		// both sides signaled end-of-stream concurrently: close without error.
		m.phase = Closed
	case m.phase == HalfClosedRemote && ev == SendTrailer && m.role == RoleResponder:
		m.phase = Closed
		m.setStatusIfUnset(status.New(status.OK, ""))
	case m.phase == HalfClosedRemote && (ev == FinishSend || ev == SendData):
		if ev == FinishSend {
			m.phase = Closed
		}
	case ev == Cancel:
		m.phase = Closed
		m.setStatusIfUnset(status.New(status.Cancelled, "cancelled"))
	case ev == Timeout:
		m.phase = Closed
		m.setStatusIfUnset(status.New(status.DeadlineExceeded, "deadline exceeded"))
	case ev == Reset:
		m.phase = Closed
		m.setStatusIfUnset(status.New(status.Internal, "reset"))
	default:
		prevPhase := m.phase
		m.phase = Closed
		protoErr := status.New(status.Internal, "protocol error: invalid event "+eventName(ev)+" in phase "+prevPhase.String())
		m.ProtocolErr = protoErr
		m.setStatusIfUnset(protoErr)
	}
	return m.phase
}

// setStatusIfUnset records the terminal status the first time the stream
// closes; later Apply calls (e.g. a redundant Cancel after a trailer) never
// overwrite an already-final status.
func (m *Machine) setStatusIfUnset(s *status.Status) {
	if m.FinalStatus == nil {
		m.FinalStatus = s
	}
}

func eventName(ev Event) string {
	switch ev {
	case SendMeta:
		return "SEND_META"
	case SendData:
		return "SEND_DATA"
	case SendTrailer:
		return "SEND_TRAILER"
	case FinishSend:
		return "FINISH_SEND"
	case Cancel:
		return "CANCEL"
	case Timeout:
		return "TIMEOUT"
	case RecvMeta:
		return "RECV_META"
	case RecvData:
		return "RECV_DATA"
	case RecvTrailer:
		return "RECV_TRAILER"
	case RecvEOS:
		return "RECV_EOS"
	case Reset:
		return "RESET"
	default:
		return "UNKNOWN_EVENT"
	}
}
