package callstate

import "testing"

func TestCallerUnaryHappyPath(t *testing.T) {
	m := New(RoleCaller)
	if p := m.Apply(SendMeta); p != Open {
		t.Fatalf("after SendMeta: %v", p)
	}
	if p := m.Apply(SendData); p != Open {
		t.Fatalf("after SendData: %v", p)
	}
	if p := m.Apply(FinishSend); p != HalfClosedLocal {
		t.Fatalf("after FinishSend: %v", p)
	}
	if p := m.Apply(RecvData); p != HalfClosedLocal {
		t.Fatalf("after RecvData: %v", p)
	}
	if p := m.Apply(RecvTrailer); p != Closed {
		t.Fatalf("after RecvTrailer: %v", p)
	}
	if p := m.Apply(RecvData); p != Closed {
		t.Fatalf("terminal state must ignore further events, got %v", p)
	}
}

func TestResponderUnaryHappyPath(t *testing.T) {
	m := New(RoleResponder)
	if p := m.Apply(RecvMeta); p != Open {
		t.Fatalf("after RecvMeta: %v", p)
	}
	if p := m.Apply(RecvData); p != Open {
		t.Fatalf("after RecvData: %v", p)
	}
	if p := m.Apply(RecvEOS); p != HalfClosedRemote {
		t.Fatalf("after RecvEOS: %v", p)
	}
	if p := m.Apply(SendData); p != HalfClosedRemote {
		t.Fatalf("after SendData: %v", p)
	}
	if p := m.Apply(SendTrailer); p != Closed {
		t.Fatalf("after SendTrailer: %v", p)
	}
	if m.FinalStatus == nil || m.FinalStatus.Code.String() != "OK" {
		t.Fatalf("expected OK final status, got %v", m.FinalStatus)
	}
}

func TestConcurrentEndOfStreamClosesCleanly(t *testing.T) {
	m := New(RoleCaller)
	m.Apply(SendMeta)
	m.Apply(FinishSend) // HalfClosedLocal
	if p := m.Apply(RecvEOS); p != Closed {
		t.Fatalf("concurrent end-of-stream should close without error, got %v", p)
	}
	if m.ProtocolErr != nil {
		t.Fatalf("expected no protocol error, got %v", m.ProtocolErr)
	}
}

func TestCancelAnyState(t *testing.T) {
	m := New(RoleCaller)
	m.Apply(SendMeta)
	if p := m.Apply(Cancel); p != Closed {
		t.Fatalf("after Cancel: %v", p)
	}
	if m.FinalStatus == nil || m.FinalStatus.Code != 1 {
		t.Fatalf("expected CANCELLED status, got %v", m.FinalStatus)
	}
}

func TestInvalidTransitionForcesClosedWithInternal(t *testing.T) {
	m := New(RoleCaller)
	// SendData before any SendMeta/RecvMeta is invalid in IDLE.
	p := m.Apply(SendData)
	if p != Closed {
		t.Fatalf("invalid transition should force CLOSED, got %v", p)
	}
	if m.ProtocolErr == nil {
		t.Fatal("expected ProtocolErr to be set")
	}
}
