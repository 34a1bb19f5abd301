package tcp

import (
	"testing"
	"time"

	basectx "github.com/gostdlib/base/context"

	"github.com/natebridge/muxrpc/credentials"
	"github.com/natebridge/muxrpc/transport"
)

func TestDialListenRoundTrip(t *testing.T) {
	ctx := basectx.Background()

	ln, err := Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("[TestDialListenRoundTrip]: Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan error, 1)
	go func() {
		srv, err := ln.Accept(ctx)
		if err != nil {
			accepted <- err
			return
		}
		buf := make([]byte, 5)
		if _, err := srv.Read(buf); err != nil {
			accepted <- err
			return
		}
		if _, err := srv.Write(buf); err != nil {
			accepted <- err
			return
		}
		accepted <- nil
	}()

	cli, err := Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("[TestDialListenRoundTrip]: Dial: %v", err)
	}
	defer cli.Close()

	if _, err := cli.Write([]byte("hello")); err != nil {
		t.Fatalf("[TestDialListenRoundTrip]: Write: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := cli.Read(buf); err != nil {
		t.Fatalf("[TestDialListenRoundTrip]: Read: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("[TestDialListenRoundTrip]: got %q, want %q", buf, "hello")
	}

	select {
	case err := <-accepted:
		if err != nil {
			t.Fatalf("[TestDialListenRoundTrip]: server side: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("[TestDialListenRoundTrip]: server side never completed")
	}
}

func TestDialerImplementsTransportDialer(t *testing.T) {
	ctx := basectx.Background()
	ln, err := Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("[TestDialerImplementsTransportDialer]: Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		trans, err := ln.Accept(ctx)
		if err == nil {
			trans.Close()
		}
	}()

	d := NewDialer(ln.Addr().String(), WithDialTimeout(time.Second))
	trans, err := d.Dial(ctx)
	if err != nil {
		t.Fatalf("[TestDialerImplementsTransportDialer]: Dial: %v", err)
	}
	defer trans.Close()
}

func TestServerShutdownStopsAccepting(t *testing.T) {
	srv := NewServer(nopEndpoint{}, "127.0.0.1:0")
	ctx := basectx.Background()

	ln, err := Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("[TestServerShutdownStopsAccepting]: Listen: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("[TestServerShutdownStopsAccepting]: Shutdown: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("[TestServerShutdownStopsAccepting]: Serve returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("[TestServerShutdownStopsAccepting]: Serve never returned after Shutdown")
	}
}

type nopEndpoint struct{}

func (nopEndpoint) ServeTransport(ctx basectx.Context, t transport.Transport) {}

func (nopEndpoint) Close(ctx basectx.Context) error { return nil }

func TestClientConnectHandsTransportToEndpoint(t *testing.T) {
	ctx := basectx.Background()
	ln, err := Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("[TestClientConnectHandsTransportToEndpoint]: Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		trans, err := ln.Accept(ctx)
		if err == nil {
			defer trans.Close()
			buf := make([]byte, 1)
			trans.Read(buf)
		}
	}()

	served := make(chan transport.Transport, 1)
	ep := recordingEndpoint{served: served}
	cli := NewClient(ep, ln.Addr().String(), WithDialTimeout(time.Second))
	if err := cli.Connect(ctx); err != nil {
		t.Fatalf("[TestClientConnectHandsTransportToEndpoint]: Connect: %v", err)
	}
	defer cli.Close(ctx)

	select {
	case trans := <-served:
		if trans == nil {
			t.Error("[TestClientConnectHandsTransportToEndpoint]: got nil transport")
		}
	case <-time.After(time.Second):
		t.Fatal("[TestClientConnectHandsTransportToEndpoint]: endpoint never received the transport")
	}
}

func TestDialRejectsInsecureCredentials(t *testing.T) {
	ctx := basectx.Background()
	creds := credentials.NewTokenCredentials("Bearer", "tok", true)

	_, err := Dial(ctx, "127.0.0.1:0", WithPerRPCCredentials(creds))
	if err != ErrInsecureCredentials {
		t.Errorf("[TestDialRejectsInsecureCredentials]: got err = %v, want ErrInsecureCredentials", err)
	}
}

type recordingEndpoint struct {
	served chan transport.Transport
}

func (e recordingEndpoint) ServeTransport(ctx basectx.Context, t transport.Transport) {
	e.served <- t
}

func (recordingEndpoint) Close(ctx basectx.Context) error { return nil }
