// Package transport provides the C4 transport contract: an abstract
// full-duplex channel that the endpoint, caller and responder packages
// speak frames over. Concrete transports (byte-stream or datagram) are
// external collaborators per spec §1/§6.1.
package transport

import (
	"io"
	"net"

	"github.com/gostdlib/base/context"
)

// Transport is a byte-stream full-duplex connection. Frames are delimited
// with a 4-byte big-endian length prefix by the wire package when reading
// from or writing to a Transport (spec §6.1).
type Transport interface {
	io.ReadWriteCloser

	// LocalAddr returns the local network address, if known.
	LocalAddr() net.Addr

	// RemoteAddr returns the remote network address, if known.
	RemoteAddr() net.Addr
}

// FrameTransport is a datagram/message transport where one frame maps to
// one message; no length prefix is needed (spec §6.1).
type FrameTransport interface {
	// SendFrame sends one already-encoded frame.
	SendFrame(b []byte) error
	// Frames yields inbound frames. When the transport ends, an
	// implementation either closes the channel (transport/ws does) or just
	// stops sending on it (transport/inmem does), so readers also watch
	// their own context.
	Frames() <-chan []byte
	// Err returns the error that caused Frames to close, if any.
	Err() error
	Close() error
}

// Dialer creates new transport connections to a remote endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// Listener accepts incoming transport connections.
type Listener interface {
	Accept(ctx context.Context) (Transport, error)
	Close() error
	Addr() net.Addr
}

// netConnTransport wraps a net.Conn to implement Transport.
type netConnTransport struct {
	net.Conn
}

// NetConnTransport wraps a net.Conn to implement the Transport interface.
func NetConnTransport(conn net.Conn) Transport {
	return &netConnTransport{Conn: conn}
}

func (t *netConnTransport) LocalAddr() net.Addr  { return t.Conn.LocalAddr() }
func (t *netConnTransport) RemoteAddr() net.Addr { return t.Conn.RemoteAddr() }

// DialFunc is a function that dials a specific address.
type DialFunc func(ctx context.Context, addr string) (Transport, error)
