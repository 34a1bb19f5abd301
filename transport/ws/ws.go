// Package ws implements transport.FrameTransport over a gorilla/websocket
// connection: one websocket message carries exactly one wire frame, so no
// additional length prefix is needed (spec §6.1). Adapted from the
// message-framed websocket usage pattern in the wider example pack.
package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport wraps a *websocket.Conn as a transport.FrameTransport.
type Transport struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	frames chan []byte
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Dial connects to a websocket server and returns a ready Transport.
func Dial(url string, header http.Header) (*Transport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, err
	}
	return newTransport(conn), nil
}

// Upgrade upgrades an incoming HTTP request to a websocket connection and
// returns a ready Transport.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Transport, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newTransport(conn), nil
}

func newTransport(conn *websocket.Conn) *Transport {
	t := &Transport{
		conn:   conn,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *Transport) readLoop() {
	defer close(t.frames)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			t.err = err
			t.mu.Unlock()
			return
		}
		select {
		case t.frames <- data:
		case <-t.done:
			return
		}
	}
}

// SendFrame sends one binary websocket message carrying the encoded frame.
func (t *Transport) SendFrame(b []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.BinaryMessage, b)
}

// Frames returns the inbound frame channel, closed when the connection ends.
func (t *Transport) Frames() <-chan []byte {
	return t.frames
}

// Err returns the error that ended the read loop, if any.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close closes the underlying websocket connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.done)
	return t.conn.Close()
}
