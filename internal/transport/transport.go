// Package transport defines the framed-transport boundary the core
// consumes and provides a default adapter over gorilla/websocket. The
// core only ever talks to the Conn interface; swapping transports means
// supplying a different Upgrader.
package transport

import (
	"errors"
	"net/http"

	"github.com/riverstone/socketgate/internal/wire"
)

// ErrClosed is returned by ReadMessage once the connection has been closed,
// either by the peer or by a local Close call.
var ErrClosed = errors.New("transport: connection closed")

// Conn is one accepted, framed, bidirectional connection. The core treats
// it as opaque: it reads frames with ReadMessage, writes replies and
// pushes with SendObject, and tears it down with Close. Ping/pong
// keepalive and per-socket codec details belong entirely to the adapter.
type Conn interface {
	// Request returns the original upgrade request (for origin/URL
	// inspection during the handshake stage).
	Request() *http.Request

	// ReadMessage blocks for the next inbound frame. It returns ErrClosed
	// (or a wrapped variant) once the connection is gone.
	ReadMessage() (wire.Request, error)

	// SendObject writes a JSON-serializable value as one frame.
	SendObject(v any) error

	// Close tears down the connection. Idempotent.
	Close() error
}

// Upgrader turns an HTTP request into a Conn after the server's origin
// check and handshake-stage gates have already accepted it.
type Upgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error)
}
