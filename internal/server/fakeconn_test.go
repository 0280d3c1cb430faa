package server

import (
	"net/http"
	"sync"

	"github.com/riverstone/socketgate/internal/transport"
	"github.com/riverstone/socketgate/internal/wire"
)

// fakeConn is a test double for transport.Conn: the test drives inbound
// frames through in and inspects everything written back through Sent().
// Closing in simulates the peer going away.
type fakeConn struct {
	req *http.Request
	in  chan wire.Request

	mu        sync.Mutex
	out       []any
	wasClosed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		req: &http.Request{Header: http.Header{}},
		in:  make(chan wire.Request, 8),
	}
}

var _ transport.Conn = (*fakeConn)(nil)

func (c *fakeConn) Request() *http.Request { return c.req }

func (c *fakeConn) ReadMessage() (wire.Request, error) {
	req, ok := <-c.in
	if !ok {
		return wire.Request{}, transport.ErrClosed
	}
	return req, nil
}

func (c *fakeConn) SendObject(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wasClosed = true
	return nil
}

// Sent returns a snapshot of everything written to the connection so far.
func (c *fakeConn) Sent() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.out))
	copy(out, c.out)
	return out
}

func cid(n int64) *int64 { return &n }
