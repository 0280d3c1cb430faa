package server

import (
	"sync"

	"github.com/riverstone/socketgate/internal/wire"
)

// Responder correlates a single inbound request to at most one outbound
// reply. A request with no cid attached yields a Responder whose
// End/Error/Callback calls are no-ops: there is nothing to correlate a
// reply to.
type Responder struct {
	sess   *Session
	rid    int64
	hasRID bool

	mu   sync.Mutex
	sent bool
}

func newResponder(sess *Session, req wire.Request) *Responder {
	r := &Responder{sess: sess}
	if req.CID != nil {
		r.rid = *req.CID
		r.hasRID = true
	}
	return r
}

// End sends a successful reply carrying payload (nil omits "data").
func (r *Responder) End(payload any) { r.respond(payload, nil) }

// Error sends a failed reply: err is serialized into the "error" field,
// payload (if non-nil) is still attached as "data".
func (r *Responder) Error(err error, payload any) { r.respond(payload, err) }

// Callback is a convenience for handlers written in (err, payload) style:
// it calls Error when err is non-nil, End otherwise.
func (r *Responder) Callback(err error, payload any) {
	if err != nil {
		r.Error(err, payload)
		return
	}
	r.End(payload)
}

// respond enforces the at-most-once reply invariant. A second attempt is a
// programmer error in the calling handler/gate, not a recoverable runtime
// condition, so it panics with a ResponseAlreadySentError; the session's
// request loop recovers it and reports it through the server's warning
// sink rather than letting it take the process down.
func (r *Responder) respond(payload any, err error) {
	if !r.hasRID {
		return
	}

	r.mu.Lock()
	if r.sent {
		r.mu.Unlock()
		panic(&wire.ResponseAlreadySentError{RID: r.rid})
	}
	r.sent = true
	r.mu.Unlock()

	resp := wire.Response{RID: r.rid}
	if err != nil {
		resp.Error = wire.ToError(err)
	}
	if payload != nil {
		resp.Data = payload
	}
	if sendErr := r.sess.conn.SendObject(resp); sendErr != nil {
		r.sess.srv.emitSessionError(r.sess, sendErr)
	}
}
