package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/riverstone/socketgate/internal/pipeline"
	"github.com/riverstone/socketgate/internal/token"
	"github.com/riverstone/socketgate/internal/transport"
	"github.com/riverstone/socketgate/internal/wire"
)

type sessionState int32

const (
	stateConnecting sessionState = iota
	stateOpen
	stateClosed
)

// Session is one accepted connection's state machine: CONNECTING until
// "#handshake" completes and the broker bind succeeds, OPEN while live,
// CLOSED exactly once when the transport goes away. Every inbound frame for
// a given session is handled to completion by the same goroutine (run),
// which is what gives the core its "processed strictly in arrival order,
// one at a time" guarantee without an explicit queue.
type Session struct {
	id   string
	srv  *Server
	conn transport.Conn

	state atomic.Int32

	handshakeTimer *time.Timer

	authMu    sync.Mutex
	authToken token.Payload

	subMu         sync.Mutex
	subscriptions map[string]struct{}
}

func newSession(srv *Server, conn transport.Conn) *Session {
	return &Session{
		id:            uuid.New().String(),
		srv:           srv,
		conn:          conn,
		subscriptions: make(map[string]struct{}),
	}
}

// ID satisfies both pipeline.Session and broker.Session.
func (s *Session) ID() string { return s.id }

// IsAuthenticated reports whether the session currently holds a verified
// auth token. Expiry is not re-checked here; an expired token is cleared by
// checkAuthExpiry on the next gated event.
func (s *Session) IsAuthenticated() bool {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	return s.authToken != nil
}

// AuthToken returns the session's current auth payload, or nil.
func (s *Session) AuthToken() token.Payload {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	return s.authToken
}

func (s *Session) setAuthToken(payload token.Payload) {
	s.authMu.Lock()
	s.authToken = payload
	s.authMu.Unlock()
}

// deauthenticate clears the session's auth token and, if one was set,
// reports the transition. Returns the payload that was cleared, or nil.
func (s *Session) deauthenticate() token.Payload {
	s.authMu.Lock()
	prev := s.authToken
	s.authToken = nil
	s.authMu.Unlock()
	if prev != nil {
		s.srv.emitDeauthenticate(s, prev)
	}
	return prev
}

// checkAuthExpiry re-validates the session's auth token against the clock,
// per the channel gate's "re-check on every gated event" invariant. A
// non-nil return is attached to the stage request as AuthTokenExpiredError
// rather than used to short-circuit the gate run directly: gates decide
// for themselves whether an expired token blocks the action.
func (s *Session) checkAuthExpiry() error {
	s.authMu.Lock()
	tok := s.authToken
	s.authMu.Unlock()
	if tok == nil {
		return nil
	}
	exp, ok := tok.Expiry()
	if !ok || !tok.Expired(time.Now()) {
		return nil
	}
	s.deauthenticate()
	return &wire.AuthTokenExpiredError{Expiry: exp}
}

func (s *Session) armHandshakeTimer(timeout time.Duration) {
	s.handshakeTimer = time.AfterFunc(timeout, func() {
		if sessionState(s.state.Load()) == stateConnecting {
			s.srv.emitSessionError(s, &wire.HandshakeTimeoutError{})
		}
	})
}

func (s *Session) cancelHandshakeTimer() {
	if s.handshakeTimer != nil {
		s.handshakeTimer.Stop()
	}
}

func (s *Session) transitionToOpen() bool {
	return s.state.CompareAndSwap(int32(stateConnecting), int32(stateOpen))
}

// transitionToClosed marks the session CLOSED exactly once, returning
// whether it had reached OPEN (and so needs broker unbind / client removal)
// and whether this call is the one that performed the transition.
func (s *Session) transitionToClosed() (wasOpen bool, didClose bool) {
	prev := sessionState(s.state.Swap(int32(stateClosed)))
	return prev == stateOpen, prev != stateClosed
}

// run is the session's single reader/dispatcher goroutine: it owns strict
// per-session ordering by construction, since the next ReadMessage only
// happens after the previous frame's handling returns.
func (s *Session) run(ctx context.Context) {
	var cause error
	for {
		req, err := s.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, transport.ErrClosed) {
				cause = err
			}
			break
		}
		s.handle(ctx, req)
	}
	s.disconnect(cause)
}

// handle dispatches one inbound frame to completion, recovering a handler
// panic (notably ResponseAlreadySentError from a double Responder call) so
// that one session's programmer error never takes down another session or
// the server.
func (s *Session) handle(ctx context.Context, req wire.Request) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				s.srv.emitWarning(err)
				return
			}
			s.srv.emitWarning(fmt.Errorf("panic handling event %q: %v", req.Event, r))
		}
	}()

	resp := newResponder(s, req)

	switch req.Event {
	case "#handshake":
		s.handleHandshake(ctx, req, resp)
	case "#authenticate":
		s.handleAuthenticate(ctx, req, resp)
	case "#removeAuthToken":
		s.handleRemoveAuthToken(resp)
	case "#subscribe":
		s.handleSubscribe(ctx, req, resp)
	case "#unsubscribe":
		s.handleUnsubscribe(ctx, req, resp)
	case "#publish":
		s.handlePublish(ctx, req, resp)
	case "#disconnect":
		resp.End(nil)
	default:
		if len(req.Event) > 0 && req.Event[0] == '#' {
			// Reserved control namespace: pass through without
			// middleware, acked as a no-op when correlated.
			resp.End(nil)
			return
		}
		s.handleEmit(ctx, req, resp)
	}
}

func (s *Session) handleHandshake(ctx context.Context, req wire.Request, resp *Responder) {
	if sessionState(s.state.Load()) != stateConnecting {
		// A second "#handshake" on an already-open session is a protocol
		// violation by the client, not a silent no-op.
		resp.Error(fmt.Errorf("handshake already completed"), nil)
		return
	}
	s.cancelHandshakeTimer()

	var data wire.HandshakeData
	if len(req.Data) > 0 {
		_ = json.Unmarshal(req.Data, &data)
	}

	var authErr error
	if data.AuthToken != "" {
		payload, verifyErr := s.srv.verifyToken(data.AuthToken)
		if verifyErr != nil {
			authErr = verifyErr
			if _, expired := verifyErr.(*token.ExpiredError); expired {
				s.deauthenticate()
			}
			s.srv.emitBadAuthToken(s, verifyErr)
			s.srv.emitBadSocketAuthToken(s, verifyErr)
		} else {
			s.setAuthToken(payload)
		}
	}

	warning, bindErr := s.srv.broker.Bind(ctx, s)
	if bindErr != nil {
		wrapped := &wire.BrokerBindFailedError{Err: bindErr}
		if !warning {
			s.srv.emitSessionError(s, wrapped)
			resp.Error(wrapped, nil)
			s.disconnect(wrapped)
			return
		}
		s.srv.emitWarning(wrapped)
	}

	if !s.transitionToOpen() {
		resp.Error(fmt.Errorf("handshake already completed"), nil)
		return
	}
	s.srv.addClient(s)
	s.srv.emitConnection(s)

	ack := wire.HandshakeAck{
		ID:              s.id,
		IsAuthenticated: s.IsAuthenticated(),
		PingTimeout:     int(s.srv.cfg.PingTimeout / time.Millisecond),
	}
	if authErr != nil {
		ack.AuthError = wire.ToError(authErr)
	}
	resp.End(ack)
}

func (s *Session) handleAuthenticate(ctx context.Context, req wire.Request, resp *Responder) {
	if s.srv.cfg.GateAuthenticate {
		if err := s.srv.pipeline.RunEmit(ctx, pipeline.EmitRequest{
			Socket: s, Event: "#authenticate", Data: req.Data,
		}); err != nil {
			resp.Error(err, nil)
			return
		}
	}

	var signed string
	_ = json.Unmarshal(req.Data, &signed)

	ack := wire.AuthenticateAck{}
	payload, err := s.srv.verifyToken(signed)
	if err != nil {
		if _, expired := err.(*token.ExpiredError); expired {
			s.deauthenticate()
		}
		s.srv.emitBadAuthToken(s, err)
		s.srv.emitBadSocketAuthToken(s, err)
		ack.AuthError = wire.ToError(err)
		ack.IsAuthenticated = s.IsAuthenticated()
	} else {
		s.setAuthToken(payload)
		ack.IsAuthenticated = true
	}
	resp.End(ack)
}

func (s *Session) handleRemoveAuthToken(resp *Responder) {
	s.deauthenticate()
	resp.End(nil)
}

// disconnect tears the session down exactly once: cancels the handshake
// timer, unbinds from the broker (a session that never reached OPEN was
// never bound, so Unbind is skipped), removes it from the server's client
// map if it had been added, and reports the disconnection.
func (s *Session) disconnect(cause error) {
	wasOpen, didClose := s.transitionToClosed()
	if !didClose {
		return
	}
	s.srv.emitDisconnect(s, cause)
	s.cancelHandshakeTimer()
	_ = s.conn.Close()

	if wasOpen {
		s.srv.removeClient(s)
		if err := s.srv.broker.Unbind(context.Background(), s); err != nil {
			s.srv.emitWarning(&wire.BrokerUnbindFailedError{Err: err})
		}
	}
	s.srv.emitDisconnection(s, cause)
}
