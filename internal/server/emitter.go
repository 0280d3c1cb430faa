package server

import (
	"fmt"

	"github.com/riverstone/socketgate/internal/pipeline"
	"github.com/riverstone/socketgate/internal/token"
)

// Hooks is the server's tagged-union event surface: one typed field per
// known event, in place of the string-keyed "on(eventName, fn)" dispatch a
// dynamically-typed implementation would use. A nil hook is simply not
// called; wiring only the events a caller cares about is normal.
type Hooks struct {
	// OnHandshake fires once a transport connection has been accepted and
	// a Session created, before "#handshake" has been received.
	OnHandshake func(*Session)

	// OnConnection fires once a session completes "#handshake" and
	// successfully binds to the broker, transitioning CONNECTING -> OPEN.
	OnConnection func(*Session)

	// OnDisconnection fires once, when a session's transport goes away.
	// cause is nil for a clean client-initiated close.
	OnDisconnection func(sess *Session, cause error)

	// OnError is a session's error sink: anything that doesn't have a
	// correlated reply to carry it (a failed bind, a transport write
	// failure) lands here instead of crashing the session.
	OnError func(sess *Session, err error)

	// OnWarning fires for server-level warnings: an invalid origin, a
	// demoted (isWarning) broker bind failure, a non-silent gate
	// rejection (when MiddlewareEmitWarnings is true), or a gate's
	// continuation firing twice.
	OnWarning func(err error)

	// OnBadAuthToken fires locally on the session whose token failed
	// verification during "#handshake" or "#authenticate".
	OnBadAuthToken func(sess *Session, err error)

	// OnBadSocketAuthToken mirrors OnBadAuthToken at server scope.
	OnBadSocketAuthToken func(sess *Session, err error)

	// OnDeauthenticate fires whenever a session's auth token is cleared,
	// whether by expiry, by "#removeAuthToken", or by an expired token
	// presented to "#authenticate". A reverification that fails for any
	// other reason leaves the current token in place and does not fire
	// this hook. prev is the payload that was in effect.
	OnDeauthenticate func(sess *Session, prev token.Payload)

	// OnReady fires once, when the broker adapter's Ready channel closes.
	OnReady func()

	// OnEvent fires for every non-control inbound event that clears the
	// emit stage, before the reply (if any) is sent.
	OnEvent func(sess *Session, event string, data []byte)
}

// InternalHooks is the in-process plugin surface. Each hook fires before
// the public hook of the same name, so plugins can observe a lifecycle
// transition ahead of application listeners. OnDisconnect is the one hook
// with no public counterpart: it fires at the start of session teardown,
// before the client map, timers, and broker binding have been cleaned up,
// while OnDisconnection (internal then public) fires after.
type InternalHooks struct {
	OnHandshake     func(*Session)
	OnConnection    func(*Session)
	OnDisconnect    func(sess *Session, cause error)
	OnDisconnection func(sess *Session, cause error)
}

func (s *Server) emitHandshake(sess *Session) {
	if s.internal.OnHandshake != nil {
		s.internal.OnHandshake(sess)
	}
	if s.hooks.OnHandshake != nil {
		s.hooks.OnHandshake(sess)
	}
}

func (s *Server) emitConnection(sess *Session) {
	if s.internal.OnConnection != nil {
		s.internal.OnConnection(sess)
	}
	if s.hooks.OnConnection != nil {
		s.hooks.OnConnection(sess)
	}
}

func (s *Server) emitDisconnect(sess *Session, cause error) {
	if s.internal.OnDisconnect != nil {
		s.internal.OnDisconnect(sess, cause)
	}
}

func (s *Server) emitDisconnection(sess *Session, cause error) {
	if s.internal.OnDisconnection != nil {
		s.internal.OnDisconnection(sess, cause)
	}
	if s.hooks.OnDisconnection != nil {
		s.hooks.OnDisconnection(sess, cause)
	}
}

func (s *Server) emitSessionError(sess *Session, err error) {
	if s.hooks.OnError != nil {
		s.hooks.OnError(sess, err)
	}
}

func (s *Server) emitWarning(err error) {
	if s.hooks.OnWarning != nil {
		s.hooks.OnWarning(err)
	}
}

func (s *Server) emitBadAuthToken(sess *Session, err error) {
	if s.hooks.OnBadAuthToken != nil {
		s.hooks.OnBadAuthToken(sess, err)
	}
}

func (s *Server) emitBadSocketAuthToken(sess *Session, err error) {
	if s.hooks.OnBadSocketAuthToken != nil {
		s.hooks.OnBadSocketAuthToken(sess, err)
	}
}

func (s *Server) emitDeauthenticate(sess *Session, prev token.Payload) {
	if s.hooks.OnDeauthenticate != nil {
		s.hooks.OnDeauthenticate(sess, prev)
	}
}

func (s *Server) emitReady() {
	if s.hooks.OnReady != nil {
		s.hooks.OnReady()
	}
}

func (s *Server) emitEvent(sess *Session, event string, data []byte) {
	if s.hooks.OnEvent != nil {
		s.hooks.OnEvent(sess, event, data)
	}
}

// handlePipelineWarning adapts the pipeline's WarnFunc to a server warning
// event. Both warning kinds (a surfaced reject, a double-fired continuation)
// share the same sink; the kind is folded into the wrapped message.
func (s *Server) handlePipelineWarning(kind string, stage pipeline.Stage, err error) {
	s.emitWarning(fmt.Errorf("middleware %s on stage %s: %w", kind, stage, err))
}
