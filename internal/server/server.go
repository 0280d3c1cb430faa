// Package server implements the realtime message-oriented gateway core: the
// handshake state machine, request/response correlation, the middleware
// pipeline, and the channel gate, wired together over a pluggable
// transport, token engine, and broker adapter.
package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/riverstone/socketgate/internal/broker"
	"github.com/riverstone/socketgate/internal/pipeline"
	"github.com/riverstone/socketgate/internal/token"
	"github.com/riverstone/socketgate/internal/wire"
	"golang.org/x/time/rate"
)

// Server is the gateway controller: it accepts transport connections,
// enforces the origin and handshake-stage gates before upgrade, and owns
// the live client set.
type Server struct {
	cfg      Config
	pipeline *pipeline.Pipeline
	broker   broker.Adapter
	hooks    Hooks
	internal InternalHooks

	originAllowAny bool
	originPatterns map[string]struct{}

	connectLimiter *rate.Limiter

	mu      sync.RWMutex
	clients map[string]*Session
	count   atomic.Int64
}

// New constructs a Server from cfg, applying defaults for any unset field.
// Start from DefaultConfig() rather than a bare Config{} so the two
// zero-value-ambiguous bools (AllowClientPublish, MiddlewareEmitWarnings)
// come out as documented.
func New(cfg Config) (*Server, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:     cfg,
		broker:  cfg.Broker,
		clients: make(map[string]*Session),
	}
	srv.pipeline = pipeline.New(cfg.MiddlewareEmitWarnings, srv.handlePipelineWarning)
	srv.originAllowAny, srv.originPatterns = parseOrigins(cfg.Origins)

	if cfg.ConnectRateLimit > 0 {
		srv.connectLimiter = rate.NewLimiter(cfg.ConnectRateLimit, cfg.ConnectBurst)
	}

	go srv.forwardBrokerReady()

	return srv, nil
}

// SetHooks replaces the server's event hooks. Intended to be called once,
// before the server starts accepting connections.
func (s *Server) SetHooks(h Hooks) { s.hooks = h }

// SetInternalHooks replaces the in-process plugin hook set. Internal hooks
// fire before the public hooks of the same name.
func (s *Server) SetInternalHooks(h InternalHooks) { s.internal = h }

// Pipeline exposes the middleware pipeline so callers can register gates
// for any of the five stages.
func (s *Server) Pipeline() *pipeline.Pipeline { return s.pipeline }

// AppName returns the server's stable process identifier.
func (s *Server) AppName() string { return s.cfg.AppName }

// ClientsCount returns the number of sessions currently OPEN.
func (s *Server) ClientsCount() int { return int(s.count.Load()) }

// Client looks up an OPEN session by id.
func (s *Server) Client(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.clients[id]
	return sess, ok
}

func (s *Server) addClient(sess *Session) {
	s.mu.Lock()
	s.clients[sess.id] = sess
	s.mu.Unlock()
	s.count.Add(1)
}

func (s *Server) removeClient(sess *Session) {
	s.mu.Lock()
	delete(s.clients, sess.id)
	s.mu.Unlock()
	s.count.Add(-1)
}

func (s *Server) forwardBrokerReady() {
	<-s.broker.Ready()
	s.emitReady()
}

// ServeHTTP implements the accept path: connection-rate throttle,
// origin check, handshake-stage gates, then upgrade and session creation.
// All four run before a Session exists, so their rejections are plain HTTP
// responses rather than anything carried over the framed transport.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.connectLimiter != nil && !s.connectLimiter.Allow() {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	if err := s.checkOrigin(r); err != nil {
		s.emitWarning(err)
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	if err := s.pipeline.RunHandshake(r.Context(), pipeline.HandshakeRequest{Req: r}); err != nil {
		// The pipeline itself already reported a non-silent rejection
		// through the warning sink (see Pipeline.resolve); there's
		// nothing further to report here.
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := s.cfg.Transport.Upgrade(w, r)
	if err != nil {
		s.emitWarning(fmt.Errorf("transport upgrade failed: %w", err))
		return
	}

	sess := newSession(s, conn)
	sess.armHandshakeTimer(s.cfg.AckTimeout)
	s.emitHandshake(sess)
	go sess.run(context.Background())
}

// checkOrigin enforces the origin policy: parse the Origin header,
// default its port to 80 when absent, and accept if any configured pattern
// matches exactly, by host wildcard, by port wildcard, or via the universal
// "*:*".
func (s *Server) checkOrigin(r *http.Request) error {
	if s.originAllowAny {
		return nil
	}

	origin := r.Header.Get("Origin")
	host, port := parseOrigin(origin)

	candidates := [3]string{
		host + ":" + port,
		host + ":*",
		"*:" + port,
	}
	for _, c := range candidates {
		if _, ok := s.originPatterns[c]; ok {
			return nil
		}
	}
	return &wire.InvalidOriginError{Origin: origin}
}

func parseOrigin(origin string) (host, port string) {
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return origin, "80"
	}
	host = u.Hostname()
	port = u.Port()
	if port == "" {
		port = "80"
	}
	return host, port
}

func parseOrigins(patterns []string) (allowAny bool, set map[string]struct{}) {
	set = make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if p == "*:*" {
			allowAny = true
		}
		set[p] = struct{}{}
	}
	return allowAny, set
}

// verifyToken resolves the verification key and allowed algorithms from
// configuration and delegates to the configured token engine.
func (s *Server) verifyToken(signed string) (token.Payload, error) {
	return s.cfg.AuthEngine.VerifyToken(signed, s.cfg.verificationKey(), token.VerifyOptions{
		Algorithms: s.cfg.AuthAllowedAlgorithms,
	})
}

// SignToken signs payload with the server's configured signing key,
// applying the configured default algorithm and expiry.
func (s *Server) SignToken(payload token.Payload) (string, error) {
	return s.cfg.AuthEngine.SignToken(payload, s.cfg.signingKey(), token.SignOptions{
		Algorithm:     s.cfg.AuthAlgorithm,
		ExpirySeconds: s.cfg.AuthDefaultExpiry,
	})
}
