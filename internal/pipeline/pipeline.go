// Package pipeline implements the middleware pipeline engine: five
// named stages, each an ordered, mutable list of gate functions that gate
// emit / subscribe / publish-in / publish-out / handshake events with
// per-stage error semantics.
//
// A gate is handed a continuation instead of returning a value directly so
// that the pipeline can enforce "continuation fires at most once" the same
// way a real asynchronous gate (one that suspends on I/O) would violate or
// honor that contract. Go's blocking calls already create the suspension
// point the source models with callbacks; this package keeps the
// callback-shaped contract only where it's load-bearing (double-invocation
// detection), and nowhere else.
package pipeline

import (
	"context"
	"net/http"
	"sync"

	"github.com/riverstone/socketgate/internal/wire"
)

// Stage names one of the five gated points in the request lifecycle.
type Stage string

const (
	StageHandshake  Stage = "handshake"
	StageEmit       Stage = "emit"
	StageSubscribe  Stage = "subscribe"
	StagePublishIn  Stage = "publishIn"
	StagePublishOut Stage = "publishOut"
)

// Session is the minimal view a stage request exposes of the socket that
// triggered it. Keeping this to an interface (rather than importing the
// server package's concrete Session) avoids a cycle: server depends on
// pipeline, not the other way around.
type Session interface {
	ID() string
}

// Decision is what a gate hands back through its continuation.
type Decision struct {
	kind decisionKind
	err  error
}

type decisionKind int

const (
	kindAccept decisionKind = iota
	kindSilentBlock
	kindReject
)

// Accept lets the action proceed.
func Accept() Decision { return Decision{kind: kindAccept} }

// SilentBlock rejects the action without emitting a middleware warning.
// On the wire this becomes a SilentMiddlewareBlockedError.
func SilentBlock() Decision { return Decision{kind: kindSilentBlock} }

// Reject rejects the action with a descriptive error.
func Reject(err error) Decision { return Decision{kind: kindReject, err: err} }

// Continuation is the single-shot callback a gate must invoke exactly once.
type Continuation func(Decision)

// HandshakeRequest is the record passed to handshake-stage gates.
type HandshakeRequest struct {
	Req *http.Request
}

// EmitRequest is the record passed to emit-stage gates.
type EmitRequest struct {
	Socket                Session
	Event                 string
	Data                  []byte
	AuthTokenExpiredError error
}

// SubscribeRequest is the record passed to subscribe-stage gates.
type SubscribeRequest struct {
	Socket                Session
	Channel               string
	AuthTokenExpiredError error
}

// PublishInRequest is the record passed to publishIn-stage gates.
type PublishInRequest struct {
	Socket                Session
	Channel               string
	Data                  []byte
	AuthTokenExpiredError error
}

// PublishOutRequest is the record passed to publishOut-stage gates.
type PublishOutRequest struct {
	Socket  Session
	Channel string
	Data    any
}

type (
	HandshakeGate  func(ctx context.Context, req HandshakeRequest, done Continuation)
	EmitGate       func(ctx context.Context, req EmitRequest, done Continuation)
	SubscribeGate  func(ctx context.Context, req SubscribeRequest, done Continuation)
	PublishInGate  func(ctx context.Context, req PublishInRequest, done Continuation)
	PublishOutGate func(ctx context.Context, req PublishOutRequest, done Continuation)
)

// GateHandle identifies a single registration within one stage's gate
// list, returned by AddXGate and consumed by RemoveXGate. It is only valid
// for the stage it was issued from.
type GateHandle uint64

// WarnFunc receives pipeline-level warnings: "reject" (a non-silent gate
// rejection, only when EmitWarnings is true) and "double-callback" (a
// gate's continuation fired more than once, always surfaced regardless of
// EmitWarnings since it signals a programmer error in the gate itself).
type WarnFunc func(kind string, stage Stage, err error)

// Pipeline owns the five stage gate lists and the shared emit-warnings
// policy.
type Pipeline struct {
	handshake  *gateList[HandshakeGate]
	emit       *gateList[EmitGate]
	subscribe  *gateList[SubscribeGate]
	publishIn  *gateList[PublishInGate]
	publishOut *gateList[PublishOutGate]

	emitWarnings bool
	warn         WarnFunc
}

// New constructs an empty Pipeline. warn may be nil to discard warnings.
func New(emitWarnings bool, warn WarnFunc) *Pipeline {
	return &Pipeline{
		handshake:    newGateList[HandshakeGate](),
		emit:         newGateList[EmitGate](),
		subscribe:    newGateList[SubscribeGate](),
		publishIn:    newGateList[PublishInGate](),
		publishOut:   newGateList[PublishOutGate](),
		emitWarnings: emitWarnings,
		warn:         warn,
	}
}

func (p *Pipeline) AddHandshakeGate(fn HandshakeGate) GateHandle {
	return GateHandle(p.handshake.Add(fn))
}
func (p *Pipeline) RemoveHandshakeGate(h GateHandle) { p.handshake.Remove(uint64(h)) }

func (p *Pipeline) AddEmitGate(fn EmitGate) GateHandle { return GateHandle(p.emit.Add(fn)) }
func (p *Pipeline) RemoveEmitGate(h GateHandle)        { p.emit.Remove(uint64(h)) }

func (p *Pipeline) AddSubscribeGate(fn SubscribeGate) GateHandle {
	return GateHandle(p.subscribe.Add(fn))
}
func (p *Pipeline) RemoveSubscribeGate(h GateHandle) { p.subscribe.Remove(uint64(h)) }

func (p *Pipeline) AddPublishInGate(fn PublishInGate) GateHandle {
	return GateHandle(p.publishIn.Add(fn))
}
func (p *Pipeline) RemovePublishInGate(h GateHandle) { p.publishIn.Remove(uint64(h)) }

func (p *Pipeline) AddPublishOutGate(fn PublishOutGate) GateHandle {
	return GateHandle(p.publishOut.Add(fn))
}
func (p *Pipeline) RemovePublishOutGate(h GateHandle) { p.publishOut.Remove(uint64(h)) }

// RunHandshake runs the handshake stage. A nil return means accept.
func (p *Pipeline) RunHandshake(ctx context.Context, req HandshakeRequest) error {
	for _, gate := range p.handshake.Snapshot() {
		d := p.await(StageHandshake, func(done Continuation) { gate(ctx, req, done) })
		if err := p.resolve(StageHandshake, d); err != nil {
			return err
		}
	}
	return nil
}

// RunEmit runs the emit stage.
func (p *Pipeline) RunEmit(ctx context.Context, req EmitRequest) error {
	for _, gate := range p.emit.Snapshot() {
		d := p.await(StageEmit, func(done Continuation) { gate(ctx, req, done) })
		if err := p.resolve(StageEmit, d); err != nil {
			return err
		}
	}
	return nil
}

// RunSubscribe runs the subscribe stage.
func (p *Pipeline) RunSubscribe(ctx context.Context, req SubscribeRequest) error {
	for _, gate := range p.subscribe.Snapshot() {
		d := p.await(StageSubscribe, func(done Continuation) { gate(ctx, req, done) })
		if err := p.resolve(StageSubscribe, d); err != nil {
			return err
		}
	}
	return nil
}

// RunPublishIn runs the publishIn stage.
func (p *Pipeline) RunPublishIn(ctx context.Context, req PublishInRequest) error {
	for _, gate := range p.publishIn.Snapshot() {
		d := p.await(StagePublishIn, func(done Continuation) { gate(ctx, req, done) })
		if err := p.resolve(StagePublishIn, d); err != nil {
			return err
		}
	}
	return nil
}

// RunPublishOut runs the publishOut stage.
func (p *Pipeline) RunPublishOut(ctx context.Context, req PublishOutRequest) error {
	for _, gate := range p.publishOut.Snapshot() {
		d := p.await(StagePublishOut, func(done Continuation) { gate(ctx, req, done) })
		if err := p.resolve(StagePublishOut, d); err != nil {
			return err
		}
	}
	return nil
}

// await blocks until invoke calls its continuation exactly once, guarding
// against (and warning on) a second invocation.
func (p *Pipeline) await(stage Stage, invoke func(Continuation)) Decision {
	var (
		mu       sync.Mutex
		fired    bool
		result   Decision
		signaled = make(chan struct{})
	)

	done := func(d Decision) {
		mu.Lock()
		if fired {
			mu.Unlock()
			if p.warn != nil {
				p.warn("double-callback", stage, &wire.MiddlewareDoubleCallbackError{Stage: string(stage)})
			}
			return
		}
		fired = true
		result = d
		mu.Unlock()
		close(signaled)
	}

	invoke(done)
	<-signaled
	return result
}

// resolve turns a Decision into the pipeline's external contract: nil to
// proceed, a non-nil error to reject (and apply side effects accordingly).
func (p *Pipeline) resolve(stage Stage, d Decision) error {
	switch d.kind {
	case kindAccept:
		return nil
	case kindSilentBlock:
		return &wire.SilentMiddlewareBlockedError{Stage: string(stage)}
	case kindReject:
		if p.warn != nil && p.emitWarnings {
			p.warn("reject", stage, d.err)
		}
		return d.err
	default:
		return nil
	}
}

// gateList is an ordered, identity-removable, concurrency-safe list of
// gate functions for one stage. Readers snapshot the list so that
// concurrent Add/Remove calls never race a run in progress.
type gateList[T any] struct {
	mu     sync.Mutex
	nextID uint64
	order  []uint64
	byID   map[uint64]T
}

func newGateList[T any]() *gateList[T] {
	return &gateList[T]{byID: make(map[uint64]T)}
}

func (l *gateList[T]) Add(fn T) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.byID[id] = fn
	l.order = append(l.order, id)
	return id
}

func (l *gateList[T]) Remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byID, id)
	for i, existing := range l.order {
		if existing == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

func (l *gateList[T]) Snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}
