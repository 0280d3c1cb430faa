package broker

import (
	"context"
	"sync"
)

// InProcess is the default broker adapter: a single-process pub/sub index
// with no cluster membership or durability, matching the core's declared
// non-goals. It is the "brokerEngine" default referenced in the server's
// configuration table.
type InProcess struct {
	mu       sync.RWMutex
	bound    map[string]Session
	channels map[string]map[string]Session // channel -> sessionID -> Session
	ready    chan struct{}
}

// NewInProcess constructs a ready-to-use in-process broker.
func NewInProcess() *InProcess {
	ready := make(chan struct{})
	close(ready)
	return &InProcess{
		bound:    make(map[string]Session),
		channels: make(map[string]map[string]Session),
		ready:    ready,
	}
}

var (
	_ Adapter    = (*InProcess)(nil)
	_ Subscriber = (*InProcess)(nil)
)

// Ready returns a channel already closed: the in-process broker has no
// startup phase.
func (b *InProcess) Ready() <-chan struct{} { return b.ready }

// Bind registers session so it can later subscribe to channels. Binding
// never fails for the in-process adapter, so warning is always false.
func (b *InProcess) Bind(ctx context.Context, session Session) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bound[session.ID()] = session
	return false, nil
}

// Unbind releases session from the bound set and every channel it was
// subscribed to.
func (b *InProcess) Unbind(ctx context.Context, session Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bound, session.ID())
	for _, members := range b.channels {
		delete(members, session.ID())
	}
	return nil
}

// Subscribe adds a bound session to a channel's subscriber set.
func (b *InProcess) Subscribe(ctx context.Context, session Session, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.channels[channel]
	if !ok {
		members = make(map[string]Session)
		b.channels[channel] = members
	}
	members[session.ID()] = session
	return nil
}

// Unsubscribe removes a session from a channel's subscriber set.
func (b *InProcess) Unsubscribe(ctx context.Context, session Session, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if members, ok := b.channels[channel]; ok {
		delete(members, session.ID())
		if len(members) == 0 {
			delete(b.channels, channel)
		}
	}
	return nil
}

// Exchange returns b itself: the in-process adapter is its own publish
// handle.
func (b *InProcess) Exchange() Exchange { return b }

// Publish fans data out to every session currently subscribed to channel.
// Each subscriber's Deliver runs the publishOut stage and writes (or drops)
// the frame independently, so one subscriber's rejection or write failure
// never affects another's.
func (b *InProcess) Publish(ctx context.Context, channel string, data any) error {
	b.mu.RLock()
	members := make([]Session, 0, len(b.channels[channel]))
	for _, s := range b.channels[channel] {
		members = append(members, s)
	}
	b.mu.RUnlock()

	for _, s := range members {
		s.Deliver(ctx, channel, data)
	}
	return nil
}
