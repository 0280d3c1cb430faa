// Package broker defines the pluggable broker adapter: the boundary
// between the per-session state the core owns and the cross-session
// pub/sub substrate that fans messages across channels. The broker is the
// only subsystem permitted to touch cross-session state; the core never
// iterates its client map to fan out a publish.
package broker

import "context"

// Session is the minimal view the broker needs of a bound socket: enough
// to identify it and to deliver a published frame to it.
type Session interface {
	ID() string
	// Deliver writes data to the subscriber on channel, running the
	// publishOut stage first. Implementations of Adapter call this for
	// every session subscribed to a published channel.
	Deliver(ctx context.Context, channel string, data any)
}

// Adapter is the broker engine the core depends on. bind/unbind register
// or release a session against the subscription index; Exchange returns
// the publish handle used to fan a message out to subscribers.
type Adapter interface {
	Bind(ctx context.Context, session Session) (warning bool, err error)
	Unbind(ctx context.Context, session Session) error
	Exchange() Exchange
	// Ready returns a channel that is closed once the broker has finished
	// any startup it needs (connecting to a backing cluster, warming a
	// routing table, etc). The in-process adapter closes it immediately.
	Ready() <-chan struct{}
}

// Exchange is the publish handle returned by Adapter.Exchange.
type Exchange interface {
	Publish(ctx context.Context, channel string, data any) error
}

// Subscriber is implemented by adapters that also need explicit per-channel
// subscribe/unsubscribe bookkeeping (the in-process adapter does; a remote
// broker might manage this out of band instead).
type Subscriber interface {
	Subscribe(ctx context.Context, session Session, channel string) error
	Unsubscribe(ctx context.Context, session Session, channel string) error
}
