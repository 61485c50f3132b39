package signalling

import (
	"context"
	"errors"
)

var (
	ErrRelayUnavailable   = errors.New("relay unavailable")
	ErrSubscriptionClosed = errors.New("subscription closed")
	// The relay is not draining published messages fast enough.
	ErrRelayCongested = errors.New("relay send buffer full")
)

// A topic based publish/subscribe service carrying the signaling of every room.
type Relay interface {
	// Subscribe to topic, returning once the relay has confirmed the subscription
	// or ctx is done. deliver is called for each payload published on the topic,
	// one at a time and in the order the relay received them.
	Subscribe(ctx context.Context, topic string, deliver func(payload []byte)) (Subscription, error)
}

type Subscription interface {
	// Publish to every subscriber of the topic. No delivery acknowledgement.
	// Never blocks on a slow relay.
	Publish(payload []byte) error
	// Stop deliveries. Idempotent.
	Unsubscribe() error
}
