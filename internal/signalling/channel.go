package signalling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sig "github.com/Honorable-Knights-of-the-Roundtable/meshroom/pkg/signalling"
)

const DefaultJoinTimeout = 10 * time.Second

var (
	// The relay could not be reached, or did not confirm the subscription in time.
	// Fatal to a join attempt.
	ErrChannelUnavailable = errors.New("signaling channel unavailable")

	ErrChannelClosed = errors.New("signaling channel closed")
)

// The signaling channel of one room, as seen by one participant.
//
// Messages this participant sent, and signals addressed to other participants,
// are never handed to the message handler.
type Channel struct {
	logger *slog.Logger
	room   string
	self   sig.ParticipantIdentifier

	sub       Subscription
	leaveOnce sync.Once

	mu      sync.Mutex
	handler func(sig.Message)
	pending []sig.Message
	left    bool

	// Held while calling the handler, so deliveries keep relay order
	deliverMu sync.Mutex
}

// Subscribe to the relay topic of room as self.
//
// Fails with ErrChannelUnavailable if the relay cannot be reached or does not
// confirm the subscription within timeout. A non-positive timeout uses DefaultJoinTimeout.
func Join(
	ctx context.Context,
	relay Relay,
	room string,
	self sig.ParticipantIdentifier,
	timeout time.Duration,
	logger *slog.Logger,
) (*Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultJoinTimeout
	}
	if room == "" {
		return nil, fmt.Errorf("%w: empty room name", ErrChannelUnavailable)
	}
	if self.IsZero() {
		return nil, fmt.Errorf("%w: empty participant identifier", ErrChannelUnavailable)
	}

	c := &Channel{
		logger: logger.With("room", room),
		room:   room,
		self:   self,
	}

	joinCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	sub, err := relay.Subscribe(joinCtx, sig.RoomTopic(room), c.receive)
	if err != nil {
		c.logger.Error("could not join signaling channel", "err", err)
		return nil, fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
	}
	c.sub = sub

	c.logger.Debug("joined signaling channel")
	return c, nil
}

func (c *Channel) Room() string {
	return c.room
}

// Send msg to every listener of the room. Fire-and-forget: a nil error only
// means the relay accepted the message.
func (c *Channel) Broadcast(msg sig.Message) error {
	c.mu.Lock()
	left := c.left
	c.mu.Unlock()
	if left {
		return ErrChannelClosed
	}

	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return c.sub.Publish(data)
}

// Register the handler for incoming messages. Messages received before a handler
// is registered are held and handed over first, in order.
func (c *Channel) OnMessage(handler func(sig.Message)) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	c.handler = handler
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, msg := range pending {
		handler(msg)
	}
}

// Unsubscribe from the room. Idempotent, and safe on a channel that never joined.
func (c *Channel) Leave() {
	if c == nil {
		return
	}
	c.leaveOnce.Do(func() {
		c.mu.Lock()
		c.left = true
		c.pending = nil
		c.mu.Unlock()

		if c.sub == nil {
			return
		}
		if err := c.sub.Unsubscribe(); err != nil {
			c.logger.Warn("error while leaving signaling channel", "err", err)
		}
		c.logger.Debug("left signaling channel")
	})
}

func (c *Channel) receive(payload []byte) {
	msg, err := sig.Decode(payload)
	if err != nil {
		c.logger.Debug("discarding malformed signaling message", "err", err)
		return
	}
	if msg.Sender == c.self {
		return
	}
	if !msg.IsBroadcast() && msg.Recipient != c.self {
		return
	}

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return
	}
	handler := c.handler
	if handler == nil {
		c.pending = append(c.pending, msg)
	}
	c.mu.Unlock()

	if handler != nil {
		handler(msg)
	}
}
