package signalling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	sig "github.com/Honorable-Knights-of-the-Roundtable/meshroom/pkg/signalling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	outgoingBufferSize = 256
)

// A Relay reached over a websocket, speaking sig.RelayFrame.
// Every subscription holds its own connection.
type WebsocketRelay struct {
	logger    *slog.Logger
	serverURL string
	dialer    *websocket.Dialer

	// Ask the relay to deliver a subscriber's own publishes back to it.
	EchoSelf bool
}

func NewWebsocketRelay(serverURL string, logger *slog.Logger) (*WebsocketRelay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid relay URL scheme %q", u.Scheme)
	}

	return &WebsocketRelay{
		logger:    logger.With("relay", u.Redacted()),
		serverURL: u.String(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: writeWait,
		},
	}, nil
}

func (r *WebsocketRelay) Subscribe(ctx context.Context, topic string, deliver func([]byte)) (Subscription, error) {
	conn, _, err := r.dialer.DialContext(ctx, r.serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect: %w", ErrRelayUnavailable, err)
	}

	s := &websocketSubscription{
		logger:    r.logger.With("topic", topic, "subscription", uuid.New().String()),
		conn:      conn,
		topic:     topic,
		deliver:   deliver,
		outgoing:  make(chan sig.RelayFrame, outgoingBufferSize),
		confirmed: make(chan error, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Queued before the pumps start, so the subscribe frame is written first
	s.outgoing <- sig.RelayFrame{Type: sig.FrameSubscribe, Topic: topic, Self: r.EchoSelf}
	go s.readPump()
	go s.writePump()

	select {
	case err := <-s.confirmed:
		if err != nil {
			s.shutdown()
			return nil, err
		}
	case <-ctx.Done():
		s.shutdown()
		return nil, fmt.Errorf("subscription to %s not confirmed: %w", topic, ctx.Err())
	}

	s.logger.Debug("subscribed")
	return s, nil
}

type websocketSubscription struct {
	logger  *slog.Logger
	conn    *websocket.Conn
	topic   string
	deliver func([]byte)

	outgoing    chan sig.RelayFrame
	confirmed   chan error
	confirmOnce sync.Once

	stop         chan struct{}
	stopOnce     sync.Once
	done         chan struct{}
	shutdownOnce sync.Once
}

func (s *websocketSubscription) Publish(payload []byte) error {
	frame := sig.RelayFrame{Type: sig.FramePublish, Topic: s.topic, Payload: json.RawMessage(payload)}
	select {
	case <-s.stop:
		return ErrSubscriptionClosed
	case <-s.done:
		return ErrSubscriptionClosed
	default:
	}

	select {
	case s.outgoing <- frame:
		return nil
	default:
		s.logger.Warn("relay send buffer full, dropping message", "buffered", len(s.outgoing))
		return ErrRelayCongested
	}
}

// Tell the relay, then close the connection. Waits at most writeWait.
func (s *websocketSubscription) Unsubscribe() error {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
	case <-time.After(writeWait):
		s.shutdown()
	}
	return nil
}

func (s *websocketSubscription) confirm(err error) {
	s.confirmOnce.Do(func() {
		s.confirmed <- err
	})
}

func (s *websocketSubscription) shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// readPump reads frames from the relay until the connection closes.
func (s *websocketSubscription) readPump() {
	defer func() {
		s.confirm(fmt.Errorf("%w: connection closed", ErrRelayUnavailable))
		s.shutdown()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var frame sig.RelayFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			select {
			case <-s.stop:
			default:
				s.logger.Debug("relay connection read ended", "err", err)
			}
			return
		}

		switch frame.Type {
		case sig.FrameSubscribed:
			s.confirm(nil)
		case sig.FrameMessage:
			s.deliver(frame.Payload)
		case sig.FrameError:
			var reason string
			_ = json.Unmarshal(frame.Payload, &reason)
			s.logger.Warn("relay reported an error", "reason", reason)
			s.confirm(fmt.Errorf("%w: %s", ErrRelayUnavailable, reason))
		default:
			s.logger.Debug("ignoring unexpected relay frame", "type", frame.Type)
		}
	}
}

// writePump writes frames to the relay and sends periodic pings.
func (s *websocketSubscription) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.shutdown()
	}()

	for {
		select {
		case frame := <-s.outgoing:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				s.logger.Debug("error writing to relay", "err", err)
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.stop:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteJSON(sig.RelayFrame{Type: sig.FrameUnsubscribe, Topic: s.topic})
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-s.done:
			return
		}
	}
}
