package relayserver

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	sig "github.com/Honorable-Knights-of-the-Roundtable/meshroom/pkg/signalling"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Plenty for an SDP.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// Client is one websocket connection to the relay.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	id     string
	logger zerolog.Logger

	// Outbound frames, written by WritePump. Closed by the hub.
	send chan sig.RelayFrame
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	id := uuid.New().String()
	return &Client{
		hub:    hub,
		conn:   conn,
		id:     id,
		logger: hub.logger.With().Str("client", id).Logger(),
		send:   make(chan sig.RelayFrame, sendBufferSize),
	}
}

func (c *Client) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Queue a frame for the client. Only called by the hub.
// A client too slow to drain its buffer misses frames rather than stalling the hub.
func (c *Client) enqueue(frame sig.RelayFrame) {
	select {
	case c.send <- frame:
	default:
		c.logger.Warn().Str("topic", frame.Topic).Msg("send buffer full, dropping frame")
	}
}

func (c *Client) reportError(reason string) {
	c.logger.Debug().Str("reason", reason).Msg("rejecting client request")
	c.enqueue(sig.RelayFrame{Type: sig.FrameError, Payload: errorPayload(reason)})
}

// ReadPump pumps frames from the websocket connection to the hub.
// At most one reader runs per connection.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame sig.RelayFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("unexpected close")
			}
			return
		}

		select {
		case c.hub.requests <- request{client: c, frame: frame}:
		case <-c.hub.done:
			return
		}
	}
}

// WritePump pumps frames from the hub to the websocket connection, and keeps
// the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
