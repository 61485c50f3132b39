package peer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	heartbeatLabel = "heartbeat"

	// Unanswered periods before a connection is reported degraded
	heartbeatMissedPeriods = 3

	DefaultHeartbeatPeriod = 5 * time.Second
)

type heartbeatType string

const (
	heartbeatPing heartbeatType = "ping"
	heartbeatPong heartbeatType = "pong"
)

// Sent on the heartbeat data channel. A pong echoes the ping's seq and sentAt.
type heartbeatMessage struct {
	Type   heartbeatType `msgpack:"type"`
	Seq    uint64        `msgpack:"seq"`
	SentAt int64         `msgpack:"sentAt"`
}

type heartbeatConfig struct {
	channel DataChannel
	period  time.Duration
	logger  *slog.Logger
	now     func() time.Time

	// Called from the heartbeat's own goroutines.
	onAnswered func(rtt time.Duration)
	onMissed   func()
}

// Pings the remote participant every period once the channel opens, and answers
// its pings. Both ends run one, so either can measure the round trip time.
type heartbeat struct {
	heartbeatConfig

	mu             sync.Mutex
	seq            uint64
	lastAnswered   time.Time
	missedReported bool
}

func startHeartbeat(ctx context.Context, cfg heartbeatConfig) *heartbeat {
	if cfg.now == nil {
		cfg.now = time.Now
	}
	h := &heartbeat{heartbeatConfig: cfg}
	cfg.channel.OnMessage(h.handleMessage)
	cfg.channel.OnOpen(func() {
		go h.run(ctx)
	})
	return h
}

func (h *heartbeat) run(ctx context.Context) {
	h.mu.Lock()
	h.lastAnswered = h.now()
	h.mu.Unlock()

	h.logger.Debug("heartbeat channel open", "period", h.period)
	ticker := time.NewTicker(h.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		h.ping()
		h.checkMissed()
	}
}

func (h *heartbeat) ping() {
	h.mu.Lock()
	h.seq++
	msg := heartbeatMessage{
		Type:   heartbeatPing,
		Seq:    h.seq,
		SentAt: h.now().UnixNano(),
	}
	h.mu.Unlock()
	h.send(msg)
}

func (h *heartbeat) checkMissed() {
	h.mu.Lock()
	missed := h.now().Sub(h.lastAnswered) > heartbeatMissedPeriods*h.period && !h.missedReported
	if missed {
		h.missedReported = true
	}
	h.mu.Unlock()

	if missed {
		h.logger.Warn("heartbeat not answered", "periods", heartbeatMissedPeriods)
		h.onMissed()
	}
}

func (h *heartbeat) send(msg heartbeatMessage) {
	data, err := msgpack.Marshal(&msg)
	if err != nil {
		h.logger.Error("error while marshalling heartbeat", "err", err)
		return
	}
	if err := h.channel.Send(data); err != nil {
		h.logger.Debug("error when sending heartbeat", "err", err)
	}
}

func (h *heartbeat) handleMessage(data []byte) {
	var msg heartbeatMessage
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		h.logger.Warn("discarding malformed heartbeat", "err", err)
		return
	}

	switch msg.Type {
	case heartbeatPing:
		msg.Type = heartbeatPong
		h.send(msg)
	case heartbeatPong:
		now := h.now()
		rtt := now.Sub(time.Unix(0, msg.SentAt))
		h.mu.Lock()
		h.lastAnswered = now
		h.missedReported = false
		h.mu.Unlock()

		h.logger.Debug("received heartbeat", "seq", msg.Seq, "rtt", rtt)
		h.onAnswered(rtt)
	default:
		h.logger.Warn("discarding heartbeat of unknown type", "type", msg.Type)
	}
}
