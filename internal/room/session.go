package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/media"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/peer"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/signalling"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/taskqueue"
	sig "github.com/Honorable-Knights-of-the-Roundtable/meshroom/pkg/signalling"
)

type Config struct {
	Relay      signalling.Relay
	Transports peer.TransportFactory
	Media      media.Source

	// Receives every remote stream. Defaults to a media.LogSink.
	Sink media.Sink

	// Bound on the relay confirming the subscription. Zero uses signalling.DefaultJoinTimeout.
	JoinTimeout time.Duration

	// Zero disables the heartbeat data channel.
	HeartbeatPeriod time.Duration

	// If no logger is given, slog.Default() is used.
	Logger *slog.Logger
}

// One participant's membership of a room.
//
// Every signaling message and transport event of the session is handled on a
// single task queue, in arrival order.
type Session struct {
	logger *slog.Logger
	id     sig.ParticipantIdentifier
	room   string

	local      *media.LocalStream
	queue      *taskqueue.Queue
	registry   *peer.Registry
	negotiator *peer.Negotiator
	channel    *signalling.Channel

	leaveOnce sync.Once
	done      chan struct{}
}

// Join the room called name.
//
// Local media is acquired first; a failure there returns an error wrapping
// media.ErrMediaAcquisitionDenied. If the signaling channel cannot be joined the
// error wraps signalling.ErrChannelUnavailable. Neither is retried.
//
// Once subscribed, the session announces itself. Members already in the room
// open a connection towards it; the new session itself never makes an offer.
func Join(ctx context.Context, name string, cfg Config) (*Session, error) {
	if cfg.Relay == nil || cfg.Transports == nil || cfg.Media == nil {
		return nil, errors.New("room session requires a relay, a transport factory and a media source")
	}

	id := sig.NewParticipantIdentifier()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("participant", id.Short(), "room", name)

	local, err := cfg.Media.Acquire(ctx)
	if err != nil {
		logger.Error("could not acquire local media", "err", err)
		if !errors.Is(err, media.ErrMediaAcquisitionDenied) {
			err = fmt.Errorf("%w: %w", media.ErrMediaAcquisitionDenied, err)
		}
		return nil, err
	}

	s := &Session{
		logger: logger,
		id:     id,
		room:   name,
		local:  local,
		queue:  taskqueue.New(),
		done:   make(chan struct{}),
	}
	go s.queue.Run()

	s.registry, err = peer.NewRegistry(peer.RegistryConfig{
		LocalID:         id,
		Factory:         cfg.Transports,
		LocalTracks:     local.Tracks,
		Sink:            cfg.Sink,
		Dispatch:        func(f func()) { s.queue.Post(f) },
		HeartbeatPeriod: cfg.HeartbeatPeriod,
		Logger:          logger,
	})
	if err != nil {
		s.release()
		return nil, err
	}
	s.negotiator = peer.NewNegotiator(s.registry, channelSignaller{s}, logger)

	s.channel, err = signalling.Join(ctx, cfg.Relay, name, id, cfg.JoinTimeout, logger)
	if err != nil {
		s.release()
		return nil, err
	}
	s.channel.OnMessage(func(msg sig.Message) {
		s.queue.Post(func() { s.handle(msg) })
	})

	if err := s.channel.Broadcast(sig.NewAnnounce(id)); err != nil {
		logger.Warn("could not announce to the room", "err", err)
	}
	logger.Info("joined room")
	return s, nil
}

func (s *Session) ID() sig.ParticipantIdentifier {
	return s.id
}

func (s *Session) Room() string {
	return s.room
}

// Closed once the session has left the room.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// A snapshot of every peer connection, sorted by participant.
// Empty once the session has left.
func (s *Session) Peers() []peer.EntryInfo {
	var peers []peer.EntryInfo
	s.queue.PostAndWait(func() {
		peers = s.registry.Snapshot()
	})
	return peers
}

// Leave the room: stop listening, close every peer connection and release the
// local media. Idempotent. Other members notice through their connections.
func (s *Session) Leave() {
	s.leaveOnce.Do(func() {
		s.channel.Leave()
		s.queue.PostAndWait(s.registry.RemoveAll)
		s.release()
		s.logger.Info("left room")
		close(s.done)
	})
}

func (s *Session) release() {
	s.queue.Stop()
	<-s.queue.Done()
	s.local.Close()
}

func (s *Session) handle(msg sig.Message) {
	switch msg.Kind {
	case sig.KindAnnounce:
		s.logger.Debug("participant announced", "peer", msg.Sender.Short())
		s.negotiator.Initiate(msg.Sender)
	default:
		s.negotiator.HandleSignal(msg)
	}
}

// Sends the negotiator's messages through the session's channel.
type channelSignaller struct {
	s *Session
}

func (c channelSignaller) Send(msg sig.Message) {
	if err := c.s.channel.Broadcast(msg); err != nil {
		c.s.logger.Warn("could not send signaling message", "kind", msg.Kind, "peer", msg.Recipient.Short(), "err", err)
	}
}
