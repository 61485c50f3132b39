package media

import (
	"log/slog"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/pkg/signalling"
)

// The surface remote media is presented on, one tile per remote participant.
//
// Attach is called once per established remote stream and Detach once per peer
// removal. Both are called from the session's task queue and must not block:
// any long running consumption of the stream belongs on its own goroutine.
// Attach may be repeated for a live peer, which must have no further effect.
type Sink interface {
	Attach(peerID signalling.ParticipantIdentifier, stream *RemoteStream)
	Detach(peerID signalling.ParticipantIdentifier)
}

// Fan a single attach or detach out to several sinks, in order.
type MultiSink []Sink

func (m MultiSink) Attach(peerID signalling.ParticipantIdentifier, stream *RemoteStream) {
	for _, s := range m {
		s.Attach(peerID, stream)
	}
}

func (m MultiSink) Detach(peerID signalling.ParticipantIdentifier) {
	for _, s := range m {
		s.Detach(peerID)
	}
}

// A sink that only logs, for headless participants.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s LogSink) Attach(peerID signalling.ParticipantIdentifier, stream *RemoteStream) {
	s.logger().Info("remote stream attached", "peer", peerID, "stream", stream.ID())
}

func (s LogSink) Detach(peerID signalling.ParticipantIdentifier) {
	s.logger().Info("remote stream detached", "peer", peerID)
}
