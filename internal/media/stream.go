package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var (
	// The local capture could not be opened. Fatal to a join attempt.
	ErrMediaAcquisitionDenied = errors.New("media acquisition denied")
)

// A source of the local participant's media, e.g. a microphone or a file.
type Source interface {
	// Acquire the local stream. Called once per room session, before any negotiation.
	// A failure is reported wrapping ErrMediaAcquisitionDenied.
	Acquire(ctx context.Context) (*LocalStream, error)
}

// The local participant's media for one room session.
//
// The tracks are shared by every peer connection of the session: each connection
// attaches them read-only, and the stream is released only when the session ends.
type LocalStream struct {
	ID     string
	Tracks []webrtc.TrackLocal

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newLocalStream(id string, tracks []webrtc.TrackLocal, cancel context.CancelFunc) *LocalStream {
	return &LocalStream{
		ID:     id,
		Tracks: tracks,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Wrap externally produced tracks as a local stream. Close is a no-op
// beyond marking the stream done; the caller owns whatever feeds the tracks.
func NewLocalStream(id string, tracks ...webrtc.TrackLocal) *LocalStream {
	return newLocalStream(id, tracks, func() {})
}

// Stop producing media. Idempotent.
func (s *LocalStream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.done)
	})
}

// Closed once the stream has been released.
func (s *LocalStream) Done() <-chan struct{} {
	return s.done
}

// --------------------------------------------------------------------------------
// Remote media

// A track received from a remote participant. *webrtc.TrackRemote satisfies this.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

const remoteStreamSubscriberBuffer = 8

// The media stream of one remote participant.
//
// Tracks of a stream arrive one at a time as the transport reports them, so
// consumers subscribe to a feed: every subscriber sees all tracks added so
// far, then every later one, and the feed closes when the stream does.
type RemoteStream struct {
	id string

	mu          sync.Mutex
	tracks      []RemoteTrack
	subscribers []chan RemoteTrack
	closed      bool
}

func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id}
}

func (s *RemoteStream) ID() string {
	return s.id
}

// Add a newly received track. Tracks added after Close are ignored.
func (s *RemoteStream) AddTrack(track RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.tracks = append(s.tracks, track)
	for _, sub := range s.subscribers {
		select {
		case sub <- track:
		default:
			slog.Default().Warn(
				"remote stream subscriber not keeping up, dropping track",
				"stream", s.id,
				"track", track.ID(),
			)
		}
	}
}

// Subscribe to the tracks of this stream.
func (s *RemoteStream) Subscribe() <-chan RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := make(chan RemoteTrack, max(remoteStreamSubscriberBuffer, len(s.tracks)))
	for _, track := range s.tracks {
		sub <- track
	}
	if s.closed {
		close(sub)
		return sub
	}
	s.subscribers = append(s.subscribers, sub)
	return sub
}

// A copy of the tracks received so far.
func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	tracks := make([]RemoteTrack, len(s.tracks))
	copy(tracks, s.tracks)
	return tracks
}

// End the stream, closing every subscription. Idempotent.
func (s *RemoteStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, sub := range s.subscribers {
		close(sub)
	}
	s.subscribers = nil
}
