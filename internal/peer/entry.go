package peer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/media"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/pkg/signalling"
)

// The connection to one remote participant.
//
// An entry is created by the Registry on first handshake contact and lives until
// its transport disconnects or the room is left. Apart from the immutable fields,
// an entry is only read and written from the session's task queue.
type Entry struct {
	logger *slog.Logger

	// The identifier of the *remote* participant this entry connects to
	peerID    signalling.ParticipantIdentifier
	role      Role
	transport Transport
	createdAt time.Time

	// Cancelled when the entry is closed, stopping e.g. the heartbeat
	ctx           context.Context
	ctxCancelFunc context.CancelFunc
	closeOnce     sync.Once

	negotiation  NegotiationState
	connectivity ConnectivityState

	// Remote candidates are held back until the remote description is applied
	remoteDescriptionSet bool
	pendingCandidates    []webrtc.ICECandidateInit

	stream   *media.RemoteStream
	attached bool

	rtt time.Duration
}

func newEntry(
	peerID signalling.ParticipantIdentifier,
	role Role,
	transport Transport,
	logger *slog.Logger,
) *Entry {
	ctx, cancelFunc := context.WithCancel(context.Background())
	return &Entry{
		logger:        logger.With("peer", peerID, "role", role.String()),
		peerID:        peerID,
		role:          role,
		transport:     transport,
		createdAt:     time.Now(),
		ctx:           ctx,
		ctxCancelFunc: cancelFunc,
	}
}

func (e *Entry) PeerID() signalling.ParticipantIdentifier {
	return e.peerID
}

func (e *Entry) Role() Role {
	return e.role
}

func (e *Entry) NegotiationState() NegotiationState {
	return e.negotiation
}

func (e *Entry) ConnectivityState() ConnectivityState {
	return e.connectivity
}

// The remote stream, nil until the first remote track arrives.
func (e *Entry) Stream() *media.RemoteStream {
	return e.stream
}

// Round trip time of the last answered heartbeat.
func (e *Entry) RTT() time.Duration {
	return e.rtt
}

// Closed once the entry has been removed from its registry.
func (e *Entry) Done() <-chan struct{} {
	return e.ctx.Done()
}

func (e *Entry) info() EntryInfo {
	return EntryInfo{
		PeerID:       e.peerID,
		Role:         e.role,
		Negotiation:  e.negotiation,
		Connectivity: e.connectivity,
		Attached:     e.attached,
		RTT:          e.rtt,
		CreatedAt:    e.createdAt,
	}
}

// Idempotent.
func (e *Entry) close() {
	e.closeOnce.Do(func() {
		e.ctxCancelFunc()
		if e.stream != nil {
			e.stream.Close()
		}
		if err := e.transport.Close(); err != nil {
			e.logger.Warn("error while closing transport", "err", err)
		}
		e.logger.Debug("peer entry closed")
	})
}

// A point in time copy of an entry, safe to hand outside the session.
type EntryInfo struct {
	PeerID       signalling.ParticipantIdentifier
	Role         Role
	Negotiation  NegotiationState
	Connectivity ConnectivityState
	Attached     bool
	RTT          time.Duration
	CreatedAt    time.Time
}
