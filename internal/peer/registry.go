package peer

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/media"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/pkg/signalling"
)

type RegistryConfig struct {
	// The local participant. An entry for it is never created.
	LocalID signalling.ParticipantIdentifier

	Factory TransportFactory

	// Attached read-only to every new transport.
	LocalTracks []webrtc.TrackLocal

	// Told about remote streams as they attach and peers as they are removed.
	// Defaults to a media.LogSink.
	Sink media.Sink

	// Runs a function on the session's task queue. Transport callbacks are
	// handed to Dispatch, so it must not run the function inline.
	Dispatch func(func())

	// Period of the heartbeat data channel. Zero disables heartbeats.
	HeartbeatPeriod time.Duration

	// If no logger is given, slog.Default() is used.
	Logger *slog.Logger
}

// Events on an entry, delivered on the session's task queue and only while
// the entry is still registered.
type entryObserver interface {
	localCandidate(e *Entry, candidate *webrtc.ICECandidateInit)
	connectivityChanged(e *Entry, state ConnectivityState)
	trackReceived(e *Entry, track media.RemoteTrack)
	heartbeatAnswered(e *Entry, rtt time.Duration)
	heartbeatMissed(e *Entry)
}

// The set of peer connections of one room session, keyed by remote participant.
type Registry struct {
	logger          *slog.Logger
	localID         signalling.ParticipantIdentifier
	factory         TransportFactory
	localTracks     []webrtc.TrackLocal
	sink            media.Sink
	dispatch        func(func())
	heartbeatPeriod time.Duration

	// Set by the Negotiator
	observer entryObserver

	mu      sync.Mutex
	entries map[signalling.ParticipantIdentifier]*Entry
	closed  bool
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.LocalID.IsZero() {
		return nil, fmt.Errorf("%w: empty local identifier", ErrInvalidPeer)
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("peer registry requires a transport factory")
	}
	if cfg.Dispatch == nil {
		return nil, fmt.Errorf("peer registry requires a dispatch function")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = media.LogSink{Logger: logger}
	}

	return &Registry{
		logger:          logger,
		localID:         cfg.LocalID,
		factory:         cfg.Factory,
		localTracks:     slices.Clone(cfg.LocalTracks),
		sink:            sink,
		dispatch:        cfg.Dispatch,
		heartbeatPeriod: cfg.HeartbeatPeriod,
		entries:         make(map[signalling.ParticipantIdentifier]*Entry),
	}, nil
}

func (r *Registry) LocalID() signalling.ParticipantIdentifier {
	return r.localID
}

// Return the entry for peerID, creating it with the given role if none exists.
// The boolean reports whether the entry was created by this call.
//
// A new entry has the local tracks attached and its transport callbacks
// registered before it becomes visible; an initiator entry also opens the
// heartbeat data channel, so that it is part of the first offer.
func (r *Registry) GetOrCreate(peerID signalling.ParticipantIdentifier, role Role) (*Entry, bool, error) {
	if peerID.IsZero() {
		return nil, false, ErrInvalidPeer
	}
	if peerID == r.localID {
		return nil, false, ErrSelfConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrRegistryClosed
	}
	if e, ok := r.entries[peerID]; ok {
		return e, false, nil
	}

	transport, err := r.factory.NewTransport()
	if err != nil {
		return nil, false, fmt.Errorf("could not create transport for %s: %w", peerID, err)
	}
	e := newEntry(peerID, role, transport, r.logger)

	for _, track := range r.localTracks {
		if err := transport.AddTrack(track); err != nil {
			e.close()
			return nil, false, fmt.Errorf("could not attach local track %s: %w", track.ID(), err)
		}
	}
	r.registerCallbacks(e)

	if role == RoleInitiator && r.heartbeatPeriod > 0 {
		dc, err := transport.CreateDataChannel(heartbeatLabel)
		if err != nil {
			// The connection is still usable without a heartbeat
			e.logger.Error("error while creating heartbeat channel", "err", err)
		} else {
			r.startHeartbeat(e, dc)
		}
	}

	r.entries[peerID] = e
	e.logger.Debug("peer entry created")
	return e, true, nil
}

func (r *Registry) Get(peerID signalling.ParticipantIdentifier) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[peerID]
	return e, ok
}

// Close the transport of peerID, forget the entry, and detach the peer from the sink.
// Reports whether an entry was removed; removing an unknown peer does nothing.
func (r *Registry) Remove(peerID signalling.ParticipantIdentifier) bool {
	r.mu.Lock()
	e, ok := r.entries[peerID]
	if ok {
		delete(r.entries, peerID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	e.close()
	r.sink.Detach(peerID)
	e.logger.Info("peer removed")
	return true
}

// Remove every entry and refuse new ones.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	r.closed = true
	peerIDs := make([]signalling.ParticipantIdentifier, 0, len(r.entries))
	for peerID := range r.entries {
		peerIDs = append(peerIDs, peerID)
	}
	r.mu.Unlock()

	for _, peerID := range peerIDs {
		r.Remove(peerID)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Copies of every entry, ordered by participant. Must be called on the
// session's task queue for the copies to be consistent.
func (r *Registry) Snapshot() []EntryInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]EntryInfo, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, e.info())
	}
	slices.SortFunc(infos, func(a, b EntryInfo) int {
		return strings.Compare(a.PeerID.String(), b.PeerID.String())
	})
	return infos
}

// Attach the remote stream of e to the sink. Idempotent per entry.
func (r *Registry) attach(e *Entry) {
	if e.attached || e.stream == nil {
		return
	}
	e.attached = true
	r.sink.Attach(e.peerID, e.stream)
}

func (r *Registry) isCurrent(e *Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[e.peerID] == e
}

// Run f on the task queue if e is still registered by then.
func (r *Registry) dispatchFor(e *Entry, f func(o entryObserver)) {
	r.dispatch(func() {
		if r.observer == nil || !r.isCurrent(e) {
			return
		}
		f(r.observer)
	})
}

func (r *Registry) registerCallbacks(e *Entry) {
	e.transport.OnICECandidate(func(candidate *webrtc.ICECandidateInit) {
		r.dispatchFor(e, func(o entryObserver) { o.localCandidate(e, candidate) })
	})
	e.transport.OnConnectivityStateChange(func(state ConnectivityState) {
		r.dispatchFor(e, func(o entryObserver) { o.connectivityChanged(e, state) })
	})
	e.transport.OnTrack(func(track media.RemoteTrack) {
		r.dispatchFor(e, func(o entryObserver) { o.trackReceived(e, track) })
	})
	e.transport.OnDataChannel(func(dc DataChannel) {
		switch dc.Label() {
		case heartbeatLabel:
			if r.heartbeatPeriod > 0 {
				r.startHeartbeat(e, dc)
			}
		default:
			e.logger.Debug("ignoring unknown data channel", "label", dc.Label())
		}
	})
}

func (r *Registry) startHeartbeat(e *Entry, dc DataChannel) {
	startHeartbeat(e.ctx, heartbeatConfig{
		channel: dc,
		period:  r.heartbeatPeriod,
		logger:  e.logger,
		onAnswered: func(rtt time.Duration) {
			r.dispatchFor(e, func(o entryObserver) { o.heartbeatAnswered(e, rtt) })
		},
		onMissed: func() {
			r.dispatchFor(e, func(o entryObserver) { o.heartbeatMissed(e) })
		},
	})
}
