package peer

import (
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/media"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/pkg/signalling"
)

// Sends signaling messages to the room. Must not block.
type Signaller interface {
	Send(msg signalling.Message)
}

// Drives the offer/answer/candidate handshake of every entry in a Registry.
//
// All methods, and every transport event the Registry forwards, run on the
// session's task queue, so the per-peer state transitions never interleave.
type Negotiator struct {
	logger    *slog.Logger
	localID   signalling.ParticipantIdentifier
	registry  *Registry
	signaller Signaller
}

func NewNegotiator(registry *Registry, signaller Signaller, logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Negotiator{
		logger:    logger,
		localID:   registry.LocalID(),
		registry:  registry,
		signaller: signaller,
	}
	registry.observer = n
	return n
}

// Open a connection to peerID by sending it an offer.
// Does nothing if an entry for peerID already exists.
func (n *Negotiator) Initiate(peerID signalling.ParticipantIdentifier) {
	e, created, err := n.registry.GetOrCreate(peerID, RoleInitiator)
	if err != nil {
		n.logger.Error("could not create peer entry", "peer", peerID, "err", err)
		return
	}
	if !created {
		e.logger.Debug("already connecting to peer, not initiating", "negotiation", e.negotiation.String())
		return
	}

	offer, err := e.transport.CreateOffer()
	if err != nil {
		n.fail(e, "create offer", err)
		return
	}
	if err := e.transport.SetLocalDescription(offer); err != nil {
		n.fail(e, "set local description", err)
		return
	}
	n.signaller.Send(signalling.NewDescription(n.localID, peerID, offer))
	e.negotiation = NegotiationOfferSent
	e.logger.Debug("offer sent")
}

// Apply an offer, answer or candidate addressed to this participant.
func (n *Negotiator) HandleSignal(msg signalling.Message) {
	if msg.Recipient != n.localID {
		n.logger.Debug("ignoring signal for another participant", "sender", msg.Sender, "recipient", msg.Recipient)
		return
	}

	switch {
	case msg.Kind == signalling.KindOffer && msg.Description != nil:
		n.handleOffer(msg.Sender, *msg.Description)
	case msg.Kind == signalling.KindAnswer && msg.Description != nil:
		n.handleAnswer(msg.Sender, *msg.Description)
	case msg.Kind == signalling.KindCandidate && msg.Candidate != nil:
		n.handleCandidate(msg.Sender, *msg.Candidate)
	default:
		n.logger.Debug("ignoring unexpected signal", "kind", msg.Kind, "sender", msg.Sender)
	}
}

func (n *Negotiator) handleOffer(peerID signalling.ParticipantIdentifier, offer webrtc.SessionDescription) {
	e, created, err := n.registry.GetOrCreate(peerID, RoleResponder)
	if err != nil {
		n.logger.Error("could not create peer entry", "peer", peerID, "err", err)
		return
	}
	if !created {
		switch e.negotiation {
		case NegotiationIdle:
			// Created by a candidate that overtook the offer
		case NegotiationAnswered, NegotiationConnected:
			e.logger.Debug("ignoring duplicate offer", "negotiation", e.negotiation.String())
			return
		default:
			e.logger.Warn("ignoring offer in unexpected state", "negotiation", e.negotiation.String())
			return
		}
	}

	e.negotiation = NegotiationOfferReceived
	if err := e.transport.SetRemoteDescription(offer); err != nil {
		n.fail(e, "set remote description", err)
		return
	}
	e.remoteDescriptionSet = true
	n.flushCandidates(e)

	answer, err := e.transport.CreateAnswer()
	if err != nil {
		n.fail(e, "create answer", err)
		return
	}
	if err := e.transport.SetLocalDescription(answer); err != nil {
		n.fail(e, "set local description", err)
		return
	}
	n.signaller.Send(signalling.NewDescription(n.localID, peerID, answer))
	e.negotiation = NegotiationAnswered
	e.logger.Debug("answer sent")
}

func (n *Negotiator) handleAnswer(peerID signalling.ParticipantIdentifier, answer webrtc.SessionDescription) {
	e, ok := n.registry.Get(peerID)
	if !ok {
		n.logger.Debug("ignoring answer from unknown peer", "peer", peerID)
		return
	}
	if e.negotiation != NegotiationOfferSent {
		e.logger.Debug("ignoring answer", "negotiation", e.negotiation.String())
		return
	}

	if err := e.transport.SetRemoteDescription(answer); err != nil {
		n.fail(e, "set remote description", err)
		return
	}
	e.remoteDescriptionSet = true
	n.flushCandidates(e)
	e.negotiation = NegotiationAnswered
	e.logger.Debug("answer applied")
}

func (n *Negotiator) handleCandidate(peerID signalling.ParticipantIdentifier, candidate webrtc.ICECandidateInit) {
	e, created, err := n.registry.GetOrCreate(peerID, RoleResponder)
	if err != nil {
		n.logger.Error("could not create peer entry", "peer", peerID, "err", err)
		return
	}
	if created {
		// Stays idle until an offer arrives, or until the room is left
		n.logger.Warn("candidate from a peer with no offer, holding an idle entry", "peer", peerID)
	}
	if !e.remoteDescriptionSet {
		e.pendingCandidates = append(e.pendingCandidates, candidate)
		e.logger.Debug("queued remote candidate", "queued", len(e.pendingCandidates))
		return
	}
	n.applyCandidate(e, candidate)
}

func (n *Negotiator) flushCandidates(e *Entry) {
	pending := e.pendingCandidates
	e.pendingCandidates = nil
	for _, candidate := range pending {
		n.applyCandidate(e, candidate)
	}
}

// A rejected candidate leaves the entry pending; other candidates may still succeed.
func (n *Negotiator) applyCandidate(e *Entry, candidate webrtc.ICECandidateInit) {
	if err := e.transport.AddICECandidate(candidate); err != nil {
		e.logger.Warn("remote candidate rejected", "err", newNegotiationError("add candidate", e.peerID, err))
	}
}

// A rejected description leaves nothing to salvage: the entry is removed.
// A later announce or offer from the peer starts afresh.
func (n *Negotiator) fail(e *Entry, op string, err error) {
	e.logger.Error("negotiation failed", "err", newNegotiationError(op, e.peerID, err))
	e.negotiation = NegotiationFailed
	n.registry.Remove(e.peerID)
}

// --------------------------------------------------------------------------------
// entryObserver

func (n *Negotiator) localCandidate(e *Entry, candidate *webrtc.ICECandidateInit) {
	if candidate == nil {
		e.logger.Debug("local candidate gathering complete")
		return
	}
	n.signaller.Send(signalling.NewCandidate(n.localID, e.peerID, *candidate))
}

func (n *Negotiator) connectivityChanged(e *Entry, state ConnectivityState) {
	e.logger.Debug("peer connectivity state change", "from", e.connectivity.String(), "to", state.String())
	e.connectivity = state

	switch state {
	case ConnectivityConnected:
		if e.negotiation == NegotiationAnswered {
			e.negotiation = NegotiationConnected
		}
		e.logger.Info("peer connected")
		n.registry.attach(e)
	case ConnectivityDisconnected, ConnectivityClosed:
		e.negotiation = NegotiationClosed
		n.registry.Remove(e.peerID)
	case ConnectivityFailed:
		e.logger.Warn("peer connection failed", "err", ErrTransportFailure)
		e.negotiation = NegotiationFailed
		n.registry.Remove(e.peerID)
	}
}

func (n *Negotiator) trackReceived(e *Entry, track media.RemoteTrack) {
	e.logger.Debug(
		"received track",
		"track ID", track.ID(),
		"track kind", track.Kind().String(),
	)
	if e.stream == nil {
		e.stream = media.NewRemoteStream(track.StreamID())
	}
	e.stream.AddTrack(track)
	if e.connectivity.IsLive() {
		n.registry.attach(e)
	}
}

func (n *Negotiator) heartbeatAnswered(e *Entry, rtt time.Duration) {
	e.rtt = rtt
	if e.connectivity == ConnectivityDegraded {
		e.logger.Info("peer recovered", "rtt", rtt)
		e.connectivity = ConnectivityConnected
	}
}

func (n *Negotiator) heartbeatMissed(e *Entry) {
	if e.connectivity == ConnectivityConnected {
		e.logger.Warn("peer degraded")
		e.connectivity = ConnectivityDegraded
	}
}
