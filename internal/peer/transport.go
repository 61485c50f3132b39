package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/media"
)

// The point-to-point connection primitive a peer entry negotiates over.
//
// Callbacks may fire on any goroutine, including from inside one of the
// other methods (e.g. a candidate discovered during SetLocalDescription).
type Transport interface {
	AddTrack(track webrtc.TrackLocal) error

	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	CreateDataChannel(label string) (DataChannel, error)
	OnDataChannel(f func(DataChannel))

	// f receives nil once candidate gathering has finished.
	OnICECandidate(f func(*webrtc.ICECandidateInit))
	OnTrack(f func(media.RemoteTrack))
	OnConnectivityStateChange(f func(ConnectivityState))

	Close() error
}

type TransportFactory interface {
	NewTransport() (Transport, error)
}

// A reliable message channel multiplexed on a transport.
type DataChannel interface {
	Label() string
	OnOpen(f func())
	OnMessage(f func(data []byte))
	Send(data []byte) error
	Close() error
}

// --------------------------------------------------------------------------------

type Role int

const (
	// Sends the offer. Existing room members take this role towards new joiners.
	RoleInitiator Role = iota
	// Waits for an offer and answers it.
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// Connectivity of a transport, as reported by the transport itself or,
// for degraded, by missed heartbeats.
type ConnectivityState int

const (
	ConnectivityNew ConnectivityState = iota
	ConnectivityConnecting
	ConnectivityConnected
	ConnectivityDegraded
	ConnectivityDisconnected
	ConnectivityClosed
	ConnectivityFailed
)

func (s ConnectivityState) String() string {
	switch s {
	case ConnectivityNew:
		return "new"
	case ConnectivityConnecting:
		return "connecting"
	case ConnectivityConnected:
		return "connected"
	case ConnectivityDegraded:
		return "degraded"
	case ConnectivityDisconnected:
		return "disconnected"
	case ConnectivityClosed:
		return "closed"
	case ConnectivityFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal states remove the peer.
func (s ConnectivityState) IsTerminal() bool {
	return s == ConnectivityDisconnected || s == ConnectivityClosed || s == ConnectivityFailed
}

// Media flows in these states.
func (s ConnectivityState) IsLive() bool {
	return s == ConnectivityConnected || s == ConnectivityDegraded
}

type NegotiationState int

const (
	NegotiationIdle NegotiationState = iota
	NegotiationOfferSent
	NegotiationOfferReceived
	NegotiationAnswered
	NegotiationConnected
	NegotiationClosed
	NegotiationFailed
)

func (s NegotiationState) String() string {
	switch s {
	case NegotiationIdle:
		return "idle"
	case NegotiationOfferSent:
		return "offer-sent"
	case NegotiationOfferReceived:
		return "offer-received"
	case NegotiationAnswered:
		return "answered"
	case NegotiationConnected:
		return "connected"
	case NegotiationClosed:
		return "closed"
	case NegotiationFailed:
		return "failed"
	default:
		return "unknown"
	}
}
