package peer

import (
	"errors"
	"fmt"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/pkg/signalling"
)

var (
	// The transport reported a failed connection. Handled like a disconnect.
	ErrTransportFailure = errors.New("transport failure")

	ErrSelfConnection = errors.New("cannot connect to own participant identifier")
	ErrInvalidPeer    = errors.New("invalid participant identifier")
	ErrRegistryClosed = errors.New("peer registry closed")
)

// A step of the handshake with one peer was rejected by the transport.
// Only ever affects that peer.
type NegotiationError struct {
	Op     string
	PeerID signalling.ParticipantIdentifier
	Err    error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s failed during %s: %v", e.PeerID, e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

func newNegotiationError(op string, peerID signalling.ParticipantIdentifier, err error) *NegotiationError {
	return &NegotiationError{Op: op, PeerID: peerID, Err: err}
}
