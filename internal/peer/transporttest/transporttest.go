// Package transporttest provides an in-memory peer.Transport whose handshake
// completes without any networking, for deterministic tests of the mesh.
package transporttest

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/media"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/peer"
)

var (
	ErrClosed                  = errors.New("transport closed")
	ErrRemoteDescriptionNotSet = errors.New("remote description not set")
	ErrUnknownTransport        = errors.New("description names an unknown transport")
)

const (
	offerPrefix  = "fake-offer "
	answerPrefix = "fake-answer "
)

// The set of transports that can reach each other.
type Network struct {
	mu         sync.Mutex
	transports map[string]*Transport
	byOwner    map[string][]*Transport
	offers     int

	// Called with every new transport before it is returned, e.g. to inject failures.
	OnNewTransport func(t *Transport)
}

func NewNetwork() *Network {
	return &Network{
		transports: make(map[string]*Transport),
		byOwner:    make(map[string][]*Transport),
	}
}

// A factory for the transports of one participant.
func (n *Network) Factory(owner string) *Factory {
	return &Factory{network: n, owner: owner}
}

// Number of offers created across the network.
func (n *Network) Offers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.offers
}

// The transports created by a participant's factory, in creation order.
func (n *Network) Transports(owner string) []*Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Transport(nil), n.byOwner[owner]...)
}

func (n *Network) lookup(id string) (*Transport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.transports[id]
	return t, ok
}

type Factory struct {
	network *Network
	owner   string
}

func (f *Factory) NewTransport() (peer.Transport, error) {
	n := f.network
	n.mu.Lock()
	id := fmt.Sprintf("%s#%d", f.owner, len(n.byOwner[f.owner]))
	t := &Transport{
		id:      id,
		network: n,
		done:    make(chan struct{}),
	}
	n.transports[id] = t
	n.byOwner[f.owner] = append(n.byOwner[f.owner], t)
	hook := n.OnNewTransport
	n.mu.Unlock()

	if hook != nil {
		hook(t)
	}
	return t, nil
}

// --------------------------------------------------------------------------------

// A transport that connects once both descriptions are set and one remote
// candidate has been applied. Each local description yields one candidate.
type Transport struct {
	id      string
	network *Network

	mu                   sync.Mutex
	tracks               []webrtc.TrackLocal
	dataChannels         []string
	localSet             bool
	remoteSet            bool
	remote               *Transport
	appliedCandidates    int
	connected            bool
	closed               bool
	done                 chan struct{}
	onICECandidate       func(*webrtc.ICECandidateInit)
	onTrack              func(media.RemoteTrack)
	onConnectivityChange func(peer.ConnectivityState)

	// Returned by the corresponding method when set.
	SetRemoteDescriptionErr error
	AddICECandidateErr      error
}

func (t *Transport) ID() string {
	return t.id
}

func (t *Transport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Number of remote candidates applied.
func (t *Transport) AppliedCandidates() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appliedCandidates
}

func (t *Transport) DataChannels() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.dataChannels...)
}

func (t *Transport) AddTrack(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.tracks = append(t.tracks, track)
	return nil
}

func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	if t.IsClosed() {
		return webrtc.SessionDescription{}, ErrClosed
	}
	t.network.mu.Lock()
	t.network.offers++
	t.network.mu.Unlock()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerPrefix + t.id}, nil
}

func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if !t.remoteSet {
		return webrtc.SessionDescription{}, ErrRemoteDescriptionNotSet
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerPrefix + t.id}, nil
}

func (t *Transport) SetLocalDescription(desc webrtc.SessionDescription) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.localSet = true
	onICECandidate := t.onICECandidate
	t.mu.Unlock()

	if onICECandidate != nil {
		onICECandidate(&webrtc.ICECandidateInit{Candidate: "candidate:fake " + t.id})
		onICECandidate(nil)
	}
	t.maybeConnect()
	return nil
}

func (t *Transport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if t.SetRemoteDescriptionErr != nil {
		return t.SetRemoteDescriptionErr
	}

	remoteID, ok := strings.CutPrefix(desc.SDP, offerPrefix)
	if !ok {
		remoteID, ok = strings.CutPrefix(desc.SDP, answerPrefix)
	}
	if !ok {
		return fmt.Errorf("unparseable description %q", desc.SDP)
	}
	remote, ok := t.network.lookup(remoteID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransport, remoteID)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.remoteSet = true
	t.remote = remote
	t.mu.Unlock()

	t.maybeConnect()
	return nil
}

func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if t.AddICECandidateErr != nil {
		return t.AddICECandidateErr
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if !t.remoteSet {
		t.mu.Unlock()
		return ErrRemoteDescriptionNotSet
	}
	t.appliedCandidates++
	t.mu.Unlock()

	t.maybeConnect()
	return nil
}

func (t *Transport) CreateDataChannel(label string) (peer.DataChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	t.dataChannels = append(t.dataChannels, label)
	return &DataChannel{label: label}, nil
}

// Data channels never open on this transport, so no handler is called.
func (t *Transport) OnDataChannel(f func(peer.DataChannel)) {}

func (t *Transport) OnICECandidate(f func(*webrtc.ICECandidateInit)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onICECandidate = f
}

func (t *Transport) OnTrack(f func(media.RemoteTrack)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTrack = f
}

func (t *Transport) OnConnectivityStateChange(f func(peer.ConnectivityState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnectivityChange = f
}

// Close this transport, reporting closed locally and disconnected at the remote end.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	remote := t.remote
	t.mu.Unlock()

	t.emitState(peer.ConnectivityClosed)
	if remote != nil {
		remote.remoteClosed()
	}
	return nil
}

// Simulate the path to the remote failing.
func (t *Transport) Fail() {
	t.emitState(peer.ConnectivityFailed)
}

func (t *Transport) remoteClosed() {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if !closed {
		t.emitState(peer.ConnectivityDisconnected)
	}
}

func (t *Transport) emitState(state peer.ConnectivityState) {
	t.mu.Lock()
	f := t.onConnectivityChange
	t.mu.Unlock()
	if f != nil {
		f(state)
	}
}

func (t *Transport) maybeConnect() {
	t.mu.Lock()
	if t.closed || t.connected || !t.localSet || !t.remoteSet || t.appliedCandidates == 0 {
		t.mu.Unlock()
		return
	}
	t.connected = true
	remote := t.remote
	onTrack := t.onTrack
	t.mu.Unlock()

	t.emitState(peer.ConnectivityConnecting)
	t.emitState(peer.ConnectivityConnected)

	remote.mu.Lock()
	remoteTracks := append([]webrtc.TrackLocal(nil), remote.tracks...)
	remote.mu.Unlock()
	if onTrack == nil {
		return
	}
	for _, track := range remoteTracks {
		onTrack(&RemoteTrack{
			id:       track.ID(),
			streamID: track.StreamID(),
			kind:     track.Kind(),
			done:     t.done,
		})
	}
}

// --------------------------------------------------------------------------------

// The receiving end of a remote participant's track. Carries no packets;
// ReadRTP blocks until the receiving transport closes.
type RemoteTrack struct {
	id       string
	streamID string
	kind     webrtc.RTPCodecType
	done     <-chan struct{}
}

func (r *RemoteTrack) ID() string                { return r.id }
func (r *RemoteTrack) StreamID() string          { return r.streamID }
func (r *RemoteTrack) Kind() webrtc.RTPCodecType { return r.kind }

func (r *RemoteTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: media.PCMUCapability}
}

func (r *RemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	<-r.done
	return nil, nil, io.EOF
}

// A data channel that never opens.
type DataChannel struct {
	label string
}

func (d *DataChannel) Label() string            { return d.label }
func (d *DataChannel) OnOpen(f func())          {}
func (d *DataChannel) OnMessage(f func([]byte)) {}
func (d *DataChannel) Send(data []byte) error   { return ErrClosed }
func (d *DataChannel) Close() error             { return nil }
