package peer_test

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/media"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/peer"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/peer/transporttest"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/taskqueue"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/pkg/signalling"
)

// Counts attach and detach calls per peer.
type countingSink struct {
	mu       sync.Mutex
	attaches map[signalling.ParticipantIdentifier]int
	detaches map[signalling.ParticipantIdentifier]int
}

func newCountingSink() *countingSink {
	return &countingSink{
		attaches: make(map[signalling.ParticipantIdentifier]int),
		detaches: make(map[signalling.ParticipantIdentifier]int),
	}
}

func (s *countingSink) Attach(peerID signalling.ParticipantIdentifier, stream *media.RemoteStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attaches[peerID]++
}

func (s *countingSink) Detach(peerID signalling.ParticipantIdentifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detaches[peerID]++
}

func (s *countingSink) counts(peerID signalling.ParticipantIdentifier) (attaches, detaches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attaches[peerID], s.detaches[peerID]
}

// One participant's registry and negotiator running on its own task queue.
// Signals are routed to the other participants of the same mesh.
type participant struct {
	id         signalling.ParticipantIdentifier
	queue      *taskqueue.Queue
	registry   *peer.Registry
	negotiator *peer.Negotiator
	sink       *countingSink
	mesh       *mesh

	mu   sync.Mutex
	sent []signalling.Message
}

func (p *participant) Send(msg signalling.Message) {
	p.mu.Lock()
	p.sent = append(p.sent, msg)
	p.mu.Unlock()
	p.mesh.route(msg)
}

func (p *participant) sentKinds() map[signalling.Kind]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make(map[signalling.Kind]int)
	for _, msg := range p.sent {
		kinds[msg.Kind]++
	}
	return kinds
}

func (p *participant) sentOf(kind signalling.Kind) []signalling.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var msgs []signalling.Message
	for _, msg := range p.sent {
		if msg.Kind == kind {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// Deliver a signal as if it had arrived from the channel.
func (p *participant) deliver(msg signalling.Message) {
	p.queue.Post(func() { p.negotiator.HandleSignal(msg) })
}

func (p *participant) initiate(peerID signalling.ParticipantIdentifier) {
	p.queue.Post(func() { p.negotiator.Initiate(peerID) })
}

func (p *participant) snapshot() []peer.EntryInfo {
	var infos []peer.EntryInfo
	p.queue.PostAndWait(func() { infos = p.registry.Snapshot() })
	return infos
}

func (p *participant) entry(peerID signalling.ParticipantIdentifier) (peer.EntryInfo, bool) {
	for _, info := range p.snapshot() {
		if info.PeerID == peerID {
			return info, true
		}
	}
	return peer.EntryInfo{}, false
}

type mesh struct {
	t       *testing.T
	network *transporttest.Network

	mu           sync.Mutex
	participants map[signalling.ParticipantIdentifier]*participant
}

func newMesh(t *testing.T) *mesh {
	return &mesh{
		t:            t,
		network:      transporttest.NewNetwork(),
		participants: make(map[signalling.ParticipantIdentifier]*participant),
	}
}

func (m *mesh) join(name string) *participant {
	m.t.Helper()
	id := signalling.ParticipantIdentifier("user-" + name)

	track, err := webrtc.NewTrackLocalStaticSample(media.PCMUCapability, "audio", "stream-"+name)
	if err != nil {
		m.t.Fatalf("new local track: %v", err)
	}

	p := &participant{
		id:    id,
		queue: taskqueue.New(),
		sink:  newCountingSink(),
		mesh:  m,
	}
	go p.queue.Run()
	m.t.Cleanup(p.queue.Stop)

	p.registry, err = peer.NewRegistry(peer.RegistryConfig{
		LocalID:     id,
		Factory:     m.network.Factory(name),
		LocalTracks: []webrtc.TrackLocal{track},
		Sink:        p.sink,
		Dispatch:    func(f func()) { p.queue.Post(f) },
	})
	if err != nil {
		m.t.Fatalf("new registry: %v", err)
	}
	p.negotiator = peer.NewNegotiator(p.registry, p, nil)

	m.mu.Lock()
	m.participants[id] = p
	m.mu.Unlock()
	return p
}

func (m *mesh) route(msg signalling.Message) {
	m.mu.Lock()
	recipient, ok := m.participants[msg.Recipient]
	m.mu.Unlock()
	if ok {
		recipient.deliver(msg)
	}
}

// Poll cond until it holds or a deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func connected(p *participant, peerID signalling.ParticipantIdentifier) func() bool {
	return func() bool {
		info, ok := p.entry(peerID)
		return ok && info.Negotiation == peer.NegotiationConnected &&
			info.Connectivity == peer.ConnectivityConnected && info.Attached
	}
}

func absent(p *participant, peerID signalling.ParticipantIdentifier) func() bool {
	return func() bool {
		_, ok := p.entry(peerID)
		return !ok
	}
}
