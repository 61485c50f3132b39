package peer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/media"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/taskqueue"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/pkg/signalling"
)

// A transport whose heartbeat channel is one end of a linkedChannel pair, and
// whose connectivity is driven by the test.
type heartbeatTransport struct {
	channel *linkedChannel

	mu      sync.Mutex
	onState func(ConnectivityState)
}

func (t *heartbeatTransport) AddTrack(webrtc.TrackLocal) error { return nil }
func (t *heartbeatTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{}, errors.New("not negotiated")
}
func (t *heartbeatTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{}, errors.New("not negotiated")
}
func (t *heartbeatTransport) SetLocalDescription(webrtc.SessionDescription) error  { return nil }
func (t *heartbeatTransport) SetRemoteDescription(webrtc.SessionDescription) error { return nil }
func (t *heartbeatTransport) AddICECandidate(webrtc.ICECandidateInit) error        { return nil }
func (t *heartbeatTransport) OnDataChannel(func(DataChannel))                      {}
func (t *heartbeatTransport) OnICECandidate(func(*webrtc.ICECandidateInit))        {}
func (t *heartbeatTransport) OnTrack(func(media.RemoteTrack))                      {}
func (t *heartbeatTransport) Close() error                                         { return nil }

func (t *heartbeatTransport) CreateDataChannel(label string) (DataChannel, error) {
	return t.channel, nil
}

func (t *heartbeatTransport) OnConnectivityStateChange(f func(ConnectivityState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = f
}

func (t *heartbeatTransport) emit(state ConnectivityState) {
	t.mu.Lock()
	f := t.onState
	t.mu.Unlock()
	f(state)
}

type heartbeatFactory struct {
	transport *heartbeatTransport
}

func (f heartbeatFactory) NewTransport() (Transport, error) {
	return f.transport, nil
}

type discardSignaller struct{}

func (discardSignaller) Send(signalling.Message) {}

func (c *linkedChannel) setMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

func TestNegotiator_HeartbeatDegradesAndRestoresConnectedPeer(t *testing.T) {
	local, remote := newLinkedChannels()
	remote.setMuted(true)

	// The remote end only answers pings
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startHeartbeat(ctx, heartbeatConfig{
		channel:    remote,
		period:     time.Hour,
		logger:     slog.Default(),
		onAnswered: func(time.Duration) {},
		onMissed:   func() {},
	})

	queue := taskqueue.New()
	go queue.Run()
	defer queue.Stop()

	transport := &heartbeatTransport{channel: local}
	registry, err := NewRegistry(RegistryConfig{
		LocalID:         "user-local",
		Factory:         heartbeatFactory{transport: transport},
		Dispatch:        func(f func()) { queue.Post(f) },
		HeartbeatPeriod: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	NewNegotiator(registry, discardSignaller{}, nil)

	e, _, err := registry.GetOrCreate("user-remote", RoleInitiator)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	defer registry.RemoveAll()

	state := func() ConnectivityState {
		var s ConnectivityState
		queue.PostAndWait(func() { s = e.ConnectivityState() })
		return s
	}
	rtt := func() time.Duration {
		var d time.Duration
		queue.PostAndWait(func() { d = e.RTT() })
		return d
	}
	waitForState := func(want ConnectivityState) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for state() != want {
			if time.Now().After(deadline) {
				t.Fatalf("connectivity %v, want %v", state(), want)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	// Silence while the transport is still connecting is not a degradation
	transport.emit(ConnectivityConnecting)
	local.open()
	time.Sleep(100 * time.Millisecond)
	if s := state(); s != ConnectivityConnecting {
		t.Fatalf("missed heartbeat while connecting moved the entry to %v", s)
	}

	remote.setMuted(false)
	deadline := time.Now().Add(2 * time.Second)
	for rtt() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no heartbeat answered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s := state(); s != ConnectivityConnecting {
		t.Fatalf("answered heartbeat while connecting moved the entry to %v", s)
	}

	transport.emit(ConnectivityConnected)
	waitForState(ConnectivityConnected)

	remote.setMuted(true)
	waitForState(ConnectivityDegraded)
	if _, ok := registry.Get("user-remote"); !ok {
		t.Fatalf("degraded peer was removed")
	}

	remote.setMuted(false)
	waitForState(ConnectivityConnected)
}

func TestNegotiator_CandidateBeforeOfferWarnsOnce(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	local, _ := newLinkedChannels()
	registry, err := NewRegistry(RegistryConfig{
		LocalID:  "user-local",
		Factory:  heartbeatFactory{transport: &heartbeatTransport{channel: local}},
		Dispatch: func(func()) {},
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer registry.RemoveAll()
	n := NewNegotiator(registry, discardSignaller{}, logger)

	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}
	n.HandleSignal(signalling.NewCandidate("user-remote", "user-local", candidate))
	n.HandleSignal(signalling.NewCandidate("user-remote", "user-local", candidate))

	e, ok := registry.Get("user-remote")
	if !ok {
		t.Fatalf("no entry held for user-remote")
	}
	if e.NegotiationState() != NegotiationIdle {
		t.Errorf("negotiation %v, want %v", e.NegotiationState(), NegotiationIdle)
	}
	if len(e.pendingCandidates) != 2 {
		t.Errorf("%d queued candidates, want 2", len(e.pendingCandidates))
	}
	if got := strings.Count(logs.String(), "candidate from a peer with no offer"); got != 1 {
		t.Errorf("%d warnings about a missing offer, want 1\n%s", got, logs.String())
	}
	if !strings.Contains(logs.String(), "level=WARN") {
		t.Errorf("missing offer not logged at warn level\n%s", logs.String())
	}
}
