package signalling

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/relayserver"
	sig "github.com/Honorable-Knights-of-the-Roundtable/meshroom/pkg/signalling"
)

// Subscribe never confirms until ctx is done.
type silentRelay struct{}

func (silentRelay) Subscribe(ctx context.Context, topic string, deliver func([]byte)) (Subscription, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func join(t *testing.T, relay Relay, room string, self sig.ParticipantIdentifier) (*Channel, <-chan sig.Message) {
	t.Helper()
	c, err := Join(context.Background(), relay, room, self, time.Second, nil)
	if err != nil {
		t.Fatalf("join %s: %v", self, err)
	}
	t.Cleanup(c.Leave)

	received := make(chan sig.Message, 16)
	c.OnMessage(func(msg sig.Message) { received <- msg })
	return c, received
}

func expect(t *testing.T, received <-chan sig.Message, kind sig.Kind, sender sig.ParticipantIdentifier) {
	t.Helper()
	select {
	case msg := <-received:
		if msg.Kind != kind || msg.Sender != sender {
			t.Fatalf("got %s from %s, expected %s from %s", msg.Kind, msg.Sender, kind, sender)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no %s from %s", kind, sender)
	}
}

func TestJoinUnavailableRelay(t *testing.T) {
	relay := NewMemoryRelay()
	relay.SetUnavailable(true)

	c, err := Join(context.Background(), relay, "lobby", "user-a", time.Second, nil)
	if !errors.Is(err, ErrChannelUnavailable) || !errors.Is(err, ErrRelayUnavailable) {
		t.Fatalf("expected channel unavailable, got %v", err)
	}
	if c != nil {
		t.Fatalf("expected no channel")
	}
	// A channel that never joined can still be left
	c.Leave()
}

func TestJoinTimesOutWithoutConfirmation(t *testing.T) {
	start := time.Now()
	_, err := Join(context.Background(), silentRelay{}, "lobby", "user-a", 50*time.Millisecond, nil)
	if !errors.Is(err, ErrChannelUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected channel unavailable after timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("join took %v", elapsed)
	}
}

func TestJoinRejectsEmptyNames(t *testing.T) {
	relay := NewMemoryRelay()
	if _, err := Join(context.Background(), relay, "", "user-a", 0, nil); !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("empty room: %v", err)
	}
	if _, err := Join(context.Background(), relay, "lobby", "", 0, nil); !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("empty participant: %v", err)
	}
}

func TestBroadcastSkipsSelfEvenWhenRelayEchoes(t *testing.T) {
	relay := NewMemoryRelay()
	relay.EchoSelf = true

	a, fromA := join(t, relay, "lobby", "user-a")
	b, fromB := join(t, relay, "lobby", "user-b")

	if err := a.Broadcast(sig.NewAnnounce("user-a")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	expect(t, fromB, sig.KindAnnounce, "user-a")

	// a's echo of its own announce would arrive before b's
	if err := b.Broadcast(sig.NewAnnounce("user-b")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	expect(t, fromA, sig.KindAnnounce, "user-b")
}

func TestSignalsReachOnlyTheirRecipient(t *testing.T) {
	relay := NewMemoryRelay()
	a, _ := join(t, relay, "lobby", "user-a")
	_, fromB := join(t, relay, "lobby", "user-b")
	_, fromC := join(t, relay, "lobby", "user-c")

	offer := sig.NewDescription("user-a", "user-c", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	if err := a.Broadcast(offer); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if err := a.Broadcast(sig.NewAnnounce("user-a")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	expect(t, fromC, sig.KindOffer, "user-a")
	expect(t, fromC, sig.KindAnnounce, "user-a")
	expect(t, fromB, sig.KindAnnounce, "user-a")
}

func TestRoomsAreIsolated(t *testing.T) {
	relay := NewMemoryRelay()
	a, _ := join(t, relay, "lobby", "user-a")
	x, _ := join(t, relay, "attic", "user-x")
	_, fromB := join(t, relay, "lobby", "user-b")

	x.Broadcast(sig.NewAnnounce("user-x"))
	a.Broadcast(sig.NewAnnounce("user-a"))
	expect(t, fromB, sig.KindAnnounce, "user-a")
}

func TestMessagesBeforeHandlerAreHeld(t *testing.T) {
	relay := NewMemoryRelay()
	a, _ := join(t, relay, "lobby", "user-a")
	b, err := Join(context.Background(), relay, "lobby", "user-b", time.Second, nil)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	defer b.Leave()

	a.Broadcast(sig.NewAnnounce("user-a"))
	a.Broadcast(sig.NewCandidate("user-a", "user-b", webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}))

	deadline := time.Now().Add(5 * time.Second)
	for {
		b.mu.Lock()
		held := len(b.pending)
		b.mu.Unlock()
		if held == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("held %d messages, expected 2", held)
		}
		time.Sleep(5 * time.Millisecond)
	}

	var kinds []sig.Kind
	b.OnMessage(func(msg sig.Message) { kinds = append(kinds, msg.Kind) })
	if len(kinds) != 2 || kinds[0] != sig.KindAnnounce || kinds[1] != sig.KindCandidate {
		t.Fatalf("delivered %v", kinds)
	}
}

func TestMalformedPayloadsAreDropped(t *testing.T) {
	relay := NewMemoryRelay()
	_, fromA := join(t, relay, "lobby", "user-a")

	raw, err := relay.Subscribe(context.Background(), sig.RoomTopic("lobby"), func([]byte) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer raw.Unsubscribe()
	raw.Publish([]byte(`not json`))
	raw.Publish([]byte(`{"event":"signal","payload":{"sender_id":"user-z"}}`))

	announce, _ := sig.NewAnnounce("user-z").Encode()
	raw.Publish(announce)
	expect(t, fromA, sig.KindAnnounce, "user-z")
}

func TestLeave(t *testing.T) {
	relay := NewMemoryRelay()
	a, _ := join(t, relay, "lobby", "user-a")
	if n := relay.Subscribers(sig.RoomTopic("lobby")); n != 1 {
		t.Fatalf("subscribers = %d", n)
	}

	a.Leave()
	a.Leave()
	if n := relay.Subscribers(sig.RoomTopic("lobby")); n != 0 {
		t.Fatalf("subscribers after leave = %d", n)
	}
	if err := a.Broadcast(sig.NewAnnounce("user-a")); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("broadcast after leave: %v", err)
	}

	var never *Channel
	never.Leave()
}

func startRelayServer(t *testing.T) string {
	t.Helper()
	hub := relayserver.NewHub(zerolog.Nop())
	go hub.Run()
	server := httptest.NewServer(relayserver.NewRouter(hub, zerolog.Nop()))
	t.Cleanup(func() {
		server.Close()
		hub.Stop()
	})
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func TestWebsocketRelay(t *testing.T) {
	relay, err := NewWebsocketRelay(startRelayServer(t), nil)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	relay.EchoSelf = true

	a, fromA := join(t, relay, "lobby", "user-a")
	b, fromB := join(t, relay, "lobby", "user-b")

	a.Broadcast(sig.NewAnnounce("user-a"))
	expect(t, fromB, sig.KindAnnounce, "user-a")

	answer := sig.NewDescription("user-b", "user-a", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	b.Broadcast(answer)
	expect(t, fromA, sig.KindAnswer, "user-b")

	b.Leave()
	if err := b.Broadcast(sig.NewAnnounce("user-b")); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("broadcast after leave: %v", err)
	}
}

func TestWebsocketRelayUnreachable(t *testing.T) {
	url := startRelayServer(t)
	relay, err := NewWebsocketRelay(url+"/missing", nil)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	_, err = Join(context.Background(), relay, "lobby", "user-a", time.Second, nil)
	if !errors.Is(err, ErrChannelUnavailable) || !errors.Is(err, ErrRelayUnavailable) {
		t.Fatalf("expected channel unavailable, got %v", err)
	}
}

func TestWebsocketRelayURL(t *testing.T) {
	for _, url := range []string{"http://localhost/ws", "localhost:8080", "::"} {
		if _, err := NewWebsocketRelay(url, nil); err == nil {
			t.Errorf("accepted %q", url)
		}
	}
}
