package networking

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/peer"
)

func TestCodecParameters_PCMUAlwaysFirstWithStaticPayloadType(t *testing.T) {
	params := codecParameters([]webrtc.RTPCodecCapability{
		CodecMap["CodecOpus48000Stereo"],
		CodecMap["CodecPCMU8000Mono"],
		CodecMap["CodecOpus48000Mono"],
	})

	if len(params) != 3 {
		t.Fatalf("got %d codecs, want 3 with PCMU deduplicated", len(params))
	}
	if params[0].MimeType != webrtc.MimeTypePCMU || params[0].PayloadType != 0 {
		t.Fatalf("first codec is %+v, want PCMU on payload type 0", params[0])
	}
	if params[1].PayloadType != 111 || params[2].PayloadType != 112 {
		t.Fatalf("dynamic payload types %d, %d, want 111, 112", params[1].PayloadType, params[2].PayloadType)
	}
}

func TestCodecNames_SortedAndComplete(t *testing.T) {
	names := CodecNames()
	if len(names) != len(CodecMap) {
		t.Fatalf("got %d names, want %d", len(names), len(CodecMap))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}

func TestConnectivityState_MapsICEStates(t *testing.T) {
	cases := map[webrtc.ICEConnectionState]peer.ConnectivityState{
		webrtc.ICEConnectionStateNew:          peer.ConnectivityNew,
		webrtc.ICEConnectionStateChecking:     peer.ConnectivityConnecting,
		webrtc.ICEConnectionStateConnected:    peer.ConnectivityConnected,
		webrtc.ICEConnectionStateCompleted:    peer.ConnectivityConnected,
		webrtc.ICEConnectionStateDisconnected: peer.ConnectivityDisconnected,
		webrtc.ICEConnectionStateFailed:       peer.ConnectivityFailed,
		webrtc.ICEConnectionStateClosed:       peer.ConnectivityClosed,
	}
	for ice, want := range cases {
		if got := connectivityState(ice); got != want {
			t.Fatalf("%s mapped to %s, want %s", ice, got, want)
		}
	}
}

func TestSlogLoggerFactory_ScopesAndFormats(t *testing.T) {
	var out strings.Builder
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))

	pionLogger := SlogLoggerFactory{Logger: logger}.NewLogger("ice")
	pionLogger.Debugf("checking pair %d", 3)
	pionLogger.Tracef("dropped %s", "always")

	got := out.String()
	if !strings.Contains(got, "pion=ice") || !strings.Contains(got, "checking pair 3") {
		t.Fatalf("unexpected log output %q", got)
	}
	if strings.Contains(got, "dropped") {
		t.Fatalf("trace output leaked at debug level: %q", got)
	}
}

func TestPionTransportFactory_CreatesClosableTransports(t *testing.T) {
	factory, err := NewPionTransportFactory(TransportFactoryConfig{
		Codecs: []webrtc.RTPCodecCapability{CodecMap["CodecOpus48000Stereo"]},
	})
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	transport, err := factory.NewTransport()
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}

	if _, err := transport.CreateDataChannel("heartbeat"); err != nil {
		t.Fatalf("create data channel: %v", err)
	}
	offer, err := transport.CreateOffer()
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if offer.Type != webrtc.SDPTypeOffer {
		t.Fatalf("offer has type %s", offer.Type)
	}
	if err := transport.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
