package networking

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/media"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/peer"
)

type TransportFactoryConfig struct {
	// STUN/TURN server URLs, e.g. "stun:stun.l.google.com:19302"
	ICEServers []string

	// Codecs to offer and accept in addition to PCMU.
	Codecs []webrtc.RTPCodecCapability

	// Network to gather candidates on. If nil, the host network is used.
	Net transport.Net

	// Zero values keep pion's defaults.
	ICEDisconnectedTimeout time.Duration
	ICEFailedTimeout       time.Duration
	ICEKeepaliveInterval   time.Duration

	// If no logger is given, slog.Default() is used.
	Logger *slog.Logger
}

// Creates pion PeerConnections, all sharing one webrtc.API.
type PionTransportFactory struct {
	logger        *slog.Logger
	api           *webrtc.API
	configuration webrtc.Configuration
}

func NewPionTransportFactory(cfg TransportFactoryConfig) (*PionTransportFactory, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mediaEngine := &webrtc.MediaEngine{}
	for _, params := range codecParameters(cfg.Codecs) {
		if err := mediaEngine.RegisterCodec(params, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("could not register codec %s: %w", params.MimeType, err)
		}
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("could not register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{
		LoggerFactory: SlogLoggerFactory{Logger: logger.With("component", "pion")},
	}
	if cfg.Net != nil {
		settingEngine.SetNet(cfg.Net)
	}
	if cfg.ICEDisconnectedTimeout > 0 || cfg.ICEFailedTimeout > 0 || cfg.ICEKeepaliveInterval > 0 {
		settingEngine.SetICETimeouts(
			orDefault(cfg.ICEDisconnectedTimeout, 5*time.Second),
			orDefault(cfg.ICEFailedTimeout, 25*time.Second),
			orDefault(cfg.ICEKeepaliveInterval, 2*time.Second),
		)
	}

	configuration := webrtc.Configuration{}
	if len(cfg.ICEServers) > 0 {
		configuration.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	return &PionTransportFactory{
		logger: logger,
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(settingEngine),
		),
		configuration: configuration,
	}, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func (f *PionTransportFactory) NewTransport() (peer.Transport, error) {
	connection, err := f.api.NewPeerConnection(f.configuration)
	if err != nil {
		f.logger.Error(
			"error while creating new peer connection",
			"err", err,
			"connection config", f.configuration,
		)
		return nil, err
	}
	return &PionTransport{
		logger:     f.logger,
		connection: connection,
	}, nil
}

// --------------------------------------------------------------------------------

// A peer.Transport over a pion PeerConnection.
type PionTransport struct {
	logger     *slog.Logger
	connection *webrtc.PeerConnection
}

func (t *PionTransport) AddTrack(track webrtc.TrackLocal) error {
	sender, err := t.connection.AddTrack(track)
	if err != nil {
		return err
	}

	// Interceptors only see RTCP that is read
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (t *PionTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.connection.CreateOffer(nil)
}

func (t *PionTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.connection.CreateAnswer(nil)
}

func (t *PionTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	return t.connection.SetLocalDescription(desc)
}

func (t *PionTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.connection.SetRemoteDescription(desc)
}

func (t *PionTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.connection.AddICECandidate(candidate)
}

func (t *PionTransport) CreateDataChannel(label string) (peer.DataChannel, error) {
	dc, err := t.connection.CreateDataChannel(label, &webrtc.DataChannelInit{})
	if err != nil {
		return nil, err
	}
	return &pionDataChannel{dc: dc}, nil
}

func (t *PionTransport) OnDataChannel(f func(peer.DataChannel)) {
	t.connection.OnDataChannel(func(dc *webrtc.DataChannel) {
		f(&pionDataChannel{dc: dc})
	})
}

func (t *PionTransport) OnICECandidate(f func(*webrtc.ICECandidateInit)) {
	t.connection.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			f(nil)
			return
		}
		candidate := c.ToJSON()
		f(&candidate)
	})
}

func (t *PionTransport) OnTrack(f func(media.RemoteTrack)) {
	t.connection.OnTrack(func(tr *webrtc.TrackRemote, r *webrtc.RTPReceiver) {
		t.logger.Debug(
			"received track",
			"track ID", tr.ID(),
			"track kind", tr.Kind().String(),
		)
		f(tr)
	})
}

func (t *PionTransport) OnConnectivityStateChange(f func(peer.ConnectivityState)) {
	t.connection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.logger.Debug("ice connection state change", "new state", state.String())
		f(connectivityState(state))
	})
}

func (t *PionTransport) Close() error {
	return t.connection.Close()
}

// Map pion's ICE connection states onto the states the mesh acts on.
func connectivityState(state webrtc.ICEConnectionState) peer.ConnectivityState {
	switch state {
	case webrtc.ICEConnectionStateChecking:
		return peer.ConnectivityConnecting
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return peer.ConnectivityConnected
	case webrtc.ICEConnectionStateDisconnected:
		return peer.ConnectivityDisconnected
	case webrtc.ICEConnectionStateFailed:
		return peer.ConnectivityFailed
	case webrtc.ICEConnectionStateClosed:
		return peer.ConnectivityClosed
	default:
		return peer.ConnectivityNew
	}
}

// --------------------------------------------------------------------------------

type pionDataChannel struct {
	dc *webrtc.DataChannel
}

func (d *pionDataChannel) Label() string {
	return d.dc.Label()
}

func (d *pionDataChannel) OnOpen(f func()) {
	d.dc.OnOpen(f)
}

func (d *pionDataChannel) OnMessage(f func([]byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		f(msg.Data)
	})
}

func (d *pionDataChannel) Send(data []byte) error {
	return d.dc.Send(data)
}

func (d *pionDataChannel) Close() error {
	return d.dc.Close()
}
