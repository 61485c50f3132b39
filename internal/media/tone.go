package media

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const (
	// PCMU is fixed at 8kHz mono
	pcmuSampleRate  = 8000
	pcmuNumChannels = 1

	sampleDuration  = 20 * time.Millisecond
	samplesPerFrame = pcmuSampleRate * int(sampleDuration) / int(time.Second)
)

// The capability of every local audio track produced by this package.
var PCMUCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypePCMU,
	ClockRate: pcmuSampleRate,
	Channels:  pcmuNumChannels,
}

// A synthetic microphone producing a slowly wavering tone.
// Useful where no capture device exists, e.g. headless hosts and tests.
type ToneSource struct {
	logger *slog.Logger

	// Base frequency of the tone in Hz.
	Frequency float64
	// Nil plays at natural scaling.
	Volume *Volume
}

func NewToneSource(frequency float64, logger *slog.Logger) *ToneSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToneSource{
		logger:    logger,
		Frequency: frequency,
	}
}

func (s *ToneSource) Acquire(ctx context.Context) (*LocalStream, error) {
	if s.Frequency <= 0 || s.Frequency >= pcmuSampleRate/2 {
		return nil, fmt.Errorf("%w: tone frequency %v out of range", ErrMediaAcquisitionDenied, s.Frequency)
	}

	streamID := "tone-" + uuid.New().String()
	track, err := webrtc.NewTrackLocalStaticSample(PCMUCapability, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMediaAcquisitionDenied, err)
	}

	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream := newLocalStream(streamID, []webrtc.TrackLocal{track}, cancel)

	var phase float64
	var frameCount int
	generate := func(pcm []int16) bool {
		// Slow vibrato around the base frequency, with a second harmonic for texture
		frequency := s.Frequency + 20*math.Sin(float64(frameCount)*0.01)
		amplitude := 0.3 + 0.1*math.Sin(float64(frameCount)*0.005)
		for i := range pcm {
			sample := math.Sin(phase) + 0.2*math.Sin(2*phase)
			pcm[i] = int16(sample * amplitude * math.MaxInt16 / 1.2)

			phase += 2 * math.Pi * frequency / pcmuSampleRate
			if phase >= 2*math.Pi {
				phase -= 2 * math.Pi
			}
		}
		frameCount++
		return true
	}

	go pumpPCMU(pumpCtx, track, generate, s.Volume, s.logger.With("stream", streamID))
	s.logger.Debug("tone source acquired", "stream", streamID, "frequency", s.Frequency)
	return stream, nil
}

// Write one PCMU sample every sampleDuration until ctx is done or next reports false.
// next fills a frame of linear PCM at 8kHz mono, which is scaled by volume before encoding.
func pumpPCMU(
	ctx context.Context,
	track *webrtc.TrackLocalStaticSample,
	next func(pcm []int16) bool,
	volume *Volume,
	logger *slog.Logger,
) {
	pcm := make([]int16, samplesPerFrame)
	payload := make([]byte, 0, samplesPerFrame)

	ticker := time.NewTicker(sampleDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("local media pump stopped")
			return
		case <-ticker.C:
		}

		if !next(pcm) {
			logger.Debug("local media source exhausted")
			return
		}
		volume.apply(pcm)
		payload = EncodeMulaw(payload, pcm)
		// WriteSample copies the payload into packets, so the buffer can be reused
		if err := track.WriteSample(pionmedia.Sample{Data: payload, Duration: sampleDuration}); err != nil {
			logger.Error("error writing local audio sample", "err", err)
		}
	}
}
