package media

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/oov/audio/resampler"
	"github.com/pion/webrtc/v4"
)

// A local audio source that plays a .WAV file on loop.
//
// The file is decoded entirely when the stream is acquired, mixed down to mono and
// resampled to the PCMU rate, so any PCM .WAV file may be used.
type WAVFileSource struct {
	logger *slog.Logger

	Path string
	// Stop once the file has been played through once, rather than looping.
	PlayOnce bool
	// Nil plays at natural scaling.
	Volume *Volume
}

func NewWAVFileSource(path string, logger *slog.Logger) *WAVFileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &WAVFileSource{
		logger: logger.With("audioFile", path),
		Path:   path,
	}
}

func (s *WAVFileSource) Acquire(ctx context.Context) (*LocalStream, error) {
	pcm, err := s.load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMediaAcquisitionDenied, err)
	}

	streamID := "wav-" + uuid.New().String()
	track, err := webrtc.NewTrackLocalStaticSample(PCMUCapability, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMediaAcquisitionDenied, err)
	}

	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream := newLocalStream(streamID, []webrtc.TrackLocal{track}, cancel)

	position := 0
	next := func(frame []int16) bool {
		for i := range frame {
			if position >= len(pcm) {
				if s.PlayOnce {
					clear(frame[i:])
					return i > 0
				}
				position = 0
			}
			frame[i] = pcm[position]
			position++
		}
		return true
	}

	go pumpPCMU(pumpCtx, track, next, s.Volume, s.logger.With("stream", streamID))
	return stream, nil
}

// Decode the file into mono 8kHz linear PCM.
func (s *WAVFileSource) load() ([]int16, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		s.logger.Error("could not open audio file", "err", err)
		return nil, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		s.logger.Error("could not decode audio file", "err", decoder.Err())
		return nil, fmt.Errorf("invalid wav file %q", s.Path)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		s.logger.Error("could not get full PCM buffer from audio file", "err", err)
		return nil, err
	}
	numChannels := buf.Format.NumChannels
	sampleRate := buf.Format.SampleRate
	if numChannels <= 0 || sampleRate <= 0 || len(buf.Data) < numChannels {
		return nil, fmt.Errorf("audio file %q has no usable audio", s.Path)
	}

	// Scale to [-1, 1] whatever the bit depth, mixing channels down to mono
	fullScale := float32(math.MaxInt16)
	if buf.SourceBitDepth > 0 {
		fullScale = float32(int64(1) << (buf.SourceBitDepth - 1))
	}
	mono := make([]float32, len(buf.Data)/numChannels)
	for i := range mono {
		var sum float32
		for c := range numChannels {
			sum += float32(buf.Data[i*numChannels+c])
		}
		mono[i] = sum / float32(numChannels) / fullScale
	}

	if sampleRate != pcmuSampleRate {
		r := resampler.New(1, sampleRate, pcmuSampleRate, 10)
		resampled := make([]float32, len(mono)*pcmuSampleRate/sampleRate+1)
		_, written := r.ProcessFloat32(0, mono, resampled)
		mono = resampled[:written]
	}

	pcm := make([]int16, len(mono))
	for i, v := range mono {
		v = max(-1, min(1, v))
		pcm[i] = int16(v * math.MaxInt16)
	}

	s.logger.Debug(
		"loaded audio file",
		"sampleRate", sampleRate,
		"channels", numChannels,
		"bitDepth", buf.SourceBitDepth,
		"samples", len(pcm),
	)
	if len(pcm) == 0 {
		return nil, fmt.Errorf("audio file %q resampled to nothing", s.Path)
	}
	return pcm, nil
}
