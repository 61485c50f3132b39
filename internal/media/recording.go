package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pion/webrtc/v4"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/pkg/signalling"
)

// A local debugging sink that writes the audio of every remote participant to
// <dir>/<participant>.wav. Off unless the client is given record.dir.
//
// Only the first PCMU audio track of each stream is recorded. A file is
// finalised once its track ends, which happens when the peer is removed.
type RecordingSink struct {
	logger *slog.Logger
	dir    string

	mu         sync.Mutex
	recordings map[signalling.ParticipantIdentifier]*recording
	wg         sync.WaitGroup
}

type recording struct {
	path   string
	stream *RemoteStream
}

func NewRecordingSink(dir string, logger *slog.Logger) (*RecordingSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create recording directory: %w", err)
	}
	return &RecordingSink{
		logger:     logger.With("recordingDir", dir),
		dir:        dir,
		recordings: make(map[signalling.ParticipantIdentifier]*recording),
	}, nil
}

// The file a participant's audio is recorded to.
func (s *RecordingSink) PathFor(peerID signalling.ParticipantIdentifier) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, peerID.String())
	return filepath.Join(s.dir, name+".wav")
}

func (s *RecordingSink) Attach(peerID signalling.ParticipantIdentifier, stream *RemoteStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recordings[peerID]; ok {
		return
	}

	rec := &recording{
		path:   s.PathFor(peerID),
		stream: stream,
	}
	s.recordings[peerID] = rec
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.record(peerID, rec)
	}()
}

func (s *RecordingSink) Detach(peerID signalling.ParticipantIdentifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recordings, peerID)
}

// Wait for every recording to be finalised.
func (s *RecordingSink) Close() {
	s.wg.Wait()
}

func (s *RecordingSink) record(peerID signalling.ParticipantIdentifier, rec *recording) {
	logger := s.logger.With("peer", peerID, "audioFile", rec.path)

	var track RemoteTrack
	for t := range rec.stream.Subscribe() {
		if t.Kind() != webrtc.RTPCodecTypeAudio {
			continue
		}
		if !strings.EqualFold(t.Codec().MimeType, webrtc.MimeTypePCMU) {
			logger.Warn("not recording audio track with unsupported codec", "codec", t.Codec().MimeType)
			continue
		}
		track = t
		break
	}
	if track == nil {
		logger.Debug("stream ended without a recordable track")
		return
	}

	bufFormat := &goaudio.Format{
		SampleRate:  pcmuSampleRate,
		NumChannels: pcmuNumChannels,
	}

	// The file is created on the first packet, so a track that never
	// carries audio leaves nothing behind
	var f *os.File
	var encoder *wav.Encoder
	defer func() {
		if encoder == nil {
			return
		}
		if err := encoder.Close(); err != nil {
			logger.Error("error finalising recording", "err", err)
		}
		f.Close()
		logger.Debug("recording finished")
	}()

	var pcm []int16
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("remote track read ended", "err", err)
			}
			return
		}
		if len(packet.Payload) == 0 {
			continue
		}

		if encoder == nil {
			f, err = os.Create(rec.path)
			if err != nil {
				logger.Error("could not create recording file", "err", err)
				return
			}
			encoder = wav.NewEncoder(f, pcmuSampleRate, 16, pcmuNumChannels, 1)
		}

		pcm = DecodeMulaw(pcm, packet.Payload)
		buf := &goaudio.IntBuffer{
			Format:         bufFormat,
			Data:           make([]int, len(pcm)),
			SourceBitDepth: 16,
		}
		for i, sample := range pcm {
			buf.Data[i] = int(sample)
		}
		if err := encoder.Write(buf); err != nil {
			logger.Error("error while writing frame to file", "err", err)
			return
		}
	}
}
