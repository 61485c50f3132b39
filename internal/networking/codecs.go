package networking

import (
	"slices"
	"strings"

	"github.com/pion/webrtc/v4"
)

var (
	// Define a mapping from string representation (e.g. for use in config files) to codec specification
	CodecMap map[string]webrtc.RTPCodecCapability = map[string]webrtc.RTPCodecCapability{
		"CodecPCMU8000Mono": {
			MimeType:  webrtc.MimeTypePCMU,
			ClockRate: 8000,
			Channels:  1,
		},
		"CodecOpus48000Stereo": {
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		"CodecOpus48000Mono": {
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  1,
		},
		"CodecOpus24000Stereo": {
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 24000,
			Channels:  2,
		},
		"CodecOpus24000Mono": {
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 24000,
			Channels:  1,
		},
		"CodecOpus16000Stereo": {
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 16000,
			Channels:  2,
		},
		"CodecOpus16000Mono": {
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 16000,
			Channels:  1,
		},
		"CodecOpus12000Stereo": {
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 12000,
			Channels:  2,
		},
		"CodecOpus12000Mono": {
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 12000,
			Channels:  1,
		},
		"CodecOpus8000Stereo": {
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 8000,
			Channels:  2,
		},
		"CodecOpus8000Mono": {
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 8000,
			Channels:  1,
		},
	}
)

const (
	// Static payload type of PCMU
	pcmuPayloadType webrtc.PayloadType = 0

	// First dynamic payload type, Opus by convention
	firstDynamicPayloadType webrtc.PayloadType = 111
)

// The names accepted by CodecMap, sorted.
func CodecNames() []string {
	names := make([]string, 0, len(CodecMap))
	for name := range CodecMap {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Assign payload types to codecs: the static type for PCMU, and consecutive
// dynamic types from 111 for everything else. PCMU is always included, since
// local audio is sent as PCMU.
func codecParameters(codecs []webrtc.RTPCodecCapability) []webrtc.RTPCodecParameters {
	params := []webrtc.RTPCodecParameters{{
		RTPCodecCapability: CodecMap["CodecPCMU8000Mono"],
		PayloadType:        pcmuPayloadType,
	}}

	next := firstDynamicPayloadType
	for _, codec := range codecs {
		if strings.EqualFold(codec.MimeType, webrtc.MimeTypePCMU) {
			continue
		}
		params = append(params, webrtc.RTPCodecParameters{
			RTPCodecCapability: codec,
			PayloadType:        next,
		})
		next++
	}
	return params
}
