package media

import (
	"math"
	"testing"
)

func TestMulaw_DecodeTableRoundTrips(t *testing.T) {
	// Every code except negative zero (0x7F) survives decode then encode
	for i := range 256 {
		b := byte(i)
		if b == 0x7F {
			continue
		}
		if got := LinearToMulaw(MulawToLinear(b)); got != b {
			t.Fatalf("code %#02x decoded to %d re-encoded as %#02x", b, MulawToLinear(b), got)
		}
	}
}

func TestMulaw_QuantisationErrorIsBounded(t *testing.T) {
	for _, sample := range []int16{0, 1, -1, 100, -100, 1000, -1000, 12345, -12345, math.MaxInt16, math.MinInt16} {
		decoded := MulawToLinear(LinearToMulaw(sample))
		diff := math.Abs(float64(decoded) - float64(sample))
		// Quantisation steps grow with magnitude, always below an eighth of it
		limit := math.Max(8, math.Abs(float64(sample))/8)
		if diff > limit {
			t.Fatalf("sample %d decoded as %d, error %v", sample, decoded, diff)
		}
	}
}

func TestMulaw_SilenceEncodesToCanonicalCode(t *testing.T) {
	if got := LinearToMulaw(0); got != 0xFF {
		t.Fatalf("silence encoded as %#02x, want 0xff", got)
	}
}

func TestMulaw_BufferHelpersReuseDestination(t *testing.T) {
	pcm := []int16{0, 500, -500, 8000}
	encoded := EncodeMulaw(make([]byte, 0, 16), pcm)
	if len(encoded) != len(pcm) {
		t.Fatalf("encoded %d samples, want %d", len(encoded), len(pcm))
	}

	decoded := DecodeMulaw([]int16{9, 9, 9, 9, 9, 9}, encoded)
	if len(decoded) != len(pcm) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(pcm))
	}
	if decoded[0] != 0 {
		t.Fatalf("decoded silence as %d", decoded[0])
	}
	if decoded[1] <= 0 || decoded[2] >= 0 {
		t.Fatalf("sign lost: %v", decoded)
	}
}
