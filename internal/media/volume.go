package media

import (
	"math"
	"sync/atomic"
)

// Gain applied to local audio before it is encoded. Safe to change while a
// stream is playing.
//
// 0.0 mutes, 1.0 is natural scaling. Larger values are allowed, but samples clip.
type Volume struct {
	bits atomic.Uint64
}

func NewVolume(magnitude float64) *Volume {
	v := &Volume{}
	v.Set(magnitude)
	return v
}

// Set the magnitude. Negative values mute.
func (v *Volume) Set(magnitude float64) {
	if magnitude < 0 || math.IsNaN(magnitude) {
		magnitude = 0
	}
	v.bits.Store(math.Float64bits(magnitude))
}

// A nil Volume is natural scaling.
func (v *Volume) Get() float64 {
	if v == nil {
		return 1
	}
	return math.Float64frombits(v.bits.Load())
}

// Scale pcm in place.
func (v *Volume) apply(pcm []int16) {
	magnitude := v.Get()
	if magnitude == 1 {
		return
	}
	for i, sample := range pcm {
		scaled := math.Round(float64(sample) * magnitude)
		pcm[i] = int16(max(math.MinInt16, min(math.MaxInt16, scaled)))
	}
}
