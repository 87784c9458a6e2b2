// Package audio turns audio sources into fixed-rate mono waveforms and
// normalizes them to the clip length the classifier was trained on.
package audio

import "time"

const (
	// SampleRate is the rate every waveform is converted to after decoding.
	SampleRate = 16000

	// DefaultClipDuration is the fixed window shared by data preparation and
	// inference. Changing it changes the classifier's input shape.
	DefaultClipDuration = 15 * time.Second
)

// Waveform is a single-channel sequence of amplitude samples in [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the waveform.
func (w *Waveform) Duration() time.Duration {
	if w == nil || w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(w.Samples)) / float64(w.SampleRate) * float64(time.Second))
}

// TargetSamples returns the exact sample count of a clip of the given
// duration at sampleRate.
func TargetSamples(duration time.Duration, sampleRate int) int {
	return int(duration.Seconds() * float64(sampleRate))
}

// FixLength returns samples truncated or right-padded with zeros to exactly
// target samples. Truncation keeps the first target samples. A slice that is
// already target long is returned as is.
func FixLength(samples []float32, target int) []float32 {
	if target <= 0 {
		return []float32{}
	}
	switch {
	case len(samples) == target:
		return samples
	case len(samples) > target:
		return samples[:target:target]
	default:
		out := make([]float32, target)
		copy(out, samples)
		return out
	}
}
