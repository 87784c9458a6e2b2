package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

type ratePair struct{ from, to int }

// Output index of the first input sample, per rate pair.
var alignments sync.Map

// Resample converts mono samples from one rate to another with the
// high-quality preset. The result has round(len(samples)*to/from) samples, an
// impulse at input time t stays at output time t, and identical input gives
// identical output.
func Resample(samples []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid resample rates %d -> %d", from, to)
	}
	if from == to {
		return samples, nil
	}
	want := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	if want == 0 {
		return []float32{}, nil
	}

	start, err := alignment(from, to)
	if err != nil {
		return nil, err
	}

	pad := padding(from, to)
	input := make([]float64, pad+len(samples)+pad)
	for i, s := range samples {
		input[pad+i] = float64(s)
	}
	output, err := run(input, from, to)
	if err != nil {
		return nil, err
	}

	out := make([]float32, want)
	for i := range out {
		if j := start + i; j < len(output) {
			out[i] = float32(output[j])
		}
	}
	return out, nil
}

// padding is the silence added on each side of the signal: at least a tenth
// of a second, rounded up to whole resampling periods so that the signal
// starts on an output sample.
func padding(from, to int) int {
	period := from / gcd(from, to)
	minimum := max(from/10, 1024)
	return (minimum + period - 1) / period * period
}

// alignment returns where the first signal sample lands in the padded
// output, measured from the peak of a resampled impulse.
func alignment(from, to int) (int, error) {
	key := ratePair{from, to}
	if v, ok := alignments.Load(key); ok {
		return v.(int), nil
	}

	pad := padding(from, to)
	impulse := make([]float64, 2*pad+1)
	impulse[pad] = 1
	output, err := run(impulse, from, to)
	if err != nil {
		return 0, err
	}

	peak, best := -1, 0.0
	for i, v := range output {
		if a := math.Abs(v); a > best {
			peak, best = i, a
		}
	}
	if peak < 0 {
		return 0, errors.New("resampler produced no impulse response")
	}
	alignments.Store(key, peak)
	return peak, nil
}

// run resamples input with a fresh resampler and drains it.
func run(input []float64, from, to int) ([]float64, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}
	output, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	tail, err := rs.Flush()
	if err != nil {
		return nil, fmt.Errorf("flush resampler: %w", err)
	}
	return append(output, tail...), nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
