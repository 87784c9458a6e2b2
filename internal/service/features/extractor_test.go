package features

import (
	"errors"
	"math"
	"testing"
)

const testRate = 16000

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := NewExtractor(DefaultConfig(testRate))
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	return e
}

func TestFrameCount(t *testing.T) {
	tests := []struct {
		n, hop, want int
	}{
		{240000, 512, 469},
		{48000, 512, 94},
		{1, 512, 1},
		{512, 512, 2},
	}
	for _, tt := range tests {
		if got := FrameCount(tt.n, tt.hop); got != tt.want {
			t.Errorf("FrameCount(%d, %d) = %d, want %d", tt.n, tt.hop, got, tt.want)
		}
	}
}

func TestExtract_BinCentredSinePower(t *testing.T) {
	e := newTestExtractor(t)

	// A tone on FFT bin k0 under a periodic Hann window has power (A*N/4)^2
	// in bin k0, (A*N/8)^2 in each neighbour, and none elsewhere.
	const (
		amp = 0.5
		k0  = 64
	)
	samples := make([]float32, 240000)
	for i := range samples {
		samples[i] = float32(amp * math.Sin(2*math.Pi*k0*float64(i)/NFFT))
	}
	tensor, err := e.Extract(samples, testRate)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	power := make([]float64, NFFT/2+1)
	power[k0] = math.Pow(amp*NFFT/4, 2)
	power[k0-1] = math.Pow(amp*NFFT/8, 2)
	power[k0+1] = power[k0-1]

	want := make([]float64, Bands)
	var top float64
	for m, f := range e.filters {
		want[m] = f.apply(power)
		top = math.Max(top, want[m])
	}
	if top == 0 {
		t.Fatal("no mel band covers the test tone")
	}

	const frame = 100
	for m := range want {
		got := float64(tensor.At(m, frame, 0))
		if math.Abs(got-want[m]) > 1e-3*top {
			t.Errorf("band %d = %g, want %g", m, got, want[m])
		}
	}
}

func TestExtract_ZeroSignalShape(t *testing.T) {
	e := newTestExtractor(t)
	tensor, err := e.Extract(make([]float32, 240000), testRate)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := Shape{Bands: 128, Frames: 469, Channels: 1}
	if tensor.Shape != want {
		t.Fatalf("shape = %s, want %s", tensor.Shape, want)
	}
	if len(tensor.Data) != want.Len() {
		t.Fatalf("len(Data) = %d, want %d", len(tensor.Data), want.Len())
	}
	for i, v := range tensor.Data {
		if v != 0 {
			t.Fatalf("value %d = %v, want 0 for silence", i, v)
		}
	}
}

func TestExtract_TrailingSilenceAfterPadding(t *testing.T) {
	e := newTestExtractor(t)

	// Three seconds of noise-like signal followed by twelve seconds of zeros.
	samples := make([]float32, 240000)
	for i := 0; i < 48000; i++ {
		samples[i] = float32(0.3*math.Sin(2*math.Pi*440*float64(i)/testRate) +
			0.1*math.Sin(2*math.Pi*3100*float64(i)/testRate))
	}

	tensor, err := e.Extract(samples, testRate)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if tensor.FrameEnergy(40) <= 0 {
		t.Error("frame inside the signal should carry energy")
	}
	// Frame t covers samples [t*512-1024, t*512+1024); from frame 96 on that is
	// entirely padding.
	for frame := 96; frame < tensor.Shape.Frames; frame++ {
		if energy := tensor.FrameEnergy(frame); energy > 1e-9 {
			t.Fatalf("frame %d energy = %g, want near silence", frame, energy)
		}
	}
}

func TestExtract_SineLandsInMatchingBand(t *testing.T) {
	e := newTestExtractor(t)

	tests := []float64{250, 1000, 4000}
	for _, freq := range tests {
		samples := make([]float32, 32000)
		for i := range samples {
			samples[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/testRate))
		}
		tensor, err := e.Extract(samples, testRate)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}

		mid := tensor.Shape.Frames / 2
		best, bestVal := 0, float32(-1)
		for b := 0; b < tensor.Shape.Bands; b++ {
			if v := tensor.At(b, mid, 0); v > bestVal {
				best, bestVal = b, v
			}
		}

		wantBand := bandFor(freq)
		if abs(best-wantBand) > 1 {
			t.Errorf("%.0f Hz peaks in band %d, want about %d", freq, best, wantBand)
		}
	}
}

// bandFor finds the band whose centre frequency is closest to hz.
func bandFor(hz float64) int {
	lo, hi := hzToMel(FMin), hzToMel(FMax)
	target := hzToMel(hz)
	best, bestDist := 0, math.Inf(1)
	for m := 0; m < Bands; m++ {
		center := lo + (hi-lo)*float64(m+1)/float64(Bands+1)
		if d := math.Abs(center - target); d < bestDist {
			best, bestDist = m, d
		}
	}
	return best
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func TestExtract_Deterministic(t *testing.T) {
	e := newTestExtractor(t)
	samples := make([]float32, 20000)
	for i := range samples {
		samples[i] = float32(math.Sin(float64(i) * 0.01))
	}
	a, err := e.Extract(samples, testRate)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Extract(samples, testRate)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("value %d differs between runs", i)
		}
	}
}

func TestExtract_RejectsWrongRate(t *testing.T) {
	e := newTestExtractor(t)
	if _, err := e.Extract(make([]float32, 100), 44100); err == nil {
		t.Error("expected error for 44.1 kHz input")
	}
	if _, err := e.Extract(nil, testRate); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestExtractExpect_ShapeMismatch(t *testing.T) {
	e := newTestExtractor(t)
	want := Shape{Bands: 128, Frames: 469, Channels: 1}

	// A 14 s clip yields fewer frames than the classifier expects.
	_, err := e.ExtractExpect(make([]float32, 14*testRate), testRate, want)
	var sme *ShapeMismatchError
	if !errors.As(err, &sme) {
		t.Fatalf("expected ShapeMismatchError, got %v", err)
	}
	if sme.Got.Frames != 438 || sme.Want != want {
		t.Errorf("got %+v", sme)
	}

	if _, err := e.ExtractExpect(make([]float32, 240000), testRate, want); err != nil {
		t.Errorf("matching shape should pass: %v", err)
	}
}

func TestNewExtractor_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"zero rate", func(c *Config) { c.SampleRate = 0 }},
		{"odd fft", func(c *Config) { c.NFFT = 2047 }},
		{"zero hop", func(c *Config) { c.Hop = 0 }},
		{"no bands", func(c *Config) { c.Bands = 0 }},
		{"fmax above nyquist", func(c *Config) { c.FMax = 9000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(testRate)
			tt.mut(&cfg)
			if _, err := NewExtractor(cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
