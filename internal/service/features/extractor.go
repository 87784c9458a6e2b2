package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Reference transform parameters. They fix the frame count for a given clip
// length and must match the values the classifier was trained with.
const (
	Bands    = 128
	FMin     = 0.0
	FMax     = 8000.0
	NFFT     = 2048
	HopSize  = 512
	Channels = 1
)

// Config describes a mel spectrogram transform.
type Config struct {
	SampleRate int
	NFFT       int
	Hop        int
	Bands      int
	FMin       float64
	FMax       float64
}

// DefaultConfig returns the reference transform for 16 kHz audio.
func DefaultConfig(sampleRate int) Config {
	return Config{
		SampleRate: sampleRate,
		NFFT:       NFFT,
		Hop:        HopSize,
		Bands:      Bands,
		FMin:       FMin,
		FMax:       FMax,
	}
}

// FrameCount is the number of centred STFT frames for n samples.
func FrameCount(n, hop int) int {
	return 1 + n/hop
}

// ShapeFor returns the tensor shape produced for a clip of n samples.
func (c Config) ShapeFor(n int) Shape {
	return Shape{Bands: c.Bands, Frames: FrameCount(n, c.Hop), Channels: Channels}
}

// Extractor computes mel power spectrograms. The window and filterbank are
// built once and only read afterwards, so an Extractor is safe for concurrent
// use.
type Extractor struct {
	cfg     Config
	window  []float64
	filters []melFilter
}

// NewExtractor validates cfg and precomputes the window and filterbank.
func NewExtractor(cfg Config) (*Extractor, error) {
	switch {
	case cfg.SampleRate <= 0:
		return nil, fmt.Errorf("invalid sample rate %d", cfg.SampleRate)
	case cfg.NFFT <= 0 || cfg.NFFT%2 != 0:
		return nil, fmt.Errorf("FFT size must be positive and even, got %d", cfg.NFFT)
	case cfg.Hop <= 0:
		return nil, fmt.Errorf("invalid hop %d", cfg.Hop)
	case cfg.Bands <= 0:
		return nil, fmt.Errorf("invalid band count %d", cfg.Bands)
	case cfg.FMax <= cfg.FMin || cfg.FMax > float64(cfg.SampleRate)/2:
		return nil, fmt.Errorf("invalid frequency range %.0f-%.0f Hz for %d Hz audio", cfg.FMin, cfg.FMax, cfg.SampleRate)
	}

	return &Extractor{
		cfg:     cfg,
		window:  hannWindow(cfg.NFFT),
		filters: melFilterbank(cfg.SampleRate, cfg.NFFT, cfg.Bands, cfg.FMin, cfg.FMax),
	}, nil
}

// Config returns the transform parameters.
func (e *Extractor) Config() Config {
	return e.cfg
}

// Extract returns the (bands, frames, 1) mel power spectrogram of samples.
// Frames are centred with n_fft/2 zeros on each side. Values are raw power:
// no log and no normalisation.
func (e *Extractor) Extract(samples []float32, sampleRate int) (*Tensor, error) {
	if sampleRate != e.cfg.SampleRate {
		return nil, fmt.Errorf("waveform is %d Hz, extractor expects %d Hz", sampleRate, e.cfg.SampleRate)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty waveform")
	}

	nfft, hop := e.cfg.NFFT, e.cfg.Hop
	pad := nfft / 2
	shape := e.cfg.ShapeFor(len(samples))
	out := NewTensor(shape)

	// fourier.FFT keeps internal work buffers; one per call.
	fft := fourier.NewFFT(nfft)
	frame := make([]float64, nfft)
	coeffs := make([]complex128, nfft/2+1)
	power := make([]float64, nfft/2+1)

	for t := 0; t < shape.Frames; t++ {
		start := t*hop - pad
		for i := range frame {
			idx := start + i
			if idx < 0 || idx >= len(samples) {
				frame[i] = 0
				continue
			}
			frame[i] = float64(samples[idx]) * e.window[i]
		}

		coeffs = fft.Coefficients(coeffs, frame)
		for k, c := range coeffs {
			re, im := real(c), imag(c)
			power[k] = re*re + im*im
		}

		for m, f := range e.filters {
			out.Set(m, t, 0, float32(f.apply(power)))
		}
	}
	return out, nil
}

// ExtractExpect extracts and checks the result against want. A frame count
// mismatch is detected before any FFT work is done.
func (e *Extractor) ExtractExpect(samples []float32, sampleRate int, want Shape) (*Tensor, error) {
	if got := e.cfg.ShapeFor(len(samples)); got != want {
		return nil, &ShapeMismatchError{Got: got, Want: want}
	}
	t, err := e.Extract(samples, sampleRate)
	if err != nil {
		return nil, err
	}
	if err := t.Validate(want); err != nil {
		return nil, err
	}
	return t, nil
}

// hannWindow is the periodic Hann window used for spectral analysis.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}
