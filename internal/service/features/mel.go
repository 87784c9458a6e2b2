package features

import "math"

// Slaney mel scale: linear below 1 kHz, logarithmic above.
const (
	melFSp      = 200.0 / 3
	melMinLogHz = 1000.0
	melMinLog   = melMinLogHz / melFSp
)

var melLogStep = math.Log(6.4) / 27.0

func hzToMel(hz float64) float64 {
	if hz >= melMinLogHz {
		return melMinLog + math.Log(hz/melMinLogHz)/melLogStep
	}
	return hz / melFSp
}

func melToHz(mel float64) float64 {
	if mel >= melMinLog {
		return melMinLogHz * math.Exp(melLogStep*(mel-melMinLog))
	}
	return melFSp * mel
}

// melFilter is one triangular band restricted to its non-zero FFT bins.
type melFilter struct {
	start   int
	weights []float64
}

// melFilterbank builds bands Slaney-normalised triangular filters over the
// nFFT/2+1 bins of a real FFT.
func melFilterbank(sampleRate, nFFT, bands int, fmin, fmax float64) []melFilter {
	bins := nFFT/2 + 1
	fftFreqs := make([]float64, bins)
	for i := range fftFreqs {
		fftFreqs[i] = float64(i) * float64(sampleRate) / float64(nFFT)
	}

	// bands+2 edge frequencies evenly spaced on the mel axis.
	lo, hi := hzToMel(fmin), hzToMel(fmax)
	edges := make([]float64, bands+2)
	for i := range edges {
		edges[i] = melToHz(lo + (hi-lo)*float64(i)/float64(bands+1))
	}

	filters := make([]melFilter, bands)
	for m := 0; m < bands; m++ {
		left, center, right := edges[m], edges[m+1], edges[m+2]
		norm := 2.0 / (right - left)

		row := make([]float64, bins)
		first, last := -1, -1
		for k, f := range fftFreqs {
			lower := (f - left) / (center - left)
			upper := (right - f) / (right - center)
			w := math.Max(0, math.Min(lower, upper))
			if w > 0 {
				row[k] = w * norm
				if first < 0 {
					first = k
				}
				last = k
			}
		}
		if first < 0 {
			filters[m] = melFilter{}
			continue
		}
		filters[m] = melFilter{start: first, weights: row[first : last+1]}
	}
	return filters
}

func (f melFilter) apply(power []float64) float64 {
	var sum float64
	for i, w := range f.weights {
		sum += w * power[f.start+i]
	}
	return sum
}
