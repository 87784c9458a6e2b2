// Package decision turns a classifier probability into a label and a
// confidence score.
package decision

import "math"

// Labels.
const (
	LabelReal = "real"
	LabelFake = "fake"
)

// Threshold is the probability at or above which a clip is labelled real.
const Threshold = 0.5

// Prediction is the outcome for one clip.
type Prediction struct {
	Probability float64 `json:"probability"`
	Label       string  `json:"prediction"`
	Confidence  float64 `json:"confidence"`
}

// Decide labels p. A probability of exactly 0.5 is real. Confidence is the
// distance from the threshold rescaled to [0, 1].
func Decide(p float64) Prediction {
	return Prediction{
		Probability: p,
		Label:       Label(p),
		Confidence:  Confidence(p),
	}
}

// Label returns LabelReal when p >= Threshold, LabelFake otherwise.
func Label(p float64) string {
	if p >= Threshold {
		return LabelReal
	}
	return LabelFake
}

// Confidence returns |p - 0.5| * 2.
func Confidence(p float64) float64 {
	return math.Abs(p-Threshold) * 2
}

// IsValidLabel reports whether s is one of the two labels.
func IsValidLabel(s string) bool {
	return s == LabelReal || s == LabelFake
}

// Round4 rounds v to four decimal places, half away from zero.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Rounded returns a copy with probability and confidence rounded for
// presentation.
func (p Prediction) Rounded() Prediction {
	return Prediction{
		Probability: Round4(p.Probability),
		Label:       p.Label,
		Confidence:  Round4(p.Confidence),
	}
}
