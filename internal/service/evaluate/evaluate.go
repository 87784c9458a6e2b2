// Package evaluate scores classifier output against labelled clips.
package evaluate

import (
	"fmt"
	"math"

	"audio-authenticity-service/internal/service/decision"
)

// epsilon clips probabilities before taking logs, as Keras does.
const epsilon = 1e-7

// Confusion accumulates outcomes with "real" as the positive class.
type Confusion struct {
	TruePositive  int
	FalsePositive int
	TrueNegative  int
	FalseNegative int

	lossSum float64
}

// Add records one clip with its true label and predicted probability.
func (c *Confusion) Add(label string, probability float64) error {
	if !decision.IsValidLabel(label) {
		return fmt.Errorf("unknown label %q", label)
	}
	if probability < 0 || probability > 1 || math.IsNaN(probability) {
		return fmt.Errorf("probability %v outside [0,1]", probability)
	}

	actualReal := label == decision.LabelReal
	predictedReal := decision.Label(probability) == decision.LabelReal
	switch {
	case actualReal && predictedReal:
		c.TruePositive++
	case actualReal:
		c.FalseNegative++
	case predictedReal:
		c.FalsePositive++
	default:
		c.TrueNegative++
	}

	p := math.Min(math.Max(probability, epsilon), 1-epsilon)
	if actualReal {
		c.lossSum -= math.Log(p)
	} else {
		c.lossSum -= math.Log(1 - p)
	}
	return nil
}

// Total is the number of recorded clips.
func (c *Confusion) Total() int {
	return c.TruePositive + c.FalsePositive + c.TrueNegative + c.FalseNegative
}

// Accuracy is the fraction of clips labelled correctly.
func (c *Confusion) Accuracy() float64 {
	return ratio(c.TruePositive+c.TrueNegative, c.Total())
}

// Precision is TP / (TP + FP).
func (c *Confusion) Precision() float64 {
	return ratio(c.TruePositive, c.TruePositive+c.FalsePositive)
}

// Recall is TP / (TP + FN).
func (c *Confusion) Recall() float64 {
	return ratio(c.TruePositive, c.TruePositive+c.FalseNegative)
}

// Loss is the mean binary cross-entropy.
func (c *Confusion) Loss() float64 {
	if c.Total() == 0 {
		return 0
	}
	return c.lossSum / float64(c.Total())
}

// Report is a snapshot of every metric.
type Report struct {
	Total     int     `json:"total"`
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	Loss      float64 `json:"loss"`
}

// Report returns the current metrics.
func (c *Confusion) Report() Report {
	return Report{
		Total:     c.Total(),
		Accuracy:  c.Accuracy(),
		Precision: c.Precision(),
		Recall:    c.Recall(),
		Loss:      c.Loss(),
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
