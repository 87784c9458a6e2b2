// Package mock provides a stand-in classifier for tests that need the
// pipeline or HTTP layer without a trained artifact.
package mock

import (
	"fmt"
	"math"
	"sync/atomic"

	"audio-authenticity-service/internal/service/features"
)

// Classifier implements classifier.Predictor.
//
// If Probability is set it is returned for every tensor. Otherwise the score
// is derived from the tensor's mean energy, so louder inputs lean "real" and
// silence scores exactly 0.5.
type Classifier struct {
	Shape       features.Shape
	ModelName   string
	Probability *float64
	Err         error // returned from Predict when non-nil

	calls atomic.Int64
}

// New returns a mock built for shape.
func New(shape features.Shape) *Classifier {
	return &Classifier{Shape: shape, ModelName: "mock-1"}
}

// Fixed returns a mock that always reports p.
func Fixed(shape features.Shape, p float64) *Classifier {
	c := New(shape)
	c.Probability = &p
	return c
}

// Predict implements classifier.Predictor.
func (c *Classifier) Predict(batch []*features.Tensor) ([]float64, error) {
	c.calls.Add(1)
	if c.Err != nil {
		return nil, c.Err
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("predict: empty batch")
	}

	out := make([]float64, len(batch))
	for i, t := range batch {
		if err := t.Validate(c.Shape); err != nil {
			return nil, err
		}
		if c.Probability != nil {
			out[i] = *c.Probability
			continue
		}
		var sum float64
		for _, v := range t.Data {
			sum += float64(v)
		}
		mean := sum / float64(len(t.Data))
		out[i] = 1 / (1 + math.Exp(-mean))
	}
	return out, nil
}

// InputShape implements classifier.Predictor.
func (c *Classifier) InputShape() features.Shape { return c.Shape }

// Version implements classifier.Predictor.
func (c *Classifier) Version() string { return c.ModelName }

// Calls reports how many times Predict was invoked.
func (c *Classifier) Calls() int64 { return c.calls.Load() }
