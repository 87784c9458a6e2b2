// Package classifier implements the fixed convolutional network that maps a
// mel spectrogram tensor to the probability that the clip is real.
//
// Topology:
//
//	input (bands, frames, 1)
//	conv 16@3x3 same, ReLU
//	conv 16@3x3 same, ReLU
//	max-pool 2x2, stride 1, valid
//	flatten
//	dense 32, ReLU
//	dense 16, ReLU
//	dense 1, sigmoid
//
// The stride-1 pool does not downsample. It is kept because stored weights
// are only compatible with the exact flatten size it produces.
package classifier

import (
	"fmt"
	"time"

	"audio-authenticity-service/internal/service/features"
)

// Layer widths of the fixed topology.
const (
	ConvFilters = 16
	Dense1Units = 32
	Dense2Units = 16
)

// Predictor is anything that can score a batch of spectrogram tensors.
type Predictor interface {
	// Predict returns one probability per tensor. The batch must not be empty.
	Predict(batch []*features.Tensor) ([]float64, error)

	// InputShape is the tensor shape the input layer was built for.
	InputShape() features.Shape

	// Version identifies the loaded weights.
	Version() string
}

// Model is a loaded classifier. It is immutable after construction; Predict
// allocates its own scratch space so one Model can serve concurrent callers.
type Model struct {
	name      string
	version   string
	createdAt time.Time
	input     features.Shape

	conv1  conv2D
	conv2  conv2D
	dense1 dense
	dense2 dense
	dense3 dense
}

// Weights holds the raw parameters of every layer in Keras layout.
type Weights struct {
	Conv1Kernel, Conv1Bias   []float32
	Conv2Kernel, Conv2Bias   []float32
	Dense1Kernel, Dense1Bias []float32
	Dense2Kernel, Dense2Bias []float32
	Dense3Kernel, Dense3Bias []float32
}

// Metadata describes a model artifact.
type Metadata struct {
	Name      string
	Version   string
	CreatedAt time.Time
}

// FlattenSize is the length of the vector fed to the first dense layer for
// the given input shape.
func FlattenSize(input features.Shape) int {
	return (input.Bands - 1) * (input.Frames - 1) * ConvFilters
}

// New assembles a model and checks every layer against the topology implied
// by input.
func New(input features.Shape, w Weights, meta Metadata) (*Model, error) {
	if err := checkInput(input); err != nil {
		return nil, err
	}

	m := &Model{
		name:      meta.Name,
		version:   meta.Version,
		createdAt: meta.CreatedAt,
		input:     input,
		conv1:     conv2D{in: input.Channels, out: ConvFilters, kernel: w.Conv1Kernel, bias: w.Conv1Bias},
		conv2:     conv2D{in: ConvFilters, out: ConvFilters, kernel: w.Conv2Kernel, bias: w.Conv2Bias},
		dense1:    dense{in: FlattenSize(input), out: Dense1Units, kernel: w.Dense1Kernel, bias: w.Dense1Bias},
		dense2:    dense{in: Dense1Units, out: Dense2Units, kernel: w.Dense2Kernel, bias: w.Dense2Bias},
		dense3:    dense{in: Dense2Units, out: 1, kernel: w.Dense3Kernel, bias: w.Dense3Bias},
	}

	checks := []struct {
		name string
		fn   func(string) error
	}{
		{"conv1", m.conv1.check},
		{"conv2", m.conv2.check},
		{"dense1", m.dense1.check},
		{"dense2", m.dense2.check},
		{"dense3", m.dense3.check},
	}
	for _, c := range checks {
		if err := c.fn(c.name); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func checkInput(input features.Shape) error {
	if input.Bands < 2 || input.Frames < 2 || input.Channels != 1 {
		return fmt.Errorf("unsupported input shape %s", input)
	}
	return nil
}

// InputShape implements Predictor.
func (m *Model) InputShape() features.Shape { return m.input }

// Version implements Predictor.
func (m *Model) Version() string { return m.version }

// Name returns the artifact name.
func (m *Model) Name() string { return m.name }

// CreatedAt returns when the artifact was produced.
func (m *Model) CreatedAt() time.Time { return m.createdAt }

// Predict scores every tensor in batch.
func (m *Model) Predict(batch []*features.Tensor) ([]float64, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("predict: empty batch")
	}
	for i, t := range batch {
		if err := t.Validate(m.input); err != nil {
			return nil, fmt.Errorf("predict: batch item %d: %w", i, err)
		}
	}

	s := m.newScratch()
	probs := make([]float64, len(batch))
	for i, t := range batch {
		probs[i] = m.forward(t.Data, s)
	}
	return probs, nil
}

// PredictOne scores a single tensor as a batch of one.
func (m *Model) PredictOne(t *features.Tensor) (float64, error) {
	probs, err := m.Predict([]*features.Tensor{t})
	if err != nil {
		return 0, err
	}
	return probs[0], nil
}

type scratch struct {
	act1, act2, pooled []float32
	hidden1, hidden2   []float32
}

func (m *Model) newScratch() *scratch {
	h, w := m.input.Bands, m.input.Frames
	return &scratch{
		act1:    make([]float32, h*w*ConvFilters),
		act2:    make([]float32, h*w*ConvFilters),
		pooled:  make([]float32, FlattenSize(m.input)),
		hidden1: make([]float32, Dense1Units),
		hidden2: make([]float32, Dense2Units),
	}
}

func (m *Model) forward(x []float32, s *scratch) float64 {
	h, w := m.input.Bands, m.input.Frames
	m.conv1.forward(s.act1, x, h, w)
	m.conv2.forward(s.act2, s.act1, h, w)
	maxPool2x2(s.pooled, s.act2, h, w, ConvFilters)

	reluInto(s.hidden1, m.dense1.forward(s.pooled))
	reluInto(s.hidden2, m.dense2.forward(s.hidden1))
	return sigmoid(m.dense3.forward(s.hidden2)[0])
}
