// Package features turns fixed-length waveforms into the mel power
// spectrogram tensors consumed by the classifier.
package features

import (
	"fmt"
)

// Shape is the (bands, frames, channels) extent of a spectrogram tensor.
type Shape struct {
	Bands    int `msgpack:"bands" json:"bands"`
	Frames   int `msgpack:"frames" json:"frames"`
	Channels int `msgpack:"channels" json:"channels"`
}

// Len returns the number of elements in a tensor of this shape.
func (s Shape) Len() int {
	return s.Bands * s.Frames * s.Channels
}

// Valid reports whether every dimension is positive.
func (s Shape) Valid() bool {
	return s.Bands > 0 && s.Frames > 0 && s.Channels > 0
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s.Bands, s.Frames, s.Channels)
}

// Tensor is a row-major [band][frame][channel] float32 array.
type Tensor struct {
	Shape Shape     `msgpack:"shape" json:"shape"`
	Data  []float32 `msgpack:"data" json:"-"`
}

// NewTensor allocates a zeroed tensor.
func NewTensor(shape Shape) *Tensor {
	return &Tensor{Shape: shape, Data: make([]float32, shape.Len())}
}

func (t *Tensor) index(band, frame, channel int) int {
	return (band*t.Shape.Frames+frame)*t.Shape.Channels + channel
}

// At returns the value at (band, frame, channel).
func (t *Tensor) At(band, frame, channel int) float32 {
	return t.Data[t.index(band, frame, channel)]
}

// Set stores v at (band, frame, channel).
func (t *Tensor) Set(band, frame, channel int, v float32) {
	t.Data[t.index(band, frame, channel)] = v
}

// FrameEnergy sums every band of one frame.
func (t *Tensor) FrameEnergy(frame int) float64 {
	var sum float64
	for b := 0; b < t.Shape.Bands; b++ {
		for c := 0; c < t.Shape.Channels; c++ {
			sum += float64(t.At(b, frame, c))
		}
	}
	return sum
}

// Validate checks the tensor against want. It never reshapes or crops.
func (t *Tensor) Validate(want Shape) error {
	if t == nil {
		return fmt.Errorf("nil tensor")
	}
	if t.Shape != want {
		return &ShapeMismatchError{Got: t.Shape, Want: want}
	}
	if len(t.Data) != want.Len() {
		return fmt.Errorf("tensor data has %d values, shape %s needs %d", len(t.Data), want, want.Len())
	}
	return nil
}

// ShapeMismatchError reports a spectrogram whose shape differs from the
// classifier's input layer, which means the clip duration or sample rate
// drifted between data preparation and serving.
type ShapeMismatchError struct {
	Got  Shape
	Want Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("spectrogram shape %s does not match classifier input %s", e.Got, e.Want)
}
