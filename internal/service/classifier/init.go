package classifier

import (
	"math"
	"math/rand/v2"
	"time"

	"audio-authenticity-service/internal/service/features"
)

// Init builds a model with Keras default initialisation: Glorot-uniform
// kernels and zero biases, drawn from a PCG source seeded with seed. The same
// seed always yields the same weights.
func Init(input features.Shape, seed uint64, meta Metadata) (*Model, error) {
	if err := checkInput(input); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	flat := FlattenSize(input)
	taps := kernelSize * kernelSize
	return New(input, Weights{
		Conv1Kernel:  glorot(rng, taps*input.Channels*ConvFilters, taps*input.Channels, taps*ConvFilters),
		Conv1Bias:    make([]float32, ConvFilters),
		Conv2Kernel:  glorot(rng, taps*ConvFilters*ConvFilters, taps*ConvFilters, taps*ConvFilters),
		Conv2Bias:    make([]float32, ConvFilters),
		Dense1Kernel: glorot(rng, flat*Dense1Units, flat, Dense1Units),
		Dense1Bias:   make([]float32, Dense1Units),
		Dense2Kernel: glorot(rng, Dense1Units*Dense2Units, Dense1Units, Dense2Units),
		Dense2Bias:   make([]float32, Dense2Units),
		Dense3Kernel: glorot(rng, Dense2Units, Dense2Units, 1),
		Dense3Bias:   make([]float32, 1),
	}, meta)
}

func glorot(rng *rand.Rand, n, fanIn, fanOut int) []float32 {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	w := make([]float32, n)
	for i := range w {
		w[i] = float32((rng.Float64()*2 - 1) * limit)
	}
	return w
}
