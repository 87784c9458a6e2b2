package classifier

import (
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"audio-authenticity-service/internal/service/features"
)

var tinyShape = features.Shape{Bands: 5, Frames: 7, Channels: 1}

func tinyModel(t *testing.T, seed uint64) *Model {
	t.Helper()
	m, err := Init(tinyShape, seed, Metadata{Name: "tiny", Version: "test-1"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return m
}

func randomTensor(shape features.Shape, seed uint64) *features.Tensor {
	rng := rand.New(rand.NewPCG(seed, 1))
	t := features.NewTensor(shape)
	for i := range t.Data {
		t.Data[i] = float32(rng.Float64() * 4)
	}
	return t
}

// referenceForward is a direct, index-by-index rendering of the topology used
// to cross-check the optimised layers.
func referenceForward(m *Model, x *features.Tensor) float64 {
	h, w := x.Shape.Bands, x.Shape.Frames
	conv := func(c conv2D, in []float64) []float64 {
		out := make([]float64, h*w*c.out)
		for y := 0; y < h; y++ {
			for xx := 0; xx < w; xx++ {
				for co := 0; co < c.out; co++ {
					sum := float64(c.bias[co])
					for ky := 0; ky < 3; ky++ {
						for kx := 0; kx < 3; kx++ {
							sy, sx := y+ky-1, xx+kx-1
							if sy < 0 || sy >= h || sx < 0 || sx >= w {
								continue
							}
							for ci := 0; ci < c.in; ci++ {
								wgt := c.kernel[((ky*3+kx)*c.in+ci)*c.out+co]
								sum += in[(sy*w+sx)*c.in+ci] * float64(wgt)
							}
						}
					}
					out[(y*w+xx)*c.out+co] = math.Max(0, sum)
				}
			}
		}
		return out
	}

	in := make([]float64, len(x.Data))
	for i, v := range x.Data {
		in[i] = float64(v)
	}
	a1 := conv(m.conv1, in)
	a2 := conv(m.conv2, a1)

	var flat []float64
	for y := 0; y < h-1; y++ {
		for xx := 0; xx < w-1; xx++ {
			for c := 0; c < ConvFilters; c++ {
				at := func(yy, xxx int) float64 { return a2[(yy*w+xxx)*ConvFilters+c] }
				flat = append(flat, math.Max(math.Max(at(y, xx), at(y, xx+1)), math.Max(at(y+1, xx), at(y+1, xx+1))))
			}
		}
	}

	fc := func(d dense, in []float64, act func(float64) float64) []float64 {
		out := make([]float64, d.out)
		for j := 0; j < d.out; j++ {
			sum := float64(d.bias[j])
			for i := 0; i < d.in; i++ {
				sum += in[i] * float64(d.kernel[i*d.out+j])
			}
			out[j] = act(sum)
		}
		return out
	}
	relu := func(v float64) float64 { return math.Max(0, v) }
	h1 := fc(m.dense1, flat, relu)
	h2 := fc(m.dense2, h1, relu)
	return fc(m.dense3, h2, func(v float64) float64 { return 1 / (1 + math.Exp(-v)) })[0]
}

func TestPredict_MatchesReference(t *testing.T) {
	for seed := uint64(1); seed <= 5; seed++ {
		m := tinyModel(t, seed)
		x := randomTensor(tinyShape, seed)

		got, err := m.PredictOne(x)
		if err != nil {
			t.Fatalf("PredictOne: %v", err)
		}
		want := referenceForward(m, x)
		if math.Abs(got-want) > 1e-5 {
			t.Errorf("seed %d: got %.8f, want %.8f", seed, got, want)
		}
		if got < 0 || got > 1 {
			t.Errorf("seed %d: probability %v outside [0,1]", seed, got)
		}
	}
}

func TestPredict_Deterministic(t *testing.T) {
	m := tinyModel(t, 42)
	x := randomTensor(tinyShape, 7)

	a, err := m.PredictOne(x)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.PredictOne(x)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("repeated inference differs: %v vs %v", a, b)
	}
}

func TestPredict_BatchMatchesSingles(t *testing.T) {
	m := tinyModel(t, 3)
	batch := []*features.Tensor{randomTensor(tinyShape, 1), randomTensor(tinyShape, 2), randomTensor(tinyShape, 3)}

	probs, err := m.Predict(batch)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(probs) != len(batch) {
		t.Fatalf("got %d probabilities for %d inputs", len(probs), len(batch))
	}
	for i, x := range batch {
		single, _ := m.PredictOne(x)
		if probs[i] != single {
			t.Errorf("item %d: batch %v, single %v", i, probs[i], single)
		}
	}
}

func TestPredict_ConcurrentCallers(t *testing.T) {
	m := tinyModel(t, 11)
	x := randomTensor(tinyShape, 5)
	want, err := m.PredictOne(x)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := m.PredictOne(x)
			if err != nil || got != want {
				errs <- "concurrent prediction diverged"
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestPredict_DoesNotMutateInput(t *testing.T) {
	m := tinyModel(t, 9)
	x := randomTensor(tinyShape, 9)
	before := append([]float32(nil), x.Data...)
	if _, err := m.PredictOne(x); err != nil {
		t.Fatal(err)
	}
	for i := range before {
		if x.Data[i] != before[i] {
			t.Fatalf("input value %d modified", i)
		}
	}
}

func TestPredict_Errors(t *testing.T) {
	m := tinyModel(t, 1)

	if _, err := m.Predict(nil); err == nil {
		t.Error("empty batch should fail")
	}

	wrong := features.NewTensor(features.Shape{Bands: 5, Frames: 6, Channels: 1})
	_, err := m.PredictOne(wrong)
	var sme *features.ShapeMismatchError
	if !errors.As(err, &sme) {
		t.Errorf("expected ShapeMismatchError, got %v", err)
	}
}

func TestPredict_KnownBias(t *testing.T) {
	// With all kernels zero the output is sigmoid(dense3 bias).
	w := Weights{
		Conv1Kernel:  make([]float32, 9*ConvFilters),
		Conv1Bias:    make([]float32, ConvFilters),
		Conv2Kernel:  make([]float32, 9*ConvFilters*ConvFilters),
		Conv2Bias:    make([]float32, ConvFilters),
		Dense1Kernel: make([]float32, FlattenSize(tinyShape)*Dense1Units),
		Dense1Bias:   make([]float32, Dense1Units),
		Dense2Kernel: make([]float32, Dense1Units*Dense2Units),
		Dense2Bias:   make([]float32, Dense2Units),
		Dense3Kernel: make([]float32, Dense2Units),
		Dense3Bias:   []float32{float32(math.Log(3))},
	}
	m, err := New(tinyShape, w, Metadata{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := m.PredictOne(randomTensor(tinyShape, 2))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-0.75) > 1e-6 {
		t.Errorf("got %v, want 0.75", got)
	}
}

func TestMaxPool_StrideOne(t *testing.T) {
	// 3x3 single-channel input yields a 2x2 output.
	src := []float32{
		1, 5, 2,
		3, 0, 4,
		9, 1, 1,
	}
	dst := make([]float32, 4)
	maxPool2x2(dst, src, 3, 3, 1)
	want := []float32{5, 5, 9, 4}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("pool[%d] = %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestFlattenSize(t *testing.T) {
	got := FlattenSize(features.Shape{Bands: 128, Frames: 469, Channels: 1})
	if got != 127*468*16 {
		t.Errorf("FlattenSize = %d, want %d", got, 127*468*16)
	}
}

func TestNew_RejectsInconsistentLayers(t *testing.T) {
	m := tinyModel(t, 1)
	w := Weights{
		Conv1Kernel: m.conv1.kernel, Conv1Bias: m.conv1.bias,
		Conv2Kernel: m.conv2.kernel, Conv2Bias: m.conv2.bias,
		Dense1Kernel: m.dense1.kernel[:len(m.dense1.kernel)-1], Dense1Bias: m.dense1.bias,
		Dense2Kernel: m.dense2.kernel, Dense2Bias: m.dense2.bias,
		Dense3Kernel: m.dense3.kernel, Dense3Bias: m.dense3.bias,
	}
	if _, err := New(tinyShape, w, Metadata{}); err == nil {
		t.Error("short dense1 kernel should be rejected")
	}
	if _, err := Init(features.Shape{Bands: 1, Frames: 10, Channels: 1}, 1, Metadata{}); err == nil {
		t.Error("single-band input should be rejected")
	}
}

func TestInit_SeedReproducible(t *testing.T) {
	a := tinyModel(t, 77)
	b := tinyModel(t, 77)
	c := tinyModel(t, 78)
	for i := range a.dense1.kernel {
		if a.dense1.kernel[i] != b.dense1.kernel[i] {
			t.Fatal("same seed produced different weights")
		}
	}
	same := true
	for i := range a.dense1.kernel {
		if a.dense1.kernel[i] != c.dense1.kernel[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical weights")
	}

	limit := float32(math.Sqrt(6.0 / float64(FlattenSize(tinyShape)+Dense1Units)))
	for _, v := range a.dense1.kernel {
		if v < -limit || v > limit {
			t.Fatalf("weight %v outside glorot limit %v", v, limit)
		}
	}
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models", "tiny.msgpack")

	m := tinyModel(t, 21)
	if err := Save(path, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.InputShape() != tinyShape || loaded.Version() != "test-1" || loaded.Name() != "tiny" {
		t.Errorf("metadata not preserved: %s %q %q", loaded.InputShape(), loaded.Version(), loaded.Name())
	}
	x := randomTensor(tinyShape, 4)
	p1, _ := m.PredictOne(x)
	p2, _ := loaded.PredictOne(x)
	if p1 != p2 {
		t.Errorf("loaded model predicts %v, original %v", p2, p1)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the artifact in the model dir, found %d entries", len(entries))
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.msgpack"))
	var nf *ModelNotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected ModelNotFoundError, got %v", err)
	}

	garbage := filepath.Join(dir, "garbage.msgpack")
	if err := os.WriteFile(garbage, []byte{0xc1, 0x00, 0x01}, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = Load(garbage)
	var le *ModelLoadError
	if !errors.As(err, &le) {
		t.Errorf("expected ModelLoadError for garbage, got %v", err)
	}
}

func TestLoad_RejectsTransposedKernel(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*artifactLayers)
	}{
		{"dense transposed", func(l *artifactLayers) {
			s := l.Dense2.KernelShape
			l.Dense2.KernelShape = []int{s[1], s[0]}
		}},
		{"conv channels swapped", func(l *artifactLayers) {
			s := l.Conv1.KernelShape
			l.Conv1.KernelShape = []int{s[0], s[1], s[3], s[2]}
		}},
		{"shape missing", func(l *artifactLayers) {
			l.Dense3.KernelShape = nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tinyModel(t, 3).artifact()
			tt.mutate(&a.Layers)

			path := filepath.Join(t.TempDir(), "model.msgpack")
			data, err := msgpack.Marshal(a)
			if err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				t.Fatal(err)
			}

			_, err = Load(path)
			var le *ModelLoadError
			if !errors.As(err, &le) {
				t.Fatalf("expected ModelLoadError, got %v", err)
			}
		})
	}
}

func TestLoad_FullSizeModel(t *testing.T) {
	if testing.Short() {
		t.Skip("full-size model allocates ~120 MB of weights")
	}
	shape := features.Shape{Bands: 128, Frames: 469, Channels: 1}
	m, err := Init(shape, 1, Metadata{Version: "smoke"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	p, err := m.PredictOne(features.NewTensor(shape))
	if err != nil {
		t.Fatalf("PredictOne: %v", err)
	}
	// Zero input and zero biases leave every activation at zero.
	if p != 0.5 {
		t.Errorf("probability for silence = %v, want 0.5", p)
	}
}
