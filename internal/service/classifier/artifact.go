package classifier

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"audio-authenticity-service/internal/service/features"
)

// ArtifactFormat tags model files written by Save.
const ArtifactFormat = "auralguard-cnn/v1"

type artifact struct {
	Format     string         `msgpack:"format"`
	Version    string         `msgpack:"version"`
	Name       string         `msgpack:"name"`
	CreatedAt  time.Time      `msgpack:"created_at"`
	InputShape features.Shape `msgpack:"input_shape"`
	Layers     artifactLayers `msgpack:"layers"`
}

type artifactLayers struct {
	Conv1  layerParams `msgpack:"conv1"`
	Conv2  layerParams `msgpack:"conv2"`
	Dense1 layerParams `msgpack:"dense1"`
	Dense2 layerParams `msgpack:"dense2"`
	Dense3 layerParams `msgpack:"dense3"`
}

type layerParams struct {
	KernelShape []int     `msgpack:"kernel_shape"`
	Kernel      []float32 `msgpack:"kernel"`
	Bias        []float32 `msgpack:"bias"`
}

// Load reads a model artifact from path.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ModelNotFoundError{Path: path}
		}
		return nil, &ModelLoadError{Path: path, Err: err}
	}
	defer f.Close()

	var a artifact
	if err := msgpack.NewDecoder(bufio.NewReader(f)).Decode(&a); err != nil {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("decode: %w", err)}
	}
	if a.Format != ArtifactFormat {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("unknown artifact format %q", a.Format)}
	}

	m, err := New(a.InputShape, Weights{
		Conv1Kernel: a.Layers.Conv1.Kernel, Conv1Bias: a.Layers.Conv1.Bias,
		Conv2Kernel: a.Layers.Conv2.Kernel, Conv2Bias: a.Layers.Conv2.Bias,
		Dense1Kernel: a.Layers.Dense1.Kernel, Dense1Bias: a.Layers.Dense1.Bias,
		Dense2Kernel: a.Layers.Dense2.Kernel, Dense2Bias: a.Layers.Dense2.Bias,
		Dense3Kernel: a.Layers.Dense3.Kernel, Dense3Bias: a.Layers.Dense3.Bias,
	}, Metadata{Name: a.Name, Version: a.Version, CreatedAt: a.CreatedAt})
	if err != nil {
		return nil, &ModelLoadError{Path: path, Err: err}
	}
	if err := checkKernelShapes(a.Layers, m.artifact().Layers); err != nil {
		return nil, &ModelLoadError{Path: path, Err: err}
	}
	return m, nil
}

// checkKernelShapes rejects kernels stored with a layout other than the
// topology's, even when the element count matches.
func checkKernelShapes(got, want artifactLayers) error {
	layers := []struct {
		name      string
		got, want []int
	}{
		{"conv1", got.Conv1.KernelShape, want.Conv1.KernelShape},
		{"conv2", got.Conv2.KernelShape, want.Conv2.KernelShape},
		{"dense1", got.Dense1.KernelShape, want.Dense1.KernelShape},
		{"dense2", got.Dense2.KernelShape, want.Dense2.KernelShape},
		{"dense3", got.Dense3.KernelShape, want.Dense3.KernelShape},
	}
	for _, l := range layers {
		if !slices.Equal(l.got, l.want) {
			return fmt.Errorf("%s kernel shape %v, topology expects %v", l.name, l.got, l.want)
		}
	}
	return nil
}

// Save writes m to path. The file is written beside path and renamed into
// place so readers never observe a partial artifact.
func Save(path string, m *Model) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create model dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(tmp)
	if err = msgpack.NewEncoder(w).Encode(m.artifact()); err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("install artifact: %w", err)
	}
	return nil
}

func (m *Model) artifact() *artifact {
	conv := func(c conv2D) layerParams {
		return layerParams{KernelShape: []int{kernelSize, kernelSize, c.in, c.out}, Kernel: c.kernel, Bias: c.bias}
	}
	fc := func(d dense) layerParams {
		return layerParams{KernelShape: []int{d.in, d.out}, Kernel: d.kernel, Bias: d.bias}
	}
	return &artifact{
		Format:     ArtifactFormat,
		Version:    m.version,
		Name:       m.name,
		CreatedAt:  m.createdAt,
		InputShape: m.input,
		Layers: artifactLayers{
			Conv1:  conv(m.conv1),
			Conv2:  conv(m.conv2),
			Dense1: fc(m.dense1),
			Dense2: fc(m.dense2),
			Dense3: fc(m.dense3),
		},
	}
}
