// Package segment prepares training material by cutting long recordings into
// fixed-duration chunks, and names the batches those chunks belong to.
package segment

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"audio-authenticity-service/internal/service/audio"
)

// Split cuts samples into successive non-overlapping windows of target
// samples. Every window goes through audio.FixLength, so the last one is
// zero-padded. A clip shorter than target yields one padded chunk and an
// empty clip yields none.
func Split(samples []float32, target int) [][]float32 {
	if target <= 0 || len(samples) == 0 {
		return nil
	}
	n := (len(samples) + target - 1) / target
	chunks := make([][]float32, 0, n)
	for start := 0; start < len(samples); start += target {
		end := min(start+target, len(samples))
		chunks = append(chunks, audio.FixLength(samples[start:end:end], target))
	}
	return chunks
}

// ChunkName returns the file name for chunk index of the recording filename,
// e.g. chunk_3_interview.wav.
func ChunkName(index int, filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("chunk_%d_%s.wav", index, base)
}

// Generator hands out batch-scoped IDs from a shared counter.
type Generator struct {
	counter uint64
}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) Next(prefix string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-%d", prefix, n)
}
