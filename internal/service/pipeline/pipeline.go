// Package pipeline wires the loader, normaliser, extractor and classifier
// into the two operations the service exposes: feature extraction and
// inference. Data preparation and serving both go through it, so a clip is
// transformed identically in either path.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"audio-authenticity-service/internal/observability/metrics"
	"audio-authenticity-service/internal/service/audio"
	"audio-authenticity-service/internal/service/classifier"
	"audio-authenticity-service/internal/service/decision"
	"audio-authenticity-service/internal/service/features"
)

// Source is an audio input: either a file path or uploaded bytes with the
// client's file name.
type Source struct {
	Path     string
	Data     []byte
	Filename string
}

// FromPath returns a Source for a file on disk.
func FromPath(path string) Source {
	return Source{Path: path}
}

// FromBytes returns a Source for an in-memory upload.
func FromBytes(data []byte, filename string) Source {
	return Source{Data: data, Filename: filename}
}

// Name is the file name used for format detection and reporting.
func (s Source) Name() string {
	if s.Path != "" {
		return filepath.Base(s.Path)
	}
	return s.Filename
}

// Config holds pipeline settings.
type Config struct {
	ClipDuration time.Duration
	Loader       audio.LoaderConfig
	Metrics      *metrics.Metrics // optional
}

// Pipeline runs clips through decode, normalise, extract and infer. It keeps
// no per-call state and is safe for concurrent use.
type Pipeline struct {
	loader    *audio.Loader
	extractor *features.Extractor
	target    int
	shape     features.Shape
	metrics   *metrics.Metrics
}

// New builds a Pipeline for clips of cfg.ClipDuration at audio.SampleRate.
func New(cfg Config) (*Pipeline, error) {
	if cfg.ClipDuration <= 0 {
		cfg.ClipDuration = audio.DefaultClipDuration
	}
	target := audio.TargetSamples(cfg.ClipDuration, audio.SampleRate)
	if target <= 0 {
		return nil, fmt.Errorf("clip duration %v is too short", cfg.ClipDuration)
	}

	fcfg := features.DefaultConfig(audio.SampleRate)
	extractor, err := features.NewExtractor(fcfg)
	if err != nil {
		return nil, fmt.Errorf("create extractor: %w", err)
	}

	return &Pipeline{
		loader:    audio.NewLoader(cfg.Loader),
		extractor: extractor,
		target:    target,
		shape:     fcfg.ShapeFor(target),
		metrics:   cfg.Metrics,
	}, nil
}

// ExpectedShape is the tensor shape produced for every clip, (128, 469, 1)
// for 15 s clips.
func (p *Pipeline) ExpectedShape() features.Shape {
	return p.shape
}

// TargetSamples is the normalised clip length in samples.
func (p *Pipeline) TargetSamples() int {
	return p.target
}

// Extractor returns the shared spectrogram extractor.
func (p *Pipeline) Extractor() *features.Extractor {
	return p.extractor
}

// Loader returns the shared waveform loader.
func (p *Pipeline) Loader() *audio.Loader {
	return p.loader
}

// CheckModel fails with a *features.ShapeMismatchError when model was built
// for a different input shape than this pipeline produces.
func (p *Pipeline) CheckModel(model classifier.Predictor) error {
	if got := model.InputShape(); got != p.shape {
		return &features.ShapeMismatchError{Got: p.shape, Want: got}
	}
	return nil
}

// ExtractFeatures decodes src, normalises it to the clip length and returns
// its spectrogram tensor.
func (p *Pipeline) ExtractFeatures(ctx context.Context, src Source) (*features.Tensor, error) {
	t, _, err := p.extract(ctx, src, nil)
	return t, err
}

// FromWaveform normalises an already decoded waveform and extracts its
// spectrogram. Chunking uses it so chunks and uploads share one transform.
func (p *Pipeline) FromWaveform(w *audio.Waveform) (*features.Tensor, error) {
	clip := audio.FixLength(w.Samples, p.target)
	return p.extractor.ExtractExpect(clip, w.SampleRate, p.shape)
}

// Infer scores one tensor as a batch of one and applies the decision rule.
func Infer(model classifier.Predictor, t *features.Tensor) (float64, string, error) {
	if model == nil {
		return 0, "", fmt.Errorf("no classifier loaded")
	}
	probs, err := model.Predict([]*features.Tensor{t})
	if err != nil {
		return 0, "", err
	}
	if len(probs) != 1 {
		return 0, "", fmt.Errorf("classifier returned %d scores for one input", len(probs))
	}
	prob := probs[0]
	if math.IsNaN(prob) || prob < 0 || prob > 1 {
		return 0, "", fmt.Errorf("classifier returned probability %v outside [0,1]", prob)
	}
	return prob, decision.Label(prob), nil
}

// Result is the outcome of Run.
type Result struct {
	decision.Prediction
	Filename      string
	SourceSamples int // decoded length before normalisation
	Timings       map[Stage]time.Duration
	Elapsed       time.Duration
}

// Run performs ExtractFeatures, Infer and the decision rule. On failure the
// error is a *StageError naming the stage that failed.
func (p *Pipeline) Run(ctx context.Context, model classifier.Predictor, src Source) (*Result, error) {
	start := time.Now()
	if p.metrics != nil {
		p.metrics.RecordPredictionStart()
	}

	res, err := p.run(ctx, model, src)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordPredictionFailure(string(StageOf(err)), ErrorType(err))
		}
		return nil, err
	}

	res.Elapsed = time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordPredictionSuccess(res.Label, res.Probability, res.Elapsed.Seconds())
	}
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, model classifier.Predictor, src Source) (*Result, error) {
	timings := make(map[Stage]time.Duration, 3)
	tensor, sourceSamples, err := p.extract(ctx, src, timings)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &StageError{Stage: StageInfer, Err: err}
	}

	start := time.Now()
	prob, _, err := Infer(model, tensor)
	p.observe(timings, StageInfer, time.Since(start))
	if err != nil {
		return nil, &StageError{Stage: StageInfer, Err: err}
	}

	log.Debug().
		Str("source", src.Name()).
		Float64("probability", prob).
		Dur("decode", timings[StageDecode]).
		Dur("extract", timings[StageExtract]).
		Dur("infer", timings[StageInfer]).
		Msg("Clip classified")

	return &Result{
		Prediction:    decision.Decide(prob),
		Filename:      src.Name(),
		SourceSamples: sourceSamples,
		Timings:       timings,
	}, nil
}

func (p *Pipeline) extract(ctx context.Context, src Source, timings map[Stage]time.Duration) (*features.Tensor, int, error) {
	// Reject unsupported extensions before any I/O.
	if _, err := audio.FormatFromName(src.Name()); err != nil {
		return nil, 0, &StageError{Stage: StageValidate, Err: err}
	}

	start := time.Now()
	var (
		wave *audio.Waveform
		err  error
	)
	if src.Path != "" {
		wave, err = p.loader.LoadFile(ctx, src.Path)
	} else {
		wave, err = p.loader.LoadBytes(ctx, src.Data, src.Filename)
	}
	p.observe(timings, StageDecode, time.Since(start))
	if err != nil {
		return nil, 0, &StageError{Stage: StageDecode, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, &StageError{Stage: StageExtract, Err: err}
	}

	start = time.Now()
	tensor, err := p.FromWaveform(wave)
	p.observe(timings, StageExtract, time.Since(start))
	if err != nil {
		return nil, 0, &StageError{Stage: StageExtract, Err: err}
	}
	return tensor, len(wave.Samples), nil
}

func (p *Pipeline) observe(timings map[Stage]time.Duration, stage Stage, d time.Duration) {
	if timings != nil {
		timings[stage] = d
	}
	if p.metrics != nil {
		p.metrics.RecordStage(string(stage), d.Seconds())
	}
}
