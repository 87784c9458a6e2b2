package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"audio-authenticity-service/internal/config"
	"audio-authenticity-service/internal/events"
	"audio-authenticity-service/internal/models"
	"audio-authenticity-service/internal/observability/logging"
	"audio-authenticity-service/internal/observability/metrics"
	"audio-authenticity-service/internal/service/audio"
	"audio-authenticity-service/internal/service/classifier"
	"audio-authenticity-service/internal/service/pipeline"
	"audio-authenticity-service/internal/service/store"
)

// ErrModelNotLoaded is returned by Predict when no classifier is available.
var ErrModelNotLoaded = errors.New("model not loaded")

const sideEffectTimeout = 5 * time.Second

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
	Pipeline    *pipeline.Pipeline
	Store       *store.Store // nil when the store is disabled
	Publisher   *events.Publisher
	Metrics     *metrics.Metrics

	model     classifier.Predictor
	modelPath string

	mu        sync.RWMutex
	listeners []func(models.PredictionCompleted)
}

// Deps are the collaborators New wires together. Nil Publisher means
// log-only publishing.
type Deps struct {
	Model     classifier.Predictor
	ModelPath string
	Store     *store.Store
	Publisher *events.Publisher
	Metrics   *metrics.Metrics
}

// Prediction is the outcome of a successful Predict call.
type Prediction struct {
	RequestID    string
	Result       *pipeline.Result
	Timestamp    time.Time
	ModelVersion string
}

// New constructs an Application. A model whose input shape differs from
// what the configured clip duration produces is rejected.
func New(cfg *config.Config, deps Deps) (*Application, error) {
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	if deps.Publisher == nil {
		deps.Publisher = events.New(nil)
	}

	p, err := pipeline.New(pipeline.Config{
		ClipDuration: cfg.Audio.ClipDuration,
		Loader: audio.LoaderConfig{
			FFmpegBinary: cfg.Audio.FFmpegBinary,
			TempDir:      cfg.Audio.TempDir,
		},
		Metrics: deps.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	a := &Application{
		Logger:    logging.WithComponent("application"),
		Cfg:       cfg,
		Pipeline:  p,
		Store:     deps.Store,
		Publisher: deps.Publisher,
		Metrics:   deps.Metrics,
		model:     deps.Model,
		modelPath: deps.ModelPath,
	}

	if a.model != nil {
		if err := p.CheckModel(a.model); err != nil {
			return nil, fmt.Errorf("model %s: %w", deps.ModelPath, err)
		}
		a.Metrics.SetModel(a.model.Version())
	}

	a.Logger.Info().
		Bool("modelLoaded", a.model != nil).
		Bool("storeEnabled", a.Store != nil).
		Bool("kafkaEnabled", a.Publisher.Enabled()).
		Str("expectedShape", p.ExpectedShape().String()).
		Msg("Audio authenticity application created")
	return a, nil
}

// Bootstrap loads the model artifact, opens the result store and creates the
// event publisher described by cfg. A missing model is tolerated unless
// cfg.Model.Required is set; a model that exists but cannot be loaded is an
// error.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	deps := Deps{ModelPath: cfg.Model.Path}

	model, err := classifier.Load(cfg.Model.Path)
	var notFound *classifier.ModelNotFoundError
	switch {
	case err == nil:
		deps.Model = model
		l := logging.WithModel(cfg.Model.Path, model.Version())
		l.Info().
			Str("name", model.Name()).
			Str("inputShape", model.InputShape().String()).
			Msg("Model loaded")
	case errors.As(err, &notFound) && !cfg.Model.Required:
		l := logging.WithModel(cfg.Model.Path, "")
		l.Warn().Msg("Model artifact not found, serving without a classifier")
	default:
		return nil, err
	}

	if cfg.Store.Enabled {
		s, err := store.Open(ctx, cfg.Store.Path, store.Options{BusyTimeoutMS: cfg.Store.BusyTimeoutMS})
		if err != nil {
			return nil, fmt.Errorf("open result store: %w", err)
		}
		deps.Store = s
	}

	deps.Publisher = events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicCompleted: cfg.Kafka.TopicCompleted,
		TopicFailed:    cfg.Kafka.TopicFailed,
		Principal:      cfg.Kafka.Principal,
	})

	a, err := New(cfg, deps)
	if err != nil {
		if deps.Store != nil {
			_ = deps.Store.Close()
		}
		_ = deps.Publisher.Close()
		return nil, err
	}
	return a, nil
}

// Model returns the loaded classifier, or nil.
func (a *Application) Model() classifier.Predictor {
	return a.model
}

// ModelLoaded reports whether a classifier is available.
func (a *Application) ModelLoaded() bool {
	return a.model != nil
}

// ModelVersion returns the loaded classifier's version, or "".
func (a *Application) ModelVersion() string {
	if a.model == nil {
		return ""
	}
	return a.model.Version()
}

// StoreConnected reports whether the result store is open and reachable.
func (a *Application) StoreConnected(ctx context.Context) bool {
	return a.Store != nil && a.Store.Ping(ctx) == nil
}

// OnCompleted registers fn to receive every completed prediction event.
func (a *Application) OnCompleted(fn func(models.PredictionCompleted)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Predict classifies src under the configured timeout. On success the result
// is stored, published and handed to listeners; failures in those steps are
// logged and do not fail the call.
func (a *Application) Predict(ctx context.Context, requestID string, src pipeline.Source) (*Prediction, error) {
	reqLogger := logging.WithRequest(requestID, src.Name())

	if a.model == nil {
		a.Metrics.RecordPredictionFailure(string(pipeline.StageInfer), "model_not_loaded")
		a.publishFailed(ctx, requestID, src.Name(), pipeline.StageInfer, "model_not_loaded", ErrModelNotLoaded)
		return nil, ErrModelNotLoaded
	}

	if timeout := a.Cfg.Audio.PredictTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := a.Pipeline.Run(ctx, a.model, src)
	if err != nil {
		stage := pipeline.StageOf(err)
		errType := pipeline.ErrorType(err)
		reqLogger.Warn().Err(err).Str("stage", string(stage)).Str("errorType", errType).Msg("Prediction failed")
		a.publishFailed(ctx, requestID, src.Name(), stage, errType, err)
		return nil, err
	}

	out := &Prediction{
		RequestID:    requestID,
		Result:       res,
		Timestamp:    time.Now().UTC(),
		ModelVersion: a.model.Version(),
	}

	reqLogger.Info().
		Str("prediction", res.Label).
		Float64("probability", res.Probability).
		Dur("elapsed", res.Elapsed).
		Msg("Prediction completed")

	a.afterSuccess(ctx, out)
	return out, nil
}

func (a *Application) afterSuccess(ctx context.Context, p *Prediction) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if a.Store != nil {
		_, err := a.Store.Record(sctx, store.Record{
			RequestID:             p.RequestID,
			Timestamp:             p.Timestamp,
			Filename:              p.Result.Filename,
			Probability:           p.Result.Probability,
			Label:                 p.Result.Label,
			Confidence:            p.Result.Confidence,
			ProcessingTimeSeconds: p.Result.Elapsed.Seconds(),
			ModelVersion:          p.ModelVersion,
		})
		a.Metrics.RecordStoreWrite(err)
		if err != nil {
			a.Logger.Error().Err(err).Str("requestId", p.RequestID).Msg("Failed to store prediction")
		}
	}

	ev := models.PredictionCompleted{
		EventType:             models.EventPredictionCompleted,
		RequestID:             p.RequestID,
		Timestamp:             p.Timestamp.UnixMilli(),
		Filename:              p.Result.Filename,
		Prediction:            p.Result.Label,
		Probability:           p.Result.Probability,
		Confidence:            p.Result.Confidence,
		ProcessingTimeSeconds: p.Result.Elapsed.Seconds(),
		ModelVersion:          p.ModelVersion,
	}
	if err := a.Publisher.PublishCompleted(sctx, &ev); err != nil {
		a.Logger.Error().Err(err).Str("requestId", p.RequestID).Msg("Failed to publish completed event")
	}

	a.mu.RLock()
	listeners := a.listeners
	a.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (a *Application) publishFailed(ctx context.Context, requestID, filename string, stage pipeline.Stage, errType string, cause error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	ev := models.PredictionFailed{
		EventType: models.EventPredictionFailed,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Filename:  filename,
		Stage:     string(stage),
		ErrorType: errType,
		Message:   cause.Error(),
	}
	if err := a.Publisher.PublishFailed(sctx, &ev); err != nil {
		a.Logger.Error().Err(err).Str("requestId", requestID).Msg("Failed to publish failed event")
	}
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Str("modelVersion", a.ModelVersion()).
		Msg("Audio authenticity service starting")
	return nil
}

// Shutdown closes the result store and the publisher.
func (a *Application) Shutdown() {
	a.Logger.Info().Msg("Audio authenticity service shutting down")
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("Error closing result store")
		}
	}
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Error closing publisher")
	}
}
