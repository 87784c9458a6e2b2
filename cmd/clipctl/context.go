package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"audio-authenticity-service/internal/config"
	"audio-authenticity-service/internal/observability/logging"
	"audio-authenticity-service/internal/service/audio"
	"audio-authenticity-service/internal/service/classifier"
	"audio-authenticity-service/internal/service/pipeline"
	"audio-authenticity-service/internal/service/store"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func initLogging(verbose bool) {
	cfg := logging.DefaultConfig()
	cfg.Format = "console"
	cfg.Level = "warn"
	if verbose {
		cfg.Level = "debug"
	}
	logging.Init(cfg)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := os.Getenv("CONFIG_FILE")
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.LoadFile(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = fmt.Errorf("invalid configuration: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// pipeline builds a Pipeline for the configured clip duration. Offline
// runs do not feed service metrics.
func (c *commandContext) pipeline() (*pipeline.Pipeline, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Config{
		ClipDuration: cfg.Audio.ClipDuration,
		Loader: audio.LoaderConfig{
			FFmpegBinary: cfg.Audio.FFmpegBinary,
			TempDir:      cfg.Audio.TempDir,
		},
	})
}

// model loads the artifact at path, or the configured one when path is
// empty, and checks it against p.
func (c *commandContext) model(path string, p *pipeline.Pipeline) (*classifier.Model, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = cfg.Model.Path
	}
	m, err := classifier.Load(path)
	if err != nil {
		return nil, err
	}
	if err := p.CheckModel(m); err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return m, nil
}

func (c *commandContext) withStore(ctx context.Context, path string, fn func(*store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if path == "" {
		path = cfg.Store.Path
	}
	s, err := store.Open(ctx, path, store.Options{BusyTimeoutMS: cfg.Store.BusyTimeoutMS})
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}
