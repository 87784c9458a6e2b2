// Package config loads service configuration from an optional YAML file and
// environment variables. Environment values win over the file; values that
// fail to parse fall back to the existing setting.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Model         ModelConfig         `yaml:"model"`
	Audio         AudioConfig         `yaml:"audio"`
	Upload        UploadConfig        `yaml:"upload"`
	Store         StoreConfig         `yaml:"store"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig holds identity and listener settings.
type ServiceConfig struct {
	Name            string        `yaml:"name"`
	Principal       string        `yaml:"principal"`
	HTTPPort        string        `yaml:"httpPort"`
	GRPCPort        string        `yaml:"grpcPort"`
	MetricsAddr     string        `yaml:"metricsAddr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// ModelConfig locates the classifier artifact.
type ModelConfig struct {
	Path     string `yaml:"path"`
	Required bool   `yaml:"required"` // refuse to start without a model
}

// AudioConfig holds decoding and clip settings.
type AudioConfig struct {
	ClipDuration   time.Duration `yaml:"clipDuration"`
	FFmpegBinary   string        `yaml:"ffmpegBinary"`
	TempDir        string        `yaml:"tempDir"`
	PredictTimeout time.Duration `yaml:"predictTimeout"`
}

// UploadConfig bounds what the HTTP boundary accepts.
type UploadConfig struct {
	MaxBytes          int64    `yaml:"maxBytes"`
	AllowedExtensions []string `yaml:"allowedExtensions"`
}

// StoreConfig holds result store settings.
type StoreConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	BusyTimeoutMS int    `yaml:"busyTimeoutMs"`
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Brokers        []string `yaml:"brokers"`
	TopicCompleted string   `yaml:"topicCompleted"`
	TopicFailed    string   `yaml:"topicFailed"`
	Principal      string   `yaml:"principal"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "audio-authenticity-service",
			Principal:       "svc-audio-authenticity",
			HTTPPort:        "5001",
			GRPCPort:        "50051",
			MetricsAddr:     ":9090",
			ShutdownTimeout: 15 * time.Second,
		},
		Model: ModelConfig{
			Path: "models/auralguard_model.msgpack",
		},
		Audio: AudioConfig{
			ClipDuration:   15 * time.Second,
			FFmpegBinary:   "ffmpeg",
			PredictTimeout: 60 * time.Second,
		},
		Upload: UploadConfig{
			MaxBytes:          50 * 1024 * 1024,
			AllowedExtensions: []string{"wav", "mp3", "flac", "ogg", "m4a"},
		},
		Store: StoreConfig{
			Enabled:       true,
			Path:          "data/predictions.db",
			BusyTimeoutMS: 5000,
		},
		Kafka: KafkaConfig{
			Brokers:        []string{"localhost:9092"},
			TopicCompleted: "audio.prediction.completed",
			TopicFailed:    "audio.prediction.failed",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load reads CONFIG_FILE (if set) and the environment. A config file that
// cannot be read is logged and ignored.
func Load() *Config {
	cfg, err := LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring config file")
		cfg = Defaults()
		applyEnv(cfg)
	}
	return cfg
}

// LoadFile reads path over the defaults and then applies the environment.
// An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Service
	s.Name = envOrDefault("SERVICE_NAME", s.Name)
	s.Principal = envOrDefault("SERVICE_PRINCIPAL", s.Principal)
	s.HTTPPort = envOrDefault("HTTP_PORT", s.HTTPPort)
	s.GRPCPort = envOrDefault("GRPC_PORT", s.GRPCPort)
	s.MetricsAddr = envOrDefault("METRICS_ADDR", s.MetricsAddr)
	s.ShutdownTimeout = envOrDefaultDuration("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	cfg.Model.Path = envOrDefault("MODEL_PATH", cfg.Model.Path)
	cfg.Model.Required = envOrDefaultBool("MODEL_REQUIRED", cfg.Model.Required)

	a := &cfg.Audio
	a.ClipDuration = envOrDefaultDuration("CLIP_DURATION", a.ClipDuration)
	a.FFmpegBinary = envOrDefault("FFMPEG_BINARY", a.FFmpegBinary)
	a.TempDir = envOrDefault("TEMP_DIR", a.TempDir)
	a.PredictTimeout = envOrDefaultDuration("PREDICT_TIMEOUT", a.PredictTimeout)

	cfg.Upload.MaxBytes = envOrDefaultInt64("MAX_UPLOAD_BYTES", cfg.Upload.MaxBytes)
	cfg.Upload.AllowedExtensions = normalizeExtensions(envOrDefaultList("ALLOWED_EXTENSIONS", cfg.Upload.AllowedExtensions))

	cfg.Store.Enabled = envOrDefaultBool("STORE_ENABLED", cfg.Store.Enabled)
	cfg.Store.Path = envOrDefault("STORE_PATH", cfg.Store.Path)
	cfg.Store.BusyTimeoutMS = envOrDefaultInt("STORE_BUSY_TIMEOUT_MS", cfg.Store.BusyTimeoutMS)

	k := &cfg.Kafka
	k.Enabled = envOrDefaultBool("KAFKA_ENABLED", k.Enabled)
	k.Brokers = envOrDefaultList("KAFKA_BROKERS", k.Brokers)
	k.TopicCompleted = envOrDefault("KAFKA_TOPIC_COMPLETED", k.TopicCompleted)
	k.TopicFailed = envOrDefault("KAFKA_TOPIC_FAILED", k.TopicFailed)
	k.Principal = envOrDefault("KAFKA_PRINCIPAL", k.Principal)
	if k.Principal == "" {
		k.Principal = s.Principal
	}

	cfg.Observability.LogLevel = envOrDefault("LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = envOrDefault("LOG_FORMAT", cfg.Observability.LogFormat)
}

// Validate reports settings the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Audio.ClipDuration <= 0:
		return fmt.Errorf("clip duration must be positive, got %v", c.Audio.ClipDuration)
	case c.Upload.MaxBytes <= 0:
		return fmt.Errorf("max upload bytes must be positive, got %d", c.Upload.MaxBytes)
	case len(c.Upload.AllowedExtensions) == 0:
		return fmt.Errorf("at least one allowed extension is required")
	case c.Store.Enabled && c.Store.Path == "":
		return fmt.Errorf("store enabled without a path")
	case c.Kafka.Enabled && len(c.Kafka.Brokers) == 0:
		return fmt.Errorf("kafka enabled without brokers")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated variable, dropping empty items.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		out = append(out, strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), ".")))
	}
	return out
}
