package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// defaultSynthUserID receives synthetic signals when SYNTH_USER_ID is not
// configured. It is the shared dev account every environment knows about.
const defaultSynthUserID = "96975f52-5b05-4eb1-bfa5-530485112518"

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	HTTPAddr string `env:"HTTP_ADDR"`
	Port     string `env:"PORT"` // Cloud-Run style fallback for HTTP_ADDR

	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`
	CORSOrigins    string  `env:"CORS_ORIGINS"` // comma-separated; empty = allow all
	LogLevel       string  `env:"LOG_LEVEL" envDefault:"info"`
	MetricsEnabled bool    `env:"METRICS_ENABLED" envDefault:"true"`

	// Inference sidecar running the ML pipeline (emotion, transcription,
	// language, sentiment). A single chunk can take minutes on cold start.
	InferenceURL     string        `env:"SER_INFERENCE_URL,required"`
	InferenceTimeout time.Duration `env:"SER_INFERENCE_TIMEOUT" envDefault:"120s"`

	// Chunk queue and session windowing
	QueueCapacity     int    `env:"QUEUE_CAPACITY" envDefault:"1024"`
	SessionGapSeconds int    `env:"SESSION_GAP_SECONDS" envDefault:"60"`
	TmpDir            string `env:"TMP_DIR"` // empty = os.TempDir

	// Periodic tasks; these seed the runtime-mutable registries.
	AggregationIntervalSeconds int `env:"AGGREGATION_INTERVAL_SECONDS" envDefault:"300"`
	GenerationIntervalSeconds  int `env:"GENERATION_INTERVAL_SECONDS" envDefault:"30"`

	SynthUserID string `env:"SYNTH_USER_ID"`

	// Optional directory ingest: <user-uuid>_*.wav files dropped here are
	// enqueued like uploads.
	WatchDir string `env:"WATCH_DIR"`

	ShutdownDrainTimeout time.Duration `env:"SHUTDOWN_DRAIN_TIMEOUT" envDefault:"5s"`
}

// Bounds shared with the control-plane registries.
const (
	MinAggregationIntervalSeconds = 60
	MaxAggregationIntervalSeconds = 3600
	MinGenerationIntervalSeconds  = 5
	MaxGenerationIntervalSeconds  = 300
)

// Validate checks startup-fatal constraints. Runtime-mutable values share
// bounds with their registries so a bad seed fails fast instead of being
// silently clamped.
func (c *Config) Validate() error {
	if c.QueueCapacity < 1 {
		return fmt.Errorf("QUEUE_CAPACITY must be >= 1, got %d", c.QueueCapacity)
	}
	if c.SessionGapSeconds < 1 {
		return fmt.Errorf("SESSION_GAP_SECONDS must be >= 1, got %d", c.SessionGapSeconds)
	}
	if c.AggregationIntervalSeconds < MinAggregationIntervalSeconds || c.AggregationIntervalSeconds > MaxAggregationIntervalSeconds {
		return fmt.Errorf("AGGREGATION_INTERVAL_SECONDS must be in [%d, %d], got %d",
			MinAggregationIntervalSeconds, MaxAggregationIntervalSeconds, c.AggregationIntervalSeconds)
	}
	if c.GenerationIntervalSeconds < MinGenerationIntervalSeconds || c.GenerationIntervalSeconds > MaxGenerationIntervalSeconds {
		return fmt.Errorf("GENERATION_INTERVAL_SECONDS must be in [%d, %d], got %d",
			MinGenerationIntervalSeconds, MaxGenerationIntervalSeconds, c.GenerationIntervalSeconds)
	}
	if _, err := uuid.Parse(c.SynthUserID); err != nil {
		return fmt.Errorf("SYNTH_USER_ID %q is not a valid UUID: %w", c.SynthUserID, err)
	}
	return nil
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile      string
	HTTPAddr     string
	LogLevel     string
	DatabaseURL  string
	WatchDir     string
	InferenceURL string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}
	if overrides.InferenceURL != "" {
		cfg.InferenceURL = overrides.InferenceURL
	}

	// HTTP_ADDR wins; fall back to PORT, then the service default.
	if cfg.HTTPAddr == "" {
		if cfg.Port != "" {
			cfg.HTTPAddr = ":" + cfg.Port
		} else {
			cfg.HTTPAddr = ":8008"
		}
	}

	if cfg.SynthUserID == "" {
		cfg.SynthUserID = defaultSynthUserID
	}

	return cfg, nil
}
