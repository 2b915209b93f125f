// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrS3BucketRequired is returned when STORAGE_BACKEND=s3 without S3_BUCKET/S3_REGION.
	ErrS3BucketRequired = errors.New("config: S3_BUCKET and S3_REGION are required for the s3 storage backend")
	// ErrMinioEndpointRequired is returned when STORAGE_BACKEND=minio without MINIO_ENDPOINT/MINIO_BUCKET.
	ErrMinioEndpointRequired = errors.New("config: MINIO_ENDPOINT and MINIO_BUCKET are required for the minio storage backend")
	// ErrSQSQueueURLRequired is returned when QUEUE_BACKEND=sqs without SQS_QUEUE_URL.
	ErrSQSQueueURLRequired = errors.New("config: SQS_QUEUE_URL is required for the sqs queue backend")
	// ErrDeadLetterURLRequired is returned when DEAD_LETTER_BACKEND=sqs without SQS_DEAD_LETTER_URL.
	ErrDeadLetterURLRequired = errors.New("config: SQS_DEAD_LETTER_URL is required for the sqs dead-letter backend")
)

// Backend names.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
	StorageMinio = "minio"

	QueueMemory = "memory"
	QueueSQS    = "sqs"

	DeadLetterNone  = "none"
	DeadLetterSQS   = "sqs"
	DeadLetterRedis = "redis"
)

// defaultParallelEncodeCap bounds the CPU-derived default for concurrent
// rendition encodes.
const defaultParallelEncodeCap = 3

// Config holds all configuration for the worker.
type Config struct {
	// Ops server settings
	Port int `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`

	// Scratch workspace and encoder
	ScratchDir          string        `env:"SCRATCH_DIR, default=/tmp/gauntlet-worker" json:"scratch_dir" validate:"required"`
	FFmpegPath          string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path" validate:"required"`
	MaxParallelEncodes  int           `env:"MAX_PARALLEL_ENCODES, default=0" json:"max_parallel_encodes" validate:"min=0"`
	ThumbnailOffset     time.Duration `env:"THUMBNAIL_OFFSET, default=5s" json:"thumbnail_offset" validate:"min=0"`
	ProgressLogInterval time.Duration `env:"PROGRESS_LOG_INTERVAL, default=5s" json:"progress_log_interval"`

	// Blob storage settings
	StorageBackend string `env:"STORAGE_BACKEND, default=local" json:"storage_backend" validate:"oneof=local s3 minio"`
	StorageRoot    string `env:"STORAGE_ROOT, default=/var/lib/gauntlet/videos" json:"storage_root"`

	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	MinioEndpoint  string `env:"MINIO_ENDPOINT" json:"minio_endpoint,omitempty"`
	MinioBucket    string `env:"MINIO_BUCKET" json:"minio_bucket,omitempty"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY" json:"-"` // Masked in JSON
	MinioSecretKey string `env:"MINIO_SECRET_KEY" json:"-"` // Masked in JSON
	MinioUseSSL    bool   `env:"MINIO_USE_SSL, default=false" json:"minio_use_ssl"`
	MinioRegion    string `env:"MINIO_REGION" json:"minio_region,omitempty"`

	// Work queue settings
	QueueBackend  string        `env:"QUEUE_BACKEND, default=memory" json:"queue_backend" validate:"oneof=memory sqs"`
	SQSQueueURL   string        `env:"SQS_QUEUE_URL" json:"sqs_queue_url,omitempty"`
	SQSRegion     string        `env:"SQS_REGION" json:"sqs_region,omitempty"`
	SQSEndpoint   string        `env:"SQS_ENDPOINT" json:"sqs_endpoint,omitempty"`
	LeaseDuration time.Duration `env:"LEASE_DURATION, default=30m" json:"lease_duration" validate:"min=1s"`
	PollDelay     time.Duration `env:"POLL_DELAY, default=1s" json:"poll_delay" validate:"min=0"`
	MaxDeliveries int           `env:"MAX_DELIVERIES, default=5" json:"max_deliveries" validate:"min=0"`
	RunHistory    int           `env:"RUN_HISTORY_SIZE, default=100" json:"run_history_size" validate:"min=1"`

	// Dead-letter settings
	DeadLetterBackend  string `env:"DEAD_LETTER_BACKEND, default=none" json:"dead_letter_backend" validate:"oneof=none sqs redis"`
	SQSDeadLetterURL   string `env:"SQS_DEAD_LETTER_URL" json:"sqs_dead_letter_url,omitempty"`
	RedisAddr          string `env:"REDIS_ADDR, default=localhost:6379" json:"redis_addr"`
	RedisPassword      string `env:"REDIS_PASSWORD" json:"-"` // Masked in JSON
	RedisDB            int    `env:"REDIS_DB, default=0" json:"redis_db"`
	RedisDeadLetterKey string `env:"REDIS_DEAD_LETTER_KEY, default=videos:deadletter" json:"redis_dead_letter_key"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=text json"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`                              // "debug", "info", "warn", "error"
}

// Load reads configuration from environment variables using go-envconfig
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field constraints and that every selected backend has
// the settings it needs.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch c.StorageBackend {
	case StorageS3:
		if c.S3Bucket == "" || c.S3Region == "" {
			return ErrS3BucketRequired
		}
	case StorageMinio:
		if c.MinioEndpoint == "" || c.MinioBucket == "" {
			return ErrMinioEndpointRequired
		}
	}

	if c.QueueBackend == QueueSQS && c.SQSQueueURL == "" {
		return ErrSQSQueueURLRequired
	}
	if c.DeadLetterBackend == DeadLetterSQS && c.SQSDeadLetterURL == "" {
		return ErrDeadLetterURLRequired
	}
	return nil
}

// ParallelEncodes returns the effective bound on concurrent rendition
// encodes: the configured value, or the CPU count capped at three.
func (c *Config) ParallelEncodes() int {
	if c.MaxParallelEncodes > 0 {
		return c.MaxParallelEncodes
	}
	return min(runtime.NumCPU(), defaultParallelEncodeCap)
}

// SQSRegionOrDefault returns SQS_REGION, falling back to S3_REGION.
func (c *Config) SQSRegionOrDefault() string {
	if c.SQSRegion != "" {
		return c.SQSRegion
	}
	return c.S3Region
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, ScratchDir: %s, StorageBackend: %s, QueueBackend: %s, LeaseDuration: %s, PollDelay: %s, MaxDeliveries: %d, DeadLetterBackend: %s, MaxParallelEncodes: %d, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.ScratchDir,
		c.StorageBackend,
		c.QueueBackend,
		c.LeaseDuration,
		c.PollDelay,
		c.MaxDeliveries,
		c.DeadLetterBackend,
		c.MaxParallelEncodes,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
