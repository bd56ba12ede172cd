package models

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v2"
)

type Config struct {
	ServerAddr      string        `yaml:"server_addr" env:"SERVER_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	DatabaseDriver string `yaml:"database_driver" env:"DATABASE_DRIVER"` // postgres, sqlite3
	DatabaseURL    string `yaml:"database_url" env:"DATABASE_URL"`

	KafkaBroker          string        `yaml:"kafka_broker" env:"KAFKA_BROKER"`
	KafkaTopic           string        `yaml:"kafka_topic" env:"KAFKA_TOPIC"`
	KafkaGroupID         string        `yaml:"kafka_group_id" env:"KAFKA_GROUP_ID"`
	KafkaDeadLetterTopic string        `yaml:"kafka_dead_letter_topic" env:"KAFKA_DEAD_LETTER_TOPIC"`
	Workers              int           `yaml:"workers" env:"WORKERS"`
	MaxAttempts          int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	RetryBackoff         time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF"`

	StorageBackend    string `yaml:"storage_backend" env:"STORAGE_BACKEND"` // local, s3, memory
	StoragePath       string `yaml:"storage_path" env:"STORAGE_PATH"`
	S3Bucket          string `yaml:"s3_bucket" env:"S3_BUCKET"`
	S3Region          string `yaml:"s3_region" env:"S3_REGION"`
	S3Endpoint        string `yaml:"s3_endpoint" env:"S3_ENDPOINT"`
	S3AccessKeyID     string `yaml:"s3_access_key_id" env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key" env:"S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle    bool   `yaml:"s3_use_path_style" env:"S3_USE_PATH_STYLE"`

	FetchTimeout    time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT"`
	MaxImageBytes   int64         `yaml:"max_image_bytes" env:"MAX_IMAGE_BYTES"`
	ThumbnailWidth  int           `yaml:"thumbnail_width" env:"THUMBNAIL_WIDTH"`
	ThumbnailHeight int           `yaml:"thumbnail_height" env:"THUMBNAIL_HEIGHT"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`
}

// LoadConfig reads the YAML file at path, applies environment overrides and
// fills defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("%s: parse env: %w", op, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.DatabaseDriver == "" {
		c.DatabaseDriver = "postgres"
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = "media-ingest"
	}
	if c.KafkaGroupID == "" {
		c.KafkaGroupID = "media-ingest-group"
	}
	if c.KafkaDeadLetterTopic == "" {
		c.KafkaDeadLetterTopic = c.KafkaTopic + ".dead-letter"
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.StorageBackend == "" {
		c.StorageBackend = "local"
	}
	if c.StoragePath == "" {
		c.StoragePath = "./data"
	}
	if c.S3Region == "" {
		c.S3Region = "us-east-1"
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = 20 << 20
	}
	if c.ThumbnailWidth <= 0 {
		c.ThumbnailWidth = 368
	}
	if c.ThumbnailHeight <= 0 {
		c.ThumbnailHeight = 232
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
}

func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("unsupported database_driver %q", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("database_url is required")
	}
	switch c.StorageBackend {
	case "local", "memory":
	case "s3":
		if strings.TrimSpace(c.S3Bucket) == "" {
			return errors.New("s3_bucket is required for the s3 storage backend")
		}
	default:
		return fmt.Errorf("unsupported storage_backend %q", c.StorageBackend)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported log_format %q", c.LogFormat)
	}
	if c.Workers < 1 {
		return errors.New("workers must be positive")
	}
	if c.MaxAttempts < 1 {
		return errors.New("max_attempts must be positive")
	}
	return nil
}
