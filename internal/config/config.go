// Package config loads server configuration from the environment, following
// the env-var-first pattern of the teacher's pkg/database config loader.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the fully resolved, validated server configuration.
type Config struct {
	HTTPAddr string

	Database  DatabaseConfig
	Stream    StreamConfig
	Blob      BlobConfig
	Broadcast BroadcastConfig
	Pipeline  PipelineConfig
	Consumer  ConsumerConfig
	Recovery  RecoveryConfig

	// APIKey is the shared bearer token required on all /api/* routes
	// except /api/health.
	APIKey string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// StreamConfig holds Redis Streams connection and tuning settings.
type StreamConfig struct {
	Addr     string
	Password string
	DB       int

	StreamKey     string
	ConsumerGroup string

	BatchSize          int64
	BlockInterval      time.Duration
	ReclaimInterval    time.Duration
	MinIdleTime        time.Duration
}

// BlobConfig holds the S3-compatible blob store settings used for transcript
// upload/download.
type BlobConfig struct {
	Bucket          string
	Region          string
	Endpoint        string // optional: non-AWS S3-compatible endpoint (e.g. MinIO)
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool // required by most non-AWS S3-compatible endpoints
}

// BroadcastConfig tunes the C10 WebSocket broadcaster.
type BroadcastConfig struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
}

// PipelineConfig tunes the C8 transcript pipeline.
type PipelineConfig struct {
	PersistBatchSize int
	SummarizeEnabled bool
	SummarizeTimeout time.Duration
}

// ConsumerConfig tunes the C4 consumer loop's correlator lookback (§9 Open
// Question resolution: bound git-activity correlation to recently active
// sessions rather than an unbounded lookback).
type ConsumerConfig struct {
	CorrelationLookback time.Duration
}

// RecoveryConfig tunes the C9 stuck-session sweeper.
type RecoveryConfig struct {
	SweepInterval   time.Duration
	StuckThreshold  time.Duration
}

// LoadFromEnv loads and validates configuration from the environment,
// mirroring the teacher's database.LoadConfigFromEnv shape: typed getters
// with production-ready defaults, then a single Validate pass.
func LoadFromEnv() (*Config, error) {
	dbPort, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	maxOpen, err := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}
	connMaxLifetime, err := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}
	connMaxIdleTime, err := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	batchSize, err := strconv.ParseInt(getEnvOrDefault("STREAM_BATCH_SIZE", "10"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid STREAM_BATCH_SIZE: %w", err)
	}
	blockInterval, err := time.ParseDuration(getEnvOrDefault("STREAM_BLOCK_INTERVAL", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid STREAM_BLOCK_INTERVAL: %w", err)
	}
	reclaimInterval, err := time.ParseDuration(getEnvOrDefault("STREAM_RECLAIM_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid STREAM_RECLAIM_INTERVAL: %w", err)
	}
	minIdleTime, err := time.ParseDuration(getEnvOrDefault("STREAM_MIN_IDLE_TIME", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid STREAM_MIN_IDLE_TIME: %w", err)
	}

	pingInterval, err := time.ParseDuration(getEnvOrDefault("WS_PING_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_PING_INTERVAL: %w", err)
	}
	pongTimeout, err := time.ParseDuration(getEnvOrDefault("WS_PONG_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_PONG_TIMEOUT: %w", err)
	}
	writeTimeout, err := time.ParseDuration(getEnvOrDefault("WS_WRITE_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}

	summarizeTimeout, err := time.ParseDuration(getEnvOrDefault("PIPELINE_SUMMARIZE_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_SUMMARIZE_TIMEOUT: %w", err)
	}
	persistBatchSize, err := strconv.Atoi(getEnvOrDefault("PIPELINE_PERSIST_BATCH_SIZE", "200"))
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_PERSIST_BATCH_SIZE: %w", err)
	}

	correlationLookback, err := time.ParseDuration(getEnvOrDefault("CORRELATION_LOOKBACK", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid CORRELATION_LOOKBACK: %w", err)
	}
	sweepInterval, err := time.ParseDuration(getEnvOrDefault("RECOVERY_SWEEP_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECOVERY_SWEEP_INTERVAL: %w", err)
	}
	stuckThreshold, err := time.ParseDuration(getEnvOrDefault("RECOVERY_STUCK_THRESHOLD", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECOVERY_STUCK_THRESHOLD: %w", err)
	}

	cfg := &Config{
		HTTPAddr: getEnvOrDefault("HTTP_ADDR", ":8080"),
		APIKey:   os.Getenv("API_KEY"),
		Database: DatabaseConfig{
			Host:            getEnvOrDefault("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnvOrDefault("DB_USER", "tarsy"),
			Password:        os.Getenv("DB_PASSWORD"),
			Database:        getEnvOrDefault("DB_NAME", "tarsy_telemetry"),
			SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
			MaxOpenConns:    maxOpen,
			MaxIdleConns:    maxIdle,
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
		},
		Stream: StreamConfig{
			Addr:            getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:        os.Getenv("REDIS_PASSWORD"),
			DB:              redisDB,
			StreamKey:       getEnvOrDefault("STREAM_KEY", "telemetry:events"),
			ConsumerGroup:   getEnvOrDefault("STREAM_CONSUMER_GROUP", "telemetry-ingest"),
			BatchSize:       batchSize,
			BlockInterval:   blockInterval,
			ReclaimInterval: reclaimInterval,
			MinIdleTime:     minIdleTime,
		},
		Blob: BlobConfig{
			Bucket:          os.Getenv("BLOB_BUCKET"),
			Region:          getEnvOrDefault("BLOB_REGION", "us-east-1"),
			Endpoint:        os.Getenv("BLOB_ENDPOINT"),
			AccessKeyID:     os.Getenv("BLOB_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("BLOB_SECRET_ACCESS_KEY"),
			UsePathStyle:    os.Getenv("BLOB_USE_PATH_STYLE") == "true",
		},
		Broadcast: BroadcastConfig{
			PingInterval: pingInterval,
			PongTimeout:  pongTimeout,
			WriteTimeout: writeTimeout,
		},
		Pipeline: PipelineConfig{
			PersistBatchSize: persistBatchSize,
			SummarizeEnabled: os.Getenv("PIPELINE_SUMMARIZE_ENABLED") == "true",
			SummarizeTimeout: summarizeTimeout,
		},
		Consumer: ConsumerConfig{
			CorrelationLookback: correlationLookback,
		},
		Recovery: RecoveryConfig{
			SweepInterval:  sweepInterval,
			StuckThreshold: stuckThreshold,
		},
	}

	if err := applyTuningFile(cfg, getEnvOrDefault("CONFIG_FILE", "telemetry.yaml")); err != nil {
		return nil, fmt.Errorf("apply config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants not expressible as simple defaults.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Blob.Bucket == "" {
		return fmt.Errorf("BLOB_BUCKET is required")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
