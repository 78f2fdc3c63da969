package main

import (
	"fmt"
	"os"
	"time"

	"docpipe/internal/cleanup"
	"docpipe/internal/common/cache"
	"docpipe/internal/common/db"
	"docpipe/internal/common/mq"
	"docpipe/internal/common/storage"
	"docpipe/internal/retry"
	"docpipe/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultServiceName     = "reconciler"
	defaultRetrySuffix     = ".retry"
	defaultSweepInterval   = 30 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// TopicConfig routes the cleanup event flow.
type TopicConfig struct {
	DeletionRequested string `yaml:"deletionRequested"`
	Progress          string `yaml:"progress"`
	Completed         string `yaml:"completed"`
	// RetrySuffix is appended to a source topic to name its retry topic.
	RetrySuffix string `yaml:"retrySuffix"`
}

// ConsumerConfig holds per-subscription consumer settings.
type ConsumerConfig struct {
	Group         string        `yaml:"group"`
	Concurrency   int           `yaml:"concurrency"`
	PrefetchCount int           `yaml:"prefetchCount"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
}

func (c ConsumerConfig) toSubscribeOptions() mq.SubscribeOptions {
	return mq.SubscribeOptions{
		ConsumerGroup: c.Group,
		Concurrency:   c.Concurrency,
		PrefetchCount: c.PrefetchCount,
		MaxRetries:    c.MaxRetries,
		RetryDelay:    c.RetryDelay,
	}
}

// CleanupConfig holds cascade deletion and aggregation settings.
type CleanupConfig struct {
	// InitiatorService names the archive service's own slot in the
	// cleanup topology.
	InitiatorService   string                   `yaml:"initiatorService"`
	Bucket             string                   `yaml:"bucket"`
	ExpectedServices   []string                 `yaml:"expectedServices"`
	AggregationTimeout time.Duration            `yaml:"aggregationTimeout"`
	SweepInterval      time.Duration            `yaml:"sweepInterval"`
	Store              cleanup.RedisStoreConfig `yaml:"store"`
}

// AppConfig holds reconciler-service configuration.
type AppConfig struct {
	ServiceName string              `yaml:"serviceName"`
	Server      ServerConfig        `yaml:"server"`
	Logger      logger.Config       `yaml:"logger"`
	Database    db.MySQLConfig      `yaml:"database"`
	Redis       cache.RedisConfig   `yaml:"redis"`
	Kafka       mq.KafkaConfig      `yaml:"kafka"`
	MinIO       storage.MinIOConfig `yaml:"minio"`
	Topics      TopicConfig         `yaml:"topics"`
	Retry       retry.Config        `yaml:"retry"`
	Cleanup     CleanupConfig       `yaml:"cleanup"`
	Consumer    ConsumerConfig      `yaml:"consumer"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Topics.DeletionRequested == "" {
		cfg.Topics.DeletionRequested = "source.deletion.requested"
	}
	if cfg.Topics.Progress == "" {
		cfg.Topics.Progress = "source.cleanup.progress"
	}
	if cfg.Topics.Completed == "" {
		cfg.Topics.Completed = "source.cleanup.completed"
	}
	if cfg.Topics.RetrySuffix == "" {
		cfg.Topics.RetrySuffix = defaultRetrySuffix
	}

	defaults := retry.DefaultConfig()
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = defaults.BaseDelay
	}
	if cfg.Retry.BackoffFactor == 0 {
		cfg.Retry.BackoffFactor = defaults.BackoffFactor
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = defaults.MaxDelay
	}
	if cfg.Retry.TTL == 0 {
		cfg.Retry.TTL = defaults.TTL
	}

	if cfg.Cleanup.InitiatorService == "" {
		cfg.Cleanup.InitiatorService = "archive"
	}
	if cfg.Cleanup.Bucket == "" {
		cfg.Cleanup.Bucket = cfg.MinIO.Bucket
	}
	if len(cfg.Cleanup.ExpectedServices) == 0 {
		return nil, fmt.Errorf("cleanup.expectedServices is required")
	}
	if cfg.Cleanup.AggregationTimeout == 0 {
		cfg.Cleanup.AggregationTimeout = 10 * time.Minute
	}
	if cfg.Cleanup.SweepInterval == 0 {
		cfg.Cleanup.SweepInterval = defaultSweepInterval
	}

	if cfg.Consumer.Group == "" {
		cfg.Consumer.Group = cfg.ServiceName
	}

	return &cfg, nil
}
