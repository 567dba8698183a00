package main

import (
	"fmt"
	"os"
	"time"

	"ojbackend/internal/common/cache"
	"ojbackend/internal/common/db"
	"ojbackend/internal/common/mq"
	"ojbackend/internal/common/storage"
	"ojbackend/internal/submission/dispatch"
	"ojbackend/internal/submission/token"
	"ojbackend/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8087"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// SubmissionConfig holds the pipeline settings.
type SubmissionConfig struct {
	SourceBucket       string        `yaml:"sourceBucket"`
	SourceKeyPrefix    string        `yaml:"sourceKeyPrefix"`
	MaxArchiveBytes    int64         `yaml:"maxArchiveBytes"`
	SubmitCooldown     time.Duration `yaml:"submitCooldown"`
	SubmissionCacheTTL time.Duration `yaml:"submissionCacheTTL"`
	DispatchTimeout    time.Duration `yaml:"dispatchTimeout"`
}

// AppConfig holds submission-service configuration.
type AppConfig struct {
	Server     ServerConfig        `yaml:"server"`
	Logger     logger.Config       `yaml:"logger"`
	Database   db.MySQLConfig      `yaml:"database"`
	Redis      cache.RedisConfig   `yaml:"redis"`
	Kafka      mq.KafkaConfig      `yaml:"kafka"`
	MinIO      storage.MinIOConfig `yaml:"minio"`
	Token      token.Config        `yaml:"token"`
	Judge      dispatch.Config     `yaml:"judge"`
	Submission SubmissionConfig    `yaml:"submission"`
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

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Token.Secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if cfg.Judge.BaseURL == "" {
		return nil, fmt.Errorf("judge baseURL is required")
	}

	if cfg.Submission.SourceBucket == "" {
		cfg.Submission.SourceBucket = cfg.MinIO.Bucket
	}
	if cfg.Submission.SourceKeyPrefix == "" {
		cfg.Submission.SourceKeyPrefix = "source"
	}
	if cfg.Submission.MaxArchiveBytes == 0 {
		cfg.Submission.MaxArchiveBytes = 8 << 20
	}
	if cfg.Submission.SubmitCooldown == 0 {
		cfg.Submission.SubmitCooldown = 10 * time.Second
	}
	if cfg.Submission.SubmissionCacheTTL == 0 {
		cfg.Submission.SubmissionCacheTTL = 30 * time.Minute
	}
	if cfg.Submission.DispatchTimeout == 0 {
		cfg.Submission.DispatchTimeout = 30 * time.Second
	}

	return &cfg, nil
}
