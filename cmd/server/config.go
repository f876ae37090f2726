package main

import (
	"fmt"
	"os"
	"time"

	"skillsnap/internal/common/cache"
	"skillsnap/internal/common/db"
	"skillsnap/internal/common/mq"
	"skillsnap/internal/common/storage"
	"skillsnap/internal/judge"
	"skillsnap/internal/judge/lang"
	"skillsnap/internal/judge/sandbox"
	"skillsnap/internal/judge/scheduler"
	"skillsnap/internal/submission"
	"skillsnap/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
}

// SubmitConfig holds intake settings.
type SubmitConfig struct {
	MaxCodeBytes int                        `yaml:"maxCodeBytes"`
	RateLimit    submission.RateLimitConfig `yaml:"rateLimit"`
}

// JudgeConfig groups everything the evaluation pipeline needs.
type JudgeConfig struct {
	Engine       judge.Config       `yaml:"engine"`
	Sandbox      sandbox.Config     `yaml:"sandbox"`
	Scheduler    scheduler.Config   `yaml:"scheduler"`
	VerdictTopic string             `yaml:"verdictTopic"`
	Languages    []*lang.Descriptor `yaml:"languages"`
}

// AppConfig is the full server configuration.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Database db.MySQLConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Auth     AuthConfig          `yaml:"auth"`
	Submit   SubmitConfig        `yaml:"submit"`
	Judge    JudgeConfig         `yaml:"judge"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
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
	if cfg.MinIO.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth jwt secret is required")
	}

	if cfg.Submit.MaxCodeBytes == 0 {
		cfg.Submit.MaxCodeBytes = 64 * 1024
	}
	if cfg.Submit.RateLimit.Window == 0 {
		cfg.Submit.RateLimit.Window = time.Minute
	}
	if cfg.Submit.RateLimit.UserMax == 0 {
		cfg.Submit.RateLimit.UserMax = 30
	}

	return &cfg, nil
}

// buildRegistry layers configured languages over the builtin set.
func buildRegistry(cfg JudgeConfig) (*lang.Registry, error) {
	descriptors := lang.Builtin()
	descriptors = append(descriptors, cfg.Languages...)
	return lang.NewRegistry(descriptors)
}
