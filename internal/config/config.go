// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/NoimitLi/smart-campus-server/internal/auth"
	"github.com/NoimitLi/smart-campus-server/internal/cache/redis"
	"github.com/NoimitLi/smart-campus-server/internal/storage/postgres"
	"github.com/NoimitLi/smart-campus-server/pkg/configloader"
	"github.com/NoimitLi/smart-campus-server/pkg/httpserver"
	"github.com/NoimitLi/smart-campus-server/pkg/kafka"
	"github.com/NoimitLi/smart-campus-server/pkg/logger"
	"github.com/NoimitLi/smart-campus-server/pkg/telemetry"
)

// Config — все настройки сервиса.
type Config struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`

	Token     TokenConfig       `mapstructure:"token"`
	Auth      auth.Config       `mapstructure:"auth"`
	Redis     redis.Config      `mapstructure:"redis"`
	Postgres  postgres.Config   `mapstructure:"postgres"`
	Kafka     KafkaConfig       `mapstructure:"kafka"`
	HTTP      httpserver.Config `mapstructure:"http"`
	Logging   logger.Config     `mapstructure:"logging"`
	Telemetry telemetry.Config  `mapstructure:"telemetry"`
}

// TokenConfig описывает выпуск JWT.
type TokenConfig struct {
	Secret     string        `mapstructure:"secret"`
	Issuer     string        `mapstructure:"issuer"`
	Audience   string        `mapstructure:"audience"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
	// SecureCookie включает флаг Secure на refresh-cookie.
	SecureCookie bool `mapstructure:"secure_cookie"`
}

func (c *TokenConfig) ApplyDefaults() {
	if c.AccessTTL <= 0 {
		c.AccessTTL = 2 * time.Hour
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 7 * 24 * time.Hour
	}
	if c.Issuer == "" {
		c.Issuer = "smart-campus-server"
	}
	if c.Audience == "" {
		c.Audience = "campus"
	}
}

func (c TokenConfig) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("token: secret is required")
	}
	if c.AccessTTL >= c.RefreshTTL {
		return fmt.Errorf("token: access_ttl must be shorter than refresh_ttl")
	}
	return nil
}

// KafkaConfig объединяет продюсера и консьюмера событий.
type KafkaConfig struct {
	Producer kafka.ProducerConfig `mapstructure:"producer"`
	Consumer kafka.ConsumerConfig `mapstructure:"consumer"`
}

// Load читает YAML + ENV (префикс CAMPUS) и валидирует результат.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := configloader.Load(configloader.Options{
		Path:      path,
		EnvPrefix: "CAMPUS",
		Out:       &cfg,
		Defaults: map[string]interface{}{
			"service_name":    "smart-campus-server",
			"service_version": "v1.0.0",

			"token.access_ttl":  "2h",
			"token.refresh_ttl": "168h",

			"auth.sliding_window": "168h",
			"auth.bcrypt_timeout": "200ms",
			"auth.refresh_ttl":    "168h",

			"redis.url":        "redis://localhost:6379/0",
			"redis.op_timeout": "2s",

			"postgres.migrations_dir": "migrations/postgres",

			"kafka.producer.brokers":       []string{"localhost:9092"},
			"kafka.producer.required_acks": "all",
			"kafka.consumer.brokers":       []string{"localhost:9092"},
			"kafka.consumer.group_id":      "smart-campus-server",
			"kafka.consumer.version":       "2.8.0",

			"http.port":         8080,
			"http.metrics_path": "/metrics",
			"http.healthz_path": "/healthz",
			"http.readyz_path":  "/readyz",

			"logging.level":    "info",
			"logging.dev_mode": false,

			"telemetry.endpoint":        "otel-collector:4317",
			"telemetry.service_name":    "smart-campus-server",
			"telemetry.service_version": "v1.0.0",
		},
	}); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	cfg.Token.ApplyDefaults()
	cfg.Auth.ApplyDefaults()
	cfg.Redis.ApplyDefaults()
	cfg.Postgres.ApplyDefaults()
	cfg.HTTP.ApplyDefaults()
	cfg.Logging.ApplyDefaults()
	cfg.Telemetry.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("config: service_name is required")
	}
	if err := c.Token.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Redis.Validate(); err != nil {
		return err
	}
	if err := c.Postgres.Validate(); err != nil {
		return err
	}
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	return nil
}
