// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/mcoot/spinroom/internal/api"
	"github.com/mcoot/spinroom/internal/delivery"
	"github.com/mcoot/spinroom/internal/factory"
	"github.com/mcoot/spinroom/internal/mailbox"
	"github.com/mcoot/spinroom/internal/middleware"
	"github.com/mcoot/spinroom/internal/services/auth"
	redisstorage "github.com/mcoot/spinroom/internal/storage/redis"
	"github.com/mcoot/spinroom/internal/transport/ws"
)

// Config is the server's environment
type Config struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT,default=8080" validate:"min=1,max=65535"`
	LogLevel string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`

	StorageType string        `env:"STORAGE_TYPE,default=memory" validate:"oneof=memory redis"`
	MailboxType string        `env:"MAILBOX_TYPE" validate:"omitempty,oneof=memory redis"`
	RedisURL    string        `env:"REDIS_URL" validate:"required_if=StorageType redis,required_if=MailboxType redis"`
	MailboxTTL  time.Duration `env:"MAILBOX_TTL,default=1h" validate:"gt=0"`

	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL,default=24h" validate:"gt=0"`

	DeliveryAttempts int `env:"DELIVERY_ATTEMPTS,default=5" validate:"min=1"`

	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE,default=600" validate:"min=1"`
	RateLimitBurst     int `env:"RATE_LIMIT_BURST,default=60" validate:"min=1"`

	ShutdownTimeout        time.Duration `env:"SHUTDOWN_TIMEOUT,default=30s" validate:"gt=0"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL,default=10m" validate:"gt=0"`
}

// Load reads optional dotenv files (".env" when none are named) into the
// process environment, then decodes and validates the Config. Variables
// already set in the environment win over dotenv values.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SlogLevel maps LogLevel onto slog
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Factory builds the application factory settings
func (c Config) Factory(logger *slog.Logger) factory.Config {
	authCfg := auth.DefaultConfig()
	authCfg.Secret = c.JWTSecret
	authCfg.TokenTTL = c.TokenTTL

	retry := delivery.DefaultRetryPolicy()
	retry.Attempts = c.DeliveryAttempts

	rateLimit := middleware.DefaultRateLimitConfig()
	rateLimit.RequestsPerMinute = c.RateLimitPerMinute
	rateLimit.Burst = c.RateLimitBurst

	cfg := factory.Config{
		AuthConfig:      authCfg,
		Logger:          logger,
		StorageType:     c.StorageType,
		MailboxType:     c.MailboxType,
		MailboxConfig:   mailbox.RedisConfig{TTL: c.MailboxTTL},
		RetryPolicy:     retry,
		WebSocketConfig: ws.DefaultConfig(),
		RateLimit:       rateLimit,
	}
	if c.RedisURL != "" {
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = c.RedisURL
		cfg.RedisConfig = &redisCfg
	}
	return cfg
}

// Server builds the HTTP server settings
func (c Config) Server() api.ServerConfig {
	cfg := api.DefaultServerConfig()
	cfg.Host = c.Host
	cfg.Port = c.Port
	cfg.ShutdownTimeout = c.ShutdownTimeout
	return cfg
}
