package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

type Config struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	AllowedOrigin  string        `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	AutoMigrate    bool          `envconfig:"AUTO_MIGRATE" default:"false"`
	RedisAddr      string        `envconfig:"REDIS_ADDR"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
	ManagerPIN     string        `envconfig:"MANAGER_PIN"`
	LoginRateLimit int           `envconfig:"LOGIN_RATE_LIMIT" default:"10"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	Timezone             string        `envconfig:"TIMEZONE" default:"Asia/Jakarta"`
	AllowNegativeStock   bool          `envconfig:"ALLOW_NEGATIVE_STOCK" default:"true"`
	LockBackend          string        `envconfig:"LOCK_BACKEND" default:"memory"`
	LockWaitTimeout      time.Duration `envconfig:"LOCK_WAIT_TIMEOUT" default:"3s"`
	LockTTL              time.Duration `envconfig:"LOCK_TTL" default:"15s"`
	RetryMaxAttempts     uint64        `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay       time.Duration `envconfig:"RETRY_BASE_DELAY" default:"50ms"`
	RulesCacheTTL        time.Duration `envconfig:"RULES_CACHE_TTL" default:"30s"`
	ClosingDefaultStatus string        `envconfig:"CLOSING_DEFAULT_STATUS" default:"approved"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)
	cfg.LockBackend = strings.ToLower(strings.TrimSpace(cfg.LockBackend))
	cfg.ClosingDefaultStatus = strings.ToLower(strings.TrimSpace(cfg.ClosingDefaultStatus))

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LockBackend {
	case LockBackendMemory:
	case LockBackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("LOCK_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unsupported LOCK_BACKEND %q", c.LockBackend)
	}
	switch c.ClosingDefaultStatus {
	case "approved", "pending":
	default:
		return fmt.Errorf("unsupported CLOSING_DEFAULT_STATUS %q", c.ClosingDefaultStatus)
	}
	if c.LockWaitTimeout <= 0 {
		return fmt.Errorf("LOCK_WAIT_TIMEOUT must be positive")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// Location is the business-day timezone. Load has already validated it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
