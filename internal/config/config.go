// Package config loads heraldd settings from a YAML file and HERALD_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/xraph/herald"
)

// EnvPrefix prefixes every environment override, e.g. HERALD_STORE_DRIVER.
const EnvPrefix = "HERALD"

// Config is the daemon configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Engine  EngineConfig  `mapstructure:"engine"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`

	// BasePath is where the management API is mounted.
	BasePath        string        `mapstructure:"base_path" validate:"startswith=/"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type StoreConfig struct {
	Driver   string      `mapstructure:"driver" validate:"oneof=memory redis postgres sqlite mongo"`
	Redis    RedisConfig `mapstructure:"redis"`
	Postgres DSNConfig   `mapstructure:"postgres"`
	SQLite   DSNConfig   `mapstructure:"sqlite"`
	Mongo    DSNConfig   `mapstructure:"mongo"`
}

// DSNConfig locates a grove-backed database. For mongo the DSN is a
// connection URI naming the database in its path.
type DSNConfig struct {
	DSN string `mapstructure:"dsn" validate:"required_if=Enabled true"`

	// Enabled is derived from Store.Driver.
	Enabled bool `mapstructure:"-"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`

	// Enabled is derived from Store.Driver.
	Enabled bool `mapstructure:"-"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"startswith=/"`
}

// EngineConfig mirrors herald.Config. Zero values keep the library
// defaults.
type EngineConfig struct {
	Concurrency          int           `mapstructure:"concurrency" validate:"gte=0"`
	PollInterval         time.Duration `mapstructure:"poll_interval" validate:"gte=0"`
	BatchSize            int           `mapstructure:"batch_size" validate:"gte=0"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout" validate:"gte=0"`
	MaxAttempts          int           `mapstructure:"max_attempts" validate:"gte=0,lte=50"`
	BackoffBase          time.Duration `mapstructure:"backoff_base" validate:"gte=0"`
	BackoffCeiling       time.Duration `mapstructure:"backoff_ceiling" validate:"gte=0"`
	BackoffJitter        float64       `mapstructure:"backoff_jitter" validate:"gte=0,lt=1"`
	ClaimTimeout         time.Duration `mapstructure:"claim_timeout" validate:"gte=0"`
	FailureThreshold     int           `mapstructure:"failure_threshold" validate:"gte=0"`
	SecretGracePeriod    time.Duration `mapstructure:"secret_grace_period" validate:"gte=0"`
	ResponseExcerptLimit int           `mapstructure:"response_excerpt_limit" validate:"gte=0"`
	CacheTTL             time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
}

// Default returns the settings used when neither file nor environment set
// a key.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			BasePath:        "/webhooks",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
			Redis:  RedisConfig{Addr: "localhost:6379"},
			SQLite: DSNConfig{DSN: "file:herald.db?_pragma=busy_timeout(5000)"},
			Mongo:  DSNConfig{DSN: "mongodb://localhost:27017/herald"},
		},
		Log:     LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads path, if not empty, then applies HERALD_* overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	c.Store.Redis.Enabled = c.Store.Driver == "redis"
	c.Store.Postgres.Enabled = c.Store.Driver == "postgres"
	c.Store.SQLite.Enabled = c.Store.Driver == "sqlite"
	c.Store.Mongo.Enabled = c.Store.Driver == "mongo"
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("config: %s fails %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// HeraldConfig overlays the engine settings on herald.DefaultConfig.
func (c *Config) HeraldConfig() herald.Config {
	hc := herald.DefaultConfig()
	e := c.Engine
	if e.Concurrency > 0 {
		hc.Concurrency = e.Concurrency
	}
	if e.PollInterval > 0 {
		hc.PollInterval = e.PollInterval
	}
	if e.BatchSize > 0 {
		hc.BatchSize = e.BatchSize
	}
	if e.RequestTimeout > 0 {
		hc.RequestTimeout = e.RequestTimeout
	}
	if e.MaxAttempts > 0 {
		hc.MaxAttempts = e.MaxAttempts
	}
	if e.BackoffBase > 0 {
		hc.BackoffBase = e.BackoffBase
	}
	if e.BackoffCeiling > 0 {
		hc.BackoffCeiling = e.BackoffCeiling
	}
	if e.BackoffJitter > 0 {
		hc.BackoffJitter = e.BackoffJitter
	}
	if e.ClaimTimeout > 0 {
		hc.ClaimTimeout = e.ClaimTimeout
	}
	if e.FailureThreshold > 0 {
		hc.FailureThreshold = e.FailureThreshold
	}
	if e.SecretGracePeriod > 0 {
		hc.SecretGracePeriod = e.SecretGracePeriod
	}
	if e.ResponseExcerptLimit > 0 {
		hc.ResponseExcerptLimit = e.ResponseExcerptLimit
	}
	if e.CacheTTL > 0 {
		hc.CacheTTL = e.CacheTTL
	}
	hc.ShutdownTimeout = c.Server.ShutdownTimeout
	return hc
}

// SlogLevel maps Log.Level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
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

// setDefaults registers every key so AutomaticEnv can override keys the
// file does not mention.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.redis.addr", d.Store.Redis.Addr)
	v.SetDefault("store.redis.password", d.Store.Redis.Password)
	v.SetDefault("store.redis.db", d.Store.Redis.DB)
	v.SetDefault("store.postgres.dsn", d.Store.Postgres.DSN)
	v.SetDefault("store.sqlite.dsn", d.Store.SQLite.DSN)
	v.SetDefault("store.mongo.dsn", d.Store.Mongo.DSN)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)

	e := d.Engine
	v.SetDefault("engine.concurrency", e.Concurrency)
	v.SetDefault("engine.poll_interval", e.PollInterval)
	v.SetDefault("engine.batch_size", e.BatchSize)
	v.SetDefault("engine.request_timeout", e.RequestTimeout)
	v.SetDefault("engine.max_attempts", e.MaxAttempts)
	v.SetDefault("engine.backoff_base", e.BackoffBase)
	v.SetDefault("engine.backoff_ceiling", e.BackoffCeiling)
	v.SetDefault("engine.backoff_jitter", e.BackoffJitter)
	v.SetDefault("engine.claim_timeout", e.ClaimTimeout)
	v.SetDefault("engine.failure_threshold", e.FailureThreshold)
	v.SetDefault("engine.secret_grace_period", e.SecretGracePeriod)
	v.SetDefault("engine.response_excerpt_limit", e.ResponseExcerptLimit)
	v.SetDefault("engine.cache_ttl", e.CacheTTL)
}
