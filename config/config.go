// Package config loads service settings from an optional file and TASKS_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis" validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains the Postgres connection settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
	Migrate      bool   `mapstructure:"migrate"`
}

// RedisConfig contains the cache connection settings. URL accepts the
// redis:// form or the "host:port,password=...,ssl=true" form.
type RedisConfig struct {
	URL          string        `mapstructure:"url" validate:"required"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" validate:"gt=0"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

// AuthConfig selects how bearer tokens are verified. When LocalSecret is set
// tokens are HS256 signed with it; otherwise Domain and Audience are required
// and keys come from the Auth0 JWKS endpoint.
type AuthConfig struct {
	Domain       string        `mapstructure:"domain"`
	Audience     string        `mapstructure:"audience"`
	LocalSecret  string        `mapstructure:"local_secret" validate:"omitempty,min=32"`
	JWKSCacheTTL time.Duration `mapstructure:"jwks_cache_ttl" validate:"gte=0"`
}

// TelemetryConfig configures trace export. Tracing stays in-process when
// OTLPEndpoint is empty.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

var validate = validator.New()

// Load reads configuration from path (if non-empty) and the environment.
// Environment variables take precedence, e.g. TASKS_DATABASE_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TASKS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and the auth mode.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Auth.LocalSecret == "" && (c.Auth.Domain == "" || c.Auth.Audience == "") {
		return errors.New("invalid config: auth.domain and auth.audience are required unless auth.local_secret is set")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis.dial_timeout", 500*time.Millisecond)
	v.SetDefault("redis.read_timeout", 250*time.Millisecond)
	v.SetDefault("redis.write_timeout", 250*time.Millisecond)
	v.SetDefault("auth.jwks_cache_ttl", 15*time.Minute)
	v.SetDefault("telemetry.service_name", "tasks-api")
}

// bindEnv registers keys without defaults so AutomaticEnv picks them up
// during Unmarshal.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"database.url",
		"redis.url",
		"auth.domain",
		"auth.audience",
		"auth.local_secret",
		"telemetry.otlp_endpoint",
	} {
		_ = v.BindEnv(key)
	}
}
