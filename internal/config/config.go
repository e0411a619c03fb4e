// Package config loads service configuration from the environment, optionally
// layered over a YAML file named by CONFIG_PATH.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string    `yaml:"env" env:"ENV" env-default:"local"`
	LogLevel string    `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	HTTP     HTTP      `yaml:"http"`
	Postgres Postgres  `yaml:"postgres"`
	Kafka    Kafka     `yaml:"kafka"`
	Tracing  Tracing   `yaml:"tracing"`
	Payment  Payment   `yaml:"payment"`
	Delivery Delivery  `yaml:"delivery"`
	Auth     Auth      `yaml:"auth"`
	Gateway  Upstreams `yaml:"gateway"`
}

type HTTP struct {
	Port            string        `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type Postgres struct {
	URL    string `yaml:"url" env:"POSTGRES_URL"`
	Schema string `yaml:"schema" env:"POSTGRES_SCHEMA"`
}

type Kafka struct {
	Brokers         []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	ClientID        string   `yaml:"client_id" env:"KAFKA_CLIENT_ID" env-default:"shoplite"`
	MaxRedeliveries int      `yaml:"max_redeliveries" env:"KAFKA_MAX_REDELIVERIES" env-default:"5"`
}

type Tracing struct {
	Enabled  bool   `yaml:"enabled" env:"TRACING_ENABLED" env-default:"false"`
	Endpoint string `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4317"`
}

type Payment struct {
	URL      string        `yaml:"url" env:"PAYMENT_PROVIDER_URL"`
	APIKey   string        `yaml:"api_key" env:"PAYMENT_API_KEY"`
	Currency string        `yaml:"currency" env:"PAYMENT_CURRENCY" env-default:"usd"`
	Timeout  time.Duration `yaml:"timeout" env:"PAYMENT_TIMEOUT" env-default:"15s"`
}

type Delivery struct {
	EmailServiceURL string        `yaml:"email_service_url" env:"EMAIL_SERVICE_URL"`
	Timeout         time.Duration `yaml:"timeout" env:"DELIVERY_TIMEOUT" env-default:"10s"`
	MaxFailures     uint32        `yaml:"max_failures" env:"DELIVERY_BREAKER_MAX_FAILURES" env-default:"5"`
	OpenTimeout     time.Duration `yaml:"open_timeout" env:"DELIVERY_BREAKER_OPEN_TIMEOUT" env-default:"30s"`
}

type Auth struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

type Upstreams struct {
	OrdersURL   string `yaml:"orders_url" env:"ORDERS_SERVICE_URL"`
	ProductsURL string `yaml:"products_url" env:"PRODUCTS_SERVICE_URL"`
	CartsURL    string `yaml:"carts_url" env:"CARTS_SERVICE_URL"`
}

// Load reads CONFIG_PATH when set, then applies environment overrides.
func Load() (*Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads the configuration and exits the process on failure.
func MustLoad(logger *slog.Logger) *Config {
	cfg, err := Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	return cfg
}

// Require returns an error naming the first empty value.
func Require(values map[string]string) error {
	var errs []error
	for name, v := range values {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) PortOr(fallback string) string {
	if c.HTTP.Port == "" {
		return fallback
	}
	return c.HTTP.Port
}

func (c *Config) SchemaOr(fallback string) string {
	if c.Postgres.Schema == "" {
		return fallback
	}
	return c.Postgres.Schema
}

func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
