package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	EventStoreClickHouse = "clickhouse"
	EventStoreMemory     = "memory"
)

type ClickHouseConfig struct {
	Host       string `env:"CLICKHOUSE_HOST"`
	NativePort int    `env:"CLICKHOUSE_NATIVE_PORT" envDefault:"9000"`
	Database   string `env:"CLICKHOUSE_DB_NAME"`
	Username   string `env:"CLICKHOUSE_USERNAME" envDefault:"default"`
	Password   string `env:"CLICKHOUSE_PASSWORD"`
}

type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_TOPIC_FUNNEL_EVENTS" envDefault:"funnel.events"`
}

// Config holds all service configuration, read from the environment.
type Config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	GinMode         string        `env:"GIN_MODE"`
	AppEnv          string        `env:"APP_ENV" envDefault:"development"`
	EventStore      string        `env:"EVENT_STORE" envDefault:"clickhouse"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	RedisURL        string        `env:"REDIS_URL"`
	ReportCacheTTL  time.Duration `env:"REPORT_CACHE_TTL" envDefault:"5m"`
	AnalysisTimeout time.Duration `env:"ANALYSIS_TIMEOUT" envDefault:"30s"`
	JWTSecret       string        `env:"JWT_SECRET_KEY"`
	AuthDefault     string        `env:"AUTH_DEFAULT"`
	FrontendOrigin  string        `env:"FE_ORIGIN" envDefault:"http://localhost:3000"`

	ClickHouse ClickHouseConfig
	Kafka      KafkaConfig
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.EventStore = strings.ToLower(strings.TrimSpace(c.EventStore))
	switch c.EventStore {
	case EventStoreMemory:
	case EventStoreClickHouse:
		if c.ClickHouse.Host == "" || c.ClickHouse.Database == "" {
			return fmt.Errorf("CLICKHOUSE_HOST and CLICKHOUSE_DB_NAME are required when EVENT_STORE=%s", EventStoreClickHouse)
		}
	default:
		return fmt.Errorf("unsupported EVENT_STORE %q", c.EventStore)
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if c.AnalysisTimeout <= 0 {
		return fmt.Errorf("ANALYSIS_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.AppEnv == "production" }
