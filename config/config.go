// Package config loads jobq-service configuration from an optional
// YAML file, an optional .env file, then environment variables, in
// that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	MinPort = 1
	MaxPort = 65535
)

// Config is the complete configuration surface for cmd/jobq-service.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Queue    QueueConfig    `yaml:"queue"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	Admin    AdminConfig    `yaml:"admin"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AppConfig holds process metadata.
type AppConfig struct {
	Name        string `yaml:"name" env:"APP_NAME" envDefault:"jobq"`
	Environment string `yaml:"environment" env:"APP_ENV" envDefault:"development"`
}

// QueueConfig controls the processor's scheduling parameters.
type QueueConfig struct {
	Adapter        string `yaml:"adapter" env:"JOBQ_ADAPTER" envDefault:"memory"` // memory, sqlite, postgres, redis
	Concurrency    int    `yaml:"concurrency" env:"JOBQ_CONCURRENCY" envDefault:"4"`
	MonitorNetwork bool   `yaml:"monitor_network" env:"JOBQ_MONITOR_NETWORK" envDefault:"false"`
	IDGenerator    string `yaml:"id_generator" env:"JOBQ_ID_GENERATOR" envDefault:"uuid"` // uuid, ulid
}

// DatabaseConfig holds SQLite/Postgres connection settings, shared by
// sqliteadapter and pgadapter depending on Queue.Adapter.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN             string        `yaml:"dsn" env:"DB_DSN" envDefault:"jobq.db"`
	Host            string        `yaml:"host" env:"DB_HOST" envDefault:"localhost"`
	Port            int           `yaml:"port" env:"DB_PORT" envDefault:"5432"`
	User            string        `yaml:"user" env:"DB_USER"`
	Password        string        `yaml:"password" env:"DB_PASSWORD"`
	Database        string        `yaml:"database" env:"DB_NAME" envDefault:"jobq"`
	SSLMode         string        `yaml:"sslmode" env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
}

// RedisConfig holds redisadapter connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" envDefault:"0"`
	Key      string `yaml:"key" env:"REDIS_KEY" envDefault:"jobq"`
}

// AMQPConfig holds eventbridge connection and topology settings.
type AMQPConfig struct {
	Enabled           bool          `yaml:"enabled" env:"AMQP_ENABLED" envDefault:"false"`
	Host              string        `yaml:"host" env:"AMQP_HOST" envDefault:"localhost"`
	Port              int           `yaml:"port" env:"AMQP_PORT" envDefault:"5672"`
	User              string        `yaml:"user" env:"AMQP_USER" envDefault:"guest"`
	Password          string        `yaml:"password" env:"AMQP_PASSWORD" envDefault:"guest"`
	VHost             string        `yaml:"vhost" env:"AMQP_VHOST"`
	ExchangeName      string        `yaml:"exchange_name" env:"AMQP_EXCHANGE" envDefault:"jobq.events"`
	ExchangeType      string        `yaml:"exchange_type" env:"AMQP_EXCHANGE_TYPE" envDefault:"topic"`
	RoutingKeyPrefix  string        `yaml:"routing_key_prefix" env:"AMQP_ROUTING_KEY_PREFIX" envDefault:"jobq.event"`
	RetryAttempts     int           `yaml:"retry_attempts" env:"AMQP_RETRY_ATTEMPTS" envDefault:"5"`
	RetryInterval     time.Duration `yaml:"retry_interval" env:"AMQP_RETRY_INTERVAL" envDefault:"2s"`
	Heartbeat         time.Duration `yaml:"heartbeat" env:"AMQP_HEARTBEAT" envDefault:"10s"`
	PublishRetries    int           `yaml:"publish_retries" env:"AMQP_PUBLISH_RETRIES" envDefault:"3"`
	PublishRetryDelay time.Duration `yaml:"publish_retry_delay" env:"AMQP_PUBLISH_RETRY_DELAY" envDefault:"100ms"`
}

// AdminConfig controls the adminapi HTTP surface.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" env:"ADMIN_ENABLED" envDefault:"true"`
	Addr    string `yaml:"addr" env:"ADMIN_ADDR" envDefault:":8081"`
}

// LoggingConfig controls the jobq/logging handler.
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LOG_LEVEL" envDefault:"info"`
	Format       string `yaml:"format" env:"LOG_FORMAT" envDefault:"console"`
	Output       string `yaml:"output" env:"LOG_OUTPUT" envDefault:"stdout"`
	EnableSource bool   `yaml:"enable_source" env:"LOG_ENABLE_SOURCE" envDefault:"false"`
}

// Load reads yamlPath (if non-empty and present), dotenvPath (if
// non-empty and present), then applies environment variables on top
// via struct tags, with envDefault as the final fallback.
func Load(yamlPath, dotenvPath string) (*Config, error) {
	var cfg Config

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("jobq: parse config file %q: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("jobq: read config file %q: %w", yamlPath, err)
		}
	}

	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("jobq: load env file %q: %w", dotenvPath, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("jobq: parse environment: %w", err)
	}

	return &cfg, nil
}

// Validate checks invariants that the core relies on at startup.
func (c *Config) Validate() error {
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("jobq: queue.concurrency must be greater than 0")
	}

	switch c.Queue.Adapter {
	case "memory", "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("jobq: unknown queue.adapter %q", c.Queue.Adapter)
	}

	if c.Queue.Adapter == "postgres" {
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("jobq: invalid database port: %d", c.Database.Port)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("jobq: database.database is required for the postgres adapter")
		}
	}

	if c.AMQP.Enabled {
		if c.AMQP.Port < MinPort || c.AMQP.Port > MaxPort {
			return fmt.Errorf("jobq: invalid amqp port: %d", c.AMQP.Port)
		}
		if c.AMQP.ExchangeName == "" {
			return fmt.Errorf("jobq: amqp.exchange_name is required when amqp is enabled")
		}
	}

	return nil
}
