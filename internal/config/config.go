// Package config loads the process configuration: YAML file first, then
// environment overrides on top. Every field has a usable default so that a
// bare process starts against local dependencies.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Environment string         `yaml:"environment"`
	Server      ServerConfig   `yaml:"server"`
	Store       StoreConfig    `yaml:"store"`
	Database    DatabaseConfig `yaml:"database"`
	Logging     LoggingConfig  `yaml:"logging"`
	Queue       QueueConfig    `yaml:"queue"`
	Workers     WorkersConfig  `yaml:"workers"`
	SMTP        SMTPConfig     `yaml:"smtp"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host                 string   `yaml:"host"`
	Port                 int      `yaml:"port"`
	AllowedOrigins       []string `yaml:"allowed_origins"`
	ShutdownGraceSeconds int      `yaml:"shutdown_grace_seconds"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// ShutdownGrace is how long in-flight work may drain on stop.
func (s ServerConfig) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceSeconds) * time.Second
}

// StoreConfig holds the shared-store (Redis) connection settings.
type StoreConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr is the store connection address.
func (s StoreConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// DatabaseConfig holds the durable-store connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// LoggingConfig holds the logger settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
	Console    bool   `yaml:"console"`
}

// QueueConfig holds the per-queue engine settings.
type QueueConfig struct {
	Concurrency         int `yaml:"concurrency"`
	MaxQueueSize        int `yaml:"max_queue_size"`
	RemoveOnComplete    int `yaml:"remove_on_complete"`
	RemoveOnFail        int `yaml:"remove_on_fail"`
	StallTimeoutSeconds int `yaml:"stall_timeout_seconds"`
}

// StallTimeout declares an active job stalled past this heartbeat age.
func (q QueueConfig) StallTimeout() time.Duration {
	return time.Duration(q.StallTimeoutSeconds) * time.Second
}

// WorkersConfig controls the background worker lifecycle.
type WorkersConfig struct {
	Start *bool `yaml:"start"`
}

// StartEnabled reports whether workers run in this process. Unset defaults
// to on in production and off elsewhere.
func (w WorkersConfig) StartEnabled(environment string) bool {
	if w.Start != nil {
		return *w.Start
	}
	return environment == "production"
}

// SMTPConfig holds the outbound mail transport settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

func defaults() Config {
	return Config{
		Environment: "development",
		Server: ServerConfig{
			Host:                 "0.0.0.0",
			Port:                 8080,
			ShutdownGraceSeconds: 30,
		},
		Store: StoreConfig{
			Host: "localhost",
			Port: 6379,
		},
		Logging: LoggingConfig{
			Level:   "INFO",
			Console: true,
		},
		Queue: QueueConfig{
			Concurrency:         5,
			MaxQueueSize:        10000,
			RemoveOnComplete:    100,
			RemoveOnFail:        500,
			StallTimeoutSeconds: 30,
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is
// not an error; env-only deployments carry no file.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	return &cfg, nil
}

// LoadFromEnv loads the file, then applies environment overrides. A .env
// file in the working directory is honored when present.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("SHUTDOWN_GRACE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.ShutdownGraceSeconds = n
		}
	}

	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Store.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.Port = n
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Store.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.DB = n
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOGGING_STRUCTURED"); v != "" {
		cfg.Logging.Structured = v == "true"
	}
	if v := os.Getenv("LOGGING_CONSOLE"); v != "" {
		cfg.Logging.Console = v == "true"
	}

	if v := os.Getenv("QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Concurrency = n
		}
	}
	if v := os.Getenv("QUEUE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxQueueSize = n
		}
	}

	if v := os.Getenv("START_WORKERS"); v != "" {
		enabled := v == "true"
		cfg.Workers.Start = &enabled
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SMTP.Port = n
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.SMTP.From = v
	}

	return cfg, nil
}
