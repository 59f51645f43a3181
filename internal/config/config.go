package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	// HTTP Server
	Port            string        `validate:"required,numeric"`
	ShutdownTimeout time.Duration `validate:"min=1s,max=5m"`

	// Backend selection
	DataBackend  string `validate:"oneof=memory sqlite postgres"`
	SQLiteDBPath string
	DatabaseURL  string

	// AMQP; publishing is disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Sessions
	SessionTTL   time.Duration `validate:"min=1m"`
	SecureCookie bool

	// Login and register requests per minute per client IP
	AuthRateLimit int `validate:"min=1,max=10000"`

	// Logging
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`
}

func Load() *Config {
	return &Config{
		Port:            getEnv("PORT", "8080"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DataBackend:  strings.ToLower(getEnv("DATA_BACKEND", BackendMemory)),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/cashbook.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "cashbook"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "cashbook_events"),

		SessionTTL:   getEnvDuration("SESSION_TTL", 168*time.Hour),
		SecureCookie: getEnvBool("SECURE_COOKIE", false),

		AuthRateLimit: getEnvInt("AUTH_RATE_LIMIT", 20),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate configuration: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	if port, err := strconv.Atoi(c.Port); err == nil && (port < 1 || port > 65535) {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DataBackend {
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			problems = append(problems, "SQLITE_DB_PATH cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				problems = append(problems, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
			}
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			problems = append(problems, "invalid DATABASE_URL: must be a postgres:// or postgresql:// URL")
		}
	}

	if c.AMQPURL != "" {
		if u, err := url.Parse(c.AMQPURL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL: %v", err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
		}
		if c.AMQPExchange == "" {
			problems = append(problems, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			problems = append(problems, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// Persistent reports whether the selected backend survives a restart.
func (c *Config) Persistent() bool {
	return c.DataBackend != BackendMemory
}

var envNames = map[string]string{
	"Port":            "PORT",
	"ShutdownTimeout": "SHUTDOWN_TIMEOUT",
	"DataBackend":     "DATA_BACKEND",
	"SessionTTL":      "SESSION_TTL",
	"AuthRateLimit":   "AUTH_RATE_LIMIT",
	"LogLevel":        "LOG_LEVEL",
	"LogFormat":       "LOG_FORMAT",
}

func describe(fe validator.FieldError) string {
	name := envNames[fe.StructField()]
	if name == "" {
		name = fe.StructField()
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "numeric":
		return fmt.Sprintf("invalid %s '%v': must be a number", name, fe.Value())
	case "oneof":
		return fmt.Sprintf("invalid %s '%v': must be one of [%s]", name, fe.Value(), fe.Param())
	case "min":
		return fmt.Sprintf("invalid %s %v: must be at least %s", name, fe.Value(), fe.Param())
	case "max":
		return fmt.Sprintf("invalid %s %v: must be at most %s", name, fe.Value(), fe.Param())
	default:
		return fmt.Sprintf("invalid %s: failed %s", name, fe.Tag())
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
