package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// DefaultQueue is the queue tasks are published to when none is configured.
const DefaultQueue = "default"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// The baked-in "port" rule only handles integer fields.
	if err := v.RegisterValidation("tcp_port", isTCPPort); err != nil {
		panic(err)
	}
	return v
}

// isTCPPort accepts decimal strings in 1..65535.
func isTCPPort(fl validator.FieldLevel) bool {
	n, err := strconv.ParseUint(fl.Field().String(), 10, 16)
	return err == nil && n > 0
}

type Config struct {
	RabbitMQUser     string `validate:"required"`
	RabbitMQPassword string
	RabbitMQHost     string `validate:"required,hostname_rfc1123|ip"`
	RabbitMQPort     string `validate:"required,tcp_port"`
	RabbitMQVHost    string `validate:"required"`

	// Zero means the client default.
	RabbitMQHeartbeatSeconds      int `validate:"gte=0"`
	RabbitMQConnectTimeoutSeconds int `validate:"gte=0"`

	DefaultQueue string `validate:"required,max=255"`

	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string `validate:"omitempty,tcp_port"`
	DBDatabase string
}

// ConfigurationError reports a missing or malformed configuration value.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// It's okay if .env doesn't exist, we might be using real env vars
		fmt.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		RabbitMQUser:     getenv("RABBITMQ_USER", "guest"),
		RabbitMQPassword: getenv("RABBITMQ_PASSWORD", "guest"),
		RabbitMQHost:     getenv("RABBITMQ_HOST", "localhost"),
		RabbitMQPort:     getenv("RABBITMQ_PORT", "5672"),
		RabbitMQVHost:    getenv("RABBITMQ_VHOST", "/"),

		DefaultQueue: getenv("TASK_DEFAULT_QUEUE", DefaultQueue),

		DBUser:     os.Getenv("DB_USERNAME"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBDatabase: os.Getenv("DB_DATABASE"),
	}

	var err error
	if cfg.RabbitMQHeartbeatSeconds, err = getenvInt("RABBITMQ_HEARTBEAT_SECONDS"); err != nil {
		return nil, err
	}
	if cfg.RabbitMQConnectTimeoutSeconds, err = getenvInt("RABBITMQ_CONNECT_TIMEOUT_SECONDS"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags and returns the first violation as a
// *ConfigurationError.
func (c *Config) Validate() error {
	if c == nil {
		return &ConfigurationError{Err: errors.New("config cannot be nil")}
	}
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ConfigurationError{
			Field: fe.Field(),
			Err:   fmt.Errorf("failed on the %q rule", fe.Tag()),
		}
	}
	return &ConfigurationError{Err: err}
}

func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.RabbitMQHeartbeatSeconds) * time.Second
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.RabbitMQConnectTimeoutSeconds) * time.Second
}

func (c *Config) GetDSN() string {
	port := c.DBPort
	if port == "" {
		// Default to the common Postgres port if none was provided to avoid
		// accidental token merging (e.g. "port= sslmode=disable" being
		// parsed incorrectly as the port value).
		port = "5432"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost,
		c.DBUser,
		c.DBPassword,
		c.DBDatabase,
		port,
	)
}

// DatabaseConfigured reports whether enough DB settings exist to open a connection.
func (c *Config) DatabaseConfigured() bool {
	return c.DBHost != "" && c.DBDatabase != ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ConfigurationError{Field: key, Err: err}
	}
	return v, nil
}
