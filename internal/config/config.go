// Package config provides server configuration loaded from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// DotenvFileEnv names the variable pointing at the optional .env file.
const DotenvFileEnv = "RPC_DOTENV_FILE"

// Config holds rpc-dispatch configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"rpc-dispatch"`

	// Subjects: entry points listen on <prefix>.<entrypoint>.<jsonrpc|xmlrpc>.
	SubjectPrefix      string `envconfig:"RPC_SUBJECT_PREFIX" default:"rpc"`
	QueueGroup         string `envconfig:"RPC_QUEUE_GROUP" default:"rpc-dispatch"`
	ChangeEventSubject string `envconfig:"RPC_CHANGE_EVENT_SUBJECT"`

	// Timeouts
	RequestTimeout time.Duration `envconfig:"RPC_REQUEST_TIMEOUT" default:"25s"`

	// Bootstrap
	BootstrapFile string `envconfig:"RPC_BOOTSTRAP_FILE"`

	// HTTP entry points and health endpoints (RPC_HTTP_ADDR preferred, e.g. "0.0.0.0:8080")
	HTTPAddr           string        `envconfig:"RPC_HTTP_ADDR"`
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Telemetry
	OtelStdout         bool          `envconfig:"OTEL_STDOUT" default:"false"`
	OtelMetricInterval time.Duration `envconfig:"OTEL_METRIC_INTERVAL" default:"60s"`
}

// LoadConfig loads the optional .env file (RPC_DOTENV_FILE, default ".env")
// and then configuration from environment variables. Variables already set
// in the environment win over the file.
func LoadConfig() (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	return &c, nil
}

func loadDotenv() error {
	path := os.Getenv(DotenvFileEnv)
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%s - failed to load %s: %w", logPrefix, path, err)
	}
	slog.Debug(fmt.Sprintf("%s - Loaded environment from %s", logPrefix, path))
	return nil
}

// ValidateForServe checks required config when running the server.
func (c *Config) ValidateForServe() error {
	if c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required for serve", logPrefix)
	}
	if c.SubjectPrefix == "" {
		return fmt.Errorf("%s - RPC_SUBJECT_PREFIX must not be empty", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - RPC_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.HTTPAddr == "" && (c.HTTPPort <= 0 || c.HTTPPort > 65535) {
		return fmt.Errorf("%s - HTTP_PORT must be between 1 and 65535", logPrefix)
	}
	return nil
}

// HTTPListenAddr returns the HTTP listen address.
func (c *Config) HTTPListenAddr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// SlogLevel maps LOG_LEVEL to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
