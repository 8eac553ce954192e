// Package config loads client settings from the environment and an optional
// .env file.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable of the chat client.
type Config struct {
	APIURL         string        `envconfig:"CHAT_API_URL" default:"http://127.0.0.1:8000" validate:"required,url"`
	WSURL          string        `envconfig:"CHAT_WS_URL" validate:"omitempty,url"`
	ReconnectDelay time.Duration `envconfig:"CHAT_RECONNECT_DELAY" default:"2s" validate:"gt=0"`
	HTTPTimeout    time.Duration `envconfig:"CHAT_HTTP_TIMEOUT" default:"10s" validate:"gt=0"`
	SessionFile    string        `envconfig:"CHAT_SESSION_FILE"`
	DeviceID       string        `envconfig:"CHAT_DEVICE_ID"`
	LogLevel       string        `envconfig:"CHAT_LOG_LEVEL" default:"warn" validate:"oneof=debug info warn error"`

	AMQPURL         string `envconfig:"AMQP_URL"`
	AuditExchange   string `envconfig:"AUDIT_EXCHANGE" default:"chat.audit" validate:"required"`
	AuditRoutingKey string `envconfig:"AUDIT_ROUTING_KEY" default:"audit.chat-client" validate:"required"`
	Environment     string `envconfig:"APP_ENV" default:"local"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	MetricsAddr  string `envconfig:"METRICS_ADDR"`
}

var validate = validator.New()

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) normalize() error {
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.WSURL == "" {
		ws, err := WebsocketURL(c.APIURL)
		if err != nil {
			return err
		}
		c.WSURL = ws
	}
	c.WSURL = strings.TrimRight(c.WSURL, "/")

	if c.SessionFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve session file: %w", err)
		}
		c.SessionFile = filepath.Join(home, ".chat-client", "session.json")
	}
	return nil
}

// SlogLevel maps LogLevel onto slog.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelWarn
	}
	return level
}

// WebsocketURL derives the push base URL from an http(s) API URL.
func WebsocketURL(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported api url scheme %q", u.Scheme)
	}
	return strings.TrimRight(u.String(), "/"), nil
}
