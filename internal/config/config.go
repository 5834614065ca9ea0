// Package config loads chatd settings from CHATD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/remote-chat/backend/internal/reconnect"
	"github.com/remote-chat/backend/internal/session"
)

// Config is the daemon configuration.
type Config struct {
	Port     string `env:"CHATD_PORT" envDefault:"8080"`
	DBPath   string `env:"CHATD_DB_PATH" envDefault:"data/chatd.db"`
	LogDir   string `env:"CHATD_LOG_DIR" envDefault:"data/transcripts"`
	LogLevel string `env:"CHATD_LOG_LEVEL" envDefault:"info"`

	// ServerURL is the chat server WebSocket endpoint.
	ServerURL   string `env:"CHATD_SERVER_URL"`
	Credential  string `env:"CHATD_CREDENTIAL"`
	UserID      string `env:"CHATD_USER_ID"`
	AutoConnect bool   `env:"CHATD_AUTO_CONNECT" envDefault:"false"`
	Record      bool   `env:"CHATD_RECORD" envDefault:"false"`

	// AllowedOrigins limits which browser origins may attach to /api/events.
	// Empty allows every origin.
	AllowedOrigins []string `env:"CHATD_ALLOWED_ORIGINS" envSeparator:","`

	ConnectTimeout    time.Duration `env:"CHATD_CONNECT_TIMEOUT" envDefault:"10s"`
	AckTimeout        time.Duration `env:"CHATD_ACK_TIMEOUT" envDefault:"10s"`
	HeartbeatInterval time.Duration `env:"CHATD_HEARTBEAT_INTERVAL" envDefault:"25s"`
	HeartbeatTimeout  time.Duration `env:"CHATD_HEARTBEAT_TIMEOUT" envDefault:"8s"`

	BackoffBase   time.Duration `env:"CHATD_BACKOFF_BASE" envDefault:"1s"`
	BackoffFactor float64       `env:"CHATD_BACKOFF_FACTOR" envDefault:"2"`
	BackoffMax    time.Duration `env:"CHATD_BACKOFF_MAX" envDefault:"30s"`
	BackoffJitter float64       `env:"CHATD_BACKOFF_JITTER" envDefault:"0.3"`

	QueueCapacity   int           `env:"CHATD_QUEUE_CAPACITY" envDefault:"200"`
	QueueStaleAfter time.Duration `env:"CHATD_QUEUE_STALE_AFTER" envDefault:"60s"`
	TypingTimeout   time.Duration `env:"CHATD_TYPING_TIMEOUT" envDefault:"5s"`
	ReceiptDebounce time.Duration `env:"CHATD_RECEIPT_DEBOUNCE" envDefault:"800ms"`
	DedupWindow     int           `env:"CHATD_DEDUP_WINDOW" envDefault:"512"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot.
func (c Config) Validate() error {
	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		if err != nil {
			return fmt.Errorf("invalid CHATD_SERVER_URL: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("CHATD_SERVER_URL must use ws or wss, got %q", u.Scheme)
		}
	}
	if c.AutoConnect && (c.ServerURL == "" || c.Credential == "") {
		return errors.New("CHATD_AUTO_CONNECT requires CHATD_SERVER_URL and CHATD_CREDENTIAL")
	}
	if c.BackoffJitter < 0 || c.BackoffJitter > 1 {
		return fmt.Errorf("CHATD_BACKOFF_JITTER must be between 0 and 1, got %v", c.BackoffJitter)
	}
	if c.HeartbeatTimeout <= 0 || c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval and timeout must be positive")
	}
	return nil
}

// SessionConfig maps the daemon settings onto a session configuration.
func (c Config) SessionConfig() session.Config {
	jitter := c.BackoffJitter
	if jitter == 0 {
		jitter = reconnect.NoJitter
	}
	return session.Config{
		URL:               c.ServerURL,
		UserID:            c.UserID,
		ConnectTimeout:    c.ConnectTimeout,
		AckTimeout:        c.AckTimeout,
		HeartbeatInterval: c.HeartbeatInterval,
		HeartbeatTimeout:  c.HeartbeatTimeout,
		Backoff: reconnect.Policy{
			Base:        c.BackoffBase,
			Factor:      c.BackoffFactor,
			Max:         c.BackoffMax,
			JitterRatio: jitter,
		},
		QueueCapacity:   c.QueueCapacity,
		QueueStaleAfter: c.QueueStaleAfter,
		TypingTimeout:   c.TypingTimeout,
		ReceiptDebounce: c.ReceiptDebounce,
		DedupWindow:     c.DedupWindow,
	}
}

// SlogLevel returns the configured log level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
