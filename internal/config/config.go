// Package config provides configuration loading and validation from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sipico/comms-gateway/internal/message"
)

// Config holds all settings of the gateway process.
type Config struct {
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"info"`                     // debug, info, warn, error
	ListenAddr        string        `envconfig:"LISTEN_ADDR" default:"127.0.0.1:9810"`         // Gateway listen address
	DatabasePath      string        `envconfig:"DATABASE_PATH" default:"gateway.db"`           // SQLite database path
	MetricsListenAddr string        `envconfig:"METRICS_LISTEN_ADDR" default:"localhost:9091"` // Empty disables the metrics listener
	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	WebhookTimeout    time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	MaxBodyBytes      int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`

	// Commands that deliver an approved message, one per channel. The
	// message is written to the command's stdin as JSON.
	SendCommandSMS      string `envconfig:"SEND_COMMAND_SMS"`
	SendCommandIMessage string `envconfig:"SEND_COMMAND_IMESSAGE"`
	SendCommandEmail    string `envconfig:"SEND_COMMAND_EMAIL"`

	// DryRun logs approved messages instead of running send commands.
	DryRun bool `envconfig:"DRY_RUN" default:"false"`
}

// Load parses configuration from environment variables.
// All configuration options have sensible defaults for ease of deployment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	return &cfg, nil
}

// Validate checks all configuration constraints.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("LISTEN_ADDR must not be empty"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("DATABASE_PATH must not be empty"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout))
	}
	if c.WebhookTimeout <= 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_TIMEOUT must be positive, got %s", c.WebhookTimeout))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", c.MaxBodyBytes))
	}
	if !c.DryRun && len(c.SendCommands()) == 0 {
		errs = append(errs, errors.New("at least one SEND_COMMAND_* is required unless DRY_RUN is set"))
	}
	return errors.Join(errs...)
}

// SendCommands returns the configured send command of each channel.
// Channels without a command are omitted.
func (c *Config) SendCommands() map[message.Channel]string {
	commands := make(map[message.Channel]string)
	for ch, line := range map[message.Channel]string{
		message.ChannelSMS:      c.SendCommandSMS,
		message.ChannelIMessage: c.SendCommandIMessage,
		message.ChannelEmail:    c.SendCommandEmail,
	} {
		if strings.TrimSpace(line) != "" {
			commands[ch] = line
		}
	}
	return commands
}

// ParseLevel converts a LOG_LEVEL value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid LOG_LEVEL %q (must be debug, info, warn or error)", s)
	}
}
