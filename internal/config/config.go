// Package config loads the bluquist server configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bluquist/bluquist"
	"github.com/go-playground/validator/v10"
)

// Config is the complete server configuration: the engine's own settings
// under auth plus everything needed to stand up its dependencies.
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Redis    RedisConfig     `mapstructure:"redis"`
	Database DatabaseConfig  `mapstructure:"database"`
	Log      LogConfig       `mapstructure:"log"`
	Auth     bluquist.Config `mapstructure:"auth"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	// PublicRate is requests per second per client IP on public routes.
	// Zero disables the throttle.
	PublicRate  float64 `mapstructure:"public_rate" validate:"gte=0"`
	PublicBurst int     `mapstructure:"public_burst" validate:"gte=0"`

	Metrics bool `mapstructure:"metrics"`
}

// RedisConfig points at the shared session store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// DatabaseConfig selects the user and team store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`
}

// Default returns the built-in configuration used when no file or
// environment override says otherwise.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			PublicRate:      5,
			PublicBurst:     20,
			Metrics:         true,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "bluquist.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Auth: bluquist.DefaultConfig(),
	}
}

// Validate checks the server sections by tag and the auth section with
// its own rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	for name, section := range map[string]any{
		"server":   &c.Server,
		"redis":    &c.Redis,
		"database": &c.Database,
		"log":      &c.Log,
	} {
		if err := v.Struct(section); err != nil {
			return fmt.Errorf("%s: %w", name, describe(err))
		}
	}

	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		if e.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", e.Field(), e.Tag(), e.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", e.Field(), e.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// NewLogger builds the configured handler writing to w.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
