// Package config loads and validates the DragonSync configuration. The file
// format is YAML with ${VAR} environment expansion, so secrets like sink
// tokens can stay out of the file itself.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jlrjr/DragonSync/cotsender"
	"github.com/jlrjr/DragonSync/errors"
	"github.com/jlrjr/DragonSync/input/telemetry"
	"github.com/jlrjr/DragonSync/sink/entitysink"
	"github.com/jlrjr/DragonSync/sink/natssink"
	"github.com/jlrjr/DragonSync/sink/wssink"
)

// Config is the full service configuration
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	NATS        NATSConfig        `yaml:"nats"`
	Input       telemetry.Config  `yaml:"input"`
	Tracker     TrackerConfig     `yaml:"tracker"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	CoT         CoTConfig         `yaml:"cot"`
	Affiliation AffiliationConfig `yaml:"affiliation"`
	Sinks       SinksConfig       `yaml:"sinks"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// LoggingConfig controls the structured logger
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
	// Format is text or json
	Format string `yaml:"format"`
}

// SlogLevel maps the configured level to a slog.Level
func (c LoggingConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NATSConfig holds broker connection settings
type NATSConfig struct {
	URL string `yaml:"url"`
	// Name is the connection name reported to the server
	Name string `yaml:"name"`
	// MaxReconnects limits reconnect attempts, -1 means unlimited
	MaxReconnects int `yaml:"max_reconnects"`
	// ReconnectWaitSeconds is the delay between reconnect attempts
	ReconnectWaitSeconds float64 `yaml:"reconnect_wait_seconds"`
}

// ReconnectWait returns the reconnect delay as a duration
func (c NATSConfig) ReconnectWait() time.Duration {
	return time.Duration(c.ReconnectWaitSeconds * float64(time.Second))
}

// TrackerConfig bounds the drone registry and paces dispatch
type TrackerConfig struct {
	// MaxDrones caps the number of tracked drones before FIFO eviction
	MaxDrones int `yaml:"max_drones"`
	// RateLimitSeconds is the minimum interval between sends per drone
	RateLimitSeconds float64 `yaml:"rate_limit_seconds"`
	// InactivityTimeoutSeconds evicts drones not updated within this window
	InactivityTimeoutSeconds float64 `yaml:"inactivity_timeout_seconds"`
	// TickIntervalSeconds is the scheduler wakeup interval
	TickIntervalSeconds float64 `yaml:"tick_interval_seconds"`
}

// RateLimit returns the per-drone send interval as a duration
func (c TrackerConfig) RateLimit() time.Duration {
	return time.Duration(c.RateLimitSeconds * float64(time.Second))
}

// InactivityTimeout returns the eviction window as a duration
func (c TrackerConfig) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivityTimeoutSeconds * float64(time.Second))
}

// TickInterval returns the scheduler wakeup interval as a duration
func (c TrackerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds * float64(time.Second))
}

// DispatchConfig sizes the sink dispatch worker pool
type DispatchConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	// CallTimeoutSeconds bounds a single sink call
	CallTimeoutSeconds float64 `yaml:"call_timeout_seconds"`
}

// CallTimeout returns the per-call bound as a duration
func (c DispatchConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds * float64(time.Second))
}

// CoTConfig wraps the TAK sender settings with an enable switch
type CoTConfig struct {
	Enabled          bool `yaml:"enabled"`
	cotsender.Config `yaml:",inline"`
}

// AffiliationConfig points at the UID affiliation file
type AffiliationConfig struct {
	// Path is the YAML affiliation file, empty disables lookups
	Path string `yaml:"path"`
}

// SinksConfig enables and configures the downstream sinks
type SinksConfig struct {
	NATS   NATSSinkConfig   `yaml:"nats"`
	Entity EntitySinkConfig `yaml:"entity"`
	WS     WSSinkConfig     `yaml:"ws"`
}

// NATSSinkConfig wraps the broker sink settings with an enable switch
type NATSSinkConfig struct {
	Enabled         bool `yaml:"enabled"`
	natssink.Config `yaml:",inline"`
}

// EntitySinkConfig wraps the entity API sink settings with an enable switch
type EntitySinkConfig struct {
	Enabled           bool `yaml:"enabled"`
	entitysink.Config `yaml:",inline"`
}

// WSSinkConfig wraps the websocket sink settings with an enable switch
type WSSinkConfig struct {
	Enabled       bool `yaml:"enabled"`
	wssink.Config `yaml:",inline"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults. The NATS
// input is the only source, so its subject defaults are always populated.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		NATS: NATSConfig{
			URL:                  "nats://localhost:4222",
			Name:                 "dragonsync",
			MaxReconnects:        -1,
			ReconnectWaitSeconds: 2,
		},
		Input: telemetry.DefaultConfig(),
		Tracker: TrackerConfig{
			MaxDrones:                30,
			RateLimitSeconds:         1,
			InactivityTimeoutSeconds: 60,
			TickIntervalSeconds:      0.1,
		},
		Dispatch: DispatchConfig{
			Workers:            4,
			QueueSize:          256,
			CallTimeoutSeconds: 5,
		},
		CoT: CoTConfig{
			Enabled: false,
			Config:  cotsender.DefaultConfig(),
		},
		Sinks: SinksConfig{
			NATS:   NATSSinkConfig{Enabled: true, Config: natssink.DefaultConfig()},
			Entity: EntitySinkConfig{Enabled: false, Config: entitysink.DefaultConfig()},
			WS:     WSSinkConfig{Enabled: false, Config: wssink.DefaultConfig()},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Load reads a YAML configuration file, expands ${VAR} references from the
// environment, applies it over the defaults, and validates the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WrapFatal(err, "Config", "Load", "read "+path)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, errors.WrapInvalid(err, "Config", "Load", "parse "+path)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unknown log level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unknown log format %q", c.Logging.Format))
	}

	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"nats url is required")
	}
	if c.NATS.ReconnectWaitSeconds < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"nats reconnect_wait_seconds must not be negative")
	}

	if err := c.Input.Validate(); err != nil {
		return err
	}

	if c.Tracker.MaxDrones <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"tracker max_drones must be positive")
	}
	if c.Tracker.RateLimitSeconds <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"tracker rate_limit_seconds must be positive")
	}
	if c.Tracker.InactivityTimeoutSeconds <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"tracker inactivity_timeout_seconds must be positive")
	}
	if c.Tracker.TickIntervalSeconds <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"tracker tick_interval_seconds must be positive")
	}

	if c.Dispatch.Workers <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"dispatch workers must be positive")
	}
	if c.Dispatch.QueueSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"dispatch queue_size must be positive")
	}
	if c.Dispatch.CallTimeoutSeconds <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"dispatch call_timeout_seconds must be positive")
	}

	if c.CoT.Enabled {
		if err := c.CoT.Config.Validate(); err != nil {
			return err
		}
	}
	if c.Sinks.NATS.Enabled {
		if err := c.Sinks.NATS.Config.Validate(); err != nil {
			return err
		}
	}
	if c.Sinks.Entity.Enabled {
		if err := c.Sinks.Entity.Config.Validate(); err != nil {
			return err
		}
	}
	if c.Sinks.WS.Enabled {
		if err := c.Sinks.WS.Config.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("metrics port %d out of range", c.Metrics.Port))
		}
		if c.Metrics.Path == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"metrics path is required when metrics are enabled")
		}
	}

	return nil
}
