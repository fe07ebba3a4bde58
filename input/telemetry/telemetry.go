// Package telemetry provides the NATS input that feeds raw Remote-ID
// messages from radio gateways into the bridge. Gateways publish decoded
// broadcasts as JSON; this input unmarshals each message and hands it to
// the bridge's ingest channel without blocking the subscription.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jlrjr/DragonSync/component"
	"github.com/jlrjr/DragonSync/errors"
	"github.com/jlrjr/DragonSync/metric"
	"github.com/jlrjr/DragonSync/natsclient"
)

// RawMessage is one decoded gateway message awaiting normalization
type RawMessage struct {
	Subject string
	Data    any
}

// Config holds configuration for the telemetry input
type Config struct {
	// Subject carrying Remote-ID broadcasts, e.g. "telemetry.remoteid"
	Subject string `yaml:"subject"`
	// StatusSubject optionally carries gateway system-status JSON that is
	// forwarded downstream untouched. Empty disables it.
	StatusSubject string `yaml:"status_subject"`
	// BufferSize is the ingest channel capacity. Messages beyond it are
	// dropped rather than blocking the subscription.
	BufferSize int `yaml:"buffer_size"`
}

// DefaultConfig returns the default telemetry input configuration
func DefaultConfig() Config {
	return Config{
		Subject:    "telemetry.remoteid",
		BufferSize: 1024,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "subject is required")
	}
	if c.BufferSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer_size must be positive")
	}
	return nil
}

// StatusHandler receives raw system-status payloads
type StatusHandler func(data []byte)

// Input subscribes to gateway subjects and feeds the ingest channel
type Input struct {
	config  Config
	client  *natsclient.Client
	logger  *slog.Logger
	metrics *metric.Metrics

	messages chan RawMessage
	onStatus StatusHandler

	started   bool
	startedAt time.Time
	mu        sync.Mutex

	dropped atomic.Int64
}

// New creates a telemetry input over an already-connected client
func New(config Config, client *natsclient.Client, logger *slog.Logger, metrics *metric.Metrics) (*Input, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Input", "New", "nats client is required")
	}
	if logger == nil {
		logger = slog.Default().With("component", "telemetry_input")
	}
	return &Input{
		config:   config,
		client:   client,
		logger:   logger,
		metrics:  metrics,
		messages: make(chan RawMessage, config.BufferSize),
	}, nil
}

// Messages returns the ingest channel the bridge reads from
func (in *Input) Messages() <-chan RawMessage {
	return in.messages
}

// OnStatus registers the system-status forwarder. Must be called before
// Start.
func (in *Input) OnStatus(h StatusHandler) {
	in.onStatus = h
}

// Meta describes the input for lifecycle management
func (in *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        "telemetry_input",
		Type:        "input",
		Description: "NATS Remote-ID telemetry subscriber",
		Version:     "1.0.0",
	}
}

// Initialize is part of the lifecycle contract. All setup happens in New.
func (in *Input) Initialize() error { return nil }

// Start subscribes to the configured subjects
func (in *Input) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.started {
		return errors.ErrAlreadyStarted
	}

	if err := in.client.Subscribe(ctx, in.config.Subject, in.handleTelemetry); err != nil {
		return errors.Wrap(err, "Input", "Start", "subscribe "+in.config.Subject)
	}
	if in.config.StatusSubject != "" {
		if err := in.client.Subscribe(ctx, in.config.StatusSubject, in.handleStatus); err != nil {
			return errors.Wrap(err, "Input", "Start", "subscribe "+in.config.StatusSubject)
		}
	}

	in.started = true
	in.startedAt = time.Now()
	in.logger.Info("telemetry input subscribed",
		"subject", in.config.Subject, "status_subject", in.config.StatusSubject)
	return nil
}

// Health reports liveness and the count of dropped messages
func (in *Input) Health() component.HealthStatus {
	in.mu.Lock()
	started := in.started
	startedAt := in.startedAt
	in.mu.Unlock()

	h := component.HealthStatus{
		Healthy:    started,
		LastCheck:  time.Now(),
		ErrorCount: int(in.dropped.Load()),
	}
	if started {
		h.Uptime = time.Since(startedAt)
	}
	return h
}

// Stop marks the input stopped. The ingest channel stays open because
// subscription callbacks may still be in flight until the NATS client
// drains; readers should exit via their own context instead of waiting
// for channel close.
func (in *Input) Stop(time.Duration) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.started = false
	return nil
}

func (in *Input) handleTelemetry(_ context.Context, data []byte) {
	if in.metrics != nil {
		in.metrics.MessagesReceived.WithLabelValues(in.config.Subject).Inc()
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		in.logger.Warn("telemetry message is not valid JSON", "error", err)
		in.dropped.Add(1)
		if in.metrics != nil {
			in.metrics.ObservationsDropped.WithLabelValues("decode").Inc()
		}
		return
	}

	select {
	case in.messages <- RawMessage{Subject: in.config.Subject, Data: raw}:
	default:
		// The bridge is behind; dropping is preferable to stalling the
		// NATS consumer
		in.logger.Warn("ingest channel full, dropping message")
		in.dropped.Add(1)
		if in.metrics != nil {
			in.metrics.ObservationsDropped.WithLabelValues("backpressure").Inc()
		}
	}
}

func (in *Input) handleStatus(_ context.Context, data []byte) {
	if in.onStatus == nil {
		return
	}
	if !json.Valid(data) {
		in.logger.Warn("status message is not valid JSON, dropping")
		return
	}
	in.onStatus(data)
}
