// Package natssink publishes tracked drone state to NATS subjects for
// downstream consumers: an aggregate subject carrying every update plus
// optional per-drone subjects, with a retained-style availability notice
// on start and close.
package natssink

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/google/uuid"

	"github.com/jlrjr/DragonSync/errors"
	"github.com/jlrjr/DragonSync/natsclient"
	"github.com/jlrjr/DragonSync/tracker"
)

// Config holds configuration for the NATS sink
type Config struct {
	// AggregateSubject receives every drone snapshot. Empty disables it.
	AggregateSubject string `yaml:"aggregate_subject"`
	// PerDroneBase is the subject prefix for per-drone publishes, e.g.
	// "dragonsync.drone" yields "dragonsync.drone.<uid>". Empty disables it.
	PerDroneBase string `yaml:"per_drone_base"`
	// AvailabilitySubject carries online/offline service notices
	AvailabilitySubject string `yaml:"availability_subject"`
	// StatusSubject carries forwarded ground-station status payloads.
	// Empty disables forwarding.
	StatusSubject string `yaml:"status_subject"`
	// UseJetStream publishes through JetStream instead of core NATS
	UseJetStream bool `yaml:"use_jetstream"`
	// StreamName is the JetStream stream ensured at startup
	StreamName string `yaml:"stream_name"`
}

// DefaultConfig returns the default NATS sink configuration
func DefaultConfig() Config {
	return Config{
		AggregateSubject:    "dragonsync.drones",
		PerDroneBase:        "dragonsync.drone",
		AvailabilitySubject: "dragonsync.service.availability",
		StatusSubject:       "dragonsync.system.status",
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.AggregateSubject == "" && c.PerDroneBase == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"at least one of aggregate_subject and per_drone_base is required")
	}
	if c.UseJetStream && c.StreamName == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"stream_name is required when use_jetstream is set")
	}
	return nil
}

// envelope wraps every published payload with delivery metadata
type envelope struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// statusPayload is published on eviction and for availability notices
type statusPayload struct {
	UID    string `json:"uid,omitempty"`
	Status string `json:"status"`
}

// Sink publishes drone updates to NATS. Implements the drone, inactive,
// status, and close capabilities.
type Sink struct {
	config Config
	client *natsclient.Client
	logger *slog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// New creates a NATS sink over an already-connected client
func New(config Config, client *natsclient.Client, logger *slog.Logger) (*Sink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Sink", "New", "nats client is required")
	}
	if logger == nil {
		logger = slog.Default().With("component", "nats_sink")
	}

	s := &Sink{config: config, client: client, logger: logger}

	if config.UseJetStream {
		subjects := []string{}
		if config.AggregateSubject != "" {
			subjects = append(subjects, config.AggregateSubject)
		}
		if config.PerDroneBase != "" {
			subjects = append(subjects, config.PerDroneBase+".>")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := client.EnsureStream(ctx, jetstream.StreamConfig{
			Name:     config.StreamName,
			Subjects: subjects,
			Storage:  jetstream.FileStorage,
		})
		if err != nil {
			return nil, errors.Wrap(err, "Sink", "New", "ensure stream")
		}
	}

	s.announce("online")
	return s, nil
}

// Name identifies the sink in router logs and metrics
func (s *Sink) Name() string { return "nats" }

// PublishDrone publishes the snapshot to the aggregate and per-drone subjects
func (s *Sink) PublishDrone(ctx context.Context, snap tracker.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return errors.WrapInvalid(err, "Sink", "PublishDrone", "marshal snapshot")
	}

	var firstErr error
	if s.config.AggregateSubject != "" {
		if err := s.publish(ctx, s.config.AggregateSubject, "drone", payload); err != nil {
			firstErr = err
		}
	}
	if s.config.PerDroneBase != "" {
		if err := s.publish(ctx, s.config.PerDroneBase+"."+snap.UID, "drone", payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MarkInactive publishes an offline notice for an evicted drone
func (s *Sink) MarkInactive(ctx context.Context, id string) error {
	if s.config.PerDroneBase == "" {
		return nil
	}
	payload, err := json.Marshal(statusPayload{UID: id, Status: "offline"})
	if err != nil {
		return errors.WrapInvalid(err, "Sink", "MarkInactive", "marshal status")
	}
	return s.publish(ctx, s.config.PerDroneBase+"."+id+".status", "status", payload)
}

// PublishStatus forwards a raw ground-station status payload
func (s *Sink) PublishStatus(ctx context.Context, data []byte) error {
	if s.config.StatusSubject == "" {
		return nil
	}
	return s.publish(ctx, s.config.StatusSubject, "system", json.RawMessage(data))
}

// Close publishes the offline availability notice. The NATS connection is
// owned by the caller and stays open.
func (s *Sink) Close() error {
	s.announce("offline")
	return nil
}

// Stats returns publish and failure counts
func (s *Sink) Stats() (published, failed int64) {
	return s.published.Load(), s.failed.Load()
}

func (s *Sink) announce(status string) {
	if s.config.AvailabilitySubject == "" {
		return
	}
	payload, err := json.Marshal(statusPayload{Status: status})
	if err != nil {
		return
	}
	if err := s.publish(context.Background(), s.config.AvailabilitySubject, "availability", payload); err != nil {
		s.logger.Warn("availability publish failed", "status", status, "error", err)
	}
}

func (s *Sink) publish(ctx context.Context, subject, kind string, payload []byte) error {
	env := envelope{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return errors.WrapInvalid(err, "Sink", "publish", "marshal envelope")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if s.config.UseJetStream {
		err = s.client.PublishToStream(ctx, subject, data)
	} else {
		err = s.client.Publish(ctx, subject, data)
	}
	if err != nil {
		s.failed.Add(1)
		return errors.Wrap(err, "Sink", "publish", "publish to "+subject)
	}
	s.published.Add(1)
	return nil
}
