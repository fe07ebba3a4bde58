// Package entitysink publishes tracked drones to a vendor entity-graph
// service over HTTP. Each drone yields a live air-track entity; pilot and
// home positions become separate surface entities tied to the drone by
// naming convention.
package entitysink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jlrjr/DragonSync/errors"
	"github.com/jlrjr/DragonSync/pkg/retry"
	"github.com/jlrjr/DragonSync/remoteid"
	"github.com/jlrjr/DragonSync/tracker"
)

// entityTTL is how far in the future published entities expire. Kept
// longer than the dispatch rate so entities persist between updates.
const entityTTL = 5 * time.Minute

const integrationName = "dragonsync"

// Config holds configuration for the entity sink
type Config struct {
	// URL is the entity endpoint, e.g. "https://lattice.example.com/api/v1/entities"
	URL string `yaml:"url"`
	// Token is the bearer token sent in the Authorization header
	Token string `yaml:"token"`
	// SandboxToken, when set, is sent as a secondary bearer header used by
	// sandbox environments
	SandboxToken string `yaml:"sandbox_token"`
	// Timeout bounds each HTTP request in seconds
	Timeout int `yaml:"timeout"`
	// RetryCount is the number of additional attempts on transient failure
	RetryCount int `yaml:"retry_count"`
}

// DefaultConfig returns the default entity sink configuration
func DefaultConfig() Config {
	return Config{
		Timeout:    10,
		RetryCount: 2,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "url is required")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "invalid url")
	}
	if c.Token == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "token is required")
	}
	if c.Timeout < 0 || c.Timeout > 300 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 0 and 300 seconds")
	}
	if c.RetryCount < 0 || c.RetryCount > 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_count must be between 0 and 10")
	}
	return nil
}

// entity is the wire shape accepted by the entity endpoint
type entity struct {
	EntityID    string      `json:"entity_id"`
	Description string      `json:"description,omitempty"`
	IsLive      bool        `json:"is_live"`
	ExpiryTime  time.Time   `json:"expiry_time"`
	Provenance  provenance  `json:"provenance"`
	Aliases     aliases     `json:"aliases"`
	Location    *location   `json:"location,omitempty"`
	MilView     milView     `json:"mil_view"`
	Ontology    ontology    `json:"ontology"`
	Tracked     *trackedVia `json:"tracked,omitempty"`
}

type provenance struct {
	DataType         string    `json:"data_type"`
	IntegrationName  string    `json:"integration_name"`
	SourceUpdateTime time.Time `json:"source_update_time"`
}

type aliases struct {
	Name string `json:"name"`
}

type location struct {
	Position position `json:"position"`
	SpeedMPS *float64 `json:"speed_mps,omitempty"`
}

type position struct {
	LatitudeDegrees   float64  `json:"latitude_degrees"`
	LongitudeDegrees  float64  `json:"longitude_degrees"`
	AltitudeHaeMeters *float64 `json:"altitude_hae_meters,omitempty"`
}

type milView struct {
	Disposition string `json:"disposition"`
	Environment string `json:"environment,omitempty"`
}

type ontology struct {
	Template     string `json:"template"`
	PlatformType string `json:"platform_type,omitempty"`
}

type trackedVia struct {
	CorrelationID string `json:"correlation_id"`
}

// Sink publishes entities over HTTP. Implements the drone, pilot, home,
// inactive, and close capabilities.
type Sink struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// New creates an entity sink
func New(config Config, logger *slog.Logger) (*Sink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default().With("component", "entity_sink")
	}
	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Sink{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Name identifies the sink in router logs and metrics
func (s *Sink) Name() string { return "entity" }

// PublishDrone publishes the drone as a live air track
func (s *Sink) PublishDrone(ctx context.Context, snap tracker.Snapshot) error {
	if !validLatLon(snap.Lat, snap.Lon) {
		return nil
	}

	now := time.Now().UTC()
	alt := snap.Alt
	speed := snap.Speed
	e := entity{
		EntityID:    snap.UID,
		Description: snap.Description,
		IsLive:      true,
		ExpiryTime:  now.Add(entityTTL),
		Provenance: provenance{
			DataType:         "remote_id",
			IntegrationName:  integrationName,
			SourceUpdateTime: now,
		},
		Aliases: aliases{Name: snap.UID},
		Location: &location{
			Position: position{
				LatitudeDegrees:   snap.Lat,
				LongitudeDegrees:  snap.Lon,
				AltitudeHaeMeters: &alt,
			},
			SpeedMPS: &speed,
		},
		MilView: milView{
			Disposition: "DISPOSITION_NEUTRAL",
			Environment: "ENVIRONMENT_AIR",
		},
		Ontology: ontology{
			Template:     "TEMPLATE_TRACK",
			PlatformType: snap.UATypeName,
		},
	}
	return s.put(ctx, e)
}

// PublishPilot publishes the pilot position as a surface entity
func (s *Sink) PublishPilot(ctx context.Context, id string, lat, lon, alt float64) error {
	return s.publishPoint(ctx, "pilot-"+strings.TrimPrefix(id, remoteid.IDPrefix), id, lat, lon, alt)
}

// PublishHome publishes the home position as a surface entity
func (s *Sink) PublishHome(ctx context.Context, id string, lat, lon, alt float64) error {
	return s.publishPoint(ctx, "home-"+strings.TrimPrefix(id, remoteid.IDPrefix), id, lat, lon, alt)
}

// MarkInactive expires the drone entity immediately
func (s *Sink) MarkInactive(ctx context.Context, id string) error {
	now := time.Now().UTC()
	e := entity{
		EntityID:   id,
		IsLive:     false,
		ExpiryTime: now,
		Provenance: provenance{
			DataType:         "remote_id",
			IntegrationName:  integrationName,
			SourceUpdateTime: now,
		},
		Aliases:  aliases{Name: id},
		MilView:  milView{Disposition: "DISPOSITION_NEUTRAL"},
		Ontology: ontology{Template: "TEMPLATE_TRACK"},
	}
	return s.put(ctx, e)
}

// Close releases idle connections
func (s *Sink) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// Stats returns publish and failure counts
func (s *Sink) Stats() (published, failed int64) {
	return s.published.Load(), s.failed.Load()
}

func (s *Sink) publishPoint(ctx context.Context, entityID, droneID string, lat, lon, alt float64) error {
	if !validLatLon(lat, lon) {
		return nil
	}
	now := time.Now().UTC()
	altPtr := alt
	e := entity{
		EntityID:   entityID,
		IsLive:     true,
		ExpiryTime: now.Add(entityTTL),
		Provenance: provenance{
			DataType:         "remote_id",
			IntegrationName:  integrationName,
			SourceUpdateTime: now,
		},
		Aliases: aliases{Name: entityID},
		Location: &location{
			Position: position{
				LatitudeDegrees:   lat,
				LongitudeDegrees:  lon,
				AltitudeHaeMeters: &altPtr,
			},
		},
		MilView:  milView{Disposition: "DISPOSITION_NEUTRAL"},
		Ontology: ontology{Template: "TEMPLATE_TRACK"},
		Tracked:  &trackedVia{CorrelationID: droneID},
	}
	return s.put(ctx, e)
}

func (s *Sink) put(ctx context.Context, e entity) error {
	body, err := json.Marshal(e)
	if err != nil {
		s.failed.Add(1)
		return errors.WrapInvalid(err, "Sink", "put", "marshal entity")
	}

	cfg := retry.Config{MaxAttempts: s.config.RetryCount + 1}
	err = retry.Do(ctx, cfg, func() error {
		return s.send(ctx, e.EntityID, body)
	})
	if err != nil {
		s.failed.Add(1)
		return err
	}
	s.published.Add(1)
	return nil
}

func (s *Sink) send(ctx context.Context, entityID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		s.config.URL+"/"+url.PathEscape(entityID), bytes.NewReader(body))
	if err != nil {
		return retry.NonRetryable(errors.WrapInvalid(err, "Sink", "send", "build request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.Token)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if s.config.SandboxToken != "" {
		req.Header.Set("Anduril-Sandbox-Authorization", "Bearer "+s.config.SandboxToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "Sink", "send", "put entity")
	}
	defer func() {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()              //nolint:errcheck
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return retry.NonRetryable(errors.WrapFatal(errors.ErrSinkUnavailable,
			"Sink", "send", "authentication rejected with status "+resp.Status))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.NonRetryable(errors.WrapInvalid(errors.ErrSinkUnavailable,
			"Sink", "send", "entity rejected with status "+resp.Status))
	default:
		return errors.WrapTransient(errors.ErrSinkUnavailable,
			"Sink", "send", "entity endpoint returned "+resp.Status)
	}
}

func validLatLon(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 && (lat != 0 || lon != 0)
}
