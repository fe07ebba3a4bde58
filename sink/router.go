// Package sink defines the downstream consumer contract and the router
// that fans tracked drone updates out to every registered consumer with
// per-call failure isolation.
//
// A sink implements any subset of the capability interfaces below. The
// router resolves capabilities once at registration, so the hot path is a
// nil check per call rather than a type assertion. Every delivery call
// takes a context: the dispatch pool bounds each call with a deadline and
// sinks are expected to honor it.
package sink

import (
	"context"
	"log/slog"

	"github.com/jlrjr/DragonSync/metric"
	"github.com/jlrjr/DragonSync/tracker"
)

// Sink is the minimal contract every consumer satisfies
type Sink interface {
	Name() string
}

// DronePublisher receives the full record snapshot for each due drone
type DronePublisher interface {
	PublishDrone(ctx context.Context, s tracker.Snapshot) error
}

// PilotPublisher receives the pilot position when it is a real fix
type PilotPublisher interface {
	PublishPilot(ctx context.Context, id string, lat, lon, alt float64) error
}

// HomePublisher receives the home position when it is a real fix
type HomePublisher interface {
	PublishHome(ctx context.Context, id string, lat, lon, alt float64) error
}

// InactiveMarker is told when a drone is evicted from the registry
type InactiveMarker interface {
	MarkInactive(ctx context.Context, id string) error
}

// StatusPublisher receives raw ground-station status payloads
type StatusPublisher interface {
	PublishStatus(ctx context.Context, data []byte) error
}

// Closer releases sink resources at shutdown
type Closer interface {
	Close() error
}

type entry struct {
	name     string
	drone    DronePublisher
	pilot    PilotPublisher
	home     HomePublisher
	inactive InactiveMarker
	status   StatusPublisher
	closer   Closer
}

// Router fans out to an ordered list of sinks. Every call is guarded
// independently: one sink's error is logged and counted, never propagated,
// and never skips the remaining sinks.
type Router struct {
	entries []entry
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewRouter creates an empty router. Logger and metrics may be nil.
func NewRouter(logger *slog.Logger, metrics *metric.Metrics) *Router {
	if logger == nil {
		logger = slog.Default().With("component", "sink_router")
	}
	return &Router{logger: logger, metrics: metrics}
}

// Register adds a sink and records which capabilities it implements.
// Registration order is dispatch order.
func (r *Router) Register(s Sink) {
	e := entry{name: s.Name()}
	e.drone, _ = s.(DronePublisher)
	e.pilot, _ = s.(PilotPublisher)
	e.home, _ = s.(HomePublisher)
	e.inactive, _ = s.(InactiveMarker)
	e.status, _ = s.(StatusPublisher)
	e.closer, _ = s.(Closer)
	r.entries = append(r.entries, e)

	r.logger.Info("registered sink",
		"sink", e.name,
		"publishes_drone", e.drone != nil,
		"publishes_pilot", e.pilot != nil,
		"publishes_home", e.home != nil,
		"marks_inactive", e.inactive != nil,
		"publishes_status", e.status != nil)
}

// Len returns the number of registered sinks
func (r *Router) Len() int {
	return len(r.entries)
}

// Publish delivers one snapshot to every sink. Pilot and home positions
// are only forwarded when they are not the (0,0) unknown-location sentinel.
func (r *Router) Publish(ctx context.Context, s tracker.Snapshot) {
	for _, e := range r.entries {
		if e.drone != nil {
			r.guard(e.name, "drone", s.UID, func() error { return e.drone.PublishDrone(ctx, s) })
		}
		if e.pilot != nil && s.HasPilotPosition() {
			r.guard(e.name, "pilot", s.UID, func() error {
				return e.pilot.PublishPilot(ctx, s.UID, s.PilotLat, s.PilotLon, 0.0)
			})
		}
		if e.home != nil && s.HasHomePosition() {
			r.guard(e.name, "home", s.UID, func() error {
				return e.home.PublishHome(ctx, s.UID, s.HomeLat, s.HomeLon, 0.0)
			})
		}
	}
}

// OnEvict tells every capable sink that a drone left the registry
func (r *Router) OnEvict(ctx context.Context, id string) {
	for _, e := range r.entries {
		if e.inactive != nil {
			r.guard(e.name, "inactive", id, func() error { return e.inactive.MarkInactive(ctx, id) })
		}
	}
}

// PublishStatus forwards a raw status payload to every capable sink
func (r *Router) PublishStatus(ctx context.Context, data []byte) {
	for _, e := range r.entries {
		if e.status != nil {
			r.guard(e.name, "status", "", func() error { return e.status.PublishStatus(ctx, data) })
		}
	}
}

// CloseAll shuts every sink down best-effort. Used once at shutdown.
func (r *Router) CloseAll() {
	for _, e := range r.entries {
		if e.closer == nil {
			continue
		}
		if err := e.closer.Close(); err != nil {
			r.logger.Warn("sink close failed", "sink", e.name, "error", err)
		}
	}
}

func (r *Router) guard(sinkName, op, id string, call func() error) {
	if err := call(); err != nil {
		r.logger.Warn("sink call failed", "sink", sinkName, "op", op, "id", id, "error", err)
		if r.metrics != nil {
			r.metrics.SinkFailures.WithLabelValues(sinkName).Inc()
		}
		return
	}
	if r.metrics != nil {
		r.metrics.SinkPublishes.WithLabelValues(sinkName).Inc()
	}
}
