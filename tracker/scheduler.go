package tracker

import (
	"log/slog"
	"time"

	"github.com/jlrjr/DragonSync/cot"
	"github.com/jlrjr/DragonSync/metric"
)

// EventSender delivers one encoded tactical event to the outbound
// transport. Errors are logged and counted by the scheduler, never
// retried by it.
type EventSender interface {
	SendEvent(data []byte) error
}

// SinkRouter fans a record snapshot out to the registered sinks and
// propagates eviction notices. Implementations absorb their own errors.
type SinkRouter interface {
	Publish(s Snapshot)
	OnEvict(id string)
}

// AffiliationLookup classifies a drone uid as authorized, unauthorized,
// or unknown
type AffiliationLookup interface {
	Lookup(uid string) string
}

// Scheduler drives one dispatch pass per tick: rate-limit gating, stale
// horizon derivation, event encoding and delivery, sink fan-out, then the
// inactivity sweep. Owned by the same control goroutine as the registry.
type Scheduler struct {
	registry  *Registry
	rateLimit time.Duration

	sender       EventSender
	router       SinkRouter
	affiliations AffiliationLookup

	logger  *slog.Logger
	metrics *metric.Metrics
}

// SchedulerOption configures optional collaborators
type SchedulerOption func(*Scheduler)

// WithSender sets the outbound tactical-event transport
func WithSender(s EventSender) SchedulerOption {
	return func(sc *Scheduler) { sc.sender = s }
}

// WithRouter sets the sink fan-out
func WithRouter(r SinkRouter) SchedulerOption {
	return func(sc *Scheduler) { sc.router = r }
}

// WithAffiliations sets the uid classification lookup
func WithAffiliations(a AffiliationLookup) SchedulerOption {
	return func(sc *Scheduler) { sc.affiliations = a }
}

// WithMetrics sets the dispatch metrics
func WithMetrics(m *metric.Metrics) SchedulerOption {
	return func(sc *Scheduler) { sc.metrics = m }
}

// NewScheduler creates a scheduler over the registry. rateLimit is the
// minimum interval between sends for any single record.
func NewScheduler(registry *Registry, rateLimit time.Duration, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default().With("component", "scheduler")
	}
	sc := &Scheduler{
		registry:  registry,
		rateLimit: rateLimit,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// Tick runs one dispatch pass at the supplied instant. Every sub-step is
// independently guarded: an encode or delivery failure for one entity
// kind, record, or sink never skips the rest of the pass.
func (sc *Scheduler) Tick(now time.Time) {
	start := time.Now()

	for _, id := range sc.registry.ActiveIDs() {
		rec, ok := sc.registry.Get(id)
		if !ok {
			continue
		}

		age := now.Sub(rec.LastUpdate)
		if age > sc.registry.Inactivity() {
			// Swept below, after the dispatch pass
			continue
		}

		if now.Sub(rec.LastSent) < sc.rateLimit {
			continue
		}
		sc.dispatch(rec, now, sc.registry.Inactivity()-age)
	}

	for _, id := range sc.registry.Sweep(now) {
		if sc.router != nil {
			sc.router.OnEvict(id)
		}
		sc.registry.Remove(id)
		sc.logger.Info("removed inactive drone", "id", id)
	}

	if sc.metrics != nil {
		sc.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
}

// dispatch emits all events for one due record and counts the attempt as
// sent regardless of delivery outcome, bounding retries to the rate limit.
func (sc *Scheduler) dispatch(rec *Record, now time.Time, staleOffset time.Duration) {
	if sc.affiliations != nil {
		rec.Affiliation = sc.affiliations.Lookup(rec.ID)
	}
	snap := rec.Snapshot()
	subject := snap.CotSubject()

	sc.sendEvent("drone", snap.UID, func() ([]byte, error) {
		return cot.EncodeDrone(subject, now, staleOffset)
	})

	if sc.router != nil {
		sc.router.Publish(snap)
	}

	if snap.HasPilotPosition() {
		sc.sendEvent("pilot", snap.UID, func() ([]byte, error) {
			return cot.EncodePilot(subject, now, staleOffset)
		})
	}
	if snap.HasHomePosition() {
		sc.sendEvent("home", snap.UID, func() ([]byte, error) {
			return cot.EncodeHome(subject, now, staleOffset)
		})
	}

	rec.LastSent = now
	rec.LastSentLat = rec.Lat
	rec.LastSentLon = rec.Lon
}

func (sc *Scheduler) sendEvent(kind, uid string, encode func() ([]byte, error)) {
	if sc.sender == nil {
		return
	}
	data, err := encode()
	if err != nil {
		sc.logger.Warn("event encode failed", "kind", kind, "id", uid, "error", err)
		return
	}
	if err := sc.sender.SendEvent(data); err != nil {
		sc.logger.Warn("event send failed", "kind", kind, "id", uid, "error", err)
		return
	}
	if sc.metrics != nil {
		sc.metrics.EventsSent.WithLabelValues(kind).Inc()
	}
}
