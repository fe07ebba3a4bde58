package tracker

import (
	"log/slog"
	"time"

	"github.com/jlrjr/DragonSync/metric"
	"github.com/jlrjr/DragonSync/remoteid"
)

// IngestResult classifies what the registry did with one observation
type IngestResult int

const (
	// IngestCreated means a new record was created
	IngestCreated IngestResult = iota
	// IngestMerged means the observation merged into its existing record by id
	IngestMerged
	// IngestCorrelated means an id-less observation merged by MAC match
	IngestCorrelated
	// IngestDropped means the observation had no id and no MAC match
	IngestDropped
)

func (r IngestResult) String() string {
	switch r {
	case IngestCreated:
		return "created"
	case IngestMerged:
		return "merged"
	case IngestCorrelated:
		return "correlated"
	case IngestDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Registry is the bounded, insertion-ordered store of drone records.
//
// Not safe for concurrent use. All calls must come from the single control
// goroutine that owns the ingest loop and the dispatch tick.
type Registry struct {
	capacity   int
	inactivity time.Duration

	records map[string]*Record
	order   []string // canonical ids, oldest inserted first

	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewRegistry creates a registry holding at most capacity records.
// Records older than inactivity since their last update are removed by
// Sweep. Logger and metrics may be nil.
func NewRegistry(capacity int, inactivity time.Duration, logger *slog.Logger, metrics *metric.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default().With("component", "registry")
	}
	return &Registry{
		capacity:   capacity,
		inactivity: inactivity,
		records:    make(map[string]*Record, capacity),
		order:      make([]string, 0, capacity),
		logger:     logger,
		metrics:    metrics,
	}
}

// Len returns the number of tracked records
func (g *Registry) Len() int {
	return len(g.records)
}

// Inactivity returns the configured inactivity timeout
func (g *Registry) Inactivity() time.Duration {
	return g.inactivity
}

// Get returns the record for a canonical id
func (g *Registry) Get(id string) (*Record, bool) {
	rec, ok := g.records[id]
	return rec, ok
}

// ActiveIDs returns the tracked ids, oldest inserted first. The returned
// slice is a copy; dispatch iterates it while records mutate underneath.
func (g *Registry) ActiveIDs() []string {
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	return ids
}

// Ingest routes one observation: by id when present, by MAC correlation
// otherwise. Returns the touched record (nil when dropped), the routing
// outcome, and the id evicted to make room (empty when none).
func (g *Registry) Ingest(obs remoteid.Observation, now time.Time) (*Record, IngestResult, string) {
	if obs.HasID() {
		obs.ID = remoteid.CanonicalID(obs.ID)
		rec, created, evicted := g.upsert(obs, now)
		if created {
			return rec, IngestCreated, evicted
		}
		return rec, IngestMerged, evicted
	}

	if obs.MAC != "" {
		if rec := g.correlateByMAC(obs, now); rec != nil {
			return rec, IngestCorrelated, ""
		}
		g.logger.Debug("no record matches MAC, dropping observation", "mac", obs.MAC)
		g.dropped("correlation")
		return nil, IngestDropped, ""
	}

	g.logger.Debug("observation carries neither id nor MAC, dropping")
	g.dropped("no_key")
	return nil, IngestDropped, ""
}

// upsert creates or merges by canonical id. Capacity eviction runs only
// when a brand-new id is inserted at capacity: the oldest-inserted id is
// removed regardless of how recently it was updated.
func (g *Registry) upsert(obs remoteid.Observation, now time.Time) (rec *Record, created bool, evicted string) {
	if existing, ok := g.records[obs.ID]; ok {
		existing.Merge(obs, now)
		return existing, false, ""
	}

	if len(g.order) >= g.capacity {
		evicted = g.order[0]
		g.remove(evicted)
		g.logger.Debug("capacity reached, evicted oldest drone", "id", evicted)
		if g.metrics != nil {
			g.metrics.DronesEvicted.WithLabelValues("capacity").Inc()
		}
	}

	rec = NewRecord(obs, now)
	g.records[obs.ID] = rec
	g.order = append(g.order, obs.ID)
	g.logger.Debug("tracking new drone", "id", obs.ID)
	if g.metrics != nil {
		g.metrics.DronesTracked.Set(float64(len(g.records)))
	}
	return rec, true, evicted
}

// correlateByMAC merges an id-less observation into the first record, in
// insertion order, whose MAC matches. First match wins even when a newer
// record shares the MAC.
func (g *Registry) correlateByMAC(obs remoteid.Observation, now time.Time) *Record {
	for _, id := range g.order {
		rec := g.records[id]
		if rec.MAC == obs.MAC {
			rec.Merge(obs, now)
			return rec
		}
	}
	return nil
}

// Sweep returns the ids whose age exceeds the inactivity timeout, oldest
// inserted first. It does not remove them; the caller removes each id
// after eviction notifications so a dispatch pass in flight never sees
// the active set mutate.
func (g *Registry) Sweep(now time.Time) []string {
	var expired []string
	for _, id := range g.order {
		rec := g.records[id]
		if age := now.Sub(rec.LastUpdate); age > g.inactivity {
			g.logger.Debug("drone inactive", "id", id, "age", age)
			expired = append(expired, id)
		}
	}
	return expired
}

// Remove deletes a record marked by Sweep
func (g *Registry) Remove(id string) {
	if _, ok := g.records[id]; !ok {
		return
	}
	g.remove(id)
	if g.metrics != nil {
		g.metrics.DronesEvicted.WithLabelValues("inactivity").Inc()
	}
}

func (g *Registry) remove(id string) {
	delete(g.records, id)
	for i, v := range g.order {
		if v == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	if g.metrics != nil {
		g.metrics.DronesTracked.Set(float64(len(g.records)))
	}
}

func (g *Registry) dropped(reason string) {
	if g.metrics != nil {
		g.metrics.ObservationsDropped.WithLabelValues(reason).Inc()
	}
}
