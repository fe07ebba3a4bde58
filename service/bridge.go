// Package service runs the bridge control loop that ties the pipeline
// together: telemetry ingest, registry updates, and the dispatch tick all
// happen on one goroutine, so registry access never needs a lock. Sink and
// transport calls are handed to a worker pool to keep slow consumers off
// the control path; the pool's call timeout bounds each delivery through
// the task context.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jlrjr/DragonSync/component"
	"github.com/jlrjr/DragonSync/cot"
	"github.com/jlrjr/DragonSync/errors"
	"github.com/jlrjr/DragonSync/input/telemetry"
	"github.com/jlrjr/DragonSync/metric"
	"github.com/jlrjr/DragonSync/pkg/worker"
	"github.com/jlrjr/DragonSync/remoteid"
	"github.com/jlrjr/DragonSync/tracker"
)

// MessageSource feeds raw telemetry into the bridge
type MessageSource interface {
	Messages() <-chan telemetry.RawMessage
}

// Fanout is the sink surface the bridge offloads to the pool. Every call
// receives the pool task's context, so the configured call timeout bounds
// the delivery. sink.Router satisfies it.
type Fanout interface {
	Publish(ctx context.Context, s tracker.Snapshot)
	OnEvict(ctx context.Context, id string)
	PublishStatus(ctx context.Context, data []byte)
	CloseAll()
}

// EventWriter is the outbound tactical-event transport surface.
// cotsender.Sender satisfies it.
type EventWriter interface {
	SendEvent(ctx context.Context, data []byte) error
}

// task is one unit of offloaded sink or transport work
type task func(ctx context.Context) error

// Options wires the bridge's collaborators
type Options struct {
	Input      MessageSource
	Normalizer *remoteid.Normalizer
	Registry   *tracker.Registry
	Router     Fanout

	// Sender is the outbound tactical-event transport, nil disables it
	Sender EventWriter
	// Affiliations classifies drone uids, nil means everything is unknown
	Affiliations tracker.AffiliationLookup

	// RateLimit is the minimum interval between sends per drone
	RateLimit time.Duration
	// TickInterval is the dispatch pass cadence
	TickInterval time.Duration

	// Worker pool sizing for offloaded sink and transport calls
	Workers     int
	QueueSize   int
	CallTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metric.Metrics
	// MetricsRegistry, when set, also exposes the dispatch pool's own
	// queue and throughput metrics
	MetricsRegistry *metric.MetricsRegistry
}

// Bridge owns the control loop. Create with New, then Start and Stop.
type Bridge struct {
	input      MessageSource
	normalizer *remoteid.Normalizer
	registry   *tracker.Registry
	scheduler  *tracker.Scheduler
	router     Fanout
	sender     EventWriter
	pool       *worker.Pool[task]

	tickInterval time.Duration
	logger       *slog.Logger
	metrics      *metric.Metrics

	mu         sync.Mutex
	started    bool
	startedAt  time.Time
	cancel     context.CancelFunc
	poolCancel context.CancelFunc
	done       chan struct{}
}

// New creates the bridge and its internal scheduler. The scheduler talks to
// the router and sender through pool-backed adapters, so Tick never blocks
// on a slow sink.
func New(opts Options) (*Bridge, error) {
	if opts.Input == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Bridge", "New", "input is required")
	}
	if opts.Registry == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Bridge", "New", "registry is required")
	}
	if opts.Router == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Bridge", "New", "router is required")
	}
	if opts.RateLimit <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Bridge", "New", "rate limit must be positive")
	}
	if opts.TickInterval <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Bridge", "New", "tick interval must be positive")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "bridge")
	}
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = remoteid.NewNormalizer(logger)
	}

	b := &Bridge{
		input:        opts.Input,
		normalizer:   normalizer,
		registry:     opts.Registry,
		router:       opts.Router,
		sender:       opts.Sender,
		tickInterval: opts.TickInterval,
		logger:       logger,
		metrics:      opts.Metrics,
	}

	poolOpts := []worker.Option[task]{}
	if opts.CallTimeout > 0 {
		poolOpts = append(poolOpts, worker.WithCallTimeout[task](opts.CallTimeout))
	}
	if opts.MetricsRegistry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[task](opts.MetricsRegistry, "dispatch"))
	}
	b.pool = worker.NewPool[task](opts.Workers, opts.QueueSize,
		func(ctx context.Context, t task) error { return t(ctx) }, poolOpts...)

	schedOpts := []tracker.SchedulerOption{
		tracker.WithRouter(&asyncRouter{bridge: b}),
	}
	if opts.Sender != nil {
		schedOpts = append(schedOpts, tracker.WithSender(&asyncSender{bridge: b, inner: opts.Sender}))
	}
	if opts.Affiliations != nil {
		schedOpts = append(schedOpts, tracker.WithAffiliations(opts.Affiliations))
	}
	if opts.Metrics != nil {
		schedOpts = append(schedOpts, tracker.WithMetrics(opts.Metrics))
	}
	b.scheduler = tracker.NewScheduler(opts.Registry, opts.RateLimit,
		logger.With("component", "scheduler"), schedOpts...)

	return b, nil
}

// Meta describes the bridge for lifecycle management
func (b *Bridge) Meta() component.Metadata {
	return component.Metadata{
		Name:        "bridge",
		Type:        "service",
		Description: "telemetry to tactical-event control loop",
		Version:     "1.0.0",
	}
}

// Initialize is part of the lifecycle contract. All setup happens in New.
func (b *Bridge) Initialize() error { return nil }

// Start launches the worker pool and the control loop. The context spans
// the run: cancelling it stops the loop.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return errors.Wrap(errors.ErrAlreadyStarted, "Bridge", "Start", "start")
	}

	runCtx, cancel := context.WithCancel(ctx)

	// The pool outlives the control loop so queued sink calls can drain
	// during shutdown.
	poolCtx, poolCancel := context.WithCancel(context.Background())
	if err := b.pool.Start(poolCtx); err != nil {
		cancel()
		poolCancel()
		return errors.Wrap(err, "Bridge", "Start", "start worker pool")
	}

	b.cancel = cancel
	b.poolCancel = poolCancel
	b.done = make(chan struct{})
	b.started = true
	b.startedAt = time.Now()

	go b.run(runCtx)

	b.logger.Info("bridge started", "tick_interval", b.tickInterval)
	return nil
}

// Stop shuts the control loop down, drains the worker pool so queued sink
// calls complete, then closes the sinks.
func (b *Bridge) Stop(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return nil
	}
	b.started = false
	b.cancel()

	select {
	case <-b.done:
	case <-time.After(timeout):
		return errors.Wrap(errors.ErrShuttingDown, "Bridge", "Stop", "control loop did not exit")
	}

	if err := b.pool.Stop(timeout); err != nil {
		b.logger.Warn("worker pool drain incomplete", "error", err)
	}
	b.poolCancel()

	b.router.CloseAll()
	b.logger.Info("bridge stopped")
	return nil
}

// Health reports liveness and dispatch failure counts
func (b *Bridge) Health() component.HealthStatus {
	b.mu.Lock()
	started := b.started
	startedAt := b.startedAt
	b.mu.Unlock()

	stats := b.pool.Stats()
	h := component.HealthStatus{
		Healthy:    started,
		LastCheck:  time.Now(),
		ErrorCount: int(stats.Failed + stats.Dropped),
	}
	if started {
		h.Uptime = time.Since(startedAt)
	}
	return h
}

// HandleStatus forwards a raw ground-station status payload to the sinks
// and, when a transport is wired, renders it as a station event. Safe to
// call from the input's subscription goroutine.
func (b *Bridge) HandleStatus(data []byte) {
	payload := make([]byte, len(data))
	copy(payload, data)
	b.submit("status", func(ctx context.Context) error {
		b.router.PublishStatus(ctx, payload)
		return nil
	})

	if b.sender == nil {
		return
	}
	status, err := parseStatus(payload)
	if err != nil {
		b.logger.Warn("status payload not decodable", "error", err)
		return
	}
	b.submit("status_event", func(ctx context.Context) error {
		raw, err := cot.EncodeSystemStatus(status, time.Now(), cot.DefaultStale)
		if err != nil {
			return err
		}
		if err := b.sender.SendEvent(ctx, raw); err != nil {
			b.logger.Warn("status event send failed", "error", err)
			return err
		}
		return nil
	})
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-b.input.Messages():
			if !ok {
				b.logger.Warn("input channel closed, control loop exiting")
				return
			}
			b.ingest(msg)
		case now := <-ticker.C:
			b.scheduler.Tick(now)
		}
	}
}

func (b *Bridge) ingest(msg telemetry.RawMessage) {
	obs, ok := b.normalizer.Parse(msg.Data)
	if !ok {
		if b.metrics != nil {
			b.metrics.ObservationsDropped.WithLabelValues("unparseable").Inc()
		}
		return
	}
	if b.metrics != nil {
		b.metrics.ObservationsParsed.Inc()
	}

	rec, result, evictedID := b.registry.Ingest(obs, time.Now())
	if evictedID != "" {
		id := evictedID
		b.submit("evict", func(ctx context.Context) error {
			b.router.OnEvict(ctx, id)
			return nil
		})
	}
	if rec != nil {
		b.logger.Debug("observation ingested", "id", rec.ID, "result", result.String())
	}
}

// submit hands a task to the pool, logging drops instead of blocking
func (b *Bridge) submit(op string, t task) error {
	if err := b.pool.Submit(t); err != nil {
		b.logger.Warn("dispatch dropped", "op", op, "error", err)
		return err
	}
	return nil
}

// asyncRouter adapts the fanout to the scheduler by queueing each call on
// the worker pool. The pool task's context carries the call timeout into
// the sinks.
type asyncRouter struct {
	bridge *Bridge
}

func (r *asyncRouter) Publish(s tracker.Snapshot) {
	_ = r.bridge.submit("publish", func(ctx context.Context) error {
		r.bridge.router.Publish(ctx, s)
		return nil
	})
}

func (r *asyncRouter) OnEvict(id string) {
	_ = r.bridge.submit("evict", func(ctx context.Context) error {
		r.bridge.router.OnEvict(ctx, id)
		return nil
	})
}

// asyncSender queues outbound event writes on the worker pool. A full
// queue surfaces as a send error, which the scheduler logs and absorbs.
type asyncSender struct {
	bridge *Bridge
	inner  EventWriter
}

func (s *asyncSender) SendEvent(data []byte) error {
	return s.bridge.submit("send_event", func(ctx context.Context) error {
		if err := s.inner.SendEvent(ctx, data); err != nil {
			s.bridge.logger.Warn("event send failed", "error", err)
			return err
		}
		return nil
	})
}
