package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core pipeline metrics shared by all components
type Metrics struct {
	// Ingest metrics
	MessagesReceived    *prometheus.CounterVec
	ObservationsParsed  prometheus.Counter
	ObservationsDropped *prometheus.CounterVec

	// Registry metrics
	DronesTracked prometheus.Gauge
	DronesEvicted *prometheus.CounterVec

	// Dispatch metrics
	EventsSent    *prometheus.CounterVec
	SinkPublishes *prometheus.CounterVec
	SinkFailures  *prometheus.CounterVec
	TickDuration  prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dragonsync",
				Subsystem: "ingest",
				Name:      "messages_received_total",
				Help:      "Raw telemetry messages received, by source",
			},
			[]string{"source"},
		),

		ObservationsParsed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dragonsync",
				Subsystem: "ingest",
				Name:      "observations_parsed_total",
				Help:      "Telemetry messages normalized into observations",
			},
		),

		ObservationsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dragonsync",
				Subsystem: "ingest",
				Name:      "observations_dropped_total",
				Help:      "Observations dropped, by reason (shape, correlation)",
			},
			[]string{"reason"},
		),

		DronesTracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dragonsync",
				Subsystem: "registry",
				Name:      "drones_tracked",
				Help:      "Drones currently held by the registry",
			},
		),

		DronesEvicted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dragonsync",
				Subsystem: "registry",
				Name:      "drones_evicted_total",
				Help:      "Drones evicted, by cause (capacity, inactivity)",
			},
			[]string{"cause"},
		),

		EventsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dragonsync",
				Subsystem: "dispatch",
				Name:      "events_sent_total",
				Help:      "Tactical events handed to the outbound transport, by kind",
			},
			[]string{"kind"},
		),

		SinkPublishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dragonsync",
				Subsystem: "dispatch",
				Name:      "sink_publishes_total",
				Help:      "Successful sink calls, by sink",
			},
			[]string{"sink"},
		),

		SinkFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dragonsync",
				Subsystem: "dispatch",
				Name:      "sink_failures_total",
				Help:      "Failed sink calls, by sink",
			},
			[]string{"sink"},
		),

		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "dragonsync",
				Subsystem: "dispatch",
				Name:      "tick_duration_seconds",
				Help:      "Duration of one dispatch tick over all due records",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
		),
	}
}
