// Package component defines the lifecycle contract shared by every
// I/O-bearing piece of the pipeline (input, transport, sinks, service).
package component

import (
	"context"
	"time"
)

// Metadata describes a component instance
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "input", "transport", "sink", "service"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus reports the current health of a component
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// LifecycleComponent defines components that support full lifecycle
// management following the unified pattern:
//   - Initialize() error                  // setup only, no I/O started
//   - Start(ctx context.Context) error    // begin work, ctx spans the run
//   - Stop(timeout time.Duration) error   // graceful shutdown with deadline
type LifecycleComponent interface {
	Meta() Metadata
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// HealthReporter is implemented by components that expose health state
type HealthReporter interface {
	Health() HealthStatus
}
