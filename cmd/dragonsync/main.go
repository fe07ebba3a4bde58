// Package main implements the entry point for DragonSync, a bridge that
// turns drone Remote ID telemetry into Cursor-on-Target events and
// downstream sink updates.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jlrjr/DragonSync/affiliation"
	"github.com/jlrjr/DragonSync/component"
	"github.com/jlrjr/DragonSync/config"
	"github.com/jlrjr/DragonSync/cotsender"
	"github.com/jlrjr/DragonSync/input/telemetry"
	"github.com/jlrjr/DragonSync/metric"
	"github.com/jlrjr/DragonSync/natsclient"
	"github.com/jlrjr/DragonSync/service"
	"github.com/jlrjr/DragonSync/sink"
	"github.com/jlrjr/DragonSync/sink/entitysink"
	"github.com/jlrjr/DragonSync/sink/natssink"
	"github.com/jlrjr/DragonSync/sink/wssink"
	"github.com/jlrjr/DragonSync/tracker"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "dragonsync"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	// Secrets like sink tokens come from the environment; a .env file is
	// optional and only a convenience for development.
	_ = godotenv.Load()

	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}
	if cliCfg.Validate {
		fmt.Println("Configuration is valid")
		return nil
	}

	logger := setupLogger(cfg.Logging.SlogLevel(), cfg.Logging.Format)
	slog.SetDefault(logger)
	logger.Info("Starting DragonSync",
		"version", Version,
		"config_path", cliCfg.ConfigPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	metricsRegistry := metric.NewMetricsRegistry()
	coreMetrics := metricsRegistry.CoreMetrics()
	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() { _ = metricsServer.Stop(5 * time.Second) }()
	}

	// NATS
	natsClient, err := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait()),
		natsclient.WithLogger(logger.With("component", "natsclient")))
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	if err := natsClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer func() { _ = natsClient.Close(context.Background()) }()

	// Affiliation lookup
	affiliations, err := affiliation.NewStore(cfg.Affiliation.Path,
		logger.With("component", "affiliation"))
	if err != nil {
		return fmt.Errorf("load affiliation file: %w", err)
	}

	// Sink fan-out
	router := sink.NewRouter(logger.With("component", "sink_router"), coreMetrics)
	if err := registerSinks(cfg, router, natsClient, logger); err != nil {
		return err
	}

	// Outbound TAK transport
	var sender service.EventWriter
	if cfg.CoT.Enabled {
		cot, err := cotsender.New(cfg.CoT.Config, logger.With("component", "cotsender"))
		if err != nil {
			return fmt.Errorf("create CoT sender: %w", err)
		}
		if err := cot.Connect(ctx); err != nil {
			return fmt.Errorf("connect to TAK endpoint: %w", err)
		}
		defer func() { _ = cot.Close() }()
		sender = cot
	}

	// Telemetry input
	input, err := telemetry.New(cfg.Input, natsClient,
		logger.With("component", "telemetry_input"), coreMetrics)
	if err != nil {
		return fmt.Errorf("create telemetry input: %w", err)
	}

	// Registry and bridge
	registry := tracker.NewRegistry(cfg.Tracker.MaxDrones, cfg.Tracker.InactivityTimeout(),
		logger.With("component", "registry"), coreMetrics)

	bridge, err := service.New(service.Options{
		Input:           input,
		Registry:        registry,
		Router:          router,
		Sender:          sender,
		Affiliations:    affiliations,
		RateLimit:       cfg.Tracker.RateLimit(),
		TickInterval:    cfg.Tracker.TickInterval(),
		Workers:         cfg.Dispatch.Workers,
		QueueSize:       cfg.Dispatch.QueueSize,
		CallTimeout:     cfg.Dispatch.CallTimeout(),
		Logger:          logger.With("component", "bridge"),
		Metrics:         coreMetrics,
		MetricsRegistry: metricsRegistry,
	})
	if err != nil {
		return fmt.Errorf("create bridge: %w", err)
	}

	input.OnStatus(bridge.HandleStatus)

	// The bridge must be consuming before the input subscribes
	components := []component.LifecycleComponent{bridge, input}
	for _, c := range components {
		if err := c.Initialize(); err != nil {
			return fmt.Errorf("initialize %s: %w", c.Meta().Name, err)
		}
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", c.Meta().Name, err)
		}
	}

	logger.Info("DragonSync running",
		"max_drones", cfg.Tracker.MaxDrones,
		"inactivity_timeout", cfg.Tracker.InactivityTimeout(),
		"sinks", router.Len(),
		"cot_enabled", cfg.CoT.Enabled)

	go monitorHealth(ctx, logger, components)

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if err := c.Stop(cliCfg.ShutdownTimeout); err != nil {
			logger.Warn("component shutdown incomplete", "component", c.Meta().Name, "error", err)
		}
	}

	logger.Info("Shutdown complete")
	return nil
}

// monitorHealth periodically surfaces unhealthy components in the logs
func monitorHealth(ctx context.Context, logger *slog.Logger, components []component.LifecycleComponent) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range components {
				hr, ok := c.(component.HealthReporter)
				if !ok {
					continue
				}
				h := hr.Health()
				if !h.Healthy {
					logger.Warn("component unhealthy",
						"component", c.Meta().Name,
						"error_count", h.ErrorCount,
						"last_error", h.LastError)
				} else if h.ErrorCount > 0 {
					logger.Debug("component reporting errors",
						"component", c.Meta().Name,
						"error_count", h.ErrorCount,
						"uptime", h.Uptime)
				}
			}
		}
	}
}

// registerSinks builds and registers every enabled sink in a fixed order
func registerSinks(cfg config.Config, router *sink.Router, natsClient *natsclient.Client, logger *slog.Logger) error {
	if cfg.Sinks.NATS.Enabled {
		s, err := natssink.New(cfg.Sinks.NATS.Config, natsClient,
			logger.With("component", "nats_sink"))
		if err != nil {
			return fmt.Errorf("create NATS sink: %w", err)
		}
		router.Register(s)
	}

	if cfg.Sinks.Entity.Enabled {
		s, err := entitysink.New(cfg.Sinks.Entity.Config,
			logger.With("component", "entity_sink"))
		if err != nil {
			return fmt.Errorf("create entity sink: %w", err)
		}
		router.Register(s)
	}

	if cfg.Sinks.WS.Enabled {
		s, err := wssink.New(cfg.Sinks.WS.Config,
			logger.With("component", "ws_sink"))
		if err != nil {
			return fmt.Errorf("create websocket sink: %w", err)
		}
		if err := s.Start(); err != nil {
			return fmt.Errorf("start websocket sink: %w", err)
		}
		router.Register(s)
	}

	return nil
}
