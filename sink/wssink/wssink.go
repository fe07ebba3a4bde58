// Package wssink serves a WebSocket endpoint that streams tracked drone
// updates to every connected client, for live map frontends. Implements
// the drone, inactive, and close sink capabilities.
package wssink

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/jlrjr/DragonSync/errors"
	"github.com/jlrjr/DragonSync/tracker"
)

const writeTimeout = 5 * time.Second

// Config holds configuration for the WebSocket sink
type Config struct {
	// Port the HTTP server listens on
	Port int `yaml:"port"`
	// Path of the WebSocket endpoint
	Path string `yaml:"path"`
}

// DefaultConfig returns the default WebSocket sink configuration
func DefaultConfig() Config {
	return Config{Port: 8081, Path: "/ws"}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"port must be between 1 and 65535")
	}
	if c.Path == "" || c.Path[0] != '/' {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"path must start with /")
	}
	return nil
}

// frame is the wire shape sent to clients
type frame struct {
	Type      string            `json:"type"` // "drone" or "inactive"
	Timestamp time.Time         `json:"timestamp"`
	Drone     *tracker.Snapshot `json:"drone,omitempty"`
	UID       string            `json:"uid,omitempty"`
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Sink broadcasts drone updates over WebSocket
type Sink struct {
	config   Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	server    *http.Server
	group     *errgroup.Group
	clients   map[*client]struct{}
	clientsMu sync.Mutex

	started bool
	mu      sync.Mutex
}

// New creates a WebSocket sink. Call Start before registering it.
func New(config Config, logger *slog.Logger) (*Sink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default().With("component", "ws_sink")
	}
	return &Sink{
		config: config,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Browser frontends connect from arbitrary origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}, nil
}

// Name identifies the sink in router logs and metrics
func (s *Sink) Name() string { return "websocket" }

// Start begins serving the WebSocket endpoint
func (s *Sink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.ErrAlreadyStarted
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleConnection)

	addr := net.JoinHostPort("", strconv.Itoa(s.config.Port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapFatal(err, "Sink", "Start", "listen on "+addr)
	}

	s.group = &errgroup.Group{}
	s.group.Go(func() error {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	s.started = true
	s.logger.Info("websocket sink listening", "addr", addr, "path", s.config.Path)
	return nil
}

// PublishDrone broadcasts the snapshot to every connected client
func (s *Sink) PublishDrone(_ context.Context, snap tracker.Snapshot) error {
	return s.broadcast(frame{
		Type:      "drone",
		Timestamp: time.Now().UTC(),
		Drone:     &snap,
	})
}

// MarkInactive tells clients to drop the drone from their display
func (s *Sink) MarkInactive(_ context.Context, id string) error {
	return s.broadcast(frame{
		Type:      "inactive",
		Timestamp: time.Now().UTC(),
		UID:       id,
	})
}

// Close disconnects all clients and stops the server
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false

	s.clientsMu.Lock()
	for c := range s.clients {
		c.conn.Close() //nolint:errcheck
	}
	s.clients = make(map[*client]struct{})
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "Sink", "Close", "server shutdown")
	}
	if err := s.group.Wait(); err != nil {
		return errors.Wrap(err, "Sink", "Close", "server goroutine")
	}
	return nil
}

// ClientCount returns the number of connected clients
func (s *Sink) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

func (s *Sink) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{conn: conn}
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
	s.logger.Debug("websocket client connected", "remote", r.RemoteAddr)

	// Drain the read side so pings and close frames are processed
	go func() {
		defer s.dropClient(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Sink) dropClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
	c.conn.Close() //nolint:errcheck
}

func (s *Sink) broadcast(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return errors.WrapInvalid(err, "Sink", "broadcast", "marshal frame")
	}

	s.clientsMu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.clientsMu.Unlock()

	for _, c := range targets {
		if err := c.write(data); err != nil {
			s.logger.Debug("websocket write failed, dropping client", "error", err)
			s.dropClient(c)
		}
	}
	return nil
}
