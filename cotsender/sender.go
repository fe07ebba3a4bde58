// Package cotsender delivers encoded tactical events to a TAK endpoint
// over TCP, TLS, or UDP (including multicast groups). The sender owns the
// connection lifecycle: it dials with persistent backoff at startup,
// reconnects lazily after a broken write, and paces outbound events with
// a token-bucket limiter so a burst of due drones cannot flood the
// endpoint.
package cotsender

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"

	"github.com/jlrjr/DragonSync/errors"
	"github.com/jlrjr/DragonSync/pkg/retry"
	"github.com/jlrjr/DragonSync/pkg/tlsutil"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
	// paceTimeout bounds how long one send may wait on the rate limiter
	paceTimeout = 2 * time.Second
)

// Config holds configuration for the TAK endpoint connection
type Config struct {
	// Host of the TAK endpoint, or a multicast group address for UDP
	Host string `yaml:"host"`
	// Port of the TAK endpoint
	Port int `yaml:"port"`
	// Protocol is "tcp" or "udp"
	Protocol string `yaml:"protocol"`

	// TLS enables TLS over TCP
	TLS bool `yaml:"tls"`
	// CertFile and KeyFile are the client certificate pair
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	// CAFile is an optional CA bundle for server verification
	CAFile string `yaml:"ca_file"`
	// SkipVerify disables server certificate verification
	SkipVerify bool `yaml:"skip_verify"`

	// MulticastTTL is the IP TTL for multicast sends. Zero keeps the OS
	// default of 1, which stays on the local segment.
	MulticastTTL int `yaml:"multicast_ttl"`
	// MulticastInterface names the outgoing interface for multicast sends
	MulticastInterface string `yaml:"multicast_interface"`

	// MaxEventsPerSecond paces outbound sends. Zero means unpaced.
	MaxEventsPerSecond float64 `yaml:"max_events_per_second"`
}

// DefaultConfig returns the default sender configuration
func DefaultConfig() Config {
	return Config{
		Protocol:           "udp",
		Port:               6969,
		MaxEventsPerSecond: 50,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"port must be between 1 and 65535")
	}
	if c.Protocol != "tcp" && c.Protocol != "udp" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"protocol must be tcp or udp")
	}
	if c.TLS && c.Protocol != "tcp" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"tls requires the tcp protocol")
	}
	if c.TLS && (c.CertFile == "") != (c.KeyFile == "") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"cert_file and key_file must be set together")
	}
	if c.MulticastTTL < 0 || c.MulticastTTL > 255 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"multicast_ttl must be between 0 and 255")
	}
	if c.MaxEventsPerSecond < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_events_per_second must not be negative")
	}
	return nil
}

func (c *Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Sender writes tactical events to the configured endpoint. Safe for
// concurrent use.
type Sender struct {
	config    Config
	tlsConfig *tls.Config
	logger    *slog.Logger
	limiter   *rate.Limiter

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// New creates a sender. Connect must be called before SendEvent.
func New(config Config, logger *slog.Logger) (*Sender, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default().With("component", "cot_sender")
	}

	s := &Sender{config: config, logger: logger}

	if config.TLS {
		tc, err := tlsutil.ClientConfig(config.CertFile, config.KeyFile,
			config.CAFile, config.SkipVerify)
		if err != nil {
			return nil, err
		}
		s.tlsConfig = tc
	}
	if config.MaxEventsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.MaxEventsPerSecond),
			int(config.MaxEventsPerSecond)+1)
	}
	return s, nil
}

// Connect establishes the endpoint connection, retrying with backoff
// until the context is cancelled. UDP "connects" immediately since the
// socket is connectionless.
func (s *Sender) Connect(ctx context.Context) error {
	err := retry.Do(ctx, retry.Persistent(), func() error {
		conn, err := s.dial(ctx)
		if err != nil {
			s.logger.Warn("endpoint dial failed, retrying", "addr", s.config.addr(), "error", err)
			return err
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "Sender", "Connect", "dial "+s.config.addr())
	}
	s.logger.Info("connected to TAK endpoint",
		"addr", s.config.addr(), "protocol", s.config.Protocol, "tls", s.config.TLS)
	return nil
}

func (s *Sender) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	if s.config.Protocol == "udp" {
		conn, err := dialer.DialContext(ctx, "udp", s.config.addr())
		if err != nil {
			return nil, err
		}
		if err := s.applyMulticastOptions(conn); err != nil {
			conn.Close() //nolint:errcheck
			return nil, err
		}
		return conn, nil
	}
	if s.tlsConfig != nil {
		td := &tls.Dialer{NetDialer: dialer, Config: s.tlsConfig}
		return td.DialContext(ctx, "tcp", s.config.addr())
	}
	return dialer.DialContext(ctx, "tcp", s.config.addr())
}

// applyMulticastOptions sets TTL and outgoing interface on sockets that
// target a multicast group
func (s *Sender) applyMulticastOptions(conn net.Conn) error {
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		return nil
	}
	addr, ok := udpConn.RemoteAddr().(*net.UDPAddr)
	if !ok || !addr.IP.IsMulticast() {
		return nil
	}

	p := ipv4.NewPacketConn(udpConn)
	if s.config.MulticastTTL > 0 {
		if err := p.SetMulticastTTL(s.config.MulticastTTL); err != nil {
			return errors.WrapFatal(err, "Sender", "dial", "set multicast ttl")
		}
	}
	if s.config.MulticastInterface != "" {
		ifi, err := net.InterfaceByName(s.config.MulticastInterface)
		if err != nil {
			return errors.WrapFatal(err, "Sender", "dial",
				"resolve interface "+s.config.MulticastInterface)
		}
		if err := p.SetMulticastInterface(ifi); err != nil {
			return errors.WrapFatal(err, "Sender", "dial", "set multicast interface")
		}
	}
	return nil
}

// SendEvent writes one encoded event. A broken connection is redialed
// once; if that fails the event is dropped and the error returned. The
// limiter wait is bounded by ctx, capped at paceTimeout.
func (s *Sender) SendEvent(ctx context.Context, data []byte) error {
	if s.limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, paceTimeout)
		err := s.limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			return errors.WrapTransient(err, "Sender", "SendEvent", "rate limiter wait")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrShuttingDown
	}
	if s.conn == nil {
		if err := s.redialLocked(); err != nil {
			return err
		}
	}

	if err := s.write(data); err != nil {
		s.logger.Warn("event write failed, reconnecting", "error", err)
		s.conn.Close() //nolint:errcheck
		s.conn = nil
		if err := s.redialLocked(); err != nil {
			return err
		}
		if err := s.write(data); err != nil {
			s.conn.Close() //nolint:errcheck
			s.conn = nil
			return errors.WrapTransient(err, "Sender", "SendEvent", "write after reconnect")
		}
	}
	return nil
}

func (s *Sender) write(data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
	_, err := s.conn.Write(data)
	return err
}

func (s *Sender) redialLocked() error {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	conn, err := s.dial(ctx)
	if err != nil {
		return errors.WrapTransient(err, "Sender", "SendEvent", "redial "+s.config.addr())
	}
	s.conn = conn
	return nil
}

// Close shuts the connection down. Subsequent sends fail fast.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		if err != nil {
			return errors.Wrap(err, "Sender", "Close", "close connection")
		}
	}
	return nil
}
