package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlrjr/DragonSync/input/telemetry"
	"github.com/jlrjr/DragonSync/tracker"
)

// chanSource feeds hand-built telemetry through the bridge input contract
type chanSource struct {
	ch chan telemetry.RawMessage
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan telemetry.RawMessage, 16)}
}

func (s *chanSource) Messages() <-chan telemetry.RawMessage { return s.ch }

func (s *chanSource) push(data any) {
	s.ch <- telemetry.RawMessage{Subject: "telemetry.remoteid", Data: data}
}

// recordingFanout captures router calls. Pool workers call it concurrently.
type recordingFanout struct {
	mu        sync.Mutex
	published []string
	evicted   []string
	status    []string
	closed    bool
}

func (f *recordingFanout) Publish(_ context.Context, s tracker.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, s.UID)
}

func (f *recordingFanout) OnEvict(_ context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, id)
}

func (f *recordingFanout) PublishStatus(_ context.Context, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = append(f.status, string(data))
}

func (f *recordingFanout) CloseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *recordingFanout) publishedTo(uid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.published {
		if id == uid {
			return true
		}
	}
	return false
}

func (f *recordingFanout) evictedID(uid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.evicted {
		if id == uid {
			return true
		}
	}
	return false
}

type countingSender struct {
	mu      sync.Mutex
	payload [][]byte
}

func (s *countingSender) SendEvent(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.payload = append(s.payload, cp)
	return nil
}

func (s *countingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payload)
}

func (s *countingSender) sentContaining(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payload {
		if strings.Contains(string(p), substr) {
			return true
		}
	}
	return false
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func droneMessage(serial string, lat, lon float64) any {
	return []any{
		map[string]any{
			"Basic ID": map[string]any{
				"id":      serial,
				"id_type": "Serial Number (ANSI/CTA-2063-A)",
			},
		},
		map[string]any{
			"Location/Vector Message": map[string]any{
				"latitude":  lat,
				"longitude": lon,
			},
		},
	}
}

func startBridge(t *testing.T, source *chanSource, fanout Fanout, sender EventWriter, inactivity time.Duration) *Bridge {
	t.Helper()

	logger := discardLogger()
	registry := tracker.NewRegistry(10, inactivity, logger, nil)
	bridge, err := New(Options{
		Input:        source,
		Registry:     registry,
		Router:       fanout,
		Sender:       sender,
		RateLimit:    10 * time.Millisecond,
		TickInterval: 10 * time.Millisecond,
		Workers:      2,
		QueueSize:    64,
		CallTimeout:  time.Second,
		Logger:       logger,
	})
	require.NoError(t, err)
	require.NoError(t, bridge.Start(context.Background()))
	t.Cleanup(func() { _ = bridge.Stop(2 * time.Second) })
	return bridge
}

func TestBridgeIngestToPublish(t *testing.T) {
	source := newChanSource()
	fanout := &recordingFanout{}
	sender := &countingSender{}
	startBridge(t, source, fanout, sender, time.Minute)

	source.push(droneMessage("SER123", 40.0, -70.0))

	require.Eventually(t, func() bool {
		return fanout.publishedTo("drone-SER123")
	}, 2*time.Second, 10*time.Millisecond, "snapshot should reach the fanout")

	require.Eventually(t, func() bool {
		return sender.count() >= 1
	}, 2*time.Second, 10*time.Millisecond, "encoded event should reach the sender")
}

func TestBridgeDropsUnparseable(t *testing.T) {
	source := newChanSource()
	fanout := &recordingFanout{}
	startBridge(t, source, fanout, nil, time.Minute)

	source.push("not telemetry")
	source.push(droneMessage("SER9", 1.0, 2.0))

	require.Eventually(t, func() bool {
		return fanout.publishedTo("drone-SER9")
	}, 2*time.Second, 10*time.Millisecond)

	fanout.mu.Lock()
	defer fanout.mu.Unlock()
	for _, uid := range fanout.published {
		assert.Equal(t, "drone-SER9", uid)
	}
}

func TestBridgeInactivityEviction(t *testing.T) {
	source := newChanSource()
	fanout := &recordingFanout{}
	startBridge(t, source, fanout, nil, 50*time.Millisecond)

	source.push(droneMessage("SER42", 40.0, -70.0))

	require.Eventually(t, func() bool {
		return fanout.evictedID("drone-SER42")
	}, 2*time.Second, 10*time.Millisecond, "stale drone should be evicted and announced")
}

func TestBridgeStatusForwarding(t *testing.T) {
	source := newChanSource()
	fanout := &recordingFanout{}
	bridge := startBridge(t, source, fanout, nil, time.Minute)

	bridge.HandleStatus([]byte(`{"cpu":12.5}`))

	require.Eventually(t, func() bool {
		fanout.mu.Lock()
		defer fanout.mu.Unlock()
		return len(fanout.status) == 1 && fanout.status[0] == `{"cpu":12.5}`
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBridgeStatusEvent(t *testing.T) {
	source := newChanSource()
	fanout := &recordingFanout{}
	sender := &countingSender{}
	bridge := startBridge(t, source, fanout, sender, time.Minute)

	bridge.HandleStatus([]byte(`{
		"serial_number": "SER1",
		"gps_data": {"latitude": 60.1, "longitude": 24.9, "altitude": 12},
		"system_stats": {"cpu_usage": 41.5, "memory": {"total": 8589934592, "available": 4294967296}}
	}`))

	require.Eventually(t, func() bool {
		return sender.sentContaining(`uid="wardragon-SER1"`)
	}, 2*time.Second, 10*time.Millisecond, "station event should reach the transport")
	assert.True(t, sender.sentContaining(`type="a-f-G-E-S"`))
	assert.True(t, sender.sentContaining("Memory Total: 8192 MB"))
}

// blockingFanout holds every Publish until its context expires, recording
// the error the context ended with
type blockingFanout struct {
	mu        sync.Mutex
	ctxErr    error
	unblocked chan struct{}
}

func newBlockingFanout() *blockingFanout {
	return &blockingFanout{unblocked: make(chan struct{}, 16)}
}

func (f *blockingFanout) Publish(ctx context.Context, _ tracker.Snapshot) {
	<-ctx.Done()
	f.mu.Lock()
	f.ctxErr = ctx.Err()
	f.mu.Unlock()
	select {
	case f.unblocked <- struct{}{}:
	default:
	}
}

func (f *blockingFanout) OnEvict(context.Context, string)       {}
func (f *blockingFanout) PublishStatus(context.Context, []byte) {}
func (f *blockingFanout) CloseAll()                             {}

func TestBridgeCallTimeoutBoundsSinkCalls(t *testing.T) {
	logger := discardLogger()
	registry := tracker.NewRegistry(10, time.Minute, logger, nil)
	source := newChanSource()
	fanout := newBlockingFanout()

	bridge, err := New(Options{
		Input:        source,
		Registry:     registry,
		Router:       fanout,
		RateLimit:    10 * time.Millisecond,
		TickInterval: 10 * time.Millisecond,
		Workers:      1,
		QueueSize:    16,
		CallTimeout:  50 * time.Millisecond,
		Logger:       logger,
	})
	require.NoError(t, err)
	require.NoError(t, bridge.Start(context.Background()))
	t.Cleanup(func() { _ = bridge.Stop(2 * time.Second) })

	source.push(droneMessage("SER7", 40.0, -70.0))

	select {
	case <-fanout.unblocked:
	case <-time.After(time.Second):
		t.Fatal("publish stayed blocked past the call timeout")
	}

	fanout.mu.Lock()
	defer fanout.mu.Unlock()
	assert.ErrorIs(t, fanout.ctxErr, context.DeadlineExceeded)
}

func TestBridgeStopClosesSinks(t *testing.T) {
	source := newChanSource()
	fanout := &recordingFanout{}
	bridge := startBridge(t, source, fanout, nil, time.Minute)

	require.NoError(t, bridge.Stop(2*time.Second))

	fanout.mu.Lock()
	closed := fanout.closed
	fanout.mu.Unlock()
	assert.True(t, closed)

	// stop is idempotent
	assert.NoError(t, bridge.Stop(time.Second))
}

func TestBridgeDoubleStart(t *testing.T) {
	source := newChanSource()
	fanout := &recordingFanout{}
	bridge := startBridge(t, source, fanout, nil, time.Minute)

	assert.Error(t, bridge.Start(context.Background()))
}

func TestBridgeHealth(t *testing.T) {
	source := newChanSource()
	fanout := &recordingFanout{}
	bridge := startBridge(t, source, fanout, nil, time.Minute)

	h := bridge.Health()
	assert.True(t, h.Healthy)
	assert.False(t, h.LastCheck.IsZero())

	require.NoError(t, bridge.Stop(2*time.Second))
	assert.False(t, bridge.Health().Healthy)
}

func TestNewValidation(t *testing.T) {
	logger := discardLogger()
	registry := tracker.NewRegistry(10, time.Minute, logger, nil)
	source := newChanSource()
	fanout := &recordingFanout{}

	base := Options{
		Input:        source,
		Registry:     registry,
		Router:       fanout,
		RateLimit:    time.Second,
		TickInterval: time.Second,
	}

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"missing input", func(o *Options) { o.Input = nil }},
		{"missing registry", func(o *Options) { o.Registry = nil }},
		{"missing router", func(o *Options) { o.Router = nil }},
		{"zero rate limit", func(o *Options) { o.RateLimit = 0 }},
		{"zero tick interval", func(o *Options) { o.TickInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.mutate(&opts)
			_, err := New(opts)
			assert.Error(t, err)
		})
	}

	_, err := New(base)
	assert.NoError(t, err)
}
