package wssink

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlrjr/DragonSync/tracker"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startSink(t *testing.T) (*Sink, string) {
	t.Helper()
	config := DefaultConfig()
	config.Port = freePort(t)

	sink, err := New(config, nil)
	require.NoError(t, err)
	require.NoError(t, sink.Start())
	t.Cleanup(func() { sink.Close() }) //nolint:errcheck

	return sink, fmt.Sprintf("ws://127.0.0.1:%d%s", config.Port, config.Path)
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	var conn *websocket.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Cleanup(func() { conn.Close() }) //nolint:errcheck
			return conn
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("dial %s: %v", url, err)
	return nil
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestBroadcastToMultipleClients(t *testing.T) {
	sink, url := startSink(t)

	c1 := dial(t, url)
	c2 := dial(t, url)
	require.Eventually(t, func() bool { return sink.ClientCount() == 2 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, sink.PublishDrone(context.Background(), tracker.Snapshot{UID: "drone-X", Lat: 40}))

	for _, conn := range []*websocket.Conn{c1, c2} {
		f := readFrame(t, conn)
		assert.Equal(t, "drone", f.Type)
		require.NotNil(t, f.Drone)
		assert.Equal(t, "drone-X", f.Drone.UID)
		assert.InDelta(t, 40.0, f.Drone.Lat, 1e-9)
	}
}

func TestMarkInactiveFrame(t *testing.T) {
	sink, url := startSink(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return sink.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, sink.MarkInactive(context.Background(), "drone-X"))

	f := readFrame(t, conn)
	assert.Equal(t, "inactive", f.Type)
	assert.Equal(t, "drone-X", f.UID)
	assert.Nil(t, f.Drone)
}

func TestDisconnectedClientIsDropped(t *testing.T) {
	sink, url := startSink(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return sink.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close() //nolint:errcheck
	require.Eventually(t, func() bool { return sink.ClientCount() == 0 },
		time.Second, 10*time.Millisecond)

	// Publishing with no clients is a no-op, not an error
	assert.NoError(t, sink.PublishDrone(context.Background(), tracker.Snapshot{UID: "drone-X"}))
}

func TestDoubleStart(t *testing.T) {
	config := DefaultConfig()
	config.Port = freePort(t)
	sink, err := New(config, nil)
	require.NoError(t, err)
	require.NoError(t, sink.Start())
	defer sink.Close() //nolint:errcheck

	assert.Error(t, sink.Start())
}

func TestConfigValidate(t *testing.T) {
	bad := Config{Port: 0, Path: "/ws"}
	assert.Error(t, bad.Validate())

	bad = Config{Port: 8081, Path: "ws"}
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "path"))
}
