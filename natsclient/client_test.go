package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)

	c, err := NewClient("nats://127.0.0.1:4222",
		WithName("test"),
		WithMaxReconnects(5),
		WithReconnectWait(time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, "nats://127.0.0.1:4222", c.URL())
	assert.Equal(t, "test", c.name)
	assert.Equal(t, 5, c.maxReconnects)
}

func TestClient_NotConnected(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:4222")
	require.NoError(t, err)

	assert.False(t, c.IsHealthy())
	assert.Nil(t, c.GetConnection())

	assert.ErrorIs(t, c.Publish(context.Background(), "x", nil), ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe(context.Background(), "x", func(context.Context, []byte) {}), ErrNotConnected)

	_, err = c.JetStream()
	assert.ErrorIs(t, err, ErrNotConnected)

	// Close on a never-connected client is a no-op
	assert.NoError(t, c.Close(context.Background()))
}
