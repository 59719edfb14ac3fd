package mqtt

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdetect/markdetect-go/internal/conf"
	"github.com/markdetect/markdetect-go/internal/errors"
)

func testConfig(broker string) Config {
	cfg := DefaultConfig()
	cfg.Broker = broker
	cfg.ConnectTimeout = 2 * time.Second
	return cfg
}

func TestNewClient_FromSettings(t *testing.T) {
	settings := conf.DefaultSettings()
	settings.MQTT.Broker = "tcp://broker.local:1883"
	settings.MQTT.ClientID = "edge-1"
	settings.MQTT.Retain = true

	c, ok := NewClient(settings, nil).(*client)
	require.True(t, ok)
	assert.Equal(t, "tcp://broker.local:1883", c.config.Broker)
	assert.Equal(t, "edge-1", c.config.ClientID)
	assert.True(t, c.config.Retain)
	assert.Equal(t, DefaultConfig().PublishTimeout, c.config.PublishTimeout)
}

func TestConnect_InvalidBroker(t *testing.T) {
	tests := []struct {
		name   string
		broker string
	}{
		{"missing host", "tcp://:1883"},
		{"unresolvable host", "tcp://unresolvable.invalid:1883"},
		{"malformed URL", "tcp://[::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMQTTMetrics(t)
			c := NewClientWithConfig(testConfig(tt.broker), m)

			err := c.Connect(t.Context())
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
			assert.False(t, c.IsConnected())
			assert.InDelta(t, 1, testutil.ToFloat64(m.Errors), 0)
		})
	}
}

func TestConnect_RefusedConnection(t *testing.T) {
	// Grab a free port and close it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := NewClientWithConfig(testConfig("tcp://"+addr), nil)
	err = c.Connect(t.Context())
	require.Error(t, err)
	assert.False(t, c.IsConnected())
	c.Disconnect()
}

func TestPublish_NotConnected(t *testing.T) {
	c := NewClientWithConfig(testConfig("tcp://127.0.0.1:1883"), nil)

	err := c.Publish(t.Context(), "markdetect/image", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)
}
