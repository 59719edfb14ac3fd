// Package mqtt publishes detection state events to an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/markdetect/markdetect-go/internal/logger"
)

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	// It returns an error if the connection fails.
	Connect(ctx context.Context) error

	// Publish sends a message to the specified topic on the MQTT broker.
	Publish(ctx context.Context, topic string, payload []byte) error

	// IsConnected returns true if the client is currently connected to the MQTT broker.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Retain   bool // true to retain messages at the broker
	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ClientID:          "markdetect",
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// GetLogger returns the mqtt module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("mqtt")
}
