package mqtt

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/markdetect/markdetect-go/internal/conf"
	"github.com/markdetect/markdetect-go/internal/errors"
	"github.com/markdetect/markdetect-go/internal/logger"
	"github.com/markdetect/markdetect-go/internal/observability/metrics"
	"github.com/markdetect/markdetect-go/internal/privacy"
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.NewStd("not connected to MQTT broker")

// client implements the Client interface on the Eclipse Paho library.
type client struct {
	config         Config
	internalClient paho.Client
	mu             sync.Mutex
	metrics        *metrics.MQTTMetrics
	log            logger.Logger
}

// NewClient creates a new MQTT client from the mqtt section of settings.
// m may be nil.
func NewClient(settings *conf.Settings, m *metrics.MQTTMetrics) Client {
	cfg := DefaultConfig()
	cfg.Broker = settings.MQTT.Broker
	cfg.ClientID = settings.MQTT.ClientID
	cfg.Username = settings.MQTT.Username
	cfg.Password = settings.MQTT.Password
	cfg.Retain = settings.MQTT.Retain
	return NewClientWithConfig(cfg, m)
}

// NewClientWithConfig creates a new MQTT client for cfg. m may be nil.
func NewClientWithConfig(cfg Config, m *metrics.MQTTMetrics) Client {
	return &client{
		config:  cfg,
		metrics: m,
		log:     GetLogger(),
	}
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
// The library keeps reconnecting in the background after a lost connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return c.connectError(fmt.Errorf("invalid broker URL: %w", err))
	}

	host := u.Hostname()
	if host == "" {
		return c.connectError(fmt.Errorf("broker URL %q has no host", privacy.RedactURL(c.config.Broker)))
	}

	// Check if the host is an IP address
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return c.connectError(fmt.Errorf("failed to resolve hostname %s: %w", host, err))
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.internalClient = paho.NewClient(opts)

	token := c.internalClient.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return c.connectError(fmt.Errorf("connection cancelled: %w", ctx.Err()))
	case <-time.After(c.config.ConnectTimeout):
		return c.connectError(fmt.Errorf("connection timeout"))
	}
	if err := token.Error(); err != nil {
		return c.connectError(fmt.Errorf("connection error: %w", err))
	}

	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(true)
	}
	return nil
}

func (c *client) connectError(err error) error {
	if c.metrics != nil {
		c.metrics.IncrementErrors()
	}
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryNetwork).
		Context("broker", privacy.RedactURL(c.config.Broker)).
		Build()
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsConnected() {
		return ErrNotConnected
	}

	start := time.Now()
	token := c.internalClient.Publish(topic, 0, c.config.Retain, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.config.PublishTimeout):
		if c.metrics != nil {
			c.metrics.IncrementErrors()
		}
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		if c.metrics != nil {
			c.metrics.IncrementErrors()
		}
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}

	if c.metrics != nil {
		c.metrics.RecordDelivered(len(payload), time.Since(start))
	}
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		if c.metrics != nil {
			c.metrics.UpdateConnectionStatus(false)
		}
	}
}

func (c *client) onConnect(_ paho.Client) {
	c.log.Info("connected to MQTT broker", logger.String("broker", privacy.RedactURL(c.config.Broker)))
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(true)
	}
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to MQTT broker lost",
		logger.String("broker", privacy.RedactURL(c.config.Broker)),
		logger.Error(err))
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(false)
		c.metrics.IncrementErrors()
	}
}
