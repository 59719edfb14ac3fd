package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/markdetect/markdetect-go/internal/detection"
	"github.com/markdetect/markdetect-go/internal/errors"
	"github.com/markdetect/markdetect-go/internal/logger"
	"github.com/markdetect/markdetect-go/internal/observability/metrics"
)

// DefaultQueueSize bounds the events waiting to be published.
const DefaultQueueSize = 32

// Drop reasons reported to metrics.
const (
	dropQueueFull    = "queue_full"
	dropDisconnected = "disconnected"
	dropError        = "error"
)

// Publisher forwards flow snapshots to <topic>/<kind>. Publishing happens on
// a worker goroutine so the orchestrator is never blocked by the broker.
type Publisher struct {
	client  Client
	topic   string
	timeout time.Duration
	metrics *metrics.MQTTMetrics
	log     logger.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan detection.Snapshot
	done   chan struct{}
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithMetrics records delivery and drops to m.
func WithMetrics(m *metrics.MQTTMetrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan detection.Snapshot, n)
		}
	}
}

// WithPublishTimeout bounds a single publish.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.timeout = d }
}

// NewPublisher starts a publisher for client. Close stops it.
func NewPublisher(client Client, topic string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		client:  client,
		topic:   topic,
		timeout: DefaultConfig().PublishTimeout,
		log:     GetLogger(),
		queue:   make(chan detection.Snapshot, DefaultQueueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	go p.run()
	return p
}

// Topic returns the topic events for kind are published to.
func (p *Publisher) Topic(kind detection.MediaKind) string {
	return p.topic + "/" + string(kind)
}

// Listener returns a detection.Listener that enqueues snapshots. Events are
// dropped when the queue is full or the publisher is closed.
func (p *Publisher) Listener() detection.Listener {
	return p.enqueue
}

func (p *Publisher) enqueue(snap detection.Snapshot) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.queue <- snap:
	default:
		p.drop(snap, dropQueueFull, nil)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for snap := range p.queue {
		p.publish(snap)
	}
}

func (p *Publisher) publish(snap detection.Snapshot) {
	if !p.client.IsConnected() {
		p.drop(snap, dropDisconnected, nil)
		return
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		p.drop(snap, dropError, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	topic := p.Topic(snap.Kind)
	if err := p.client.Publish(ctx, topic, payload); err != nil {
		reason := dropError
		if errors.Is(err, ErrNotConnected) {
			reason = dropDisconnected
		}
		p.drop(snap, reason, err)
		return
	}

	p.log.Debug("state event published",
		logger.String("topic", topic),
		logger.String("state", snap.State.String()),
		logger.Int("size", len(payload)))
}

func (p *Publisher) drop(snap detection.Snapshot, reason string, err error) {
	if p.metrics != nil {
		p.metrics.RecordDropped(reason)
	}
	fields := []logger.Field{
		logger.String("kind", string(snap.Kind)),
		logger.String("state", snap.State.String()),
		logger.String("reason", reason),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	p.log.Debug("state event dropped", fields...)
}

// Close drains queued events, stops the worker and disconnects the client.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	p.client.Disconnect()
}
