// Package webhook delivers gateway event notifications to client
// registered targets. Deliveries are queued and processed by a fixed
// worker pool; the request path never waits on them.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/overgate-io/overgate/internal/auth"
	"github.com/overgate-io/overgate/internal/config"
	"github.com/overgate-io/overgate/internal/metrics"
	"github.com/overgate-io/overgate/internal/observability"
	"github.com/overgate-io/overgate/internal/retry"
)

// Delivery lifecycle states.
const (
	StatusPending   = "pending"
	StatusRetrying  = "retrying"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Signing and metadata headers attached to every delivery.
const (
	SignatureHeader  = "X-Webhook-Signature"
	EventHeader      = "X-Webhook-Event"
	DeliveryIDHeader = "X-Webhook-Delivery"
)

const (
	defaultQueueSize = 1024
	defaultWorkers   = 4
	defaultTimeout   = 10 * time.Second
)

// Delivery is one pending webhook notification.
type Delivery struct {
	ID       string
	Event    string
	ClientID string
	URL      string
	Secret   string
	Payload  []byte

	// Status and Attempts are maintained by the dispatcher.
	Status   string
	Attempts int
}

// Dispatcher owns the delivery queue and worker pool.
type Dispatcher struct {
	queue   chan *Delivery
	workers int
	timeout time.Duration
	retry   retry.Config

	client  *http.Client
	logger  observability.Logger
	metrics *metrics.GatewayMetrics

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger observability.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithHTTPClient replaces the delivery client, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// New creates a Dispatcher from configuration and starts its workers.
func New(cfg config.WebhookConfig, opts ...Option) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	retryCfg := retry.DefaultConfig()
	if cfg.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoff.Duration() > 0 {
		retryCfg.InitialBackoff = cfg.InitialBackoff.Duration()
	}
	if cfg.MaxBackoff.Duration() > 0 {
		retryCfg.MaxBackoff = cfg.MaxBackoff.Duration()
	}

	d := &Dispatcher{
		queue:   make(chan *Delivery, queueSize),
		workers: workers,
		timeout: timeout,
		retry:   retryCfg,
		client:  &http.Client{},
		logger:  observability.NopLogger(),
		metrics: metrics.Get(),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Trigger builds and enqueues a signed delivery for one fired event.
// It never blocks: when the queue is full the delivery is dropped and
// counted.
func (d *Dispatcher) Trigger(event, clientID, targetURL, secret string, payload Payload) {
	payload.Event = event
	payload.ClientID = clientID
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	body, err := payload.Encode()
	if err != nil {
		d.logger.Error("encode webhook payload",
			observability.String("event", event),
			observability.Error(err),
		)
		return
	}

	d.Enqueue(&Delivery{
		ID:       uuid.NewString(),
		Event:    event,
		ClientID: clientID,
		URL:      targetURL,
		Secret:   secret,
		Payload:  body,
	})
}

// Enqueue adds a delivery to the queue without blocking. A full queue
// drops the delivery.
func (d *Dispatcher) Enqueue(delivery *Delivery) {
	delivery.Status = StatusPending

	select {
	case <-d.stopped:
		d.metrics.RecordWebhookDelivery(delivery.Event, "dropped")
		return
	default:
	}

	select {
	case d.queue <- delivery:
		d.metrics.SetWebhookQueueDepth(len(d.queue))
	default:
		d.metrics.RecordWebhookDelivery(delivery.Event, "dropped")
		d.logger.Warn("webhook queue full, delivery dropped",
			observability.String("event", delivery.Event),
			observability.String("client_id", delivery.ClientID),
		)
	}
}

// QueueDepth reports the number of pending deliveries.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

// Close stops accepting deliveries and drains the queue. Workers get
// until the context deadline to finish in-flight work.
func (d *Dispatcher) Close(ctx context.Context) error {
	// The queue channel itself is never closed, so a concurrent Enqueue
	// can never panic; workers drain and exit on the stop signal.
	d.stopOnce.Do(func() {
		close(d.stopped)
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case delivery := <-d.queue:
			d.metrics.SetWebhookQueueDepth(len(d.queue))
			d.deliver(delivery)
		case <-d.stopped:
			// Drain deliveries accepted before the stop, then exit.
			for {
				select {
				case delivery := <-d.queue:
					d.metrics.SetWebhookQueueDepth(len(d.queue))
					d.deliver(delivery)
				default:
					return
				}
			}
		}
	}
}

// deliver runs the full retry cycle for one delivery.
func (d *Dispatcher) deliver(delivery *Delivery) {
	err := retry.Do(context.Background(), d.retry, func(attempt int) error {
		delivery.Attempts = attempt
		return d.attempt(delivery)
	}, func(attempt int, err error, delay time.Duration) {
		delivery.Status = StatusRetrying
		d.metrics.RecordWebhookDelivery(delivery.Event, "retried")
		d.logger.Debug("webhook delivery retrying",
			observability.String("delivery_id", delivery.ID),
			observability.Int("attempt", attempt),
			observability.Duration("delay", delay),
			observability.Error(err),
		)
	})

	if err != nil {
		delivery.Status = StatusFailed
		d.metrics.RecordWebhookDelivery(delivery.Event, "failed")
		d.logger.Warn("webhook delivery failed",
			observability.String("delivery_id", delivery.ID),
			observability.String("event", delivery.Event),
			observability.String("client_id", delivery.ClientID),
			observability.Int("attempts", delivery.Attempts),
			observability.Error(err),
		)
		return
	}

	delivery.Status = StatusDelivered
	d.metrics.RecordWebhookDelivery(delivery.Event, "delivered")
	d.logger.Debug("webhook delivered",
		observability.String("delivery_id", delivery.ID),
		observability.String("event", delivery.Event),
		observability.Int("attempts", delivery.Attempts),
	)
}

// attempt performs a single signed POST. Any non-2xx status counts as
// a failed attempt.
func (d *Dispatcher) attempt(delivery *Delivery) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, delivery.Event)
	req.Header.Set(DeliveryIDHeader, delivery.ID)
	if delivery.Secret != "" {
		req.Header.Set(SignatureHeader, auth.Sign(delivery.Payload, delivery.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("target returned status %d", resp.StatusCode)
	}
	return nil
}
