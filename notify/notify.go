// Package notify delivers best-effort enforcement notifications.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/yairfalse/allot/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Delivery channels
const (
	ChannelWebhook = "webhook"
	ChannelSQS     = "sqs"
)

// DefaultTimeout bounds a single delivery attempt
const DefaultTimeout = 10 * time.Second

// Notification is the payload sent when a policy is enforced
type Notification struct {
	PolicyID   string          `json:"policyId"`
	PolicyType string          `json:"policyType"`
	EventType  string          `json:"eventType"`
	TenantID   int64           `json:"tenantId"`
	Message    string          `json:"message"`
	Details    json.RawMessage `json:"details,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`

	// Destinations, not part of the payload
	WebhookURL string `json:"-"`
	QueueURL   string `json:"-"`
}

// Sender delivers a notification over one channel
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Dispatcher fans notifications out to the configured senders.
// Each delivery runs on its own goroutine with its own timeout; failures
// are logged and counted, never returned.
type Dispatcher struct {
	webhook Sender
	queue   Sender
	timeout time.Duration
	logger  *telemetry.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
	wg      sync.WaitGroup
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithWebhook sets the sender used for webhook URLs
func WithWebhook(s Sender) DispatcherOption {
	return func(d *Dispatcher) {
		d.webhook = s
	}
}

// WithQueue sets the sender used for queue URLs
func WithQueue(s Sender) DispatcherOption {
	return func(d *Dispatcher) {
		d.queue = s
	}
}

// WithTimeout sets the per-delivery timeout
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithLogger overrides the dispatcher logger
func WithLogger(logger *telemetry.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics overrides the dispatcher instruments
func WithMetrics(metrics *telemetry.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// NewDispatcher creates a dispatcher
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		timeout: DefaultTimeout,
		logger:  telemetry.NewLogger("notify"),
		tracer:  otel.Tracer("allot/notify"),
		metrics: telemetry.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch starts delivery of n to every destination it names and returns
// immediately. Destinations without a configured sender are logged and dropped.
func (d *Dispatcher) Dispatch(n Notification) {
	if n.WebhookURL != "" {
		d.start(ChannelWebhook, d.webhook, n)
	}
	if n.QueueURL != "" {
		d.start(ChannelSQS, d.queue, n)
	}
}

// Wait blocks until all started deliveries have finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) start(channel string, sender Sender, n Notification) {
	if sender == nil {
		d.logger.Warn().
			Str("channel", channel).
			Str("policy_id", n.PolicyID).
			Msg("no sender configured for notification channel")
		d.metrics.RecordNotification(context.Background(), channel, "unconfigured")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(channel, sender, n)
	}()
}

func (d *Dispatcher) deliver(channel string, sender Sender, n Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	ctx, span := d.tracer.Start(ctx, "notify.deliver",
		trace.WithAttributes(
			attribute.String("channel", channel),
			attribute.String("policy.id", n.PolicyID),
		))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			d.logger.WithContext(ctx).Error().
				Interface("panic", r).
				Str("channel", channel).
				Msg("notification sender panicked")
			d.metrics.RecordNotification(ctx, channel, "failed")
		}
	}()

	if err := sender.Send(ctx, n); err != nil {
		d.logger.WithContext(ctx).Warn().
			Err(err).
			Str("channel", channel).
			Str("policy_id", n.PolicyID).
			Int64("tenant_id", n.TenantID).
			Msg("notification delivery failed")
		d.metrics.RecordNotification(ctx, channel, "failed")
		telemetry.RecordNotificationEvent(span, n.PolicyID, channel, "failed", err.Error())
		return
	}

	d.logger.WithContext(ctx).Debug().
		Str("channel", channel).
		Str("policy_id", n.PolicyID).
		Msg("notification delivered")
	d.metrics.RecordNotification(ctx, channel, "success")
	telemetry.RecordNotificationEvent(span, n.PolicyID, channel, "success", "")
}
