package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samber/lo"

	"chat-client/internal/observability"
	"chat-client/internal/telemetry"
)

const (
	defaultDialTimeout    = 3 * time.Second
	defaultConfirmTimeout = 2 * time.Second
)

// Publisher publishes audit and live channel envelopes.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

type Options struct {
	Exchange string
	// AppID tags every message and names the broker connection.
	AppID          string
	DialTimeout    time.Duration
	ConfirmTimeout time.Duration
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = defaultConfirmTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// NewPublisher connects to the broker in confirm mode, or returns a noop
// publisher when AMQP is disabled or unreachable. The client never fails to
// start because of the broker.
func NewPublisher(amqpURL string, opts Options) Publisher {
	opts = opts.withDefaults()
	if amqpURL == "" {
		return noopPublisher{reason: "empty amqp url"}
	}

	disabled := func(err error) Publisher {
		opts.Logger.Warn("rabbitmq disabled, using noop", "error", err)
		return noopPublisher{reason: err.Error()}
	}

	conn, err := amqp.DialConfig(amqpURL, amqp.Config{
		Dial:       amqp.DefaultDial(opts.DialTimeout),
		Properties: amqp.Table{"connection_name": opts.AppID},
	})
	if err != nil {
		return disabled(err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return disabled(err)
	}

	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return disabled(err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return disabled(fmt.Errorf("enable confirms: %w", err))
	}

	return &amqpPublisher{conn: conn, ch: ch, opts: opts}
}

type pendingConfirm struct {
	confirm *amqp.DeferredConfirmation
	event   string
}

func (p pendingConfirm) settled() bool {
	select {
	case <-p.confirm.Done():
		return true
	default:
		return false
	}
}

type amqpPublisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	opts Options

	mu      sync.Mutex
	pending []pendingConfirm
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", describe(event), err)
	}

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.opts.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		AppId:        p.opts.AppID,
		MessageId:    uuid.NewString(),
		Body:         body,
	})
	if err != nil {
		observability.IncAMQPPublishError()
		p.opts.Logger.Warn("rabbitmq publish failed", "event", describe(event), "error", err)
		return err
	}

	p.mu.Lock()
	p.pending = append(lo.Reject(p.pending, func(c pendingConfirm, _ int) bool {
		return c.settled()
	}), pendingConfirm{confirm: confirm, event: describe(event)})
	p.mu.Unlock()
	return nil
}

// Close waits up to ConfirmTimeout for outstanding confirms, then closes the
// connection. Events still unconfirmed at the deadline are logged as lost.
func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.ConfirmTimeout)
	defer cancel()
	for i, c := range pending {
		acked, err := c.confirm.WaitContext(ctx)
		if err != nil {
			p.opts.Logger.Warn("rabbitmq confirms timed out", "unconfirmed", len(pending)-i)
			break
		}
		if !acked {
			observability.IncAMQPPublishError()
			p.opts.Logger.Warn("rabbitmq nacked event", "event", c.event)
		}
	}

	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

func describe(event any) string {
	switch envelope := event.(type) {
	case telemetry.AuditEnvelope:
		return envelope.EventType + "/" + envelope.Payload.Action
	case observability.EventEnvelope:
		return envelope.EventType + "/" + envelope.EventName
	default:
		return "unknown"
	}
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason explains why AMQP is disabled.
func PublisherNoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}
