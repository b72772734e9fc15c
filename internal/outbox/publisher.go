package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/store"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
)

const (
	DefaultPollInterval = time.Second
	DefaultBatchSize    = 100
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher relays committed outbox events to Kafka in id order. An event is
// marked processed only after Kafka accepted it, so delivery is at least once.
type Publisher struct {
	events   store.OutboxReader
	writer   MessageWriter
	breaker  *gobreaker.CircuitBreaker[struct{}]
	interval time.Duration
	batch    int
	timeout  time.Duration
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

type Option func(*Publisher)

func WithPollInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batch = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(p *Publisher) { p.log = log }
}

// WithBreakerSettings replaces the default circuit breaker configuration.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(p *Publisher) { p.breaker = gobreaker.NewCircuitBreaker[struct{}](st) }
}

// NewKafkaWriter builds the writer for the order events topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
}

func NewPublisher(events store.OutboxReader, w MessageWriter, opts ...Option) *Publisher {
	p := &Publisher{
		events:   events,
		writer:   w,
		interval: DefaultPollInterval,
		batch:    DefaultBatchSize,
		timeout:  5 * time.Second,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	p.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "kafka-order-events",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := p.PublishPending(ctx); err != nil && ctx.Err() == nil {
				p.log.ErrorContext(ctx, "outbox publish failed", "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// PublishPending sends one batch and reports how many events were marked
// processed. It stops at the first event that cannot be written so that
// later events for the same order never overtake it.
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	events, err := p.events.Pending(ctx, p.batch)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, event := range events {
		_, err := p.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, p.publish(ctx, event)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			p.metrics.OutboxEvent("skipped")
			p.log.WarnContext(ctx, "kafka circuit open, leaving events pending", "pending", len(events)-published)
			return published, nil
		}
		if err != nil {
			p.metrics.OutboxEvent("failed")
			p.log.ErrorContext(ctx, "failed to publish event", "event_id", event.ID, "event_type", event.EventType, "error", err)
			return published, nil
		}

		if err := p.events.MarkProcessed(ctx, event.ID, p.now()); err != nil {
			// The event will be sent again; consumers dedupe on event id.
			return published, err
		}
		p.metrics.OutboxEvent("published")
		published++
	}
	return published, nil
}

func (p *Publisher) publish(ctx context.Context, event store.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // order id keeps per-order ordering
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
		Time: event.CreatedAt,
	}
	return p.writer.WriteMessages(ctx, msg)
}
