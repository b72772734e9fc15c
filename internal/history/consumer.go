package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const GroupID = "order-history"

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaReader(brokers []string, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  GroupID,
		MaxBytes: 10e6, // 10MB
	})
}

// Consumer projects order events into the history read model. A message is
// committed only after it has been applied, or when it can never be applied.
type Consumer struct {
	repo    Repository
	reader  MessageReader
	log     *slog.Logger
	backoff time.Duration
}

func NewConsumer(repo Repository, reader MessageReader, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{repo: repo, reader: reader, log: log, backoff: time.Second}
}

func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.ErrorContext(ctx, "error reading message", "error", err)
			if !c.wait(ctx) {
				return nil
			}
			continue
		}

		if !c.applyWithRetry(ctx, m) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.ErrorContext(ctx, "failed to commit message", "offset", m.Offset, "error", err)
		}
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Error("error closing kafka reader", "error", err)
	}
}

// applyWithRetry keeps applying m until it succeeds or is found to be
// malformed. It returns false only when ctx ended first.
func (c *Consumer) applyWithRetry(ctx context.Context, m kafka.Message) bool {
	for {
		err := c.handle(ctx, m)
		if err == nil {
			return true
		}
		if errors.Is(err, errMalformed) {
			c.log.WarnContext(ctx, "skipping malformed order event", "offset", m.Offset, "error", err)
			return true
		}
		c.log.ErrorContext(ctx, "failed to apply order event", "offset", m.Offset, "error", err)
		if !c.wait(ctx) {
			return false
		}
	}
}

var errMalformed = errors.New("malformed order event")

func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("%w: %w", errMalformed, err)
	}
	if event.EventID == uuid.Nil || event.OrderID == uuid.Nil {
		return fmt.Errorf("%w: missing event or order id", errMalformed)
	}

	applied, err := c.repo.Apply(ctx, event)
	if err != nil {
		return err
	}
	if !applied {
		c.log.InfoContext(ctx, "order event already applied", "event_id", event.EventID, "order_id", event.OrderID)
		return nil
	}
	c.log.InfoContext(ctx, "order event applied", "event_id", event.EventID, "type", event.Type, "order_id", event.OrderID)
	return nil
}

func (c *Consumer) wait(ctx context.Context) bool {
	t := time.NewTimer(c.backoff)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
