package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/pricing"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

// CatalogEventType represents the type of catalog event.
type CatalogEventType string

const (
	CatalogEventUpdated CatalogEventType = "catalog.updated"
	CatalogEventDeleted CatalogEventType = "catalog.deleted"
)

// CatalogEvent announces changes to catalog records, typically prices or
// tax rates edited by the catalog service.
type CatalogEvent struct {
	ID        string           `json:"id"`
	Type      CatalogEventType `json:"type"`
	RefType   pricing.RefType  `json:"ref_type"`
	RefIDs    []string         `json:"ref_ids"`
	Timestamp time.Time        `json:"timestamp"`
}

const (
	readBackoffMin = time.Second
	readBackoffMax = 30 * time.Second
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaConsumer consumes catalog events and drops the affected records from
// the catalog cache so previews pick up new prices.
type KafkaConsumer struct {
	reader     messageReader
	cache      repository.CatalogCache
	logger     *logging.Logger
	stopCh     chan struct{}
	backoffMin time.Duration
	backoffMax time.Duration
}

// NewKafkaConsumer creates a new Kafka-based catalog event consumer.
func NewKafkaConsumer(cfg config.KafkaConfig, cache repository.CatalogCache, logger *logging.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.CatalogTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	return newConsumer(reader, cache, logger)
}

func newConsumer(r messageReader, cache repository.CatalogCache, logger *logging.Logger) *KafkaConsumer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &KafkaConsumer{
		reader:     r,
		cache:      cache,
		logger:     logger,
		stopCh:     make(chan struct{}),
		backoffMin: readBackoffMin,
		backoffMax: readBackoffMax,
	}
}

// Start begins consuming events. It returns when ctx is done or Stop is called.
// Read failures are retried with exponential backoff.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Kafka consumer")

	backoff := c.backoffMin
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("Kafka consumer stopped")
			return nil
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				select {
				case <-c.stopCh:
					c.logger.Info("Kafka consumer stopped")
					return nil
				default:
				}
				c.logger.Error("Failed to read message", logging.Fields{
					"error":    err.Error(),
					"retry_in": backoff.String(),
				})
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-c.stopCh:
					c.logger.Info("Kafka consumer stopped")
					return nil
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > c.backoffMax {
					backoff = c.backoffMax
				}
				continue
			}

			backoff = c.backoffMin
			c.handleMessage(ctx, msg)
		}
	}
}

// Stop stops the consumer.
func (c *KafkaConsumer) Stop() {
	close(c.stopCh)
	c.reader.Close()
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, msg kafka.Message) {
	c.logger.Debug("Received message", logging.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var event CatalogEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Error("Failed to unmarshal event", logging.Fields{"error": err.Error()})
		return
	}

	switch event.Type {
	case CatalogEventUpdated, CatalogEventDeleted:
		c.invalidate(ctx, &event)
	default:
		c.logger.Debug("Ignoring unknown event type", logging.Fields{"type": event.Type})
	}
}

func (c *KafkaConsumer) invalidate(ctx context.Context, event *CatalogEvent) {
	if !event.RefType.Valid() || len(event.RefIDs) == 0 {
		c.logger.Warn("Ignoring catalog event without references", logging.Fields{
			"event_id": event.ID,
			"ref_type": event.RefType,
		})
		return
	}

	keys := make([]repository.RecordKey, len(event.RefIDs))
	for i, id := range event.RefIDs {
		keys[i] = repository.RecordKey{Type: event.RefType, ID: id}
	}

	if err := c.cache.InvalidateRecords(ctx, keys...); err != nil {
		c.logger.Error("Failed to invalidate catalog cache", logging.Fields{
			"event_id": event.ID,
			"error":    err.Error(),
		})
		return
	}

	c.logger.Info("Catalog cache invalidated", logging.Fields{
		"event_id": event.ID,
		"type":     event.Type,
		"records":  len(keys),
	})
}
