package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/pricing"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

// Ensure KafkaPublisher implements service.OrderEventPublisher
var _ service.OrderEventPublisher = (*KafkaPublisher)(nil)

// EventType represents the type of an event on the orders topic.
type EventType string

const (
	EventTypeOrderPlaced EventType = "order.placed"
)

// OrderEvent represents an order-related event.
type OrderEvent struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	OrderID       string            `json:"order_id"`
	UserID        string            `json:"user_id"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// OrderPlacedData is the payload of an order.placed event.
type OrderPlacedData struct {
	Lines      []pricing.LineItem         `json:"lines"`
	Pricing    pricing.OrderPricingRecord `json:"pricing"`
	CouponCode string                     `json:"coupon_code,omitempty"`
	CreatedAt  time.Time                  `json:"created_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes order events to Kafka.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *logging.Logger
}

// NewKafkaPublisher creates a new Kafka-based event publisher.
func NewKafkaPublisher(cfg config.KafkaConfig, logger *logging.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.OrdersTopic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
	}
	return newPublisher(writer, cfg.OrdersTopic, logger)
}

func newPublisher(w messageWriter, topic string, logger *logging.Logger) *KafkaPublisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &KafkaPublisher{
		writer: w,
		topic:  topic,
		logger: logger,
	}
}

// PublishOrderPlaced publishes an order placed event keyed by order ID.
func (p *KafkaPublisher) PublishOrderPlaced(ctx context.Context, order *models.Order) error {
	p.logger.Debug("Publishing order placed event", logging.Fields{
		"order_id": order.ID,
	})

	data, err := json.Marshal(OrderPlacedData{
		Lines:      order.Lines,
		Pricing:    order.Pricing,
		CouponCode: order.CouponCode,
		CreatedAt:  order.CreatedAt,
	})
	if err != nil {
		return err
	}

	event := p.createEvent(ctx, EventTypeOrderPlaced, order.ID, order.UserID, data)
	event.Metadata["currency"] = order.Pricing.Currency
	event.Metadata["amount_due"] = order.Pricing.AmountDue.String()
	return p.publish(ctx, event)
}

func (p *KafkaPublisher) createEvent(ctx context.Context, eventType EventType, orderID, userID string, data []byte) *OrderEvent {
	return &OrderEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		OrderID:       orderID,
		UserID:        userID,
		Data:          data,
		Metadata:      make(map[string]string),
		Timestamp:     time.Now().UTC(),
		CorrelationID: middleware.RequestIDFromContext(ctx),
	}
}

func (p *KafkaPublisher) publish(ctx context.Context, event *OrderEvent) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: eventData,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event", logging.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
			"order_id":   event.OrderID,
			"error":      err.Error(),
		})
		return err
	}

	p.logger.Info("Event published", logging.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"order_id":   event.OrderID,
		"topic":      p.topic,
	})
	return nil
}

// Close closes the Kafka writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info("Closing Kafka publisher")
	return p.writer.Close()
}
