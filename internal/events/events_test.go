package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/pricing"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeCatalogCache struct {
	invalidated []repository.RecordKey
	err         error
}

func (c *fakeCatalogCache) GetRecords(context.Context, []repository.RecordKey) (map[repository.RecordKey]*pricing.CatalogRecord, error) {
	return nil, nil
}

func (c *fakeCatalogCache) SetRecords(context.Context, map[repository.RecordKey]*pricing.CatalogRecord) error {
	return nil
}

func (c *fakeCatalogCache) InvalidateRecords(_ context.Context, keys ...repository.RecordKey) error {
	if c.err != nil {
		return c.err
	}
	c.invalidated = append(c.invalidated, keys...)
	return nil
}

func testOrder() *models.Order {
	lines := []pricing.LineItem{{
		RefID:          "toy-1",
		RefType:        pricing.RefTypeProduct,
		Quantity:       2,
		SellingPrice:   pricing.MustMoney("500"),
		LineTotal:      pricing.MustMoney("1000"),
		TaxRatePercent: pricing.NewPercent(decimal.NewFromInt(18)),
	}}
	return &models.Order{
		ID:     "ord-1",
		UserID: "u1",
		Status: models.OrderStatusPlaced,
		Lines:  lines,
		Pricing: pricing.OrderPricingRecord{
			Breakdown: pricing.Calculate(lines, pricing.Zero, pricing.Zero),
			Currency:  "INR",
		},
		CouponCode: "SAVE10",
		CreatedAt:  time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_PublishOrderPlaced(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "orders", nil)
	ctx := middleware.WithRequestID(context.Background(), "req-42")

	require.NoError(t, p.PublishOrderPlaced(ctx, testOrder()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "ord-1", string(msg.Key))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, string(EventTypeOrderPlaced), string(msg.Headers[0].Value))

	var event OrderEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, string(msg.Headers[1].Value), event.ID)
	assert.Equal(t, "u1", event.UserID)
	assert.Equal(t, "req-42", event.CorrelationID)
	assert.Equal(t, "1180.00", event.Metadata["amount_due"])

	var data OrderPlacedData
	require.NoError(t, json.Unmarshal(event.Data, &data))
	assert.Equal(t, "SAVE10", data.CouponCode)
	assert.Equal(t, "180.00", data.Pricing.Tax.String())
	require.Len(t, data.Lines, 1)
	assert.Equal(t, 2, data.Lines[0].Quantity)
}

func TestKafkaPublisher_WriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	p := newPublisher(w, "orders", nil)

	err := p.PublishOrderPlaced(context.Background(), testOrder())
	assert.EqualError(t, err, "broker unavailable")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func catalogMessage(t *testing.T, event CatalogEvent) kafka.Message {
	t.Helper()
	b, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Topic: "catalog", Value: b}
}

func TestKafkaConsumer_InvalidatesUpdatedRecords(t *testing.T) {
	cache := &fakeCatalogCache{}
	c := newConsumer(nil, cache, nil)

	c.handleMessage(context.Background(), catalogMessage(t, CatalogEvent{
		ID:      "evt-1",
		Type:    CatalogEventUpdated,
		RefType: pricing.RefTypeBundle,
		RefIDs:  []string{"box-1", "box-2"},
	}))

	assert.Equal(t, []repository.RecordKey{
		{Type: pricing.RefTypeBundle, ID: "box-1"},
		{Type: pricing.RefTypeBundle, ID: "box-2"},
	}, cache.invalidated)
}

func TestKafkaConsumer_IgnoresUnusableMessages(t *testing.T) {
	cache := &fakeCatalogCache{}
	c := newConsumer(nil, cache, nil)
	ctx := context.Background()

	c.handleMessage(ctx, kafka.Message{Value: []byte("{not json")})
	c.handleMessage(ctx, catalogMessage(t, CatalogEvent{Type: "catalog.created", RefType: pricing.RefTypeProduct, RefIDs: []string{"a"}}))
	c.handleMessage(ctx, catalogMessage(t, CatalogEvent{Type: CatalogEventDeleted, RefType: "service", RefIDs: []string{"a"}}))
	c.handleMessage(ctx, catalogMessage(t, CatalogEvent{Type: CatalogEventUpdated, RefType: pricing.RefTypeProduct}))

	assert.Empty(t, cache.invalidated)
}

type scriptedReader struct {
	msgs   []kafka.Message
	closed bool
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

func TestKafkaConsumer_StartUntilCancelled(t *testing.T) {
	cache := &fakeCatalogCache{}
	reader := &scriptedReader{msgs: []kafka.Message{
		catalogMessage(t, CatalogEvent{Type: CatalogEventUpdated, RefType: pricing.RefTypeProduct, RefIDs: []string{"toy-1"}}),
	}}
	c := newConsumer(reader, cache, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Start(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, []repository.RecordKey{{Type: pricing.RefTypeProduct, ID: "toy-1"}}, cache.invalidated)
}

type failingReader struct {
	reads int
}

func (r *failingReader) ReadMessage(context.Context) (kafka.Message, error) {
	r.reads++
	return kafka.Message{}, errors.New("broker unavailable")
}

func (r *failingReader) Close() error { return nil }

func TestKafkaConsumer_BacksOffOnReadErrors(t *testing.T) {
	reader := &failingReader{}
	c := newConsumer(reader, &fakeCatalogCache{}, nil)
	c.backoffMin = 20 * time.Millisecond
	c.backoffMax = 40 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := c.Start(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	// 20ms, 40ms, 40ms... leaves room for at most a handful of reads.
	assert.GreaterOrEqual(t, reader.reads, 2)
	assert.LessOrEqual(t, reader.reads, 5)
}

func TestKafkaConsumer_StopInterruptsBackoff(t *testing.T) {
	c := newConsumer(&failingReader{}, &fakeCatalogCache{}, nil)
	c.backoffMin = time.Hour

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	c.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop while backing off")
	}
}
