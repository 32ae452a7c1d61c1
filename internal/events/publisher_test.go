package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/storefront-engine/internal/domain/order"
)

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *recordingWriter) messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func decodeEnvelope(t *testing.T, raw []byte) (fields map[string]string, payload []byte) {
	t.Helper()
	fields = map[string]string{}
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) == "payload" {
			raw, err := d.Raw()
			payload = append([]byte(nil), raw...)
			return err
		}
		if d.Next() == jx.Number {
			n, err := d.Num()
			fields[string(key)] = n.String()
			return err
		}
		s, err := d.Str()
		fields[string(key)] = s
		return err
	})
	require.NoError(t, err)
	return fields, payload
}

func sampleOrder() *order.Order {
	return &order.Order{
		ID:              "ord-1",
		Status:          order.StatusPending,
		PaymentMethodID: "bank",
		PromoCode:       "CRAFT15",
		Subtotal:        decimal.NewFromInt(200000),
		DiscountAmount:  decimal.NewFromInt(30000),
		TaxAmount:       decimal.NewFromInt(18700),
		TotalAmount:     decimal.NewFromInt(188700),
		Items: []order.Item{
			{ProductID: "kit", Quantity: 2, UnitPrice: decimal.NewFromInt(100000)},
		},
	}
}

func TestPublisher_OrderPlaced(t *testing.T) {
	w := &recordingWriter{}
	p := NewPublisher(w, zap.NewNop(), "storefront", 8)
	p.now = func() time.Time { return time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC) }

	p.OrderPlaced(context.Background(), sampleOrder())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))
	assert.True(t, w.closed)

	msgs := w.messages()
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, "ord-1", string(m.Key))
	assert.Equal(t, TypeOrderPlaced, headerValue(m, "x-event-type"))

	fields, payload := decodeEnvelope(t, m.Value)
	assert.Equal(t, TypeOrderPlaced, fields["event_type"])
	assert.Equal(t, "1", fields["event_version"])
	assert.Equal(t, "2026-05-01T08:00:00Z", fields["occurred_at"])
	assert.Equal(t, "ord-1", fields["correlation_id"])
	assert.Equal(t, headerValue(m, "x-event-id"), fields["event_id"])
	assert.JSONEq(t, `{
		"order_id": "ord-1",
		"status": "pending",
		"payment_method_id": "bank",
		"promo_code": "CRAFT15",
		"subtotal": "200000",
		"discount_amount": "30000",
		"tax_amount": "18700",
		"total_amount": "188700",
		"items": [{"product_id": "kit", "quantity": 2, "unit_price": "100000"}]
	}`, string(payload))
}

func TestPublisher_StatusChanged(t *testing.T) {
	w := &recordingWriter{}
	p := NewPublisher(w, zap.NewNop(), "storefront", 8)

	o := sampleOrder()
	o.Status = order.StatusProcessing
	p.StatusChanged(context.Background(), order.StatusPending, &order.TransitionResult{
		Order:         o,
		StockDeducted: true,
		Adjustments: []order.StockAdjustment{
			{ProductID: "gone", Quantity: 1, Missing: true},
			{ProductID: "kit", Quantity: 2},
		},
	})

	o2 := sampleOrder()
	o2.Status = order.StatusShipped
	p.StatusChanged(context.Background(), order.StatusProcessing, &order.TransitionResult{Order: o2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))

	msgs := w.messages()
	require.Len(t, msgs, 3)

	var types []string
	for _, m := range msgs {
		types = append(types, headerValue(m, "x-event-type"))
	}
	assert.Equal(t, []string{TypeOrderStatusChanged, TypeStockDeducted, TypeOrderStatusChanged}, types)

	_, payload := decodeEnvelope(t, msgs[0].Value)
	assert.JSONEq(t, `{"order_id":"ord-1","from":"pending","to":"processing"}`, string(payload))

	_, payload = decodeEnvelope(t, msgs[1].Value)
	assert.JSONEq(t, `{"order_id":"ord-1","items":[
		{"product_id":"gone","quantity":1,"skipped":true},
		{"product_id":"kit","quantity":2,"skipped":false}
	]}`, string(payload))
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	w := &recordingWriter{}
	p := NewPublisher(w, zap.NewNop(), "storefront", 1)

	p.OrderPlaced(context.Background(), sampleOrder())
	p.OrderPlaced(context.Background(), sampleOrder())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))
	assert.Len(t, w.messages(), 1)
}
