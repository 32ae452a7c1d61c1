// Package events publishes committed order changes to Kafka.
package events

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront-engine/internal/domain/order"
)

// Event types.
const (
	TypeOrderPlaced        = "order.placed"
	TypeOrderStatusChanged = "order.status_changed"
	TypeStockDeducted      = "order.stock_deducted"
)

const envelopeVersion = 1

// Envelope is the wire wrapper shared by every event.
type Envelope struct {
	EventID    string
	EventType  string
	OccurredAt time.Time
	Producer   string
	// OrderID doubles as the partition key so events of one order stay ordered.
	OrderID string
	Payload func(e *jx.Encoder)
}

// Encode writes the envelope as JSON.
func (env Envelope) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.Field("event_id", func(e *jx.Encoder) { e.Str(env.EventID) })
	e.Field("event_type", func(e *jx.Encoder) { e.Str(env.EventType) })
	e.Field("event_version", func(e *jx.Encoder) { e.Int(envelopeVersion) })
	e.Field("occurred_at", func(e *jx.Encoder) { e.Str(env.OccurredAt.UTC().Format(time.RFC3339Nano)) })
	e.Field("producer", func(e *jx.Encoder) { e.Str(env.Producer) })
	e.Field("correlation_id", func(e *jx.Encoder) { e.Str(env.OrderID) })
	e.Field("payload", func(e *jx.Encoder) {
		if env.Payload == nil {
			e.Null()
			return
		}
		env.Payload(e)
	})
	e.ObjEnd()
}

func orderPlacedPayload(o *order.Order) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("order_id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("payment_method_id", func(e *jx.Encoder) { e.Str(o.PaymentMethodID) })
		if o.PromoCode != "" {
			e.Field("promo_code", func(e *jx.Encoder) { e.Str(o.PromoCode) })
		}
		e.Field("subtotal", func(e *jx.Encoder) { e.Str(o.Subtotal.String()) })
		e.Field("discount_amount", func(e *jx.Encoder) { e.Str(o.DiscountAmount.String()) })
		e.Field("tax_amount", func(e *jx.Encoder) { e.Str(o.TaxAmount.String()) })
		e.Field("total_amount", func(e *jx.Encoder) { e.Str(o.TotalAmount.String()) })
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for _, it := range o.Items {
				e.ObjStart()
				e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID) })
				e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
				e.Field("unit_price", func(e *jx.Encoder) { e.Str(it.UnitPrice.String()) })
				e.ObjEnd()
			}
			e.ArrEnd()
		})
		e.ObjEnd()
	}
}

func statusChangedPayload(orderID string, from, to order.Status) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("order_id", func(e *jx.Encoder) { e.Str(orderID) })
		e.Field("from", func(e *jx.Encoder) { e.Str(string(from)) })
		e.Field("to", func(e *jx.Encoder) { e.Str(string(to)) })
		e.ObjEnd()
	}
}

func stockDeductedPayload(orderID string, adjustments []order.StockAdjustment) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("order_id", func(e *jx.Encoder) { e.Str(orderID) })
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for _, adj := range adjustments {
				e.ObjStart()
				e.Field("product_id", func(e *jx.Encoder) { e.Str(adj.ProductID) })
				e.Field("quantity", func(e *jx.Encoder) { e.Int(adj.Quantity) })
				e.Field("skipped", func(e *jx.Encoder) { e.Bool(adj.Missing) })
				e.ObjEnd()
			}
			e.ArrEnd()
		})
		e.ObjEnd()
	}
}
