package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/storefront-engine/internal/domain/order"
)

// Writer is the subset of *kafka.Writer used by Publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ order.Notifier = (*Publisher)(nil)

// Publisher implements order.Notifier by queueing envelopes and writing them
// from a single background loop. A full queue drops the event with a warning
// rather than stall checkout.
type Publisher struct {
	w        Writer
	lg       *zap.Logger
	producer string
	inbox    chan kafka.Message
	now      func() time.Time

	writeTimeout time.Duration
	drainTimeout time.Duration
}

// NewWriter returns a hash-balanced writer so messages with the same order id
// land on the same partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// NewPublisher creates a Publisher with a queue of buf messages.
func NewPublisher(w Writer, lg *zap.Logger, producer string, buf int) *Publisher {
	if buf <= 0 {
		buf = 1
	}
	return &Publisher{
		w:            w,
		lg:           lg,
		producer:     producer,
		inbox:        make(chan kafka.Message, buf),
		now:          time.Now,
		writeTimeout: 10 * time.Second,
		drainTimeout: 5 * time.Second,
	}
}

// Run writes queued messages until ctx is done, then flushes what is left
// and closes the writer.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return p.drain()
		case m := <-p.inbox:
			p.write(context.Background(), m, p.writeTimeout)
		}
	}
}

func (p *Publisher) drain() error {
	deadline := time.Now().Add(p.drainTimeout)
	for {
		select {
		case m := <-p.inbox:
			p.write(context.Background(), m, time.Until(deadline))
		default:
			if err := p.w.Close(); err != nil {
				return errors.Wrap(err, "close kafka writer")
			}
			return nil
		}
	}
}

func (p *Publisher) write(ctx context.Context, m kafka.Message, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.lg.Error("Publish event",
			zap.String("key", string(m.Key)),
			zap.String("type", headerValue(m, "x-event-type")),
			zap.Error(err),
		)
	}
}

func (p *Publisher) OrderPlaced(_ context.Context, o *order.Order) {
	p.enqueue(Envelope{
		EventType: TypeOrderPlaced,
		OrderID:   o.ID,
		Payload:   orderPlacedPayload(o),
	})
}

func (p *Publisher) StatusChanged(_ context.Context, from order.Status, res *order.TransitionResult) {
	o := res.Order
	p.enqueue(Envelope{
		EventType: TypeOrderStatusChanged,
		OrderID:   o.ID,
		Payload:   statusChangedPayload(o.ID, from, o.Status),
	})
	if res.StockDeducted {
		p.enqueue(Envelope{
			EventType: TypeStockDeducted,
			OrderID:   o.ID,
			Payload:   stockDeductedPayload(o.ID, res.Adjustments),
		})
	}
}

func (p *Publisher) enqueue(env Envelope) {
	env.EventID = uuid.NewString()
	env.OccurredAt = p.now()
	env.Producer = p.producer

	e := jx.GetEncoder()
	env.Encode(e)
	value := append([]byte(nil), e.Bytes()...)
	jx.PutEncoder(e)

	m := kafka.Message{
		Key:   []byte(env.OrderID),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(env.EventType)},
			{Key: "x-event-id", Value: []byte(env.EventID)},
		},
	}
	select {
	case p.inbox <- m:
	default:
		p.lg.Warn("Event queue full, dropping event",
			zap.String("order_id", env.OrderID),
			zap.String("type", env.EventType),
		)
	}
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
