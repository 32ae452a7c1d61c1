package order

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"reflect"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront-engine/internal/domain/cart"
	"github.com/xenking/storefront-engine/internal/domain/payment"
	"github.com/xenking/storefront-engine/internal/domain/pricing"
	"github.com/xenking/storefront-engine/internal/domain/product"
	"github.com/xenking/storefront-engine/internal/domain/promo"
)

const instrumentationName = "github.com/xenking/storefront-engine/internal/domain/order"

// Notifier is told about committed order changes. Implementations must not
// block and must not fail the caller; the database is the source of truth.
type Notifier interface {
	OrderPlaced(ctx context.Context, o *Order)
	StatusChanged(ctx context.Context, from Status, res *TransitionResult)
}

type nopNotifier struct{}

func (nopNotifier) OrderPlaced(context.Context, *Order) {}

func (nopNotifier) StatusChanged(context.Context, Status, *TransitionResult) {}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Customer        Customer
	PaymentMethodID string
	Items           []cart.Item
	PromoCode       string
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order *Order
	// LookupToken lets a guest read the order back. Only its hash is stored,
	// so it is returned exactly once.
	LookupToken string
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the notifier for committed changes.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithTelemetry sets the tracer and meter providers.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(s *Service) {
		s.tracerProvider = tp
		s.meterProvider = mp
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service implements checkout and fulfillment.
type Service struct {
	products product.Repository
	promos   promo.Validator
	payments payment.Repository
	orders   Repository
	notifier Notifier
	validate *validator.Validate
	now      func() time.Time

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	placed         metric.Int64Counter
	rejected       metric.Int64Counter
	transitions    metric.Int64Counter
	skipped        metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	promos promo.Validator,
	payments payment.Repository,
	orders Repository,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		products:       products,
		promos:         promos,
		payments:       payments,
		orders:         orders,
		notifier:       nopNotifier{},
		validate:       newValidator(),
		now:            time.Now,
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}

	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	meter := s.meterProvider.Meter(instrumentationName)

	var err error
	if s.placed, err = meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders committed at checkout"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.placed counter")
	}
	if s.rejected, err = meter.Int64Counter("promo.rejections",
		metric.WithDescription("Promo codes rejected by the checkout re-check"),
	); err != nil {
		return nil, errors.Wrap(err, "promo.rejections counter")
	}
	if s.transitions, err = meter.Int64Counter("orders.status_changes",
		metric.WithDescription("Committed order status changes"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.status_changes counter")
	}
	if s.skipped, err = meter.Int64Counter("stock.deduction_skips",
		metric.WithDescription("Order items whose product was missing during stock deduction"),
	); err != nil {
		return nil, errors.Wrap(err, "stock.deduction_skips counter")
	}

	return s, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// PlaceOrder validates the request, re-checks the promo, prices the cart from
// current catalog rows and persists the order together with the promo usage
// increment.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *PlaceOrderResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	customer := trimCustomer(req.Customer)
	if err := s.validateCustomer(ctx, customer); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, &InvalidInputError{Field: "items", Err: cart.ErrEmpty}
	}
	methodID := strings.TrimSpace(req.PaymentMethodID)
	if methodID == "" {
		return nil, &InvalidInputError{Field: "payment_method_id", Err: errors.New("required")}
	}

	method, err := s.payments.GetByID(ctx, methodID)
	switch {
	case errors.Is(err, payment.ErrNotFound):
		return nil, ErrPaymentMethodUnavailable
	case err != nil:
		return nil, &PersistenceError{Op: "get payment method", Err: err}
	case !method.Active:
		return nil, ErrPaymentMethodUnavailable
	}

	now := s.now()

	var applied *promo.Promo
	if code := promo.NormalizeCode(req.PromoCode); code != "" {
		applied, err = s.promos.Validate(ctx, code, now)
		if err != nil {
			if isPromoRejection(err) {
				s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", err.Error())))
				return nil, &PromoNoLongerValidError{Code: code, Reason: err}
			}
			return nil, &PersistenceError{Op: "validate promo", Err: err}
		}
	}

	lines, err := cart.Resolve(ctx, s.products, req.Items)
	if err != nil {
		if cart.IsInputError(err) {
			return nil, &InvalidInputError{Field: "items", Err: err}
		}
		return nil, &PersistenceError{Op: "load products", Err: err}
	}

	priced := pricing.Compute(lines, applied).Round()

	token := uuid.NewString()
	o := &Order{
		ID:              uuid.NewString(),
		Customer:        customer,
		PaymentMethodID: method.ID,
		Status:          StatusPending,
		Subtotal:        priced.Subtotal,
		TaxAmount:       priced.Tax,
		DiscountAmount:  priced.Discount,
		TotalAmount:     priced.Total,
		StockDeducted:   false,
		LookupTokenHash: HashToken(token),
		Items:           make([]Item, len(lines)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, l := range lines {
		o.Items[i] = Item{
			ProductID:   l.Product.ID,
			ProductName: l.Product.Name,
			UnitPrice:   l.Product.Price,
			Quantity:    l.Quantity,
		}
	}

	promoID := ""
	if applied != nil {
		o.PromoCode = applied.Code
		promoID = applied.ID
	}

	if err := s.orders.Create(ctx, o, promoID); err != nil {
		if isPromoRejection(err) {
			s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "lost race")))
			return nil, &PromoNoLongerValidError{Code: o.PromoCode, Reason: promoReason(err)}
		}
		if errors.Is(err, ErrRejected) {
			return nil, &InvalidInputError{Field: "order", Err: err}
		}
		return nil, &PersistenceError{Op: "create order", Err: err}
	}

	s.placed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("promo", applied != nil)))
	span.SetAttributes(attribute.String("order.id", o.ID))
	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("total", o.TotalAmount.String()),
		zap.String("promo_code", o.PromoCode),
	)
	s.notifier.OrderPlaced(ctx, o)

	return &PlaceOrderResult{Order: o, LookupToken: token}, nil
}

func (s *Service) validateCustomer(ctx context.Context, c Customer) error {
	err := s.validate.StructCtx(ctx, c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &InvalidInputError{
			Field: "customer." + fe.Field(),
			Err:   errors.Errorf("failed %q check", fe.Tag()),
		}
	}
	return &InvalidInputError{Field: "customer", Err: err}
}

func trimCustomer(c Customer) Customer {
	return Customer{
		Name:    strings.TrimSpace(c.Name),
		Email:   strings.TrimSpace(c.Email),
		Phone:   strings.TrimSpace(c.Phone),
		Address: strings.TrimSpace(c.Address),
		UserID:  strings.TrimSpace(c.UserID),
	}
}

var promoRejections = []error{
	promo.ErrNotFound,
	promo.ErrNotYetActive,
	promo.ErrExpired,
	promo.ErrQuotaExhausted,
}

func isPromoRejection(err error) bool {
	return promoReason(err) != nil
}

// promoReason returns the promo sentinel err matches, or nil.
func promoReason(err error) error {
	for _, target := range promoRejections {
		if errors.Is(err, target) {
			return target
		}
	}
	return nil
}

// SetStatus moves an order to status. Entering processing runs the one-time
// stock deduction; re-entering the current status is a no-op that still
// reports the order.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) (_ *TransitionResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.SetStatus", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.status", string(status)),
	))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if !status.IsValid() {
		return nil, &InvalidInputError{Field: "status", Err: errors.Errorf("unknown status %q", status)}
	}

	current, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &PersistenceError{Op: "get order", Err: err}
	}

	if current.Status == status && !(status == StatusProcessing && !current.StockDeducted) {
		return &TransitionResult{Order: current}, nil
	}
	if current.Status != status && !CanTransition(current.Status, status) {
		return nil, &InvalidTransitionError{From: current.Status, To: status}
	}

	res, err := s.orders.Transition(ctx, Transition{
		OrderID:     id,
		From:        current.Status,
		To:          status,
		DeductStock: status == StatusProcessing,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStatusConflict) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "transition order", Err: err}
	}

	lg := zctx.From(ctx)
	for _, adj := range res.Adjustments {
		if !adj.Missing {
			continue
		}
		s.skipped.Add(ctx, 1)
		lg.Warn("Product not found, skipping stock deduction",
			zap.String("order_id", id),
			zap.String("product_id", adj.ProductID),
			zap.Int("quantity", adj.Quantity),
		)
	}

	if current.Status != status {
		s.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", string(current.Status)),
			attribute.String("to", string(status)),
		))
		lg.Info("Order status changed",
			zap.String("order_id", id),
			zap.String("from", string(current.Status)),
			zap.String("to", string(status)),
			zap.Bool("stock_deducted", res.StockDeducted),
		)
	}
	s.notifier.StatusChanged(ctx, current.Status, res)

	return res, nil
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &PersistenceError{Op: "get order", Err: err}
	}
	return o, nil
}

// GetByToken returns an order for a guest holding its lookup token. A token
// mismatch is reported as ErrNotFound.
func (s *Service) GetByToken(ctx context.Context, id, token string) (*Order, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(HashToken(token)), []byte(o.LookupTokenHash)) != 1 {
		return nil, ErrNotFound
	}
	return o, nil
}

// RemainingPaymentSeconds reports the remaining payment seconds for an order.
func (s *Service) RemainingPaymentSeconds(o *Order) int {
	return RemainingSeconds(o.CreatedAt, s.now())
}

// HashToken returns the hex SHA-256 of a lookup token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
