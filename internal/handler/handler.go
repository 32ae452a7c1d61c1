// Package handler exposes the storefront over HTTP with a chi router and jx
// encoded JSON.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xenking/storefront-engine/internal/domain/auth"
	"github.com/xenking/storefront-engine/internal/domain/cart"
	"github.com/xenking/storefront-engine/internal/domain/order"
	"github.com/xenking/storefront-engine/internal/domain/payment"
	"github.com/xenking/storefront-engine/internal/domain/product"
	"github.com/xenking/storefront-engine/internal/domain/promo"
	"github.com/xenking/storefront-engine/pkg/httpmiddleware"
)

// HeaderOrderToken carries the guest lookup token returned at checkout.
const HeaderOrderToken = "X-Order-Token"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// CartPricer prices carts for display.
type CartPricer interface {
	Price(ctx context.Context, items []cart.Item, code string) (*cart.Quote, error)
}

// OrderService is the checkout and fulfillment API used by the handlers.
type OrderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	SetStatus(ctx context.Context, id string, status order.Status) (*order.TransitionResult, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	GetByToken(ctx context.Context, id, token string) (*order.Order, error)
	RemainingPaymentSeconds(o *order.Order) int
}

var (
	_ CartPricer   = (*cart.Service)(nil)
	_ OrderService = (*order.Service)(nil)
)

// Handler serves the storefront API.
type Handler struct {
	products product.Repository
	payments payment.Repository
	promos   promo.Validator
	carts    CartPricer
	orders   OrderService
	now      func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(
	products product.Repository,
	payments payment.Repository,
	promos promo.Validator,
	carts CartPricer,
	orders OrderService,
) *Handler {
	return &Handler{
		products: products,
		payments: payments,
		promos:   promos,
		carts:    carts,
		orders:   orders,
		now:      time.Now,
	}
}

// RouterConfig holds the route-level middleware.
type RouterConfig struct {
	// Auth authenticates admin requests. Required.
	Auth *APIKeyAuth
	// Throttle guards checkout and promo validation. Optional.
	Throttle httpmiddleware.Middleware
}

// Router mounts the API under /api.
func (h *Handler) Router(cfg RouterConfig) chi.Router {
	throttle := cfg.Throttle
	if throttle == nil {
		throttle = func(next http.Handler) http.Handler { return next }
	}

	r := chi.NewRouter()
	r.Use(middleware.CleanPath, middleware.RequestSize(maxBodyBytes))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{productID}", h.GetProduct)
		r.Get("/payment-methods", h.ListPaymentMethods)
		r.Post("/cart/pricing", h.PriceCart)
		r.With(throttle).Post("/promos/validate", h.ValidatePromo)

		r.Route("/orders", func(r chi.Router) {
			r.With(throttle).Post("/", h.PlaceOrder)
			r.Group(func(r chi.Router) {
				r.Use(cfg.Auth.Optional)
				r.Get("/{orderID}", h.GetOrder)
				r.Get("/{orderID}/payment-window", h.GetPaymentWindow)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(cfg.Auth.Require(auth.ScopeOrdersAdmin))
			r.Patch("/orders/{orderID}/status", h.SetOrderStatus)
		})
	})
	return r
}
