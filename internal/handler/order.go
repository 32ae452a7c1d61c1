package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront-engine/internal/domain/auth"
	"github.com/xenking/storefront-engine/internal/domain/order"
)

// PlaceOrder creates an order from the submitted cart. The lookup token in
// the response is the only copy the server hands out.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	req, err := decodePlaceOrder(d)
	if err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}

	res, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o := res.Order
	remaining := h.orders.RemainingPaymentSeconds(o)
	w.Header().Set("Location", "/api/orders/"+o.ID)
	respond(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("order", func(e *jx.Encoder) { encodeOrder(e, o, remaining) })
		e.Field("lookup_token", func(e *jx.Encoder) { e.Str(res.LookupToken) })
		e.Field("payment_window", func(e *jx.Encoder) { encodeWindow(e, o, remaining) })
		e.ObjEnd()
	})
}

// loadOrder resolves the order for a read request. Guests prove ownership
// with the lookup token, operators with an admin API key.
func (h *Handler) loadOrder(w http.ResponseWriter, r *http.Request) (*order.Order, bool) {
	id := chi.URLParam(r, "orderID")

	var (
		o   *order.Order
		err error
	)
	if token := r.Header.Get(HeaderOrderToken); token != "" {
		o, err = h.orders.GetByToken(r.Context(), id, token)
	} else if info, ok := APIKeyFromContext(r.Context()); ok && info.HasScope(auth.ScopeOrdersAdmin) {
		o, err = h.orders.Get(r.Context(), id)
	} else {
		writeError(w, r, order.ErrNotFound)
		return nil, false
	}
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return o, true
}

// GetOrder returns an order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	remaining := h.orders.RemainingPaymentSeconds(o)
	respond(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o, remaining) })
}

// GetPaymentWindow reports how long a pending order has left to be paid.
// Expiry is informational and never changes the status.
func (h *Handler) GetPaymentWindow(w http.ResponseWriter, r *http.Request) {
	o, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	remaining := h.orders.RemainingPaymentSeconds(o)
	respond(w, http.StatusOK, func(e *jx.Encoder) { encodeWindow(e, o, remaining) })
}

func encodeWindow(e *jx.Encoder, o *order.Order, remaining int) {
	e.ObjStart()
	e.Field("order_id", func(e *jx.Encoder) { e.Str(o.ID) })
	e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
	e.Field("remaining_seconds", func(e *jx.Encoder) { e.Int(remaining) })
	e.Field("expires_at", func(e *jx.Encoder) {
		e.Str(o.CreatedAt.Add(order.PaymentWindow).UTC().Format(time.RFC3339))
	})
	e.Field("expired", func(e *jx.Encoder) { e.Bool(remaining == 0) })
	e.ObjEnd()
}

// SetOrderStatus moves an order through fulfillment.
func (h *Handler) SetOrderStatus(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	req, err := decodeStatus(d)
	if err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Status == "" {
		badRequest(w, "status is required")
		return
	}

	res, err := h.orders.SetStatus(r.Context(), chi.URLParam(r, "orderID"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	remaining := h.orders.RemainingPaymentSeconds(res.Order)
	respond(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("order", func(e *jx.Encoder) { encodeOrder(e, res.Order, remaining) })
		e.Field("stock_deducted", func(e *jx.Encoder) { e.Bool(res.StockDeducted) })
		if len(res.Adjustments) > 0 {
			e.Field("adjustments", func(e *jx.Encoder) {
				e.ArrStart()
				for _, a := range res.Adjustments {
					e.ObjStart()
					e.Field("product_id", func(e *jx.Encoder) { e.Str(a.ProductID) })
					e.Field("quantity", func(e *jx.Encoder) { e.Int(a.Quantity) })
					e.Field("skipped", func(e *jx.Encoder) { e.Bool(a.Missing) })
					e.ObjEnd()
				}
				e.ArrEnd()
			})
		}
		e.ObjEnd()
	})
}
