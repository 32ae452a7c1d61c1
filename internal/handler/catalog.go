package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront-engine/internal/domain/promo"
)

// respond encodes a JSON body with a pooled encoder.
func respond(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)
	writeJSON(w, status, e.Bytes())
}

// ListProducts returns the whole catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range products {
			encodeProduct(e, p)
		}
		e.ArrEnd()
	})
}

// GetProduct returns a single product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, *p) })
}

// ListPaymentMethods returns the methods offered at checkout.
func (h *Handler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.payments.ListActive(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, m := range methods {
			encodePaymentMethod(e, m)
		}
		e.ArrEnd()
	})
}

// PriceCart prices a cart for display. Amounts are exact and unrounded; the
// rounded totals are fixed only when the order is placed.
func (h *Handler) PriceCart(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	req, err := decodeCartRequest(d)
	if err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}

	quote, err := h.carts.Price(r.Context(), req.Items, req.PromoCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		encodePricing(e, quote.Pricing)
		if quote.Promo != nil {
			e.Field("promo", func(e *jx.Encoder) { encodePromo(e, quote.Promo) })
		}
		e.ObjEnd()
	})
}

// ValidatePromo reports whether a code is currently usable. Rejections are a
// 200 with valid=false so the storefront can show the reason inline.
func (h *Handler) ValidatePromo(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	code, err := decodeCode(d)
	if err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if promo.NormalizeCode(code) == "" {
		badRequest(w, "code is required")
		return
	}

	p, err := h.promos.Validate(r.Context(), code, h.now())
	if err != nil {
		reason, sentinel := promoErrorCode(err)
		if sentinel == nil {
			writeError(w, r, err)
			return
		}
		respond(w, http.StatusOK, func(e *jx.Encoder) {
			e.ObjStart()
			e.Field("valid", func(e *jx.Encoder) { e.Bool(false) })
			e.Field("code", func(e *jx.Encoder) { e.Str(promo.NormalizeCode(code)) })
			e.Field("reason", func(e *jx.Encoder) { e.Str(reason) })
			e.Field("message", func(e *jx.Encoder) { e.Str(sentinel.Error()) })
			e.ObjEnd()
		})
		return
	}
	respond(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("valid", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("promo", func(e *jx.Encoder) { encodePromo(e, p) })
		e.ObjEnd()
	})
}
