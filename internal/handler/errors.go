package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-engine/internal/domain/cart"
	"github.com/xenking/storefront-engine/internal/domain/order"
	"github.com/xenking/storefront-engine/internal/domain/product"
	"github.com/xenking/storefront-engine/internal/domain/promo"
)

// apiError is the JSON error body: {code, message, reason?, retryable?}.
type apiError struct {
	Status    int
	Code      string
	Message   string
	Reason    string
	Retryable bool
}

func (e apiError) encode(enc *jx.Encoder) {
	enc.ObjStart()
	enc.Field("code", func(enc *jx.Encoder) { enc.Str(e.Code) })
	enc.Field("message", func(enc *jx.Encoder) { enc.Str(e.Message) })
	if e.Reason != "" {
		enc.Field("reason", func(enc *jx.Encoder) { enc.Str(e.Reason) })
	}
	if e.Retryable {
		enc.Field("retryable", func(enc *jx.Encoder) { enc.Bool(true) })
	}
	enc.ObjEnd()
}

var promoCodes = map[error]string{
	promo.ErrNotFound:       "promo_not_found",
	promo.ErrNotYetActive:   "promo_not_yet_active",
	promo.ErrExpired:        "promo_expired",
	promo.ErrQuotaExhausted: "promo_quota_exhausted",
}

// promoErrorCode returns the API code and sentinel for a promo rejection.
func promoErrorCode(err error) (string, error) {
	for sentinel, code := range promoCodes {
		if errors.Is(err, sentinel) {
			return code, sentinel
		}
	}
	return "", nil
}

// retryable is implemented by order.PersistenceError.
type retryable interface {
	Retryable() bool
}

// toAPIError maps domain errors to HTTP responses. Unknown errors become an
// opaque 500.
func toAPIError(err error) apiError {
	var (
		noLonger   *order.PromoNoLongerValidError
		invalid    *order.InvalidInputError
		transition *order.InvalidTransitionError
		missing    *cart.ProductNotFoundError
		retry      retryable
	)
	switch {
	case errors.As(err, &noLonger):
		reason, _ := promoErrorCode(noLonger.Reason)
		return apiError{
			Status:  http.StatusConflict,
			Code:    "promo_no_longer_valid",
			Message: noLonger.Error(),
			Reason:  reason,
		}
	case errors.As(err, &invalid):
		return apiError{Status: http.StatusBadRequest, Code: "invalid_input", Message: invalid.Error()}
	case errors.Is(err, order.ErrPaymentMethodUnavailable):
		return apiError{Status: http.StatusUnprocessableEntity, Code: "payment_method_unavailable", Message: err.Error()}
	case errors.As(err, &transition):
		return apiError{Status: http.StatusConflict, Code: "invalid_transition", Message: transition.Error()}
	case errors.Is(err, order.ErrStatusConflict):
		return apiError{Status: http.StatusConflict, Code: "status_conflict", Message: err.Error(), Retryable: true}
	case errors.Is(err, order.ErrNotFound):
		return apiError{Status: http.StatusNotFound, Code: "order_not_found", Message: "order not found"}
	case errors.As(err, &missing), errors.Is(err, product.ErrNotFound):
		return apiError{Status: http.StatusNotFound, Code: "product_not_found", Message: err.Error()}
	case cart.IsInputError(err):
		return apiError{Status: http.StatusBadRequest, Code: "invalid_input", Message: err.Error()}
	}

	if code, sentinel := promoErrorCode(err); sentinel != nil {
		status := http.StatusUnprocessableEntity
		if sentinel == promo.ErrNotFound {
			status = http.StatusNotFound
		}
		return apiError{Status: status, Code: code, Message: sentinel.Error()}
	}
	if errors.As(err, &retry) && retry.Retryable() {
		return apiError{
			Status:    http.StatusServiceUnavailable,
			Code:      "persistence_failure",
			Message:   "temporarily unable to complete the request",
			Retryable: true,
		}
	}
	return apiError{Status: http.StatusInternalServerError, Code: "internal", Message: "internal server error"}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := toAPIError(err)
	if e.Status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Int("status", e.Status), zap.Error(err))
	}
	var enc jx.Encoder
	e.encode(&enc)
	writeJSON(w, e.Status, enc.Bytes())
}

func badRequest(w http.ResponseWriter, msg string) {
	var enc jx.Encoder
	apiError{Code: "invalid_input", Message: msg}.encode(&enc)
	writeJSON(w, http.StatusBadRequest, enc.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
