package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when an order does not exist, or when a guest
	// lookup token does not match.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidInput is matched by every InvalidInputError.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPromoNoLongerValid is matched by every PromoNoLongerValidError.
	ErrPromoNoLongerValid = errors.New("promo code no longer valid")
	// ErrPaymentMethodUnavailable is returned for unknown or inactive methods.
	ErrPaymentMethodUnavailable = errors.New("payment method unavailable")
	// ErrPersistence is matched by every PersistenceError.
	ErrPersistence = errors.New("persistence failure")
	// ErrRejected is matched by every RejectedError.
	ErrRejected = errors.New("order rejected by storage")
	// ErrStatusConflict is returned when the order's status changed between
	// read and write.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// InvalidInputError reports a rejected checkout or admin field.
type InvalidInputError struct {
	Field string
	Err   error
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

func (e *InvalidInputError) Unwrap() error { return e.Err }

// PromoNoLongerValidError is returned when a promo accepted at cart time fails
// the checkout re-check. Reason is the promo package error.
type PromoNoLongerValidError struct {
	Code   string
	Reason error
}

func (e *PromoNoLongerValidError) Error() string {
	return fmt.Sprintf("promo code %s no longer valid: %v", e.Code, e.Reason)
}

func (e *PromoNoLongerValidError) Is(target error) bool { return target == ErrPromoNoLongerValid }

func (e *PromoNoLongerValidError) Unwrap() error { return e.Reason }

// PersistenceError wraps a storage failure. Callers may retry the operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func (e *PersistenceError) Unwrap() error { return e.Err }

// Retryable reports true. It exists so transports can detect retryable
// errors without importing this package.
func (e *PersistenceError) Retryable() bool { return true }

// RejectedError wraps a storage failure that fails the same way on every
// attempt, such as a check constraint or numeric range violation. Storage
// adapters return it from Create.
type RejectedError struct {
	Err error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("order rejected: %v", e.Err)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

func (e *RejectedError) Unwrap() error { return e.Err }

// InvalidTransitionError is returned for a status change the state machine
// does not allow.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}
