package payment

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a payment method id is unknown.
var ErrNotFound = errors.New("payment method not found")

// Method is a checkout payment option such as a bank transfer account.
type Method struct {
	ID     string
	Name   string
	Active bool
}

// Repository provides read access to configured payment methods.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Method, error)
	ListActive(ctx context.Context) ([]Method, error)
}
