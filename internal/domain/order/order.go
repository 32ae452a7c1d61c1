package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Customer holds the contact and shipping details captured at checkout.
type Customer struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"required,email,max=254"`
	Phone   string `json:"phone" validate:"required,max=32"`
	Address string `json:"address" validate:"required,max=1000"`
	// UserID links the order to a signed-in account. Empty for guests.
	UserID string `json:"user_id" validate:"omitempty,max=64"`
}

// Order is a persisted checkout with its monetary snapshot.
//
// Amounts are whole currency units and satisfy
// TotalAmount = (Subtotal - DiscountAmount) + TaxAmount.
type Order struct {
	ID              string
	Customer        Customer
	PaymentMethodID string
	Status          Status
	Subtotal        decimal.Decimal
	TaxAmount       decimal.Decimal
	DiscountAmount  decimal.Decimal
	TotalAmount     decimal.Decimal
	// PromoCode is the code as applied at checkout, empty when none.
	PromoCode       string
	StockDeducted   bool
	LookupTokenHash string
	Items           []Item
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Item is an order line. Name and unit price are copied from the product at
// checkout so later catalog edits do not change the order.
type Item struct {
	ProductID   string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
}

// Transition describes a status change request handed to the Repository.
type Transition struct {
	OrderID string
	From    Status
	To      Status
	// DeductStock asks the repository to run the one-time stock deduction in
	// the same transaction as the status change.
	DeductStock bool
}

// StockAdjustment records what happened to one item during deduction.
type StockAdjustment struct {
	ProductID string
	Quantity  int
	// Missing is set when the product row no longer exists.
	Missing bool
}

// TransitionResult is the outcome of Repository.Transition.
type TransitionResult struct {
	Order *Order
	// StockDeducted is true only for the call that actually flipped the
	// stock_deducted flag.
	StockDeducted bool
	Adjustments   []StockAdjustment
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores the order header and items in one transaction. When
	// promoID is non-empty the promo's usage counter is incremented in the
	// same transaction, conditional on the promo still being active and under
	// its limit; otherwise nothing is written and promo.ErrQuotaExhausted is
	// returned.
	Create(ctx context.Context, o *Order, promoID string) error
	// Get returns the order with its items or ErrNotFound.
	Get(ctx context.Context, id string) (*Order, error)
	// Transition changes the status if it still equals t.From. It returns
	// ErrNotFound for unknown orders and ErrStatusConflict when the status
	// has moved on.
	Transition(ctx context.Context, t Transition) (*TransitionResult, error)
}
