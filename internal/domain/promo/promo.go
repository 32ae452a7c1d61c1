// Package promo holds promotion codes and the ordered checks that decide
// whether a code can be applied at a given instant.
package promo

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Scope restricts which cart lines a promotion discounts.
type Scope string

const (
	// ScopeAll discounts every line in the cart.
	ScopeAll Scope = "all"
	// ScopeProducts discounts lines whose product id is listed on the promo.
	ScopeProducts Scope = "specific_products"
	// ScopeCategory discounts lines whose product category is listed on the promo.
	ScopeCategory Scope = "specific_category"
)

// IsValid reports whether s is one of the known scopes.
func (s Scope) IsValid() bool {
	switch s {
	case ScopeAll, ScopeProducts, ScopeCategory:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when no active promo matches the code.
	ErrNotFound = errors.New("promo code not found")
	// ErrNotYetActive is returned before the promo's valid_from instant.
	ErrNotYetActive = errors.New("promo code not yet active")
	// ErrExpired is returned after the promo's valid_until instant.
	ErrExpired = errors.New("promo code expired")
	// ErrQuotaExhausted is returned when the usage limit has been reached.
	ErrQuotaExhausted = errors.New("promo code usage limit reached")
)

var (
	minDiscount = decimal.NewFromInt(1)
	maxDiscount = decimal.NewFromInt(100)
)

// ValidDiscount reports whether d is a usable discount percentage, 1 to 100
// inclusive.
func ValidDiscount(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(minDiscount) && d.LessThanOrEqual(maxDiscount)
}

// Promo is a percentage discount code with an optional validity window,
// usage quota and product or category scope.
type Promo struct {
	ID                 string
	Code               string
	DiscountPercentage decimal.Decimal
	Active             bool
	ValidFrom          *time.Time
	ValidUntil         *time.Time
	// UsageLimit of zero means unlimited.
	UsageLimit    int
	UsageCount    int
	Scope         Scope
	ProductIDs    []string
	CategorySlugs []string
}

// Usable reports whether the promo passes every check at now.
func (p *Promo) Usable(now time.Time) bool {
	return Check(p, now) == nil
}

// Check runs the ordered usability checks against p: existence and active
// flag, then the validity window, then the usage quota. The first failing
// check wins.
func Check(p *Promo, now time.Time) error {
	if p == nil || !p.Active {
		return ErrNotFound
	}
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return ErrNotYetActive
	}
	if p.ValidUntil != nil && now.After(*p.ValidUntil) {
		return ErrExpired
	}
	if p.UsageLimit > 0 && p.UsageCount >= p.UsageLimit {
		return ErrQuotaExhausted
	}
	return nil
}

// NormalizeCode canonicalises a user-supplied code for lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides lookup of promo codes.
type Repository interface {
	// FindByCode returns the promo with the given normalized code regardless
	// of its active flag. It returns ErrNotFound when no row exists.
	FindByCode(ctx context.Context, code string) (*Promo, error)
}
