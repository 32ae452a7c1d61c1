package order

import "time"

// PaymentWindow is how long a pending order waits for payment.
const PaymentWindow = 30 * time.Minute

// RemainingSeconds returns the whole seconds left in the payment window of an
// order created at createdAt. It never goes below zero, and a createdAt in the
// future (clock skew) reports the full window.
func RemainingSeconds(createdAt, now time.Time) int {
	elapsed := now.Sub(createdAt)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := PaymentWindow - elapsed
	if remaining <= 0 {
		return 0
	}
	return int(remaining / time.Second)
}

// PaymentExpired reports whether the payment window has run out. It is
// informational only and never changes the order's status.
func PaymentExpired(createdAt, now time.Time) bool {
	return RemainingSeconds(createdAt, now) == 0
}
