package postgres

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/xenking/storefront-engine/internal/domain/order"
	"github.com/xenking/storefront-engine/internal/domain/promo"
)

func TestRejectedOrErr(t *testing.T) {
	for _, tt := range []struct {
		name     string
		err      error
		rejected bool
	}{
		{name: "nil", err: nil},
		{name: "check violation", err: errors.Wrap(&pgconn.PgError{Code: codeCheckViolation}, "insert order"), rejected: true},
		{name: "numeric overflow", err: &pgconn.PgError{Code: codeNumericOutOfRange}, rejected: true},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}},
		{name: "connection", err: errors.New("connection reset by peer")},
		{name: "promo quota", err: promo.ErrQuotaExhausted},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got := rejectedOrErr(tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tt.rejected, errors.Is(got, order.ErrRejected))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}
