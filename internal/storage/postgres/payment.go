package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-engine/internal/domain/payment"
)

const (
	getPaymentMethodSQL = `SELECT id, name, active FROM payment_methods WHERE id = $1`

	listActivePaymentMethodsSQL = `SELECT id, name, active FROM payment_methods
		WHERE active ORDER BY sort_order, id`

	upsertPaymentMethodSQL = `INSERT INTO payment_methods (id, name, active, sort_order)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, active = EXCLUDED.active, sort_order = EXCLUDED.sort_order`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*payment.Method, error) {
	rows, err := r.pool.Query(ctx, getPaymentMethodSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get payment method %q", id)
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[payment.Method])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get payment method %q", id)
	}
	return &m, nil
}

func (r *PaymentRepository) ListActive(ctx context.Context) ([]payment.Method, error) {
	rows, err := r.pool.Query(ctx, listActivePaymentMethodsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list payment methods")
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[payment.Method])
}

// Upsert inserts or replaces a payment method. Used by seeding.
func (r *PaymentRepository) Upsert(ctx context.Context, m payment.Method, sortOrder int) error {
	if _, err := r.pool.Exec(ctx, upsertPaymentMethodSQL, m.ID, m.Name, m.Active, sortOrder); err != nil {
		return errors.Wrapf(err, "upsert payment method %q", m.ID)
	}
	return nil
}
