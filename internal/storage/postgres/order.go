package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-engine/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, customer_name, customer_email, customer_phone, customer_address,
			user_id, payment_method_id, status, subtotal, tax_amount, discount_amount, total_amount,
			promo_code, stock_deducted, lookup_token_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, FALSE, $14, $15, $15)`

	getOrderSQL = `SELECT id, customer_name, customer_email, customer_phone, customer_address,
			user_id, payment_method_id, status, subtotal, tax_amount, discount_amount, total_amount,
			promo_code, stock_deducted, lookup_token_hash, created_at, updated_at
		FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT product_id, product_name, unit_price, quantity
		FROM order_items WHERE order_id = $1 ORDER BY line_no`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	// setOrderStatusSQL is a compare-and-swap on the status read by the caller.
	setOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`

	// claimStockDeductionSQL flips the flag at most once per order.
	claimStockDeductionSQL = `UPDATE orders SET stock_deducted = TRUE
		WHERE id = $1 AND stock_deducted = FALSE`

	// Items are walked in product order so concurrent deductions lock
	// product rows in the same sequence.
	getDeductionItemsSQL = `SELECT product_id, SUM(quantity)::int
		FROM order_items WHERE order_id = $1
		GROUP BY product_id ORDER BY product_id`

	deductStockSQL = `UPDATE products SET stock = GREATEST(stock - $2, 0) WHERE id = $1`
)

// SQLSTATE codes that fail identically on retry.
const (
	codeNumericOutOfRange = "22003"
	codeCheckViolation    = "23514"
)

var orderItemColumns = []string{"order_id", "line_no", "product_id", "product_name", "unit_price", "quantity"}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order header, its items and the promo usage increment
// in a single transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, promoID string) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if promoID != "" {
			if err := incrementPromoUsage(ctx, tx, promoID, o.CreatedAt); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.Customer.Name, o.Customer.Email, o.Customer.Phone, o.Customer.Address,
			nullString(o.Customer.UserID), o.PaymentMethodID, string(o.Status),
			o.Subtotal, o.TaxAmount, o.DiscountAmount, o.TotalAmount,
			nullString(o.PromoCode), o.LookupTokenHash, o.CreatedAt,
		); err != nil {
			return errors.Wrapf(err, "insert order %q", o.ID)
		}

		rows := make([][]any, len(o.Items))
		for i, it := range o.Items {
			rows[i] = []any{o.ID, i + 1, it.ProductID, it.ProductName, it.UnitPrice, it.Quantity}
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"order_items"}, orderItemColumns, pgx.CopyFromRows(rows)); err != nil {
			return errors.Wrapf(err, "insert items for order %q", o.ID)
		}
		return nil
	})
	return rejectedOrErr(err)
}

// rejectedOrErr marks constraint and range violations as order.RejectedError.
func rejectedOrErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeNumericOutOfRange, codeCheckViolation:
			return &order.RejectedError{Err: err}
		}
	}
	return err
}

// Get returns the order with its items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, r.pool, id)
}

// Transition changes the order status and, when requested, performs the
// one-time stock deduction in the same transaction.
func (r *OrderRepository) Transition(ctx context.Context, t order.Transition) (*order.TransitionResult, error) {
	var res order.TransitionResult
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, setOrderStatusSQL, t.OrderID, string(t.From), string(t.To))
		if err != nil {
			return errors.Wrap(err, "set order status")
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, orderExistsSQL, t.OrderID).Scan(&exists); err != nil {
				return errors.Wrap(err, "check order exists")
			}
			if !exists {
				return order.ErrNotFound
			}
			return order.ErrStatusConflict
		}

		if t.DeductStock {
			adjustments, deducted, err := deductStock(ctx, tx, t.OrderID)
			if err != nil {
				return err
			}
			res.StockDeducted = deducted
			res.Adjustments = adjustments
		}

		o, err := getOrder(ctx, tx, t.OrderID)
		if err != nil {
			return err
		}
		res.Order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func deductStock(ctx context.Context, tx pgx.Tx, orderID string) ([]order.StockAdjustment, bool, error) {
	tag, err := tx.Exec(ctx, claimStockDeductionSQL, orderID)
	if err != nil {
		return nil, false, errors.Wrap(err, "claim stock deduction")
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}

	rows, err := tx.Query(ctx, getDeductionItemsSQL, orderID)
	if err != nil {
		return nil, false, errors.Wrap(err, "load deduction items")
	}
	adjustments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.StockAdjustment, error) {
		var adj order.StockAdjustment
		err := row.Scan(&adj.ProductID, &adj.Quantity)
		return adj, err
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "load deduction items")
	}

	for i, adj := range adjustments {
		tag, err := tx.Exec(ctx, deductStockSQL, adj.ProductID, adj.Quantity)
		if err != nil {
			return nil, false, errors.Wrapf(err, "deduct stock for %q", adj.ProductID)
		}
		adjustments[i].Missing = tag.RowsAffected() == 0
	}
	return adjustments, true, nil
}

func getOrder(ctx context.Context, q dbtx, id string) (*order.Order, error) {
	rows, err := q.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}

	rows, err = q.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get items for order %q", id)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, errors.Wrapf(err, "get items for order %q", id)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		userID    *string
		status    string
		promoCode *string
	)
	err := row.Scan(
		&o.ID, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.Customer.Address,
		&userID, &o.PaymentMethodID, &status, &o.Subtotal, &o.TaxAmount, &o.DiscountAmount, &o.TotalAmount,
		&promoCode, &o.StockDeducted, &o.LookupTokenHash, &o.CreatedAt, &o.UpdatedAt,
	)
	if userID != nil {
		o.Customer.UserID = *userID
	}
	if promoCode != nil {
		o.PromoCode = *promoCode
	}
	o.Status = order.Status(status)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		it  order.Item
		qty int32
	)
	err := row.Scan(&it.ProductID, &it.ProductName, &it.UnitPrice, &qty)
	it.Quantity = int(qty)
	return it, err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
