package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
	driver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xenking/storefront-engine/internal/domain/order"
	"github.com/xenking/storefront-engine/internal/domain/promo"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, customer_name, customer_email, customer_phone, customer_address,
			user_id, payment_method_id, status, subtotal, tax_amount, discount_amount, total_amount,
			promo_code, stock_deducted, lookup_token_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, line_no, product_id, product_name, unit_price, quantity)
		VALUES (?, ?, ?, ?, ?, ?)`

	getOrderSQL = `SELECT id, customer_name, customer_email, customer_phone, customer_address,
			user_id, payment_method_id, status, subtotal, tax_amount, discount_amount, total_amount,
			promo_code, stock_deducted, lookup_token_hash, created_at, updated_at
		FROM orders WHERE id = ?`

	getOrderItemsSQL = `SELECT product_id, product_name, unit_price, quantity
		FROM order_items WHERE order_id = ? ORDER BY line_no`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = ?)`

	setOrderStatusSQL = `UPDATE orders SET status = ?3, updated_at = ?4 WHERE id = ?1 AND status = ?2`

	claimStockDeductionSQL = `UPDATE orders SET stock_deducted = 1 WHERE id = ? AND stock_deducted = 0`

	getDeductionItemsSQL = `SELECT product_id, SUM(quantity)
		FROM order_items WHERE order_id = ?
		GROUP BY product_id ORDER BY product_id`

	deductStockSQL = `UPDATE products SET stock = MAX(stock - ?2, 0) WHERE id = ?1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository on SQLite. Every write goes
// through a transaction on the single pooled connection.
type OrderRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewOrderRepository returns an OrderRepository that uses db.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db, now: time.Now}
}

// Create persists the order, its items and the promo usage increment in one
// transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, promoID string) error {
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		if promoID != "" {
			res, err := tx.ExecContext(ctx, incrementPromoUsageSQL, promoID, toMicros(o.CreatedAt))
			if err != nil {
				return errors.Wrap(err, "increment promo usage")
			}
			if n, err := res.RowsAffected(); err != nil {
				return errors.Wrap(err, "increment promo usage")
			} else if n == 0 {
				return promo.ErrQuotaExhausted
			}
		}

		created := toMicros(o.CreatedAt)
		if _, err := tx.ExecContext(ctx, insertOrderSQL,
			o.ID, o.Customer.Name, o.Customer.Email, o.Customer.Phone, o.Customer.Address,
			nullString(o.Customer.UserID), o.PaymentMethodID, string(o.Status),
			o.Subtotal.String(), o.TaxAmount.String(), o.DiscountAmount.String(), o.TotalAmount.String(),
			nullString(o.PromoCode), o.LookupTokenHash, created, created,
		); err != nil {
			return errors.Wrapf(err, "insert order %q", o.ID)
		}

		stmt, err := tx.PrepareContext(ctx, insertOrderItemSQL)
		if err != nil {
			return errors.Wrap(err, "prepare order items")
		}
		defer func() { _ = stmt.Close() }()

		for i, it := range o.Items {
			if _, err := stmt.ExecContext(ctx, o.ID, i+1, it.ProductID, it.ProductName, it.UnitPrice.String(), it.Quantity); err != nil {
				return errors.Wrapf(err, "insert items for order %q", o.ID)
			}
		}
		return nil
	})
	return rejectedOrErr(err)
}

// rejectedOrErr marks CHECK and NOT NULL violations as order.RejectedError.
// Key collisions stay plain errors.
func rejectedOrErr(err error) error {
	var se *driver.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return &order.RejectedError{Err: err}
	}
	return err
}

// Get returns the order with its items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, r.db, id)
}

// Transition changes the order status and runs the stock deduction when the
// transition asks for it.
func (r *OrderRepository) Transition(ctx context.Context, t order.Transition) (*order.TransitionResult, error) {
	var res order.TransitionResult
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		updated, err := tx.ExecContext(ctx, setOrderStatusSQL, t.OrderID, string(t.From), string(t.To), toMicros(r.now()))
		if err != nil {
			return errors.Wrap(err, "set order status")
		}
		n, err := updated.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "set order status")
		}
		if n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, orderExistsSQL, t.OrderID).Scan(&exists); err != nil {
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

func deductStock(ctx context.Context, tx *sql.Tx, orderID string) ([]order.StockAdjustment, bool, error) {
	claimed, err := tx.ExecContext(ctx, claimStockDeductionSQL, orderID)
	if err != nil {
		return nil, false, errors.Wrap(err, "claim stock deduction")
	}
	if n, err := claimed.RowsAffected(); err != nil {
		return nil, false, errors.Wrap(err, "claim stock deduction")
	} else if n == 0 {
		return nil, false, nil
	}

	rows, err := tx.QueryContext(ctx, getDeductionItemsSQL, orderID)
	if err != nil {
		return nil, false, errors.Wrap(err, "load deduction items")
	}
	var adjustments []order.StockAdjustment
	for rows.Next() {
		var adj order.StockAdjustment
		if err := rows.Scan(&adj.ProductID, &adj.Quantity); err != nil {
			_ = rows.Close()
			return nil, false, errors.Wrap(err, "scan deduction item")
		}
		adjustments = append(adjustments, adj)
	}
	if err := rows.Close(); err != nil {
		return nil, false, errors.Wrap(err, "load deduction items")
	}
	if err := rows.Err(); err != nil {
		return nil, false, errors.Wrap(err, "load deduction items")
	}

	for i, adj := range adjustments {
		res, err := tx.ExecContext(ctx, deductStockSQL, adj.ProductID, adj.Quantity)
		if err != nil {
			return nil, false, errors.Wrapf(err, "deduct stock for %q", adj.ProductID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, false, errors.Wrapf(err, "deduct stock for %q", adj.ProductID)
		}
		adjustments[i].Missing = n == 0
	}
	return adjustments, true, nil
}

func getOrder(ctx context.Context, q querier, id string) (*order.Order, error) {
	var (
		o                  order.Order
		userID, promoCode  sql.NullString
		status             string
		created, updatedAt int64
	)
	err := q.QueryRowContext(ctx, getOrderSQL, id).Scan(
		&o.ID, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.Customer.Address,
		&userID, &o.PaymentMethodID, &status, &o.Subtotal, &o.TaxAmount, &o.DiscountAmount, &o.TotalAmount,
		&promoCode, &o.StockDeducted, &o.LookupTokenHash, &created, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	o.Customer.UserID = userID.String
	o.PromoCode = promoCode.String
	o.Status = order.Status(status)
	o.CreatedAt = fromMicros(created)
	o.UpdatedAt = fromMicros(updatedAt)

	rows, err := q.QueryContext(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get items for order %q", id)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var it order.Item
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.UnitPrice, &it.Quantity); err != nil {
			return nil, errors.Wrapf(err, "scan item for order %q", id)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "get items for order %q", id)
	}
	return &o, nil
}
