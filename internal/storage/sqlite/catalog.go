package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-engine/internal/domain/auth"
	"github.com/xenking/storefront-engine/internal/domain/payment"
	"github.com/xenking/storefront-engine/internal/domain/product"
	"github.com/xenking/storefront-engine/internal/domain/promo"
)

const (
	productColumns = `id, name, price, tax_percentage, stock, category`

	upsertProductSQL = `INSERT INTO products (id, name, price, tax_percentage, stock, category)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, price = excluded.price, tax_percentage = excluded.tax_percentage,
			stock = excluded.stock, category = excluded.category`

	getPromoByCodeSQL = `SELECT id, code, discount_percentage, active, valid_from, valid_until,
		usage_limit, usage_count, scope, product_ids, category_slugs
		FROM promo_codes WHERE code = ?`

	upsertPromoSQL = `INSERT INTO promo_codes (id, code, discount_percentage, active, valid_from, valid_until,
			usage_limit, scope, product_ids, category_slugs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code) DO UPDATE SET
			discount_percentage = excluded.discount_percentage, active = excluded.active,
			valid_from = excluded.valid_from, valid_until = excluded.valid_until,
			usage_limit = excluded.usage_limit, scope = excluded.scope,
			product_ids = excluded.product_ids, category_slugs = excluded.category_slugs`

	incrementPromoUsageSQL = `UPDATE promo_codes SET usage_count = usage_count + 1
		WHERE id = ?1
			AND active = 1
			AND (usage_limit IS NULL OR usage_count < usage_limit)
			AND (valid_from IS NULL OR valid_from <= ?2)
			AND (valid_until IS NULL OR valid_until >= ?2)`

	getPaymentMethodSQL = `SELECT id, name, active FROM payment_methods WHERE id = ?`

	listActivePaymentMethodsSQL = `SELECT id, name, active FROM payment_methods
		WHERE active = 1 ORDER BY sort_order, id`

	upsertPaymentMethodSQL = `INSERT INTO payment_methods (id, name, active, sort_order)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, active = excluded.active, sort_order = excluded.sort_order`

	getAPIKeyByHashSQL = `SELECT id, key_hash, name, scopes FROM api_keys WHERE key_hash = ? AND active = 1`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes) VALUES (?, ?, ?, ?)
		ON CONFLICT (key_hash) DO UPDATE SET name = excluded.name, scopes = excluded.scopes, active = 1`
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ promo.Repository   = (*PromoRepository)(nil)
	_ payment.Repository = (*PaymentRepository)(nil)
	_ auth.Repository    = (*APIKeyRepository)(nil)
)

// ProductRepository implements product.Repository on SQLite.
type ProductRepository struct {
	db *sql.DB
}

// NewProductRepository returns a ProductRepository that uses db.
func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return collectProducts(rows)
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	var p product.Product
	err := r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.TaxPercentage, &p.Stock, &p.Category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	return &p, nil
}

func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id IN (` + placeholders(len(ids)) + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return collectProducts(rows)
}

// Upsert inserts or replaces a catalog row.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	if _, err := r.db.ExecContext(ctx, upsertProductSQL,
		p.ID, p.Name, p.Price.String(), p.TaxPercentage.String(), p.Stock, p.Category,
	); err != nil {
		return errors.Wrapf(err, "upsert product %q", p.ID)
	}
	return nil
}

func collectProducts(rows *sql.Rows) ([]product.Product, error) {
	defer func() { _ = rows.Close() }()

	var out []product.Product
	for rows.Next() {
		var p product.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.TaxPercentage, &p.Stock, &p.Category); err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// PromoRepository implements promo.Repository on SQLite.
type PromoRepository struct {
	db *sql.DB
}

// NewPromoRepository returns a PromoRepository that uses db.
func NewPromoRepository(db *sql.DB) *PromoRepository {
	return &PromoRepository{db: db}
}

func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Promo, error) {
	var (
		p                      promo.Promo
		validFrom, validUntil  sql.NullInt64
		usageLimit             sql.NullInt64
		scope, productIDs, cat string
	)
	err := r.db.QueryRowContext(ctx, getPromoByCodeSQL, code).Scan(
		&p.ID, &p.Code, &p.DiscountPercentage, &p.Active, &validFrom, &validUntil,
		&usageLimit, &p.UsageCount, &scope, &productIDs, &cat,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, promo.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find promo %q", code)
	}

	p.ValidFrom = timePtr(validFrom)
	p.ValidUntil = timePtr(validUntil)
	if usageLimit.Valid {
		p.UsageLimit = int(usageLimit.Int64)
	}
	p.Scope = promo.Scope(scope)
	if p.ProductIDs, err = decodeList(productIDs); err != nil {
		return nil, errors.Wrapf(err, "promo %q product ids", code)
	}
	if p.CategorySlugs, err = decodeList(cat); err != nil {
		return nil, errors.Wrapf(err, "promo %q categories", code)
	}
	return &p, nil
}

// Upsert inserts or replaces a promo keyed by code.
func (r *PromoRepository) Upsert(ctx context.Context, p promo.Promo) error {
	var limit sql.NullInt64
	if p.UsageLimit > 0 {
		limit = sql.NullInt64{Int64: int64(p.UsageLimit), Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, upsertPromoSQL,
		p.ID, promo.NormalizeCode(p.Code), p.DiscountPercentage.String(), p.Active,
		nullMicros(p.ValidFrom), nullMicros(p.ValidUntil), limit, string(p.Scope),
		encodeList(p.ProductIDs), encodeList(p.CategorySlugs),
	); err != nil {
		return errors.Wrapf(err, "upsert promo %q", p.Code)
	}
	return nil
}

// PaymentRepository implements payment.Repository on SQLite.
type PaymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository returns a PaymentRepository that uses db.
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*payment.Method, error) {
	var m payment.Method
	err := r.db.QueryRowContext(ctx, getPaymentMethodSQL, id).Scan(&m.ID, &m.Name, &m.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get payment method %q", id)
	}
	return &m, nil
}

func (r *PaymentRepository) ListActive(ctx context.Context) ([]payment.Method, error) {
	rows, err := r.db.QueryContext(ctx, listActivePaymentMethodsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list payment methods")
	}
	defer func() { _ = rows.Close() }()

	var out []payment.Method
	for rows.Next() {
		var m payment.Method
		if err := rows.Scan(&m.ID, &m.Name, &m.Active); err != nil {
			return nil, errors.Wrap(err, "scan payment method")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces a payment method.
func (r *PaymentRepository) Upsert(ctx context.Context, m payment.Method, sortOrder int) error {
	if _, err := r.db.ExecContext(ctx, upsertPaymentMethodSQL, m.ID, m.Name, m.Active, sortOrder); err != nil {
		return errors.Wrapf(err, "upsert payment method %q", m.ID)
	}
	return nil
}

// APIKeyRepository implements auth.Repository on SQLite.
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository returns an APIKeyRepository that uses db.
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var (
		info   auth.APIKeyInfo
		scopes string
	)
	err := r.db.QueryRowContext(ctx, getAPIKeyByHashSQL, hash).Scan(&info.ID, &info.KeyHash, &info.Name, &scopes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, errors.Wrap(err, "find api key by hash")
	}
	if info.Scopes, err = decodeList(scopes); err != nil {
		return nil, errors.Wrap(err, "api key scopes")
	}
	return &info, nil
}

// Upsert stores a key hash.
func (r *APIKeyRepository) Upsert(ctx context.Context, info auth.APIKeyInfo) error {
	if _, err := r.db.ExecContext(ctx, upsertAPIKeySQL, info.ID, info.KeyHash, info.Name, encodeList(info.Scopes)); err != nil {
		return errors.Wrapf(err, "upsert api key %q", info.Name)
	}
	return nil
}
