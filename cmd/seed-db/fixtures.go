package main

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-engine/internal/domain/payment"
	"github.com/xenking/storefront-engine/internal/domain/product"
	"github.com/xenking/storefront-engine/internal/domain/promo"
)

// fixtures is the content of a seed file.
type fixtures struct {
	Products []product.Product
	Promos   []promo.Promo
	Payments []payment.Method
}

// promoID derives a stable id from the code so reseeding keeps ids.
func promoID(code string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("storefront/promo/"+code)).String()
}

func parseFixtures(data []byte) (*fixtures, error) {
	var f fixtures
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				p, err := decodeProduct(d)
				if err != nil {
					return errors.Wrapf(err, "product %d", len(f.Products))
				}
				f.Products = append(f.Products, p)
				return nil
			})
		case "promos":
			return d.Arr(func(d *jx.Decoder) error {
				p, err := decodePromo(d)
				if err != nil {
					return errors.Wrapf(err, "promo %d", len(f.Promos))
				}
				f.Promos = append(f.Promos, p)
				return nil
			})
		case "payment_methods":
			return d.Arr(func(d *jx.Decoder) error {
				m, err := decodePaymentMethod(d)
				if err != nil {
					return errors.Wrapf(err, "payment method %d", len(f.Payments))
				}
				f.Payments = append(f.Payments, m)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "parse fixtures")
	}
	return &f, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	}
}

func decodeTime(d *jx.Decoder) (*time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		out = append(out, s)
		return err
	})
	return out, err
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "tax_percentage":
			p.TaxPercentage, err = decodeDecimal(d)
		case "stock":
			p.Stock, err = d.Int()
		case "category":
			p.Category, err = d.Str()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, string(key))
	})
	if err != nil {
		return p, err
	}
	switch {
	case p.ID == "":
		return p, errors.New("id is required")
	case p.Price.IsNegative():
		return p, errors.Errorf("%s: negative price", p.ID)
	case p.Stock < 0:
		return p, errors.Errorf("%s: negative stock", p.ID)
	}
	return p, nil
}

func decodePromo(d *jx.Decoder) (promo.Promo, error) {
	p := promo.Promo{Active: true, Scope: promo.ScopeAll}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = d.Str()
		case "code":
			p.Code, err = d.Str()
		case "discount_percentage":
			p.DiscountPercentage, err = decodeDecimal(d)
		case "active":
			p.Active, err = d.Bool()
		case "valid_from":
			p.ValidFrom, err = decodeTime(d)
		case "valid_until":
			p.ValidUntil, err = decodeTime(d)
		case "usage_limit":
			p.UsageLimit, err = d.Int()
		case "scope":
			var s string
			s, err = d.Str()
			p.Scope = promo.Scope(s)
		case "product_ids":
			p.ProductIDs, err = decodeStrings(d)
		case "category_slugs":
			p.CategorySlugs, err = decodeStrings(d)
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, string(key))
	})
	if err != nil {
		return p, err
	}

	p.Code = promo.NormalizeCode(p.Code)
	if p.Code == "" {
		return p, errors.New("code is required")
	}
	if !p.Scope.IsValid() {
		return p, errors.Errorf("%s: unknown scope %q", p.Code, p.Scope)
	}
	if !promo.ValidDiscount(p.DiscountPercentage) {
		return p, errors.Errorf("%s: discount must be within 1..100", p.Code)
	}
	if p.ID == "" {
		p.ID = promoID(p.Code)
	}
	return p, nil
}

func decodePaymentMethod(d *jx.Decoder) (payment.Method, error) {
	m := payment.Method{Active: true}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			m.ID, err = d.Str()
		case "name":
			m.Name, err = d.Str()
		case "active":
			m.Active, err = d.Bool()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, string(key))
	})
	if err == nil && m.ID == "" {
		err = errors.New("id is required")
	}
	return m, err
}
