package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-engine/internal/domain/cart"
	"github.com/xenking/storefront-engine/internal/domain/order"
	"github.com/xenking/storefront-engine/internal/domain/payment"
	"github.com/xenking/storefront-engine/internal/domain/pricing"
	"github.com/xenking/storefront-engine/internal/domain/product"
	"github.com/xenking/storefront-engine/internal/domain/promo"
)

type cartRequest struct {
	Items     []cart.Item
	PromoCode string
}

type statusRequest struct {
	Status order.Status
}

func readBody(r *http.Request) (*jx.Decoder, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if len(body) == 0 {
		return nil, errors.New("request body is empty")
	}
	return jx.DecodeBytes(body), nil
}

func decodeItems(d *jx.Decoder) ([]cart.Item, error) {
	var items []cart.Item
	err := d.Arr(func(d *jx.Decoder) error {
		var it cart.Item
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "product_id":
				it.ProductID, err = d.Str()
			case "quantity":
				it.Quantity, err = d.Int()
			default:
				err = d.Skip()
			}
			return errors.Wrapf(err, "items.%s", key)
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	return items, err
}

func decodeCartRequest(d *jx.Decoder) (cartRequest, error) {
	var req cartRequest
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "items":
			req.Items, err = decodeItems(d)
		case "promo_code":
			req.PromoCode, err = optionalStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

func decodeCustomer(d *jx.Decoder) (order.Customer, error) {
	var c order.Customer
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "name":
			c.Name, err = d.Str()
		case "email":
			c.Email, err = d.Str()
		case "phone":
			c.Phone, err = d.Str()
		case "address":
			c.Address, err = d.Str()
		case "user_id":
			c.UserID, err = optionalStr(d)
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "customer.%s", key)
	})
	return c, err
}

func decodePlaceOrder(d *jx.Decoder) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "customer":
			req.Customer, err = decodeCustomer(d)
		case "payment_method_id":
			req.PaymentMethodID, err = d.Str()
		case "items":
			req.Items, err = decodeItems(d)
		case "promo_code":
			req.PromoCode, err = optionalStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

func decodeStatus(d *jx.Decoder) (statusRequest, error) {
	var req statusRequest
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "status" {
			return d.Skip()
		}
		s, err := d.Str()
		req.Status = order.Status(s)
		return err
	})
	return req, err
}

func decodeCode(d *jx.Decoder) (string, error) {
	var code string
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "code" {
			return d.Skip()
		}
		var err error
		code, err = d.Str()
		return err
	})
	return code, err
}

// optionalStr accepts a string or null.
func optionalStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func money(e *jx.Encoder, v decimal.Decimal) {
	e.Str(v.String())
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
	e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
	e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
	e.Field("tax_percentage", func(e *jx.Encoder) { money(e, p.TaxPercentage) })
	e.Field("stock", func(e *jx.Encoder) { e.Int(p.Stock) })
	e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
	e.ObjEnd()
}

func encodePaymentMethod(e *jx.Encoder, m payment.Method) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(m.ID) })
	e.Field("name", func(e *jx.Encoder) { e.Str(m.Name) })
	e.ObjEnd()
}

func encodePromo(e *jx.Encoder, p *promo.Promo) {
	e.ObjStart()
	e.Field("code", func(e *jx.Encoder) { e.Str(p.Code) })
	e.Field("discount_percentage", func(e *jx.Encoder) { money(e, p.DiscountPercentage) })
	e.Field("scope", func(e *jx.Encoder) { e.Str(string(p.Scope)) })
	switch p.Scope {
	case promo.ScopeProducts:
		e.Field("product_ids", func(e *jx.Encoder) { strs(e, p.ProductIDs) })
	case promo.ScopeCategory:
		e.Field("category_slugs", func(e *jx.Encoder) { strs(e, p.CategorySlugs) })
	}
	if p.ValidUntil != nil {
		e.Field("valid_until", func(e *jx.Encoder) { e.Str(p.ValidUntil.UTC().Format(time.RFC3339)) })
	}
	e.ObjEnd()
}

func strs(e *jx.Encoder, list []string) {
	e.ArrStart()
	for _, s := range list {
		e.Str(s)
	}
	e.ArrEnd()
}

func encodePricing(e *jx.Encoder, res pricing.Result) {
	e.Field("lines", func(e *jx.Encoder) {
		e.ArrStart()
		for _, l := range res.Lines {
			e.ObjStart()
			e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
			e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
			e.Field("unit_price", func(e *jx.Encoder) { money(e, l.UnitPrice) })
			e.Field("gross", func(e *jx.Encoder) { money(e, l.Gross) })
			e.Field("promo_eligible", func(e *jx.Encoder) { e.Bool(l.Eligible) })
			e.Field("discount", func(e *jx.Encoder) { money(e, l.Discount) })
			e.Field("tax", func(e *jx.Encoder) { money(e, l.Tax) })
			e.Field("total", func(e *jx.Encoder) { money(e, l.Total) })
			e.ObjEnd()
		}
		e.ArrEnd()
	})
	e.Field("subtotal", func(e *jx.Encoder) { money(e, res.Subtotal) })
	e.Field("discount", func(e *jx.Encoder) { money(e, res.Discount) })
	e.Field("tax", func(e *jx.Encoder) { money(e, res.Tax) })
	e.Field("total", func(e *jx.Encoder) { money(e, res.Total) })
}

func encodeOrder(e *jx.Encoder, o *order.Order, remaining int) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
	e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
	e.Field("customer", func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("name", func(e *jx.Encoder) { e.Str(o.Customer.Name) })
		e.Field("email", func(e *jx.Encoder) { e.Str(o.Customer.Email) })
		e.Field("phone", func(e *jx.Encoder) { e.Str(o.Customer.Phone) })
		e.Field("address", func(e *jx.Encoder) { e.Str(o.Customer.Address) })
		if o.Customer.UserID != "" {
			e.Field("user_id", func(e *jx.Encoder) { e.Str(o.Customer.UserID) })
		}
		e.ObjEnd()
	})
	e.Field("payment_method_id", func(e *jx.Encoder) { e.Str(o.PaymentMethodID) })
	if o.PromoCode != "" {
		e.Field("promo_code", func(e *jx.Encoder) { e.Str(o.PromoCode) })
	}
	e.Field("items", func(e *jx.Encoder) {
		e.ArrStart()
		for _, it := range o.Items {
			e.ObjStart()
			e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID) })
			e.Field("product_name", func(e *jx.Encoder) { e.Str(it.ProductName) })
			e.Field("unit_price", func(e *jx.Encoder) { money(e, it.UnitPrice) })
			e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
			e.ObjEnd()
		}
		e.ArrEnd()
	})
	e.Field("subtotal", func(e *jx.Encoder) { money(e, o.Subtotal) })
	e.Field("discount_amount", func(e *jx.Encoder) { money(e, o.DiscountAmount) })
	e.Field("tax_amount", func(e *jx.Encoder) { money(e, o.TaxAmount) })
	e.Field("total_amount", func(e *jx.Encoder) { money(e, o.TotalAmount) })
	e.Field("stock_deducted", func(e *jx.Encoder) { e.Bool(o.StockDeducted) })
	e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
	e.Field("updated_at", func(e *jx.Encoder) { e.Str(o.UpdatedAt.UTC().Format(time.RFC3339)) })
	if o.Status == order.StatusPending {
		e.Field("payment_remaining_seconds", func(e *jx.Encoder) { e.Int(remaining) })
	}
	e.ObjEnd()
}
