package main

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-engine/internal/domain/promo"
)

// Columns of an import file. Only code and discount_percentage are required.
const (
	colCode     = "code"
	colDiscount = "discount_percentage"
	colScope    = "scope"
	colTargets  = "targets"
	colFrom     = "valid_from"
	colUntil    = "valid_until"
	colLimit    = "usage_limit"
	colActive   = "active"
)

// targetSep separates product ids or category slugs in the targets column.
const targetSep = "|"

// rowReader reads promo rows from a CSV stream with a header line.
type rowReader struct {
	r    *csv.Reader
	cols map[string]int
	line int
}

func newRowReader(r io.Reader) (*rowReader, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{colCode, colDiscount} {
		if _, ok := cols[required]; !ok {
			return nil, errors.Errorf("header is missing column %q", required)
		}
	}
	cr.FieldsPerRecord = len(header)
	return &rowReader{r: cr, cols: cols, line: 1}, nil
}

// rowError is a malformed row. The import skips it and carries on.
type rowError struct {
	Line int
	Err  error
}

func (e *rowError) Error() string {
	return "line " + strconv.Itoa(e.Line) + ": " + e.Err.Error()
}

func (e *rowError) Unwrap() error { return e.Err }

// Next returns the next promo. It returns io.EOF at the end of input and a
// *rowError for a row that cannot be used.
func (rr *rowReader) Next() (promo.Promo, error) {
	rec, err := rr.r.Read()
	rr.line++
	if err != nil {
		if errors.Is(err, io.EOF) {
			return promo.Promo{}, io.EOF
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) && errors.Is(perr.Err, csv.ErrFieldCount) {
			return promo.Promo{}, &rowError{Line: rr.line, Err: err}
		}
		return promo.Promo{}, errors.Wrapf(err, "line %d", rr.line)
	}
	p, err := rr.parse(rec)
	if err != nil {
		return promo.Promo{}, &rowError{Line: rr.line, Err: err}
	}
	return p, nil
}

func (rr *rowReader) field(rec []string, col string) string {
	i, ok := rr.cols[col]
	if !ok {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func (rr *rowReader) parse(rec []string) (promo.Promo, error) {
	p := promo.Promo{
		Code:   promo.NormalizeCode(rr.field(rec, colCode)),
		Active: true,
		Scope:  promo.ScopeAll,
	}
	if p.Code == "" {
		return p, errors.New("empty code")
	}

	discount, err := decimal.NewFromString(rr.field(rec, colDiscount))
	if err != nil {
		return p, errors.Wrap(err, colDiscount)
	}
	if !promo.ValidDiscount(discount) {
		return p, errors.Errorf("%s %s outside 1..100", colDiscount, discount)
	}
	p.DiscountPercentage = discount

	if s := rr.field(rec, colScope); s != "" {
		p.Scope = promo.Scope(strings.ToLower(s))
		if !p.Scope.IsValid() {
			return p, errors.Errorf("unknown scope %q", s)
		}
	}
	targets := splitTargets(rr.field(rec, colTargets))
	switch p.Scope {
	case promo.ScopeProducts:
		p.ProductIDs = targets
	case promo.ScopeCategory:
		p.CategorySlugs = targets
	}

	if p.ValidFrom, err = parseTime(rr.field(rec, colFrom)); err != nil {
		return p, errors.Wrap(err, colFrom)
	}
	if p.ValidUntil, err = parseTime(rr.field(rec, colUntil)); err != nil {
		return p, errors.Wrap(err, colUntil)
	}
	if p.ValidFrom != nil && p.ValidUntil != nil && p.ValidUntil.Before(*p.ValidFrom) {
		return p, errors.New("valid_until is before valid_from")
	}

	if s := rr.field(rec, colLimit); s != "" {
		if p.UsageLimit, err = strconv.Atoi(s); err != nil || p.UsageLimit < 0 {
			return p, errors.Errorf("invalid %s %q", colLimit, s)
		}
	}
	if s := rr.field(rec, colActive); s != "" {
		if p.Active, err = strconv.ParseBool(s); err != nil {
			return p, errors.Errorf("invalid %s %q", colActive, s)
		}
	}
	return p, nil
}

func splitTargets(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(s, targetSep) {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
