package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceLevel is one aggregated level of a venue's book.
// It is immutable once constructed.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// NewPriceLevel parses the decimal strings venues put on the wire.
func NewPriceLevel(price, qty string) (PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("price %q: %w", price, err)
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("quantity %q: %w", qty, err)
	}
	if !p.IsPositive() {
		return PriceLevel{}, fmt.Errorf("price %s must be positive", p)
	}
	if q.IsNegative() {
		return PriceLevel{}, fmt.Errorf("quantity %s must not be negative", q)
	}
	return PriceLevel{Price: p, Quantity: q}, nil
}

// MustLevel is NewPriceLevel for literals; it panics on bad input.
func MustLevel(price, qty string) PriceLevel {
	l, err := NewPriceLevel(price, qty)
	if err != nil {
		panic(err)
	}
	return l
}
