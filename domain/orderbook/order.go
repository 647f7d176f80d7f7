package orderbook

import "github.com/shopspring/decimal"

type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Ask {
		return "ask"
	}
	return "bid"
}

// better reports whether price a ranks strictly ahead of b on this side.
func (s Side) better(a, b decimal.Decimal) bool {
	if s == Bid {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

// Order is a PriceLevel tagged with the venue it came from.
// It only appears inside a merged Book.
type Order struct {
	Exchange string
	Price    decimal.Decimal
	Quantity decimal.Decimal
}
