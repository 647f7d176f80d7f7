package orderbook

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultDepth is the number of levels kept per side of a merged Book.
const DefaultDepth = 11

// Book is the consolidated top-of-book across venues.
//
// Bids are sorted by descending price and Asks by ascending price, both
// bounded by the merge depth. Spread is only meaningful when HasSpread is
// set, which happens exactly when both sides are non-empty.
type Book struct {
	Bids      []Order
	Asks      []Order
	Spread    decimal.Decimal
	HasSpread bool

	Seq     uint64
	Updated time.Time
}

// Empty reports whether no venue has contributed any level yet.
func (b Book) Empty() bool {
	return len(b.Bids) == 0 && len(b.Asks) == 0
}

// Clone returns a copy that shares no slices with b.
func (b Book) Clone() Book {
	b.Bids = slices.Clone(b.Bids)
	b.Asks = slices.Clone(b.Asks)
	return b
}

// BestBid returns the top bid, if any.
func (b Book) BestBid() (Order, bool) {
	if len(b.Bids) == 0 {
		return Order{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask, if any.
func (b Book) BestAsk() (Order, bool) {
	if len(b.Asks) == 0 {
		return Order{}, false
	}
	return b.Asks[0], true
}
