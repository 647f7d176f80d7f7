package orderbook

import (
	"slices"
	"time"
)

// DepthSnapshot is the latest known depth of a single venue.
// It is replaced wholesale on every decoded message.
type DepthSnapshot struct {
	Exchange string
	Bids     []PriceLevel
	Asks     []PriceLevel
	Received time.Time
}

// NewDepthSnapshot orders bids best-first (descending) and asks best-first
// (ascending). Venues already deliver them that way; the stable sort keeps
// their order for equal prices and protects the merge from a misordered frame.
func NewDepthSnapshot(exchange string, bids, asks []PriceLevel) DepthSnapshot {
	bids = slices.Clone(bids)
	asks = slices.Clone(asks)
	slices.SortStableFunc(bids, func(a, b PriceLevel) int { return b.Price.Cmp(a.Price) })
	slices.SortStableFunc(asks, func(a, b PriceLevel) int { return a.Price.Cmp(b.Price) })
	return DepthSnapshot{
		Exchange: exchange,
		Bids:     bids,
		Asks:     asks,
		Received: time.Now(),
	}
}

func (d DepthSnapshot) levels(s Side) []PriceLevel {
	if s == Ask {
		return d.Asks
	}
	return d.Bids
}
