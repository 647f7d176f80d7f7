package orderbook

// Merge combines per-venue snapshots into a Book of at most depth levels
// per side.
//
// The position of a snapshot in snaps is its precedence: when two venues
// quote the same price, the earlier one is emitted first. Venues that run
// out of levels simply stop contributing.
func Merge(snaps []DepthSnapshot, depth int) Book {
	b := Book{
		Bids: mergeSide(snaps, Bid, depth),
		Asks: mergeSide(snaps, Ask, depth),
	}
	if len(b.Bids) > 0 && len(b.Asks) > 0 {
		b.Spread = b.Asks[0].Price.Sub(b.Bids[0].Price)
		b.HasSpread = true
	}
	return b
}

// mergeSide is a bounded k-way merge with one cursor per venue.
func mergeSide(snaps []DepthSnapshot, side Side, depth int) []Order {
	if depth <= 0 {
		return nil
	}

	cursors := make([]int, len(snaps))
	out := make([]Order, 0, depth)

	for len(out) < depth {
		best := -1
		for i := range snaps {
			levels := snaps[i].levels(side)
			if cursors[i] >= len(levels) {
				continue
			}
			if best < 0 || side.better(levels[cursors[i]].Price, snaps[best].levels(side)[cursors[best]].Price) {
				best = i
			}
		}
		if best < 0 {
			break // every venue exhausted
		}

		lvl := snaps[best].levels(side)[cursors[best]]
		out = append(out, Order{
			Exchange: snaps[best].Exchange,
			Price:    lvl.Price,
			Quantity: lvl.Quantity,
		})
		cursors[best]++
	}

	return out
}
