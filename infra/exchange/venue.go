package exchange

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"merger/domain/orderbook"
)

// Venue describes one exchange's wire protocol. Connectors are generic over it.
type Venue interface {
	Name() string
	// Endpoint builds the socket URL from the configured base URL.
	Endpoint(base, pair string) string
	// Subscription is the handshake frame sent right after connecting.
	Subscription(pair string) ([]byte, error)
	// AckFrames is the number of frames the venue sends in reply to the
	// subscription before data starts. They are read and discarded.
	AckFrames() int
	Decode(raw []byte) (orderbook.DepthSnapshot, error)
}

// NormalizePair turns "ETH/BTC", "eth-btc" or "ETHBTC" into "ethbtc".
func NormalizePair(pair string) string {
	r := strings.NewReplacer("/", "", "-", "", "_", "", " ", "")
	return strings.ToLower(r.Replace(pair))
}

// WireLevel is a price level as venues send it: either a ["price","qty"]
// array or a {"price":..,"qty":..} object, with quoted or bare numbers.
type WireLevel struct {
	Price json.Number `json:"price"`
	Qty   json.Number `json:"qty"`
}

func (w *WireLevel) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var pair []json.Number
		if err := json.Unmarshal(b, &pair); err != nil {
			return err
		}
		if len(pair) < 2 {
			return fmt.Errorf("level %s: want [price, qty]", b)
		}
		w.Price, w.Qty = pair[0], pair[1]
		return nil
	}

	type plain WireLevel
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	if p.Price == "" || p.Qty == "" {
		return fmt.Errorf("level %s: missing price or qty", b)
	}
	*w = WireLevel(p)
	return nil
}

// Snapshot converts decoded wire levels into a canonical snapshot.
// Missing sides (nil, as opposed to empty) mean the frame is not a depth
// message at all.
func Snapshot(exchange string, bids, asks []WireLevel) (orderbook.DepthSnapshot, error) {
	if bids == nil || asks == nil {
		return orderbook.DepthSnapshot{}, &DecodeError{Exchange: exchange, Err: errors.New("not a depth message")}
	}
	b, err := levels(bids)
	if err != nil {
		return orderbook.DepthSnapshot{}, decodeErr(exchange, "bids: %w", err)
	}
	a, err := levels(asks)
	if err != nil {
		return orderbook.DepthSnapshot{}, decodeErr(exchange, "asks: %w", err)
	}
	return orderbook.NewDepthSnapshot(exchange, b, a), nil
}

func levels(in []WireLevel) ([]orderbook.PriceLevel, error) {
	out := make([]orderbook.PriceLevel, 0, len(in))
	for _, w := range in {
		l, err := orderbook.NewPriceLevel(w.Price.String(), w.Qty.String())
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}
