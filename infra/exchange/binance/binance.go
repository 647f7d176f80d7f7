package binance

import (
	"encoding/json"
	"strings"

	"merger/domain/orderbook"
	"merger/infra/exchange"
)

const (
	Name       = "binance"
	DefaultURL = "wss://stream.binance.com:9443/ws"
)

// Venue reads Binance partial book depth (top 20 every 100ms).
//
// The SUBSCRIBE request also adds aggTrade and diff-depth streams on the same
// socket; those frames, like the {"result":null,"id":1} reply, carry no
// bids/asks and are dropped by Decode.
type Venue struct{}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

type depthMessage struct {
	LastUpdateID int64                `json:"lastUpdateId"`
	Bids         []exchange.WireLevel `json:"bids"`
	Asks         []exchange.WireLevel `json:"asks"`
}

func (Venue) Name() string { return Name }

func (Venue) Endpoint(base, pair string) string {
	if base == "" {
		base = DefaultURL
	}
	return strings.TrimRight(base, "/") + "/" + exchange.NormalizePair(pair) + "@depth20@100ms"
}

func (Venue) Subscription(pair string) ([]byte, error) {
	p := exchange.NormalizePair(pair)
	return json.Marshal(subscribeRequest{
		Method: "SUBSCRIBE",
		Params: []string{p + "@aggTrade", p + "@depth"},
		ID:     1,
	})
}

func (Venue) AckFrames() int { return 0 }

func (Venue) Decode(raw []byte) (orderbook.DepthSnapshot, error) {
	var msg depthMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return orderbook.DepthSnapshot{}, &exchange.DecodeError{Exchange: Name, Err: err}
	}
	return exchange.Snapshot(Name, msg.Bids, msg.Asks)
}
