package bitstamp

import (
	"encoding/json"

	"merger/domain/orderbook"
	"merger/infra/exchange"
)

const (
	Name       = "bitstamp"
	DefaultURL = "wss://ws.bitstamp.net"
)

// Venue speaks the Bitstamp v2 websocket protocol.
// The server confirms the subscription with one bts:subscription_succeeded
// frame before the first order book frame.
type Venue struct{}

type subscribeRequest struct {
	Event string `json:"event"`
	Data  struct {
		Channel string `json:"channel"`
	} `json:"data"`
}

type message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type bookData struct {
	Bids []exchange.WireLevel `json:"bids"`
	Asks []exchange.WireLevel `json:"asks"`
}

func (Venue) Name() string { return Name }

func (Venue) Endpoint(base, _ string) string {
	if base == "" {
		return DefaultURL
	}
	return base
}

func (Venue) Subscription(pair string) ([]byte, error) {
	var req subscribeRequest
	req.Event = "bts:subscribe"
	req.Data.Channel = "order_book_" + exchange.NormalizePair(pair)
	return json.Marshal(req)
}

func (Venue) AckFrames() int { return 1 }

func (Venue) Decode(raw []byte) (orderbook.DepthSnapshot, error) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return orderbook.DepthSnapshot{}, &exchange.DecodeError{Exchange: Name, Err: err}
	}
	if msg.Event == "bts:request_reconnect" {
		return orderbook.DepthSnapshot{}, exchange.ErrReconnectRequested
	}

	var data bookData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return orderbook.DepthSnapshot{}, &exchange.DecodeError{Exchange: Name, Err: err}
	}
	return exchange.Snapshot(Name, data.Bids, data.Asks)
}
