package service

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merger/domain/orderbook"
	"merger/infra/metrics"
	"merger/infra/sequence"
	"merger/snapshot"
)

func newTestService(m *metrics.Registry) (*AggregatorService, *snapshot.Store) {
	store := snapshot.NewStore()
	svc := NewAggregatorService([]string{"bitstamp", "binance"}, orderbook.DefaultDepth, store, sequence.New(0), m)
	return svc, store
}

func depth(exchange string, bid, ask string) orderbook.DepthSnapshot {
	return orderbook.NewDepthSnapshot(exchange,
		[]orderbook.PriceLevel{orderbook.MustLevel(bid, "1")},
		[]orderbook.PriceLevel{orderbook.MustLevel(ask, "1")},
	)
}

func TestPublishMergesLatestOfEachExchange(t *testing.T) {
	svc, store := newTestService(nil)

	require.NoError(t, svc.Publish(depth("bitstamp", "100", "102")))
	b := store.Read()
	assert.Equal(t, uint64(1), b.Seq)
	require.Len(t, b.Bids, 1)
	assert.Equal(t, "2", b.Spread.String())

	require.NoError(t, svc.Publish(depth("binance", "101", "103")))
	b = svc.Book()
	assert.Equal(t, uint64(2), b.Seq)
	assert.Equal(t, "binance", b.Bids[0].Exchange)
	assert.Equal(t, "bitstamp", b.Asks[0].Exchange)
	assert.Equal(t, "1", b.Spread.String())

	// a newer bitstamp snapshot replaces the old one instead of adding to it
	require.NoError(t, svc.Publish(depth("bitstamp", "99", "104")))
	b = svc.Book()
	require.Len(t, b.Bids, 2)
	assert.Equal(t, "101", b.Bids[0].Price.String())
	assert.Equal(t, "99", b.Bids[1].Price.String())
	assert.Equal(t, "103", b.Asks[0].Price.String())
}

func TestPublishTiePrecedence(t *testing.T) {
	svc, _ := newTestService(nil)
	require.NoError(t, svc.Publish(depth("binance", "100", "101")))
	require.NoError(t, svc.Publish(depth("bitstamp", "100", "101")))

	b := svc.Book()
	assert.Equal(t, "bitstamp", b.Bids[0].Exchange)
	assert.Equal(t, "binance", b.Bids[1].Exchange)
}

func TestPublishRecordsMetrics(t *testing.T) {
	m := metrics.New()
	svc, _ := newTestService(m)
	require.NoError(t, svc.Publish(depth("bitstamp", "10", "10.5")))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Merges))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.Spread))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BookLevels.WithLabelValues("ask")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpreadPresent))
}

func TestSpreadGaugeClearsWhenSideEmpties(t *testing.T) {
	m := metrics.New()
	svc, _ := newTestService(m)
	require.NoError(t, svc.Publish(depth("bitstamp", "10", "10.5")))
	require.Equal(t, 0.5, testutil.ToFloat64(m.Spread))

	// bitstamp's asks drain and binance has not sent anything yet
	require.NoError(t, svc.Publish(orderbook.NewDepthSnapshot("bitstamp",
		[]orderbook.PriceLevel{orderbook.MustLevel("10", "1")}, nil)))

	assert.False(t, svc.Book().HasSpread)
	assert.Zero(t, testutil.ToFloat64(m.Spread))
	assert.Zero(t, testutil.ToFloat64(m.SpreadPresent))
}

func TestConcurrentPublishersKeepSeqOrder(t *testing.T) {
	svc, store := newTestService(nil)

	var wg sync.WaitGroup
	for _, ex := range svc.Exchanges() {
		wg.Add(1)
		go func(ex string) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = svc.Publish(depth(ex, fmt.Sprintf("%d", 100+i%7), fmt.Sprintf("%d", 200+i%5)))
			}
		}(ex)
	}
	wg.Wait()

	b := store.Read()
	assert.Equal(t, uint64(1000), b.Seq)
	assert.Len(t, b.Bids, 2)
	assert.Len(t, b.Asks, 2)
}

// --- Edge Cases ---

func TestEmptyBeforeAnyPublish(t *testing.T) {
	svc, _ := newTestService(nil)
	b := svc.Book()
	assert.True(t, b.Empty())
	assert.False(t, b.HasSpread)
}

func TestPublishUnknownExchange(t *testing.T) {
	svc, store := newTestService(nil)
	err := svc.Publish(depth("kraken", "1", "2"))
	assert.ErrorIs(t, err, ErrUnknownExchange)
	assert.Zero(t, store.Seq())
}

func TestExchangesInPrecedenceOrder(t *testing.T) {
	svc, _ := newTestService(nil)
	assert.Equal(t, []string{"bitstamp", "binance"}, svc.Exchanges())
}
