package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"merger/domain/orderbook"
	"merger/infra/logging"
	"merger/infra/metrics"
	"merger/infra/sequence"
	"merger/snapshot"
)

var ErrUnknownExchange = errors.New("unknown exchange")

type AggregatorService struct {
	mu     sync.Mutex
	index  map[string]int
	latest []orderbook.DepthSnapshot // by precedence

	depth   int
	store   *snapshot.Store
	seq     *sequence.Sequencer
	metrics *metrics.Registry
	log     zerolog.Logger
}

// NewAggregatorService wires the merge to its store.
// exchanges lists venue names in merge precedence order; m may be nil.
func NewAggregatorService(
	exchanges []string,
	depth int,
	store *snapshot.Store,
	seq *sequence.Sequencer,
	m *metrics.Registry,
) *AggregatorService {
	s := &AggregatorService{
		index:   make(map[string]int, len(exchanges)),
		latest:  make([]orderbook.DepthSnapshot, len(exchanges)),
		depth:   depth,
		store:   store,
		seq:     seq,
		metrics: m,
		log:     logging.Component("aggregator"),
	}
	for i, name := range exchanges {
		s.index[name] = i
		s.latest[i].Exchange = name
	}
	return s
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// Publish replaces the venue's latest snapshot and republishes the merge.
// Other venues contribute whatever they last published, however old.
func (s *AggregatorService) Publish(snap orderbook.DepthSnapshot) error {
	i, ok := s.index[snap.Exchange]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownExchange, snap.Exchange)
	}

	s.mu.Lock()
	s.latest[i] = snap
	book := orderbook.Merge(s.latest, s.depth)
	book.Seq = s.seq.Next()
	book.Updated = time.Now()
	s.store.Update(book)
	s.mu.Unlock()

	s.observe(book)
	return nil
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

// Book returns a consistent copy of the current merged book.
func (s *AggregatorService) Book() orderbook.Book {
	return s.store.Read()
}

// Exchanges returns the venue names in precedence order.
func (s *AggregatorService) Exchanges() []string {
	out := make([]string, len(s.latest))
	for name, i := range s.index {
		out[i] = name
	}
	return out
}

func (s *AggregatorService) observe(book orderbook.Book) {
	if s.metrics != nil {
		s.metrics.Merges.Inc()
		s.metrics.BookLevels.WithLabelValues("bid").Set(float64(len(book.Bids)))
		s.metrics.BookLevels.WithLabelValues("ask").Set(float64(len(book.Asks)))
		if book.HasSpread {
			s.metrics.Spread.Set(book.Spread.InexactFloat64())
			s.metrics.SpreadPresent.Set(1)
		} else {
			s.metrics.Spread.Set(0)
			s.metrics.SpreadPresent.Set(0)
		}
	}
	if e := s.log.Trace(); e.Enabled() {
		bid, _ := book.BestBid()
		ask, _ := book.BestAsk()
		e.Uint64("seq", book.Seq).
			Str("best_bid", bid.Price.String()).
			Str("best_ask", ask.Price.String()).
			Msg("merged")
	}
}
