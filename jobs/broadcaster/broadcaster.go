package broadcaster

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"

	"merger/api/grpcserver"
	"merger/domain/orderbook"
	"merger/infra/logging"
	"merger/infra/metrics"
	"merger/infra/outbox"
)

// Sink is a downstream topic for encoded summaries.
type Sink interface {
	Send(ctx context.Context, key, value []byte) error
	Close() error
}

// BookSource is read once per tick. snapshot.Store implements it.
type BookSource interface {
	Read() orderbook.Book
}

// Broadcaster pushes each new merged book, protobuf-encoded as a Summary,
// to a Kafka topic. Books are staged in the outbox so that a sink outage
// delays delivery instead of blocking the merge; the outbox only keeps the
// newest backlog entries.
type Broadcaster struct {
	books    BookSource
	outbox   *outbox.Outbox
	sink     Sink
	interval time.Duration
	backlog  int

	lastSeq uint64
	metrics *metrics.Registry
	log     zerolog.Logger
}

var errStopScan = errors.New("sink unavailable")

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

func New(
	books BookSource,
	ob *outbox.Outbox,
	sink Sink,
	interval time.Duration,
	backlog int,
	m *metrics.Registry,
) *Broadcaster {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if backlog <= 0 {
		backlog = 1
	}
	return &Broadcaster{
		books:    books,
		outbox:   ob,
		sink:     sink,
		interval: interval,
		backlog:  backlog,
		metrics:  m,
		log:      logging.Component("broadcaster"),
	}
}

// ------------------------------------------------
// LOOP
// ------------------------------------------------

// Run ticks until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info().Dur("interval", b.interval).Msg("started")

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Tick(ctx); err != nil {
				b.log.Warn().Err(err).Msg("tick failed")
			}
		}
	}
}

// Tick stages the current book if it is new and then drains the outbox.
func (b *Broadcaster) Tick(ctx context.Context) error {
	book := b.books.Read()
	if book.Seq != 0 && book.Seq != b.lastSeq {
		payload, err := proto.Marshal(grpcserver.ToSummary(book))
		if err != nil {
			return err
		}
		if err := b.outbox.Put(book.Seq, payload); err != nil {
			return err
		}
		b.lastSeq = book.Seq
		if err := b.outbox.Trim(b.backlog); err != nil {
			return err
		}
	}
	return b.flush(ctx)
}

// ------------------------------------------------
// DELIVERY
// ------------------------------------------------

func (b *Broadcaster) flush(ctx context.Context) error {
	err := b.outbox.ScanPending(func(rec outbox.Record) error {
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, rec.Seq)

		if err := b.sink.Send(ctx, key, rec.Payload); err != nil {
			if b.metrics != nil {
				b.metrics.BroadcastFailures.Inc()
			}
			b.log.Debug().Err(err).Uint64("seq", rec.Seq).Uint32("retries", rec.Retries).Msg("send failed")
			_ = b.outbox.MarkFailed(rec)
			return errStopScan // retry on the next tick
		}

		if b.metrics != nil {
			b.metrics.BroadcastPublished.Inc()
		}
		return b.outbox.MarkAcked(rec.Seq)
	})
	if errors.Is(err, errStopScan) {
		return nil
	}
	return err
}

// ------------------------------------------------
// SHUTDOWN
// ------------------------------------------------

func (b *Broadcaster) Close() error {
	return errors.Join(b.sink.Close(), b.outbox.Close())
}
