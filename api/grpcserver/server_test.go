package grpcserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"

	pb "merger/api/pb"
	"merger/domain/orderbook"
	"merger/infra/metrics"
	"merger/snapshot"
)

func startServer(t *testing.T, books BookReader, m *metrics.Registry) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	g, _ := NewGRPCServer(NewServer(books, m))
	go func() { _ = g.Serve(lis) }()
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// receiveOne reads a BookSummary stream to the end and requires exactly
// one message on it.
func receiveOne(ctx context.Context, client pb.OrderbookAggregatorClient) (*pb.Summary, error) {
	stream, err := client.BookSummary(ctx, &pb.Empty{})
	if err != nil {
		return nil, err
	}
	first, err := stream.Recv()
	if err != nil {
		return nil, err
	}
	if _, err := stream.Recv(); err != io.EOF {
		return nil, fmt.Errorf("expected end of stream, got %v", err)
	}
	return first, nil
}

func TestBookSummaryEmptyBook(t *testing.T) {
	conn := startServer(t, snapshot.NewStore(), nil)

	s, err := receiveOne(context.Background(), pb.NewOrderbookAggregatorClient(conn))
	require.NoError(t, err)
	assert.Empty(t, s.Bids)
	assert.Empty(t, s.Asks)
	assert.Nil(t, s.Spread)
}

func TestBookSummaryConvertsBook(t *testing.T) {
	a := orderbook.NewDepthSnapshot("bitstamp",
		[]orderbook.PriceLevel{orderbook.MustLevel("0.0675", "1.5")},
		[]orderbook.PriceLevel{orderbook.MustLevel("0.0677", "2")})
	b := orderbook.NewDepthSnapshot("binance",
		[]orderbook.PriceLevel{orderbook.MustLevel("0.0674", "3")},
		[]orderbook.PriceLevel{orderbook.MustLevel("0.0676", "4")})

	store := snapshot.NewStore()
	store.Update(orderbook.Merge([]orderbook.DepthSnapshot{a, b}, orderbook.DefaultDepth))

	m := metrics.New()
	conn := startServer(t, store, m)

	s, err := receiveOne(context.Background(), pb.NewOrderbookAggregatorClient(conn))
	require.NoError(t, err)

	require.Len(t, s.Bids, 2)
	require.Len(t, s.Asks, 2)
	assert.True(t, proto.Equal(&pb.Level{Exchange: "bitstamp", Price: 0.0675, Amount: 1.5}, s.Bids[0]), "best bid %v", s.Bids[0])
	assert.True(t, proto.Equal(&pb.Level{Exchange: "binance", Price: 0.0676, Amount: 4}, s.Asks[0]), "best ask %v", s.Asks[0])
	require.NotNil(t, s.Spread)
	assert.InDelta(t, 0.0001, *s.Spread, 1e-12)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Subscribers))
}

func tagged(seq uint64) orderbook.Book {
	tag := strconv.FormatUint(seq, 10)
	b := orderbook.Book{Seq: seq}
	for i := 0; i < orderbook.DefaultDepth; i++ {
		b.Bids = append(b.Bids, orderbook.Order{Exchange: tag, Price: orderbook.MustLevel("1", "1").Price})
		b.Asks = append(b.Asks, orderbook.Order{Exchange: tag, Price: orderbook.MustLevel("2", "1").Price})
	}
	return b
}

func TestConcurrentSubscribersGetOneConsistentSummary(t *testing.T) {
	store := snapshot.NewStore()
	store.Update(tagged(1))
	conn := startServer(t, store, nil)
	client := pb.NewOrderbookAggregatorClient(conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		for seq := uint64(2); ctx.Err() == nil; seq++ {
			store.Update(tagged(seq))
		}
	}()

	const subscribers = 50
	var wg sync.WaitGroup
	errs := make(chan error, subscribers)
	for i := 0; i < subscribers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			floor := store.Seq()
			s, err := receiveOne(ctx, client)
			if err != nil {
				errs <- err
				return
			}
			if len(s.Bids) != orderbook.DefaultDepth || len(s.Asks) != orderbook.DefaultDepth {
				errs <- fmt.Errorf("partial summary: %d bids %d asks", len(s.Bids), len(s.Asks))
				return
			}
			tag := s.Bids[0].Exchange
			for _, l := range append(s.Bids, s.Asks...) {
				if l.Exchange != tag {
					errs <- fmt.Errorf("torn summary: %s and %s", tag, l.Exchange)
					return
				}
			}
			seq, _ := strconv.ParseUint(tag, 10, 64)
			if seq < floor {
				errs <- fmt.Errorf("summary seq %d older than request time seq %d", seq, floor)
			}
		}()
	}
	wg.Wait()
	cancel()
	writer.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

// --- Edge Cases ---

func TestCancelledSubscriberDoesNotAffectOthers(t *testing.T) {
	store := snapshot.NewStore()
	store.Update(tagged(7))
	conn := startServer(t, store, nil)
	client := pb.NewOrderbookAggregatorClient(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := receiveOne(ctx, client)
	assert.Error(t, err)

	s, err := receiveOne(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, "7", s.Bids[0].Exchange)
}

func TestHealthServing(t *testing.T) {
	conn := startServer(t, snapshot.NewStore(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: pb.OrderbookAggregator_ServiceDesc.ServiceName,
	})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestToSummaryOmitsSpreadForOneSidedBook(t *testing.T) {
	b := orderbook.Merge([]orderbook.DepthSnapshot{
		orderbook.NewDepthSnapshot("a", []orderbook.PriceLevel{orderbook.MustLevel("5", "1")}, nil),
	}, orderbook.DefaultDepth)

	s := ToSummary(b)
	assert.Len(t, s.Bids, 1)
	assert.Empty(t, s.Asks)
	assert.Nil(t, s.Spread)
}
