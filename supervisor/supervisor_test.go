package supervisor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	pb "merger/api/pb"
	"merger/config"
	"merger/domain/orderbook"
)

type panickyFeed struct{ runs atomic.Int32 }

func (f *panickyFeed) Name() string { return "bitstamp" }

func (f *panickyFeed) Run(context.Context) error {
	f.runs.Add(1)
	panic("decoder blew up")
}

type steadyFeed struct {
	publish func(orderbook.DepthSnapshot) error
}

func (f *steadyFeed) Name() string { return "binance" }

func (f *steadyFeed) Run(ctx context.Context) error {
	_ = f.publish(orderbook.NewDepthSnapshot("binance",
		[]orderbook.PriceLevel{orderbook.MustLevel("100", "1")},
		[]orderbook.PriceLevel{orderbook.MustLevel("101", "2")}))
	<-ctx.Done()
	return ctx.Err()
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Pair = "ethbtc"
	cfg.Metrics.Addr = ""
	cfg.Reconnect.Interval = 10 * time.Millisecond
	cfg.GRPC.GracePeriod = time.Second
	return cfg
}

func TestNewBuildsConnectorsInPrecedenceOrder(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)

	require.Len(t, s.feeds, 2)
	assert.Equal(t, "bitstamp", s.feeds[0].Name())
	assert.Equal(t, "binance", s.feeds[1].Name())
	assert.Nil(t, s.broadcaster)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Pair = ""
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Exchanges = append(cfg.Exchanges, config.Exchange{Name: "kraken", Enabled: true})
	_, err = New(cfg)
	assert.ErrorContains(t, err, "not supported")
}

func TestNewWithKafkaGoBroadcast(t *testing.T) {
	cfg := testConfig()
	cfg.Broadcast.Enabled = true
	cfg.Broadcast.Driver = config.DriverKafkaGo
	cfg.Broadcast.Brokers = []string{"127.0.0.1:1"}

	s, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, s.broadcaster)
	assert.NoError(t, s.broadcaster.Close())
}

func TestFeedFailureIsIsolated(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)

	bad := &panickyFeed{}
	s.feeds = []Feed{bad, &steadyFeed{publish: s.svc.Publish}}

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()
	client := pb.NewOrderbookAggregatorClient(conn)

	var last *pb.Summary
	require.Eventually(t, func() bool {
		stream, err := client.BookSummary(ctx, &pb.Empty{})
		if err != nil {
			return false
		}
		last, err = stream.Recv()
		return err == nil && len(last.Bids) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "binance", last.Bids[0].Exchange)
	assert.Equal(t, 1.0, last.GetSpread())
	require.Eventually(t, func() bool { return bad.runs.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeStopsWhileFeedAwaitsAck(t *testing.T) {
	up := websocket.Upgrader{}
	release := make(chan struct{})
	subscribed := make(chan struct{}, 1)
	venue := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		select {
		case subscribed <- struct{}{}:
		default:
		}
		<-release
	}))
	defer venue.Close()
	defer close(release)

	cfg := testConfig()
	cfg.Feed.ReadTimeout = 0
	cfg.Exchanges = []config.Exchange{
		{Name: "bitstamp", URL: "ws" + strings.TrimPrefix(venue.URL, "http"), Enabled: true},
	}
	s, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, bufconn.Listen(1<<20)) }()

	select {
	case <-subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("feed never subscribed")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return while the feed waited for its ack")
	}
}

func TestHealthz(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	router := s.opsRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, s.svc.Publish(orderbook.NewDepthSnapshot("bitstamp", nil, nil)))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "seq=1")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "merger_merges_total 1")
}
