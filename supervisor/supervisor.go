package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"merger/api/grpcserver"
	"merger/config"
	"merger/infra/exchange"
	"merger/infra/exchange/binance"
	"merger/infra/exchange/bitstamp"
	"merger/infra/kafka"
	"merger/infra/logging"
	"merger/infra/metrics"
	"merger/infra/outbox"
	"merger/infra/sequence"
	"merger/jobs/broadcaster"
	"merger/service"
	"merger/snapshot"
)

// Feed is a long-running venue connector. Run returns when ctx is done or
// the feed gives up; the supervisor restarts it in the latter case.
type Feed interface {
	Name() string
	Run(ctx context.Context) error
}

var venues = map[string]exchange.Venue{
	bitstamp.Name: bitstamp.Venue{},
	binance.Name:  binance.Venue{},
}

// Supervisor owns every long-running part of the merger. Each feed runs in
// its own failure domain: an error or panic restarts that feed only.
type Supervisor struct {
	cfg     config.Config
	store   *snapshot.Store
	svc     *service.AggregatorService
	metrics *metrics.Registry

	feeds       []Feed
	grpc        *grpc.Server
	health      *health.Server
	broadcaster *broadcaster.Broadcaster

	restartDelay time.Duration
	log          zerolog.Logger
}

// New builds the object graph from cfg. Nothing is started until Run.
func New(cfg config.Config) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := metrics.New()
	store := snapshot.NewStore()

	enabled := cfg.Enabled()
	names := make([]string, 0, len(enabled))
	for _, e := range enabled {
		names = append(names, e.Name)
	}
	svc := service.NewAggregatorService(names, cfg.Depth, store, sequence.New(0), m)

	s := &Supervisor{
		cfg:          cfg,
		store:        store,
		svc:          svc,
		metrics:      m,
		restartDelay: cfg.Reconnect.Interval,
		log:          logging.Component("supervisor"),
	}

	for _, e := range enabled {
		v, ok := venues[e.Name]
		if !ok {
			return nil, fmt.Errorf("exchange %q is not supported", e.Name)
		}
		s.feeds = append(s.feeds, exchange.NewConnector(v, cfg.Pair, svc, exchange.Options{
			BaseURL:           e.URL,
			HandshakeTimeout:  cfg.Feed.HandshakeTimeout,
			ReadTimeout:       cfg.Feed.ReadTimeout,
			PingInterval:      cfg.Feed.PingInterval,
			ReconnectInterval: cfg.Reconnect.Interval,
			MaxFailures:       cfg.Reconnect.MaxFailures,
			BreakerTimeout:    cfg.Reconnect.BreakerTimeout,
			Metrics:           m,
		}))
	}

	s.grpc, s.health = grpcserver.NewGRPCServer(grpcserver.NewServer(store, m))

	if cfg.Broadcast.Enabled {
		b, err := newBroadcaster(cfg.Broadcast, store, m)
		if err != nil {
			return nil, err
		}
		s.broadcaster = b
	}
	return s, nil
}

func newBroadcaster(cfg config.Broadcast, store *snapshot.Store, m *metrics.Registry) (*broadcaster.Broadcaster, error) {
	var sink broadcaster.Sink
	switch cfg.Driver {
	case config.DriverKafkaGo:
		sink = kafka.NewProducer(cfg.Brokers, cfg.Topic)
	default:
		s, err := broadcaster.NewSaramaSink(cfg.Brokers, cfg.Topic)
		if err != nil {
			return nil, fmt.Errorf("broadcast sink: %w", err)
		}
		sink = s
	}

	ob, err := outbox.Open()
	if err != nil {
		sink.Close()
		return nil, err
	}
	return broadcaster.New(store, ob, sink, cfg.Interval, cfg.Backlog, m), nil
}

// Store is the shared merged book.
func (s *Supervisor) Store() *snapshot.Store {
	return s.store
}

// Run listens on the configured gRPC address and serves until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.GRPC.Addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve starts feeds, broadcaster, ops HTTP and gRPC on lis. It returns
// nil after ctx is cancelled and every worker has stopped, or the error
// that made the gRPC listener fail.
func (s *Supervisor) Serve(ctx context.Context, lis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, f := range s.feeds {
		wg.Add(1)
		go func(f Feed) {
			defer wg.Done()
			s.supervise(ctx, f)
		}(f)
	}

	if s.broadcaster != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.broadcaster.Run(ctx)
		}()
	}

	var ops *http.Server
	if s.cfg.Metrics.Addr != "" {
		ops = &http.Server{
			Addr:              s.cfg.Metrics.Addr,
			Handler:           s.opsRouter(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error().Err(err).Str("addr", ops.Addr).Msg("ops server failed")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", lis.Addr().String()).Str("pair", s.cfg.Pair).Msg("serving BookSummary")
		serveErr <- s.grpc.Serve(lis)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		s.log.Error().Err(err).Msg("gRPC server stopped")
	}

	cancel()
	s.shutdown(ops)
	wg.Wait()

	if s.broadcaster != nil {
		if cerr := s.broadcaster.Close(); cerr != nil {
			s.log.Warn().Err(cerr).Msg("broadcaster close")
		}
	}
	return err
}

func (s *Supervisor) shutdown(ops *http.Server) {
	s.health.Shutdown()

	grace := s.cfg.GRPC.GracePeriod
	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grace):
		s.grpc.Stop()
	}

	if ops != nil {
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		_ = ops.Shutdown(ctx)
	}
	s.log.Info().Msg("stopped")
}

// supervise reruns f until ctx is done.
func (s *Supervisor) supervise(ctx context.Context, f Feed) {
	log := s.log.With().Str("exchange", f.Name()).Logger()
	for {
		err := runProtected(ctx, f)
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Dur("restart_in", s.restartDelay).Msg("feed stopped, restarting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.restartDelay):
		}
	}
}

func runProtected(ctx context.Context, f Feed) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return f.Run(ctx)
}

// -------------------- Ops HTTP --------------------

func (s *Supervisor) opsRouter() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	return r
}

// healthz reports 200 once a merged book exists and 503 before that.
func (s *Supervisor) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	seq := s.store.Seq()
	if seq == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "no data yet")
		return
	}
	fmt.Fprintf(w, "ok seq=%d\n", seq)
}
