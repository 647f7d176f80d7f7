package grpcserver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"

	pb "merger/api/pb"
	"merger/domain/orderbook"
	"merger/infra/logging"
	"merger/infra/metrics"
)

// BookReader returns a private copy of the current merged book.
// snapshot.Store implements it.
type BookReader interface {
	Read() orderbook.Book
}

// Server adapts the shared book to the OrderbookAggregator service.
type Server struct {
	pb.UnimplementedOrderbookAggregatorServer

	books   BookReader
	metrics *metrics.Registry
	log     zerolog.Logger
}

func NewServer(books BookReader, m *metrics.Registry) *Server {
	return &Server{
		books:   books,
		metrics: m,
		log:     logging.Component("grpc"),
	}
}

// -------------------- Streams --------------------

// BookSummary sends the current book once and ends the stream.
//
// The book is copied out of shared state before Send, so a slow subscriber
// only ever blocks its own stream.
func (s *Server) BookSummary(
	_ *pb.Empty,
	stream pb.OrderbookAggregator_BookSummaryServer,
) error {
	id := uuid.NewString()
	book := s.books.Read()

	if err := stream.Send(ToSummary(book)); err != nil {
		s.log.Warn().Err(err).Str("subscriber", id).Msg("BookSummary send failed")
		return err
	}

	if s.metrics != nil {
		s.metrics.Subscribers.Inc()
	}
	s.log.Debug().
		Str("subscriber", id).
		Uint64("seq", book.Seq).
		Int("bids", len(book.Bids)).
		Int("asks", len(book.Asks)).
		Msg("BookSummary served")
	return nil
}

// -------------------- Wiring --------------------

// NewGRPCServer builds a grpc.Server with the aggregator and the standard
// health service registered.
func NewGRPCServer(srv *Server, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append([]grpc.ServerOption{
		grpc.ChainStreamInterceptor(srv.logStream),
	}, opts...)

	g := grpc.NewServer(opts...)
	pb.RegisterOrderbookAggregatorServer(g, srv)

	hs := health.NewServer()
	hs.SetServingStatus(pb.OrderbookAggregator_ServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(g, hs)

	return g, hs
}

func (s *Server) logStream(
	srv any,
	ss grpc.ServerStream,
	info *grpc.StreamServerInfo,
	handler grpc.StreamHandler,
) error {
	start := time.Now()
	err := handler(srv, ss)

	e := s.log.Debug()
	if err != nil {
		e = s.log.Warn().Err(err)
	}
	e.Str("method", info.FullMethod).
		Str("peer", peerAddr(ss.Context())).
		Dur("took", time.Since(start)).
		Msg("stream closed")
	return err
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}

// -------------------- Converters --------------------

// ToSummary converts a merged book to its wire form. The spread is left
// unset when the book has no spread, so an empty book is a valid reply.
func ToSummary(b orderbook.Book) *pb.Summary {
	out := &pb.Summary{
		Bids: toLevels(b.Bids),
		Asks: toLevels(b.Asks),
	}
	if b.HasSpread {
		spread := b.Spread.InexactFloat64()
		out.Spread = &spread
	}
	return out
}

func toLevels(orders []orderbook.Order) []*pb.Level {
	out := make([]*pb.Level, 0, len(orders))
	for _, o := range orders {
		out = append(out, &pb.Level{
			Exchange: o.Exchange,
			Price:    o.Price.InexactFloat64(),
			Amount:   o.Quantity.InexactFloat64(),
		})
	}
	return out
}
