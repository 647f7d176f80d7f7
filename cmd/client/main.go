package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	pb "merger/api/pb"
	"merger/infra/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		addr     string
		interval time.Duration
		once     bool
	)

	cmd := &cobra.Command{
		Use:          "merger-client",
		Short:        "Poll BookSummary and print the merged book",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logging.Setup("info", "console"); err != nil {
				return err
			}
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			client := pb.NewOrderbookAggregatorClient(conn)
			ctx := cmd.Context()
			for {
				if err := poll(ctx, client); err != nil {
					log.Warn().Err(err).Str("addr", addr).Msg("book summary failed")
				}
				if once {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(interval):
				}
			}
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", "[::1]:50051", "server address")
	f.DurationVar(&interval, "interval", time.Second, "delay between requests")
	f.BoolVar(&once, "once", false, "request a single summary and exit")
	return cmd
}

func poll(ctx context.Context, client pb.OrderbookAggregatorClient) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stream, err := client.BookSummary(ctx, &pb.Empty{})
	if err != nil {
		return err
	}
	summary, err := stream.Recv()
	if err != nil {
		return err
	}
	report(summary)
	return nil
}

func report(s *pb.Summary) {
	if len(s.Bids) == 0 && len(s.Asks) == 0 {
		log.Info().Msg("No data available")
		return
	}
	ev := log.Info().
		Array("bids", levels(s.Bids)).
		Array("asks", levels(s.Asks))
	if s.Spread != nil {
		ev = ev.Float64("spread", s.GetSpread())
	}
	ev.Msg("summary")
}

type levels []*pb.Level

func (ls levels) MarshalZerologArray(a *zerolog.Array) {
	for _, l := range ls {
		a.Dict(zerolog.Dict().
			Str("exchange", l.Exchange).
			Float64("price", l.Price).
			Float64("amount", l.Amount))
	}
}
