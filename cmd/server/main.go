package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"merger/config"
	"merger/infra/logging"
	"merger/supervisor"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		cfgPath     string
		grpcAddr    string
		metricsAddr string
		depth       int
		logLevel    string
		logFormat   string
	)

	cmd := &cobra.Command{
		Use:          "merger <pair>",
		Short:        "Merge exchange order books and stream the summary over gRPC",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			// ---------------- Flags override file ----------------

			cfg.Pair = strings.ToLower(args[0])
			flags := cmd.Flags()
			if flags.Changed("grpc-addr") {
				cfg.GRPC.Addr = grpcAddr
			}
			if flags.Changed("metrics-addr") {
				cfg.Metrics.Addr = metricsAddr
			}
			if flags.Changed("depth") {
				cfg.Depth = depth
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if flags.Changed("log-format") {
				cfg.Log.Format = logFormat
			}

			if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
				return err
			}

			// ---------------- Wiring ----------------

			sup, err := supervisor.New(cfg)
			if err != nil {
				return err
			}

			log.Info().
				Str("pair", cfg.Pair).
				Str("grpc", cfg.GRPC.Addr).
				Int("depth", cfg.Depth).
				Msg("merger starting")

			if err := sup.Run(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("merger stopped")
			return nil
		},
	}

	def := config.Default()
	f := cmd.Flags()
	f.StringVarP(&cfgPath, "config", "c", "", "YAML config file")
	f.StringVar(&grpcAddr, "grpc-addr", def.GRPC.Addr, "gRPC listen address")
	f.StringVar(&metricsAddr, "metrics-addr", def.Metrics.Addr, "ops HTTP address for /metrics and /healthz, empty disables")
	f.IntVar(&depth, "depth", def.Depth, "levels kept per side of the merged book")
	f.StringVar(&logLevel, "log-level", def.Log.Level, "zerolog level")
	f.StringVar(&logFormat, "log-format", def.Log.Format, "console or json")
	return cmd
}
