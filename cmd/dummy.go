package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"forkbench/internal/dummy"
)

var dummyCfg dummy.ServerConfig

var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run an in-memory service to benchmark against",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		srv := dummy.Start(dummyCfg)
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("dummy service stopping")
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	dummyCmd.Flags().IntVarP(&dummyCfg.Port, "port", "p", 21212, "port to listen on")
	dummyCmd.Flags().DurationVar(&dummyCfg.MinLatency, "min-latency", 0, "lower bound of simulated call latency")
	dummyCmd.Flags().DurationVar(&dummyCfg.MaxLatency, "max-latency", 0, "upper bound of simulated call latency")
	dummyCmd.Flags().Float64Var(&dummyCfg.ErrorRate, "error-rate", 0, "share of calls (0..1) that fail")
}
