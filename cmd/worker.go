package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"forkbench/internal/cli"
	"forkbench/internal/config"
	"forkbench/internal/ipc"
	"forkbench/internal/logging"
	"forkbench/internal/observability"
	"forkbench/internal/rpc"
	"forkbench/internal/runner"
)

// workerCmd is what the coordinator re-executes for every fork.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one fork (started by the coordinator)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	o, id, err := config.FromWorkerEnv()
	if err != nil {
		return err
	}
	tag := logging.WorkerTag(o.ID, id)
	log := setupLogging(os.Stderr, o.Verbosity(), tag)

	pipe, err := ipc.OpenReportPipe()
	if err != nil {
		return err
	}
	defer pipe.Close()

	shutdown, err := observability.InitTracer(observability.TracerConfig{
		Enabled:  o.Trace,
		Service:  "forkbench",
		Endpoint: o.OTLPEndpoint,
		Writer:   os.Stderr,
		RunID:    o.ID,
		Role:     "worker",
		WorkerID: id,
		Log:      log,
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	client := rpc.NewHTTPClient(o.ClientConfig())
	w := runner.NewWorker(o.RunnerConfig(id), client, ipc.NewWriter(pipe), cli.New(os.Stdout, tag, o.Verbosity()), log)
	return w.Run(ctx)
}
