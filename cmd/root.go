package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"forkbench/internal/banner"
	"forkbench/internal/cli"
	"forkbench/internal/config"
	"forkbench/internal/coordinator"
	"forkbench/internal/logging"
	"forkbench/internal/observability"
	"forkbench/internal/rpc"
	"forkbench/internal/runner"
	"forkbench/internal/tui"
)

var (
	cfgFile string
	opts    config.Options
)

var rootCmd = &cobra.Command{
	Use:   "forkbench",
	Short: "forkbench - forked load generator for RPC services",
	Long: `
forkbench forks a number of worker processes. Each one drives a bounded
pipeline of write, read or vote calls against the service and reports its
throughput back; the parent prints a live aggregate and the grand total.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		o, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		opts = o
		setupLogging(os.Stderr, opts.Verbosity(), logging.CoordinatorTag(opts.ID))
		return nil
	},
	RunE: runCoordinator,
}

func Execute() {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		_ = cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.forkbench.yaml)")
	// -h is the host list. With a help flag already declared cobra does not
	// add its own -h shorthand.
	rootCmd.PersistentFlags().Bool("help", false, "help for forkbench")
	config.RegisterFlags(rootCmd.PersistentFlags())
	if err := config.Configure(viper.GetViper(), rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(workerCmd, dummyCmd, resultsCmd, lookupCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".forkbench")
		}
	}
	if err := viper.ReadInConfig(); err == nil {
		slog.Debug("using config file", "file", viper.ConfigFileUsed())
	}
}

func setupLogging(w io.Writer, v logging.Verbosity, tag string) *slog.Logger {
	l := logging.WithTag(logging.New(w, v), tag)
	slog.SetDefault(l)
	return l
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	tag := logging.CoordinatorTag(opts.ID)
	log := slog.Default()
	out := io.Writer(os.Stdout)
	if opts.TUI {
		// The dashboard owns the terminal until the run is over.
		out = io.Discard
		log = setupLogging(io.Discard, opts.Verbosity(), tag)
	}
	printer := cli.New(out, tag, opts.Verbosity())

	shutdown, err := observability.InitTracer(observability.TracerConfig{
		Enabled:  opts.Trace,
		Service:  "forkbench",
		Endpoint: opts.OTLPEndpoint,
		Writer:   os.Stderr,
		RunID:    opts.ID,
		Role:     "coordinator",
		Log:      log,
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	printer.Header("%d forks, %s, %d calls per workload, %s",
		opts.Workers, workloadNames(opts), opts.Loops, opts.PayloadMode())
	printer.Infof("hosts %s, %d in flight, rolling average over %d laps",
		strings.Join(opts.Hosts, ","), opts.QueueSize, opts.WindowCapacity())

	if opts.Vote && opts.InitVote {
		if err := seedVote(ctx, log); err != nil {
			return err
		}
	}

	spawner := &coordinator.ProcessSpawner{
		Args: []string{workerCmd.Name()},
		Env: func(id int) ([]string, error) {
			e, err := opts.WorkerEnv(id)
			return []string{e}, err
		},
		Stdout: out,
		Stderr: os.Stderr,
	}
	if opts.TUI {
		spawner.Stderr = io.Discard
	}
	cfg := coordinator.Config{Workers: opts.Workers, StatusInterval: opts.StatusInterval}

	if !opts.TUI {
		_, err := coordinator.New(cfg, spawner, printer, log).Run(ctx)
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	snaps := make(chan coordinator.Snapshot, 16)
	type outcome struct {
		sum coordinator.Summary
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		sum, err := coordinator.New(cfg, spawner, printer, log, coordinator.WithSnapshots(snaps)).Run(ctx)
		done <- outcome{sum, err}
	}()

	if err := tui.Run("forkbench "+opts.ID, snaps, cancel); err != nil {
		cancel()
		<-done
		return err
	}
	res := <-done
	if res.err != nil {
		return res.err
	}
	s := res.sum
	cli.New(os.Stdout, tag, opts.Verbosity()).Total(cli.TotalLine{
		Total: s.Total, PerCore: s.PerCore, Cores: s.Cores, PerWorker: s.PerWorker, Workers: s.Workers,
		Successes: s.Successes, Errors: s.Errors, Failed: s.Failed, P50: s.P50, P99: s.P99,
	})
	return nil
}

// seedVote initializes the vote contest once, before any worker starts.
func seedVote(ctx context.Context, log *slog.Logger) error {
	client := rpc.NewHTTPClient(opts.ClientConfig())
	defer client.Close()
	if err := client.Connect(ctx); err != nil {
		return err
	}
	return runner.InitializeVote(ctx, client, log)
}

func workloadNames(o config.Options) string {
	specs := o.Workloads()
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Kind.String())
	}
	return strings.Join(names, "+")
}
