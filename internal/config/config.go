// Package config resolves the options of a run from flags, environment and
// an optional config file, and validates them before any worker starts.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"forkbench/internal/logging"
	"forkbench/internal/payload"
	"forkbench/internal/rpc"
	"forkbench/internal/runner"
	"forkbench/internal/stats"
)

// EnvPrefix prefixes every environment override, e.g. FORKBENCH_LOOPS.
const EnvPrefix = "FORKBENCH"

// WorkerOptionsEnv carries the resolved options into a worker process.
const WorkerOptionsEnv = EnvPrefix + "_WORKER_OPTIONS"

type Options struct {
	Loops   int      `mapstructure:"loops" json:"loops"`
	Hosts   []string `mapstructure:"host" json:"hosts"`
	Workers int      `mapstructure:"workers" json:"workers"`

	Write   bool `mapstructure:"write" json:"write"`
	Read    bool `mapstructure:"read" json:"read"`
	Vote    bool `mapstructure:"vote" json:"vote"`
	Numeric bool `mapstructure:"numeric" json:"numeric"`

	Verbose bool `mapstructure:"verbose" json:"verbose"`
	Debug   bool `mapstructure:"debug" json:"debug"`
	Quiet   bool `mapstructure:"quiet" json:"quiet"`

	LogRate    int    `mapstructure:"lograte" json:"lograte"`
	LogAverage int    `mapstructure:"logaverage" json:"logaverage"`
	ID         string `mapstructure:"id" json:"id"`

	QueueSize      int           `mapstructure:"queue-size" json:"queueSize"`
	ErrorPolicy    string        `mapstructure:"error-policy" json:"errorPolicy"`
	StatusInterval time.Duration `mapstructure:"status-interval" json:"statusInterval"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout"`

	TUI          bool   `mapstructure:"tui" json:"tui"`
	Trace        bool   `mapstructure:"trace" json:"trace"`
	OTLPEndpoint string `mapstructure:"otlp-endpoint" json:"otlpEndpoint"`
	InitVote     bool   `mapstructure:"init-vote" json:"initVote"`
}

// RegisterFlags defines every run option on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.IntP("loops", "c", 10000, "transactions per workload per fork")
	fs.StringSliceP("host", "h", []string{"localhost:" + rpc.DefaultPort}, "service endpoints (host[:port])")
	fs.IntP("workers", "f", runtime.NumCPU(), "number of forked workers")
	fs.BoolP("write", "w", false, "run the write workload")
	fs.BoolP("read", "r", false, "run the read workload")
	fs.BoolP("vote", "x", false, "run the vote workload")
	fs.BoolP("numeric", "n", false, "use numeric sequences instead of random strings")
	fs.BoolP("verbose", "v", false, "detailed lap output and connection statistics")
	fs.BoolP("debug", "d", false, "debug logging")
	fs.BoolP("quiet", "q", false, "only print the grand total")
	fs.IntP("lograte", "l", 10000, "transactions between lap reports")
	fs.IntP("logaverage", "a", 1000000, "transactions covered by the rolling average")
	fs.StringP("id", "i", "", "run identifier prefixed to every line")
	fs.Int("queue-size", 20, "calls in flight per workload")
	fs.String("error-policy", "continue", "on a failed call: continue or fail-fast")
	fs.Duration("status-interval", time.Second, "period of the aggregate status line")
	fs.Duration("timeout", 50*time.Second, "per call timeout")
	fs.Bool("tui", false, "show a live dashboard instead of status lines")
	fs.Bool("trace", false, "trace every call with OpenTelemetry")
	fs.String("otlp-endpoint", "", "OTLP/HTTP collector for traces (default stdout)")
	fs.Bool("init-vote", true, "seed the vote contest before the run")
}

// Configure sets up environment overrides on v and binds fs.
func Configure(v *viper.Viper, fs *pflag.FlagSet) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if fs == nil {
		return nil
	}
	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	return nil
}

// Load decodes the options held by v.
func Load(v *viper.Viper) (Options, error) {
	var o Options
	if err := v.Unmarshal(&o); err != nil {
		return Options{}, fmt.Errorf("decode options: %w", err)
	}
	o.normalize()
	return o, nil
}

func (o *Options) normalize() {
	hosts := o.Hosts[:0]
	for _, h := range o.Hosts {
		for _, part := range strings.Split(h, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hosts = append(hosts, part)
			}
		}
	}
	o.Hosts = hosts
	if !o.Write && !o.Read && !o.Vote {
		o.Write = true
	}
}

// ConfigurationError lists every invalid option. Nothing is started when
// it is returned.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (o Options) Validate() error {
	var p []string
	if o.Loops < 0 {
		p = append(p, fmt.Sprintf("loops must not be negative (got %d)", o.Loops))
	}
	if o.Workers < 1 {
		p = append(p, fmt.Sprintf("workers must be at least 1 (got %d)", o.Workers))
	}
	if o.LogRate < 1 {
		p = append(p, fmt.Sprintf("lograte must be at least 1 (got %d)", o.LogRate))
	}
	if o.LogAverage < 1 {
		p = append(p, fmt.Sprintf("logaverage must be at least 1 (got %d)", o.LogAverage))
	}
	if o.QueueSize < 1 {
		p = append(p, fmt.Sprintf("queue-size must be at least 1 (got %d)", o.QueueSize))
	}
	if len(o.Hosts) == 0 {
		p = append(p, "at least one host is required")
	}
	if _, err := runner.ParseErrorPolicy(o.ErrorPolicy); err != nil {
		p = append(p, err.Error())
	}
	if o.StatusInterval <= 0 {
		p = append(p, fmt.Sprintf("status-interval must be positive (got %s)", o.StatusInterval))
	}
	if len(p) > 0 {
		return &ConfigurationError{Problems: p}
	}
	return nil
}

func (o Options) Verbosity() logging.Verbosity {
	return logging.FromFlags(o.Quiet, o.Verbose, o.Debug)
}

// WindowCapacity is the number of laps in the rolling average.
func (o Options) WindowCapacity() int {
	return stats.WindowCapacity(o.LogAverage, o.LogRate)
}

func (o Options) PayloadMode() payload.Mode {
	if o.Numeric {
		return payload.Numeric
	}
	return payload.Random
}

// Workloads returns one spec per selected kind, in write, read, vote order.
func (o Options) Workloads() []runner.WorkloadSpec {
	var kinds []runner.Kind
	if o.Write {
		kinds = append(kinds, runner.Write)
	}
	if o.Read {
		kinds = append(kinds, runner.Read)
	}
	if o.Vote {
		kinds = append(kinds, runner.Vote)
	}
	specs := make([]runner.WorkloadSpec, 0, len(kinds))
	for _, k := range kinds {
		specs = append(specs, runner.WorkloadSpec{
			Kind:        k,
			LoopCount:   uint64(o.Loops),
			PayloadMode: o.PayloadMode(),
			LogEveryN:   uint64(o.LogRate),
		})
	}
	return specs
}

// RunnerConfig builds the configuration of worker id. Vote seeding is left
// to the coordinator, so workers never repeat it.
func (o Options) RunnerConfig(id int) runner.Config {
	policy, _ := runner.ParseErrorPolicy(o.ErrorPolicy)
	return runner.Config{
		WorkerID:        id,
		Workers:         o.Workers,
		Workloads:       o.Workloads(),
		MaxInFlight:     o.QueueSize,
		WindowCapacity:  o.WindowCapacity(),
		ErrorPolicy:     policy,
		ConnectionStats: o.Verbose || o.Debug,
	}
}

func (o Options) ClientConfig() rpc.ClientConfig {
	return rpc.ClientConfig{
		Endpoints: o.Hosts,
		QueueSize: o.QueueSize,
		Timeout:   o.Timeout,
	}
}

// workerEnvelope is what a worker process receives in WorkerOptionsEnv.
type workerEnvelope struct {
	WorkerID int     `json:"workerId"`
	Options  Options `json:"options"`
}

// WorkerEnv returns the environment entry handing o to worker id.
func (o Options) WorkerEnv(id int) (string, error) {
	b, err := json.Marshal(workerEnvelope{WorkerID: id, Options: o})
	if err != nil {
		return "", fmt.Errorf("encode worker options: %w", err)
	}
	return WorkerOptionsEnv + "=" + string(b), nil
}

// FromWorkerEnv decodes the options a coordinator handed to this process.
func FromWorkerEnv() (Options, int, error) {
	raw, ok := os.LookupEnv(WorkerOptionsEnv)
	if !ok {
		return Options{}, 0, fmt.Errorf("%s is not set; workers are started by the coordinator", WorkerOptionsEnv)
	}
	var env workerEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Options{}, 0, fmt.Errorf("decode %s: %w", WorkerOptionsEnv, err)
	}
	return env.Options, env.WorkerID, nil
}
