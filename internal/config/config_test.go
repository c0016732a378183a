package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"forkbench/internal/runner"
)

func load(t *testing.T, args ...string) Options {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}
	v := viper.New()
	if err := Configure(v, fs); err != nil {
		t.Fatal(err)
	}
	o, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return o
}

func TestDefaults(t *testing.T) {
	o := load(t)
	if o.Loops != 10000 || o.LogRate != 10000 || o.LogAverage != 1000000 || o.QueueSize != 20 {
		t.Fatalf("options %+v", o)
	}
	if len(o.Hosts) != 1 || o.Hosts[0] != "localhost:21212" {
		t.Fatalf("hosts %v", o.Hosts)
	}
	if !o.Write || o.Read || o.Vote {
		t.Fatal("write should be selected when no workload flag is given")
	}
	if o.WindowCapacity() != 100 {
		t.Fatalf("window capacity %d", o.WindowCapacity())
	}
	if o.Timeout != 50*time.Second || o.StatusInterval != time.Second || !o.InitVote {
		t.Fatalf("options %+v", o)
	}
	if err := o.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestShortFlagsAndWorkloads(t *testing.T) {
	o := load(t, "-c", "500", "-f", "3", "-r", "-x", "-n", "-l", "50", "-a", "25", "-h", "a:1,b:2")
	specs := o.Workloads()
	if len(specs) != 2 || specs[0].Kind != runner.Read || specs[1].Kind != runner.Vote {
		t.Fatalf("workloads %+v", specs)
	}
	if specs[0].LoopCount != 500 || specs[0].LogEveryN != 50 {
		t.Fatalf("spec %+v", specs[0])
	}
	if o.WindowCapacity() != 1 {
		t.Fatalf("window capacity %d want 1", o.WindowCapacity())
	}
	if len(o.Hosts) != 2 || o.Hosts[1] != "b:2" {
		t.Fatalf("hosts %v", o.Hosts)
	}
	rc := o.RunnerConfig(2)
	if rc.WorkerID != 2 || rc.Workers != 3 || rc.MaxInFlight != 20 || rc.InitVote {
		t.Fatalf("runner config %+v", rc)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	o := load(t, "--loops=-1", "--workers=0", "--queue-size=0", "--error-policy=retry")
	err := o.Validate()
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("err=%v want *ConfigurationError", err)
	}
	if len(ce.Problems) != 4 {
		t.Fatalf("problems %v", ce.Problems)
	}
	if !strings.Contains(err.Error(), "loops must not be negative") {
		t.Fatalf("error %q", err)
	}
}

func TestConfigFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "forkbench.yaml")
	body := "loops: 42\nhost:\n  - one:1\n  - two:2\nerror-policy: fail-fast\nstatus-interval: 250ms\n"
	if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FORKBENCH_QUEUE_SIZE", "7")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	v := viper.New()
	if err := Configure(v, fs); err != nil {
		t.Fatal(err)
	}
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}
	o, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}
	if o.Loops != 42 || len(o.Hosts) != 2 || o.QueueSize != 7 || o.StatusInterval != 250*time.Millisecond {
		t.Fatalf("options %+v", o)
	}
	if o.RunnerConfig(0).ErrorPolicy != runner.FailFast {
		t.Fatal("error policy not taken from file")
	}
}

func TestWorkerEnvRoundTrip(t *testing.T) {
	o := load(t, "-c", "9", "-x", "-i", "run1")
	entry, err := o.WorkerEnv(4)
	if err != nil {
		t.Fatal(err)
	}
	name, value, _ := strings.Cut(entry, "=")
	if name != WorkerOptionsEnv {
		t.Fatalf("entry %q", entry)
	}
	t.Setenv(WorkerOptionsEnv, value)

	got, id, err := FromWorkerEnv()
	if err != nil {
		t.Fatal(err)
	}
	if id != 4 || got.Loops != 9 || !got.Vote || got.ID != "run1" || got.Timeout != o.Timeout {
		t.Fatalf("id=%d options %+v", id, got)
	}
}
