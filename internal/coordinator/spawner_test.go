package coordinator

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"forkbench/internal/cli"
	"forkbench/internal/config"
	"forkbench/internal/ipc"
	"forkbench/internal/logging"
)

// childModeEnv turns the test binary into a worker process; the value picks
// what the child writes on its report pipe.
const childModeEnv = "FORKBENCH_TEST_CHILD"

func TestMain(m *testing.M) {
	if mode := os.Getenv(childModeEnv); mode != "" {
		os.Exit(runChild(mode))
	}
	os.Exit(m.Run())
}

func runChild(mode string) int {
	pipe, err := ipc.OpenReportPipe()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer pipe.Close()

	o, id, err := config.FromWorkerEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	w := ipc.NewWriter(pipe)

	switch mode {
	case "report":
		lap := ipc.LapReport{Kind: "writes", Completed: uint64(o.LogRate), Rate: 100, WindowedRate: 90, WindowedSpanMs: 500}
		if err := w.Send(ipc.NewLap(id, lap)); err != nil {
			return 2
		}
		res := ipc.FinalReport{Throughput: float64(id+1)*1000 + 0.25, Successes: uint64(o.Loops)}
		if err := w.Send(ipc.NewResult(id, res)); err != nil {
			return 2
		}
		return 0
	case "crash":
		_ = w.Send(ipc.NewLap(id, ipc.LapReport{Kind: "writes", Completed: 1, Rate: 1}))
		return 3
	case "flood":
		// One record longer than the reader accepts, then more output the
		// child can only write if the coordinator keeps reading.
		if _, err := pipe.Write(bytes.Repeat([]byte("x"), 17<<20)); err != nil {
			return 2
		}
		if _, err := pipe.Write(append([]byte("\n"), bytes.Repeat([]byte("y"), 1<<20)...)); err != nil {
			return 2
		}
		return 0
	}
	return 2
}

func childSpawner(t *testing.T, mode string, o config.Options) *ProcessSpawner {
	t.Helper()
	return &ProcessSpawner{
		Path: os.Args[0],
		Args: []string{"-test.run=^$"},
		Env: func(id int) ([]string, error) {
			e, err := o.WorkerEnv(id)
			return []string{childModeEnv + "=" + mode, e}, err
		},
		Stderr: os.Stderr,
	}
}

type collected struct {
	mu       sync.Mutex
	messages []ipc.Message
	errs     []error
	exit     chan error
}

func collect() (*collected, WorkerEvents) {
	c := &collected{exit: make(chan error, 1)}
	return c, WorkerEvents{
		OnMessage: func(m ipc.Message) {
			c.mu.Lock()
			c.messages = append(c.messages, m)
			c.mu.Unlock()
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.errs = append(c.errs, err)
			c.mu.Unlock()
		},
		OnExit: func(err error) { c.exit <- err },
	}
}

func (c *collected) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-c.exit:
		return err
	case <-time.After(30 * time.Second):
		t.Fatal("worker process never exited")
		return nil
	}
}

func TestProcessSpawnerDeliversReportsInOrder(t *testing.T) {
	o := config.Options{Loops: 500, LogRate: 100, Workers: 2}
	c, ev := collect()
	if err := childSpawner(t, "report", o).Spawn(context.Background(), 1, ev); err != nil {
		t.Fatal(err)
	}
	if err := c.wait(t); err != nil {
		t.Fatalf("exit: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) != 0 || len(c.messages) != 2 {
		t.Fatalf("messages %+v errors %v", c.messages, c.errs)
	}
	lap, res := c.messages[0], c.messages[1]
	if lap.Cmd != ipc.CmdLap || lap.WorkerID != 1 || lap.LapReport.Completed != 100 {
		t.Fatalf("lap %+v", lap)
	}
	if res.Cmd != ipc.CmdResult || res.FinalReport.Successes != 500 || res.FinalReport.Throughput != 2000.25 {
		t.Fatalf("result %+v", res)
	}
}

func TestProcessSpawnerReportsExitStatus(t *testing.T) {
	c, ev := collect()
	if err := childSpawner(t, "crash", config.Options{Workers: 1}).Spawn(context.Background(), 0, ev); err != nil {
		t.Fatal(err)
	}
	err := c.wait(t)
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("exit %v", err)
	}
}

func TestProcessSpawnerSurvivesOversizedRecord(t *testing.T) {
	c, ev := collect()
	if err := childSpawner(t, "flood", config.Options{Workers: 1}).Spawn(context.Background(), 0, ev); err != nil {
		t.Fatal(err)
	}
	if err := c.wait(t); err != nil {
		t.Fatalf("exit: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) != 1 || !errors.Is(c.errs[0], bufio.ErrTooLong) {
		t.Fatalf("errors %v", c.errs)
	}
}

func TestCoordinatorWithWorkerProcesses(t *testing.T) {
	o := config.Options{Loops: 500, LogRate: 100, Workers: 2}
	var out bytes.Buffer
	printer := cli.New(&out, "master", logging.Normal)
	coord := New(Config{Workers: 2, Cores: 2, StatusInterval: 10 * time.Millisecond},
		childSpawner(t, "report", o), printer, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sum, err := coord.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// 1000.25 + 2000.25 = 3000.5
	if sum.Total != 3001 || sum.PerCore != 1501 || sum.PerWorker != 1501 || sum.Failed != 0 || sum.Successes != 1000 {
		t.Fatalf("summary %+v", sum)
	}
	if n := strings.Count(out.String(), "total 3,001 TPS"); n != 1 {
		t.Fatalf("grand total printed %d times:\n%s", n, out.String())
	}
}

func TestPumpStopsAtEndOfStream(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		enc := ipc.NewWriter(pw)
		_ = enc.Send(ipc.NewLap(0, ipc.LapReport{Kind: "reads", Completed: 10, Rate: 5}))
		_, _ = pw.Write([]byte("{not json\n"))
		_ = enc.Send(ipc.NewResult(0, ipc.FinalReport{Throughput: 5}))
		_ = pw.Close()
	}()

	c, ev := collect()
	Pump(ipc.NewReader(pr), ev)

	if len(c.messages) != 2 || c.messages[1].Cmd != ipc.CmdResult {
		t.Fatalf("messages %+v", c.messages)
	}
	var decErr *ipc.DecodeError
	if len(c.errs) != 1 || !errors.As(c.errs[0], &decErr) {
		t.Fatalf("errors %v", c.errs)
	}
}

func TestPumpReportsReadFailure(t *testing.T) {
	pr, pw := io.Pipe()
	boom := errors.New("boom")
	go func() {
		_ = ipc.NewWriter(pw).Send(ipc.NewLap(0, ipc.LapReport{Kind: "writes", Completed: 1, Rate: 1}))
		_ = pw.CloseWithError(boom)
	}()

	c, ev := collect()
	Pump(ipc.NewReader(pr), ev)

	if len(c.messages) != 1 || len(c.errs) != 1 || !errors.Is(c.errs[0], boom) {
		t.Fatalf("messages %+v errors %v", c.messages, c.errs)
	}
}
