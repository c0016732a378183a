package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"forkbench/internal/ipc"
)

// WorkerEvents receives everything one worker produces. For a given worker
// the callbacks are invoked from a single goroutine, messages in channel
// order, and OnExit last and exactly once.
type WorkerEvents struct {
	OnMessage func(ipc.Message)
	// OnError reports a record that could not be decoded.
	OnError func(error)
	OnExit  func(error)
}

// Spawner starts one worker. A returned error means the worker never
// started and no event will be delivered for it.
type Spawner interface {
	Spawn(ctx context.Context, workerID int, ev WorkerEvents) error
}

// SpawnFunc adapts a function to the Spawner interface.
type SpawnFunc func(ctx context.Context, workerID int, ev WorkerEvents) error

func (f SpawnFunc) Spawn(ctx context.Context, workerID int, ev WorkerEvents) error {
	return f(ctx, workerID, ev)
}

// ProcessSpawner re-executes a binary once per worker. The child writes its
// reports to the pipe it inherits as ipc.ReportFD.
type ProcessSpawner struct {
	// Path is the executable. Empty means the running binary.
	Path string
	Args []string
	// Env returns extra environment entries for one worker.
	Env    func(workerID int) ([]string, error)
	Stdout io.Writer
	Stderr io.Writer
}

func (p *ProcessSpawner) Spawn(ctx context.Context, workerID int, ev WorkerEvents) error {
	path := p.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		path = exe
	}

	env := os.Environ()
	if p.Env != nil {
		extra, err := p.Env(workerID)
		if err != nil {
			return fmt.Errorf("worker %d environment: %w", workerID, err)
		}
		env = append(env, extra...)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("report pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, p.Args...)
	cmd.Env = env
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	// ExtraFiles[0] becomes fd 3 in the child.
	cmd.ExtraFiles = []*os.File{w}

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return fmt.Errorf("start worker %d: %w", workerID, err)
	}
	// The child holds its own copy; EOF on r now means the child is gone.
	w.Close()

	go func() {
		defer r.Close()
		Pump(ipc.NewReader(r), ev)
		// Pump can stop before EOF; a child blocked on a full pipe would
		// never exit.
		_, _ = io.Copy(io.Discard, r)
		ev.OnExit(cmd.Wait())
	}()
	return nil
}

// Pump delivers every message from r to ev until the stream ends.
func Pump(r *ipc.Reader, ev WorkerEvents) {
	for {
		m, err := r.Next()
		if err == nil {
			ev.OnMessage(m)
			continue
		}
		var decErr *ipc.DecodeError
		if errors.As(err, &decErr) {
			if ev.OnError != nil {
				ev.OnError(err)
			}
			continue
		}
		if !errors.Is(err, io.EOF) && ev.OnError != nil {
			ev.OnError(err)
		}
		return
	}
}
