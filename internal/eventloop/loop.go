// Package eventloop runs tasks one at a time on a single goroutine.
//
// Anything that wants to touch loop-owned state from another goroutine
// (RPC callbacks, pipe readers, timers) posts a Task instead. A task that
// needs to continue later posts a follow-up task rather than recursing, so
// the stack depth stays bounded no matter how many steps a run takes.
package eventloop

import (
	"context"
	"sync"
	"time"
)

// Task is one unit of work executed on the loop goroutine.
type Task func()

type Loop struct {
	mu      sync.Mutex
	queue   []Task
	wake    chan struct{}
	stopped bool
	done    chan struct{}
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post schedules t to run after every task already queued. It never blocks
// and is safe to call from any goroutine, including from inside a task.
// It reports false once the loop has been stopped.
func (l *Loop) Post(t Task) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, t)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Stop makes Run return after the current task. Queued tasks are dropped.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.stopped {
		l.stopped = true
		close(l.done)
	}
	l.queue = nil
	l.mu.Unlock()
}

// Done is closed once Stop has been called.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run executes tasks until Stop is called or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		t, ok := l.next()
		if ok {
			t()
			continue
		}
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

func (l *Loop) next() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || len(l.queue) == 0 {
		return nil, false
	}
	t := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return t, true
}

// Every posts t on the loop at each interval until the returned stop func is
// called or the loop stops. Ticks are posted, so t always runs on the loop.
func (l *Loop) Every(interval time.Duration, t Task) (stop func()) {
	quit := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-l.done:
				return
			case <-ticker.C:
				l.Post(t)
			}
		}
	}()
	return func() { once.Do(func() { close(quit) }) }
}
