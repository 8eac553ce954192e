// Package eventloop runs client state changes on a single goroutine, the way a
// browser runs page scripts on its UI thread. Network and timer goroutines hand
// their results back with Post and never touch component state directly.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrStopped = errors.New("event loop stopped")

// Loop is an unbounded FIFO of tasks executed by Run.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

// New creates a loop. Tasks may be posted before Run starts.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run executes posted tasks in order until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Post enqueues fn. It never blocks and reports false once the loop stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it. Never call Do from a loop task.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.queue = nil
	close(l.done)
}

// Timer is a cancellable handle returned by AfterFunc.
type Timer struct {
	t         *time.Timer
	cancelled atomic.Bool
}

// AfterFunc runs fn on the loop after d. Stop called from a loop task
// guarantees fn will not run, even if the timer already fired.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if tm.cancelled.Load() {
				return
			}
			fn()
		})
	})
	return tm
}

// Stop cancels the timer. It is safe on a nil Timer.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
	t.t.Stop()
}
