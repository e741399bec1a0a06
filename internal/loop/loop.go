// Package loop serializes every event source of a session onto one goroutine.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	"LiveCanvas/internal/clock"
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("loop: stopped")

// Loop runs posted closures one at a time in FIFO order.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	running bool
}

// New creates a Loop. Nothing runs until Run is called.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues fn. It never blocks, so it is safe from timer and reader
// goroutines alike.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains posted closures until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			batch := l.queue
			l.queue = nil
			l.mu.Unlock()
			for _, fn := range batch {
				if ctx.Err() != nil {
					return
				}
				fn()
			}
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Clock wraps base so that every AfterFunc callback is posted onto the loop
// instead of running on the timer's goroutine.
func (l *Loop) Clock(base clock.Clock) clock.Clock {
	return loopClock{base: base, loop: l}
}

type loopClock struct {
	base clock.Clock
	loop *Loop
}

func (c loopClock) Now() time.Time { return c.base.Now() }

func (c loopClock) AfterFunc(d time.Duration, fn func()) clock.Timer {
	t := &loopTimer{}
	t.inner = c.base.AfterFunc(d, func() {
		c.loop.Post(func() {
			// Stop may have raced with the base timer firing.
			if t.begin() {
				fn()
			}
		})
	})
	return t
}

type loopTimer struct {
	mu      sync.Mutex
	inner   clock.Timer
	stopped bool
	fired   bool
}

func (t *loopTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inner.Stop()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (t *loopTimer) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.fired = true
	return true
}
