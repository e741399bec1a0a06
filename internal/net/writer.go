package net

import (
	"context"
	"sync"
	"time"
)

// writer owns the write side of one channel so that a stalled socket never
// holds up the session loop. push never blocks; messages are written in
// push order until the first failure or stop.
type writer struct {
	ch      Channel
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	pending [][]byte
	wake    chan struct{}

	finished chan struct{}
	written  int
}

func newWriter(parent context.Context, ch Channel, timeout time.Duration) *writer {
	ctx, cancel := context.WithCancel(parent)
	return &writer{
		ch:       ch,
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		finished: make(chan struct{}),
	}
}

func (w *writer) push(msg []byte) {
	w.mu.Lock()
	w.pending = append(w.pending, msg)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// stop asks run to return. A write in progress ends once the channel is
// closed or its deadline passes.
func (w *writer) stop() { w.cancel() }

// wait blocks until run has returned and reports how many messages it wrote.
func (w *writer) wait() int {
	<-w.finished
	return w.written
}

// run writes until stop or the first failed write. sent is called after each
// successful write, failed once with the error that ended the run.
func (w *writer) run(sent func(), failed func(error)) {
	defer close(w.finished)
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.wake:
		}
		w.mu.Lock()
		batch := w.pending
		w.pending = nil
		w.mu.Unlock()

		for _, msg := range batch {
			if w.ctx.Err() != nil {
				return
			}
			if err := w.write(msg); err != nil {
				if w.ctx.Err() == nil {
					failed(err)
				}
				return
			}
			w.written++
			sent()
		}
	}
}

func (w *writer) write(msg []byte) error {
	ctx := w.ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	return w.ch.Write(ctx, msg)
}
