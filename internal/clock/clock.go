// Package clock abstracts wall time and delayed callbacks so the sync engine
// can be driven by a deterministic clock in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock tells the time and schedules callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a scheduled callback. Stop reports whether the call was prevented.
type Timer interface {
	Stop() bool
}

type realClock struct{}

// New returns a Clock backed by the time package.
func New() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Mock is a manually advanced clock. Callbacks run synchronously on the
// goroutine calling Advance or Set, in deadline order.
type Mock struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*mockTimer
}

type mockTimer struct {
	mock     *Mock
	deadline time.Time
	seq      uint64
	fn       func()
}

// NewMock returns a Mock set to start.
func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Mock) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &mockTimer{mock: m, deadline: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that falls due.
func (m *Mock) Advance(d time.Duration) {
	m.Set(m.Now().Add(d))
}

// Set moves the clock to t, firing every timer due at or before t. Timers
// scheduled by fired callbacks are honoured if they also fall due.
func (m *Mock) Set(t time.Time) {
	for {
		m.mu.Lock()
		next := m.popDue(t)
		if next == nil {
			m.now = t
			m.mu.Unlock()
			return
		}
		if next.deadline.After(m.now) {
			m.now = next.deadline
		}
		m.mu.Unlock()
		next.fn()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Mock) popDue(t time.Time) *mockTimer {
	if len(m.timers) == 0 {
		return nil
	}
	sort.Slice(m.timers, func(i, j int) bool {
		if m.timers[i].deadline.Equal(m.timers[j].deadline) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].deadline.Before(m.timers[j].deadline)
	})
	first := m.timers[0]
	if first.deadline.After(t) {
		return nil
	}
	m.timers = m.timers[1:]
	return first
}

func (t *mockTimer) Stop() bool {
	m := t.mock
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, other := range m.timers {
		if other == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}
	return false
}
