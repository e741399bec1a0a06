package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"LiveCanvas/internal/clock"
	"LiveCanvas/internal/gesture"
	"LiveCanvas/internal/metrics"
	"LiveCanvas/internal/net"
	"LiveCanvas/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeChannel struct {
	inbox     chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{inbox: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeChannel) Read() ([]byte, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *fakeChannel) Write(_ context.Context, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.writes = append(c.writes, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	chans []*fakeChannel
}

func (d *fakeDialer) Dial(context.Context, string, string) (net.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := newFakeChannel()
	d.chans = append(d.chans, ch)
	return ch, nil
}

func (d *fakeDialer) last() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.chans) == 0 {
		return nil
	}
	return d.chans[len(d.chans)-1]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.chans)
}

type notices struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notices) Notify(msg string) {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
}

func (n *notices) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

// wire is one decoded outbound message.
type wire struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func (w wire) updates() map[string]any {
	u, _ := w.Payload["updates"].(map[string]any)
	return u
}

type harness struct {
	t       *testing.T
	s       *Session
	mock    *clock.Mock
	dialer  *fakeDialer
	metrics *metrics.Metrics
	notices *notices

	ch   *fakeChannel
	seen int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mock := clock.NewMock(time.Unix(1_700_000_000, 0))
	h := &harness{
		t:       t,
		mock:    mock,
		dialer:  &fakeDialer{},
		metrics: metrics.New(),
		notices: &notices{},
	}
	h.s = New(Options{
		Dialer:         h.dialer,
		CanvasID:       "canvas-1",
		Token:          "secret",
		Actor:          "me",
		Gesture:        gesture.DefaultConfig(),
		Connection:     net.DefaultConfig(),
		GestureGrace:   500 * time.Millisecond,
		LockTTL:        10 * time.Second,
		DebounceWindow: 400 * time.Millisecond,
		HistoryLimit:   100,
		Clock:          mock,
		Metrics:        h.metrics,
		Notifier:       h.notices,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		var st net.State
		h.on(func() { st = h.s.ConnectionState() })
		return st == net.StateConnected
	}, time.Second, time.Millisecond)
	return h
}

func (h *harness) on(fn func()) {
	h.t.Helper()
	require.NoError(h.t, h.s.Do(context.Background(), fn))
}

// advance moves the clock and waits for the timers it fired to run.
func (h *harness) advance(d time.Duration) {
	h.mock.Advance(d)
	h.on(func() {})
}

func (h *harness) deliver(typ string, payload any) {
	h.t.Helper()
	body, err := json.Marshal(map[string]any{"type": typ, "payload": payload})
	require.NoError(h.t, err)
	h.on(func() { h.s.handleMessage(body) })
}

func (h *harness) sync(shapes ...map[string]any) {
	h.t.Helper()
	h.deliver("CANVAS_SYNC", map[string]any{
		"canvas":      map[string]any{"id": "canvas-1", "backgroundColor": "#ffffff"},
		"shapes":      shapes,
		"activeUsers": []map[string]any{{"id": "bob", "name": "Bob"}},
	})
}

// take waits for the writer to catch up and returns the messages written on
// the newest channel since the last call.
func (h *harness) take() []wire {
	h.t.Helper()
	var out []wire
	require.Eventually(h.t, func() bool {
		var n int
		h.on(func() { n = h.s.conn.InFlight() })
		return n == 0
	}, time.Second, time.Millisecond)
	ch := h.dialer.last()
	if ch != h.ch {
		h.ch, h.seen = ch, 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for _, raw := range ch.writes[h.seen:] {
		var w wire
		require.NoError(h.t, json.Unmarshal(raw, &w))
		out = append(out, w)
	}
	h.seen = len(ch.writes)
	return out
}

func (h *harness) shape(id string) state.Shape {
	h.t.Helper()
	var (
		sh state.Shape
		ok bool
	)
	h.on(func() { sh, ok = h.s.Shape(id) })
	require.True(h.t, ok, "shape %s", id)
	return sh
}

func (h *harness) depth() (int, int) {
	var u, r int
	h.on(func() { u, r = h.s.HistoryDepth() })
	return u, r
}

func rect(id string, x, y float64) map[string]any {
	return map[string]any{"id": id, "type": "rectangle", "x": x, "y": y, "width": 100, "height": 50, "zIndex": 1}
}
