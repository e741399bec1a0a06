package net

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"LiveCanvas/internal/clock"
	"LiveCanvas/internal/protocol"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "disconnected"
}

// Reconnect policies.
const (
	PolicyExponential = "exponential"
	PolicyFixed       = "fixed"
)

// Config tunes reconnects and writes.
type Config struct {
	Policy        string
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	FixedInterval time.Duration
	// MaxAttempts caps consecutive failed reconnects; zero retries forever.
	MaxAttempts  int
	SettleDelay  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Policy:        PolicyExponential,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		FixedInterval: 3 * time.Second,
		SettleDelay:   100 * time.Millisecond,
		WriteTimeout:  5 * time.Second,
	}
}

// NewBackOff builds the retry delay policy for cfg: min(base*2^n, max) for
// the exponential policy, a constant interval for the fixed one, optionally
// capped at MaxAttempts.
func NewBackOff(cfg Config) backoff.BackOff {
	var b backoff.BackOff
	switch cfg.Policy {
	case PolicyFixed:
		b = backoff.NewConstantBackOff(cfg.FixedInterval)
	default:
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = cfg.BaseDelay
		exp.Multiplier = 2
		exp.RandomizationFactor = 0
		exp.MaxInterval = cfg.MaxDelay
		exp.MaxElapsedTime = 0
		b = exp
	}
	if cfg.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts))
	}
	b.Reset()
	return b
}

// Poster runs fn on the goroutine that owns the manager.
type Poster interface {
	Post(fn func())
}

// Observer receives connection activity, typically for metrics.
type Observer interface {
	StateChanged(s State)
	MessageSent(t protocol.Type)
	Queued(depth int)
	ReconnectScheduled(attempt int, delay time.Duration)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State)                    {}
func (nopObserver) MessageSent(protocol.Type)             {}
func (nopObserver) Queued(int)                            {}
func (nopObserver) ReconnectScheduled(int, time.Duration) {}

// ConnectionManager owns the channel lifecycle. Every method must run on the
// session loop; dial results and inbound messages are posted back onto it.
type ConnectionManager struct {
	dialer   Dialer
	clock    clock.Clock
	loop     Poster
	cfg      Config
	logger   *slog.Logger
	observer Observer
	policy   backoff.BackOff

	ctx    context.Context
	cancel context.CancelFunc

	canvasID string
	token    string

	state     State
	ch        Channel
	out       *writer
	inflight  []QueuedIntent
	retired   int
	gen       uint64
	attempts  int
	connected bool
	retry     clock.Timer
	settle    clock.Timer
	queue     Queue
	closed    bool

	onMessage func([]byte)
	onState   func(State)
}

// NewConnectionManager creates a manager for canvasID. c must fire its
// callbacks on the same loop that p posts to.
func NewConnectionManager(d Dialer, c clock.Clock, p Poster, cfg Config, canvasID, token string, logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		dialer:    d,
		clock:     c,
		loop:      p,
		cfg:       cfg,
		logger:    logger.With("component", "connection"),
		observer:  nopObserver{},
		policy:    NewBackOff(cfg),
		ctx:       ctx,
		cancel:    cancel,
		canvasID:  canvasID,
		token:     token,
		onMessage: func([]byte) {},
		onState:   func(State) {},
	}
}

// OnMessage sets the handler for raw inbound messages.
func (m *ConnectionManager) OnMessage(fn func([]byte)) { m.onMessage = fn }

// OnState sets the handler for state transitions.
func (m *ConnectionManager) OnState(fn func(State)) { m.onState = fn }

func (m *ConnectionManager) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	m.observer = o
}

func (m *ConnectionManager) State() State { return m.state }

// Attempts returns the number of reconnects tried since the last success.
func (m *ConnectionManager) Attempts() int { return m.attempts }

// Queued returns the number of intents waiting for the channel.
func (m *ConnectionManager) Queued() int { return m.queue.Len() }

// InFlight returns the number of intents handed to the writer and not yet
// written.
func (m *ConnectionManager) InFlight() int { return len(m.inflight) }

func (m *ConnectionManager) CanvasID() string { return m.canvasID }

// SetCanvas changes the canvas future reconnects join.
func (m *ConnectionManager) SetCanvas(id string) { m.canvasID = id }

// RenameQueued follows a provisional shape id to its authoritative one in
// the intents waiting for the channel.
func (m *ConnectionManager) RenameQueued(from, to string) int {
	return m.queue.Rename(from, to)
}

func (m *ConnectionManager) setState(s State) {
	if m.state == s {
		return
	}
	m.logger.Info("connection state", "from", m.state, "to", s, "attempts", m.attempts)
	m.state = s
	m.observer.StateChanged(s)
	m.onState(s)
}

// Start dials the server.
func (m *ConnectionManager) Start() {
	if m.closed || m.state == StateConnecting || m.state == StateConnected {
		return
	}
	m.dial()
}

func (m *ConnectionManager) dial() {
	m.setState(StateConnecting)
	m.gen++
	gen := m.gen
	canvasID, token := m.canvasID, m.token
	go func() {
		ch, err := m.dialer.Dial(m.ctx, canvasID, token)
		m.loop.Post(func() { m.dialed(gen, ch, err) })
	}()
}

func (m *ConnectionManager) dialed(gen uint64, ch Channel, err error) {
	if gen != m.gen || m.closed {
		if ch != nil {
			_ = ch.Close()
		}
		return
	}
	if err != nil {
		m.logger.Warn("dial failed", "err", err, "attempts", m.attempts)
		m.setState(StateDisconnected)
		m.scheduleRetry()
		return
	}
	reconnect := m.connected
	m.ch = ch
	m.connected = true
	m.attempts = 0
	m.policy.Reset()
	m.setState(StateConnected)
	m.startWriter(gen, ch)
	go m.readLoop(gen, ch)

	if reconnect {
		// Resync first so the snapshot lands before the replayed intents.
		if err := m.write(newEntry(protocol.ReconnectRequest(m.canvasID), m.clock.Now())); err != nil {
			m.lost(gen, err)
			return
		}
	}
	if m.queue.Len() > 0 {
		m.scheduleReplay(gen)
	}
}

func (m *ConnectionManager) startWriter(gen uint64, ch Channel) {
	w := newWriter(m.ctx, ch, m.cfg.WriteTimeout)
	m.out = w
	m.retired = 0
	go w.run(
		func() { m.loop.Post(func() { m.sent(gen) }) },
		func(err error) { m.loop.Post(func() { m.lost(gen, fmt.Errorf("write: %w", err)) }) },
	)
}

// sent retires the oldest in-flight intent.
func (m *ConnectionManager) sent(gen uint64) {
	if gen != m.gen || len(m.inflight) == 0 {
		return
	}
	e := m.inflight[0]
	m.inflight = m.inflight[1:]
	m.retired++
	m.observer.MessageSent(e.Intent.Type)
}

func (m *ConnectionManager) readLoop(gen uint64, ch Channel) {
	for {
		msg, err := ch.Read()
		if err != nil {
			m.loop.Post(func() { m.lost(gen, err) })
			return
		}
		m.loop.Post(func() {
			if gen == m.gen && !m.closed {
				m.onMessage(msg)
			}
		})
	}
}

// lost handles a failed channel. Reports from superseded channels are ignored.
func (m *ConnectionManager) lost(gen uint64, err error) {
	if gen != m.gen || m.closed || m.ch == nil {
		return
	}
	m.logger.Warn("channel lost", "err", err)
	unsent, _ := m.closeChannel()
	m.gen++
	// Whatever the writer never wrote goes out again with the replay.
	var requeue []QueuedIntent
	for _, e := range unsent {
		if e.Intent.Queueable() {
			requeue = append(requeue, e)
		}
	}
	if len(requeue) > 0 {
		m.queue.Requeue(requeue)
		m.observer.Queued(m.queue.Len())
	}
	m.stopTimer(&m.settle)
	m.setState(StateDisconnected)
	m.scheduleRetry()
}

func (m *ConnectionManager) scheduleRetry() {
	m.stopTimer(&m.retry)
	delay := m.policy.NextBackOff()
	if delay == backoff.Stop {
		m.logger.Error("giving up reconnecting", "attempts", m.attempts)
		return
	}
	m.attempts++
	m.observer.ReconnectScheduled(m.attempts, delay)
	m.setState(StateReconnecting)
	m.logger.Info("reconnect scheduled", "attempt", m.attempts, "delay", delay)
	m.retry = m.clock.AfterFunc(delay, func() {
		m.retry = nil
		if m.closed || m.state != StateReconnecting {
			return
		}
		m.dial()
	})
}

// Reconnect retries at once, e.g. after the retry budget ran out.
func (m *ConnectionManager) Reconnect() {
	if m.closed || m.state == StateConnected || m.state == StateConnecting {
		return
	}
	m.stopTimer(&m.retry)
	m.policy.Reset()
	m.attempts = 0
	m.dial()
}

// closeChannel stops the writer, closes the channel and returns the in-flight
// intents that were never written.
func (m *ConnectionManager) closeChannel() ([]QueuedIntent, error) {
	if m.out != nil {
		m.out.stop()
	}
	err := m.ch.Close()
	m.ch = nil
	unsent := m.inflight
	if m.out != nil {
		written := m.out.wait() - m.retired
		unsent = unsent[min(max(written, 0), len(unsent)):]
		m.out = nil
	}
	m.inflight = nil
	return unsent, err
}

func (m *ConnectionManager) stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *ConnectionManager) scheduleReplay(gen uint64) {
	m.stopTimer(&m.settle)
	m.settle = m.clock.AfterFunc(m.cfg.SettleDelay, func() {
		m.settle = nil
		if gen != m.gen || m.closed {
			return
		}
		m.replay(gen)
	})
}

// replay sends every queued intent once, in enqueue order. On a write
// failure the unsent remainder goes back to the front of the queue.
func (m *ConnectionManager) replay(gen uint64) {
	entries := m.queue.Drain()
	m.logger.Info("replaying queued intents", "count", len(entries))
	for i, e := range entries {
		if err := m.write(e); err != nil {
			m.queue.Requeue(entries[i:])
			m.observer.Queued(m.queue.Len())
			m.lost(gen, err)
			return
		}
	}
	m.observer.Queued(m.queue.Len())
}

// Send writes in now when the channel is up and nothing is waiting to be
// replayed; otherwise it is queued. Cursor moves and resync requests are
// dropped while offline.
func (m *ConnectionManager) Send(in protocol.Intent) {
	if m.closed {
		return
	}
	if m.state != StateConnected || m.settle != nil || m.queue.Len() > 0 {
		m.enqueue(in)
		return
	}
	if err := m.write(newEntry(in, m.clock.Now())); err != nil {
		m.enqueue(in)
		m.lost(m.gen, err)
	}
}

func (m *ConnectionManager) enqueue(in protocol.Intent) {
	if !in.Queueable() {
		return
	}
	m.queue.Enqueue(in, m.clock.Now())
	m.observer.Queued(m.queue.Len())
}

// write hands e to the channel's writer and returns at once. The entry stays
// in flight until the writer reports it written.
func (m *ConnectionManager) write(e QueuedIntent) error {
	if m.ch == nil || m.out == nil {
		return ErrClosed
	}
	msg, err := e.Intent.Encode(m.clock.Now())
	if err != nil {
		// Not a channel failure; nothing to retry.
		m.logger.Error("dropping unencodable intent", "intent", e.Intent.String(), "err", err)
		return nil
	}
	m.inflight = append(m.inflight, e)
	m.out.push(msg)
	return nil
}

// Close tears the session down. Queued intents are discarded.
func (m *ConnectionManager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.stopTimer(&m.retry)
	m.stopTimer(&m.settle)
	m.gen++
	m.cancel()
	var err error
	if m.ch != nil {
		_, err = m.closeChannel()
	}
	m.setState(StateDisconnected)
	return err
}
