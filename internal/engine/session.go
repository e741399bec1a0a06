// Package engine ties the sync components of one canvas session together.
//
// Every component is owned by a single event loop. Methods on Session that
// are not documented otherwise must run on that loop; callers on other
// goroutines wrap them in Do or Post.
package engine

import (
	"context"
	"log/slog"
	"time"

	"LiveCanvas/internal/clock"
	"LiveCanvas/internal/gesture"
	"LiveCanvas/internal/history"
	"LiveCanvas/internal/loop"
	"LiveCanvas/internal/metrics"
	"LiveCanvas/internal/net"
	"LiveCanvas/internal/protocol"
	"LiveCanvas/internal/state"
)

// Notifier surfaces short-lived messages to the user, e.g. lock conflicts.
type Notifier interface {
	Notify(msg string)
}

// LogNotifier writes notifications to a logger. It is the headless default.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(msg string) {
	n.Logger.Info("notice", "message", msg)
}

// Options configures a Session.
type Options struct {
	Dialer   net.Dialer
	CanvasID string
	Token    string
	// Actor identifies the local user in lock and provenance fields.
	Actor string

	Gesture        gesture.Config
	Connection     net.Config
	GestureGrace   time.Duration
	LockTTL        time.Duration
	DebounceWindow time.Duration
	HistoryLimit   int

	// Clock defaults to the wall clock.
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	Notifier Notifier
	Logger   *slog.Logger
}

// Session is one client connected to one canvas.
type Session struct {
	loop     *loop.Loop
	clock    clock.Clock
	logger   *slog.Logger
	actor    string
	bounds   state.Bounds
	metrics  *metrics.Metrics
	notifier Notifier

	store     *state.Store
	locks     *state.Locks
	selection *state.Selection
	presence  *state.Presence
	batcher   *gesture.Batcher
	history   *history.Manager
	conn      *net.ConnectionManager

	canvas         protocol.Canvas
	pendingCreates map[string]bool
	canvasHooks    []func(protocol.Canvas)
	presenceHooks  []func([]state.User)
}

// New wires a session. Nothing touches the network until Run.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := opts.Clock
	if base == nil {
		base = clock.New()
	}
	lp := loop.New()
	c := lp.Clock(base)

	s := &Session{
		loop:           lp,
		clock:          c,
		logger:         logger.With("component", "session", "actor", opts.Actor),
		actor:          opts.Actor,
		bounds:         opts.Gesture.Bounds,
		metrics:        opts.Metrics,
		notifier:       opts.Notifier,
		canvas:         protocol.Canvas{ID: opts.CanvasID},
		pendingCreates: make(map[string]bool),
	}
	if s.bounds == (state.Bounds{}) {
		s.bounds = state.DefaultBounds
		opts.Gesture.Bounds = s.bounds
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{Logger: s.logger}
	}

	s.store = state.NewStore(c, opts.GestureGrace, logger)
	s.locks = state.NewLocks(s.store, c, opts.Actor, opts.LockTTL)
	s.selection = state.NewSelection()
	s.presence = state.NewPresence(opts.Actor)
	s.conn = net.NewConnectionManager(opts.Dialer, c, lp, opts.Connection, opts.CanvasID, opts.Token, logger)
	s.batcher = gesture.New(s.store, c, s.send, opts.Gesture, logger)
	s.history = history.New(c, s.dispatch, opts.DebounceWindow, opts.HistoryLimit, logger)

	s.conn.OnMessage(s.handleMessage)
	if s.metrics != nil {
		s.conn.SetObserver(s.metrics)
		s.batcher.SetObserver(s.metrics)
		s.history.OnChange(s.metrics.HistoryChanged)
	}
	return s
}

// Run connects and processes events until ctx is cancelled. It may be
// called from any goroutine, once.
func (s *Session) Run(ctx context.Context) error {
	s.loop.Post(s.conn.Start)
	s.loop.Run(ctx)
	// The loop has exited, so this goroutine now owns every component.
	s.batcher.CancelFrame()
	return s.conn.Close()
}

// Do runs fn on the session loop and waits for it. Safe from any goroutine.
func (s *Session) Do(ctx context.Context, fn func()) error {
	return s.loop.Do(ctx, fn)
}

// Post schedules fn on the session loop. Safe from any goroutine.
func (s *Session) Post(fn func()) { s.loop.Post(fn) }

// Done is closed once Run has stopped the loop.
func (s *Session) Done() <-chan struct{} { return s.loop.Done() }

// Actor returns the local actor id.
func (s *Session) Actor() string { return s.actor }

// Bounds returns the drawing surface size.
func (s *Session) Bounds() state.Bounds { return s.bounds }

// Canvas returns the current canvas metadata.
func (s *Session) Canvas() protocol.Canvas { return s.canvas }

// SetCanvas seeds canvas metadata, e.g. from the HTTP record fetched at start.
func (s *Session) SetCanvas(c protocol.Canvas) {
	if c.ID == "" {
		c.ID = s.canvas.ID
	}
	s.canvas = c
	for _, fn := range s.canvasHooks {
		fn(c)
	}
}

// OnCanvas registers fn for canvas metadata changes.
func (s *Session) OnCanvas(fn func(protocol.Canvas)) {
	s.canvasHooks = append(s.canvasHooks, fn)
}

// OnPresence registers fn for changes to the remote user list.
func (s *Session) OnPresence(fn func([]state.User)) {
	s.presenceHooks = append(s.presenceHooks, fn)
}

func (s *Session) presenceChanged() {
	if len(s.presenceHooks) == 0 {
		return
	}
	users := s.presence.Users()
	for _, fn := range s.presenceHooks {
		fn(users)
	}
}

// Subscribe registers fn for every store change.
func (s *Session) Subscribe(fn func(state.Change)) { s.store.Subscribe(fn) }

// OnConnection registers fn for connection state transitions.
func (s *Session) OnConnection(fn func(net.State)) { s.conn.OnState(fn) }

// Shapes returns the store contents in stacking order.
func (s *Session) Shapes() []state.Shape { return s.store.Shapes() }

// Shape returns one record.
func (s *Session) Shape(id string) (state.Shape, bool) { return s.store.Get(id) }

// Selected returns the selection in order.
func (s *Session) Selected() []string { return s.selection.IDs() }

// Users returns the remote users present on the canvas.
func (s *Session) Users() []state.User { return s.presence.Users() }

// LockStatus returns the effective lock on id.
func (s *Session) LockStatus(id string) state.LockStatus { return s.locks.Status(id) }

// ConnectionState returns the connection state.
func (s *Session) ConnectionState() net.State { return s.conn.State() }

// Queued returns the number of intents waiting for the channel.
func (s *Session) Queued() int { return s.conn.Queued() }

// HistoryDepth returns the undo and redo stack sizes.
func (s *Session) HistoryDepth() (undo, redo int) { return s.history.Depth() }

// Reconnect drops any pending retry and dials now.
func (s *Session) Reconnect() { s.conn.Reconnect() }

func (s *Session) send(in protocol.Intent) {
	s.conn.Send(in)
}

func (s *Session) notify(msg string) {
	s.notifier.Notify(msg)
}
