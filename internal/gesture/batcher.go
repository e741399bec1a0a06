// Package gesture absorbs high-frequency pointer samples for drag, resize and
// rotate. Samples are applied to the store at most once per frame and sent to
// the server at a throttled rate, with the final sample always sent on release.
package gesture

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"LiveCanvas/internal/clock"
	"LiveCanvas/internal/protocol"
	"LiveCanvas/internal/state"
)

var (
	// ErrActive is returned by Begin while another gesture is in flight.
	ErrActive = errors.New("gesture: another gesture is in flight")
	// ErrNoGesture is returned by sample and End calls outside a gesture.
	ErrNoGesture = errors.New("gesture: no gesture in flight")
)

// Config holds the batcher cadences.
type Config struct {
	FrameInterval  time.Duration
	DragThrottle   time.Duration
	ResizeThrottle time.Duration
	RotateThrottle time.Duration
	CursorThrottle time.Duration
	Bounds         state.Bounds
}

// DefaultConfig is a 60 Hz frame, ~30 Hz drag sends and 20 Hz resize/rotate.
func DefaultConfig() Config {
	return Config{
		FrameInterval:  16 * time.Millisecond,
		DragThrottle:   33 * time.Millisecond,
		ResizeThrottle: 50 * time.Millisecond,
		RotateThrottle: 50 * time.Millisecond,
		CursorThrottle: 25 * time.Millisecond,
		Bounds:         state.DefaultBounds,
	}
}

func (c Config) throttle(kind state.GestureKind) time.Duration {
	switch kind {
	case state.GestureResize:
		return c.ResizeThrottle
	case state.GestureRotate:
		return c.RotateThrottle
	}
	return c.DragThrottle
}

// Observer receives batcher activity, typically for metrics.
type Observer interface {
	FrameFlushed(shapes int)
	SampleSent(kind state.GestureKind)
	SampleThrottled(kind state.GestureKind)
}

type nopObserver struct{}

func (nopObserver) FrameFlushed(int)                  {}
func (nopObserver) SampleSent(state.GestureKind)      {}
func (nopObserver) SampleThrottled(state.GestureKind) {}

// Result describes a finished gesture: the driven fields of every member
// before the gesture and after its final sample. Members whose values did not
// change are omitted.
type Result struct {
	Kind    state.GestureKind
	Members []string
	Before  map[string]state.Patch
	After   map[string]state.Patch
}

// Changed reports whether any member moved.
func (r Result) Changed() bool { return len(r.After) > 0 }

type inFlight struct {
	kind    state.GestureKind
	primary string
	members []string
	offsets map[string]state.Point
	before  map[string]state.Patch
	last    map[string]state.Patch
	unsent  map[string]state.Patch
	limiter *rate.Limiter
}

// Batcher owns the per-session gesture trackers. It is not safe for
// concurrent use; the session loop owns it.
type Batcher struct {
	store    *state.Store
	clock    clock.Clock
	send     func(protocol.Intent)
	cfg      Config
	logger   *slog.Logger
	observer Observer

	pending map[string]state.Patch
	frame   clock.Timer
	active  *inFlight
	cursor  *rate.Limiter
}

// New creates a Batcher applying samples to store and emitting intents
// through send.
func New(store *state.Store, c clock.Clock, send func(protocol.Intent), cfg Config, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		store:    store,
		clock:    c,
		send:     send,
		cfg:      cfg,
		logger:   logger.With("component", "gesture"),
		observer: nopObserver{},
		pending:  make(map[string]state.Patch),
		cursor:   rate.NewLimiter(rate.Every(cfg.CursorThrottle), 1),
	}
}

// SetObserver installs o; nil restores the no-op observer.
func (b *Batcher) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	b.observer = o
}

// Active returns the gesture in flight and its members.
func (b *Batcher) Active() (state.GestureKind, []string) {
	if b.active == nil {
		return state.GestureNone, nil
	}
	return b.active.kind, append([]string(nil), b.active.members...)
}

// Begin starts a gesture driven by primary. For a drag, members lists every
// shape moving with it and each keeps its offset to the primary for the whole
// gesture. Resize and rotate only ever drive the primary.
func (b *Batcher) Begin(kind state.GestureKind, primary string, members []string) error {
	if b.active != nil {
		return ErrActive
	}
	anchor, ok := b.store.Get(primary)
	if !ok {
		return state.ErrUnknownShape
	}
	if kind != state.GestureDrag {
		members = nil
	}
	g := &inFlight{
		kind:    kind,
		primary: primary,
		members: []string{primary},
		offsets: map[string]state.Point{primary: {}},
		before:  make(map[string]state.Patch),
		last:    make(map[string]state.Patch),
		unsent:  make(map[string]state.Patch),
		limiter: rate.NewLimiter(rate.Every(b.cfg.throttle(kind)), 1),
	}
	for _, id := range members {
		if _, dup := g.offsets[id]; dup {
			continue
		}
		sh, ok := b.store.Get(id)
		if !ok {
			continue
		}
		g.members = append(g.members, id)
		g.offsets[id] = state.Point{X: sh.X - anchor.X, Y: sh.Y - anchor.Y}
	}
	for _, id := range g.members {
		sh, _ := b.store.Get(id)
		g.before[id] = sh.Snapshot(kind.Fields()...)
		b.store.BeginGesture(id, kind)
	}
	b.active = g
	b.logger.Debug("gesture started", "kind", kind, "primary", primary, "members", len(g.members))
	return nil
}

// Drag moves the primary to (x, y) and every other member to its fixed
// offset from there. Each member is clamped to the canvas on its own.
func (b *Batcher) Drag(x, y float64) error {
	g := b.active
	if g == nil || g.kind != state.GestureDrag {
		return ErrNoGesture
	}
	updates := make(map[string]state.Patch, len(g.members))
	for _, id := range g.members {
		sh, ok := b.store.Get(id)
		if !ok {
			continue
		}
		off := g.offsets[id]
		cx, cy := b.cfg.Bounds.ClampPosition(sh, x+off.X, y+off.Y)
		updates[id] = state.Patch{state.FieldX: cx, state.FieldY: cy}
	}
	b.sample(updates)
	return nil
}

// Resize applies a geometry sample (any of x, y, width, height, radius) to
// the primary.
func (b *Batcher) Resize(p state.Patch) error {
	g := b.active
	if g == nil || g.kind != state.GestureResize {
		return ErrNoGesture
	}
	sh, ok := b.store.Get(g.primary)
	if !ok {
		return nil
	}
	allowed := make(state.Patch, len(p))
	for _, f := range state.GestureResize.Fields() {
		if v, ok := p[f]; ok && sh.Kind.Allowed(f) {
			allowed[f] = v
		}
	}
	b.sample(map[string]state.Patch{g.primary: b.cfg.Bounds.ClampGeometry(sh, allowed)})
	return nil
}

// Rotate sets the primary's rotation in degrees.
func (b *Batcher) Rotate(deg float64) error {
	g := b.active
	if g == nil || g.kind != state.GestureRotate {
		return ErrNoGesture
	}
	b.sample(map[string]state.Patch{g.primary: {state.FieldRotation: deg}})
	return nil
}

func (b *Batcher) sample(updates map[string]state.Patch) {
	g := b.active
	for id, p := range updates {
		b.pending[id] = mergeInto(b.pending[id], p)
		g.last[id] = mergeInto(g.last[id], p)
		g.unsent[id] = mergeInto(g.unsent[id], p)
	}
	b.scheduleFrame()

	if !g.limiter.AllowN(b.clock.Now(), 1) {
		b.observer.SampleThrottled(g.kind)
		return
	}
	b.sendUnsent(g)
}

func (b *Batcher) sendUnsent(g *inFlight) {
	for _, id := range g.members {
		p, ok := g.unsent[id]
		if !ok {
			continue
		}
		b.send(protocol.Update(id, p))
		delete(g.unsent, id)
	}
	b.observer.SampleSent(g.kind)
}

func mergeInto(dst, src state.Patch) state.Patch {
	if dst == nil {
		dst = make(state.Patch, len(src))
	}
	return dst.Merge(src)
}

func (b *Batcher) scheduleFrame() {
	if b.frame != nil {
		return
	}
	b.frame = b.clock.AfterFunc(b.cfg.FrameInterval, b.onFrame)
}

func (b *Batcher) onFrame() {
	b.frame = nil
	b.Flush()
}

// Flush drains the pending map into the store now.
func (b *Batcher) Flush() {
	if len(b.pending) == 0 {
		return
	}
	n := 0
	for id, p := range b.pending {
		if b.store.ApplyLocalUpdate(id, p) {
			n++
		}
	}
	b.pending = make(map[string]state.Patch)
	b.observer.FrameFlushed(n)
}

// CancelFrame drops any scheduled frame and its pending samples. Calling it
// with nothing scheduled is a no-op.
func (b *Batcher) CancelFrame() {
	if b.frame != nil {
		b.frame.Stop()
		b.frame = nil
	}
	b.pending = make(map[string]state.Patch)
}

// End finishes the gesture: pending samples are applied at once and the
// final value of every member is sent regardless of the throttle.
func (b *Batcher) End() (Result, error) {
	g := b.active
	if g == nil {
		return Result{}, ErrNoGesture
	}
	if b.frame != nil {
		b.frame.Stop()
		b.frame = nil
	}
	b.Flush()

	res := Result{
		Kind:    g.kind,
		Members: g.members,
		Before:  make(map[string]state.Patch),
		After:   make(map[string]state.Patch),
	}
	for _, id := range g.members {
		b.store.EndGesture(id)
		sh, ok := b.store.Get(id)
		if !ok {
			continue
		}
		if final, ok := g.last[id]; ok {
			b.send(protocol.Update(id, final))
		}
		after := sh.Snapshot(g.kind.Fields()...)
		if !samePatch(g.before[id], after) {
			res.Before[id] = g.before[id]
			res.After[id] = after
		}
	}
	if len(g.last) > 0 {
		b.observer.SampleSent(g.kind)
	}
	b.active = nil
	b.logger.Debug("gesture ended", "kind", g.kind, "primary", g.primary, "changed", len(res.After))
	return res, nil
}

// Abort drops the gesture without sending anything further.
func (b *Batcher) Abort() {
	b.CancelFrame()
	if b.active == nil {
		return
	}
	for _, id := range b.active.members {
		b.store.EndGesture(id)
	}
	b.active = nil
}

// Rename follows a shape re-keyed from a provisional id.
func (b *Batcher) Rename(from, to string) {
	if p, ok := b.pending[from]; ok {
		delete(b.pending, from)
		b.pending[to] = p
	}
	g := b.active
	if g == nil {
		return
	}
	for i, id := range g.members {
		if id == from {
			g.members[i] = to
		}
	}
	if g.primary == from {
		g.primary = to
	}
	for _, m := range []map[string]state.Patch{g.before, g.last, g.unsent} {
		if p, ok := m[from]; ok {
			delete(m, from)
			m[to] = p
		}
	}
	if off, ok := g.offsets[from]; ok {
		delete(g.offsets, from)
		g.offsets[to] = off
	}
}

// MoveCursor broadcasts the local pointer position, throttled.
func (b *Batcher) MoveCursor(at state.Point) bool {
	if !b.cursor.AllowN(b.clock.Now(), 1) {
		return false
	}
	b.send(protocol.Cursor(at))
	return true
}

func samePatch(a, b state.Patch) bool {
	if len(a) != len(b) {
		return false
	}
	for f, v := range a {
		if w, ok := b[f]; !ok || w != v {
			return false
		}
	}
	return true
}
