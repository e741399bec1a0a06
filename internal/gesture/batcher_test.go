package gesture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LiveCanvas/internal/clock"
	"LiveCanvas/internal/protocol"
	"LiveCanvas/internal/state"
)

type harness struct {
	store   *state.Store
	mock    *clock.Mock
	batcher *Batcher
	sent    []protocol.Intent
	updates map[string]int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		mock:    clock.NewMock(time.Unix(1_700_000_000, 0)),
		updates: make(map[string]int),
	}
	h.store = state.NewStore(h.mock, 500*time.Millisecond, nil)
	h.store.Subscribe(func(c state.Change) {
		if c.Kind == state.ChangeUpdated {
			h.updates[c.ID]++
		}
	})
	h.batcher = New(h.store, h.mock, func(i protocol.Intent) { h.sent = append(h.sent, i) }, DefaultConfig(), nil)
	return h
}

func (h *harness) add(t *testing.T, id string, kind state.Kind, attrs state.Patch) {
	t.Helper()
	sh := state.NewShape(id, kind, attrs)
	res := h.store.ApplyRemote(state.RemoteEvent{Op: state.RemoteCreate, Shape: sh})
	require.True(t, res.Applied)
}

func (h *harness) position(t *testing.T, id string) (float64, float64) {
	t.Helper()
	sh, ok := h.store.Get(id)
	require.True(t, ok)
	return sh.X, sh.Y
}

func TestFrameDecoupling(t *testing.T) {
	h := newHarness(t)
	h.add(t, "r1", state.KindRectangle, state.Patch{state.FieldX: 100.0, state.FieldY: 100.0})
	require.NoError(t, h.batcher.Begin(state.GestureDrag, "r1", nil))

	for i := 0; i < 1000; i++ {
		require.NoError(t, h.batcher.Drag(100+float64(i), 100))
	}
	assert.Zero(t, h.updates["r1"], "nothing is applied before the frame")
	assert.Equal(t, 1, h.mock.Pending(), "one frame scheduled")

	h.mock.Advance(16 * time.Millisecond)
	assert.Equal(t, 1, h.updates["r1"])
	x, _ := h.position(t, "r1")
	assert.Equal(t, 1099.0, x)
	assert.Len(t, h.sent, 1, "only the first sample passes the throttle")
}

func TestMultiDragKeepsOffsets(t *testing.T) {
	h := newHarness(t)
	h.add(t, "r1", state.KindRectangle, state.Patch{state.FieldX: 100.0, state.FieldY: 100.0})
	h.add(t, "r2", state.KindRectangle, state.Patch{state.FieldX: 300.0, state.FieldY: 150.0})
	h.add(t, "c1", state.KindCircle, state.Patch{state.FieldX: 50.0, state.FieldY: 400.0})

	require.NoError(t, h.batcher.Begin(state.GestureDrag, "r1", []string{"r1", "r2", "c1"}))
	var px, py float64
	for i := 0; i < 20; i++ {
		px, py = 200+float64(i)*10, 300+float64(i)*5
		require.NoError(t, h.batcher.Drag(px, py))
		h.mock.Advance(16 * time.Millisecond)

		x, y := h.position(t, "r2")
		assert.Equal(t, px+200, x)
		assert.Equal(t, py+50, y)
		x, y = h.position(t, "c1")
		assert.Equal(t, px-50, x)
		assert.Equal(t, py+300, y)
	}

	res, err := h.batcher.End()
	require.NoError(t, err)
	assert.Len(t, res.After, 3)
	assert.Equal(t, state.Patch{state.FieldX: 300.0, state.FieldY: 150.0}, res.Before["r2"])
	assert.Equal(t, state.Patch{state.FieldX: px + 200, state.FieldY: py + 50}, res.After["r2"])
}

func TestDragThrottleAndFinalSample(t *testing.T) {
	h := newHarness(t)
	h.add(t, "r1", state.KindRectangle, state.Patch{state.FieldX: 100.0, state.FieldY: 100.0})
	require.NoError(t, h.batcher.Begin(state.GestureDrag, "r1", nil))

	for ms := 0; ms < 500; ms += 8 {
		require.NoError(t, h.batcher.Drag(100+300*float64(ms)/500, 100))
		h.mock.Advance(8 * time.Millisecond)
	}
	require.NoError(t, h.batcher.Drag(400, 100))
	throttled := len(h.sent)
	assert.GreaterOrEqual(t, throttled, 12)
	assert.LessOrEqual(t, throttled, 16)

	res, err := h.batcher.End()
	require.NoError(t, err)
	require.Len(t, h.sent, throttled+1, "release sends exactly one final update")

	final := h.sent[len(h.sent)-1]
	assert.Equal(t, protocol.TypeShapeUpdate, final.Type)
	assert.Equal(t, state.Patch{state.FieldX: 400.0, state.FieldY: 100.0}, final.Patch)

	assert.Equal(t, state.Patch{state.FieldX: 100.0, state.FieldY: 100.0}, res.Before["r1"])
	assert.Equal(t, state.Patch{state.FieldX: 400.0, state.FieldY: 100.0}, res.After["r1"])
	assert.Equal(t, state.GestureNone, h.store.Gesture("r1"))
}

func TestDragClampsMembersIndependently(t *testing.T) {
	h := newHarness(t)
	h.add(t, "r1", state.KindRectangle, state.Patch{state.FieldX: 100.0, state.FieldY: 100.0})
	h.add(t, "r2", state.KindRectangle, state.Patch{state.FieldX: 300.0, state.FieldY: 100.0})
	require.NoError(t, h.batcher.Begin(state.GestureDrag, "r1", []string{"r2"}))

	require.NoError(t, h.batcher.Drag(-500, 100))
	h.batcher.Flush()
	x1, _ := h.position(t, "r1")
	x2, _ := h.position(t, "r2")
	assert.Equal(t, 0.0, x1)
	assert.Equal(t, 0.0, x2)

	require.NoError(t, h.batcher.Drag(500, 100))
	h.batcher.Flush()
	x2, _ = h.position(t, "r2")
	assert.Equal(t, 700.0, x2, "clamping never changes the group offsets")

	require.NoError(t, h.batcher.Drag(49_950, 49_990))
	h.batcher.Flush()
	x1, y1 := h.position(t, "r1")
	assert.Equal(t, 49_900.0, x1)
	assert.Equal(t, 49_900.0, y1)
}

func TestResizeClampsToCanvas(t *testing.T) {
	h := newHarness(t)
	h.add(t, "r1", state.KindRectangle, state.Patch{state.FieldX: 49_000.0, state.FieldY: 0.0})
	require.NoError(t, h.batcher.Begin(state.GestureResize, "r1", []string{"ignored"}))

	require.NoError(t, h.batcher.Resize(state.Patch{state.FieldWidth: 5000.0, state.FieldColor: "#000"}))
	res, err := h.batcher.End()
	require.NoError(t, err)

	sh, _ := h.store.Get("r1")
	assert.Equal(t, 5000.0, sh.Width)
	assert.Equal(t, 45_000.0, sh.X)
	assert.NotEqual(t, "#000", sh.Color, "resize only drives geometry")
	assert.Equal(t, []string{"r1"}, res.Members)
}

func TestRotateUsesItsOwnThrottle(t *testing.T) {
	h := newHarness(t)
	h.add(t, "r1", state.KindRectangle, nil)
	require.NoError(t, h.batcher.Begin(state.GestureRotate, "r1", nil))

	require.NoError(t, h.batcher.Rotate(10))
	h.mock.Advance(40 * time.Millisecond)
	require.NoError(t, h.batcher.Rotate(20))
	assert.Len(t, h.sent, 1, "40ms is inside the rotate interval")
	h.mock.Advance(20 * time.Millisecond)
	require.NoError(t, h.batcher.Rotate(30))
	assert.Len(t, h.sent, 2)
	assert.Equal(t, state.Patch{state.FieldRotation: 30.0}, h.sent[1].Patch)

	assert.ErrorIs(t, h.batcher.Drag(1, 1), ErrNoGesture)
}

func TestCancelFrameIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.add(t, "r1", state.KindRectangle, nil)
	require.NoError(t, h.batcher.Begin(state.GestureDrag, "r1", nil))
	require.NoError(t, h.batcher.Drag(50, 50))

	h.batcher.CancelFrame()
	h.batcher.CancelFrame()
	assert.Zero(t, h.mock.Pending())
	h.mock.Advance(time.Second)
	assert.Zero(t, h.updates["r1"])
}

func TestBeginGuards(t *testing.T) {
	h := newHarness(t)
	h.add(t, "r1", state.KindRectangle, nil)

	assert.ErrorIs(t, h.batcher.Begin(state.GestureDrag, "missing", nil), state.ErrUnknownShape)
	require.NoError(t, h.batcher.Begin(state.GestureDrag, "r1", nil))
	assert.Equal(t, state.GestureDrag, h.store.Gesture("r1"))
	assert.ErrorIs(t, h.batcher.Begin(state.GestureRotate, "r1", nil), ErrActive)

	res, err := h.batcher.End()
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Empty(t, h.sent, "a click without movement sends nothing")

	_, err = h.batcher.End()
	assert.ErrorIs(t, err, ErrNoGesture)
}

func TestAbortDropsGesture(t *testing.T) {
	h := newHarness(t)
	h.add(t, "r1", state.KindRectangle, nil)
	require.NoError(t, h.batcher.Begin(state.GestureDrag, "r1", nil))
	h.mock.Advance(time.Second)
	require.NoError(t, h.batcher.Drag(10, 10))
	sent := len(h.sent)

	h.batcher.Abort()
	kind, members := h.batcher.Active()
	assert.Equal(t, state.GestureNone, kind)
	assert.Empty(t, members)
	assert.Len(t, h.sent, sent)
}

func TestCursorThrottle(t *testing.T) {
	h := newHarness(t)

	assert.True(t, h.batcher.MoveCursor(state.Point{X: 1, Y: 1}))
	h.mock.Advance(10 * time.Millisecond)
	assert.False(t, h.batcher.MoveCursor(state.Point{X: 2, Y: 2}))
	h.mock.Advance(16 * time.Millisecond)
	assert.True(t, h.batcher.MoveCursor(state.Point{X: 3, Y: 3}))

	require.Len(t, h.sent, 2)
	assert.Equal(t, state.Point{X: 3, Y: 3}, h.sent[1].Point)
}
