package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LiveCanvas/internal/clock"
	"LiveCanvas/internal/protocol"
	"LiveCanvas/internal/state"
)

type fixture struct {
	mock    *clock.Mock
	store   *state.Store
	history *Manager
	sent    []protocol.Intent
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()
	f := &fixture{mock: clock.NewMock(time.Unix(1_700_000_000, 0))}
	f.store = state.NewStore(f.mock, 0, nil)
	f.history = New(f.mock, func(in protocol.Intent) error {
		f.sent = append(f.sent, in)
		if !f.store.ApplyLocalUpdate(in.ShapeID, in.Patch) {
			return state.ErrUnknownShape
		}
		return nil
	}, 0, limit, nil)
	f.store.ApplyRemote(state.RemoteEvent{Op: state.RemoteCreate, Shape: state.NewShape("r1", state.KindRectangle, nil)})
	return f
}

func (f *fixture) shape(t *testing.T) state.Shape {
	t.Helper()
	sh, ok := f.store.Get("r1")
	require.True(t, ok)
	return sh
}

func move(id string, from, to float64) Entry {
	return Entry{
		Label: "move",
		Undo:  []protocol.Intent{protocol.Update(id, state.Patch{state.FieldX: from})},
		Redo:  []protocol.Intent{protocol.Update(id, state.Patch{state.FieldX: to})},
	}
}

func TestUndoRedoRoundTrip(t *testing.T) {
	f := newFixture(t, 0)
	const n = 5
	for i := 0; i < n; i++ {
		e := move("r1", float64(i), float64(i+1))
		f.store.ApplyLocalUpdate("r1", e.Redo[0].Patch)
		f.history.Push(e)
	}
	require.Equal(t, float64(n), f.shape(t).X)

	for i := 0; i < n; i++ {
		ok, err := f.history.Undo()
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, 0.0, f.shape(t).X)
	ok, _ := f.history.Undo()
	assert.False(t, ok, "nothing left to undo")

	for i := 0; i < n; i++ {
		ok, err := f.history.Redo()
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, float64(n), f.shape(t).X)
	undo, redo := f.history.Depth()
	assert.Equal(t, n, undo)
	assert.Zero(t, redo)
}

func TestPushClearsRedo(t *testing.T) {
	f := newFixture(t, 0)
	f.history.Push(move("r1", 0, 1))
	f.history.Push(move("r1", 1, 2))
	_, err := f.history.Undo()
	require.NoError(t, err)

	f.history.Push(move("r1", 1, 5))
	_, redo := f.history.Depth()
	assert.Zero(t, redo)
	ok, _ := f.history.Redo()
	assert.False(t, ok)
}

func TestDepthLimitDropsOldest(t *testing.T) {
	f := newFixture(t, 3)
	var depths []int
	f.history.OnChange(func(undo, _ int) { depths = append(depths, undo) })
	for i := 0; i < 5; i++ {
		f.history.Push(move("r1", float64(i), float64(i+1)))
	}
	undo, _ := f.history.Depth()
	assert.Equal(t, 3, undo)
	assert.Equal(t, []int{1, 2, 3, 3, 3}, depths)

	e, ok := f.history.PeekUndo()
	require.True(t, ok)
	assert.Equal(t, state.Patch{state.FieldX: 4.0}, e.Undo[0].Patch)
}

func TestDebounceCoalescesBurst(t *testing.T) {
	f := newFixture(t, 0)
	original := f.shape(t).Color

	prev := original
	for i := 0; i < 50; i++ {
		next := fmt.Sprintf("#0000%02d", i)
		f.store.ApplyLocalUpdate("r1", state.Patch{state.FieldColor: next})
		f.history.RecordPropertyChange("r1", state.FieldColor, prev, next)
		prev = next
		f.mock.Advance(50 * time.Millisecond)
	}
	undo, _ := f.history.Depth()
	assert.Zero(t, undo, "window still open")
	assert.Equal(t, 1, f.history.Pending())

	f.mock.Advance(DefaultWindow)
	undo, _ = f.history.Depth()
	require.Equal(t, 1, undo)

	e, _ := f.history.PeekUndo()
	assert.Equal(t, state.Patch{state.FieldColor: original}, e.Undo[0].Patch)
	assert.Equal(t, state.Patch{state.FieldColor: "#000049"}, e.Redo[0].Patch)

	_, err := f.history.Undo()
	require.NoError(t, err)
	assert.Equal(t, original, f.shape(t).Color)
}

func TestDebounceKeysAreIndependent(t *testing.T) {
	f := newFixture(t, 0)
	f.history.RecordPropertyChange("r1", state.FieldColor, "#a", "#b")
	f.history.RecordPropertyChange("r1", state.FieldOpacity, 1.0, 0.5)
	f.history.RecordPropertyChange("r2", state.FieldColor, "#a", "#c")
	assert.Equal(t, 3, f.history.Pending())

	f.mock.Advance(DefaultWindow)
	undo, _ := f.history.Depth()
	assert.Equal(t, 3, undo)
}

func TestDebounceBackToStartRecordsNothing(t *testing.T) {
	f := newFixture(t, 0)
	f.history.RecordPropertyChange("r1", state.FieldOpacity, 1.0, 0.4)
	f.history.RecordPropertyChange("r1", state.FieldOpacity, 0.4, 1.0)
	f.mock.Advance(time.Second)
	undo, _ := f.history.Depth()
	assert.Zero(t, undo)
}

func TestUndoFlushesPendingChange(t *testing.T) {
	f := newFixture(t, 0)
	f.store.ApplyLocalUpdate("r1", state.Patch{state.FieldOpacity: 0.3})
	f.history.RecordPropertyChange("r1", state.FieldOpacity, 1.0, 0.3)

	ok, err := f.history.Undo()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1.0, f.shape(t).Opacity)
	assert.Zero(t, f.history.Pending())
	assert.Zero(t, f.mock.Pending(), "debounce timer stopped")
}

func TestUndoReportsDispatchErrors(t *testing.T) {
	f := newFixture(t, 0)
	f.history.Push(move("gone", 0, 1))
	ok, err := f.history.Undo()
	assert.True(t, ok)
	assert.ErrorIs(t, err, state.ErrUnknownShape)
}

func TestRenameFollowsProvisionalIDs(t *testing.T) {
	f := newFixture(t, 0)
	sh := state.NewShape("tmp", state.KindRectangle, nil)
	f.history.Push(Entry{
		Undo: []protocol.Intent{protocol.Delete("tmp")},
		Redo: []protocol.Intent{protocol.Create(sh)},
	})
	f.history.RecordPropertyChange("tmp", state.FieldColor, "#a", "#b")

	f.history.Rename("tmp", "srv")
	f.mock.Advance(DefaultWindow)
	undo, _ := f.history.Depth()
	require.Equal(t, 2, undo)

	e, _ := f.history.PeekUndo()
	assert.Equal(t, []string{"srv"}, e.Shapes(), "pending change re-keyed")
	_, _ = f.history.Undo()

	e, _ = f.history.PeekUndo()
	assert.Equal(t, []string{"srv"}, e.Shapes())
	assert.Equal(t, "srv", e.Redo[0].Shape.ID)
	assert.Equal(t, "tmp", sh.ID, "caller's shape untouched")
}

func TestReset(t *testing.T) {
	f := newFixture(t, 0)
	f.history.Push(move("r1", 0, 1))
	f.history.RecordPropertyChange("r1", state.FieldColor, "#a", "#b")
	f.history.Reset()

	undo, redo := f.history.Depth()
	assert.Zero(t, undo+redo)
	assert.Zero(t, f.history.Pending())
	f.mock.Advance(time.Second)
	undo, _ = f.history.Depth()
	assert.Zero(t, undo)
}
