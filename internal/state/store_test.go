package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LiveCanvas/internal/clock"
)

func newTestStore(t *testing.T) (*Store, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock(time.Unix(1_700_000_000, 0))
	return NewStore(mock, 500*time.Millisecond, nil), mock
}

func TestLocalCreateIsProvisional(t *testing.T) {
	s, _ := newTestStore(t)

	sh := s.ApplyLocalCreate(KindRectangle, Patch{FieldX: 10.0}, "alice")
	require.NotEmpty(t, sh.ID)
	assert.True(t, s.IsProvisional(sh.ID))
	assert.Equal(t, "alice", sh.CreatedBy)
	assert.Equal(t, 10.0, sh.X)
}

func TestRemoteCreateEchoIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	sh := s.ApplyLocalCreate(KindRectangle, Patch{FieldX: 10.0}, "alice")

	var creates int
	s.Subscribe(func(c Change) {
		if c.Kind == ChangeCreated {
			creates++
		}
	})
	res := s.ApplyRemote(RemoteEvent{Op: RemoteCreate, Shape: sh})

	assert.True(t, res.Duplicate)
	assert.True(t, res.Confirmed)
	assert.False(t, s.IsProvisional(sh.ID))
	assert.Equal(t, 1, s.Len())
	assert.Zero(t, creates)

	again := s.ApplyRemote(RemoteEvent{Op: RemoteCreate, Shape: sh})
	assert.True(t, again.Duplicate)
	assert.False(t, again.Confirmed)
	assert.Equal(t, 1, s.Len())
}

func TestRemoteCreateRekeysProvisional(t *testing.T) {
	s, _ := newTestStore(t)
	local := s.ApplyLocalCreate(KindCircle, Patch{FieldRadius: 20.0}, "alice")

	server := local
	server.ID = "srv-1"
	res := s.ApplyRemote(RemoteEvent{Op: RemoteCreate, TempID: local.ID, Shape: server})

	assert.True(t, res.Confirmed)
	assert.Equal(t, local.ID, res.PreviousID)
	_, oldExists := s.Get(local.ID)
	assert.False(t, oldExists)
	got, ok := s.Get("srv-1")
	require.True(t, ok)
	assert.Equal(t, 20.0, got.Radius)
	assert.Equal(t, 1, s.Len())
}

func TestRemoteUpdateDuringDragKeepsPosition(t *testing.T) {
	s, _ := newTestStore(t)
	sh := s.ApplyLocalCreate(KindRectangle, Patch{FieldX: 100.0, FieldY: 100.0}, "alice")
	s.BeginGesture(sh.ID, GestureDrag)
	s.ApplyLocalUpdate(sh.ID, Patch{FieldX: 300.0, FieldY: 120.0})

	res := s.ApplyRemote(RemoteEvent{Op: RemoteUpdate, ID: sh.ID, Patch: Patch{
		FieldX: 150.0, FieldY: 100.0, FieldColor: "#ff0000", FieldLockedBy: "alice",
	}})

	got, _ := s.Get(sh.ID)
	assert.Equal(t, 300.0, got.X)
	assert.Equal(t, 120.0, got.Y)
	assert.Equal(t, "#ff0000", got.Color)
	assert.Equal(t, "alice", got.LockedBy)
	assert.ElementsMatch(t, []Field{FieldX, FieldY}, res.Dropped)
}

func TestResizeProtectsSizeButNotRotation(t *testing.T) {
	s, _ := newTestStore(t)
	sh := s.ApplyLocalCreate(KindRectangle, Patch{FieldWidth: 100.0}, "alice")
	s.BeginGesture(sh.ID, GestureResize)
	s.ApplyLocalUpdate(sh.ID, Patch{FieldWidth: 250.0})

	s.ApplyRemote(RemoteEvent{Op: RemoteUpdate, ID: sh.ID, Patch: Patch{FieldWidth: 100.0, FieldRotation: 45.0}})

	got, _ := s.Get(sh.ID)
	assert.Equal(t, 250.0, got.Width)
	assert.Equal(t, 45.0, got.Rotation)
}

func TestGraceWindowAfterGesture(t *testing.T) {
	s, mock := newTestStore(t)
	sh := s.ApplyLocalCreate(KindRectangle, Patch{FieldX: 100.0}, "alice")
	s.BeginGesture(sh.ID, GestureDrag)
	s.ApplyLocalUpdate(sh.ID, Patch{FieldX: 400.0})
	s.EndGesture(sh.ID)

	mock.Advance(200 * time.Millisecond)
	s.ApplyRemote(RemoteEvent{Op: RemoteUpdate, ID: sh.ID, Patch: Patch{FieldX: 250.0}})
	got, _ := s.Get(sh.ID)
	assert.Equal(t, 400.0, got.X, "stale echo inside the grace window must not snap back")

	mock.Advance(400 * time.Millisecond)
	s.ApplyRemote(RemoteEvent{Op: RemoteUpdate, ID: sh.ID, Patch: Patch{FieldX: 250.0}})
	got, _ = s.Get(sh.ID)
	assert.Equal(t, 250.0, got.X)
}

func TestRemoteUpdateUnknownShapeIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	res := s.ApplyRemote(RemoteEvent{Op: RemoteUpdate, ID: "missing", Patch: Patch{FieldX: 1.0}})
	assert.False(t, res.Applied)
}

func TestRemoteSyncKeepsProvisionalAndProtectedFields(t *testing.T) {
	s, _ := newTestStore(t)
	dragging := s.ApplyLocalCreate(KindRectangle, Patch{FieldX: 10.0}, "alice")
	s.ApplyRemote(RemoteEvent{Op: RemoteCreate, Shape: dragging})
	pending := s.ApplyLocalCreate(KindCircle, nil, "alice")
	s.BeginGesture(dragging.ID, GestureDrag)
	s.ApplyLocalUpdate(dragging.ID, Patch{FieldX: 500.0})

	serverCopy := dragging
	serverCopy.X = 10
	serverCopy.Color = "#000000"
	other := NewShape("bob-1", KindText, nil)
	s.ApplyRemote(RemoteEvent{Op: RemoteSync, Shapes: []Shape{serverCopy, other}})

	assert.Equal(t, 3, s.Len())
	got, _ := s.Get(dragging.ID)
	assert.Equal(t, 500.0, got.X)
	assert.Equal(t, "#000000", got.Color)
	_, ok := s.Get(pending.ID)
	assert.True(t, ok)
}

func TestShapesOrderedByZThenCreation(t *testing.T) {
	s, _ := newTestStore(t)
	a := s.ApplyLocalCreate(KindRectangle, Patch{FieldZIndex: 2}, "alice")
	b := s.ApplyLocalCreate(KindRectangle, Patch{FieldZIndex: 1}, "alice")
	c := s.ApplyLocalCreate(KindRectangle, Patch{FieldZIndex: 1}, "alice")

	var ids []string
	for _, sh := range s.Shapes() {
		ids = append(ids, sh.ID)
	}
	assert.Equal(t, []string{b.ID, c.ID, a.ID}, ids)
	assert.Equal(t, 2, s.MaxZIndex())
}

func TestLocalDelete(t *testing.T) {
	s, _ := newTestStore(t)
	sh := s.ApplyLocalCreate(KindRectangle, nil, "alice")

	removed, ok := s.ApplyLocalDelete(sh.ID)
	require.True(t, ok)
	assert.Equal(t, sh.ID, removed.ID)
	_, ok = s.ApplyLocalDelete(sh.ID)
	assert.False(t, ok)
}
