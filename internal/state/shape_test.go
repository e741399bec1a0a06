package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircleIgnoresWidthAndHeight(t *testing.T) {
	sh := NewShape("c1", KindCircle, Patch{FieldRadius: 30.0, FieldWidth: 500.0, FieldHeight: 500.0})

	assert.Equal(t, 30.0, sh.Radius)
	assert.Zero(t, sh.Width)
	assert.Zero(t, sh.Height)
	assert.Nil(t, sh.Get(FieldWidth))
}

func TestTextFieldsOnlyOnText(t *testing.T) {
	rect := NewShape("r1", KindRectangle, Patch{FieldTextContent: "hello"})
	text := NewShape("t1", KindText, Patch{FieldTextContent: "hello", FieldFontSize: 24})

	assert.Empty(t, rect.TextContent)
	assert.Equal(t, "hello", text.TextContent)
	assert.Equal(t, 24.0, text.FontSize)
}

func TestApplyReportsChangedFields(t *testing.T) {
	sh := NewShape("r1", KindRectangle, Patch{FieldX: 10.0, FieldY: 20.0})

	changed := sh.Apply(Patch{FieldX: 10.0, FieldY: 25.0, FieldColor: "#ff0000"})
	assert.ElementsMatch(t, []Field{FieldY, FieldColor}, changed)
}

func TestApplyNilClearsLock(t *testing.T) {
	now := time.Unix(1000, 0)
	sh := NewShape("r1", KindRectangle, Patch{FieldLockedBy: "alice", FieldLockedAt: now})
	require.Equal(t, "alice", sh.LockedBy)

	sh.Apply(Patch{FieldLockedBy: nil, FieldLockedAt: nil})
	assert.Empty(t, sh.LockedBy)
	assert.True(t, sh.LockedAt.IsZero())
	assert.Nil(t, sh.Get(FieldLockedBy))
}

func TestSnapshotRoundTrip(t *testing.T) {
	sh := NewShape("r1", KindRectangle, Patch{FieldX: 100.0, FieldY: 100.0})
	before := sh.Snapshot(FieldX, FieldY)

	sh.Apply(Patch{FieldX: 400.0})
	sh.Apply(before)
	assert.Equal(t, 100.0, sh.X)
	assert.Equal(t, 100.0, sh.Y)
}

func TestCoerce(t *testing.T) {
	in := Patch{
		FieldX:         json.Number("12.5"),
		FieldZIndex:    3.0,
		FieldLockedAt:  "2024-05-01T10:00:00Z",
		FieldUpdatedAt: float64(1714557600000),
		FieldColor:     12,
		"bogus":        true,
	}
	out, errs := Coerce(in)

	assert.Equal(t, 12.5, out[FieldX])
	assert.Equal(t, 3, out[FieldZIndex])
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), out[FieldLockedAt])
	assert.Equal(t, time.UnixMilli(1714557600000), out[FieldUpdatedAt])
	assert.NotContains(t, out, FieldColor)
	assert.Len(t, errs, 2)
}

func TestClampPosition(t *testing.T) {
	b := Bounds{Width: 1000, Height: 800}
	rect := NewShape("r", KindRectangle, Patch{FieldWidth: 100.0, FieldHeight: 50.0})
	circle := NewShape("c", KindCircle, Patch{FieldRadius: 40.0})

	x, y := b.ClampPosition(rect, -20, 790)
	assert.Equal(t, 0.0, x)
	assert.Equal(t, 750.0, y)

	x, y = b.ClampPosition(circle, 10, 900)
	assert.Equal(t, 40.0, x)
	assert.Equal(t, 760.0, y)
}

func TestClampGeometryResizeKeepsInside(t *testing.T) {
	b := Bounds{Width: 1000, Height: 1000}
	rect := NewShape("r", KindRectangle, Patch{FieldX: 900.0, FieldY: 0.0})

	out := b.ClampGeometry(rect, Patch{FieldWidth: 300.0})
	assert.Equal(t, 300.0, out[FieldWidth])
	assert.Equal(t, 700.0, out[FieldX])
}
