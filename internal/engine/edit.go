package engine

import (
	"errors"
	"fmt"
	"math"

	"LiveCanvas/internal/gesture"
	"LiveCanvas/internal/history"
	"LiveCanvas/internal/protocol"
	"LiveCanvas/internal/state"
)

var geometry = []state.Field{state.FieldX, state.FieldY, state.FieldWidth, state.FieldHeight, state.FieldRadius}

// Lock and provenance fields are managed by the session, never by callers.
var systemFields = []state.Field{
	state.FieldLockedBy, state.FieldLockedAt,
	state.FieldCreatedBy, state.FieldUpdatedBy, state.FieldUpdatedAt,
}

func sanitize(p state.Patch) (state.Patch, error) {
	out, errs := state.Coerce(p)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid attributes: %w", errors.Join(errs...))
	}
	return out.Without(systemFields...), nil
}

func applicable(kind state.Kind, p state.Patch) state.Patch {
	out := make(state.Patch, len(p))
	for f, v := range p {
		if kind.Allowed(f) {
			out[f] = v
		}
	}
	return out
}

func hasGeometry(p state.Patch) bool {
	for _, f := range geometry {
		if _, ok := p[f]; ok {
			return true
		}
	}
	return false
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

// CreateShape adds a shape optimistically under a provisional id and asks
// the server to create it. New shapes go on top unless attrs sets zIndex.
func (s *Session) CreateShape(kind state.Kind, attrs state.Patch) (state.Shape, error) {
	if !kind.Valid() {
		return state.Shape{}, fmt.Errorf("unsupported shape kind %q", kind)
	}
	p, err := sanitize(attrs)
	if err != nil {
		return state.Shape{}, err
	}
	if _, ok := p[state.FieldZIndex]; !ok {
		p[state.FieldZIndex] = s.store.MaxZIndex() + 1
	}
	draft := state.NewShape("", kind, p)
	p.Merge(s.bounds.ClampGeometry(draft, draft.Snapshot(geometry...)))

	sh := s.store.ApplyLocalCreate(kind, p, s.actor)
	s.pendingCreates[sh.ID] = true
	s.send(protocol.Create(sh))
	return sh, nil
}

// UpdateShape applies a discrete edit and records it as one history entry.
func (s *Session) UpdateShape(id string, attrs state.Patch) error {
	return s.updateShapes("update", []string{id}, map[string]state.Patch{id: attrs})
}

// updateShapes applies one patch per shape and pushes a single entry for
// all of them. Shapes held by another actor are skipped and reported.
func (s *Session) updateShapes(label string, ids []string, patches map[string]state.Patch) error {
	var errs []error
	entry := history.Entry{Label: label}
	for _, id := range ids {
		p, err := sanitize(patches[id])
		if err != nil {
			errs = append(errs, fmt.Errorf("shape %s: %w", id, err))
			continue
		}
		if err := s.locks.CheckEditable(id); err != nil {
			errs = append(errs, s.conflict(err))
			continue
		}
		sh, _ := s.store.Get(id)
		p = applicable(sh.Kind, p)
		if hasGeometry(p) {
			p = s.bounds.ClampGeometry(sh, p)
		}
		before := sh.Snapshot(p.Fields()...)
		if len(p) == 0 || samePatch(before, p) {
			continue
		}
		s.store.ApplyLocalUpdate(id, p)
		s.send(protocol.Update(id, p))
		entry.Undo = append(entry.Undo, protocol.Update(id, before))
		entry.Redo = append(entry.Redo, protocol.Update(id, p))
	}
	s.history.Push(entry)
	return errors.Join(errs...)
}

// SetProperty applies a continuous edit, e.g. a colour slider. Bursts of
// changes to the same property collapse into one history entry.
func (s *Session) SetProperty(id string, field state.Field, value any) error {
	p, err := sanitize(state.Patch{field: value})
	if err != nil {
		return err
	}
	if _, ok := p[field]; !ok {
		return fmt.Errorf("%s cannot be set directly", field)
	}
	if err := s.locks.CheckEditable(id); err != nil {
		return s.conflict(err)
	}
	sh, _ := s.store.Get(id)
	if !sh.Kind.Allowed(field) {
		return fmt.Errorf("%s does not apply to %s shapes", field, sh.Kind)
	}
	if hasGeometry(p) {
		p = s.bounds.ClampGeometry(sh, p)
	}
	before := sh.Get(field)
	s.store.ApplyLocalUpdate(id, p)
	s.send(protocol.Update(id, p))

	after, _ := s.store.Get(id)
	s.history.RecordPropertyChange(id, field, before, after.Get(field))
	return nil
}

// DeleteShapes removes every editable shape in ids as one history entry.
func (s *Session) DeleteShapes(ids []string) error {
	var errs []error
	entry := history.Entry{Label: "delete"}
	for _, id := range ids {
		if err := s.locks.CheckEditable(id); err != nil {
			errs = append(errs, s.conflict(err))
			continue
		}
		sh, _ := s.store.ApplyLocalDelete(id)
		s.forget(id)
		s.send(protocol.Delete(id))

		clearLock(&sh)
		entry.Undo = append(entry.Undo, protocol.Create(sh))
		entry.Redo = append(entry.Redo, protocol.Delete(id))
	}
	s.history.Push(entry)
	return errors.Join(errs...)
}

// Select adds ids to the selection and locks them. Unless extend is set the
// previous selection is released first. Shapes held by someone else are
// left out and reported.
func (s *Session) Select(ids []string, extend bool) error {
	if !extend {
		keep := make(map[string]bool, len(ids))
		for _, id := range ids {
			keep[id] = true
		}
		for _, id := range s.selection.IDs() {
			if !keep[id] {
				s.release(id)
			}
		}
	}
	var errs []error
	for _, id := range ids {
		if err := s.acquire(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deselect releases ids.
func (s *Session) Deselect(ids ...string) {
	for _, id := range ids {
		s.release(id)
	}
}

// ClearSelection releases everything selected.
func (s *Session) ClearSelection() {
	s.Deselect(s.selection.IDs()...)
}

func (s *Session) acquire(id string) error {
	p, err := s.locks.Acquire(id)
	if err != nil {
		return s.conflict(err)
	}
	s.selection.Add(id)
	s.send(protocol.Update(id, p))
	return nil
}

func (s *Session) release(id string) {
	s.selection.Remove(id)
	if p, ok := s.locks.Release(id); ok {
		s.send(protocol.Update(id, p))
	}
}

// BeginDrag starts moving primary. When primary is selected the whole
// selection moves with it; otherwise it replaces the selection.
func (s *Session) BeginDrag(primary string) error {
	members := []string{primary}
	if s.selection.Contains(primary) {
		members = s.selection.IDs()
	}
	return s.beginGesture(state.GestureDrag, primary, members)
}

// BeginResize starts resizing id.
func (s *Session) BeginResize(id string) error {
	return s.beginGesture(state.GestureResize, id, []string{id})
}

// BeginRotate starts rotating id.
func (s *Session) BeginRotate(id string) error {
	return s.beginGesture(state.GestureRotate, id, []string{id})
}

func (s *Session) beginGesture(kind state.GestureKind, primary string, members []string) error {
	if active, _ := s.batcher.Active(); active != state.GestureNone {
		return gesture.ErrActive
	}
	if _, ok := s.store.Get(primary); !ok {
		return fmt.Errorf("%w: %s", state.ErrUnknownShape, primary)
	}
	for _, id := range members {
		if err := s.locks.CheckEditable(id); err != nil {
			return s.conflict(err)
		}
	}
	if !s.selection.Contains(primary) {
		s.ClearSelection()
	}
	for _, id := range members {
		if err := s.acquire(id); err != nil {
			return err
		}
	}
	return s.batcher.Begin(kind, primary, members)
}

// DragTo moves the drag primary to (x, y).
func (s *Session) DragTo(x, y float64) error { return s.batcher.Drag(x, y) }

// ResizeTo applies a geometry sample to the resize target.
func (s *Session) ResizeTo(p state.Patch) error {
	p, err := sanitize(p)
	if err != nil {
		return err
	}
	return s.batcher.Resize(p)
}

// RotateTo sets the rotation of the rotate target in degrees.
func (s *Session) RotateTo(deg float64) error { return s.batcher.Rotate(deg) }

// EndGesture sends the final values, releases the locks taken for the
// gesture and records it as one history entry.
func (s *Session) EndGesture() error {
	res, err := s.batcher.End()
	if err != nil {
		return err
	}
	for _, id := range res.Members {
		if p, ok := s.locks.Release(id); ok {
			s.send(protocol.Update(id, p))
		}
	}
	if !res.Changed() {
		return nil
	}
	entry := history.Entry{Label: res.Kind.String()}
	for _, id := range res.Members {
		after, ok := res.After[id]
		if !ok {
			continue
		}
		entry.Undo = append(entry.Undo, protocol.Update(id, res.Before[id]))
		entry.Redo = append(entry.Redo, protocol.Update(id, after))
	}
	s.history.Push(entry)
	return nil
}

// CancelGesture drops the gesture in flight without a final send and
// releases its locks. Shapes keep whatever was last applied locally.
func (s *Session) CancelGesture() {
	_, members := s.batcher.Active()
	s.batcher.Abort()
	for _, id := range members {
		if p, ok := s.locks.Release(id); ok {
			s.send(protocol.Update(id, p))
		}
	}
}

// MoveCursor broadcasts the local pointer, throttled. It reports whether a
// message went out.
func (s *Session) MoveCursor(at state.Point) bool {
	return s.batcher.MoveCursor(at)
}

// Undo reverts the newest history entry. It is refused, and the entry kept,
// when another actor holds a shape the entry would touch.
func (s *Session) Undo() (bool, error) {
	if active, _ := s.batcher.Active(); active != state.GestureNone {
		return false, gesture.ErrActive
	}
	e, ok := s.history.PeekUndo()
	if !ok {
		return false, nil
	}
	if err := s.checkReplay(e.Undo); err != nil {
		return false, err
	}
	return s.history.Undo()
}

// Redo replays the newest undone entry.
func (s *Session) Redo() (bool, error) {
	if active, _ := s.batcher.Active(); active != state.GestureNone {
		return false, gesture.ErrActive
	}
	e, ok := s.history.PeekRedo()
	if !ok {
		return false, nil
	}
	if err := s.checkReplay(e.Redo); err != nil {
		return false, err
	}
	return s.history.Redo()
}

func (s *Session) checkReplay(intents []protocol.Intent) error {
	for _, in := range intents {
		if in.Type != protocol.TypeShapeUpdate && in.Type != protocol.TypeShapeDelete {
			continue
		}
		var locked *state.LockedError
		if err := s.locks.CheckEditable(in.ShapeID); errors.As(err, &locked) {
			return s.conflict(err)
		}
	}
	return nil
}

// dispatch applies a history intent locally and sends it.
func (s *Session) dispatch(in protocol.Intent) error {
	switch in.Type {
	case protocol.TypeShapeUpdate:
		if err := s.locks.CheckEditable(in.ShapeID); err != nil {
			return err
		}
		s.store.ApplyLocalUpdate(in.ShapeID, in.Patch)
	case protocol.TypeShapeDelete:
		if err := s.locks.CheckEditable(in.ShapeID); err != nil {
			return err
		}
		s.store.ApplyLocalDelete(in.ShapeID)
		s.forget(in.ShapeID)
	case protocol.TypeShapeCreate:
		if in.Shape == nil {
			return errors.New("create intent without shape")
		}
		if _, exists := s.store.Get(in.ShapeID); exists {
			return nil
		}
		s.store.InsertLocal(*in.Shape)
	}
	s.send(in)
	return nil
}

// SwitchCanvas asks the server to move the session to canvasID. Local state
// is reset when the server confirms.
func (s *Session) SwitchCanvas(canvasID string) error {
	if canvasID == "" {
		return errors.New("canvas id is required")
	}
	if canvasID == s.conn.CanvasID() {
		return nil
	}
	s.send(protocol.SwitchCanvas(canvasID))
	return nil
}

// ArrangeMode moves shapes in the stacking order.
type ArrangeMode string

const (
	BringToFront ArrangeMode = "front"
	SendToBack   ArrangeMode = "back"
	BringForward ArrangeMode = "forward"
	SendBackward ArrangeMode = "backward"
)

// Arrange restacks ids as one history entry, keeping their relative order.
func (s *Session) Arrange(ids []string, mode ArrangeMode) error {
	all := s.store.Shapes()
	if len(all) == 0 {
		return nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var stack []state.Shape
	for _, sh := range all {
		if want[sh.ID] {
			stack = append(stack, sh)
		}
	}

	order := make([]string, 0, len(stack))
	patches := make(map[string]state.Patch, len(stack))
	for i, sh := range stack {
		var z int
		switch mode {
		case BringToFront:
			z = all[len(all)-1].ZIndex + 1 + i
		case SendToBack:
			z = all[0].ZIndex - len(stack) + i
		case BringForward:
			z = sh.ZIndex + 1
		case SendBackward:
			z = sh.ZIndex - 1
		default:
			return fmt.Errorf("unknown arrange mode %q", mode)
		}
		order = append(order, sh.ID)
		patches[sh.ID] = state.Patch{state.FieldZIndex: z}
	}
	return s.updateShapes("arrange "+string(mode), order, patches)
}

// AlignEdge names the line shapes are aligned to.
type AlignEdge string

const (
	AlignLeft    AlignEdge = "left"
	AlignRight   AlignEdge = "right"
	AlignTop     AlignEdge = "top"
	AlignBottom  AlignEdge = "bottom"
	AlignCenterX AlignEdge = "center-x"
	AlignCenterY AlignEdge = "center-y"
)

type box struct{ minX, minY, maxX, maxY float64 }

func boxOf(sh state.Shape) box {
	if sh.Kind == state.KindCircle {
		return box{sh.X - sh.Radius, sh.Y - sh.Radius, sh.X + sh.Radius, sh.Y + sh.Radius}
	}
	return box{sh.X, sh.Y, sh.X + sh.Width, sh.Y + sh.Height}
}

// Align lines ids up against the edge of their common bounding box.
func (s *Session) Align(ids []string, edge AlignEdge) error {
	var shapes []state.Shape
	group := box{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, id := range ids {
		sh, ok := s.store.Get(id)
		if !ok {
			continue
		}
		b := boxOf(sh)
		group.minX, group.minY = math.Min(group.minX, b.minX), math.Min(group.minY, b.minY)
		group.maxX, group.maxY = math.Max(group.maxX, b.maxX), math.Max(group.maxY, b.maxY)
		shapes = append(shapes, sh)
	}
	if len(shapes) < 2 {
		return nil
	}

	order := make([]string, 0, len(shapes))
	patches := make(map[string]state.Patch, len(shapes))
	for _, sh := range shapes {
		b := boxOf(sh)
		// Offset from the shape's own box to its (x, y) anchor.
		ox, oy := sh.X-b.minX, sh.Y-b.minY
		w, h := b.maxX-b.minX, b.maxY-b.minY
		p := state.Patch{}
		switch edge {
		case AlignLeft:
			p[state.FieldX] = group.minX + ox
		case AlignRight:
			p[state.FieldX] = group.maxX - w + ox
		case AlignTop:
			p[state.FieldY] = group.minY + oy
		case AlignBottom:
			p[state.FieldY] = group.maxY - h + oy
		case AlignCenterX:
			p[state.FieldX] = (group.minX+group.maxX)/2 - w/2 + ox
		case AlignCenterY:
			p[state.FieldY] = (group.minY+group.maxY)/2 - h/2 + oy
		default:
			return fmt.Errorf("unknown align edge %q", edge)
		}
		order = append(order, sh.ID)
		patches[sh.ID] = p
	}
	return s.updateShapes("align "+string(edge), order, patches)
}

// Duplicate copies ids, shifted by offset on both axes, on top of the stack.
func (s *Session) Duplicate(ids []string, offset float64) ([]state.Shape, error) {
	var out []state.Shape
	for _, id := range ids {
		sh, ok := s.store.Get(id)
		if !ok {
			return out, fmt.Errorf("%w: %s", state.ErrUnknownShape, id)
		}
		attrs := sh.Attrs().Without(state.FieldZIndex)
		attrs[state.FieldX] = sh.X + offset
		attrs[state.FieldY] = sh.Y + offset
		dup, err := s.CreateShape(sh.Kind, attrs)
		if err != nil {
			return out, err
		}
		out = append(out, dup)
	}
	return out, nil
}
