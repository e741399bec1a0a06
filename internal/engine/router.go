package engine

import (
	"errors"
	"fmt"
	"time"

	"LiveCanvas/internal/history"
	"LiveCanvas/internal/protocol"
	"LiveCanvas/internal/state"
)

// handleMessage is the ingress of the router: every raw message from the
// channel is decoded once and dispatched in arrival order.
func (s *Session) handleMessage(raw []byte) {
	ev, err := protocol.Decode(raw)
	if err != nil {
		s.logger.Warn("dropping malformed message", "err", err)
		s.dropped("malformed")
		return
	}
	if s.metrics != nil {
		s.metrics.MessageReceived(ev.Type())
	}
	s.route(ev)
}

func (s *Session) dropped(reason string) {
	if s.metrics != nil {
		s.metrics.MessageDropped(reason)
	}
}

// rejected accounts for shape records a snapshot had to leave out.
func (s *Session) rejected(errs []error) {
	for _, err := range errs {
		s.logger.Warn("skipping bad shape in snapshot", "err", err)
		s.dropped("bad_shape")
	}
}

func (s *Session) route(ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.SyncEvent:
		s.rejected(ev.Rejected)
		s.onSnapshot(ev.Canvas, ev.Shapes, ev.Users)
	case protocol.CanvasSwitchedEvent:
		s.rejected(ev.Rejected)
		s.onCanvasSwitched(ev)
	case protocol.CanvasUpdateEvent:
		s.onCanvasUpdate(ev.Canvas)
	case protocol.ShapeCreateEvent:
		s.onShapeCreate(ev)
	case protocol.ShapeUpdateEvent:
		s.onShapeUpdate(ev)
	case protocol.ShapeDeleteEvent:
		s.onShapeDelete(ev)
	case protocol.CursorEvent:
		s.presence.MoveCursor(ev.UserID, ev.Point, s.clock.Now())
		s.presenceChanged()
	case protocol.UserJoinEvent:
		s.presence.Join(ev.User)
		s.presenceChanged()
	case protocol.UserLeaveEvent:
		if s.presence.Leave(ev.UserID) {
			s.presenceChanged()
		}
	case protocol.ActiveUsersEvent:
		s.presence.SetActive(ev.Users)
		s.presenceChanged()
	case protocol.ErrorEvent:
		s.logger.Warn("server error", "code", ev.Code, "message", ev.Message)
	default:
		s.logger.Warn("unhandled event", "type", ev.Type())
		s.dropped("unhandled")
	}
}

func (s *Session) onSnapshot(canvas protocol.Canvas, shapes []state.Shape, users []state.User) {
	s.store.ApplyRemote(state.RemoteEvent{Op: state.RemoteSync, Shapes: shapes})
	s.presence.SetActive(users)
	s.presenceChanged()
	if canvas.ID != "" || canvas.BackgroundColor != "" || canvas.Name != "" {
		s.onCanvasUpdate(canvas)
	}

	// The snapshot may have removed shapes or handed them to someone else.
	for _, id := range s.selection.IDs() {
		if _, ok := s.store.Get(id); !ok {
			s.selection.Remove(id)
			continue
		}
		s.dropIfTaken(id)
	}
	s.logger.Info("canvas synced", "canvas", s.canvas.ID, "shapes", len(shapes), "users", len(users))
}

func (s *Session) onCanvasSwitched(ev protocol.CanvasSwitchedEvent) {
	s.batcher.Abort()
	s.selection.Clear()
	s.history.Reset()
	s.pendingCreates = make(map[string]bool)
	s.store.Clear()
	if ev.Canvas.ID != "" {
		s.conn.SetCanvas(ev.Canvas.ID)
	}
	s.onSnapshot(ev.Canvas, ev.Shapes, ev.Users)
}

func (s *Session) onCanvasUpdate(c protocol.Canvas) {
	next := s.canvas
	if c.ID != "" {
		next.ID = c.ID
	}
	if c.Name != "" {
		next.Name = c.Name
	}
	if c.BackgroundColor != "" {
		next.BackgroundColor = c.BackgroundColor
	}
	s.SetCanvas(next)
}

func (s *Session) onShapeCreate(ev protocol.ShapeCreateEvent) {
	res := s.store.ApplyRemote(state.RemoteEvent{
		Op:     state.RemoteCreate,
		ID:     ev.Shape.ID,
		TempID: ev.TempID,
		Shape:  ev.Shape,
	})
	if res.Abandoned {
		// Deleted here before the server confirmed it.
		s.logger.Debug("deleting abandoned create", "temp_id", res.PreviousID, "shape_id", res.Shape.ID)
		delete(s.pendingCreates, res.PreviousID)
		if res.PreviousID != res.Shape.ID {
			s.conn.RenameQueued(res.PreviousID, res.Shape.ID)
		}
		s.send(protocol.Delete(res.Shape.ID))
		return
	}
	id := res.Shape.ID
	if res.PreviousID != "" {
		s.rename(res.PreviousID, id)
	}
	if res.Duplicate {
		s.logger.Debug("duplicate create echo merged", "shape_id", id)
	}
	if res.Confirmed && s.pendingCreates[id] {
		delete(s.pendingCreates, id)
		sh := res.Shape
		clearLock(&sh)
		s.history.Push(history.Entry{
			Label: "create " + string(sh.Kind),
			Undo:  []protocol.Intent{protocol.Delete(id)},
			Redo:  []protocol.Intent{protocol.Create(sh)},
		})
	}
}

// rename follows a provisional id to the authoritative one everywhere it
// may be referenced.
func (s *Session) rename(from, to string) {
	s.selection.Rename(from, to)
	s.batcher.Rename(from, to)
	s.history.Rename(from, to)
	if n := s.conn.RenameQueued(from, to); n > 0 {
		s.logger.Debug("renamed queued intents", "temp_id", from, "shape_id", to, "count", n)
	}
	if s.pendingCreates[from] {
		delete(s.pendingCreates, from)
		s.pendingCreates[to] = true
	}
	s.logger.Debug("shape confirmed", "temp_id", from, "shape_id", to)
}

func (s *Session) onShapeUpdate(ev protocol.ShapeUpdateEvent) {
	res := s.store.ApplyRemote(state.RemoteEvent{Op: state.RemoteUpdate, ID: ev.ID, Patch: ev.Patch})
	if !res.Applied {
		s.dropped("unknown_shape")
		return
	}
	if len(res.Dropped) > 0 {
		s.logger.Debug("kept local gesture fields", "shape_id", ev.ID, "fields", res.Dropped)
	}
	if _, touchesLock := ev.Patch[state.FieldLockedBy]; touchesLock {
		s.dropIfTaken(ev.ID)
	}
}

// dropIfTaken removes id from the selection, and stops any gesture on it,
// once another actor holds a live lock on it.
func (s *Session) dropIfTaken(id string) {
	st := s.locks.Status(id)
	if st.State != state.LockedByOther {
		return
	}
	_, members := s.batcher.Active()
	for _, m := range members {
		if m == id {
			s.batcher.Abort()
			break
		}
	}
	if s.selection.Remove(id) {
		s.notify(fmt.Sprintf("%s took over a shape you had selected", s.presence.Name(st.Holder)))
	}
}

func (s *Session) onShapeDelete(ev protocol.ShapeDeleteEvent) {
	res := s.store.ApplyRemote(state.RemoteEvent{Op: state.RemoteDelete, ID: ev.ID})
	if !res.Applied {
		return
	}
	s.forget(ev.ID)
}

// forget drops every reference the session holds to a removed shape.
func (s *Session) forget(id string) {
	s.selection.Remove(id)
	delete(s.pendingCreates, id)
	if _, members := s.batcher.Active(); len(members) > 0 && members[0] == id {
		s.batcher.Abort()
	}
}

// conflict reports a rejected edit. It returns err unchanged.
func (s *Session) conflict(err error) error {
	var locked *state.LockedError
	if errors.As(err, &locked) {
		if s.metrics != nil {
			s.metrics.LockConflict()
		}
		s.logger.Debug("edit rejected", "shape_id", locked.ShapeID, "holder", locked.Holder)
		s.notify(fmt.Sprintf("%s is editing this shape", s.presence.Name(locked.Holder)))
	}
	return err
}

func clearLock(sh *state.Shape) {
	sh.LockedBy = ""
	sh.LockedAt = time.Time{}
}
