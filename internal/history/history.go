// Package history keeps the local undo/redo stacks. Entries hold the intents
// that reverse and replay a change; continuous property edits are debounced
// into a single entry.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"LiveCanvas/internal/clock"
	"LiveCanvas/internal/protocol"
	"LiveCanvas/internal/state"
)

const (
	DefaultWindow = 400 * time.Millisecond
	DefaultLimit  = 100
)

// Entry is one undoable unit.
type Entry struct {
	Label string
	Undo  []protocol.Intent
	Redo  []protocol.Intent
}

// Shapes returns every shape id the entry touches.
func (e Entry) Shapes() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, list := range [][]protocol.Intent{e.Undo, e.Redo} {
		for _, in := range list {
			if in.ShapeID != "" && !seen[in.ShapeID] {
				seen[in.ShapeID] = true
				ids = append(ids, in.ShapeID)
			}
		}
	}
	return ids
}

type key struct {
	shapeID string
	field   state.Field
}

type pendingChange struct {
	before any
	after  any
	timer  clock.Timer
}

// Manager owns the undo and redo stacks. It is not safe for concurrent use;
// the session loop owns it.
type Manager struct {
	clock    clock.Clock
	dispatch func(protocol.Intent) error
	window   time.Duration
	limit    int
	logger   *slog.Logger
	onChange func(undo, redo int)

	undo    []Entry
	redo    []Entry
	pending map[key]*pendingChange
}

// New creates a Manager that replays intents through dispatch. A window or
// limit of zero selects the defaults.
func New(c clock.Clock, dispatch func(protocol.Intent) error, window time.Duration, limit int, logger *slog.Logger) *Manager {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		clock:    c,
		dispatch: dispatch,
		window:   window,
		limit:    limit,
		logger:   logger.With("component", "history"),
		pending:  make(map[key]*pendingChange),
	}
}

// OnChange registers fn to be told the stack depths after every change.
func (m *Manager) OnChange(fn func(undo, redo int)) { m.onChange = fn }

func (m *Manager) changed() {
	if m.onChange != nil {
		m.onChange(len(m.undo), len(m.redo))
	}
}

// Push records e and clears the redo stack. The oldest entry is dropped once
// the depth limit is reached.
func (m *Manager) Push(e Entry) {
	if len(e.Undo) == 0 && len(e.Redo) == 0 {
		return
	}
	m.undo = append(m.undo, e)
	if over := len(m.undo) - m.limit; over > 0 {
		m.undo = append(m.undo[:0:0], m.undo[over:]...)
	}
	m.redo = nil
	m.changed()
}

// PeekUndo returns the entry Undo would revert, after committing any
// pending debounced changes.
func (m *Manager) PeekUndo() (Entry, bool) {
	m.Flush()
	if len(m.undo) == 0 {
		return Entry{}, false
	}
	return m.undo[len(m.undo)-1], true
}

// PeekRedo returns the entry Redo would replay.
func (m *Manager) PeekRedo() (Entry, bool) {
	m.Flush()
	if len(m.redo) == 0 {
		return Entry{}, false
	}
	return m.redo[len(m.redo)-1], true
}

// Undo pops the newest entry, dispatches its undo intents and moves it to
// the redo stack. It reports false when there is nothing to undo.
func (m *Manager) Undo() (bool, error) {
	e, ok := m.PeekUndo()
	if !ok {
		return false, nil
	}
	m.undo = m.undo[:len(m.undo)-1]
	m.redo = append(m.redo, e)
	m.changed()
	return true, m.run("undo", e.Label, e.Undo)
}

// Redo is the mirror of Undo.
func (m *Manager) Redo() (bool, error) {
	e, ok := m.PeekRedo()
	if !ok {
		return false, nil
	}
	m.redo = m.redo[:len(m.redo)-1]
	m.undo = append(m.undo, e)
	m.changed()
	return true, m.run("redo", e.Label, e.Redo)
}

func (m *Manager) run(dir, label string, intents []protocol.Intent) error {
	m.logger.Debug(dir, "label", label, "intents", len(intents))
	var errs []error
	for _, in := range intents {
		if err := m.dispatch(in); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", dir, in, err))
		}
	}
	return errors.Join(errs...)
}

// RecordPropertyChange notes that field of shapeID went from before to after.
// The first call for a (shape, field) pair keeps before; later calls inside
// the window only move after and restart the window. When the window passes
// quietly a single entry is pushed, unless the value ended where it began.
func (m *Manager) RecordPropertyChange(shapeID string, field state.Field, before, after any) {
	k := key{shapeID, field}
	pc, ok := m.pending[k]
	if ok {
		pc.timer.Stop()
		pc.after = after
	} else {
		pc = &pendingChange{before: before, after: after}
		m.pending[k] = pc
	}
	pc.timer = m.clock.AfterFunc(m.window, func() { m.commit(k) })
}

func (m *Manager) commit(k key) {
	pc, ok := m.pending[k]
	if !ok {
		return
	}
	delete(m.pending, k)
	if pc.before == pc.after {
		return
	}
	m.Push(Entry{
		Label: fmt.Sprintf("change %s", k.field),
		Undo:  []protocol.Intent{protocol.Update(k.shapeID, state.Patch{k.field: pc.before})},
		Redo:  []protocol.Intent{protocol.Update(k.shapeID, state.Patch{k.field: pc.after})},
	})
}

// Pending returns the number of debounced changes not yet committed.
func (m *Manager) Pending() int { return len(m.pending) }

// Flush commits every pending debounced change now.
func (m *Manager) Flush() {
	for k, pc := range m.pending {
		pc.timer.Stop()
		m.commit(k)
	}
}

// Depth returns the sizes of the undo and redo stacks.
func (m *Manager) Depth() (undo, redo int) { return len(m.undo), len(m.redo) }

// Rename rewrites every reference to a provisional shape id.
func (m *Manager) Rename(from, to string) {
	for _, stack := range [][]Entry{m.undo, m.redo} {
		for i := range stack {
			renameIntents(stack[i].Undo, from, to)
			renameIntents(stack[i].Redo, from, to)
		}
	}
	for k, pc := range m.pending {
		if k.shapeID != from {
			continue
		}
		pc.timer.Stop()
		delete(m.pending, k)
		nk := key{to, k.field}
		m.pending[nk] = pc
		pc.timer = m.clock.AfterFunc(m.window, func() { m.commit(nk) })
	}
}

func renameIntents(list []protocol.Intent, from, to string) {
	for i := range list {
		if list[i].ShapeID != from {
			continue
		}
		list[i].ShapeID = to
		if list[i].Shape != nil {
			sh := *list[i].Shape
			sh.ID = to
			list[i].Shape = &sh
		}
	}
}

// Reset drops both stacks and every pending change, e.g. on canvas switch.
func (m *Manager) Reset() {
	for _, pc := range m.pending {
		pc.timer.Stop()
	}
	m.pending = make(map[key]*pendingChange)
	m.undo, m.redo = nil, nil
	m.changed()
}
