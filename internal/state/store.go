package state

import (
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"LiveCanvas/internal/clock"
)

// ErrUnknownShape is returned for operations on an id the store does not hold.
var ErrUnknownShape = errors.New("state: unknown shape")

// GestureKind identifies a continuous pointer interaction.
type GestureKind int

const (
	GestureNone GestureKind = iota
	GestureDrag
	GestureResize
	GestureRotate
)

func (g GestureKind) String() string {
	switch g {
	case GestureDrag:
		return "drag"
	case GestureResize:
		return "resize"
	case GestureRotate:
		return "rotate"
	}
	return "none"
}

// Fields returns the attributes a gesture drives locally. Remote updates to
// these fields are ignored while the gesture is in flight.
func (g GestureKind) Fields() []Field {
	switch g {
	case GestureDrag:
		return []Field{FieldX, FieldY}
	case GestureResize:
		return []Field{FieldX, FieldY, FieldWidth, FieldHeight, FieldRadius}
	case GestureRotate:
		return []Field{FieldRotation}
	}
	return nil
}

// ChangeKind describes a store mutation delivered to subscribers.
type ChangeKind int

const (
	ChangeCreated ChangeKind = iota
	ChangeUpdated
	ChangeDeleted
	ChangeReset
)

// Change is emitted after every store mutation. Shape is a copy of the record
// after the change and is the zero value for deletes and resets.
type Change struct {
	Kind   ChangeKind
	ID     string
	Shape  Shape
	Fields []Field
}

// RemoteOp discriminates server events applied to the store.
type RemoteOp int

const (
	RemoteCreate RemoteOp = iota
	RemoteUpdate
	RemoteDelete
	RemoteSync
)

// RemoteEvent is an authoritative server event, already normalized.
type RemoteEvent struct {
	Op     RemoteOp
	ID     string
	TempID string
	Shape  Shape
	Patch  Patch
	Shapes []Shape
}

// RemoteResult reports what ApplyRemote did.
type RemoteResult struct {
	Applied    bool
	Duplicate  bool
	Confirmed  bool
	Abandoned  bool
	PreviousID string
	Dropped    []Field
	Shape      Shape
}

type recentGesture struct {
	fields []Field
	until  time.Time
}

// Store is the in-memory map of shape records the renderer reads from. It is
// not safe for concurrent use; the session loop owns it.
type Store struct {
	clock       clock.Clock
	grace       time.Duration
	logger      *slog.Logger
	shapes      map[string]*Shape
	seq         uint64
	provisional map[string]bool
	abandoned   map[string]bool
	gestures    map[string]GestureKind
	recent      map[string]recentGesture
	listeners   []func(Change)
}

// NewStore creates an empty store. grace is how long a finished gesture keeps
// protecting its final value against stale echoes.
func NewStore(c clock.Clock, grace time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		clock:       c,
		grace:       grace,
		logger:      logger.With("component", "store"),
		shapes:      make(map[string]*Shape),
		provisional: make(map[string]bool),
		abandoned:   make(map[string]bool),
		gestures:    make(map[string]GestureKind),
		recent:      make(map[string]recentGesture),
	}
}

// Subscribe registers fn for every subsequent change.
func (s *Store) Subscribe(fn func(Change)) {
	s.listeners = append(s.listeners, fn)
}

func (s *Store) emit(c Change) {
	for _, fn := range s.listeners {
		fn(c)
	}
}

// Get returns a copy of the record for id.
func (s *Store) Get(id string) (Shape, bool) {
	sh, ok := s.shapes[id]
	if !ok {
		return Shape{}, false
	}
	return *sh, true
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.shapes) }

// IsProvisional reports whether id was created locally and not yet confirmed.
func (s *Store) IsProvisional(id string) bool { return s.provisional[id] }

// Shapes returns copies of every record in stacking order: ascending z-index,
// ties broken by creation order.
func (s *Store) Shapes() []Shape {
	out := make([]Shape, 0, len(s.shapes))
	for _, sh := range s.shapes {
		out = append(out, *sh)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ZIndex != out[j].ZIndex {
			return out[i].ZIndex < out[j].ZIndex
		}
		return out[i].order < out[j].order
	})
	return out
}

// MaxZIndex returns the highest z-index held, or 0 for an empty store.
func (s *Store) MaxZIndex() int {
	maxZ := 0
	for _, sh := range s.shapes {
		if sh.ZIndex > maxZ {
			maxZ = sh.ZIndex
		}
	}
	return maxZ
}

// ApplyLocalCreate inserts a new shape under a provisional id and returns it.
func (s *Store) ApplyLocalCreate(kind Kind, attrs Patch, actor string) Shape {
	sh := NewShape(uuid.NewString(), kind, attrs)
	now := s.clock.Now()
	sh.CreatedBy, sh.UpdatedBy, sh.UpdatedAt = actor, actor, now
	return s.InsertLocal(sh)
}

// InsertLocal inserts a complete record, e.g. when undo restores a deleted
// shape. The record stays provisional until the server echoes it.
func (s *Store) InsertLocal(sh Shape) Shape {
	s.seq++
	sh.order = s.seq
	rec := sh
	s.shapes[sh.ID] = &rec
	s.provisional[sh.ID] = true
	delete(s.abandoned, sh.ID)
	s.emit(Change{Kind: ChangeCreated, ID: sh.ID, Shape: rec})
	return rec
}

// ApplyLocalUpdate applies an optimistic edit. It reports false for unknown ids.
func (s *Store) ApplyLocalUpdate(id string, p Patch) bool {
	sh, ok := s.shapes[id]
	if !ok {
		return false
	}
	if changed := sh.Apply(p); len(changed) > 0 {
		s.emit(Change{Kind: ChangeUpdated, ID: id, Shape: *sh, Fields: changed})
	}
	return true
}

// ApplyLocalDelete removes id and returns the removed record. A provisional
// id is remembered so the server's late create echo is not resurrected.
func (s *Store) ApplyLocalDelete(id string) (Shape, bool) {
	if s.provisional[id] {
		s.abandoned[id] = true
	}
	return s.remove(id)
}

func (s *Store) remove(id string) (Shape, bool) {
	sh, ok := s.shapes[id]
	if !ok {
		return Shape{}, false
	}
	delete(s.shapes, id)
	delete(s.provisional, id)
	delete(s.gestures, id)
	delete(s.recent, id)
	s.emit(Change{Kind: ChangeDeleted, ID: id})
	return *sh, true
}

// BeginGesture marks id as being driven by a local gesture.
func (s *Store) BeginGesture(id string, kind GestureKind) {
	if _, ok := s.shapes[id]; !ok {
		return
	}
	s.gestures[id] = kind
	delete(s.recent, id)
}

// EndGesture clears the in-flight marker and opens the grace window.
func (s *Store) EndGesture(id string) {
	kind, ok := s.gestures[id]
	if !ok {
		return
	}
	delete(s.gestures, id)
	if s.grace > 0 {
		s.recent[id] = recentGesture{fields: kind.Fields(), until: s.clock.Now().Add(s.grace)}
	}
}

// Gesture returns the gesture in flight on id.
func (s *Store) Gesture(id string) GestureKind { return s.gestures[id] }

func (s *Store) protected(id string) []Field {
	if g, ok := s.gestures[id]; ok {
		return g.Fields()
	}
	r, ok := s.recent[id]
	if !ok {
		return nil
	}
	if !s.clock.Now().Before(r.until) {
		delete(s.recent, id)
		return nil
	}
	return r.fields
}

// ApplyRemote merges an authoritative server event. Fields driven by a local
// gesture in flight (or inside its grace window) keep their local value.
func (s *Store) ApplyRemote(ev RemoteEvent) RemoteResult {
	switch ev.Op {
	case RemoteCreate:
		return s.remoteCreate(ev)
	case RemoteUpdate:
		return s.remoteUpdate(ev.ID, ev.Patch)
	case RemoteDelete:
		sh, ok := s.remove(ev.ID)
		return RemoteResult{Applied: ok, Shape: sh}
	case RemoteSync:
		s.reset(ev.Shapes)
		return RemoteResult{Applied: true}
	}
	return RemoteResult{}
}

func (s *Store) remoteCreate(ev RemoteEvent) RemoteResult {
	incoming := ev.Shape
	if incoming.ID == "" {
		incoming.ID = ev.ID
	}
	s.stampShape(&incoming, s.shapes[incoming.ID])
	if tmp := ev.TempID; s.abandoned[tmp] || tmp == "" && s.abandoned[incoming.ID] {
		if tmp == "" {
			tmp = incoming.ID
		}
		delete(s.abandoned, tmp)
		return RemoteResult{Abandoned: true, Shape: incoming, PreviousID: tmp}
	}
	if ev.TempID != "" && ev.TempID != incoming.ID && s.provisional[ev.TempID] {
		s.rekey(ev.TempID, incoming.ID)
		res := s.remoteUpdate(incoming.ID, incoming.Attrs().Merge(provenance(incoming)))
		res.Confirmed = true
		res.PreviousID = ev.TempID
		delete(s.provisional, incoming.ID)
		return res
	}
	if _, exists := s.shapes[incoming.ID]; exists {
		confirmed := s.provisional[incoming.ID]
		delete(s.provisional, incoming.ID)
		res := s.remoteUpdate(incoming.ID, incoming.Attrs().Merge(provenance(incoming)))
		res.Duplicate = true
		res.Confirmed = confirmed
		return res
	}
	s.seq++
	rec := incoming
	rec.order = s.seq
	s.shapes[rec.ID] = &rec
	s.emit(Change{Kind: ChangeCreated, ID: rec.ID, Shape: rec})
	return RemoteResult{Applied: true, Shape: rec}
}

func provenance(sh Shape) Patch {
	p := make(Patch)
	if sh.LockedBy != "" {
		p[FieldLockedBy], p[FieldLockedAt] = sh.LockedBy, sh.LockedAt
	}
	if sh.CreatedBy != "" {
		p[FieldCreatedBy] = sh.CreatedBy
	}
	if sh.UpdatedBy != "" {
		p[FieldUpdatedBy] = sh.UpdatedBy
	}
	if !sh.UpdatedAt.IsZero() {
		p[FieldUpdatedAt] = sh.UpdatedAt
	}
	return p
}

// stampShape gives a lock that arrived without a timestamp the time it was
// first seen, so it still expires after the TTL. old is the record already
// held for the shape, if any.
func (s *Store) stampShape(sh *Shape, old *Shape) {
	if sh.LockedBy == "" || !sh.LockedAt.IsZero() {
		return
	}
	if old != nil && old.LockedBy == sh.LockedBy && !old.LockedAt.IsZero() {
		sh.LockedAt = old.LockedAt
		return
	}
	sh.LockedAt = s.clock.Now()
}

// stampPatch is stampShape for an update of sh.
func (s *Store) stampPatch(p Patch, sh *Shape) Patch {
	holder, _ := p.String(FieldLockedBy)
	if holder == "" || p[FieldLockedAt] != nil {
		return p
	}
	if holder == sh.LockedBy && !sh.LockedAt.IsZero() {
		return p
	}
	p = p.Clone()
	p[FieldLockedAt] = s.clock.Now()
	return p
}

func (s *Store) rekey(from, to string) {
	sh := s.shapes[from]
	delete(s.shapes, from)
	delete(s.provisional, from)
	sh.ID = to
	s.shapes[to] = sh
	if g, ok := s.gestures[from]; ok {
		delete(s.gestures, from)
		s.gestures[to] = g
	}
	if r, ok := s.recent[from]; ok {
		delete(s.recent, from)
		s.recent[to] = r
	}
	s.emit(Change{Kind: ChangeDeleted, ID: from})
	s.emit(Change{Kind: ChangeCreated, ID: to, Shape: *sh})
}

func (s *Store) remoteUpdate(id string, p Patch) RemoteResult {
	sh, ok := s.shapes[id]
	if !ok {
		s.logger.Debug("remote update for unknown shape", "shape_id", id)
		return RemoteResult{}
	}
	p = s.stampPatch(p, sh)
	res := RemoteResult{Applied: true}
	if fields := s.protected(id); len(fields) > 0 {
		for _, f := range fields {
			if _, present := p[f]; present {
				res.Dropped = append(res.Dropped, f)
			}
		}
		p = p.Without(fields...)
	}
	if changed := sh.Apply(p); len(changed) > 0 {
		s.emit(Change{Kind: ChangeUpdated, ID: id, Shape: *sh, Fields: changed})
	}
	res.Shape = *sh
	return res
}

// reset replaces the store contents with a full server snapshot. Shapes under
// gesture protection keep their locally driven fields; unconfirmed local
// creates survive because they are still waiting in the operation queue.
func (s *Store) reset(shapes []Shape) {
	next := make(map[string]*Shape, len(shapes))
	for _, incoming := range shapes {
		rec := incoming
		s.stampShape(&rec, s.shapes[rec.ID])
		if old, ok := s.shapes[rec.ID]; ok {
			rec.order = old.order
			if fields := s.protected(rec.ID); len(fields) > 0 {
				rec.Apply(old.Snapshot(fields...))
			}
		} else {
			s.seq++
			rec.order = s.seq
		}
		next[rec.ID] = &rec
		delete(s.provisional, rec.ID)
	}
	for id := range s.provisional {
		if old, ok := s.shapes[id]; ok {
			next[id] = old
		}
	}
	for id := range s.gestures {
		if _, ok := next[id]; !ok {
			delete(s.gestures, id)
		}
	}
	for id := range s.recent {
		if _, ok := next[id]; !ok {
			delete(s.recent, id)
		}
	}
	s.shapes = next
	s.emit(Change{Kind: ChangeReset})
}

// Clear drops every record and all gesture bookkeeping.
func (s *Store) Clear() {
	s.shapes = make(map[string]*Shape)
	s.provisional = make(map[string]bool)
	s.abandoned = make(map[string]bool)
	s.gestures = make(map[string]GestureKind)
	s.recent = make(map[string]recentGesture)
	s.emit(Change{Kind: ChangeReset})
}
