package state

import (
	"fmt"
	"time"

	"LiveCanvas/internal/clock"
)

// DefaultLockTTL bounds how long a lock survives without a release.
const DefaultLockTTL = 10 * time.Second

// LockState is the local view of a shape's lock.
type LockState int

const (
	Unlocked LockState = iota
	LockedBySelf
	LockedByOther
)

func (s LockState) String() string {
	switch s {
	case LockedBySelf:
		return "locked-by-self"
	case LockedByOther:
		return "locked-by-other"
	}
	return "unlocked"
}

// LockStatus is the effective lock on a shape after TTL expiry is applied.
type LockStatus struct {
	State  LockState
	Holder string
	Since  time.Time
}

// LockedError rejects an edit on a shape another actor holds.
type LockedError struct {
	ShapeID string
	Holder  string
	Since   time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("shape %s is being edited by %s", e.ShapeID, e.Holder)
}

// Locks evaluates and mutates the time-boxed lock fields of store records.
// A lock older than the TTL is treated as absent even if the fields are
// still populated, since a release message may have been lost.
type Locks struct {
	store *Store
	clock clock.Clock
	actor string
	ttl   time.Duration
}

// NewLocks binds the protocol to the local actor id.
func NewLocks(store *Store, c clock.Clock, actor string, ttl time.Duration) *Locks {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Locks{store: store, clock: c, actor: actor, ttl: ttl}
}

// Actor returns the local actor id.
func (l *Locks) Actor() string { return l.actor }

// StatusOf evaluates the lock fields of sh.
func (l *Locks) StatusOf(sh Shape) LockStatus {
	if sh.LockedBy == "" || l.Expired(sh) {
		return LockStatus{State: Unlocked}
	}
	st := LockStatus{State: LockedByOther, Holder: sh.LockedBy, Since: sh.LockedAt}
	if sh.LockedBy == l.actor {
		st.State = LockedBySelf
	}
	return st
}

// Status evaluates the lock on id. Unknown shapes report Unlocked.
func (l *Locks) Status(id string) LockStatus {
	sh, ok := l.store.Get(id)
	if !ok {
		return LockStatus{State: Unlocked}
	}
	return l.StatusOf(sh)
}

// Expired reports whether the lock on sh has outlived the TTL. The store
// stamps server locks that arrive without a timestamp, so a holder with no
// timestamp can only be a record built locally and is counted as expired.
func (l *Locks) Expired(sh Shape) bool {
	if sh.LockedBy == "" {
		return false
	}
	if sh.LockedAt.IsZero() {
		return true
	}
	return l.clock.Now().Sub(sh.LockedAt) >= l.ttl
}

// CheckEditable returns nil when the local actor may mutate id.
func (l *Locks) CheckEditable(id string) error {
	sh, ok := l.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownShape, id)
	}
	if st := l.StatusOf(sh); st.State == LockedByOther {
		return &LockedError{ShapeID: id, Holder: st.Holder, Since: st.Since}
	}
	return nil
}

// Acquire optimistically locks id for the local actor and returns the patch
// to send. Acquiring an expired lock held by someone else is a normal acquire.
func (l *Locks) Acquire(id string) (Patch, error) {
	if err := l.CheckEditable(id); err != nil {
		return nil, err
	}
	p := Patch{FieldLockedBy: l.actor, FieldLockedAt: l.clock.Now()}
	l.store.ApplyLocalUpdate(id, p)
	return p, nil
}

// Release clears a lock held by the local actor and returns the patch to
// send. It reports false when the local actor does not hold id.
func (l *Locks) Release(id string) (Patch, bool) {
	sh, ok := l.store.Get(id)
	if !ok || sh.LockedBy != l.actor {
		return nil, false
	}
	p := Patch{FieldLockedBy: nil, FieldLockedAt: nil}
	l.store.ApplyLocalUpdate(id, p)
	return p, true
}
