package net

import (
	"time"

	"github.com/google/uuid"

	"LiveCanvas/internal/protocol"
)

// QueuedIntent is an outbound intent held while the channel is unavailable.
type QueuedIntent struct {
	ID         string
	Intent     protocol.Intent
	EnqueuedAt time.Time
}

// Queue holds intents in arrival order. It has no bound other than memory.
type Queue struct {
	entries []QueuedIntent
}

func newEntry(in protocol.Intent, at time.Time) QueuedIntent {
	return QueuedIntent{ID: uuid.NewString(), Intent: in, EnqueuedAt: at}
}

func (q *Queue) Enqueue(in protocol.Intent, at time.Time) QueuedIntent {
	e := newEntry(in, at)
	q.entries = append(q.entries, e)
	return e
}

func (q *Queue) Len() int { return len(q.entries) }

// Drain removes and returns every entry, oldest first.
func (q *Queue) Drain() []QueuedIntent {
	out := q.entries
	q.entries = nil
	return out
}

// Requeue puts entries back in front of anything queued since they were
// drained, keeping the original order.
func (q *Queue) Requeue(entries []QueuedIntent) {
	if len(entries) == 0 {
		return
	}
	q.entries = append(append([]QueuedIntent(nil), entries...), q.entries...)
}

// Rename points queued edits of shape from at shape to and returns how many
// changed. Creates keep their id; it is the tempId the server echoes.
func (q *Queue) Rename(from, to string) int {
	n := 0
	for i := range q.entries {
		in := &q.entries[i].Intent
		if in.ShapeID != from || in.Type == protocol.TypeShapeCreate {
			continue
		}
		in.ShapeID = to
		n++
	}
	return n
}

// Snapshot returns a copy of the queued entries.
func (q *Queue) Snapshot() []QueuedIntent {
	return append([]QueuedIntent(nil), q.entries...)
}
