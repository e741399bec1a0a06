package state

import (
	"sort"
	"time"
)

// User is a collaborator present on the canvas.
type User struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Color    string    `json:"color,omitempty"`
	Cursor   *Point    `json:"cursor,omitempty"`
	LastSeen time.Time `json:"lastSeen"`
}

// Presence tracks remote users and their cursors.
type Presence struct {
	self  string
	users map[string]*User
}

// NewPresence creates a tracker that ignores events about self.
func NewPresence(self string) *Presence {
	return &Presence{self: self, users: make(map[string]*User)}
}

// Join records u, keeping any cursor already known.
func (p *Presence) Join(u User) {
	if u.ID == "" || u.ID == p.self {
		return
	}
	if old, ok := p.users[u.ID]; ok && u.Cursor == nil {
		u.Cursor = old.Cursor
	}
	rec := u
	p.users[u.ID] = &rec
}

// Leave forgets id.
func (p *Presence) Leave(id string) bool {
	if _, ok := p.users[id]; !ok {
		return false
	}
	delete(p.users, id)
	return true
}

// SetActive replaces the user list with an authoritative one.
func (p *Presence) SetActive(users []User) {
	next := make(map[string]*User, len(users))
	for _, u := range users {
		if u.ID == "" || u.ID == p.self {
			continue
		}
		rec := u
		if old, ok := p.users[u.ID]; ok && rec.Cursor == nil {
			rec.Cursor = old.Cursor
		}
		next[u.ID] = &rec
	}
	p.users = next
}

// MoveCursor records a cursor position, adding the user if unseen.
func (p *Presence) MoveCursor(id string, at Point, seen time.Time) {
	if id == "" || id == p.self {
		return
	}
	u, ok := p.users[id]
	if !ok {
		u = &User{ID: id}
		p.users[id] = u
	}
	pt := at
	u.Cursor = &pt
	u.LastSeen = seen
}

// Users returns copies of every present user sorted by id.
func (p *Presence) Users() []User {
	out := make([]User, 0, len(p.users))
	for _, u := range p.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Name returns a display name for id, falling back to the id.
func (p *Presence) Name(id string) string {
	if u, ok := p.users[id]; ok && u.Name != "" {
		return u.Name
	}
	return id
}
