// Package presence tracks which users are currently viewing a channel.
package presence

import (
	"slices"
	"sync"
)

// State is the lifecycle state of a Tracker.
type State int

const (
	// Empty means no member is present.
	Empty State = iota
	// Populated means at least one member is present.
	Populated
)

func (s State) String() string {
	if s == Populated {
		return "populated"
	}
	return "empty"
}

// Member is a user present on a channel, identified by ID.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Tracker holds the member set of one channel. Members are kept in join
// order and are unique by ID. It is safe for concurrent use.
type Tracker struct {
	channel string

	mu      sync.RWMutex
	members []Member
}

func New(channel string) *Tracker {
	return &Tracker{channel: channel}
}

func (t *Tracker) Channel() string {
	return t.channel
}

// Snapshot replaces the member set with the initial roster. Duplicate IDs
// keep their first occurrence.
func (t *Tracker) Snapshot(members []Member) {
	next := make([]Member, 0, len(members))
	for _, m := range members {
		if !slices.ContainsFunc(next, sameID(m)) {
			next = append(next, m)
		}
	}
	t.mu.Lock()
	t.members = next
	t.mu.Unlock()
}

// Join adds m unless a member with the same ID is present. It reports
// whether the set changed.
func (t *Tracker) Join(m Member) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slices.ContainsFunc(t.members, sameID(m)) {
		return false
	}
	t.members = append(t.members, m)
	return true
}

// Leave removes the member with m's ID. It reports whether the set changed.
func (t *Tracker) Leave(m Member) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.members)
	t.members = slices.DeleteFunc(t.members, sameID(m))
	return len(t.members) != n
}

// Members returns a copy of the current members in join order.
func (t *Tracker) Members() []Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.members)
}

func (t *Tracker) Has(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.ContainsFunc(t.members, func(x Member) bool { return x.ID == id })
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

func (t *Tracker) State() State {
	if t.Len() == 0 {
		return Empty
	}
	return Populated
}

func sameID(m Member) func(Member) bool {
	return func(x Member) bool { return x.ID == m.ID }
}
