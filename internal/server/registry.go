// Package server coordinates admission, room broadcast, and removal of chat
// connections through the Registry type.
package server

import (
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrNameTaken is returned when a live connection already holds the
	// requested (name, room) pair.
	ErrNameTaken = errors.New("name already taken in room")
	// ErrRegistryFull is returned when every slot is occupied.
	ErrRegistryFull = errors.New("registry full")
)

// Registry is the fixed-capacity set of admitted connections. Every method
// holds the single registry mutex for its whole duration and none of them
// performs I/O while holding it: broadcasts only enqueue to each recipient's
// writer.
type Registry struct {
	mu    sync.Mutex
	slots []*Connection
	count int
	log   *slog.Logger
}

// NewRegistry creates a Registry with room for capacity connections.
func NewRegistry(capacity int, logger *slog.Logger) *Registry {
	if capacity <= 0 {
		capacity = defaultMaxClients
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Registry{
		slots: make([]*Connection, capacity),
		log:   logger,
	}
}

// TryReserve reports whether (name, room) is currently free. It does not
// reserve anything; Insert repeats the check atomically.
func (r *Registry) TryReserve(name, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.takenLocked(name, room)
}

// Insert admits c under its negotiated identity, checking uniqueness and
// claiming the first empty slot in one critical section.
func (r *Registry) Insert(c *Connection) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.takenLocked(c.name, c.room) {
		return -1, ErrNameTaken
	}
	for i, slot := range r.slots {
		if slot != nil {
			continue
		}
		r.slots[i] = c
		c.slot = i
		c.active = true
		r.count++
		r.log.Debug("connection admitted", "conn_id", c.id, "slot", i, "total", r.count)
		return i, nil
	}
	return -1, ErrRegistryFull
}

// Remove marks c inactive and frees its slot. It reports false if c was not
// registered, which makes repeated calls harmless.
func (r *Registry) Remove(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !c.active || c.slot < 0 || c.slot >= len(r.slots) || r.slots[c.slot] != c {
		return false
	}
	c.active = false
	r.slots[c.slot] = nil
	c.slot = -1
	r.count--
	r.log.Debug("connection removed", "conn_id", c.id, "total", r.count)
	return true
}

// Broadcast queues msg to every live connection in room, the sender
// included. A recipient whose queue is full misses this message only; the
// rest still receive it. It returns how many recipients got the message and
// how many were skipped.
func (r *Registry) Broadcast(room string, msg []byte) (delivered, dropped int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.slots {
		if c == nil || !c.active || c.room != room {
			continue
		}
		if c.trySend(msg) {
			delivered++
			continue
		}
		dropped++
		r.log.Warn("dropping message for slow connection", "conn_id", c.id, "name", c.name, "room", room)
	}
	return delivered, dropped
}

// ListNames snapshots the names of live connections in room, in slot order.
func (r *Registry) ListNames(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0)
	for _, c := range r.slots {
		if c != nil && c.active && c.room == room {
			names = append(names, c.name)
		}
	}
	return names
}

// Len returns the number of admitted connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// RoomCount returns the number of distinct rooms with a live member.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := make(map[string]struct{})
	for _, c := range r.slots {
		if c != nil && c.active {
			rooms[c.room] = struct{}{}
		}
	}
	return len(rooms)
}

// Capacity returns the fixed number of slots.
func (r *Registry) Capacity() int {
	return len(r.slots)
}

func (r *Registry) takenLocked(name, room string) bool {
	for _, c := range r.slots {
		if c != nil && c.active && c.name == name && c.room == room {
			return true
		}
	}
	return false
}
