package ws

import (
	"sync"

	"github.com/4xmen/goftego/internal/events"
	"github.com/4xmen/goftego/internal/registry"
)

// Rooms tracks every live connection and the named rooms each one has
// joined. A connection leaves all of its rooms when it is removed.
type Rooms struct {
	mu    sync.RWMutex
	conns map[registry.Conn]map[string]struct{}
	rooms map[string]map[registry.Conn]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		conns: make(map[registry.Conn]map[string]struct{}),
		rooms: make(map[string]map[registry.Conn]struct{}),
	}
}

// Add starts tracking conn for global broadcasts.
func (r *Rooms) Add(conn registry.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn]; !ok {
		r.conns[conn] = make(map[string]struct{})
	}
}

// Join subscribes conn to each room. Joining twice is a no-op, and so is
// joining with a connection that was never added or already removed.
func (r *Rooms) Join(conn registry.Conn, rooms ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	joined, ok := r.conns[conn]
	if !ok {
		return
	}
	for _, room := range rooms {
		if room == "" {
			continue
		}
		members := r.rooms[room]
		if members == nil {
			members = make(map[registry.Conn]struct{})
			r.rooms[room] = members
		}
		members[conn] = struct{}{}
		joined[room] = struct{}{}
	}
}

// Remove forgets conn and drops it from every room.
func (r *Rooms) Remove(conn registry.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range r.conns[conn] {
		delete(r.rooms[room], conn)
		if len(r.rooms[room]) == 0 {
			delete(r.rooms, room)
		}
	}
	delete(r.conns, conn)
}

// BroadcastAll sends ev to every tracked connection.
func (r *Rooms) BroadcastAll(ev events.Event) {
	r.mu.RLock()
	targets := make([]registry.Conn, 0, len(r.conns))
	for conn := range r.conns {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		conn.Send(ev)
	}
}

// BroadcastRoom sends ev to every member of room except skip. A room
// with no members makes this a no-op.
func (r *Rooms) BroadcastRoom(room string, ev events.Event, skip registry.Conn) {
	r.mu.RLock()
	targets := make([]registry.Conn, 0, len(r.rooms[room]))
	for conn := range r.rooms[room] {
		if skip != nil && conn == skip {
			continue
		}
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		conn.Send(ev)
	}
}

// Members returns how many connections joined room.
func (r *Rooms) Members(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Len returns how many connections are tracked.
func (r *Rooms) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
