// Package registry tracks which live connection currently routes events
// for each user.
package registry

import (
	"sync"

	"github.com/4xmen/goftego/internal/events"
)

// Conn is a live connection handle.
type Conn interface {
	UserID() string
	// Send queues ev for delivery and reports whether it was accepted.
	// It never blocks and is safe to call after the connection closed.
	Send(ev events.Event) bool
	Calls() *CallState
}

type Registry interface {
	// Register routes userID to conn and returns the handle it replaced,
	// if any. The replaced handle is not closed.
	Register(userID string, conn Conn) (evicted Conn)
	Lookup(userID string) (Conn, bool)
	// Unregister removes the route for userID only if it still points at
	// conn, and reports whether it did.
	Unregister(userID string, conn Conn) bool
	Len() int
}

type Memory struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewMemory() *Memory {
	return &Memory{conns: make(map[string]Conn)}
}

func (m *Memory) Register(userID string, conn Conn) Conn {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.conns[userID]
	m.conns[userID] = conn
	if !ok || prev == conn {
		return nil
	}
	return prev
}

func (m *Memory) Lookup(userID string) (Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[userID]
	return conn, ok
}

func (m *Memory) Unregister(userID string, conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.conns[userID]; ok && current == conn {
		delete(m.conns, userID)
		return true
	}
	return false
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// OnlineUserIDs returns the ids of every routed user.
func (m *Memory) OnlineUserIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	return ids
}
