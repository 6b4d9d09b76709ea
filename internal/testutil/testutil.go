// Package testutil provides shared test helpers.
//
// [Conn] is an in-memory connection handle that records every event
// sent to it, so components that talk to the registry can be tested
// without a websocket.
package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/4xmen/goftego/internal/events"
	"github.com/4xmen/goftego/internal/registry"
)

type Conn struct {
	userID string
	calls  registry.CallState

	mu     sync.Mutex
	events []events.Event
	closed bool
	notify chan events.Event
}

func NewConn(userID string) *Conn {
	return &Conn{userID: userID, notify: make(chan events.Event, 256)}
}

func (c *Conn) UserID() string               { return c.userID }
func (c *Conn) Calls() *registry.CallState { return &c.calls }

func (c *Conn) Send(ev events.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events = append(c.events, ev)
	select {
	case c.notify <- ev:
	default:
	}
	return true
}

// Close makes further sends fail.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Events returns a copy of every event received so far.
func (c *Conn) Events() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.events...)
}

// OfType returns the received events named eventType.
func (c *Conn) OfType(eventType string) []events.Event {
	var out []events.Event
	for _, ev := range c.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Last returns the most recent event named eventType.
func (c *Conn) Last(eventType string) (events.Event, bool) {
	matched := c.OfType(eventType)
	if len(matched) == 0 {
		return events.Event{}, false
	}
	return matched[len(matched)-1], true
}

// Received exposes events as they arrive, for use with RequireReceive.
func (c *Conn) Received() <-chan events.Event {
	return c.notify
}

type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive reads one value from ch within timeout, or fails the
// test.
func RequireReceive[T any](t fataler, ch <-chan T, timeout time.Duration, msgAndArgs ...any) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed without sending a value: %s", formatMessage(msgAndArgs))
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %v: %s", timeout, formatMessage(msgAndArgs))
	}
	panic("unreachable")
}

// RequireEvent waits until c receives an event named eventType.
func RequireEvent(t fataler, c *Conn, eventType string, timeout time.Duration) events.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-c.notify:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out after %v waiting for %q on %s", timeout, eventType, c.userID)
		}
	}
}

func formatMessage(msgAndArgs []any) string {
	if len(msgAndArgs) == 0 {
		return ""
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs...)
}
