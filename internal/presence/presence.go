// Package presence records online/offline transitions and relays
// typing indicators. Neither typing nor presence events are queued for
// offline users.
package presence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/4xmen/goftego/internal/clock"
	"github.com/4xmen/goftego/internal/db"
	"github.com/4xmen/goftego/internal/events"
	"github.com/4xmen/goftego/internal/models"
	"github.com/4xmen/goftego/internal/registry"
)

// Broadcaster delivers events to every connection or to a room.
type Broadcaster interface {
	BroadcastAll(ev events.Event)
	// BroadcastRoom sends ev to every connection in room except skip,
	// which may be nil.
	BroadcastRoom(room string, ev events.Event, skip registry.Conn)
}

type Service struct {
	db    *sql.DB
	clock clock.Clock
	out   Broadcaster
}

func New(conn *sql.DB, clk clock.Clock, out Broadcaster) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{db: conn, clock: clk, out: out}
}

// Connected marks userID online and announces it to every connection.
func (s *Service) Connected(ctx context.Context, userID string) error {
	if _, err := s.setStatus(ctx, userID, models.StatusOnline); err != nil {
		return err
	}
	s.out.BroadcastAll(events.New(events.UserOnline, events.PresencePayload{UserID: userID}))
	return nil
}

// Disconnected marks userID offline, stamps last seen and announces it
// to every connection.
func (s *Service) Disconnected(ctx context.Context, userID string) error {
	lastSeen, err := s.setStatus(ctx, userID, models.StatusOffline)
	if err != nil {
		return err
	}
	s.out.BroadcastAll(events.New(events.UserOffline, events.PresencePayload{UserID: userID, LastSeen: &lastSeen}))
	return nil
}

func (s *Service) setStatus(ctx context.Context, userID, status string) (time.Time, error) {
	now := s.clock.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET status = ?, last_seen = ?, updated_at = ? WHERE id = ? AND is_bot = 0",
		status, db.Timestamp(now), db.Timestamp(now), userID,
	)
	if err != nil {
		return now, fmt.Errorf("failed to set %s: %w", status, err)
	}
	return now, nil
}

// Typing relays a typing indicator from sender to the other connections
// in roomID.
func (s *Service) Typing(sender registry.Conn, name, roomID string, started bool) {
	if roomID == "" {
		log.Printf("Typing event from %s without room", sender.UserID())
		return
	}
	eventType := events.TypingStop
	if started {
		eventType = events.TypingStart
	}
	s.out.BroadcastRoom(roomID, events.New(eventType, events.TypingPayload{
		UserID: sender.UserID(),
		Name:   name,
		RoomID: roomID,
	}), sender)
}
