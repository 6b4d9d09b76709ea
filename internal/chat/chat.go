// Package chat persists messages and keeps the conversation and group
// aggregates in step with them.
package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/4xmen/goftego/internal/clock"
	"github.com/4xmen/goftego/internal/db"
	"github.com/4xmen/goftego/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrValidation    = errors.New("validation failed")
	ErrAlreadyMember = errors.New("user is already a member")
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

type Service struct {
	db    *sql.DB
	clock clock.Clock
}

func New(conn *sql.DB, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{db: conn, clock: clk}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Authorize reports whether userID may read and write target.
func (s *Service) Authorize(ctx context.Context, userID string, target models.ChannelRef) error {
	if !target.Valid() {
		return fmt.Errorf("%w: missing target", ErrValidation)
	}

	if target.IsGroup() {
		var admin string
		err := s.db.QueryRowContext(ctx, "SELECT admin_id FROM chat_groups WHERE id = ?", target.ID()).Scan(&admin)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: group %s", ErrNotFound, target.ID())
		}
		if err != nil {
			return fmt.Errorf("failed to load group: %w", err)
		}
		member, err := isMember(ctx, s.db, target.ID(), userID)
		if err != nil {
			return err
		}
		if !member {
			return fmt.Errorf("%w: not a member of group %s", ErrForbidden, target.ID())
		}
		return nil
	}

	var a, b string
	err := s.db.QueryRowContext(ctx, "SELECT participant_a, participant_b FROM conversations WHERE id = ?", target.ID()).Scan(&a, &b)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, target.ID())
	}
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	if userID != a && userID != b {
		return fmt.Errorf("%w: not a participant of conversation %s", ErrForbidden, target.ID())
	}
	return nil
}

func isMember(ctx context.Context, q queryer, groupID, userID string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?)",
		groupID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

func userExists(ctx context.Context, q queryer, userID string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return exists, nil
}

// userSummaries loads the display fields for ids, keyed by id.
func userSummaries(ctx context.Context, q queryer, ids []string) (map[string]models.UserSummary, error) {
	out := make(map[string]models.UserSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx,
		"SELECT id, name, avatar, status FROM users WHERE id IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u models.UserSummary
		if err := rows.Scan(&u.ID, &u.Name, &u.Avatar, &u.Status); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

func snapshot(text, sender sql.NullString, at sql.NullInt64) *models.LastMessage {
	if !at.Valid {
		return nil
	}
	return &models.LastMessage{Text: text.String, Sender: sender.String, CreatedAt: db.NullTime(at)}
}
