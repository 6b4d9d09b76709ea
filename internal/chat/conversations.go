package chat

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/4xmen/goftego/internal/db"
	"github.com/4xmen/goftego/internal/models"
)

// FindOrCreateConversation returns the conversation between userID and
// peerID, creating it with zeroed unread counters if needed. created
// reports whether a new row was inserted.
func (s *Service) FindOrCreateConversation(ctx context.Context, userID, peerID string) (conv *models.Conversation, created bool, err error) {
	if userID == "" || peerID == "" {
		return nil, false, fmt.Errorf("%w: participant required", ErrValidation)
	}
	if userID == peerID {
		return nil, false, fmt.Errorf("%w: cannot create conversation with yourself", ErrValidation)
	}

	exists, err := userExists(ctx, s.db, peerID)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, fmt.Errorf("%w: user %s", ErrNotFound, peerID)
	}

	a, b := db.SortedPair(userID, peerID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := db.Timestamp(s.clock.Now())
	id := db.NewID()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_a, participant_b, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(participant_a, participant_b) DO NOTHING
	`, id, a, b, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 1 {
		created = true
		for _, participant := range []string{a, b} {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO conversation_unread (conversation_id, user_id, count) VALUES (?, ?, 0)",
				id, participant,
			)
			if err != nil {
				return nil, false, fmt.Errorf("failed to initialise unread count: %w", err)
			}
		}
	} else {
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM conversations WHERE participant_a = ? AND participant_b = ?",
			a, b,
		).Scan(&id)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load conversation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit conversation: %w", err)
	}

	conv, err = s.GetConversation(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return conv, created, nil
}

func (s *Service) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var (
		conv             models.Conversation
		lastText, lastBy sql.NullString
		lastAt           sql.NullInt64
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, participant_a, participant_b, last_text, last_sender, last_at, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id).Scan(&conv.ID, &conv.Participants[0], &conv.Participants[1], &lastText, &lastBy, &lastAt, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	conv.LastMessage = snapshot(lastText, lastBy, lastAt)
	conv.CreatedAt = db.Time(created)
	conv.UpdatedAt = db.Time(updated)

	if err := s.fillConversation(ctx, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns userID's conversations, most recently
// active first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, participant_a, participant_b, last_text, last_sender, last_at, created_at, updated_at
		FROM conversations
		WHERE participant_a = ? OR participant_b = ?
		ORDER BY updated_at DESC, id
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}

	conversations := []*models.Conversation{}
	for rows.Next() {
		var (
			conv             models.Conversation
			lastText, lastBy sql.NullString
			lastAt           sql.NullInt64
			created, updated int64
		)
		if err := rows.Scan(&conv.ID, &conv.Participants[0], &conv.Participants[1], &lastText, &lastBy, &lastAt, &created, &updated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conv.LastMessage = snapshot(lastText, lastBy, lastAt)
		conv.CreatedAt = db.Time(created)
		conv.UpdatedAt = db.Time(updated)
		conversations = append(conversations, &conv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}

	for _, conv := range conversations {
		if err := s.fillConversation(ctx, conv); err != nil {
			return nil, err
		}
	}
	return conversations, nil
}

// fillConversation loads participant summaries and unread counters.
func (s *Service) fillConversation(ctx context.Context, conv *models.Conversation) error {
	users, err := userSummaries(ctx, s.db, conv.Participants[:])
	if err != nil {
		return err
	}
	conv.Members = make([]models.UserSummary, 0, 2)
	for _, id := range conv.Participants {
		if u, ok := users[id]; ok {
			conv.Members = append(conv.Members, u)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, count FROM conversation_unread WHERE conversation_id = ?",
		conv.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to load unread counts: %w", err)
	}
	defer rows.Close()

	conv.UnreadCounts = map[string]int{conv.Participants[0]: 0, conv.Participants[1]: 0}
	for rows.Next() {
		var (
			userID string
			count  int
		)
		if err := rows.Scan(&userID, &count); err != nil {
			return fmt.Errorf("failed to scan unread count: %w", err)
		}
		conv.UnreadCounts[userID] = count
	}
	return rows.Err()
}

// UnreadCount returns userID's unread counter in conversationID.
func (s *Service) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT count FROM conversation_unread WHERE conversation_id = ? AND user_id = ?",
		conversationID, userID,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load unread count: %w", err)
	}
	return count, nil
}
