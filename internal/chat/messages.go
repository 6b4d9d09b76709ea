package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/4xmen/goftego/internal/db"
	"github.com/4xmen/goftego/internal/models"
)

// SendMessage persists a message from senderID into target and updates
// the target's snapshot. Direct sends also bump the other participant's
// unread counter by one.
func (s *Service) SendMessage(ctx context.Context, senderID string, target models.ChannelRef, text string, attachments []models.Attachment) (*models.Message, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: missing target", ErrValidation)
	}
	text = strings.TrimSpace(text)
	if text == "" && len(attachments) == 0 {
		return nil, fmt.Errorf("%w: message text or attachments required", ErrValidation)
	}
	if attachments == nil {
		attachments = []models.Attachment{}
	}

	encoded, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("%w: attachments: %v", ErrValidation, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.clock.Now().UTC()
	msg := &models.Message{
		ID:          db.NewID(),
		Channel:     target,
		Text:        text,
		Attachments: attachments,
		Status:      models.MessageSent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var conversationID, groupID sql.NullString
	if target.IsGroup() {
		if err := s.checkGroupSender(ctx, tx, target.ID(), senderID); err != nil {
			return nil, err
		}
		groupID = sql.NullString{String: target.ID(), Valid: true}
	} else {
		recipient, err := s.checkDirectSender(ctx, tx, target.ID(), senderID)
		if err != nil {
			return nil, err
		}
		msg.Recipient = recipient
		conversationID = sql.NullString{String: target.ID(), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, conversation_id, group_id, text, attachments, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, senderID, conversationID, groupID, msg.Text, string(encoded), msg.Status, db.Timestamp(now), db.Timestamp(now))
	if err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	if target.IsGroup() {
		_, err = tx.ExecContext(ctx,
			"UPDATE chat_groups SET last_text = ?, last_sender = ?, last_at = ?, updated_at = ? WHERE id = ?",
			msg.Text, senderID, db.Timestamp(now), db.Timestamp(now), target.ID(),
		)
	} else {
		_, err = tx.ExecContext(ctx,
			"UPDATE conversations SET last_text = ?, last_sender = ?, last_at = ?, updated_at = ? WHERE id = ?",
			msg.Text, senderID, db.Timestamp(now), db.Timestamp(now), target.ID(),
		)
		if err == nil {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO conversation_unread (conversation_id, user_id, count) VALUES (?, ?, 1)
				ON CONFLICT(conversation_id, user_id) DO UPDATE SET count = count + 1
			`, target.ID(), msg.Recipient)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update snapshot: %w", err)
	}

	users, err := userSummaries(ctx, tx, []string{senderID})
	if err != nil {
		return nil, err
	}
	sender := users[senderID]
	msg.Sender = models.UserSummary{ID: sender.ID, Name: sender.Name, Avatar: sender.Avatar}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}

	return msg, nil
}

func (s *Service) checkGroupSender(ctx context.Context, tx *sql.Tx, groupID, senderID string) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM chat_groups WHERE id = ?)", groupID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to load group: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: group %s", ErrNotFound, groupID)
	}

	member, err := isMember(ctx, tx, groupID, senderID)
	if err != nil {
		return err
	}
	if !member {
		return fmt.Errorf("%w: not a member of group %s", ErrForbidden, groupID)
	}
	return nil
}

// checkDirectSender returns the participant of conversationID that is
// not senderID.
func (s *Service) checkDirectSender(ctx context.Context, tx *sql.Tx, conversationID, senderID string) (string, error) {
	var a, b string
	err := tx.QueryRowContext(ctx,
		"SELECT participant_a, participant_b FROM conversations WHERE id = ?",
		conversationID,
	).Scan(&a, &b)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load conversation: %w", err)
	}

	switch senderID {
	case a:
		return b, nil
	case b:
		return a, nil
	}
	return "", fmt.Errorf("%w: not a participant of conversation %s", ErrForbidden, conversationID)
}

// GetMessages returns one page of target's history in chronological
// order. Page 0 (skip=0) holds the newest messages.
func (s *Service) GetMessages(ctx context.Context, target models.ChannelRef, limit, skip int) ([]models.Message, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: missing target", ErrValidation)
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if skip < 0 {
		skip = 0
	}

	column := "conversation_id"
	if target.IsGroup() {
		column = "group_id"
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.sender_id, u.name, u.avatar, m.text, m.attachments, m.status,
			m.is_deleted, m.is_edited, m.created_at, m.updated_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.`+column+` = ?
		ORDER BY m.created_at DESC, m.seq DESC
		LIMIT ? OFFSET ?
	`, target.ID(), limit, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var (
			msg              models.Message
			attachments      string
			created, updated int64
		)
		err := rows.Scan(&msg.ID, &msg.Sender.ID, &msg.Sender.Name, &msg.Sender.Avatar, &msg.Text, &attachments,
			&msg.Status, &msg.IsDeleted, &msg.IsEdited, &created, &updated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("failed to decode attachments of %s: %w", msg.ID, err)
		}
		msg.Channel = target
		msg.CreatedAt = db.Time(created)
		msg.UpdatedAt = db.Time(updated)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	// Reverse to get oldest first
	for i := len(messages)/2 - 1; i >= 0; i-- {
		opp := len(messages) - 1 - i
		messages[i], messages[opp] = messages[opp], messages[i]
	}

	return messages, nil
}

// MarkAsRead marks every message userID received in a conversation as
// read and resets userID's unread counter. userID must be one of the
// participants. Groups have no read tracking and are a no-op. It returns
// the number of messages that changed.
func (s *Service) MarkAsRead(ctx context.Context, target models.ChannelRef, userID string) (int64, error) {
	if !target.Valid() {
		return 0, fmt.Errorf("%w: missing target", ErrValidation)
	}
	if target.IsGroup() {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var a, b string
	err = tx.QueryRowContext(ctx,
		"SELECT participant_a, participant_b FROM conversations WHERE id = ?", target.ID(),
	).Scan(&a, &b)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: conversation %s", ErrNotFound, target.ID())
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load conversation: %w", err)
	}
	if userID != a && userID != b {
		return 0, fmt.Errorf("%w: not a participant of conversation %s", ErrForbidden, target.ID())
	}

	now := db.Timestamp(s.clock.Now())
	result, err := tx.ExecContext(ctx, `
		UPDATE messages SET status = ?, updated_at = ?
		WHERE conversation_id = ? AND sender_id <> ? AND status <> ?
	`, models.MessageRead, now, target.ID(), userID, models.MessageRead)
	if err != nil {
		return 0, fmt.Errorf("failed to update messages: %w", err)
	}
	changed, _ := result.RowsAffected()

	_, err = tx.ExecContext(ctx,
		"UPDATE conversation_unread SET count = 0 WHERE conversation_id = ? AND user_id = ?",
		target.ID(), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset unread count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit read receipt: %w", err)
	}
	return changed, nil
}
