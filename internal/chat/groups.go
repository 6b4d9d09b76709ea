package chat

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/4xmen/goftego/internal/db"
	"github.com/4xmen/goftego/internal/models"
)

// CreateGroup creates a group administered by adminID. The admin is
// always a member, whether or not memberIDs lists them.
func (s *Service) CreateGroup(ctx context.Context, adminID, name, description string, memberIDs []string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name required", ErrValidation)
	}

	members := []string{adminID}
	seen := map[string]bool{adminID: true}
	for _, id := range memberIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range members {
		exists, err := userExists(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
	}

	now := db.Timestamp(s.clock.Now())
	groupID := db.NewID()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_groups (id, name, description, admin_id, last_text, last_sender, last_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, groupID, name, strings.TrimSpace(description), adminID, `Group "`+name+`" created`, adminID, now, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	for _, id := range members {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)",
			groupID, id, now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to add member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit group: %w", err)
	}

	return s.GetGroup(ctx, groupID)
}

func (s *Service) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var (
		group            models.Group
		lastText, lastBy sql.NullString
		lastAt           sql.NullInt64
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, admin_id, last_text, last_sender, last_at, created_at, updated_at
		FROM chat_groups WHERE id = ?
	`, id).Scan(&group.ID, &group.Name, &group.Description, &group.AdminID, &lastText, &lastBy, &lastAt, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: group %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	group.LastMessage = snapshot(lastText, lastBy, lastAt)
	group.CreatedAt = db.Time(created)
	group.UpdatedAt = db.Time(updated)

	if err := s.fillGroup(ctx, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// ListGroups returns the groups userID belongs to, most recently active
// first.
func (s *Service) ListGroups(ctx context.Context, userID string) ([]*models.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.description, g.admin_id, g.last_text, g.last_sender, g.last_at, g.created_at, g.updated_at
		FROM chat_groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = ?
		ORDER BY g.updated_at DESC, g.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch groups: %w", err)
	}

	groups := []*models.Group{}
	for rows.Next() {
		var (
			group            models.Group
			lastText, lastBy sql.NullString
			lastAt           sql.NullInt64
			created, updated int64
		)
		if err := rows.Scan(&group.ID, &group.Name, &group.Description, &group.AdminID, &lastText, &lastBy, &lastAt, &created, &updated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		group.LastMessage = snapshot(lastText, lastBy, lastAt)
		group.CreatedAt = db.Time(created)
		group.UpdatedAt = db.Time(updated)
		groups = append(groups, &group)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read groups: %w", err)
	}

	for _, group := range groups {
		if err := s.fillGroup(ctx, group); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// AddMember adds userID to groupID on behalf of actorID, who must be the
// group's administrator.
func (s *Service) AddMember(ctx context.Context, groupID, actorID, userID string) (*models.Group, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id required", ErrValidation)
	}

	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.AdminID != actorID {
		return nil, fmt.Errorf("%w: only the admin can add members", ErrForbidden)
	}
	if group.IsMember(userID) {
		return nil, ErrAlreadyMember
	}

	exists, err := userExists(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}

	now := db.Timestamp(s.clock.Now())
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)",
		groupID, userID, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrAlreadyMember
		}
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE chat_groups SET updated_at = ? WHERE id = ?", now, groupID); err != nil {
		return nil, fmt.Errorf("failed to touch group: %w", err)
	}

	return s.GetGroup(ctx, groupID)
}

// GroupMembers returns the member ids of groupID.
func (s *Service) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM group_members WHERE group_id = ? ORDER BY joined_at, user_id",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Service) fillGroup(ctx context.Context, group *models.Group) error {
	ids, err := s.GroupMembers(ctx, group.ID)
	if err != nil {
		return err
	}
	group.MemberIDs = ids

	users, err := userSummaries(ctx, s.db, ids)
	if err != nil {
		return err
	}
	group.Members = make([]models.UserSummary, 0, len(ids))
	for _, id := range ids {
		if u, ok := users[id]; ok {
			group.Members = append(group.Members, u)
		}
	}
	return nil
}
