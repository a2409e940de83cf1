package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"

	"chat-backend/internal/models"
)

var ErrGroupNotFound = errors.New("group not found")

var groupColumns = []string{"id", "name", "description", "owner_id", "last_message_id", "created_at", "updated_at"}

// GroupRepository abstracts group persistence.
type GroupRepository interface {
	CreateGroup(ctx context.Context, ownerID int, name string, description *string, memberIDs []int) (models.Group, error)
	GetGroup(ctx context.Context, groupID int) (models.Group, error)
	LockGroup(ctx context.Context, groupID int) (models.Group, error)
	UpdateGroup(ctx context.Context, groupID int, name string, description *string) (models.Group, error)
	DeleteGroup(ctx context.Context, groupID int) error
	IsMember(ctx context.Context, groupID int, userID int) (bool, error)
	ListMembers(ctx context.Context, groupID int) ([]models.User, error)
	RemoveMembers(ctx context.Context, groupID int) error
	ListGroupsForUser(ctx context.Context, userID int) ([]models.GroupSummary, error)
	SetLastMessage(ctx context.Context, groupID int, messageID *int) error
	MarkRead(ctx context.Context, groupID int, userID int, at time.Time) error
}

// GroupRepo is a sqlx implementation of GroupRepository.
type GroupRepo struct {
	q querier
}

// CreateGroup inserts a group and its members. The owner is always a member.
// Callers wrap it in Store.WithinTx to make both inserts atomic.
func (r *GroupRepo) CreateGroup(ctx context.Context, ownerID int, name string, description *string, memberIDs []int) (models.Group, error) {
	var group models.Group
	if err := get(ctx, r.q, &group, psql.Insert("groups").
		Columns("name", "description", "owner_id").
		Values(name, description, ownerID).
		Suffix("RETURNING "+joinColumns(groupColumns))); err != nil {
		return models.Group{}, err
	}

	// ensure owner present and dedupe members
	memberSet := map[int]struct{}{ownerID: {}}
	for _, id := range memberIDs {
		memberSet[id] = struct{}{}
	}
	ids := make([]int, 0, len(memberSet))
	for id := range memberSet {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	insert := psql.Insert("group_users").Columns("group_id", "user_id")
	for _, id := range ids {
		insert = insert.Values(group.ID, id)
	}
	if _, err := exec(ctx, r.q, insert.Suffix("ON CONFLICT DO NOTHING")); err != nil {
		return models.Group{}, err
	}
	return group, nil
}

// GetGroup fetches a single group.
func (r *GroupRepo) GetGroup(ctx context.Context, groupID int) (models.Group, error) {
	return r.fetch(ctx, groupQuery(groupID))
}

// LockGroup fetches a group and locks its row until the transaction ends.
func (r *GroupRepo) LockGroup(ctx context.Context, groupID int) (models.Group, error) {
	return r.fetch(ctx, lockGroupQuery(groupID))
}

func lockGroupQuery(groupID int) sq.SelectBuilder {
	return groupQuery(groupID).Suffix("FOR UPDATE")
}

func groupQuery(groupID int) sq.SelectBuilder {
	return psql.Select(groupColumns...).From("groups").Where(sq.Eq{"id": groupID})
}

func (r *GroupRepo) fetch(ctx context.Context, b sq.SelectBuilder) (models.Group, error) {
	var group models.Group
	err := get(ctx, r.q, &group, b)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	return group, err
}

// UpdateGroup changes name and description.
func (r *GroupRepo) UpdateGroup(ctx context.Context, groupID int, name string, description *string) (models.Group, error) {
	var group models.Group
	err := get(ctx, r.q, &group, psql.Update("groups").
		Set("name", name).
		Set("description", description).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": groupID}).
		Suffix("RETURNING "+joinColumns(groupColumns)))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	return group, err
}

// DeleteGroup removes the group row. Messages and members must be removed first.
func (r *GroupRepo) DeleteGroup(ctx context.Context, groupID int) error {
	count, err := exec(ctx, r.q, psql.Delete("groups").Where(sq.Eq{"id": groupID}))
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// IsMember checks membership.
func (r *GroupRepo) IsMember(ctx context.Context, groupID int, userID int) (bool, error) {
	var exists bool
	err := get(ctx, r.q, &exists, psql.Select().
		Column(sq.Expr("EXISTS(SELECT 1 FROM group_users WHERE group_id = ? AND user_id = ?)", groupID, userID)))
	return exists, err
}

// ListMembers returns the users of a group.
func (r *GroupRepo) ListMembers(ctx context.Context, groupID int) ([]models.User, error) {
	var users []models.User
	err := selectAll(ctx, r.q, &users, psql.Select(prefixColumns("u", userColumns)...).
		From("users u").
		Join("group_users gu ON gu.user_id = u.id").
		Where(sq.Eq{"gu.group_id": groupID}).
		OrderBy("u.id"))
	return users, err
}

// RemoveMembers detaches every user from the group.
func (r *GroupRepo) RemoveMembers(ctx context.Context, groupID int) error {
	_, err := exec(ctx, r.q, psql.Delete("group_users").Where(sq.Eq{"group_id": groupID}))
	return err
}

// ListGroupsForUser returns the user's groups joined with their last message, newest activity first.
func (r *GroupRepo) ListGroupsForUser(ctx context.Context, userID int) ([]models.GroupSummary, error) {
	var groups []models.GroupSummary
	err := selectAll(ctx, r.q, &groups, psql.Select(prefixColumns("g", groupColumns)...).
		Columns(
			"m.message AS last_message",
			"m.created_at AS last_message_date",
			"(SELECT COUNT(*) FROM group_users c WHERE c.group_id = g.id) AS member_count",
		).
		From("groups g").
		Join("group_users gu ON gu.group_id = g.id").
		LeftJoin("messages m ON m.id = g.last_message_id").
		Where(sq.Eq{"gu.user_id": userID}).
		OrderBy("m.created_at DESC NULLS LAST", "g.name"))
	return groups, err
}

// SetLastMessage points the group at messageID, or clears the pointer when nil.
func (r *GroupRepo) SetLastMessage(ctx context.Context, groupID int, messageID *int) error {
	count, err := exec(ctx, r.q, psql.Update("groups").
		Set("last_message_id", messageID).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": groupID}))
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// MarkRead records that the user has read the group up to at.
func (r *GroupRepo) MarkRead(ctx context.Context, groupID int, userID int, at time.Time) error {
	_, err := exec(ctx, r.q, psql.Update("group_users").
		Set("last_read_at", at).
		Where(sq.Eq{"group_id": groupID, "user_id": userID}))
	return err
}
