package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"chat-backend/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

var messageColumns = []string{"id", "message", "sender_id", "receiver_id", "group_id", "reply_to_id", "read_at", "created_at", "updated_at"}

// newestFirst is the recency order used everywhere; id breaks timestamp ties.
var newestFirst = []string{"created_at DESC", "id DESC"}

// MessageRepository defines interactions for messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, senderID int, target models.ThreadTarget, body *string, replyToID *int) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	GetMessages(ctx context.Context, ids []int) ([]models.Message, error)
	ListThread(ctx context.Context, thread models.Thread, limit int) ([]models.Message, error)
	ListBefore(ctx context.Context, thread models.Thread, ref models.Message, limit int) ([]models.Message, error)
	Latest(ctx context.Context, thread models.Thread, excludeID int) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID int) error
	DetachReplies(ctx context.Context, messageIDs []int) error
	ListGroupMessageIDs(ctx context.Context, groupID int) ([]int, error)
	DeleteGroupMessages(ctx context.Context, groupID int) error
	CountUnread(ctx context.Context, userID int, excludeID int) (int, error)
	MarkDirectRead(ctx context.Context, readerID int, senderID int, at time.Time) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	q querier
}

// CreateMessage stores a message addressed to a user or a group.
func (r *MessageRepo) CreateMessage(ctx context.Context, senderID int, target models.ThreadTarget, body *string, replyToID *int) (models.Message, error) {
	var receiverID, groupID *int
	if target.IsDirect() {
		id := target.UserID()
		receiverID = &id
	} else {
		id := target.GroupID()
		groupID = &id
	}

	var msg models.Message
	err := get(ctx, r.q, &msg, psql.Insert("messages").
		Columns("message", "sender_id", "receiver_id", "group_id", "reply_to_id").
		Values(body, senderID, receiverID, groupID, replyToID).
		Suffix("RETURNING "+joinColumns(messageColumns)))
	return msg, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := get(ctx, r.q, &msg, psql.Select(messageColumns...).From("messages").Where(sq.Eq{"id": messageID}))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// GetMessages retrieves several messages; missing ids are skipped.
func (r *MessageRepo) GetMessages(ctx context.Context, ids []int) ([]models.Message, error) {
	if len(ids) == 0 {
		return []models.Message{}, nil
	}
	var msgs []models.Message
	err := selectAll(ctx, r.q, &msgs, psql.Select(messageColumns...).From("messages").Where(sq.Eq{"id": ids}))
	return msgs, err
}

// ListThread returns the newest page of a thread, newest first.
func (r *MessageRepo) ListThread(ctx context.Context, thread models.Thread, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := selectAll(ctx, r.q, &msgs, threadQuery(thread).Limit(uint64(limit)))
	return msgs, err
}

// ListBefore returns the page of the thread ordered right before ref, newest first.
func (r *MessageRepo) ListBefore(ctx context.Context, thread models.Thread, ref models.Message, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := selectAll(ctx, r.q, &msgs, threadQuery(thread).
		Where(sq.Expr("(created_at, id) < (?, ?)", ref.CreatedAt, ref.ID)).
		Limit(uint64(limit)))
	return msgs, err
}

// Latest returns the newest message of the thread other than excludeID, or nil when there is none.
func (r *MessageRepo) Latest(ctx context.Context, thread models.Thread, excludeID int) (*models.Message, error) {
	b := threadQuery(thread).Limit(1)
	if excludeID != 0 {
		b = b.Where(sq.NotEq{"id": excludeID})
	}
	var msg models.Message
	err := get(ctx, r.q, &msg, b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func threadQuery(thread models.Thread) sq.SelectBuilder {
	return psql.Select(messageColumns...).
		From("messages").
		Where(threadFilter(thread)).
		OrderBy(newestFirst...)
}

func threadFilter(thread models.Thread) sq.Sqlizer {
	if thread.IsGroup() {
		return sq.Eq{"group_id": thread.GroupID}
	}
	return sq.Or{
		sq.And{sq.Eq{"sender_id": thread.UserLow}, sq.Eq{"receiver_id": thread.UserHi}},
		sq.And{sq.Eq{"sender_id": thread.UserHi}, sq.Eq{"receiver_id": thread.UserLow}},
	}
}

// DeleteMessage removes a message row. Attachments and replies must be handled first.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID int) error {
	count, err := exec(ctx, r.q, psql.Delete("messages").Where(sq.Eq{"id": messageID}))
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// DetachReplies clears reply_to_id on messages quoting any of messageIDs.
func (r *MessageRepo) DetachReplies(ctx context.Context, messageIDs []int) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := exec(ctx, r.q, psql.Update("messages").
		Set("reply_to_id", nil).
		Where(sq.Eq{"reply_to_id": messageIDs}))
	return err
}

// ListGroupMessageIDs returns the ids of every message in a group.
func (r *MessageRepo) ListGroupMessageIDs(ctx context.Context, groupID int) ([]int, error) {
	var ids []int
	err := selectAll(ctx, r.q, &ids, psql.Select("id").From("messages").Where(sq.Eq{"group_id": groupID}))
	return ids, err
}

// DeleteGroupMessages removes every message of a group.
func (r *MessageRepo) DeleteGroupMessages(ctx context.Context, groupID int) error {
	_, err := exec(ctx, r.q, psql.Delete("messages").Where(sq.Eq{"group_id": groupID}))
	return err
}

// CountUnread counts unread direct messages to the user plus group messages from
// others newer than the user's read mark, ignoring excludeID.
func (r *MessageRepo) CountUnread(ctx context.Context, userID int, excludeID int) (int, error) {
	var count int
	err := get(ctx, r.q, &count, psql.Select().Column(sq.Expr(`
        (SELECT COUNT(*) FROM messages
            WHERE receiver_id = ? AND read_at IS NULL AND id <> ?)
      + (SELECT COUNT(*) FROM messages m
            JOIN group_users gu ON gu.group_id = m.group_id AND gu.user_id = ?
            WHERE m.sender_id <> ? AND m.id <> ?
              AND (gu.last_read_at IS NULL OR m.created_at > gu.last_read_at))`,
		userID, excludeID, userID, userID, excludeID)))
	return count, err
}

// MarkDirectRead marks every message from senderID to readerID as read.
func (r *MessageRepo) MarkDirectRead(ctx context.Context, readerID int, senderID int, at time.Time) error {
	_, err := exec(ctx, r.q, psql.Update("messages").
		Set("read_at", at).
		Where(sq.Eq{"receiver_id": readerID, "sender_id": senderID, "read_at": nil}))
	return err
}
