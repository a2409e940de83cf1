package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"chat-backend/internal/models"
)

var conversationColumns = []string{"id", "user_id1", "user_id2", "last_message_id", "created_at", "updated_at"}

// ConversationRepository abstracts the per-pair conversation rows.
type ConversationRepository interface {
	GetByPair(ctx context.Context, userA, userB int) (models.Conversation, error)
	LockByPair(ctx context.Context, userA, userB int) (models.Conversation, error)
	UpsertLastMessage(ctx context.Context, userA, userB int, messageID int) (models.Conversation, error)
	SetLastMessage(ctx context.Context, conversationID int, messageID *int) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	q querier
}

// GetByPair finds the conversation of an unordered user pair.
func (r *ConversationRepo) GetByPair(ctx context.Context, userA, userB int) (models.Conversation, error) {
	return r.fetch(ctx, pairQuery(userA, userB))
}

// LockByPair finds the conversation and locks its row until the transaction ends.
func (r *ConversationRepo) LockByPair(ctx context.Context, userA, userB int) (models.Conversation, error) {
	return r.fetch(ctx, lockPairQuery(userA, userB))
}

func lockPairQuery(userA, userB int) sq.SelectBuilder {
	return pairQuery(userA, userB).Suffix("FOR UPDATE")
}

func pairQuery(userA, userB int) sq.SelectBuilder {
	pair := models.DirectThread(userA, userB)
	return psql.Select(conversationColumns...).
		From("conversations").
		Where(sq.Eq{"user_id1": pair.UserLow, "user_id2": pair.UserHi})
}

func (r *ConversationRepo) fetch(ctx context.Context, b sq.SelectBuilder) (models.Conversation, error) {
	var conv models.Conversation
	err := get(ctx, r.q, &conv, b)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// UpsertLastMessage creates the pair's conversation or moves its pointer to messageID.
// Concurrent first messages converge on a single row through the unique pair index.
func (r *ConversationRepo) UpsertLastMessage(ctx context.Context, userA, userB int, messageID int) (models.Conversation, error) {
	var conv models.Conversation
	err := get(ctx, r.q, &conv, upsertLastMessageQuery(userA, userB, messageID))
	return conv, err
}

func upsertLastMessageQuery(userA, userB, messageID int) sq.InsertBuilder {
	pair := models.DirectThread(userA, userB)
	return psql.Insert("conversations").
		Columns("user_id1", "user_id2", "last_message_id").
		Values(pair.UserLow, pair.UserHi, messageID).
		Suffix("ON CONFLICT (user_id1, user_id2) DO UPDATE " +
			"SET last_message_id = EXCLUDED.last_message_id, updated_at = NOW() " +
			"RETURNING " + joinColumns(conversationColumns))
}

// SetLastMessage points the conversation at messageID, or clears it when nil.
func (r *ConversationRepo) SetLastMessage(ctx context.Context, conversationID int, messageID *int) error {
	count, err := exec(ctx, r.q, psql.Update("conversations").
		Set("last_message_id", messageID).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": conversationID}))
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}
