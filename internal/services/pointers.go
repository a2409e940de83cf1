package services

import (
	"context"
	"errors"
	"fmt"

	"chat-backend/internal/models"
	"chat-backend/internal/observability"
	"chat-backend/internal/repositories"
)

// applyCreated moves the thread pointer to a freshly inserted message.
// tx must be the store that inserted msg so both writes commit together.
func applyCreated(ctx context.Context, tx repositories.Store, msg models.Message) error {
	target := msg.Target()
	switch {
	case target.IsGroup():
		id := msg.ID
		if err := tx.Groups().SetLastMessage(ctx, target.GroupID(), &id); err != nil {
			return fmt.Errorf("set group pointer: %w", err)
		}
	case target.IsDirect():
		if _, err := tx.Conversations().UpsertLastMessage(ctx, msg.SenderID, target.UserID(), msg.ID); err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}
	default:
		return fmt.Errorf("message %d has no target", msg.ID)
	}
	observability.IncPointerUpdate(threadKind(target), "set")
	return nil
}

// removeMessage deletes msg inside tx. The thread row is locked first so a
// concurrent create or delete on the same thread cannot interleave with the
// pointer read-then-write. It returns the thread's last message afterwards
// and the attachment rows that were removed.
func removeMessage(ctx context.Context, tx repositories.Store, msg models.Message) (*models.Message, []models.Attachment, error) {
	thread := msg.Thread()
	kind := threadKind(msg.Target())

	var (
		pointer *int
		setPointer func(*int) error
	)
	if thread.IsGroup() {
		group, err := tx.Groups().LockGroup(ctx, thread.GroupID)
		if err != nil {
			return nil, nil, fmt.Errorf("lock group: %w", err)
		}
		pointer = group.LastMessageID
		setPointer = func(id *int) error { return tx.Groups().SetLastMessage(ctx, group.ID, id) }
	} else {
		conv, err := tx.Conversations().LockByPair(ctx, thread.UserLow, thread.UserHi)
		switch {
		case errors.Is(err, repositories.ErrConversationNotFound):
		case err != nil:
			return nil, nil, fmt.Errorf("lock conversation: %w", err)
		default:
			pointer = conv.LastMessageID
			setPointer = func(id *int) error { return tx.Conversations().SetLastMessage(ctx, conv.ID, id) }
		}
	}

	next, err := tx.Messages().Latest(ctx, thread, msg.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("find next message: %w", err)
	}

	if pointer != nil && *pointer == msg.ID {
		var nextID *int
		op := "cleared"
		if next != nil {
			id := next.ID
			nextID = &id
			op = "reassigned"
		}
		if err := setPointer(nextID); err != nil {
			return nil, nil, fmt.Errorf("move pointer: %w", err)
		}
		observability.IncPointerUpdate(kind, op)
	}

	if err := tx.Messages().DetachReplies(ctx, []int{msg.ID}); err != nil {
		return nil, nil, fmt.Errorf("detach replies: %w", err)
	}
	removed, err := tx.Attachments().DeleteByMessages(ctx, []int{msg.ID})
	if err != nil {
		return nil, nil, fmt.Errorf("delete attachments: %w", err)
	}
	if err := tx.Messages().DeleteMessage(ctx, msg.ID); err != nil {
		return nil, nil, err
	}
	return next, removed, nil
}

func threadKind(target models.ThreadTarget) string {
	if target.IsGroup() {
		return "group"
	}
	return "direct"
}
