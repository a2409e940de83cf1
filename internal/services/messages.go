package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"chat-backend/internal/models"
	"chat-backend/internal/observability"
	"chat-backend/internal/repositories"
	"chat-backend/internal/storage"
)

const (
	PageSize       = 10
	MaxAttachments = 10

	attachmentDir = "attachments"
)

const (
	EventMessageCreated = "message_created"
	EventMessageDeleted = "message_deleted"
	EventGroupDeleted   = "group_deleted"
)

// Upload is one file submitted with a message.
type Upload struct {
	Name string
	Mime string
	Size int64
	Open func() (io.ReadCloser, error)
}

// NewMessage is the validated input of MessageService.Create.
type NewMessage struct {
	SenderID  int
	Target    models.ThreadTarget
	Body      *string
	ReplyToID *int
	Files     []Upload
}

// Broadcaster pushes realtime events to connected clients.
type Broadcaster interface {
	PublishToUsers(event models.MessageEvent, userIDs ...int)
	PublishToGroup(groupID int, event models.MessageEvent)
}

// Notifier delivers push notifications for a new message.
type Notifier interface {
	Notify(ctx context.Context, msg models.MessageView)
}

// MessageService creates, deletes and pages messages.
type MessageService struct {
	store    repositories.Store
	files    storage.FileStore
	hub      Broadcaster
	notifier Notifier
	present  presenter
	now      func() time.Time
}

// NewMessageService builds a MessageService. hub and notifier may be nil.
func NewMessageService(store repositories.Store, files storage.FileStore, hub Broadcaster, notifier Notifier) *MessageService {
	return &MessageService{
		store:    store,
		files:    files,
		hub:      hub,
		notifier: notifier,
		present:  presenter{store: store, files: files},
		now:      time.Now,
	}
}

// Create stores a message with its attachments and moves the thread pointer
// to it in one transaction. Broadcast and push delivery happen after commit.
func (s *MessageService) Create(ctx context.Context, in NewMessage) (models.MessageView, error) {
	in.Body = trimBody(in.Body)
	if err := s.validate(ctx, in); err != nil {
		return models.MessageView{}, err
	}

	stored, err := s.storeFiles(ctx, in.Files)
	if err != nil {
		return models.MessageView{}, err
	}

	var msg models.Message
	err = s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		msg, err = tx.Messages().CreateMessage(ctx, in.SenderID, in.Target, in.Body, in.ReplyToID)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		for _, f := range stored {
			if _, err := tx.Attachments().CreateAttachment(ctx, models.Attachment{
				MessageID: msg.ID,
				Name:      f.Name,
				Mime:      f.Mime,
				Size:      f.Size,
				Path:      f.Path,
			}); err != nil {
				return fmt.Errorf("insert attachment: %w", err)
			}
		}
		return applyCreated(ctx, tx, msg)
	})
	if err != nil {
		s.removeStored(ctx, stored)
		return models.MessageView{}, err
	}
	observability.IncMessage(threadKind(in.Target), "created")

	view, err := s.present.message(ctx, msg)
	if err != nil {
		return models.MessageView{}, err
	}

	s.broadcast(msg, models.MessageEvent{Type: EventMessageCreated, Message: &view, MessageID: msg.ID, GroupID: msg.GroupID, ReceiverID: msg.ReceiverID})
	if s.notifier != nil {
		s.notifier.Notify(context.WithoutCancel(ctx), view)
	}
	return view, nil
}

func (s *MessageService) validate(ctx context.Context, in NewMessage) error {
	if !in.Target.Valid() {
		return invalid("receiver_id", models.ErrTargetMissing.Error())
	}
	if in.Body == nil && len(in.Files) == 0 {
		return invalid("message", "a message or at least one attachment is required")
	}
	if len(in.Files) > MaxAttachments {
		return invalid("attachments", fmt.Sprintf("no more than %d attachments are allowed", MaxAttachments))
	}

	switch {
	case in.Target.IsDirect():
		if in.Target.UserID() == in.SenderID {
			return invalid("receiver_id", "you cannot message yourself")
		}
		if _, err := s.store.Users().GetByID(ctx, in.Target.UserID()); err != nil {
			if errors.Is(err, repositories.ErrUserNotFound) {
				return invalid("receiver_id", "the selected receiver does not exist")
			}
			return err
		}
	case in.Target.IsGroup():
		if _, err := s.store.Groups().GetGroup(ctx, in.Target.GroupID()); err != nil {
			if errors.Is(err, repositories.ErrGroupNotFound) {
				return invalid("group_id", "the selected group does not exist")
			}
			return err
		}
		member, err := s.store.Groups().IsMember(ctx, in.Target.GroupID(), in.SenderID)
		if err != nil {
			return err
		}
		if !member {
			return ErrNotMember
		}
	}

	if in.ReplyToID != nil {
		ref, err := s.store.Messages().GetMessage(ctx, *in.ReplyToID)
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return invalid("reply_to_id", "the message being replied to does not exist")
		}
		if err != nil {
			return err
		}
		// A reply may only quote a message of its own thread.
		if ref.Thread() != in.Target.ThreadFor(in.SenderID) {
			return invalid("reply_to_id", "the message being replied to belongs to another conversation")
		}
	}
	return nil
}

func (s *MessageService) storeFiles(ctx context.Context, uploads []Upload) ([]storage.Stored, error) {
	stored := make([]storage.Stored, 0, len(uploads))
	for _, u := range uploads {
		f, err := u.Open()
		if err != nil {
			s.removeStored(ctx, stored)
			return nil, fmt.Errorf("open upload: %w", err)
		}
		out, err := s.files.Store(ctx, attachmentDir, u.Name, u.Mime, f)
		_ = f.Close()
		if err != nil {
			s.removeStored(ctx, stored)
			return nil, fmt.Errorf("store upload: %w", err)
		}
		stored = append(stored, out)
	}
	return stored, nil
}

func (s *MessageService) removeStored(ctx context.Context, stored []storage.Stored) {
	for _, f := range stored {
		if err := s.files.Delete(ctx, f.Path); err != nil {
			log.Warn().Err(err).Str("path", f.Path).Msg("failed to remove stored file")
		}
	}
}

func (s *MessageService) removeAttachments(ctx context.Context, atts []models.Attachment) {
	for _, a := range atts {
		if err := s.files.Delete(ctx, a.Path); err != nil {
			log.Warn().Err(err).Str("path", a.Path).Int("attachment_id", a.ID).Msg("failed to remove attachment file")
		}
	}
}

// Delete removes a message sent by userID and returns the thread's last
// message afterwards, or nil when the thread is now empty.
func (s *MessageService) Delete(ctx context.Context, userID, messageID int) (*models.MessageView, error) {
	var (
		msg     models.Message
		last    *models.Message
		removed []models.Attachment
	)
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		msg, err = tx.Messages().GetMessage(ctx, messageID)
		if err != nil {
			return err
		}
		if msg.SenderID != userID {
			return ErrForbidden
		}
		last, removed, err = removeMessage(ctx, tx, msg)
		return err
	})
	if err != nil {
		return nil, err
	}
	observability.IncMessage(threadKind(msg.Target()), "deleted")
	s.removeAttachments(ctx, removed)

	var view *models.MessageView
	if last != nil {
		v, err := s.present.message(ctx, *last)
		if err != nil {
			return nil, err
		}
		view = &v
	}

	s.broadcast(msg, models.MessageEvent{Type: EventMessageDeleted, MessageID: msg.ID, GroupID: msg.GroupID, ReceiverID: msg.ReceiverID, LastMessage: view})
	return view, nil
}

func (s *MessageService) broadcast(msg models.Message, event models.MessageEvent) {
	if s.hub == nil {
		return
	}
	if msg.GroupID != nil {
		s.hub.PublishToGroup(*msg.GroupID, event)
		return
	}
	if msg.ReceiverID != nil {
		s.hub.PublishToUsers(event, msg.SenderID, *msg.ReceiverID)
	}
}

// ListDirect returns the newest page of the conversation between viewer and other.
func (s *MessageService) ListDirect(ctx context.Context, viewerID, otherID int) ([]models.MessageView, error) {
	if _, err := s.store.Users().GetByID(ctx, otherID); err != nil {
		return nil, err
	}
	msgs, err := s.store.Messages().ListThread(ctx, models.DirectThread(viewerID, otherID), PageSize)
	if err != nil {
		return nil, err
	}
	return s.present.messages(ctx, msgs)
}

// ListGroup returns the newest page of a group the viewer belongs to.
func (s *MessageService) ListGroup(ctx context.Context, viewerID, groupID int) ([]models.MessageView, error) {
	if err := s.requireMember(ctx, groupID, viewerID); err != nil {
		return nil, err
	}
	msgs, err := s.store.Messages().ListThread(ctx, models.GroupThread(groupID), PageSize)
	if err != nil {
		return nil, err
	}
	return s.present.messages(ctx, msgs)
}

// ListOlder returns the page of the reference message's thread ordered right before it.
func (s *MessageService) ListOlder(ctx context.Context, viewerID, messageID int) ([]models.MessageView, error) {
	ref, err := s.store.Messages().GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	thread := ref.Thread()
	if thread.IsGroup() {
		if err := s.requireMember(ctx, thread.GroupID, viewerID); err != nil {
			return nil, err
		}
	} else if !thread.Includes(viewerID) {
		return nil, ErrForbidden
	}

	msgs, err := s.store.Messages().ListBefore(ctx, thread, ref, PageSize)
	if err != nil {
		return nil, err
	}
	return s.present.messages(ctx, msgs)
}

// MarkDirectRead marks every message from otherID to the viewer as read.
func (s *MessageService) MarkDirectRead(ctx context.Context, viewerID, otherID int) error {
	return s.store.Messages().MarkDirectRead(ctx, viewerID, otherID, s.now())
}

// MarkGroupRead moves the viewer's read mark of the group to now.
func (s *MessageService) MarkGroupRead(ctx context.Context, viewerID, groupID int) error {
	if err := s.requireMember(ctx, groupID, viewerID); err != nil {
		return err
	}
	return s.store.Groups().MarkRead(ctx, groupID, viewerID, s.now())
}

func (s *MessageService) requireMember(ctx context.Context, groupID, userID int) error {
	if _, err := s.store.Groups().GetGroup(ctx, groupID); err != nil {
		return err
	}
	member, err := s.store.Groups().IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotMember
	}
	return nil
}

func trimBody(body *string) *string {
	if body == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*body)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
