package services

import (
	"context"
	"fmt"

	"chat-backend/internal/models"
	"chat-backend/internal/repositories"
	"chat-backend/internal/storage"
)

// presenter resolves the URLs and relations that API responses carry.
type presenter struct {
	store repositories.Store
	files storage.FileStore
}

func (p presenter) userView(u models.User) models.UserView {
	view := models.UserView{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		IsAdmin:   u.IsAdmin,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	if u.Avatar != nil && *u.Avatar != "" {
		url := p.files.URL(*u.Avatar)
		view.AvatarURL = &url
	}
	return view
}

func (p presenter) attachmentViews(atts []models.Attachment) []models.AttachmentView {
	views := make([]models.AttachmentView, 0, len(atts))
	for _, a := range atts {
		views = append(views, models.AttachmentView{Attachment: a, URL: p.files.URL(a.Path)})
	}
	return views
}

// messages hydrates msgs with senders, attachments and reply previews using a
// fixed number of queries regardless of page size.
func (p presenter) messages(ctx context.Context, msgs []models.Message) ([]models.MessageView, error) {
	if len(msgs) == 0 {
		return []models.MessageView{}, nil
	}

	replyIDs := make([]int, 0)
	for _, m := range msgs {
		if m.ReplyToID != nil {
			replyIDs = append(replyIDs, *m.ReplyToID)
		}
	}
	replies, err := p.store.Messages().GetMessages(ctx, uniqueInts(replyIDs))
	if err != nil {
		return nil, fmt.Errorf("load replies: %w", err)
	}
	replyByID := make(map[int]models.Message, len(replies))
	for _, r := range replies {
		replyByID[r.ID] = r
	}

	userIDs := make([]int, 0, len(msgs)+len(replies))
	messageIDs := make([]int, 0, len(msgs)+len(replies))
	for _, m := range msgs {
		userIDs = append(userIDs, m.SenderID)
		messageIDs = append(messageIDs, m.ID)
	}
	for _, r := range replies {
		userIDs = append(userIDs, r.SenderID)
		messageIDs = append(messageIDs, r.ID)
	}

	users, err := p.store.Users().GetByIDs(ctx, uniqueInts(userIDs))
	if err != nil {
		return nil, fmt.Errorf("load senders: %w", err)
	}
	userByID := make(map[int]models.UserView, len(users))
	for _, u := range users {
		userByID[u.ID] = p.userView(u)
	}

	atts, err := p.store.Attachments().ListByMessages(ctx, uniqueInts(messageIDs))
	if err != nil {
		return nil, fmt.Errorf("load attachments: %w", err)
	}
	attsByMessage := make(map[int][]models.Attachment)
	for _, a := range atts {
		attsByMessage[a.MessageID] = append(attsByMessage[a.MessageID], a)
	}

	sender := func(id int) *models.UserView {
		if u, ok := userByID[id]; ok {
			return &u
		}
		return nil
	}

	views := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		view := models.MessageView{
			Message:     m,
			Sender:      sender(m.SenderID),
			Attachments: p.attachmentViews(attsByMessage[m.ID]),
		}
		if m.ReplyToID != nil {
			if r, ok := replyByID[*m.ReplyToID]; ok {
				view.ReplyTo = &models.ReplyPreview{
					ID:          r.ID,
					Body:        r.Body,
					Sender:      sender(r.SenderID),
					Attachments: p.attachmentViews(attsByMessage[r.ID]),
				}
			}
		}
		views = append(views, view)
	}
	return views, nil
}

func (p presenter) message(ctx context.Context, msg models.Message) (models.MessageView, error) {
	views, err := p.messages(ctx, []models.Message{msg})
	if err != nil {
		return models.MessageView{}, err
	}
	return views[0], nil
}

func uniqueInts(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
