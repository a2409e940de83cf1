package notify

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"chat-backend/internal/models"
	"chat-backend/internal/observability"
)

// UserFinder loads users.
type UserFinder interface {
	GetByID(ctx context.Context, userID int) (models.User, error)
}

// GroupFinder loads groups and their members.
type GroupFinder interface {
	GetGroup(ctx context.Context, groupID int) (models.Group, error)
	ListMembers(ctx context.Context, groupID int) ([]models.User, error)
}

// UnreadCounter counts unread messages of a user.
type UnreadCounter interface {
	CountUnread(ctx context.Context, userID int, excludeID int) (int, error)
}

// Options tune the fan-out.
type Options struct {
	Timeout     time.Duration
	Concurrency int
}

// Report summarises one fan-out.
type Report struct {
	Sent    int
	Failed  int
	Skipped int
}

// FanOut sends a push for a new message to every recipient with a device token.
// Each recipient is independent: a slow or failing send never affects another
// one nor the caller.
type FanOut struct {
	users  UserFinder
	groups GroupFinder
	unread UnreadCounter
	sender Sender
	opts   Options
}

// NewFanOut builds a FanOut.
func NewFanOut(users UserFinder, groups GroupFinder, unread UnreadCounter, sender Sender, opts Options) *FanOut {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &FanOut{users: users, groups: groups, unread: unread, sender: sender, opts: opts}
}

// Notify starts delivery in the background and returns immediately.
func (f *FanOut) Notify(ctx context.Context, msg models.MessageView) {
	go f.Deliver(context.WithoutCancel(ctx), msg)
}

// Deliver sends the pushes for msg and waits for all of them.
func (f *FanOut) Deliver(ctx context.Context, msg models.MessageView) Report {
	logger := log.With().Int("message_id", msg.ID).Int("sender_id", msg.SenderID).Logger()

	recipients, group, err := f.recipients(ctx, msg.Message)
	if err != nil {
		logger.Error().Err(err).Msg("push fan-out: failed to resolve recipients")
		return Report{}
	}

	title, err := f.title(ctx, msg)
	if err != nil {
		logger.Error().Err(err).Msg("push fan-out: failed to resolve sender")
		return Report{}
	}
	body := Body(msg)
	data := payload(msg, title, group)

	var (
		mu      sync.Mutex
		report  Report
		skipped int
	)
	g := new(errgroup.Group)
	g.SetLimit(f.opts.Concurrency)
	for _, r := range recipients {
		if !r.HasPushToken() {
			logger.Info().Int("recipient_id", r.ID).Msg("push fan-out: recipient has no push token")
			skipped++
			continue
		}
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
			defer cancel()

			token := *r.PushToken
			provider := Provider(token)
			err := f.sender.Send(sendCtx, Push{
				Token: token,
				Title: title,
				Body:  body,
				Badge: f.badge(sendCtx, r.ID, msg.ID),
				Data:  data,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				observability.IncPushSend(provider, "error")
				logger.Warn().Err(err).
					Int("recipient_id", r.ID).
					Str("token_type", provider).
					Str("token_preview", tokenPreview(token)).
					Msg("push fan-out: send failed")
				return nil
			}
			report.Sent++
			observability.IncPushSend(provider, "ok")
			logger.Debug().Int("recipient_id", r.ID).Str("token_type", provider).Msg("push fan-out: sent")
			return nil
		})
	}
	_ = g.Wait()
	report.Skipped = skipped
	return report
}

func (f *FanOut) recipients(ctx context.Context, msg models.Message) ([]models.User, *models.Group, error) {
	target := msg.Target()
	switch {
	case target.IsDirect():
		if target.UserID() == msg.SenderID {
			return nil, nil, nil
		}
		user, err := f.users.GetByID(ctx, target.UserID())
		if err != nil {
			return nil, nil, fmt.Errorf("load receiver: %w", err)
		}
		return []models.User{user}, nil, nil
	case target.IsGroup():
		group, err := f.groups.GetGroup(ctx, target.GroupID())
		if err != nil {
			return nil, nil, fmt.Errorf("load group: %w", err)
		}
		members, err := f.groups.ListMembers(ctx, group.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("load members: %w", err)
		}
		out := make([]models.User, 0, len(members))
		for _, m := range members {
			if m.ID != msg.SenderID {
				out = append(out, m)
			}
		}
		return out, &group, nil
	default:
		return nil, nil, fmt.Errorf("message %d has no target", msg.ID)
	}
}

// title is always the sender's display name, for direct and group messages alike.
func (f *FanOut) title(ctx context.Context, msg models.MessageView) (string, error) {
	if msg.Sender != nil {
		return msg.Sender.Name, nil
	}
	sender, err := f.users.GetByID(ctx, msg.SenderID)
	if err != nil {
		return "", err
	}
	return sender.Name, nil
}

func (f *FanOut) badge(ctx context.Context, recipientID, messageID int) int {
	unread, err := f.unread.CountUnread(ctx, recipientID, messageID)
	if err != nil {
		log.Warn().Err(err).Int("recipient_id", recipientID).Msg("push fan-out: unread count failed")
		return 1
	}
	return unread + 1
}

func payload(msg models.MessageView, senderName string, group *models.Group) map[string]string {
	data := map[string]string{
		"type":        "new_message",
		"message_id":  strconv.Itoa(msg.ID),
		"sender_id":   strconv.Itoa(msg.SenderID),
		"sender_name": senderName,
	}
	if group != nil {
		data["conversation_type"] = "group"
		data["conversation_id"] = strconv.Itoa(group.ID)
		data["conversation_name"] = group.Name
		data["group_id"] = strconv.Itoa(group.ID)
		return data
	}
	data["conversation_type"] = "user"
	data["conversation_id"] = strconv.Itoa(msg.SenderID)
	data["conversation_name"] = senderName
	if msg.ReceiverID != nil {
		data["receiver_id"] = strconv.Itoa(*msg.ReceiverID)
	}
	return data
}
