// Package notify delivers push notifications for new messages through Expo or
// Firebase Cloud Messaging.
package notify

import (
	"context"
	"errors"
	"strings"

	"chat-backend/internal/models"
	"chat-backend/internal/voice"
)

const expoTokenPrefix = "ExponentPushToken"

const (
	ProviderExpo = "expo"
	ProviderFCM  = "fcm"
)

var ErrProviderDisabled = errors.New("push provider not configured")

// Push is a single notification addressed to one device token.
type Push struct {
	Token string
	Title string
	Body  string
	Badge int
	Data  map[string]string
}

// Sender delivers one push.
type Sender interface {
	Send(ctx context.Context, push Push) error
}

// Provider names the service that accepts token.
func Provider(token string) string {
	if strings.HasPrefix(token, expoTokenPrefix) {
		return ProviderExpo
	}
	return ProviderFCM
}

// Dispatcher routes pushes to Expo or FCM by token prefix.
type Dispatcher struct {
	Expo Sender
	FCM  Sender
}

func (d Dispatcher) Send(ctx context.Context, push Push) error {
	sender := d.FCM
	if Provider(push.Token) == ProviderExpo {
		sender = d.Expo
	}
	if sender == nil {
		return ErrProviderDisabled
	}
	return sender.Send(ctx, push)
}

// Body is the notification text of a message.
func Body(msg models.MessageView) string {
	text := msg.Text()
	if text != "" && !voice.IsVoice(text) {
		return text
	}
	if voice.IsVoice(text) || len(msg.Attachments) > 0 {
		return attachmentLabel(text, msg.Attachments)
	}
	return "New message"
}

func attachmentLabel(text string, atts []models.AttachmentView) string {
	if voice.IsVoice(text) {
		return "Sent a voice message"
	}
	hasImage := false
	for _, a := range atts {
		switch {
		case strings.HasPrefix(a.Mime, "audio/"):
			return "Sent a voice message"
		case strings.HasPrefix(a.Mime, "image/"):
			hasImage = true
		}
	}
	if hasImage {
		return "Sent a photo"
	}
	return "Sent an attachment"
}

func tokenPreview(token string) string {
	if len(token) <= 20 {
		return token
	}
	return token[:20] + "..."
}
