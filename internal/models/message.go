package models

import "time"

// Message is a direct or group message. Exactly one of ReceiverID and GroupID is set.
type Message struct {
	ID         int        `db:"id" json:"id"`
	Body       *string    `db:"message" json:"message"`
	SenderID   int        `db:"sender_id" json:"sender_id"`
	ReceiverID *int       `db:"receiver_id" json:"receiver_id"`
	GroupID    *int       `db:"group_id" json:"group_id"`
	ReplyToID  *int       `db:"reply_to_id" json:"reply_to_id"`
	ReadAt     *time.Time `db:"read_at" json:"-"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// Text returns the body or an empty string.
func (m Message) Text() string {
	if m.Body == nil {
		return ""
	}
	return *m.Body
}

// Target returns the addressing of the message.
func (m Message) Target() ThreadTarget {
	if m.GroupID != nil {
		return GroupTarget(*m.GroupID)
	}
	if m.ReceiverID != nil {
		return DirectTarget(*m.ReceiverID)
	}
	return ThreadTarget{}
}

// Thread returns the thread the message belongs to.
func (m Message) Thread() Thread {
	return m.Target().ThreadFor(m.SenderID)
}

// Attachment is a file stored alongside a message.
type Attachment struct {
	ID        int       `db:"id" json:"id"`
	MessageID int       `db:"message_id" json:"message_id"`
	Name      string    `db:"name" json:"name"`
	Mime      string    `db:"mime" json:"mime"`
	Size      int64     `db:"size" json:"size"`
	Path      string    `db:"path" json:"path"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AttachmentView adds a public URL to an attachment.
type AttachmentView struct {
	Attachment
	URL string `json:"url"`
}

// ReplyPreview is the quoted message shown above a reply.
type ReplyPreview struct {
	ID          int              `json:"id"`
	Body        *string          `json:"message"`
	Sender      *UserView        `json:"sender"`
	Attachments []AttachmentView `json:"attachments"`
}

// MessageView is a message resolved with its sender, attachments and reply preview.
type MessageView struct {
	Message
	Sender      *UserView        `json:"sender"`
	Attachments []AttachmentView `json:"attachments"`
	ReplyTo     *ReplyPreview    `json:"reply_to,omitempty"`
}

// MessageEvent is broadcast over websocket connections.
type MessageEvent struct {
	Type        string       `json:"type"`
	Message     *MessageView `json:"message,omitempty"`
	MessageID   int          `json:"message_id,omitempty"`
	GroupID     *int         `json:"group_id,omitempty"`
	ReceiverID  *int         `json:"receiver_id,omitempty"`
	LastMessage *MessageView `json:"last_message,omitempty"`
}
