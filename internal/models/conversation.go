package models

import "time"

// Conversation tracks the last message exchanged between two users.
// UserID1 is always the lower id of the pair.
type Conversation struct {
	ID            int       `db:"id" json:"id"`
	UserID1       int       `db:"user_id1" json:"user_id1"`
	UserID2       int       `db:"user_id2" json:"user_id2"`
	LastMessageID *int      `db:"last_message_id" json:"last_message_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ConversationEntry is one row of the sidebar: either a counterpart user or a group.
type ConversationEntry struct {
	ID              int        `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email,omitempty"`
	Description     *string    `json:"description,omitempty"`
	AvatarURL       *string    `json:"avatar_url"`
	IsGroup         bool       `json:"is_group"`
	IsUser          bool       `json:"is_user"`
	OwnerID         int        `json:"owner_id,omitempty"`
	MemberCount     int        `json:"member_count,omitempty"`
	LastMessage     *string    `json:"last_message"`
	LastMessageDate *time.Time `json:"last_message_date"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
