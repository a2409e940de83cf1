package models

import "time"

// Group represents a chat group.
type Group struct {
	ID            int       `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Description   *string   `db:"description" json:"description"`
	OwnerID       int       `db:"owner_id" json:"owner_id"`
	LastMessageID *int      `db:"last_message_id" json:"last_message_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// GroupSummary is a group joined with its last message and member count.
type GroupSummary struct {
	Group
	LastMessage     *string    `db:"last_message" json:"last_message"`
	LastMessageDate *time.Time `db:"last_message_date" json:"last_message_date"`
	MemberCount     int        `db:"member_count" json:"member_count"`
}

// GroupDetails is returned by group create and update.
type GroupDetails struct {
	Group
	Users []UserView `json:"users"`
}
