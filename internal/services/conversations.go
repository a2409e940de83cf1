package services

import (
	"context"
	"fmt"
	"sort"

	"chat-backend/internal/models"
	"chat-backend/internal/repositories"
	"chat-backend/internal/storage"
	"chat-backend/internal/voice"
)

// ConversationService builds the sidebar of a user.
type ConversationService struct {
	store   repositories.Store
	present presenter
}

// NewConversationService constructs a ConversationService.
func NewConversationService(store repositories.Store, files storage.FileStore) *ConversationService {
	return &ConversationService{store: store, present: presenter{store: store, files: files}}
}

// List returns direct counterparts and groups of userID merged by recency.
// Entries without messages come last; equal dates are ordered by name.
func (s *ConversationService) List(ctx context.Context, userID int) ([]models.ConversationEntry, error) {
	counterparts, err := s.store.Users().ListCounterparts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list counterparts: %w", err)
	}

	entries := make([]models.ConversationEntry, 0, len(counterparts))
	for _, u := range counterparts {
		last, err := s.store.Messages().Latest(ctx, models.DirectThread(userID, u.ID), 0)
		if err != nil {
			return nil, fmt.Errorf("latest message with %d: %w", u.ID, err)
		}
		if last == nil {
			continue
		}
		view := s.present.userView(u)
		entry := models.ConversationEntry{
			ID:        u.ID,
			Name:      u.Name,
			Email:     u.Email,
			AvatarURL: view.AvatarURL,
			IsUser:    true,
			CreatedAt: u.CreatedAt,
			UpdatedAt: u.UpdatedAt,
		}
		preview := voice.Preview(last.Text())
		date := last.CreatedAt
		entry.LastMessage = &preview
		entry.LastMessageDate = &date
		entries = append(entries, entry)
	}

	groups, err := s.store.Groups().ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	for _, g := range groups {
		entries = append(entries, groupEntry(g))
	}

	sortEntries(entries)
	return entries, nil
}

func groupEntry(g models.GroupSummary) models.ConversationEntry {
	entry := models.ConversationEntry{
		ID:              g.ID,
		Name:            g.Name,
		Description:     g.Description,
		IsGroup:         true,
		OwnerID:         g.OwnerID,
		MemberCount:     g.MemberCount,
		LastMessageDate: g.LastMessageDate,
		CreatedAt:       g.CreatedAt,
		UpdatedAt:       g.UpdatedAt,
	}
	if g.LastMessageDate != nil {
		preview := ""
		if g.LastMessage != nil {
			preview = voice.Preview(*g.LastMessage)
		}
		entry.LastMessage = &preview
	}
	return entry
}

func sortEntries(entries []models.ConversationEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].LastMessageDate, entries[j].LastMessageDate
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return entries[i].Name < entries[j].Name
	})
}
