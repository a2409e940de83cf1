package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"chat-backend/internal/models"
	"chat-backend/internal/observability"
	"chat-backend/internal/repositories"
	"chat-backend/internal/storage"
	"chat-backend/internal/voice"
)

// GroupInput carries the writable fields of a group. Nil fields are left unchanged on update.
type GroupInput struct {
	Name        *string
	Description *string
	UserIDs     []int
}

// GroupService manages groups and their membership.
type GroupService struct {
	store   repositories.Store
	files   storage.FileStore
	hub     Broadcaster
	present presenter
}

// NewGroupService constructs a GroupService. hub may be nil.
func NewGroupService(store repositories.Store, files storage.FileStore, hub Broadcaster) *GroupService {
	return &GroupService{store: store, files: files, hub: hub, present: presenter{store: store, files: files}}
}

// Create makes a group owned by ownerID. The owner is always added as a member.
func (s *GroupService) Create(ctx context.Context, ownerID int, in GroupInput) (models.GroupDetails, error) {
	memberIDs := uniqueInts(in.UserIDs)
	users, err := s.store.Users().GetByIDs(ctx, memberIDs)
	if err != nil {
		return models.GroupDetails{}, err
	}
	if len(users) != len(memberIDs) {
		return models.GroupDetails{}, invalid("user_ids", "one or more selected users do not exist")
	}

	var group models.Group
	err = s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		group, err = tx.Groups().CreateGroup(ctx, ownerID, trimName(in.Name), trimBody(in.Description), memberIDs)
		return err
	})
	if err != nil {
		return models.GroupDetails{}, fmt.Errorf("create group: %w", err)
	}
	return s.details(ctx, group)
}

// ListForUser returns the user's groups with their last message preview.
func (s *GroupService) ListForUser(ctx context.Context, userID int) ([]models.GroupSummary, error) {
	groups, err := s.store.Groups().ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range groups {
		if groups[i].LastMessage != nil {
			preview := voice.Preview(*groups[i].LastMessage)
			groups[i].LastMessage = &preview
		}
	}
	return groups, nil
}

// Update renames or redescribes a group. Only the owner or an admin may do so.
func (s *GroupService) Update(ctx context.Context, actorID, groupID int, in GroupInput) (models.GroupDetails, error) {
	group, err := s.store.Groups().GetGroup(ctx, groupID)
	if err != nil {
		return models.GroupDetails{}, err
	}
	if err := s.authorize(ctx, actorID, group); err != nil {
		return models.GroupDetails{}, err
	}

	name := group.Name
	if in.Name != nil {
		name = trimName(in.Name)
	}
	description := group.Description
	if in.Description != nil {
		description = trimBody(in.Description)
	}

	group, err = s.store.Groups().UpdateGroup(ctx, groupID, name, description)
	if err != nil {
		return models.GroupDetails{}, err
	}
	return s.details(ctx, group)
}

// Delete removes a group with all of its messages, attachments and memberships
// in one transaction. Attachment files are removed after commit.
func (s *GroupService) Delete(ctx context.Context, actorID, groupID int) error {
	var removed []models.Attachment
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		group, err := tx.Groups().LockGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if err := s.authorizeWith(ctx, tx, actorID, group); err != nil {
			return err
		}
		if err := tx.Groups().SetLastMessage(ctx, groupID, nil); err != nil {
			return fmt.Errorf("clear pointer: %w", err)
		}

		ids, err := tx.Messages().ListGroupMessageIDs(ctx, groupID)
		if err != nil {
			return err
		}
		if err := tx.Messages().DetachReplies(ctx, ids); err != nil {
			return fmt.Errorf("detach replies: %w", err)
		}
		if removed, err = tx.Attachments().DeleteByMessages(ctx, ids); err != nil {
			return fmt.Errorf("delete attachments: %w", err)
		}
		if err := tx.Messages().DeleteGroupMessages(ctx, groupID); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := tx.Groups().RemoveMembers(ctx, groupID); err != nil {
			return fmt.Errorf("remove members: %w", err)
		}
		return tx.Groups().DeleteGroup(ctx, groupID)
	})
	if err != nil {
		return err
	}
	observability.IncPointerUpdate("group", "cleared")

	for _, a := range removed {
		if err := s.files.Delete(ctx, a.Path); err != nil {
			log.Warn().Err(err).Str("path", a.Path).Int("group_id", groupID).Msg("failed to remove attachment file")
		}
	}
	if s.hub != nil {
		id := groupID
		s.hub.PublishToGroup(groupID, models.MessageEvent{Type: EventGroupDeleted, GroupID: &id})
	}
	return nil
}

func (s *GroupService) authorize(ctx context.Context, actorID int, group models.Group) error {
	return s.authorizeWith(ctx, s.store, actorID, group)
}

func (s *GroupService) authorizeWith(ctx context.Context, store repositories.Store, actorID int, group models.Group) error {
	if group.OwnerID == actorID {
		return nil
	}
	actor, err := store.Users().GetByID(ctx, actorID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return err
	}
	if !actor.IsAdmin {
		return ErrForbidden
	}
	return nil
}

func (s *GroupService) details(ctx context.Context, group models.Group) (models.GroupDetails, error) {
	members, err := s.store.Groups().ListMembers(ctx, group.ID)
	if err != nil {
		return models.GroupDetails{}, err
	}
	views := make([]models.UserView, 0, len(members))
	for _, m := range members {
		views = append(views, s.present.userView(m))
	}
	return models.GroupDetails{Group: group, Users: views}, nil
}

func trimName(name *string) string {
	if name == nil {
		return ""
	}
	return strings.TrimSpace(*name)
}
