package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-backend/internal/models"
	"chat-backend/internal/services"
)

type MessageServiceMock struct {
	mock.Mock
}

func (m *MessageServiceMock) Create(ctx context.Context, in services.NewMessage) (models.MessageView, error) {
	args := m.Called(ctx, in)
	var view models.MessageView
	if val := args.Get(0); val != nil {
		view = val.(models.MessageView)
	}
	return view, args.Error(1)
}

func (m *MessageServiceMock) Delete(ctx context.Context, userID, messageID int) (*models.MessageView, error) {
	args := m.Called(ctx, userID, messageID)
	var view *models.MessageView
	if val := args.Get(0); val != nil {
		view = val.(*models.MessageView)
	}
	return view, args.Error(1)
}

func (m *MessageServiceMock) ListDirect(ctx context.Context, viewerID, otherID int) ([]models.MessageView, error) {
	args := m.Called(ctx, viewerID, otherID)
	return messageList(args)
}

func (m *MessageServiceMock) ListGroup(ctx context.Context, viewerID, groupID int) ([]models.MessageView, error) {
	args := m.Called(ctx, viewerID, groupID)
	return messageList(args)
}

func (m *MessageServiceMock) ListOlder(ctx context.Context, viewerID, messageID int) ([]models.MessageView, error) {
	args := m.Called(ctx, viewerID, messageID)
	return messageList(args)
}

func (m *MessageServiceMock) MarkDirectRead(ctx context.Context, viewerID, otherID int) error {
	args := m.Called(ctx, viewerID, otherID)
	return args.Error(0)
}

func (m *MessageServiceMock) MarkGroupRead(ctx context.Context, viewerID, groupID int) error {
	args := m.Called(ctx, viewerID, groupID)
	return args.Error(0)
}

func messageList(args mock.Arguments) ([]models.MessageView, error) {
	var list []models.MessageView
	if val := args.Get(0); val != nil {
		list = val.([]models.MessageView)
	}
	return list, args.Error(1)
}

type ConversationListerMock struct {
	mock.Mock
}

func (m *ConversationListerMock) List(ctx context.Context, userID int) ([]models.ConversationEntry, error) {
	args := m.Called(ctx, userID)
	var list []models.ConversationEntry
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationEntry)
	}
	return list, args.Error(1)
}

type GroupServiceMock struct {
	mock.Mock
}

func (m *GroupServiceMock) Create(ctx context.Context, ownerID int, in services.GroupInput) (models.GroupDetails, error) {
	args := m.Called(ctx, ownerID, in)
	var group models.GroupDetails
	if val := args.Get(0); val != nil {
		group = val.(models.GroupDetails)
	}
	return group, args.Error(1)
}

func (m *GroupServiceMock) ListForUser(ctx context.Context, userID int) ([]models.GroupSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.GroupSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.GroupSummary)
	}
	return list, args.Error(1)
}

func (m *GroupServiceMock) Update(ctx context.Context, actorID, groupID int, in services.GroupInput) (models.GroupDetails, error) {
	args := m.Called(ctx, actorID, groupID, in)
	var group models.GroupDetails
	if val := args.Get(0); val != nil {
		group = val.(models.GroupDetails)
	}
	return group, args.Error(1)
}

func (m *GroupServiceMock) Delete(ctx context.Context, actorID, groupID int) error {
	args := m.Called(ctx, actorID, groupID)
	return args.Error(0)
}

type AccountServiceMock struct {
	mock.Mock
}

func (m *AccountServiceMock) Register(ctx context.Context, in services.Registration) (services.Session, error) {
	args := m.Called(ctx, in)
	var session services.Session
	if val := args.Get(0); val != nil {
		session = val.(services.Session)
	}
	return session, args.Error(1)
}

func (m *AccountServiceMock) Login(ctx context.Context, email, password string) (services.Session, error) {
	args := m.Called(ctx, email, password)
	var session services.Session
	if val := args.Get(0); val != nil {
		session = val.(services.Session)
	}
	return session, args.Error(1)
}

func (m *AccountServiceMock) Logout(ctx context.Context, tokenID string) error {
	args := m.Called(ctx, tokenID)
	return args.Error(0)
}

func (m *AccountServiceMock) Profile(ctx context.Context, userID int) (models.UserView, error) {
	args := m.Called(ctx, userID)
	return userView(args)
}

func (m *AccountServiceMock) UpdateProfile(ctx context.Context, userID int, name, email string) (models.UserView, error) {
	args := m.Called(ctx, userID, name, email)
	return userView(args)
}

func (m *AccountServiceMock) RegisterPushToken(ctx context.Context, userID int, token string) error {
	args := m.Called(ctx, userID, token)
	return args.Error(0)
}

func (m *AccountServiceMock) UpdateAvatar(ctx context.Context, userID int, upload services.Upload) (models.UserView, error) {
	args := m.Called(ctx, userID, upload)
	return userView(args)
}

func (m *AccountServiceMock) ListUsers(ctx context.Context, userID int) ([]models.UserView, error) {
	args := m.Called(ctx, userID)
	var list []models.UserView
	if val := args.Get(0); val != nil {
		list = val.([]models.UserView)
	}
	return list, args.Error(1)
}

func userView(args mock.Arguments) (models.UserView, error) {
	var user models.UserView
	if val := args.Get(0); val != nil {
		user = val.(models.UserView)
	}
	return user, args.Error(1)
}
