package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"chat-backend/internal/auth"
	"chat-backend/internal/models"
	"chat-backend/internal/repositories"
	"chat-backend/internal/storage"
)

const (
	maxAvatarSize = 2 << 20
	avatarDir     = "avatars"
)

var avatarMimes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// Registration is the input of AccountService.Register. Field rules are
// enforced when the request is bound.
type Registration struct {
	Name                 string
	Email                string
	Password             string
	PasswordConfirmation string
}

// Session is returned after register and login.
type Session struct {
	User  models.UserView `json:"user"`
	Token string          `json:"token"`
}

// AccountService handles authentication and profile updates.
type AccountService struct {
	store   repositories.Store
	files   storage.FileStore
	issuer  *auth.Issuer
	present presenter
}

// NewAccountService constructs an AccountService.
func NewAccountService(store repositories.Store, files storage.FileStore, issuer *auth.Issuer) *AccountService {
	return &AccountService{store: store, files: files, issuer: issuer, present: presenter{store: store, files: files}}
}

// Register creates a user and signs them in.
func (s *AccountService) Register(ctx context.Context, in Registration) (Session, error) {
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.store.Users().Create(ctx, strings.TrimSpace(in.Name), normalizeEmail(in.Email), hash)
	if errors.Is(err, repositories.ErrEmailTaken) {
		return Session{}, invalid("email", "the email has already been taken")
	}
	if err != nil {
		return Session{}, err
	}
	return s.startSession(ctx, user)
}

// Login checks credentials and issues a new token.
func (s *AccountService) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.store.Users().GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repositories.ErrUserNotFound) {
		return Session{}, invalid("email", "the provided credentials are incorrect")
	}
	if err != nil {
		return Session{}, err
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return Session{}, invalid("email", "the provided credentials are incorrect")
	}
	return s.startSession(ctx, user)
}

func (s *AccountService) startSession(ctx context.Context, user models.User) (Session, error) {
	token, tokenID, expiresAt, err := s.issuer.Issue(user.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.store.Tokens().Create(ctx, tokenID, user.ID, expiresAt); err != nil {
		return Session{}, fmt.Errorf("store token: %w", err)
	}
	return Session{User: s.present.userView(user), Token: token}, nil
}

// Logout revokes the token. Revoking an unknown token is not an error.
func (s *AccountService) Logout(ctx context.Context, tokenID string) error {
	return s.store.Tokens().Revoke(ctx, tokenID)
}

// Authenticate resolves a bearer token to the user id and token id it was issued for.
func (s *AccountService) Authenticate(ctx context.Context, token string) (int, string, error) {
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return 0, "", err
	}
	userID, _ := claims.UserID()
	active, err := s.store.Tokens().IsActive(ctx, claims.ID, userID)
	if err != nil {
		return 0, "", err
	}
	if !active {
		return 0, "", auth.ErrInvalidToken
	}
	return userID, claims.ID, nil
}

// Profile returns the public view of a user.
func (s *AccountService) Profile(ctx context.Context, userID int) (models.UserView, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return models.UserView{}, err
	}
	return s.present.userView(user), nil
}

// UpdateProfile changes name and email.
func (s *AccountService) UpdateProfile(ctx context.Context, userID int, name, email string) (models.UserView, error) {
	user, err := s.store.Users().UpdateProfile(ctx, userID, strings.TrimSpace(name), normalizeEmail(email))
	if errors.Is(err, repositories.ErrEmailTaken) {
		return models.UserView{}, invalid("email", "the email has already been taken")
	}
	if err != nil {
		return models.UserView{}, err
	}
	return s.present.userView(user), nil
}

// RegisterPushToken stores the device token used for push delivery.
func (s *AccountService) RegisterPushToken(ctx context.Context, userID int, token string) error {
	return s.store.Users().UpdatePushToken(ctx, userID, strings.TrimSpace(token))
}

// UpdateAvatar stores a new avatar image and removes the previous one.
func (s *AccountService) UpdateAvatar(ctx context.Context, userID int, upload Upload) (models.UserView, error) {
	if upload.Size > maxAvatarSize {
		return models.UserView{}, invalid("avatar", "the avatar may not be greater than 2048 kilobytes")
	}
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return models.UserView{}, err
	}

	f, err := upload.Open()
	if err != nil {
		return models.UserView{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	stored, err := s.files.Store(ctx, avatarDir, upload.Name, "", io.LimitReader(f, maxAvatarSize+1))
	if err != nil {
		return models.UserView{}, err
	}
	if !avatarMimes[stored.Mime] || stored.Size > maxAvatarSize {
		_ = s.files.Delete(ctx, stored.Path)
		return models.UserView{}, invalid("avatar", "the avatar must be a file of type: jpeg, png, jpg, gif")
	}

	if err := s.store.Users().UpdateAvatar(ctx, userID, stored.Path); err != nil {
		_ = s.files.Delete(ctx, stored.Path)
		return models.UserView{}, err
	}
	if user.Avatar != nil && *user.Avatar != "" {
		if err := s.files.Delete(ctx, *user.Avatar); err != nil {
			log.Warn().Err(err).Int("user_id", userID).Msg("failed to remove previous avatar")
		}
	}
	user.Avatar = &stored.Path
	return s.present.userView(user), nil
}

// ListUsers returns every user except userID.
func (s *AccountService) ListUsers(ctx context.Context, userID int) ([]models.UserView, error) {
	users, err := s.store.Users().ListExcept(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]models.UserView, 0, len(users))
	for _, u := range users {
		views = append(views, s.present.userView(u))
	}
	return views, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
