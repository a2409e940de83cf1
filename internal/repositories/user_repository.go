package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"chat-backend/internal/models"
)

var userColumns = []string{"id", "name", "email", "password_hash", "avatar", "push_token", "is_admin", "created_at", "updated_at"}

// UserRepository abstracts user persistence.
type UserRepository interface {
	Create(ctx context.Context, name, email, passwordHash string) (models.User, error)
	GetByID(ctx context.Context, userID int) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
	GetByIDs(ctx context.Context, ids []int) ([]models.User, error)
	ListExcept(ctx context.Context, userID int) ([]models.User, error)
	ListCounterparts(ctx context.Context, userID int) ([]models.User, error)
	UpdateProfile(ctx context.Context, userID int, name, email string) (models.User, error)
	UpdateAvatar(ctx context.Context, userID int, path string) error
	UpdatePushToken(ctx context.Context, userID int, token string) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	q querier
}

// Create inserts a user.
func (r *UserRepo) Create(ctx context.Context, name, email, passwordHash string) (models.User, error) {
	var user models.User
	err := get(ctx, r.q, &user, psql.Insert("users").
		Columns("name", "email", "password_hash").
		Values(name, email, passwordHash).
		Suffix("RETURNING "+joinColumns(userColumns)))
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return models.User{}, ErrEmailTaken
	}
	return user, err
}

// GetByID fetches a user.
func (r *UserRepo) GetByID(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := get(ctx, r.q, &user, psql.Select(userColumns...).From("users").Where(sq.Eq{"id": userID}))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetByEmail fetches a user by login email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := get(ctx, r.q, &user, psql.Select(userColumns...).From("users").Where(sq.Eq{"email": email}))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetByIDs fetches several users in one query. Unknown ids are skipped.
func (r *UserRepo) GetByIDs(ctx context.Context, ids []int) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	var users []models.User
	err := selectAll(ctx, r.q, &users, psql.Select(userColumns...).From("users").Where(sq.Eq{"id": ids}).OrderBy("id"))
	return users, err
}

// ListExcept returns every user other than userID.
func (r *UserRepo) ListExcept(ctx context.Context, userID int) ([]models.User, error) {
	var users []models.User
	err := selectAll(ctx, r.q, &users, psql.Select(userColumns...).From("users").Where(sq.NotEq{"id": userID}).OrderBy("name"))
	return users, err
}

// ListCounterparts returns users that sent a direct message to userID or received one from them.
func (r *UserRepo) ListCounterparts(ctx context.Context, userID int) ([]models.User, error) {
	var users []models.User
	err := selectAll(ctx, r.q, &users, psql.Select(prefixColumns("u", userColumns)...).
		From("users u").
		Where(sq.NotEq{"u.id": userID}).
		Where(sq.Expr(`EXISTS (SELECT 1 FROM messages m
            WHERE (m.sender_id = u.id AND m.receiver_id = ?)
               OR (m.sender_id = ? AND m.receiver_id = u.id))`, userID, userID)))
	return users, err
}

// UpdateProfile changes the display name and email.
func (r *UserRepo) UpdateProfile(ctx context.Context, userID int, name, email string) (models.User, error) {
	var user models.User
	err := get(ctx, r.q, &user, psql.Update("users").
		Set("name", name).
		Set("email", email).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": userID}).
		Suffix("RETURNING "+joinColumns(userColumns)))
	var pqErr *pq.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.User{}, ErrUserNotFound
	case errors.As(err, &pqErr) && pqErr.Code == "23505":
		return models.User{}, ErrEmailTaken
	}
	return user, err
}

// UpdateAvatar stores the avatar path.
func (r *UserRepo) UpdateAvatar(ctx context.Context, userID int, path string) error {
	return r.updateColumn(ctx, userID, "avatar", path)
}

// UpdatePushToken stores the device push token.
func (r *UserRepo) UpdatePushToken(ctx context.Context, userID int, token string) error {
	return r.updateColumn(ctx, userID, "push_token", token)
}

func (r *UserRepo) updateColumn(ctx context.Context, userID int, column string, value any) error {
	count, err := exec(ctx, r.q, psql.Update("users").
		Set(column, value).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": userID}))
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}
