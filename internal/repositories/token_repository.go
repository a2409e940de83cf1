package repositories

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// TokenRepository tracks issued access tokens so they can be revoked.
type TokenRepository interface {
	Create(ctx context.Context, tokenID string, userID int, expiresAt time.Time) error
	IsActive(ctx context.Context, tokenID string, userID int) (bool, error)
	Revoke(ctx context.Context, tokenID string) error
}

// TokenRepo is a sqlx implementation of TokenRepository.
type TokenRepo struct {
	q querier
}

// Create records an issued token.
func (r *TokenRepo) Create(ctx context.Context, tokenID string, userID int, expiresAt time.Time) error {
	_, err := exec(ctx, r.q, psql.Insert("auth_tokens").
		Columns("id", "user_id", "expires_at").
		Values(tokenID, userID, expiresAt))
	return err
}

// IsActive checks that the token was issued to the user and has not been revoked or expired.
func (r *TokenRepo) IsActive(ctx context.Context, tokenID string, userID int) (bool, error) {
	var exists bool
	err := get(ctx, r.q, &exists, psql.Select().
		Column(sq.Expr("EXISTS(SELECT 1 FROM auth_tokens WHERE id = ? AND user_id = ? AND expires_at > NOW())", tokenID, userID)))
	return exists, err
}

// Revoke deletes a token. Revoking an unknown token is not an error.
func (r *TokenRepo) Revoke(ctx context.Context, tokenID string) error {
	_, err := exec(ctx, r.q, psql.Delete("auth_tokens").Where(sq.Eq{"id": tokenID}))
	return err
}
