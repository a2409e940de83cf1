// Package auth issues and verifies access tokens and password hashes.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of an access token. Subject holds the user id and ID
// the token row that makes it revocable.
type Claims struct {
	jwt.RegisteredClaims
}

// UserID parses the subject.
func (c Claims) UserID() (int, error) {
	return strconv.Atoi(c.Subject)
}

// Issuer signs HS256 access tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer builds an Issuer. An empty secret is rejected.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for userID together with its id and expiry.
func (i *Issuer) Issue(userID int) (token, tokenID string, expiresAt time.Time, err error) {
	now := i.now()
	tokenID = uuid.NewString()
	expiresAt = now.Add(i.ttl)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   strconv.Itoa(userID),
		ID:        tokenID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, tokenID, expiresAt, nil
}

// Parse verifies the signature and expiry of token.
func (i *Issuer) Parse(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil || claims.ID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// HashPassword hashes a plain password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
