// Package callback issues and verifies the capability tokens that
// authorize worker-side status updates for a single job. A token is an
// HMAC-signed JWT bound to one job id; the worker surface accepts a status
// update only when the presented token's job claim matches the job being
// updated.
package callback

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/repodocs/repodocs-api/internal/config"
)

// tokenType identifies callback tokens in the type claim, so tokens minted
// for other purposes can never pass verification here.
const tokenType = "job_callback"

// Common token errors.
var (
	// ErrInvalidToken indicates the token is malformed, has a bad
	// signature, or is not a callback token.
	ErrInvalidToken = errors.New("invalid callback token")

	// ErrExpiredToken indicates the token's lifetime has lapsed.
	ErrExpiredToken = errors.New("callback token expired")
)

// tokenClaims defines the structure of callback token claims.
type tokenClaims struct {
	JobID     uuid.UUID `json:"job_id"`
	TokenType string    `json:"type"`
	jwt.RegisteredClaims
}

// Service mints and verifies callback tokens using HMAC-SHA256 signing.
type Service struct {
	signingKey []byte
	lifetime   time.Duration
	timeFunc   func() time.Time // Injectable for testing
}

// NewService creates a callback token service from configuration.
func NewService(cfg config.CallbackConfig) (*Service, error) {
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("callback secret must be at least 32 characters")
	}

	return &Service{
		signingKey: []byte(cfg.Secret),
		lifetime:   time.Duration(cfg.TokenLifetimeHours) * time.Hour,
		timeFunc:   time.Now,
	}, nil
}

// Issue creates a signed callback token bound to the given job id.
func (s *Service) Issue(jobID uuid.UUID) (string, error) {
	now := s.timeFunc()

	claims := tokenClaims{
		JobID:     jobID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   jobID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign callback token: %w", err)
	}

	return signed, nil
}

// Verify validates a callback token and returns the job id it is bound to.
// Returns ErrExpiredToken for lapsed tokens and ErrInvalidToken for
// everything else that fails validation.
func (s *Service) Verify(tokenString string) (uuid.UUID, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithTimeFunc(func() time.Time { return s.timeFunc() }),
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&tokenClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.signingKey, nil
		},
		parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, ErrExpiredToken
		}
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	if claims.TokenType != tokenType {
		return uuid.Nil, fmt.Errorf("%w: wrong token type", ErrInvalidToken)
	}

	if claims.JobID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: missing job id", ErrInvalidToken)
	}

	return claims.JobID, nil
}
