package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidSession = errors.New("invalid or expired session")

// SessionService resolves opaque session credentials to user ids. Tokens are
// issued by the identity provider; this service only verifies them.
type SessionService struct {
	jwtSecret []byte
	issuer    string
}

func NewSessionService(jwtSecret, issuer string) *SessionService {
	return &SessionService{
		jwtSecret: []byte(jwtSecret),
		issuer:    issuer,
	}
}

// Authenticate returns the user id bound to token.
func (s *SessionService) Authenticate(token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, ErrInvalidSession
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return uuid.Nil, ErrInvalidSession
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return uuid.Nil, ErrInvalidSession
	}
	userID, err := uuid.Parse(sub)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, ErrInvalidSession
	}
	return userID, nil
}

// Issue signs a session token. Used by tooling and tests; production tokens
// come from the identity provider with the same secret.
func (s *SessionService) Issue(userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"exp": now.Add(ttl).Unix(),
		"iat": now.Unix(),
	}
	if s.issuer != "" {
		claims["iss"] = s.issuer
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return token, nil
}
