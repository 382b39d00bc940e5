// Package auth handles sessions and OAuth login.
//
// SESSIONS AS JWTs:
// After a successful OAuth login we issue a signed JWT in an HttpOnly cookie.
// The token carries the user's id, realm and display name, which is all a
// request handler needs to act on the user's behalf. No session table, no
// lookup per request.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/rideboard/internal/model"
)

const issuer = "rideboard"

// DefaultSessionTTL is how long a login lasts.
const DefaultSessionTTL = 7 * 24 * time.Hour

// TokenService signs and verifies session tokens with HMAC-SHA256.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService requires a secret of at least 16 bytes. A ttl of zero uses
// DefaultSessionTTL.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL is the lifetime of issued tokens, used for the cookie MaxAge.
func (s *TokenService) TTL() time.Duration { return s.ttl }

type claims struct {
	Realm model.Realm `json:"realm"`
	Name  string      `json:"name"`
	jwt.RegisteredClaims
}

// Generate issues a token for user.
func (s *TokenService) Generate(user model.User) (string, error) {
	return s.GenerateWithDuration(user, s.ttl)
}

// GenerateWithDuration issues a token with a custom lifetime. Tests use a
// negative duration to get an already expired token.
func (s *TokenService) GenerateWithDuration(user model.User, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		Realm: user.Realm,
		Name:  user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies signature, algorithm, issuer and expiry and returns the
// user the token was issued to.
func (s *TokenService) Validate(tokenStr string) (*AuthenticatedUser, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("auth: token expired")
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("auth: token has no subject")
	}
	if !c.Realm.Valid() {
		return nil, fmt.Errorf("auth: token has unknown realm %q", c.Realm)
	}

	return &AuthenticatedUser{ID: c.Subject, Realm: c.Realm, Name: c.Name}, nil
}
