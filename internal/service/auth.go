// Package service holds the business rules between handlers and storage.
//
// AuthService sits between the OAuth redirect handler and storage:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT)
//
// The handler owns the OAuth dance (state cookie, code exchange). Once it has
// an Identity from a provider it calls Login, which records the user and
// issues the session token.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/rideboard/internal/auth"
	"github.com/sakif/rideboard/internal/model"
	"github.com/sakif/rideboard/internal/repository"
)

// AuthService handles login and session lookups.
type AuthService struct {
	users  repository.UserRepository
	tokens *auth.TokenService
	logger *slog.Logger
}

func NewAuthService(users repository.UserRepository, tokens *auth.TokenService, logger *slog.Logger) *AuthService {
	return &AuthService{users: users, tokens: tokens, logger: logger}
}

// AuthResult bundles the user record and the session token so the handler
// can set the cookie and redirect in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// Login upserts the identity into the user directory and issues a session
// token for it.
//
// WHY UPSERT?
// The provider is authoritative for name and email. First login inserts the
// user; later logins refresh the record in case either changed upstream.
func (s *AuthService) Login(ctx context.Context, id *auth.Identity) (*AuthResult, error) {
	if id == nil {
		return nil, fmt.Errorf("service/auth: identity must not be nil")
	}
	if id.ID == "" || !id.Realm.Valid() {
		return nil, fmt.Errorf("service/auth: incomplete identity (id=%q realm=%q)", id.ID, id.Realm)
	}

	user := id.User()
	if err := s.users.Upsert(ctx, &user); err != nil {
		return nil, fmt.Errorf("service/auth: upserting user %s: %w", id.ID, err)
	}

	s.logger.Info("user authenticated",
		slog.String("userID", user.ID),
		slog.String("realm", string(user.Realm)),
	)

	token, err := s.tokens.Generate(user)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	return &AuthResult{User: &user, Token: token}, nil
}

// CurrentUser returns the full directory record behind a session.
func (s *AuthService) CurrentUser(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, fmt.Errorf("service/auth: user ID must not be empty")
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}
