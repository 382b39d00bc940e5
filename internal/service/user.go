package service

import (
	"context"
	"strings"

	"github.com/sakif/rideboard/internal/model"
	"github.com/sakif/rideboard/internal/repository"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// UserService backs the rider picker in the car form.
type UserService struct {
	repo repository.UserRepository
}

func NewUserService(repo repository.UserRepository) *UserService {
	return &UserService{repo: repo}
}

// Search matches query against id, name and email. An empty query returns
// no users rather than the whole directory.
func (s *UserService) Search(ctx context.Context, query string, limit int) ([]model.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.User{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	return s.repo.Search(ctx, query, limit)
}
