package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/sakif/rideboard/internal/model"
)

// UserSearcher is satisfied by *service.UserService.
type UserSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]model.User, error)
}

// UserHandler serves the rider picker's directory lookup.
type UserHandler struct {
	users UserSearcher
}

func NewUserHandler(users UserSearcher) *UserHandler {
	return &UserHandler{users: users}
}

// HandleSearch matches name, email and id case-insensitively.
//
// HTTP: GET /api/v1/user?query=jd&limit=10
func (h *UserHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	users, err := h.users.Search(r.Context(), q.Get("query"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}
