package auth

import (
	"context"
	"net/http"

	"github.com/sakif/rideboard/internal/model"
)

// CookieName is the session cookie holding the JWT.
const CookieName = "token"

// AuthenticatedUser is the identity a request acts as. RequireAuth puts it
// in the request context; handlers read it with UserFromContext.
type AuthenticatedUser struct {
	ID    string      `json:"id"`
	Realm model.Realm `json:"realm"`
	Name  string      `json:"name"`
}

type contextKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u AuthenticatedUser) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// UserFromContext returns the user RequireAuth stored, if any.
func UserFromContext(ctx context.Context) (AuthenticatedUser, bool) {
	u, ok := ctx.Value(contextKey{}).(AuthenticatedUser)
	return u, ok && u.ID != ""
}

// RequireAuth rejects requests without a valid session cookie with 401 and
// otherwise stores the AuthenticatedUser in the request context.
//
// Usage with chi:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(auth.RequireAuth(tokens))
//	    r.Post("/api/v1/event/", h.Create)
//	})
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := userFromRequest(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"valid authentication required"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), *user)))
		})
	}
}

// OptionalAuth attaches the user when a valid cookie is present and passes
// the request through either way.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user, err := userFromRequest(r, tokens); err == nil {
				r = r.WithContext(WithUser(r.Context(), *user))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func userFromRequest(r *http.Request, tokens *TokenService) (*AuthenticatedUser, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, err
	}
	return tokens.Validate(cookie.Value)
}
