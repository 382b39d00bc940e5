package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/sakif/rideboard/internal/apperror"
	"github.com/sakif/rideboard/internal/auth"
	"github.com/sakif/rideboard/internal/model"
	"github.com/sakif/rideboard/internal/service"
)

const stateCookieName = "oauth_state"

// OAuthProvider is one login realm. *auth.Provider satisfies it.
type OAuthProvider interface {
	Realm() model.Realm
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.Identity, error)
}

// AuthService is satisfied by *service.AuthService.
type AuthService interface {
	Login(ctx context.Context, id *auth.Identity) (*service.AuthResult, error)
	CurrentUser(ctx context.Context, id string) (*model.User, error)
}

// AuthConfig controls the cookies and where the browser lands after login.
type AuthConfig struct {
	// RedirectDomain is the frontend origin, e.g. "https://rides.csh.rit.edu".
	// Empty means same origin.
	RedirectDomain string
	SessionTTL     time.Duration
	// Secure marks cookies HTTPS-only. Off in development.
	Secure bool
}

// AuthHandler manages the OAuth login flow and session management.
//
// HANDLER RESPONSIBILITIES:
//   - HandleLogin    → redirect the browser to the realm's authorization page
//   - HandleCallback → receive the code, exchange it for an identity, issue JWT
//   - HandleLogout   → clear the JWT cookie
//   - HandleMe       → return the currently logged-in user's profile
//
// Providers are keyed by realm and selected with the {provider} URL param,
// so /auth/csh/ and /auth/google/ share one code path.
type AuthHandler struct {
	providers map[model.Realm]OAuthProvider
	svc       AuthService
	cfg       AuthConfig
	logger    *slog.Logger
}

func NewAuthHandler(svc AuthService, providers []OAuthProvider, cfg AuthConfig, logger *slog.Logger) *AuthHandler {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = auth.DefaultSessionTTL
	}
	byRealm := make(map[model.Realm]OAuthProvider, len(providers))
	for _, p := range providers {
		byRealm[p.Realm()] = p
	}
	return &AuthHandler{
		providers: byRealm,
		svc:       svc,
		cfg:       cfg,
		logger:    logger,
	}
}

func (h *AuthHandler) provider(r *http.Request) (OAuthProvider, error) {
	name := chi.URLParam(r, "provider")
	p, ok := h.providers[model.Realm(name)]
	if !ok {
		return nil, apperror.NotFound("auth provider", name)
	}
	return p, nil
}

// HandleLogin redirects the user to the provider's authorization page.
//
// HTTP: GET /api/v1/auth/{provider}/
//
// CSRF PROTECTION VIA STATE:
// We generate a random state string and store it in a short-lived cookie.
// When the provider calls back, HandleCallback verifies the state matches.
// This proves the callback was initiated by this server.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	p, err := h.provider(r)
	if err != nil {
		writeError(w, err)
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		Secure:   h.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, p.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback completes the OAuth login flow.
//
// HTTP: GET /api/v1/auth/{provider}/redirect?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for an identity (token + userinfo)
//  3. Upsert the user and issue a JWT (AuthService.Login)
//  4. Store the JWT in an HttpOnly cookie
//  5. Redirect to the frontend
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	p, err := h.provider(r)
	if err != nil {
		writeError(w, err)
		return
	}

	// --- Step 1: Validate CSRF state ---
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie", slog.String("realm", string(p.Realm())))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid OAuth state"})
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch", slog.String("realm", string(p.Realm())))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid OAuth state"})
		return
	}

	// Single-use.
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, h.landing("/?auth=denied"), http.StatusSeeOther)
		return
	}

	// --- Step 2: Exchange code for identity ---
	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing OAuth code"})
		return
	}

	identity, err := p.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: exchange failed",
			slog.String("realm", string(p.Realm())),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "authentication failed"})
		return
	}

	// --- Step 3: Upsert + token ---
	result, err := h.svc.Login(r.Context(), identity)
	if err != nil {
		h.logger.Error("auth callback: login failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "authentication failed"})
		return
	}

	// --- Step 4: Session cookie ---
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    result.Token,
		Path:     "/",
		MaxAge:   int(h.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	// --- Step 5: Back to the app ---
	http.Redirect(w, r, h.landing("/"), http.StatusSeeOther)
}

func (h *AuthHandler) landing(path string) string {
	return strings.TrimRight(h.cfg.RedirectDomain, "/") + path
}

// HandleLogout clears the JWT cookie.
//
// HTTP: POST /api/v1/auth/logout
//
// Sessions are stateless, so "logout" only deletes the client-side cookie.
// The token stays technically valid until it expires.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// HandleMe returns the currently authenticated user's profile.
//
// HTTP: GET /api/v1/auth/
// Auth: Required
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	session, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	user, err := h.svc.CurrentUser(r.Context(), session.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
