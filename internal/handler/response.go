package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//
//	{"error": "car not found with id 12"}
//	{"errors": ["Car cannot leave in the past.", "u2 is already in another car or is a driver."]}
//
// Validation failures carry the full ordered list under "errors" so the
// frontend can show every problem at once. Everything else has a single
// "error" string. The status code tells the category.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/rideboard/internal/apperror"
	"github.com/sakif/rideboard/internal/auth"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error  string   `json:"error,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// MessageResponse is the body of successful calls with nothing else to say.
type MessageResponse struct {
	Message string `json:"message"`
}

// IDResponse is returned by create endpoints.
type IDResponse struct {
	ID int64 `json:"id"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set before the body. Once Encode writes,
// later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
//
//	ErrValidation   → 400 {"errors": [...]}
//	ErrUnauthorized → 401
//	ErrNotFound     → 404 (also "exists but you don't own it")
//	anything else   → 500 with a generic message
//
// errors.Is walks the whole Unwrap chain, so a service error wrapped with
// fmt.Errorf("...: %w", apperror.NotFound(...)) still maps to 404.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		switch {
		case errors.Is(err, apperror.ErrValidation):
			msgs := appErr.Messages
			if len(msgs) == 0 {
				msgs = []string{appErr.Message}
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Errors: msgs})
			return
		case errors.Is(err, apperror.ErrUnauthorized):
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: appErr.Message})
			return
		case errors.Is(err, apperror.ErrNotFound):
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: appErr.Message})
			return
		}
	}

	// Unknown error: log the detail, return a generic 500.
	// NEVER expose internal error details to the client. The raw message
	// might contain SQL, file paths, or Redis addresses.
	slog.Error("internal error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error: "An internal error occurred",
	})
}

// decodeJSON reads the request body into v. A malformed body is a
// validation error, not a server error.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperror.ValidationFailed("body", "Invalid JSON body.")
	}
	return nil
}

// pathID parses a numeric chi URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperror.ValidationFailed(name, "Invalid "+name+".")
	}
	return id, nil
}

// currentUser returns the session user placed in the context by
// auth.RequireAuth. Handlers behind RequireAuth can rely on it.
func currentUser(r *http.Request) (auth.AuthenticatedUser, error) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		return auth.AuthenticatedUser{}, apperror.Unauthorized()
	}
	return u, nil
}
