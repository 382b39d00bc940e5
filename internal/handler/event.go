package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/rideboard/internal/model"
)

// EventService is satisfied by *service.EventService.
type EventService interface {
	Create(ctx context.Context, creatorID string, in model.EventInput) (*model.Event, error)
	Get(ctx context.Context, id int64) (*model.Event, error)
	List(ctx context.Context, past bool) ([]model.Event, error)
	Update(ctx context.Context, id int64, creatorID string, in model.EventInput) (*model.Event, error)
	Delete(ctx context.Context, id int64, creatorID string) error
}

// EventHandler serves /event.
type EventHandler struct {
	events EventService
	logger *slog.Logger
}

func NewEventHandler(events EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

// HandleList returns upcoming events, or finished ones with ?past=true.
//
// HTTP: GET /api/v1/event?past=true
func (h *EventHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	past, _ := strconv.ParseBool(r.URL.Query().Get("past"))

	events, err := h.events.List(r.Context(), past)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// HandleGet returns one event.
//
// HTTP: GET /api/v1/event/{eventID}
func (h *EventHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "eventID")
	if err != nil {
		writeError(w, err)
		return
	}

	event, err := h.events.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// HandleCreate creates an event owned by the caller.
//
// HTTP: POST /api/v1/event
// REQUEST BODY: {"name":"Ski Trip","location":"Bristol","startTime":"...","endTime":"..."}
func (h *EventHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var in model.EventInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	event, err := h.events.Create(r.Context(), user.ID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, IDResponse{ID: event.ID})
}

// HandleUpdate changes an event the caller created.
//
// HTTP: PUT /api/v1/event/{eventID}
func (h *EventHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "eventID")
	if err != nil {
		writeError(w, err)
		return
	}

	var in model.EventInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	event, err := h.events.Update(r.Context(), id, user.ID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// HandleDelete removes an event the caller created, with all its cars.
//
// HTTP: DELETE /api/v1/event/{eventID}
func (h *EventHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "eventID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.events.Delete(r.Context(), id, user.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Event deleted"})
}
