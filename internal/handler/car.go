package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/rideboard/internal/model"
)

// CarService is the roster engine as the HTTP layer sees it.
// *service.RosterService satisfies it.
type CarService interface {
	Create(ctx context.Context, eventID int64, driverID string, in model.CarInput) (*model.Car, error)
	Update(ctx context.Context, eventID, carID int64, driverID string, in model.CarInput) (*model.Car, model.RiderDiff, error)
	Delete(ctx context.Context, eventID, carID int64, driverID string) (int64, error)
	Get(ctx context.Context, eventID, carID int64) (*model.Car, error)
	List(ctx context.Context, eventID int64) ([]model.Car, error)
	Join(ctx context.Context, eventID, carID int64, userID string) error
	Leave(ctx context.Context, eventID, carID int64, userID string) error
}

// CarHandler serves /event/{eventID}/car and the rider sub-resource.
//
// The acting user always comes from the session, never from the body: a
// driver is whoever is logged in when the car is created, and join/leave
// act on the caller themselves.
type CarHandler struct {
	cars   CarService
	logger *slog.Logger
}

func NewCarHandler(cars CarService, logger *slog.Logger) *CarHandler {
	return &CarHandler{cars: cars, logger: logger}
}

// HandleCreate creates a car driven by the caller.
//
// HTTP: POST /api/v1/event/{eventID}/car
// REQUEST BODY: {"maxCapacity":3,"departureTime":"...","returnTime":"...","comment":"","riders":["jdoe"]}
// RESPONSE: {"id": 12}
func (h *CarHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	eventID, err := pathID(r, "eventID")
	if err != nil {
		writeError(w, err)
		return
	}

	var in model.CarInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	car, err := h.cars.Create(r.Context(), eventID, user.ID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, IDResponse{ID: car.ID})
}

// HandleGet returns one car with its riders resolved.
//
// HTTP: GET /api/v1/event/{eventID}/car/{carID}
func (h *CarHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "eventID")
	if err != nil {
		writeError(w, err)
		return
	}
	carID, err := pathID(r, "carID")
	if err != nil {
		writeError(w, err)
		return
	}

	car, err := h.cars.Get(r.Context(), eventID, carID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, car)
}

// HandleList returns every car of the event.
//
// HTTP: GET /api/v1/event/{eventID}/car
func (h *CarHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "eventID")
	if err != nil {
		writeError(w, err)
		return
	}

	cars, err := h.cars.List(r.Context(), eventID)
	if err != nil {
		writeError(w, err)
		return
	}
	if cars == nil {
		cars = []model.Car{}
	}
	writeJSON(w, http.StatusOK, cars)
}

// HandleUpdate replaces the car's fields and its entire roster. Only the
// driver may do this; everyone else gets 404.
//
// HTTP: PUT /api/v1/event/{eventID}/car/{carID}
func (h *CarHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	eventID, err := pathID(r, "eventID")
	if err != nil {
		writeError(w, err)
		return
	}
	carID, err := pathID(r, "carID")
	if err != nil {
		writeError(w, err)
		return
	}

	var in model.CarInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	car, _, err := h.cars.Update(r.Context(), eventID, carID, user.ID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, car)
}

// HandleDelete removes the caller's car.
//
// HTTP: DELETE /api/v1/event/{eventID}/car/{carID}
func (h *CarHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	eventID, err := pathID(r, "eventID")
	if err != nil {
		writeError(w, err)
		return
	}
	carID, err := pathID(r, "carID")
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.cars.Delete(r.Context(), eventID, carID, user.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Car deleted"})
}

// HandleJoin seats the caller in the car.
//
// HTTP: POST /api/v1/event/{eventID}/car/{carID}/rider
func (h *CarHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	h.rider(w, r, h.cars.Join, "Joined car")
}

// HandleLeave removes the caller from the car.
//
// HTTP: DELETE /api/v1/event/{eventID}/car/{carID}/rider
func (h *CarHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	h.rider(w, r, h.cars.Leave, "Left car")
}

func (h *CarHandler) rider(w http.ResponseWriter, r *http.Request, op func(context.Context, int64, int64, string) error, done string) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	eventID, err := pathID(r, "eventID")
	if err != nil {
		writeError(w, err)
		return
	}
	carID, err := pathID(r, "carID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := op(r.Context(), eventID, carID, user.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: done})
}
