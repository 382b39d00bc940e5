// Package repository declares the storage contracts the service layer and
// the worker depend on. The sqlite subpackage implements all of them.
package repository

import (
	"context"

	"github.com/sakif/rideboard/internal/model"
)

// UserRepository is the identity directory.
type UserRepository interface {
	// Upsert inserts the user or refreshes realm/name/email of an existing one.
	Upsert(ctx context.Context, user *model.User) error
	// GetUserByID returns apperror.ErrNotFound when the id is unknown.
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	// UsersByID returns the users that exist; unknown ids are simply absent.
	UsersByID(ctx context.Context, ids []string) (map[string]model.User, error)
	Search(ctx context.Context, query string, limit int) ([]model.User, error)
}

// EventRepository stores events. Update and Delete match on id AND creator,
// returning apperror.ErrNotFound when nothing matched.
type EventRepository interface {
	CreateEvent(ctx context.Context, creatorID string, in model.EventInput) (*model.Event, error)
	GetEvent(ctx context.Context, id int64) (*model.Event, error)
	ListEvents(ctx context.Context, past bool) ([]model.Event, error)
	UpdateEvent(ctx context.Context, id int64, creatorID string, in model.EventInput) (*model.Event, error)
	DeleteEvent(ctx context.Context, id int64, creatorID string) error
	EventName(ctx context.Context, id int64) (string, error)
}

// CarReader is the read side of car storage. It is available both outside
// and inside a transaction.
type CarReader interface {
	GetCar(ctx context.Context, eventID, carID int64) (*model.Car, error)
	ListCars(ctx context.Context, eventID int64) ([]model.Car, error)
	// UserInCar reports whether userID drives or rides any car of the event.
	UserInCar(ctx context.Context, eventID int64, userID string) (bool, error)
	UsersByID(ctx context.Context, ids []string) (map[string]model.User, error)
}

// CarTx is car storage bound to one open transaction. Every read and write
// made through it sees the same snapshot and commits or rolls back together.
type CarTx interface {
	CarReader

	InsertCar(ctx context.Context, eventID int64, driverID string, in model.CarInput) (int64, error)
	// UpdateCar changes scalar fields where id, event and driver all match.
	// It reports false when no row matched.
	UpdateCar(ctx context.Context, carID, eventID int64, driverID string, in model.CarInput) (bool, error)
	// DeleteRiders removes the whole roster and returns the rider ids it held.
	DeleteRiders(ctx context.Context, carID int64) ([]string, error)
	// InsertRiders bulk-inserts one assignment row per rider id.
	InsertRiders(ctx context.Context, carID int64, riderIDs []string) error
	// DeleteCar removes the car where id, event and driver all match.
	DeleteCar(ctx context.Context, carID, eventID int64, driverID string) (bool, error)
	// RemoveRider removes a single assignment; false if it did not exist.
	RemoveRider(ctx context.Context, carID int64, riderID string) (bool, error)
	EventExists(ctx context.Context, eventID int64) (bool, error)
}

// CarRepository gives non-transactional reads plus a transaction runner.
// fn's error (or a panic) rolls the transaction back; nil commits it.
type CarRepository interface {
	CarReader
	WithinTx(ctx context.Context, fn func(tx CarTx) error) error
}

// Directory is the read-only view the notification worker needs.
type Directory interface {
	EventName(ctx context.Context, id int64) (string, error)
	// CarDriver returns apperror.ErrNotFound if the car is gone.
	CarDriver(ctx context.Context, carID int64) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	UsersByID(ctx context.Context, ids []string) (map[string]model.User, error)
}
