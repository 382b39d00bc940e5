package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sakif/rideboard/internal/apperror"
	"github.com/sakif/rideboard/internal/model"
	"github.com/sakif/rideboard/internal/queue"
	"github.com/sakif/rideboard/internal/repository"
)

// JobQueue is the producer side of the notification queue.
type JobQueue interface {
	InsertJob(ctx context.Context, job queue.Job) error
}

// RosterService owns cars and who sits in them.
//
// THE ONE RULE:
// Within an event, a user occupies at most one seat: driver of one car, or
// rider in one car, never both and never twice. Every write path below reads
// the sibling cars and writes the new roster inside the same transaction, so
// two drivers racing to claim the same rider cannot both win.
//
// NOTIFICATIONS:
// Jobs are enqueued after the transaction commits. A failed enqueue is logged
// and swallowed; the roster change already happened and the ping is
// best-effort.
type RosterService struct {
	cars   repository.CarRepository
	jobs   JobQueue
	logger *slog.Logger
	now    func() time.Time
}

func NewRosterService(cars repository.CarRepository, jobs JobQueue, logger *slog.Logger) *RosterService {
	return &RosterService{
		cars:   cars,
		jobs:   jobs,
		logger: logger,
		now:    time.Now,
	}
}

// Validation messages. Clients match on these strings.
const (
	msgReturnBeforeDeparture = "Return time cannot be before departure."
	msgDepartureInPast       = "Car cannot leave in the past."
	msgNegativeCapacity      = "Capacity must be greater than or equal to 0"
	msgOverCapacity          = "You have too many riders for your capacity."
	msgSelfAsRider           = "You cannot be a rider in your own car."
	msgAlreadyOccupiedFmt    = "%s is already in another car or is a driver."
	msgUnknownUserFmt        = "%s is not a known user."
)

// ValidateCar checks a proposed car against the other cars of its event and
// returns every violation, in a fixed order. others must not include the car
// being updated. A nil result means the car is valid.
func ValidateCar(in model.CarInput, driverID string, others []model.Car, now time.Time) []string {
	var errs []string

	if in.ReturnTime.Before(in.DepartureTime) {
		errs = append(errs, msgReturnBeforeDeparture)
	}
	if in.DepartureTime.Before(now) {
		errs = append(errs, msgDepartureInPast)
	}
	if in.MaxCapacity < 0 {
		errs = append(errs, msgNegativeCapacity)
	}
	if len(in.Riders) > max(in.MaxCapacity, 0) {
		errs = append(errs, msgOverCapacity)
	}
	for _, r := range in.Riders {
		if r == driverID {
			errs = append(errs, msgSelfAsRider)
			break
		}
	}

	occupied := make(map[string]struct{})
	for _, c := range others {
		for _, id := range c.Members() {
			occupied[id] = struct{}{}
		}
	}
	if _, taken := occupied[driverID]; taken {
		errs = append(errs, fmt.Sprintf(msgAlreadyOccupiedFmt, driverID))
	}
	for _, r := range in.Riders {
		if _, taken := occupied[r]; taken {
			errs = append(errs, fmt.Sprintf(msgAlreadyOccupiedFmt, r))
		}
	}

	return errs
}

// dedupe drops repeated ids, keeping the first occurrence.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// validateInTx runs ValidateCar and then checks every rider resolves to a
// known user.
func (s *RosterService) validateInTx(ctx context.Context, tx repository.CarTx, in model.CarInput, driverID string, others []model.Car) error {
	errs := ValidateCar(in, driverID, others, s.now())

	if len(in.Riders) > 0 {
		known, err := tx.UsersByID(ctx, in.Riders)
		if err != nil {
			return fmt.Errorf("service/roster: resolving riders: %w", err)
		}
		for _, r := range in.Riders {
			if _, ok := known[r]; !ok {
				errs = append(errs, fmt.Sprintf(msgUnknownUserFmt, r))
			}
		}
	}

	if len(errs) > 0 {
		return apperror.Invalid(errs)
	}
	return nil
}

// Create inserts a car driven by driverID together with its initial roster.
// Initial riders are notified as "added".
func (s *RosterService) Create(ctx context.Context, eventID int64, driverID string, in model.CarInput) (*model.Car, error) {
	in.Riders = dedupe(in.Riders)

	var car *model.Car
	err := s.cars.WithinTx(ctx, func(tx repository.CarTx) error {
		ok, err := tx.EventExists(ctx, eventID)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.NotFound("event", strconv.FormatInt(eventID, 10))
		}

		others, err := tx.ListCars(ctx, eventID)
		if err != nil {
			return err
		}
		if err := s.validateInTx(ctx, tx, in, driverID, others); err != nil {
			return err
		}

		id, err := tx.InsertCar(ctx, eventID, driverID, in)
		if err != nil {
			return err
		}
		if err := tx.InsertRiders(ctx, id, in.Riders); err != nil {
			return err
		}

		car, err = tx.GetCar(ctx, eventID, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("car created",
		slog.Int64("eventID", eventID),
		slog.Int64("carID", car.ID),
		slog.String("driver", driverID),
		slog.Int("riders", len(in.Riders)),
	)

	if len(in.Riders) > 0 {
		s.enqueue(ctx, queue.RosterUpdateJob{
			EventID:   eventID,
			CarID:     car.ID,
			OldRiders: []string{},
			NewRiders: in.Riders,
		})
	}
	return car, nil
}

// Update replaces a car's fields and its whole roster. Only the driver may
// update; anyone else gets not-found. The returned diff is what the
// notification job carries.
func (s *RosterService) Update(ctx context.Context, eventID, carID int64, driverID string, in model.CarInput) (*model.Car, model.RiderDiff, error) {
	in.Riders = dedupe(in.Riders)

	var car *model.Car
	var oldRiders []string
	err := s.cars.WithinTx(ctx, func(tx repository.CarTx) error {
		all, err := tx.ListCars(ctx, eventID)
		if err != nil {
			return err
		}
		owned := false
		others := make([]model.Car, 0, len(all))
		for _, c := range all {
			if c.ID == carID {
				owned = c.Driver.ID == driverID
				continue
			}
			others = append(others, c)
		}
		if !owned {
			return apperror.NotFound("car", strconv.FormatInt(carID, 10))
		}

		if err := s.validateInTx(ctx, tx, in, driverID, others); err != nil {
			return err
		}

		ok, err := tx.UpdateCar(ctx, carID, eventID, driverID, in)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.NotFound("car", strconv.FormatInt(carID, 10))
		}

		oldRiders, err = tx.DeleteRiders(ctx, carID)
		if err != nil {
			return err
		}
		if err := tx.InsertRiders(ctx, carID, in.Riders); err != nil {
			return err
		}

		car, err = tx.GetCar(ctx, eventID, carID)
		return err
	})
	if err != nil {
		return nil, model.RiderDiff{}, err
	}

	diff := model.DiffRiders(oldRiders, in.Riders)
	s.logger.Info("car updated",
		slog.Int64("eventID", eventID),
		slog.Int64("carID", carID),
		slog.Int("added", len(diff.Added)),
		slog.Int("removed", len(diff.Removed)),
	)

	if !diff.Empty() {
		s.enqueue(ctx, queue.RosterUpdateJob{
			EventID:   eventID,
			CarID:     carID,
			OldRiders: oldRiders,
			NewRiders: in.Riders,
		})
	}
	return car, diff, nil
}

// Delete removes the driver's car and, through the storage cascade, its
// riders. Returns the deleted id.
func (s *RosterService) Delete(ctx context.Context, eventID, carID int64, driverID string) (int64, error) {
	err := s.cars.WithinTx(ctx, func(tx repository.CarTx) error {
		ok, err := tx.DeleteCar(ctx, carID, eventID, driverID)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.NotFound("car", strconv.FormatInt(carID, 10))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("car deleted", slog.Int64("eventID", eventID), slog.Int64("carID", carID))
	return carID, nil
}

func (s *RosterService) Get(ctx context.Context, eventID, carID int64) (*model.Car, error) {
	return s.cars.GetCar(ctx, eventID, carID)
}

func (s *RosterService) List(ctx context.Context, eventID int64) ([]model.Car, error) {
	return s.cars.ListCars(ctx, eventID)
}

// UserInCar reports whether userID already drives or rides in the event.
func (s *RosterService) UserInCar(ctx context.Context, eventID int64, userID string) (bool, error) {
	return s.cars.UserInCar(ctx, eventID, userID)
}

// Join adds userID to a car with a free seat. The user must not already be
// in any car of the event, which also rules out the car's own driver.
func (s *RosterService) Join(ctx context.Context, eventID, carID int64, userID string) error {
	err := s.cars.WithinTx(ctx, func(tx repository.CarTx) error {
		car, err := tx.GetCar(ctx, eventID, carID)
		if err != nil {
			return err
		}

		in, err := tx.UserInCar(ctx, eventID, userID)
		if err != nil {
			return err
		}

		var errs []string
		if car.Driver.ID == userID {
			errs = append(errs, msgSelfAsRider)
		} else if in {
			errs = append(errs, fmt.Sprintf(msgAlreadyOccupiedFmt, userID))
		}
		if len(car.Riders) >= car.MaxCapacity {
			errs = append(errs, "This car is full.")
		}
		if len(errs) > 0 {
			return apperror.Invalid(errs)
		}

		return tx.InsertRiders(ctx, carID, []string{userID})
	})
	if err != nil {
		return err
	}

	s.logger.Info("rider joined", slog.Int64("carID", carID), slog.String("rider", userID))
	s.enqueue(ctx, queue.JoinJob{EventID: eventID, CarID: carID, RiderID: userID})
	return nil
}

// Leave removes userID from the car's roster.
func (s *RosterService) Leave(ctx context.Context, eventID, carID int64, userID string) error {
	err := s.cars.WithinTx(ctx, func(tx repository.CarTx) error {
		if _, err := tx.GetCar(ctx, eventID, carID); err != nil {
			return err
		}
		ok, err := tx.RemoveRider(ctx, carID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.NotFound("rider", userID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("rider left", slog.Int64("carID", carID), slog.String("rider", userID))
	s.enqueue(ctx, queue.LeaveJob{EventID: eventID, CarID: carID, RiderID: userID})
	return nil
}

// enqueue runs after commit, so it must not be cut short by the caller
// going away: the roster change is already durable.
func (s *RosterService) enqueue(ctx context.Context, job queue.Job) {
	err := s.jobs.InsertJob(context.WithoutCancel(ctx), job)
	if err == nil || errors.Is(err, queue.ErrAlreadyQueued) {
		return
	}
	s.logger.Error("failed to enqueue notification job",
		slog.String("job", fmt.Sprintf("%T", job)),
		slog.String("error", err.Error()),
	)
}
