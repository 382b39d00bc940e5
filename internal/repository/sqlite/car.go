package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/sakif/rideboard/internal/apperror"
	"github.com/sakif/rideboard/internal/model"
	"github.com/sakif/rideboard/internal/repository"
)

var (
	_ repository.CarRepository = (*DB)(nil)
	_ repository.CarTx         = carStore{}
	_ repository.Directory     = (*DB)(nil)
)

// carStore holds the car queries. Bound to db.conn it serves plain reads;
// bound to a *sql.Tx it is the CarTx handed to WithinTx callbacks.
type carStore struct {
	q querier
}

const selectCar = `
	SELECT c.id, c.event_id, c.max_capacity, c.departure_time, c.return_time, c.comment,
	       u.id, u.realm, u.name, u.email
	FROM cars c
	JOIN users u ON u.id = c.driver`

func scanCar(s scanner) (*model.Car, error) {
	c := model.Car{Riders: []model.User{}}
	err := s.Scan(
		&c.ID, &c.EventID, &c.MaxCapacity, &c.DepartureTime, &c.ReturnTime, &c.Comment,
		&c.Driver.ID, &c.Driver.Realm, &c.Driver.Name, &c.Driver.Email,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// WithinTx runs fn inside one transaction. A returned error or a panic rolls
// back; otherwise the transaction commits.
func (db *DB) WithinTx(ctx context.Context, fn func(tx repository.CarTx) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(carStore{q: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

func (db *DB) GetCar(ctx context.Context, eventID, carID int64) (*model.Car, error) {
	return carStore{q: db.conn}.GetCar(ctx, eventID, carID)
}

func (db *DB) ListCars(ctx context.Context, eventID int64) ([]model.Car, error) {
	return carStore{q: db.conn}.ListCars(ctx, eventID)
}

func (db *DB) UserInCar(ctx context.Context, eventID int64, userID string) (bool, error) {
	return carStore{q: db.conn}.UserInCar(ctx, eventID, userID)
}

// CarDriver looks a car up by id alone. The worker uses it to name the
// driver in rider pings.
func (db *DB) CarDriver(ctx context.Context, carID int64) (*model.User, error) {
	var u model.User
	err := db.conn.QueryRowContext(ctx,
		`SELECT u.id, u.realm, u.name, u.email
		 FROM cars c JOIN users u ON u.id = c.driver
		 WHERE c.id = ?`, carID,
	).Scan(&u.ID, &u.Realm, &u.Name, &u.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("car", strconv.FormatInt(carID, 10))
		}
		return nil, fmt.Errorf("sqlite: getting driver of car %d: %w", carID, err)
	}
	return &u, nil
}

func (s carStore) GetCar(ctx context.Context, eventID, carID int64) (*model.Car, error) {
	c, err := scanCar(s.q.QueryRowContext(ctx,
		selectCar+` WHERE c.id = ? AND c.event_id = ?`, carID, eventID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("car", strconv.FormatInt(carID, 10))
		}
		return nil, fmt.Errorf("sqlite: getting car %d: %w", carID, err)
	}

	riders, err := s.riders(ctx, `WHERE r.car_id = ?`, carID)
	if err != nil {
		return nil, err
	}
	if rs, ok := riders[c.ID]; ok {
		c.Riders = rs
	}
	return c, nil
}

// ListCars returns every car of the event in creation order, each with its
// roster. Two queries total regardless of how many cars there are.
func (s carStore) ListCars(ctx context.Context, eventID int64) ([]model.Car, error) {
	rows, err := s.q.QueryContext(ctx,
		selectCar+` WHERE c.event_id = ? ORDER BY c.id ASC`, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing cars of event %d: %w", eventID, err)
	}
	defer rows.Close()

	cars := []model.Car{}
	for rows.Next() {
		c, err := scanCar(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning car row: %w", err)
		}
		cars = append(cars, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating cars: %w", err)
	}
	if len(cars) == 0 {
		return cars, nil
	}

	riders, err := s.riders(ctx,
		`JOIN cars c ON c.id = r.car_id WHERE c.event_id = ?`, eventID,
	)
	if err != nil {
		return nil, err
	}
	for i := range cars {
		if rs, ok := riders[cars[i].ID]; ok {
			cars[i].Riders = rs
		}
	}
	return cars, nil
}

// riders loads rosters grouped by car id, each in insertion order.
func (s carStore) riders(ctx context.Context, where string, args ...any) (map[int64][]model.User, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT r.car_id, u.id, u.realm, u.name, u.email
		 FROM riders r
		 JOIN users u ON u.id = r.rider
		 `+where+`
		 ORDER BY r.car_id, r.rowid`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing riders: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]model.User)
	for rows.Next() {
		var carID int64
		var u model.User
		if err := rows.Scan(&carID, &u.ID, &u.Realm, &u.Name, &u.Email); err != nil {
			return nil, fmt.Errorf("sqlite: scanning rider row: %w", err)
		}
		out[carID] = append(out[carID], u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating riders: %w", err)
	}
	return out, nil
}

func (s carStore) UserInCar(ctx context.Context, eventID int64, userID string) (bool, error) {
	var found bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM cars WHERE event_id = ? AND driver = ?
		   UNION
		   SELECT 1 FROM riders r JOIN cars c ON c.id = r.car_id
		   WHERE c.event_id = ? AND r.rider = ?
		 )`,
		eventID, userID, eventID, userID,
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking car membership of %s: %w", userID, err)
	}
	return found, nil
}

func (s carStore) UsersByID(ctx context.Context, ids []string) (map[string]model.User, error) {
	return usersByID(ctx, s.q, ids)
}

func (s carStore) EventExists(ctx context.Context, eventID int64) (bool, error) {
	var found bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM events WHERE id = ?)`, eventID,
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking event %d: %w", eventID, err)
	}
	return found, nil
}

func (s carStore) InsertCar(ctx context.Context, eventID int64, driverID string, in model.CarInput) (int64, error) {
	var id int64
	err := s.q.QueryRowContext(ctx,
		`INSERT INTO cars (event_id, driver, max_capacity, departure_time, return_time, comment)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		eventID, driverID, in.MaxCapacity, in.DepartureTime.UTC(), in.ReturnTime.UTC(), in.Comment,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqlite: inserting car: %w", err)
	}
	return id, nil
}

func (s carStore) UpdateCar(ctx context.Context, carID, eventID int64, driverID string, in model.CarInput) (bool, error) {
	result, err := s.q.ExecContext(ctx,
		`UPDATE cars
		 SET max_capacity = ?, departure_time = ?, return_time = ?, comment = ?
		 WHERE id = ? AND event_id = ? AND driver = ?`,
		in.MaxCapacity, in.DepartureTime.UTC(), in.ReturnTime.UTC(), in.Comment,
		carID, eventID, driverID,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: updating car %d: %w", carID, err)
	}
	return affected(result)
}

func (s carStore) DeleteRiders(ctx context.Context, carID int64) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`DELETE FROM riders WHERE car_id = ? RETURNING rider`, carID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: clearing riders of car %d: %w", carID, err)
	}
	defer rows.Close()

	removed := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning removed rider: %w", err)
		}
		removed = append(removed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating removed riders: %w", err)
	}
	return removed, nil
}

// InsertRiders writes the roster in a single multi-row INSERT.
func (s carStore) InsertRiders(ctx context.Context, carID int64, riderIDs []string) error {
	if len(riderIDs) == 0 {
		return nil
	}

	query := `INSERT INTO riders (car_id, rider) VALUES `
	args := make([]any, 0, 2*len(riderIDs))
	for i, id := range riderIDs {
		if i > 0 {
			query += ", "
		}
		query += "(?, ?)"
		args = append(args, carID, id)
	}

	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: inserting riders of car %d: %w", carID, err)
	}
	return nil
}

func (s carStore) DeleteCar(ctx context.Context, carID, eventID int64, driverID string) (bool, error) {
	result, err := s.q.ExecContext(ctx,
		`DELETE FROM cars WHERE id = ? AND event_id = ? AND driver = ?`,
		carID, eventID, driverID,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: deleting car %d: %w", carID, err)
	}
	return affected(result)
}

func (s carStore) RemoveRider(ctx context.Context, carID int64, riderID string) (bool, error) {
	result, err := s.q.ExecContext(ctx,
		`DELETE FROM riders WHERE car_id = ? AND rider = ?`, carID, riderID,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: removing rider %s from car %d: %w", riderID, carID, err)
	}
	return affected(result)
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n > 0, nil
}
