package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/rideboard/internal/apperror"
	"github.com/sakif/rideboard/internal/model"
	"github.com/sakif/rideboard/internal/repository"
)

var _ repository.EventRepository = (*DB)(nil)

const selectEvent = `
	SELECT e.id, e.name, e.location, e.start_time, e.end_time,
	       u.id, u.realm, u.name, u.email
	FROM events e
	JOIN users u ON u.id = e.creator`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*model.Event, error) {
	var e model.Event
	err := s.Scan(
		&e.ID, &e.Name, &e.Location, &e.StartTime, &e.EndTime,
		&e.Creator.ID, &e.Creator.Realm, &e.Creator.Name, &e.Creator.Email,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEvent inserts an event owned by creatorID.
//
// Times are stored in UTC. SQLite compares DATETIME columns as text, so mixed
// offsets would sort wrong in ListEvents.
func (db *DB) CreateEvent(ctx context.Context, creatorID string, in model.EventInput) (*model.Event, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO events (name, location, start_time, end_time, creator)
		 VALUES (?, ?, ?, ?, ?)
		 RETURNING id`,
		in.Name, in.Location, in.StartTime.UTC(), in.EndTime.UTC(), creatorID,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: creating event: %w", err)
	}

	return db.GetEvent(ctx, id)
}

// GetEvent retrieves an event with its creator resolved.
func (db *DB) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	e, err := scanEvent(db.conn.QueryRowContext(ctx, selectEvent+` WHERE e.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("event", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting event %d: %w", id, err)
	}
	return e, nil
}

// ListEvents returns upcoming events (end time not yet passed) in ascending
// start order, or past events in descending start order.
func (db *DB) ListEvents(ctx context.Context, past bool) ([]model.Event, error) {
	query := selectEvent + ` WHERE e.end_time >= ? ORDER BY e.start_time ASC, e.id ASC`
	if past {
		query = selectEvent + ` WHERE e.end_time < ? ORDER BY e.start_time DESC, e.id DESC`
	}

	rows, err := db.conn.QueryContext(ctx, query, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing events: %w", err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning event row: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating events: %w", err)
	}

	return events, nil
}

// UpdateEvent overwrites an event's fields. Only the creator's own event
// matches; anything else is reported as not found so callers cannot probe
// for other people's events.
func (db *DB) UpdateEvent(ctx context.Context, id int64, creatorID string, in model.EventInput) (*model.Event, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE events SET name = ?, location = ?, start_time = ?, end_time = ?
		 WHERE id = ? AND creator = ?`,
		in.Name, in.Location, in.StartTime.UTC(), in.EndTime.UTC(), id, creatorID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating event %d: %w", id, err)
	}

	if err := expectOneRow(result, "event", id); err != nil {
		return nil, err
	}

	return db.GetEvent(ctx, id)
}

// DeleteEvent removes the creator's event. Cars and their riders go with it
// through ON DELETE CASCADE.
func (db *DB) DeleteEvent(ctx context.Context, id int64, creatorID string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM events WHERE id = ? AND creator = ?`, id, creatorID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting event %d: %w", id, err)
	}

	return expectOneRow(result, "event", id)
}

// EventName is the single column the notification worker needs.
func (db *DB) EventName(ctx context.Context, id int64) (string, error) {
	var name string
	err := db.conn.QueryRowContext(ctx, `SELECT name FROM events WHERE id = ?`, id).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperror.NotFound("event", strconv.FormatInt(id, 10))
		}
		return "", fmt.Errorf("sqlite: getting event name %d: %w", id, err)
	}
	return name, nil
}

func expectOneRow(result sql.Result, resource string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, strconv.FormatInt(id, 10))
	}
	return nil
}
