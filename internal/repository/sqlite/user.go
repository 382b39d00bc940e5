package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sakif/rideboard/internal/apperror"
	"github.com/sakif/rideboard/internal/model"
	"github.com/sakif/rideboard/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// Upsert inserts or updates a user keyed by the provider-assigned ID.
//
// The provider is the source of truth for name and email, so every login
// overwrites them. ON CONFLICT ... DO UPDATE keeps the row (and every foreign
// key pointing at it) in place, unlike INSERT OR REPLACE which would delete
// and re-insert, cascading through cars and riders.
func (db *DB) Upsert(ctx context.Context, user *model.User) error {
	if !user.Realm.Valid() {
		return fmt.Errorf("sqlite: upserting user %s: unknown realm %q", user.ID, user.Realm)
	}

	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO users (id, realm, name, email)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   realm = excluded.realm, name = excluded.name, email = excluded.email
		 RETURNING id, realm, name, email`,
		user.ID, string(user.Realm), user.Name, user.Email,
	).Scan(&user.ID, &user.Realm, &user.Name, &user.Email)
	if err != nil {
		return fmt.Errorf("sqlite: upserting user %s: %w", user.ID, err)
	}

	return nil
}

// GetUserByID retrieves a user by their provider-assigned ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return getUser(ctx, db.conn, id)
}

func getUser(ctx context.Context, q querier, id string) (*model.User, error) {
	var u model.User
	err := q.QueryRowContext(ctx,
		`SELECT id, realm, name, email FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Realm, &u.Name, &u.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return &u, nil
}

// UsersByID resolves many ids in one query. Unknown ids are absent from the
// returned map; the caller decides whether that is an error.
func (db *DB) UsersByID(ctx context.Context, ids []string) (map[string]model.User, error) {
	return usersByID(ctx, db.conn, ids)
}

func usersByID(ctx context.Context, q querier, ids []string) (map[string]model.User, error) {
	out := make(map[string]model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, realm, name, email FROM users WHERE id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Realm, &u.Name, &u.Email); err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		out[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}

	return out, nil
}

// Search does a case-insensitive substring match on id, name and email.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]model.User, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, realm, name, email FROM users
		 WHERE LOWER(name) LIKE ? ESCAPE '\'
		    OR LOWER(email) LIKE ? ESCAPE '\'
		    OR LOWER(id) LIKE ? ESCAPE '\'
		 ORDER BY name ASC
		 LIMIT ?`,
		pattern, pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: searching users: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, limit)
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Realm, &u.Name, &u.Email); err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}

	return users, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
