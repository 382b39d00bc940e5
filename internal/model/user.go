// Package model defines the data structures used throughout the application.
package model

// Realm identifies the OAuth provider that vouched for a user. Only some
// realms receive pings.
type Realm string

const (
	RealmCSH    Realm = "csh"
	RealmGoogle Realm = "google"
)

// Valid reports whether r is one of the known realms.
func (r Realm) Valid() bool {
	switch r {
	case RealmCSH, RealmGoogle:
		return true
	}
	return false
}

// User is a person known to the system.
//
// WHY ID string?
// The ID is whatever the identity provider assigned (a Google "sub", a CSH
// LDAP uid). We never mint our own user IDs; the provider's identifier is
// stable across logins, so it is the primary key. Realm disambiguates which
// provider the ID came from.
//
// Users are upserted on every successful login and never deleted here.
type User struct {
	ID    string `json:"id"    db:"id"`
	Realm Realm  `json:"realm" db:"realm"`
	Name  string `json:"name"  db:"name"`
	Email string `json:"email" db:"email"`
}
