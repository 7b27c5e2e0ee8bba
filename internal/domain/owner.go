package domain

import (
	"errors"
	"strings"
)

// OwnerKind distinguishes anonymous session carts from authenticated user carts.
type OwnerKind string

const (
	OwnerSession OwnerKind = "session"
	OwnerUser    OwnerKind = "user"
)

// ErrInvalidOwner is returned when an owner key names neither a session nor a user.
var ErrInvalidOwner = errors.New("owner key must name a session or a user")

// OwnerKey identifies whose cart a line belongs to. Exactly one kind is set;
// values are only built through SessionOwner, UserOwner or ParseOwner, so the
// zero value is never a valid owner.
type OwnerKey struct {
	kind OwnerKind
	id   string
}

// SessionOwner returns the owner key for an anonymous, client-generated session id.
func SessionOwner(sessionID string) (OwnerKey, error) {
	return newOwner(OwnerSession, sessionID)
}

// UserOwner returns the owner key for an authenticated user id.
func UserOwner(userID string) (OwnerKey, error) {
	return newOwner(OwnerUser, userID)
}

// ParseOwner rebuilds an owner key from its stored kind and id.
func ParseOwner(kind, id string) (OwnerKey, error) {
	switch OwnerKind(kind) {
	case OwnerSession, OwnerUser:
		return newOwner(OwnerKind(kind), id)
	default:
		return OwnerKey{}, ErrInvalidOwner
	}
}

func newOwner(kind OwnerKind, id string) (OwnerKey, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return OwnerKey{}, ErrInvalidOwner
	}
	return OwnerKey{kind: kind, id: id}, nil
}

func (o OwnerKey) Kind() OwnerKind { return o.kind }

func (o OwnerKey) ID() string { return o.id }

// IsZero reports whether o was never initialised.
func (o OwnerKey) IsZero() bool { return o.kind == "" }

// IsUser reports whether o identifies an authenticated user.
func (o OwnerKey) IsUser() bool { return o.kind == OwnerUser }

// Validate returns ErrInvalidOwner for the zero value.
func (o OwnerKey) Validate() error {
	if o.IsZero() || o.id == "" {
		return ErrInvalidOwner
	}
	return nil
}

// String renders the key as "kind:id", the form used for event keys and logs.
func (o OwnerKey) String() string {
	if o.IsZero() {
		return ""
	}
	return string(o.kind) + ":" + o.id
}
