package invite

import (
	"errors"
	"fmt"
)

// Kind classifies an Error. Callers pick user facing messages and status codes
// by kind, never by message text.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindAuthorization    Kind = "authorization"
	KindPermissionDenied Kind = "permission_denied"
	KindNotFound         Kind = "not_found"
	KindExpired          Kind = "expired"
	KindAlreadyUsed      Kind = "already_used"
	KindConflict         Kind = "conflict"
	KindPersistence      Kind = "persistence"
)

// Error is the error type returned by Manager and Coordinator.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrExpired) works
// whatever message was attached.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrAuthorization    = &Error{Kind: KindAuthorization}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrExpired          = &Error{Kind: KindExpired}
	ErrAlreadyUsed      = &Error{Kind: KindAlreadyUsed}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrPersistence      = &Error{Kind: KindPersistence}

	// ErrIdentityExists is returned by an IdentityProvider when the email
	// already has a login identity.
	ErrIdentityExists = errors.New("identity already exists")
)

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func persistenceError(msg string, err error) *Error {
	return newError(KindPersistence, msg, err)
}

// KindOf returns the kind of err. Errors not produced by this package are
// treated as persistence failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}
