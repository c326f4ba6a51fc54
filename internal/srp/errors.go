package srp

import (
	"errors"
	"fmt"
)

var (
	// ErrPermission is the sentinel all permission failures wrap.
	ErrPermission = errors.New("srp: insufficient permissions")

	// ErrStatus is the sentinel all status-rule failures wrap.
	ErrStatus = errors.New("srp: invalid request status")

	// ErrNotFound is the sentinel all store lookup failures wrap.
	ErrNotFound = errors.New("srp: not found")

	// ErrConflict is returned by stores for uniqueness violations, e.g. a
	// duplicate permission grant.
	ErrConflict = errors.New("srp: resource conflict")

	// ErrModifierVoid is returned when voiding a modifier that is already
	// void.
	ErrModifierVoid = errors.New("srp: modifier already void")
)

// PermissionError reports that a user lacks the grant required for an
// operation on a request. It is raised before any store write.
type PermissionError struct {
	UserID    int64
	RequestID int64
	Operation string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %d may not %s request %d: %v",
		e.UserID, e.Operation, e.RequestID, ErrPermission)
}

func (e *PermissionError) Unwrap() error { return ErrPermission }

// StatusError reports that a request's current status forbids the attempted
// transition or edit. It is raised before any store write.
type StatusError struct {
	RequestID int64
	Operation string
	Status    ActionType
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cannot %s request %d in status %s: %v",
		e.Operation, e.RequestID, e.Status, ErrStatus)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// NotFoundError reports that a referenced record does not exist. Stores
// return it for every failed lookup.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d: %v", e.Kind, e.ID, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
