// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates the request payload failed validation.
var ErrValidation = errors.New("validation failed")

// ErrInvalidTransition indicates a status change not permitted by the
// confirm state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrInvalidState indicates an operation attempted while the entity is in
// a status that does not permit it.
var ErrInvalidState = errors.New("invalid state for operation")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")
