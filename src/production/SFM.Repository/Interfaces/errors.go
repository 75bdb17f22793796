package interfaces

import "errors"

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write would violate a uniqueness or immutability rule
	ErrConflict = errors.New("record conflict")
)
