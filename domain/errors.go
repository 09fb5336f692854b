package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a task id does not exist in the store.
	ErrNotFound = errors.New("task not found")
	// ErrConflict is returned when a write would duplicate a unique field.
	ErrConflict = errors.New("task already exists")
	// ErrInvalidArgument marks input rejected at the boundary.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCacheUnavailable wraps every cache failure. It never reaches callers
	// of the service.
	ErrCacheUnavailable = errors.New("cache unavailable")
)

// StoreError reports a durable store failure other than not-found or conflict.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
