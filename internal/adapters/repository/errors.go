package repository

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel kinds for store errors.
var (
	ErrNotFound     = errors.New("record not found")
	ErrConflict     = errors.New("record changed concurrently")
	ErrDuplicate    = errors.New("record already exists")
	ErrStoreTimeout = errors.New("store timeout")
)

// StoreTimeoutError reports a store call that did not finish within its
// bound. Callers may retry it.
type StoreTimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *StoreTimeoutError) Error() string {
	return fmt.Sprintf("%s: %s after %s", ErrStoreTimeout, e.Op, e.Timeout)
}

func (e *StoreTimeoutError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStoreTimeout}
	}
	return []error{ErrStoreTimeout, e.Err}
}

// Retryable marks the error as safe to retry.
func (e *StoreTimeoutError) Retryable() bool { return true }
