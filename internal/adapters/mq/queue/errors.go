package queue

import (
	"errors"
	"fmt"
)

// Sentinel kinds for queue errors.
var (
	ErrBackpressure = errors.New("queue full")
	ErrClosed       = errors.New("queue closed")
)

// BackpressureError reports a shard that could not take another command.
// Callers may retry.
type BackpressureError struct {
	Shard    int
	Capacity int
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("shard %d at capacity %d", e.Shard, e.Capacity)
}

func (e *BackpressureError) Unwrap() error   { return ErrBackpressure }
func (e *BackpressureError) Retryable() bool { return true }
