package service

import "errors"

// Sentinel kinds for service-level failures.
var (
	ErrNotStarted      = errors.New("service not started")
	ErrStopped         = errors.New("service stopped")
	ErrAlreadyAssigned = errors.New("job already has a technician")
	ErrNotAssigned     = errors.New("job has no technician")
	ErrInvalidInput    = errors.New("invalid input")
)
