package model

import "errors"

// Sentinel kinds for model validation errors.
var (
	ErrInvalidState        = errors.New("invalid job state")
	ErrInvalidPriority     = errors.New("invalid priority")
	ErrInvalidTier         = errors.New("invalid customer tier")
	ErrInvalidAvailability = errors.New("invalid part availability")
	ErrInvalidSpec         = errors.New("invalid job spec")
	ErrInvalidTechnician   = errors.New("invalid technician")
)
