package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/repairflow/internal/adapters/mq/queue"
	"github.com/okian/repairflow/internal/adapters/repository"
	service "github.com/okian/repairflow/internal/app"
	"github.com/okian/repairflow/internal/domain/assignment"
	"github.com/okian/repairflow/internal/domain/lifecycle"
	"github.com/okian/repairflow/internal/domain/types"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrSchema     = errors.New("request does not match schema")
)

// Error attaches the failing operation to an error and, optionally, a kind.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Kind == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap tags err with op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// WrapKind tags err with op and kind.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// NewKind returns an error of kind raised by op.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// describe maps an error to a status code and the JSON error envelope.
func describe(err error) (int, types.ErrorBody) {
	body := types.ErrorBody{Error: err.Error()}

	var parts *lifecycle.PartsNotReadyError
	var noEligible *assignment.NoEligibleTechnicianError
	switch {
	case errors.As(err, &parts):
		body.Kind, body.Details = "parts_not_ready", parts.SKUs
		return http.StatusConflict, body
	case errors.As(err, &noEligible):
		body.Kind, body.Details = "no_eligible_technician", noEligible.Excluded
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, lifecycle.ErrTerminalState):
		body.Kind = "terminal_state"
		return http.StatusConflict, body
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		body.Kind = "illegal_transition"
		return http.StatusConflict, body
	case errors.Is(err, assignment.ErrStaleAssignment):
		body.Kind = "stale_assignment"
		return http.StatusConflict, body
	case errors.Is(err, service.ErrAlreadyAssigned), errors.Is(err, service.ErrNotAssigned),
		errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrDuplicate):
		body.Kind = "conflict"
		return http.StatusConflict, body
	case errors.Is(err, repository.ErrNotFound):
		body.Kind = "not_found"
		return http.StatusNotFound, body
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrSchema), errors.Is(err, service.ErrInvalidInput):
		body.Kind = "bad_request"
		return http.StatusBadRequest, body
	case errors.Is(err, queue.ErrBackpressure):
		body.Kind = "backpressure"
		return http.StatusTooManyRequests, body
	case errors.Is(err, repository.ErrStoreTimeout), errors.Is(err, service.ErrStopped),
		errors.Is(err, service.ErrNotStarted), errors.Is(err, context.DeadlineExceeded):
		body.Kind = "unavailable"
		return http.StatusServiceUnavailable, body
	default:
		body.Kind = "internal_error"
		return http.StatusInternalServerError, body
	}
}
