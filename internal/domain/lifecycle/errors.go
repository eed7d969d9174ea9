package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/okian/repairflow/internal/domain/model"
)

// Sentinel kinds for transition failures.
var (
	ErrIllegalTransition = errors.New("illegal transition")
	ErrTerminalState     = errors.New("job is in a terminal state")
	ErrPartsNotReady     = errors.New("parts not ready")
)

// TransitionError reports a move that is not on the adjacency table or
// whose guard failed.
type TransitionError struct {
	JobID  string
	From   model.State
	To     model.State
	Detail string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("job %s: %s -> %s", e.JobID, e.From, e.To)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return fmt.Sprintf("%s: %s", ErrIllegalTransition, msg)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// TerminalStateError reports any transition attempt on a delivered job.
type TerminalStateError struct {
	JobID string
	State model.State
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("%s: job %s is %s", ErrTerminalState, e.JobID, e.State)
}

func (e *TerminalStateError) Unwrap() error { return ErrTerminalState }

// PartsNotReadyError lists the bill-of-materials lines that are not in stock.
type PartsNotReadyError struct {
	JobID string
	SKUs  []string
}

func (e *PartsNotReadyError) Error() string {
	return fmt.Sprintf("%s: job %s waiting on %s", ErrPartsNotReady, e.JobID, strings.Join(e.SKUs, ", "))
}

func (e *PartsNotReadyError) Unwrap() error { return ErrPartsNotReady }
