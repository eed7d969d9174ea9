package notify

import (
	"errors"
	"fmt"
)

// ErrDispatch is the sentinel kind for failed notification deliveries.
var ErrDispatch = errors.New("notification dispatch failed")

// DispatchError reports a notification the collaborator did not accept.
// It is logged and recorded, never fatal to the operation that raised it.
type DispatchError struct {
	JobID  string
	Level  int
	Action string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: job %s level %d (%s): %v", ErrDispatch, e.JobID, e.Level, e.Action, e.Err)
}

func (e *DispatchError) Unwrap() []error { return []error{ErrDispatch, e.Err} }
