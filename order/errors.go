package order

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest = errors.New("invalid order request")
	ErrRejected       = errors.New("order rejected")
	ErrCanceled       = errors.New("order cancelled")
	ErrWaitAborted    = errors.New("order wait aborted")
)

// Error is a failure local to one execution. It never ends the session.
type Error struct {
	Action  Action
	Symbol  string
	OrderID string
	Status  Status
	Err     error
}

func (e *Error) Error() string {
	if e.OrderID == "" {
		return fmt.Sprintf("%s %s: %v", e.Action, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s %s order %s (%s): %v", e.Action, e.Symbol, e.OrderID, e.Status, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
