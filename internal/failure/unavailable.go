// Package failure carries the "required collaborator is unavailable" signal
// and the node-level reactions to it.
//
// Ordinary work errors end a single work item. An UnavailableError means the
// node itself cannot make progress (broker gone, database unreachable, tool
// missing), so it is matched separately by a Guard and turned into a node
// action such as pausing or stopping consumption.
package failure

import (
	"errors"
	"fmt"
)

// UnavailableError marks a failure to reach a required downstream dependency.
type UnavailableError struct {
	Component string
	Message   string
	Err       error
}

func (e *UnavailableError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Component == "" {
		return "component unavailable: " + msg
	}
	return fmt.Sprintf("component unavailable: %s: %s", e.Component, msg)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err as an UnavailableError for component. A nil err
// returns nil. An err that already carries the signal is returned unchanged.
func Unavailable(component string, err error) error {
	if err == nil {
		return nil
	}
	if IsUnavailable(err) {
		return err
	}
	return &UnavailableError{Component: component, Err: err}
}

// Unavailablef builds an UnavailableError without an underlying cause.
func Unavailablef(component, format string, args ...any) error {
	return &UnavailableError{Component: component, Message: fmt.Sprintf(format, args...)}
}

func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

func AsUnavailable(err error) (*UnavailableError, bool) {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
