// services/lscon/errors.go
package lscon

import (
	"strconv"

	"go.uber.org/multierr"
)

// ChildError is the failure to create or bind one topology child.
type ChildError struct {
	Node string
	Err  error
}

func (e *ChildError) Error() string { return "child " + e.Node + ": " + e.Err.Error() }
func (e *ChildError) Unwrap() error { return e.Err }

// AttachError reports child failures of an otherwise successful Attach.
type AttachError struct {
	Connector string
	Err       error // multierr of *ChildError
}

func (e *AttachError) Error() string {
	n := len(multierr.Errors(e.Err))
	return "attach " + e.Connector + ": " + strconv.Itoa(n) + " child error(s): " + e.Err.Error()
}

func (e *AttachError) Unwrap() error { return e.Err }

// Children returns the individual child failures.
func (e *AttachError) Children() []*ChildError {
	var out []*ChildError
	for _, err := range multierr.Errors(e.Err) {
		if ce, ok := err.(*ChildError); ok {
			out = append(out, ce)
		}
	}
	return out
}
