package core

import (
	"errors"
	"fmt"
)

// Status is the numeric result code of an embedding call. Zero means
// success; the negative values follow the conventional invocation-API
// numbering so option vectors and diagnostics read the same across hosts.
type Status int

const (
	StatusOK       Status = 0
	StatusErr      Status = -1 // unknown error
	StatusDetached Status = -2 // thread not attached
	StatusVersion  Status = -3 // version mismatch
	StatusNoMem    Status = -4 // not enough memory
	StatusExists   Status = -5 // VM already created
	StatusInvalid  Status = -6 // invalid arguments or options
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusErr:
		return "error"
	case StatusDetached:
		return "detached"
	case StatusVersion:
		return "version mismatch"
	case StatusNoMem:
		return "out of memory"
	case StatusExists:
		return "already exists"
	case StatusInvalid:
		return "invalid argument"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StatusError carries a non-zero Status returned by a backend operation.
type StatusError struct {
	Op     string
	Status Status
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%d): %v", e.Op, e.Status, int(e.Status), e.Err)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Status, int(e.Status))
}

func (e *StatusError) Unwrap() error { return e.Err }

// Errorf builds a StatusError with a formatted cause.
func Errorf(op string, status Status, format string, args ...any) *StatusError {
	return &StatusError{Op: op, Status: status, Err: fmt.Errorf(format, args...)}
}

// StatusOf extracts the Status carried by err. A nil error is StatusOK and
// an error without a StatusError in its chain is StatusErr.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return StatusErr
}
