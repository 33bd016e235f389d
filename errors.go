package vmhost

import (
	"strings"

	"github.com/cryguy/vmhost/internal/core"
)

// Kind categorizes an Error.
type Kind string

const (
	KindStartupFailure      Kind = "startup_failure"
	KindAlreadyRunning      Kind = "already_running"
	KindAttachFailure       Kind = "attach_failure"
	KindPendingException    Kind = "pending_exception"
	KindRuntimeNotAvailable Kind = "runtime_not_available"
	KindTypeNotFound        Kind = "type_not_found"
	KindMethodNotFound      Kind = "method_not_found"
	KindConstructionFailure Kind = "construction_failure"
	KindShutdownFailure     Kind = "shutdown_failure"
	KindThreadMismatch      Kind = "thread_mismatch"
	KindIllegalArgument     Kind = "illegal_argument"
)

// Sentinels for errors.Is. An *Error matches a sentinel of the same Kind.
var (
	ErrStartupFailure      = &Error{Kind: KindStartupFailure}
	ErrAlreadyRunning      = &Error{Kind: KindAlreadyRunning}
	ErrAttachFailure       = &Error{Kind: KindAttachFailure}
	ErrPendingException    = &Error{Kind: KindPendingException}
	ErrRuntimeNotAvailable = &Error{Kind: KindRuntimeNotAvailable}
	ErrTypeNotFound        = &Error{Kind: KindTypeNotFound}
	ErrMethodNotFound      = &Error{Kind: KindMethodNotFound}
	ErrConstructionFailure = &Error{Kind: KindConstructionFailure}
	ErrShutdownFailure     = &Error{Kind: KindShutdownFailure}
	ErrThreadMismatch      = &Error{Kind: KindThreadMismatch}
	ErrIllegalArgument     = &Error{Kind: KindIllegalArgument}
)

// Error is the structured error returned by this package.
type Error struct {
	Kind   Kind
	Op     string
	Detail string

	// Exception is the managed exception behind the failure, if any.
	Exception *core.Throwable

	Cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Exception != nil {
		b.WriteString(": ")
		b.WriteString(e.Exception.Class)
		if e.Exception.Message != "" {
			b.WriteString(": ")
			b.WriteString(e.Exception.Message)
		}
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target has the same Kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Status returns the embedding status carried by the cause chain, or
// core.StatusOK when the failure did not come from a status code.
func (e *Error) Status() core.Status {
	if e.Cause == nil {
		return core.StatusOK
	}
	return core.StatusOf(e.Cause)
}

func newError(kind Kind, op, detail string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail, Cause: cause}
}
