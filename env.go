package vmhost

import (
	"fmt"
	"sync/atomic"

	"github.com/cryguy/vmhost/internal/core"
)

// Env is a thread's attachment to the runtime. It must only be used on the
// OS thread that obtained it; use from any other thread fails with
// ThreadMismatch.
type Env struct {
	rt       *Runtime
	ce       core.Env
	tid      int
	detached atomic.Bool
}

// Thread is the native id of the owning thread.
func (e *Env) Thread() int { return e.tid }

// Runtime returns the runtime this Env belongs to.
func (e *Env) Runtime() *Runtime { return e.rt }

// check validates that the Env is usable from the calling thread.
func (e *Env) check(op string) error {
	if e == nil {
		return newError(KindIllegalArgument, op, "nil env", nil)
	}
	if err := e.rt.available(op); err != nil {
		return err
	}
	if e.detached.Load() {
		return newError(KindRuntimeNotAvailable, op, fmt.Sprintf("thread %d is detached", e.tid), nil)
	}
	tid, err := nativeThreadID()
	if err != nil {
		return newError(KindThreadMismatch, op, "cannot identify the calling thread", err)
	}
	if tid != e.tid {
		return newError(KindThreadMismatch, op,
			fmt.Sprintf("env belongs to thread %d, called from thread %d", e.tid, tid), nil)
	}
	return nil
}

// ready is check plus the pending-exception gate every bridge call goes
// through.
func (e *Env) ready(op string) error {
	if err := e.check(op); err != nil {
		return err
	}
	return e.pendingError(op)
}

func (e *Env) pendingError(op string) error {
	th := e.ce.ExceptionOccurred()
	if th == nil {
		return nil
	}
	return &Error{
		Kind:      KindPendingException,
		Op:        op,
		Detail:    "an exception from an earlier call is still pending; clear it with Env.ClearException",
		Exception: th,
	}
}

// PendingException returns the exception pending on this thread, or nil.
func (e *Env) PendingException() (*core.Throwable, error) {
	if err := e.check("pending exception"); err != nil {
		return nil, err
	}
	return e.ce.ExceptionOccurred(), nil
}

// ClearException acknowledges and clears a pending exception.
func (e *Env) ClearException() error {
	if err := e.check("clear exception"); err != nil {
		return err
	}
	e.ce.ExceptionClear()
	return nil
}

// ReleaseRef releases a managed object reference. Releasing twice is a
// no-op.
func (e *Env) ReleaseRef(ref *InstanceRef) error {
	const op = "release ref"
	if ref == nil {
		return nil
	}
	if err := e.check(op); err != nil {
		return err
	}
	if ref.gen != e.rt.gen {
		return newError(KindRuntimeNotAvailable, op,
			fmt.Sprintf("reference from generation %d used with generation %d", ref.gen, e.rt.gen), nil)
	}
	if !ref.released.CompareAndSwap(false, true) {
		return nil
	}
	e.ce.DeleteRef(ref.ref)
	return nil
}
