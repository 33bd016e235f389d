package core

import (
	"context"

	"go.uber.org/zap"
)

// Backend creates virtual machines. It is the create-environment entry
// point of the embedding API; the host package selects one implementation
// per build (QuickJS by default, V8 with -tags v8).
type Backend interface {
	// Name identifies the engine in logs and diagnostics.
	Name() string

	// CreateVM starts a VM from a startup option vector. Failures are
	// reported as *StatusError with a non-zero Status.
	CreateVM(args VMArgs) (VM, error)
}

// VMArgs carries everything CreateVM needs.
type VMArgs struct {
	Options []string
	Logger  *zap.Logger

	// Context bounds blocking startup steps such as waiting for a debugger
	// when the transport asks to suspend. Nil means no bound.
	Context context.Context
}

// VM is a running virtual machine. Threads are identified by their native
// thread id; the host is responsible for keeping a thread on the same OS
// thread while it is attached.
type VM interface {
	// AttachCurrentThread attaches thread tid, or returns its existing
	// environment if it is already attached.
	AttachCurrentThread(tid int) (Env, error)

	// DetachCurrentThread releases thread tid. Detaching a thread that is
	// not attached reports StatusDetached.
	DetachCurrentThread(tid int) error

	// GetEnv returns the environment of an attached thread, or a
	// StatusDetached error.
	GetEnv(tid int) (Env, error)

	// AttachedThreads lists the ids of attached threads.
	AttachedThreads() []int

	// DebugAddr is the bound debug transport address, empty when the VM
	// was started without a debug transport.
	DebugAddr() string

	// Destroy tears the VM down. It always releases the VM; an error
	// reports threads that were still attached or a failed teardown step.
	Destroy() error
}
