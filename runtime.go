// Package vmhost embeds a managed script runtime in a Go process and
// bridges calls into it.
//
// A process runs at most one Runtime. Start creates it and attaches the
// calling goroutine's OS thread; other goroutines call Attach before using
// the runtime and Detach when done. A Bridge resolves types and methods and
// invokes them through an attached Env.
package vmhost

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/cryguy/vmhost/internal/core"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Runtime.
type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// slot holds the process runtime from the start of Start until
	// Shutdown completes.
	slot        atomic.Pointer[Runtime]
	generations atomic.Uint64
)

// StartOption configures Start.
type StartOption func(*startOptions)

type startOptions struct {
	backend core.Backend
	log     *zap.Logger
	ctx     context.Context
}

// WithBackend selects the backend that creates the VM. The default is the
// engine chosen at build time.
func WithBackend(b core.Backend) StartOption {
	return func(o *startOptions) { o.backend = b }
}

// WithLogger sets the logger for the runtime and the managed console.
func WithLogger(l *zap.Logger) StartOption {
	return func(o *startOptions) { o.log = l }
}

// WithContext bounds blocking startup steps, such as waiting for a
// debugger when the debug options ask to suspend.
func WithContext(ctx context.Context) StartOption {
	return func(o *startOptions) { o.ctx = ctx }
}

// Runtime owns the process's embedded VM.
type Runtime struct {
	id      uuid.UUID
	gen     uint64
	cfg     *Config
	backend core.Backend
	vm      core.VM
	log     *zap.Logger
	state   atomic.Int32

	mu   sync.Mutex
	envs map[int]*Env
}

// Start creates the process runtime from cfg and attaches the calling
// goroutine, which stays locked to its OS thread until it detaches.
func Start(cfg *Config, opts ...StartOption) (*Runtime, *Env, error) {
	const op = "start"
	if cfg == nil {
		return nil, nil, newError(KindIllegalArgument, op, "nil config", nil)
	}
	o := startOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.backend == nil {
		o.backend = newBackend()
	}
	if o.log == nil {
		o.log = Logger()
	}

	r := &Runtime{
		id:      uuid.New(),
		cfg:     cfg,
		backend: o.backend,
		envs:    make(map[int]*Env),
	}
	if !slot.CompareAndSwap(nil, r) {
		running := slot.Load()
		detail := "a runtime is already running in this process"
		if running != nil {
			detail = fmt.Sprintf("runtime %s is already running in this process", running.id)
		}
		return nil, nil, newError(KindAlreadyRunning, op, detail, nil)
	}
	r.gen = generations.Add(1)
	r.log = o.log.With(zap.String("runtime", r.id.String()), zap.Uint64("generation", r.gen))

	runtime.LockOSThread()
	tid, err := nativeThreadID()
	if err != nil {
		runtime.UnlockOSThread()
		slot.Store(nil)
		return nil, nil, newError(KindStartupFailure, op, "cannot identify the calling thread", err)
	}

	vm, err := r.backend.CreateVM(core.VMArgs{
		Options: cfg.Options(),
		Logger:  r.log,
		Context: o.ctx,
	})
	if err != nil {
		runtime.UnlockOSThread()
		slot.Store(nil)
		r.state.Store(int32(StateInvalid))
		return nil, nil, newError(KindStartupFailure, op,
			fmt.Sprintf("%s backend returned status %d", r.backend.Name(), core.StatusOf(err)), err)
	}
	r.vm = vm

	ce, err := vm.AttachCurrentThread(tid)
	if err != nil {
		runtime.UnlockOSThread()
		if derr := vm.Destroy(); derr != nil {
			r.log.Warn("destroying vm after failed attach", zap.Error(derr))
		}
		slot.Store(nil)
		r.state.Store(int32(StateInvalid))
		return nil, nil, newError(KindStartupFailure, op, "attaching the starting thread", err)
	}
	env := &Env{rt: r, ce: ce, tid: tid}
	r.envs[tid] = env
	r.state.Store(int32(StateRunning))

	r.log.Info("runtime started",
		zap.String("backend", r.backend.Name()),
		zap.Strings("class_path", cfg.ClassPath()),
		zap.String("heap", cfg.HeapLimit()),
		zap.Int("thread", tid))
	return r, env, nil
}

// ID is the runtime's instance id.
func (r *Runtime) ID() string { return r.id.String() }

// Generation numbers runtimes started in this process, starting at 1.
// Types, methods and references carry the generation they were resolved in.
func (r *Runtime) Generation() uint64 { return r.gen }

// State reports the lifecycle state.
func (r *Runtime) State() State { return State(r.state.Load()) }

// Config returns the configuration the runtime was started with.
func (r *Runtime) Config() *Config { return r.cfg }

// DebugAddr is the bound debug transport address, or empty.
func (r *Runtime) DebugAddr() string {
	if r.State() != StateRunning {
		return ""
	}
	return r.vm.DebugAddr()
}

// AttachedThreads lists the native ids of attached threads.
func (r *Runtime) AttachedThreads() []int {
	if r.State() != StateRunning {
		return nil
	}
	return r.vm.AttachedThreads()
}

func (r *Runtime) available(op string) error {
	if r.State() != StateRunning {
		return newError(KindRuntimeNotAvailable, op, fmt.Sprintf("runtime is %s", r.State()), nil)
	}
	return nil
}

// Attach attaches the calling goroutine's OS thread, locking the goroutine
// to it. Attaching an attached thread returns its existing Env. If the
// thread's environment still holds an exception left by an earlier call,
// the Env is returned together with a PendingException error.
func (r *Runtime) Attach() (*Env, error) {
	const op = "attach"
	if err := r.available(op); err != nil {
		return nil, err
	}
	runtime.LockOSThread()
	tid, err := nativeThreadID()
	if err != nil {
		runtime.UnlockOSThread()
		return nil, newError(KindAttachFailure, op, "cannot identify the calling thread", err)
	}

	r.mu.Lock()
	// Shutdown flips the state before it takes mu, so this check under mu
	// cannot miss a shutdown that has already snapshotted the envs.
	if err := r.available(op); err != nil {
		r.mu.Unlock()
		runtime.UnlockOSThread()
		return nil, err
	}
	env, ok := r.envs[tid]
	if ok {
		r.mu.Unlock()
		// Already locked by the first attach.
		runtime.UnlockOSThread()
		return env, env.pendingError(op)
	}
	ce, err := r.vm.AttachCurrentThread(tid)
	if err != nil {
		r.mu.Unlock()
		runtime.UnlockOSThread()
		if r.State() != StateRunning {
			return nil, newError(KindRuntimeNotAvailable, op, "runtime shut down during attach", err)
		}
		return nil, newError(KindAttachFailure, op, fmt.Sprintf("thread %d", tid), err)
	}
	env = &Env{rt: r, ce: ce, tid: tid}
	r.envs[tid] = env
	r.mu.Unlock()

	r.log.Debug("thread attached", zap.Int("thread", tid))
	return env, env.pendingError(op)
}

// Detach releases the calling thread's attachment and unlocks the
// goroutine from its OS thread. It is a no-op when the thread is not
// attached.
func (r *Runtime) Detach() error {
	tid, err := nativeThreadID()
	if err != nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detachLocked(tid)
}

func (r *Runtime) detachLocked(tid int) error {
	env, ok := r.envs[tid]
	if !ok {
		return nil
	}
	delete(r.envs, tid)
	env.detached.Store(true)
	runtime.UnlockOSThread()

	if r.State() != StateRunning {
		return nil
	}
	if err := r.vm.DetachCurrentThread(tid); err != nil {
		return newError(KindAttachFailure, "detach", fmt.Sprintf("thread %d", tid), err)
	}
	r.log.Debug("thread detached", zap.Int("thread", tid))
	return nil
}

// Shutdown detaches the calling thread if it is attached and destroys the
// VM. The runtime becomes invalid even when Shutdown reports an error;
// other threads that were still attached are reported as ShutdownFailure.
// Calling Shutdown again returns nil.
func (r *Runtime) Shutdown() error {
	const op = "shutdown"
	if !r.state.CompareAndSwap(int32(StateRunning), int32(StateInvalid)) {
		if r.State() == StateInvalid {
			return nil
		}
		return newError(KindRuntimeNotAvailable, op, "runtime is not running", nil)
	}

	r.mu.Lock()
	var others []int
	if tid, err := nativeThreadID(); err == nil {
		if env, ok := r.envs[tid]; ok {
			delete(r.envs, tid)
			env.detached.Store(true)
			runtime.UnlockOSThread()
			if err := r.vm.DetachCurrentThread(tid); err != nil {
				r.log.Warn("detaching calling thread", zap.Int("thread", tid), zap.Error(err))
			}
		}
	}
	for tid, env := range r.envs {
		env.detached.Store(true)
		others = append(others, tid)
	}
	r.mu.Unlock()

	derr := r.vm.Destroy()
	slot.CompareAndSwap(r, nil)

	if len(others) > 0 || derr != nil {
		r.log.Warn("runtime shut down with errors", zap.Ints("attached_threads", others), zap.Error(derr))
		detail := "vm teardown failed"
		if len(others) > 0 {
			detail = fmt.Sprintf("%d other thread(s) still attached: %v", len(others), others)
		}
		return newError(KindShutdownFailure, op, detail, derr)
	}
	r.log.Info("runtime shut down")
	return nil
}
