// Package jsvm implements the embedding API (core.Backend, core.VM and
// core.Env) on top of any core.JSRuntime. Both engines share it; only the
// engine factory differs.
//
// Classes are script constructors reachable from the global scope, with
// package segments walked as properties ("demo/Transcriber" is
// demo.Transcriber). Static methods are properties of the constructor and
// instance methods live on its prototype.
package jsvm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cryguy/vmhost/internal/classpath"
	"github.com/cryguy/vmhost/internal/core"
	"github.com/cryguy/vmhost/internal/debugwire"
	"go.uber.org/zap"
)

// Backend creates script VMs with one engine factory.
type Backend struct {
	name    string
	factory core.EngineFactory
}

var _ core.Backend = (*Backend)(nil)

// NewBackend returns a backend named name that builds engines with factory.
func NewBackend(name string, factory core.EngineFactory) *Backend {
	return &Backend{name: name, factory: factory}
}

// Name implements core.Backend.
func (b *Backend) Name() string { return b.name }

// CreateVM implements core.Backend.
func (b *Backend) CreateVM(args core.VMArgs) (core.VM, error) {
	return New(b.factory, args)
}

// VM is a script VM. All engine access is serialized by mu.
type VM struct {
	mu        sync.Mutex
	rt        core.JSRuntime
	bin       core.BinaryTransferer
	envs      map[int]*env
	classes   map[core.Ref]string
	current   int // thread running managed code, 0 when idle
	staged    int
	destroyed bool

	opts  *core.VMOptions
	debug *debugwire.Server
	log   *zap.Logger
}

var _ core.VM = (*VM)(nil)

// New creates a VM from args using factory for the engine.
func New(factory core.EngineFactory, args core.VMArgs) (*VM, error) {
	log := args.Logger
	if log == nil {
		log = zap.NewNop()
	}
	opts, err := core.ParseOptions(args.Options)
	if err != nil {
		return nil, err
	}
	if len(opts.ClassPath) == 0 {
		return nil, core.Errorf("create vm", core.StatusInvalid, "no class path given")
	}
	scripts, err := classpath.Load(opts.ClassPath)
	if err != nil {
		return nil, &core.StatusError{Op: "create vm", Status: core.StatusErr, Err: err}
	}

	v := &VM{
		envs:    make(map[int]*env),
		classes: make(map[core.Ref]string),
		opts:    opts,
		log:     log,
	}

	if opts.Transport != nil {
		srv, err := debugwire.Listen(opts.Transport.Address, log.Named("debug"))
		if err != nil {
			return nil, &core.StatusError{Op: "create vm", Status: core.StatusErr, Err: err}
		}
		v.debug = srv
		if opts.Transport.Suspend {
			ctx := args.Context
			if ctx == nil {
				ctx = context.Background()
			}
			log.Info("suspended until a debugger connects", zap.String("url", srv.URL()))
			if err := srv.WaitForClient(ctx); err != nil {
				srv.Close()
				return nil, &core.StatusError{Op: "create vm", Status: core.StatusErr, Err: err}
			}
		}
	}

	rt, err := factory(core.EngineOptions{HeapLimitBytes: opts.HeapBytes, DisableJIT: opts.DisableJIT})
	if err != nil {
		v.closeDebug()
		return nil, &core.StatusError{Op: "create vm", Status: core.StatusErr, Err: err}
	}
	v.rt = rt
	if bt, ok := rt.(core.BinaryTransferer); ok {
		v.bin = bt
	}

	if err := v.install(); err != nil {
		v.teardown()
		return nil, &core.StatusError{Op: "create vm", Status: core.StatusErr, Err: err}
	}
	for _, s := range scripts {
		if err := rt.Eval(s.Source); err != nil {
			v.teardown()
			return nil, &core.StatusError{Op: "create vm", Status: evalStatus(err),
				Err: fmt.Errorf("loading %s: %w", s.Name, err)}
		}
		rt.RunMicrotasks()
	}

	log.Info("vm created",
		zap.Int("scripts", len(scripts)),
		zap.Int64("heap_bytes", opts.HeapBytes),
		zap.Bool("debug", opts.Debug),
		zap.String("debug_addr", v.debugAddr()))
	v.publish("vm.start", 0, strings.Join(opts.ClassPath, core.ClassPathSep))
	return v, nil
}

func evalStatus(err error) core.Status {
	if strings.Contains(strings.ToLower(err.Error()), "out of memory") {
		return core.StatusNoMem
	}
	return core.StatusErr
}

func (v *VM) install() error {
	if err := v.rt.Eval(preludeJS); err != nil {
		return fmt.Errorf("installing prelude: %w", err)
	}
	if v.bin != nil {
		if err := v.rt.Eval(fmt.Sprintf("globalThis.__vmhost.mode = %q;", v.bin.BinaryMode())); err != nil {
			return fmt.Errorf("setting binary mode: %w", err)
		}
	}
	if err := v.rt.RegisterFunc("__vmhost_console", v.console); err != nil {
		return fmt.Errorf("registering console: %w", err)
	}
	if err := v.rt.Eval(consoleJS); err != nil {
		return fmt.Errorf("installing console: %w", err)
	}
	return nil
}

// console receives managed console output. It runs inside Eval, so mu is
// already held by the calling thread.
func (v *VM) console(level, msg string) {
	fields := []zap.Field{zap.String("source", "console")}
	if v.current != 0 {
		fields = append(fields, zap.Int("thread", v.current))
	}
	switch level {
	case "error":
		v.log.Error(msg, fields...)
	case "warn":
		v.log.Warn(msg, fields...)
	case "debug", "trace":
		v.log.Debug(msg, fields...)
	default:
		v.log.Info(msg, fields...)
	}
}

func (v *VM) publish(event string, thread int, detail string) {
	if v.debug == nil {
		return
	}
	v.debug.Publish(debugwire.Event{Event: event, Thread: thread, Detail: detail})
}

// AttachCurrentThread implements core.VM.
func (v *VM) AttachCurrentThread(tid int) (core.Env, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.destroyed {
		return nil, core.Errorf("attach", core.StatusErr, "vm destroyed")
	}
	if e, ok := v.envs[tid]; ok {
		return e, nil
	}
	e := &env{vm: v, tid: tid}
	v.envs[tid] = e
	v.log.Debug("thread attached", zap.Int("thread", tid))
	v.publish("thread.attach", tid, "")
	return e, nil
}

// DetachCurrentThread implements core.VM.
func (v *VM) DetachCurrentThread(tid int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.envs[tid]; !ok {
		return core.Errorf("detach", core.StatusDetached, "thread %d is not attached", tid)
	}
	delete(v.envs, tid)
	v.log.Debug("thread detached", zap.Int("thread", tid))
	v.publish("thread.detach", tid, "")
	return nil
}

// GetEnv implements core.VM.
func (v *VM) GetEnv(tid int) (core.Env, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if e, ok := v.envs[tid]; ok {
		return e, nil
	}
	return nil, core.Errorf("get env", core.StatusDetached, "thread %d is not attached", tid)
}

// AttachedThreads implements core.VM.
func (v *VM) AttachedThreads() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]int, 0, len(v.envs))
	for tid := range v.envs {
		out = append(out, tid)
	}
	sort.Ints(out)
	return out
}

// DebugAddr implements core.VM.
func (v *VM) DebugAddr() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.debugAddr()
}

func (v *VM) debugAddr() string {
	if v.debug == nil {
		return ""
	}
	return v.debug.Addr()
}

// Destroy implements core.VM. The engine is always released; threads that
// were still attached are reported as an error.
func (v *VM) Destroy() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.destroyed {
		return nil
	}
	v.destroyed = true
	leftover := len(v.envs)
	clear(v.envs)
	v.publish("vm.destroy", 0, "")
	v.teardown()
	v.log.Info("vm destroyed", zap.Int("leftover_threads", leftover))
	if leftover > 0 {
		return core.Errorf("destroy", core.StatusErr, "%d thread(s) still attached", leftover)
	}
	return nil
}

func (v *VM) teardown() {
	if v.rt != nil {
		v.rt.Close()
		v.rt = nil
	}
	v.closeDebug()
}

func (v *VM) closeDebug() {
	if v.debug != nil {
		if err := v.debug.Close(); err != nil {
			v.log.Warn("closing debug transport", zap.Error(err))
		}
		v.debug = nil
	}
}
