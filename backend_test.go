package vmhost

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/cryguy/vmhost/internal/core"
)

// fakeBackend fails or succeeds on demand and records what it was given.
type fakeBackend struct {
	createErr error
	attachErr error
	options   []string
	vm        *fakeVM
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) CreateVM(args core.VMArgs) (core.VM, error) {
	b.options = args.Options
	if b.createErr != nil {
		return nil, b.createErr
	}
	b.vm = &fakeVM{attachErr: b.attachErr, attached: map[int]bool{}}
	return b.vm, nil
}

type fakeVM struct {
	attachErr error
	attached  map[int]bool
	destroyed bool
}

func (v *fakeVM) AttachCurrentThread(tid int) (core.Env, error) {
	if v.attachErr != nil {
		return nil, v.attachErr
	}
	v.attached[tid] = true
	return fakeEnv{tid: tid}, nil
}

func (v *fakeVM) DetachCurrentThread(tid int) error {
	delete(v.attached, tid)
	return nil
}

func (v *fakeVM) GetEnv(int) (core.Env, error) { return nil, nil }
func (v *fakeVM) AttachedThreads() []int     { return nil }
func (v *fakeVM) DebugAddr() string          { return "" }

// fakeEnv is an environment where every lookup fails quietly.
type fakeEnv struct{ tid int }

func (e fakeEnv) Thread() int                                             { return e.tid }
func (fakeEnv) FindClass(string) core.Ref                                 { return 0 }
func (fakeEnv) GetMethodID(core.Ref, string, string) *core.MethodID       { return nil }
func (fakeEnv) GetStaticMethodID(core.Ref, string, string) *core.MethodID { return nil }
func (fakeEnv) NewObject(core.Ref, *core.MethodID, []any) core.Ref        { return 0 }
func (fakeEnv) CallMethod(core.Ref, *core.MethodID, []any) any            { return nil }
func (fakeEnv) CallStaticMethod(core.Ref, *core.MethodID, []any) any      { return nil }
func (fakeEnv) DeleteRef(core.Ref)                                        {}
func (fakeEnv) ExceptionCheck() bool                                      { return false }
func (fakeEnv) ExceptionOccurred() *core.Throwable                        { return nil }
func (fakeEnv) ExceptionDescribe() string                                 { return "" }
func (fakeEnv) ExceptionClear()                                           {}

func (v *fakeVM) Destroy() error {
	v.destroyed = true
	return nil
}

func TestStart_BackendStatus(t *testing.T) {
	tests := []struct {
		name   string
		status core.Status
	}{
		{"version mismatch", core.StatusVersion},
		{"out of memory", core.StatusNoMem},
		{"invalid option", core.StatusInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBackend{createErr: core.Errorf("create vm", tt.status, "refused")}
			cfg, _ := NewConfig([]string{"app.js"}, "32m", &DebugOptions{Address: "8000", SuspendOnStart: true})
			_, _, err := Start(cfg, WithBackend(fb))
			if !errors.Is(err, ErrStartupFailure) {
				t.Fatalf("err = %v, want StartupFailure", err)
			}
			var e *Error
			if !errors.As(err, &e) || e.Status() != tt.status {
				t.Fatalf("status = %v, want %v", e.Status(), tt.status)
			}
			if !reflect.DeepEqual(fb.options, cfg.Options()) {
				t.Fatalf("backend options = %q", fb.options)
			}
		})
	}
}

func TestStart_AttachFailureReleasesVM(t *testing.T) {
	fb := &fakeBackend{attachErr: core.Errorf("attach", core.StatusErr, "no thread slots")}
	cfg, _ := NewConfig([]string{"app.js"}, "32m", nil)
	_, _, err := Start(cfg, WithBackend(fb))
	if !errors.Is(err, ErrStartupFailure) {
		t.Fatalf("err = %v, want StartupFailure", err)
	}
	if !fb.vm.destroyed {
		t.Fatal("vm was not destroyed after the failed attach")
	}

	// Nothing is left in the process slot.
	ok := &fakeBackend{}
	rt, _, err := Start(cfg, WithBackend(ok))
	if err != nil {
		t.Fatalf("Start after failure: %v", err)
	}
	if err := rt.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if !ok.vm.destroyed {
		t.Fatal("Shutdown did not destroy the vm")
	}
}

func TestAttach_NativeFailure(t *testing.T) {
	fb := &fakeBackend{}
	cfg, _ := NewConfig([]string{"app.js"}, "32m", nil)
	rt, _, err := Start(cfg, WithBackend(fb))
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Shutdown()

	fb.vm.attachErr = core.Errorf("attach", core.StatusNoMem, "thread table full")
	errc := make(chan error, 1)
	go func() {
		_, err := rt.Attach()
		errc <- err
	}()
	err = <-errc
	if !errors.Is(err, ErrAttachFailure) {
		t.Fatalf("Attach = %v, want AttachFailure", err)
	}
	var e *Error
	if errors.As(err, &e); e.Status() != core.StatusNoMem {
		t.Fatalf("status = %v", e.Status())
	}
}

func TestAttach_RacingShutdown(t *testing.T) {
	fb := &fakeBackend{}
	cfg, _ := NewConfig([]string{"app.js"}, "32m", nil)
	rt, _, err := Start(cfg, WithBackend(fb))
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Detach()

	// Hold mu so Attach passes its first state check and then waits while
	// Shutdown invalidates the runtime.
	rt.mu.Lock()
	attached := make(chan error, 1)
	go func() {
		env, err := rt.Attach()
		if err == nil && env != nil {
			rt.Detach()
		}
		attached <- err
	}()
	time.Sleep(20 * time.Millisecond)

	shut := make(chan error, 1)
	go func() { shut <- rt.Shutdown() }()
	for rt.State() != StateInvalid {
		time.Sleep(time.Millisecond)
	}
	rt.mu.Unlock()

	if err := <-attached; !errors.Is(err, ErrRuntimeNotAvailable) {
		t.Fatalf("Attach during shutdown = %v, want RuntimeNotAvailable", err)
	}
	if err := <-shut; !errors.Is(err, ErrShutdownFailure) {
		t.Fatalf("Shutdown = %v, want ShutdownFailure for the still attached test thread", err)
	}
}
