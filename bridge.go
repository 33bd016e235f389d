package vmhost

import (
	"fmt"
	"sync/atomic"

	"github.com/cryguy/vmhost/internal/core"
	"go.uber.org/zap"
)

// ResolutionPolicy decides what a failed type or method lookup does to the
// runtime.
type ResolutionPolicy int

const (
	// PropagateOnly returns the lookup error and leaves the runtime running.
	PropagateOnly ResolutionPolicy = iota
	// AbortRuntime shuts the runtime down, best effort, before returning
	// the lookup error.
	AbortRuntime
)

func (p ResolutionPolicy) String() string {
	if p == AbortRuntime {
		return "abort-runtime"
	}
	return "propagate-only"
}

// ExceptionPolicy decides what happens to a managed exception after it has
// been described.
type ExceptionPolicy int

const (
	// ClearPending clears the exception once it is captured in the result.
	ClearPending ExceptionPolicy = iota
	// DescribeOnly leaves the exception pending. Every later call on the
	// thread fails with PendingException until Env.ClearException.
	DescribeOnly
)

func (p ExceptionPolicy) String() string {
	if p == DescribeOnly {
		return "describe-only"
	}
	return "clear-pending"
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithResolutionPolicy sets the lookup failure policy. The default is
// PropagateOnly.
func WithResolutionPolicy(p ResolutionPolicy) BridgeOption {
	return func(b *Bridge) { b.resolution = p }
}

// WithExceptionPolicy sets the managed exception policy. The default is
// ClearPending.
func WithExceptionPolicy(p ExceptionPolicy) BridgeOption {
	return func(b *Bridge) { b.exceptions = p }
}

// Bridge resolves and invokes managed code through attached environments.
type Bridge struct {
	rt         *Runtime
	resolution ResolutionPolicy
	exceptions ExceptionPolicy
}

// NewBridge returns a bridge over rt.
func NewBridge(rt *Runtime, opts ...BridgeOption) *Bridge {
	b := &Bridge{rt: rt}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// TypeRef is a resolved managed type.
type TypeRef struct {
	ref  core.Ref
	name string
	gen  uint64
}

// Name is the name the type was resolved by.
func (t *TypeRef) Name() string { return t.name }

// Generation is the runtime generation the type belongs to.
func (t *TypeRef) Generation() uint64 { return t.gen }

// ResolvedMethod is a resolved constructor, instance method or static
// method. It can be invoked any number of times within its generation.
type ResolvedMethod struct {
	typ *TypeRef
	id  *core.MethodID
}

// Type is the type the method was resolved on.
func (m *ResolvedMethod) Type() *TypeRef { return m.typ }

// Name is the method name, core.InitName for constructors.
func (m *ResolvedMethod) Name() string { return m.id.Name }

// Signature is the method descriptor.
func (m *ResolvedMethod) Signature() string { return m.id.Sig.String() }

// Kind is the call shape.
func (m *ResolvedMethod) Kind() core.MethodKind { return m.id.Kind }

func (m *ResolvedMethod) String() string {
	return fmt.Sprintf("%s %s.%s%s", m.id.Kind, m.typ.name, m.id.Name, m.id.Sig)
}

// InstanceRef is a reference to a managed object.
type InstanceRef struct {
	ref      core.Ref
	typeName string
	gen      uint64
	released atomic.Bool
}

// TypeName is the declared type of the reference.
func (r *InstanceRef) TypeName() string { return r.typeName }

// Released reports whether the reference was released.
func (r *InstanceRef) Released() bool { return r.released.Load() }

// Failure describes a managed exception raised by an invocation.
type Failure struct {
	Diagnostic string
	Exception  *core.Throwable
	Described  bool
	Cleared    bool
}

// InvocationResult is the outcome of an invocation: a Value, or a Failure
// when the managed code threw.
type InvocationResult struct {
	Value   any
	Failure *Failure
}

// OK reports whether the invocation returned normally.
func (r *InvocationResult) OK() bool { return r.Failure == nil }

// ResolveType looks up a managed type by name ("pkg/App" or "pkg.App").
func (b *Bridge) ResolveType(env *Env, name string) (*TypeRef, error) {
	const op = "resolve type"
	if err := b.usable(env, op); err != nil {
		return nil, err
	}
	ref := env.ce.FindClass(name)
	if th := env.ce.ExceptionOccurred(); th != nil || ref == 0 {
		env.ce.ExceptionClear()
		err := &Error{Kind: KindTypeNotFound, Op: op, Detail: name, Exception: th}
		return nil, b.lookupFailed(err)
	}
	return &TypeRef{ref: ref, name: name, gen: b.rt.gen}, nil
}

// ResolveMethod looks up a method of t. A name of core.InitName with
// static false resolves a constructor, whose descriptor must return V.
// static selects between instance and static methods otherwise.
func (b *Bridge) ResolveMethod(env *Env, t *TypeRef, name, signature string, static bool) (*ResolvedMethod, error) {
	const op = "resolve method"
	if err := b.usable(env, op); err != nil {
		return nil, err
	}
	if err := b.sameGeneration(op, t); err != nil {
		return nil, err
	}
	var id *core.MethodID
	if static {
		id = env.ce.GetStaticMethodID(t.ref, name, signature)
	} else {
		id = env.ce.GetMethodID(t.ref, name, signature)
	}
	if th := env.ce.ExceptionOccurred(); th != nil || id == nil {
		env.ce.ExceptionClear()
		err := &Error{Kind: KindMethodNotFound, Op: op,
			Detail: fmt.Sprintf("%s.%s%s (static=%t)", t.name, name, signature, static), Exception: th}
		return nil, b.lookupFailed(err)
	}
	return &ResolvedMethod{typ: t, id: id}, nil
}

// NewInstance invokes constructor ctor of t. A managed exception is
// reported as ConstructionFailure carrying the exception.
func (b *Bridge) NewInstance(env *Env, t *TypeRef, ctor *ResolvedMethod, args ...any) (*InstanceRef, error) {
	const op = "new instance"
	cargs, err := b.prepare(env, op, t, ctor, core.Constructor, args)
	if err != nil {
		return nil, err
	}
	ref := env.ce.NewObject(t.ref, ctor.id, cargs)
	if f := b.settle(env); f != nil {
		return nil, &Error{Kind: KindConstructionFailure, Op: op, Detail: ctor.String(), Exception: f.Exception}
	}
	if ref == 0 {
		return nil, &Error{Kind: KindConstructionFailure, Op: op, Detail: ctor.String() + " produced null"}
	}
	return &InstanceRef{ref: ref, typeName: t.name, gen: b.rt.gen}, nil
}

// InvokeStatic invokes static method m of t. Managed exceptions are
// returned in the result's Failure; the error is reserved for calls that
// could not be made.
func (b *Bridge) InvokeStatic(env *Env, t *TypeRef, m *ResolvedMethod, args ...any) (*InvocationResult, error) {
	const op = "invoke static"
	cargs, err := b.prepare(env, op, t, m, core.StaticMethod, args)
	if err != nil {
		return nil, err
	}
	v := env.ce.CallStaticMethod(t.ref, m.id, cargs)
	return b.result(env, op, m, v)
}

// InvokeMethod invokes instance method m on obj.
func (b *Bridge) InvokeMethod(env *Env, obj *InstanceRef, m *ResolvedMethod, args ...any) (*InvocationResult, error) {
	const op = "invoke method"
	if obj == nil {
		return nil, newError(KindIllegalArgument, op, "nil instance", nil)
	}
	if m == nil {
		return nil, newError(KindIllegalArgument, op, "nil method", nil)
	}
	if obj.gen != b.rt.gen {
		return nil, newError(KindRuntimeNotAvailable, op,
			fmt.Sprintf("instance from generation %d used with generation %d", obj.gen, b.rt.gen), nil)
	}
	if obj.released.Load() {
		return nil, newError(KindIllegalArgument, op, "instance was released", nil)
	}
	cargs, err := b.prepare(env, op, m.typ, m, core.InstanceMethod, args)
	if err != nil {
		return nil, err
	}
	v := env.ce.CallMethod(obj.ref, m.id, cargs)
	return b.result(env, op, m, v)
}

func (b *Bridge) usable(env *Env, op string) error {
	if env == nil {
		return newError(KindIllegalArgument, op, "nil env", nil)
	}
	if env.rt != b.rt {
		return newError(KindRuntimeNotAvailable, op, "env belongs to another runtime", nil)
	}
	return env.ready(op)
}

func (b *Bridge) sameGeneration(op string, t *TypeRef) error {
	if t == nil {
		return newError(KindIllegalArgument, op, "nil type", nil)
	}
	if t.gen != b.rt.gen {
		return newError(KindRuntimeNotAvailable, op,
			fmt.Sprintf("type %s from generation %d used with generation %d", t.name, t.gen, b.rt.gen), nil)
	}
	return nil
}

// prepare runs the checks shared by the three call shapes and marshals the
// arguments.
func (b *Bridge) prepare(env *Env, op string, t *TypeRef, m *ResolvedMethod, want core.MethodKind, args []any) ([]any, error) {
	if err := b.usable(env, op); err != nil {
		return nil, err
	}
	if err := b.sameGeneration(op, t); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, newError(KindIllegalArgument, op, "nil method", nil)
	}
	if m.id.Kind != want {
		return nil, newError(KindIllegalArgument, op, fmt.Sprintf("%s is not a %s", m, want), nil)
	}
	if m.typ.ref != t.ref || m.typ.gen != t.gen {
		return nil, newError(KindIllegalArgument, op, fmt.Sprintf("%s does not belong to %s", m, t.name), nil)
	}
	cargs, err := b.marshalArgs(m.id.Sig, args)
	if err != nil {
		return nil, newError(KindIllegalArgument, op, m.String(), err)
	}
	return cargs, nil
}

func (b *Bridge) result(env *Env, op string, m *ResolvedMethod, v any) (*InvocationResult, error) {
	if f := b.settle(env); f != nil {
		return &InvocationResult{Failure: f}, nil
	}
	out, err := b.convertResult(m.id.Sig.Return, v)
	if err != nil {
		return nil, newError(KindIllegalArgument, op, m.String()+" returned an unexpected value", err)
	}
	return &InvocationResult{Value: out}, nil
}

// settle examines the pending exception after a call, describes it and
// applies the exception policy.
func (b *Bridge) settle(env *Env) *Failure {
	th := env.ce.ExceptionOccurred()
	if th == nil {
		return nil
	}
	f := &Failure{
		Diagnostic: env.ce.ExceptionDescribe(),
		Exception:  th,
		Described:  true,
	}
	if b.exceptions == ClearPending {
		env.ce.ExceptionClear()
		f.Cleared = true
	}
	return f
}

func (b *Bridge) lookupFailed(err *Error) error {
	if b.resolution != AbortRuntime {
		return err
	}
	b.rt.log.Warn("lookup failed, shutting the runtime down", zap.Error(err))
	if serr := b.rt.Shutdown(); serr != nil {
		b.rt.log.Warn("shutdown after failed lookup", zap.Error(serr))
	}
	return err
}
