package jsvm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cryguy/vmhost/internal/core"
	"go.uber.org/zap"
)

// Exception classes raised by the VM itself rather than by managed code.
const (
	classInternalError     = "InternalError"
	classIllegalArgument   = "IllegalArgumentException"
	classIllegalState      = "IllegalStateException"
	classNoSuchMethodError = "NoSuchMethodError"
)

// objectSig is the return type used for constructor calls.
var objectSig = core.TypeSig{Kind: core.KindObject, Class: "java/lang/Object"}

// refIDSig carries an already allocated reference id back as a plain number.
var refIDSig = core.TypeSig{Kind: core.KindLong}

// env is one attached thread's view of the VM.
type env struct {
	vm      *VM
	tid     int
	pending *core.Throwable
}

var _ core.Env = (*env)(nil)

func (e *env) Thread() int { return e.tid }

// enter locks the VM for a call. It returns false, with the lock released,
// when the call must not run: the VM is gone or an exception is pending.
func (e *env) enter() bool {
	e.vm.mu.Lock()
	if e.vm.destroyed {
		e.vm.mu.Unlock()
		e.throw(classIllegalState, "vm destroyed")
		return false
	}
	if e.pending != nil {
		e.vm.mu.Unlock()
		return false
	}
	e.vm.current = e.tid
	return true
}

func (e *env) leave() {
	e.vm.current = 0
	e.vm.mu.Unlock()
}

func (e *env) throw(class, msg string) {
	e.pending = &core.Throwable{Class: class, Message: msg}
}

// run evaluates a call script and decodes its envelope. The statements in
// body must leave the managed result in r.
func (e *env) run(body string, ret core.TypeSig, staged []string) (any, bool) {
	v := e.vm
	script := fmt.Sprintf(`(function(){var H=globalThis.__vmhost;try{%s;return H.ret(r,%s);}catch(x){return H.thrown(x);}})()`,
		body, jsString(ret.String()))
	out, err := v.rt.EvalString(script)
	v.rt.RunMicrotasks()
	if len(staged) > 0 {
		var sb strings.Builder
		for _, name := range staged {
			fmt.Fprintf(&sb, "delete globalThis[%q];", name)
		}
		if cerr := v.rt.Eval(sb.String()); cerr != nil {
			v.log.Warn("releasing staged arguments", zap.Strings("globals", staged), zap.Error(cerr))
		}
	}
	if err != nil {
		e.throw(classInternalError, err.Error())
		return nil, false
	}

	var res envelope
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		e.throw(classInternalError, fmt.Sprintf("malformed call result %q: %v", out, err))
		return nil, false
	}
	switch res.T {
	case "v":
		return nil, true
	case "throw":
		e.pending = &core.Throwable{Class: res.Class, Message: res.Msg, Stack: res.Stack}
		v.log.Debug("managed exception",
			zap.Int("thread", e.tid),
			zap.String("class", res.Class),
			zap.String("message", res.Msg))
		return nil, false
	case "bin":
		if v.bin == nil {
			e.throw(classInternalError, "binary result without a binary transferer")
			return nil, false
		}
		b, err := v.bin.ReadBinaryFromJS("__vmhost_out")
		if err != nil {
			e.throw(classInternalError, err.Error())
			return nil, false
		}
		return b, true
	case "val":
		val, err := decodeValue(ret, res.V)
		if err != nil {
			e.throw(classInternalError, fmt.Sprintf("decoding %s result: %v", ret, err))
			return nil, false
		}
		return val, true
	}
	e.throw(classInternalError, fmt.Sprintf("unknown call result %q", res.T))
	return nil, false
}

// FindClass implements core.Env.
func (e *env) FindClass(name string) core.Ref {
	segs, err := splitClassName(name)
	if err != nil {
		e.throw("NoClassDefFoundError", err.Error())
		return 0
	}
	if !e.enter() {
		return 0
	}
	defer e.leave()

	segJSON, _ := json.Marshal(segs)
	r, ok := e.run(fmt.Sprintf("var r=H.findClass(%s,%s)", segJSON, jsString(name)), refIDSig, nil)
	id, _ := r.(int64)
	if !ok || id <= 0 {
		return 0
	}
	ref := core.Ref(id)
	e.vm.classes[ref] = name
	return ref
}

// GetMethodID implements core.Env.
func (e *env) GetMethodID(cls core.Ref, name, sig string) *core.MethodID {
	kind := core.InstanceMethod
	if name == core.InitName {
		kind = core.Constructor
	}
	return e.methodID(cls, name, sig, kind)
}

// GetStaticMethodID implements core.Env.
func (e *env) GetStaticMethodID(cls core.Ref, name, sig string) *core.MethodID {
	return e.methodID(cls, name, sig, core.StaticMethod)
}

func (e *env) methodID(cls core.Ref, name, sig string, kind core.MethodKind) *core.MethodID {
	d, err := core.ParseDescriptor(sig)
	if err != nil {
		e.throw(classNoSuchMethodError, err.Error())
		return nil
	}
	switch {
	case kind == core.Constructor && d.Return.Kind != core.KindVoid:
		e.throw(classNoSuchMethodError, fmt.Sprintf("constructor descriptor %s must return V", sig))
		return nil
	case kind != core.Constructor && (name == core.InitName || name == core.ClinitName):
		e.throw(classNoSuchMethodError, fmt.Sprintf("%s is not callable as a %s method", name, kind))
		return nil
	case kind != core.Constructor && !identRe.MatchString(name):
		e.throw(classNoSuchMethodError, fmt.Sprintf("malformed method name %q", name))
		return nil
	}
	if cls == 0 {
		e.throw(classIllegalArgument, "null class reference")
		return nil
	}
	if !e.enter() {
		return nil
	}
	defer e.leave()

	body := fmt.Sprintf("var r=H.findMethod(%d,%s,%s,%d)",
		uint64(cls), jsString(name), jsString(kind.String()), len(d.Params))
	if _, ok := e.run(body, core.TypeSig{Kind: core.KindBoolean}, nil); !ok {
		return nil
	}
	return &core.MethodID{Class: cls, Name: name, Sig: d, Kind: kind}
}

// call runs one of the three call shapes. target renders the call
// expression given the argument list.
func (e *env) call(m *core.MethodID, want core.MethodKind, args []any, ret core.TypeSig, target func(args string) string) (any, bool) {
	if m == nil {
		e.throw(classIllegalArgument, "null method id")
		return nil, false
	}
	if m.Kind != want {
		e.throw(classIllegalArgument, fmt.Sprintf("%s is a %s, not a %s", m.Name, m.Kind, want))
		return nil, false
	}
	if !e.enter() {
		return nil, false
	}
	defer e.leave()

	var staged []string
	list, err := e.vm.argList(m.Sig.Params, args, func(name string) { staged = append(staged, name) })
	if err != nil {
		e.throw(classIllegalArgument, err.Error())
		return nil, false
	}
	e.vm.publish("invoke", e.tid, fmt.Sprintf("%s %s.%s%s",
		want, displayName(e.vm.classes[m.Class]), m.Name, m.Sig))
	return e.run(target(list), ret, staged)
}

// NewObject implements core.Env.
func (e *env) NewObject(cls core.Ref, ctor *core.MethodID, args []any) core.Ref {
	r, ok := e.call(ctor, core.Constructor, args, objectSig, func(list string) string {
		return fmt.Sprintf("var r=Reflect.construct(H.get(%d),[%s])", uint64(cls), list)
	})
	if !ok || r == nil {
		return 0
	}
	return r.(core.Ref)
}

// CallMethod implements core.Env.
func (e *env) CallMethod(obj core.Ref, m *core.MethodID, args []any) any {
	if obj == 0 {
		e.throw("NullPointerException", "instance method called on null")
		return nil
	}
	var ret core.TypeSig
	if m != nil {
		ret = m.Sig.Return
	}
	r, _ := e.call(m, core.InstanceMethod, args, ret, func(list string) string {
		return fmt.Sprintf("var o=H.get(%d);var r=Reflect.apply(o[%s],o,[%s])", uint64(obj), jsString(m.Name), list)
	})
	return r
}

// CallStaticMethod implements core.Env.
func (e *env) CallStaticMethod(cls core.Ref, m *core.MethodID, args []any) any {
	var ret core.TypeSig
	if m != nil {
		ret = m.Sig.Return
	}
	r, _ := e.call(m, core.StaticMethod, args, ret, func(list string) string {
		return fmt.Sprintf("var C=H.get(%d);var r=Reflect.apply(C[%s],C,[%s])", uint64(cls), jsString(m.Name), list)
	})
	return r
}

// DeleteRef implements core.Env. It is allowed while an exception is
// pending.
func (e *env) DeleteRef(r core.Ref) {
	if r == 0 {
		return
	}
	v := e.vm
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.destroyed {
		return
	}
	delete(v.classes, r)
	if err := v.rt.Eval(fmt.Sprintf("globalThis.__vmhost.del(%d);", uint64(r))); err != nil {
		v.log.Warn("releasing reference", zap.Uint64("ref", uint64(r)), zap.Error(err))
	}
}

func (e *env) ExceptionCheck() bool { return e.pending != nil }

func (e *env) ExceptionOccurred() *core.Throwable {
	if e.pending == nil {
		return nil
	}
	t := *e.pending
	return &t
}

// ExceptionDescribe implements core.Env.
func (e *env) ExceptionDescribe() string {
	if e.pending == nil {
		return ""
	}
	desc := e.pending.String()
	e.vm.log.Warn("managed exception",
		zap.Int("thread", e.tid),
		zap.String("class", e.pending.Class),
		zap.String("message", e.pending.Message),
		zap.String("stack", e.pending.Stack))
	e.vm.mu.Lock()
	e.vm.publish("exception", e.tid, desc)
	e.vm.mu.Unlock()
	return desc
}

func (e *env) ExceptionClear() { e.pending = nil }
