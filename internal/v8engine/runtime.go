//go:build v8

package v8engine

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/cryguy/vmhost/internal/core"
	v8 "github.com/tommie/v8go"
)

// engine implements core.JSRuntime on a single V8 isolate and context.
type engine struct {
	iso *v8.Isolate
	ctx *v8.Context
}

var (
	_ core.JSRuntime        = (*engine)(nil)
	_ core.BinaryTransferer = (*engine)(nil)
)

// V8 flags are process-wide and must be set before the first isolate.
var jitlessOnce sync.Once

// New creates a V8 isolate and context. The heap limit maps onto the
// isolate's resource constraints; DisableJIT switches V8 to --jitless.
func New(opts core.EngineOptions) (core.JSRuntime, error) {
	if opts.DisableJIT {
		jitlessOnce.Do(func() { v8.SetFlags("--jitless") })
	}
	var iso *v8.Isolate
	if opts.HeapLimitBytes > 0 {
		limit := uint64(opts.HeapLimitBytes)
		iso = v8.NewIsolate(v8.WithResourceConstraints(limit/2, limit))
	} else {
		iso = v8.NewIsolate()
	}
	return &engine{iso: iso, ctx: v8.NewContext(iso)}, nil
}

func (e *engine) Close() {
	e.ctx.Close()
	e.iso.Dispose()
}

func (e *engine) run(js, origin string) (*v8.Value, error) {
	return e.ctx.RunScript(js, origin)
}

func (e *engine) Eval(js string) error {
	_, err := e.run(js, "vmhost.js")
	return err
}

// EvalString returns "" for an undefined or null completion value.
func (e *engine) EvalString(js string) (string, error) {
	val, err := e.run(js, "vmhost.js")
	if err != nil {
		return "", err
	}
	if val == nil || val.IsUndefined() || val.IsNull() {
		return "", nil
	}
	return val.String(), nil
}

func (e *engine) EvalBool(js string) (bool, error) {
	val, err := e.run(js, "vmhost.js")
	if err != nil {
		return false, err
	}
	if val == nil || !val.IsBoolean() {
		return false, fmt.Errorf("expected bool, got %v", val)
	}
	return val.Boolean(), nil
}

// RegisterFunc exposes fn as a global function. Arguments are converted by
// the Go parameter kind (string, int, int64, float64, bool). A trailing
// error result becomes a thrown exception.
func (e *engine) RegisterFunc(name string, fn any) error {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return fmt.Errorf("register %s: expected function, got %T", name, fn)
	}
	tmpl := v8.NewFunctionTemplate(e.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) < ft.NumIn() {
			return e.throw(fmt.Sprintf("%s: want %d argument(s), got %d", name, ft.NumIn(), len(args)))
		}
		in := make([]reflect.Value, ft.NumIn())
		for i := range in {
			in[i] = fromJS(args[i], ft.In(i))
		}
		out := fv.Call(in)
		if n := len(out); n > 0 && ft.Out(n-1) == errorType {
			if err, _ := out[n-1].Interface().(error); err != nil {
				return e.throw(fmt.Sprintf("%s: %v", name, err))
			}
			out = out[:n-1]
		}
		if len(out) == 0 {
			return nil
		}
		return toJS(e.iso, out[0])
	})
	return e.ctx.Global().Set(name, tmpl.GetFunction(e.ctx))
}

func (e *engine) throw(msg string) *v8.Value {
	v, _ := v8.NewValue(e.iso, msg)
	e.iso.ThrowException(v)
	return nil
}

func (e *engine) RunMicrotasks() { e.ctx.PerformMicrotaskCheckpoint() }

// BinaryMode is "sab": buffers cross through SharedArrayBuffer backing
// stores, the only kind v8go exposes to Go.
func (e *engine) BinaryMode() string { return "sab" }

// ReadBinaryFromJS copies the SharedArrayBuffer at globalThis[name] and
// deletes the global.
func (e *engine) ReadBinaryFromJS(name string) ([]byte, error) {
	defer e.Eval(fmt.Sprintf("delete globalThis[%q];", name))
	val, err := e.ctx.Global().Get(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	data, release, err := val.SharedArrayBufferGetContents()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	defer release()
	return append([]byte{}, data...), nil
}

// WriteBinaryToJS stages data in a SharedArrayBuffer, then copies it into
// a plain ArrayBuffer at globalThis[name].
func (e *engine) WriteBinaryToJS(name string, data []byte) error {
	const staging = "__vmhost_sab"
	if err := e.Eval(fmt.Sprintf("globalThis.%s = new SharedArrayBuffer(%d);", staging, len(data))); err != nil {
		return fmt.Errorf("allocating buffer: %w", err)
	}
	if len(data) > 0 {
		val, err := e.ctx.Global().Get(staging)
		if err == nil {
			var dst []byte
			var release func()
			if dst, release, err = val.SharedArrayBufferGetContents(); err == nil {
				copy(dst, data)
				release()
			}
		}
		if err != nil {
			_ = e.Eval("delete globalThis." + staging + ";")
			return fmt.Errorf("filling buffer: %w", err)
		}
	}
	return e.Eval(fmt.Sprintf(`(function(){
	var s = globalThis.%[1]s; delete globalThis.%[1]s;
	var b = new ArrayBuffer(s.byteLength);
	new Uint8Array(b).set(new Uint8Array(s));
	globalThis[%[2]q] = b;
})()`, staging, name))
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func fromJS(val *v8.Value, t reflect.Type) reflect.Value {
	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(val.String())
	case reflect.Int:
		return reflect.ValueOf(int(val.Integer()))
	case reflect.Int64:
		return reflect.ValueOf(val.Integer())
	case reflect.Float64:
		return reflect.ValueOf(val.Number())
	case reflect.Bool:
		return reflect.ValueOf(val.Boolean())
	default:
		return reflect.Zero(t)
	}
}

func toJS(iso *v8.Isolate, v reflect.Value) *v8.Value {
	var out *v8.Value
	switch v.Kind() {
	case reflect.String:
		out, _ = v8.NewValue(iso, v.String())
	case reflect.Int, reflect.Int32, reflect.Int64:
		// int64 would surface as a BigInt.
		out, _ = v8.NewValue(iso, int32(v.Int()))
	case reflect.Float32, reflect.Float64:
		out, _ = v8.NewValue(iso, v.Float())
	case reflect.Bool:
		out, _ = v8.NewValue(iso, v.Bool())
	}
	return out
}
