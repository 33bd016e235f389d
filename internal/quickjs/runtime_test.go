package quickjs

import (
	"bytes"
	"testing"

	"github.com/cryguy/vmhost/internal/core"
	"modernc.org/quickjs"
)

func newRuntime(t *testing.T) core.JSRuntime {
	t.Helper()
	rt, err := New(core.EngineOptions{HeapLimitBytes: 32 << 20})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(rt.Close)
	return rt
}

func TestEvalString(t *testing.T) {
	rt := newRuntime(t)
	got, err := rt.EvalString(`JSON.stringify({a: [1, 2]})`)
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"a":[1,2]}` {
		t.Fatalf("got %q", got)
	}
	if _, err := rt.EvalString(`throw new Error("nope")`); err == nil {
		t.Fatal("expected error from throw")
	}
}

func TestEvalBool(t *testing.T) {
	rt := newRuntime(t)
	ok, err := rt.EvalBool(`typeof Reflect.construct === 'function'`)
	if err != nil || !ok {
		t.Fatalf("EvalBool = %v, %v", ok, err)
	}
	if _, err := rt.EvalBool(`42`); err == nil {
		t.Fatal("expected error for non-bool result")
	}
}

func TestRegisterFunc(t *testing.T) {
	rt := newRuntime(t)
	var seen []string
	if err := rt.RegisterFunc("record", func(level, msg string) { seen = append(seen, level+":"+msg) }); err != nil {
		t.Fatal(err)
	}
	if err := rt.Eval(`record("info", "hello")`); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0] != "info:hello" {
		t.Fatalf("seen = %v", seen)
	}
}

func TestRunMicrotasks(t *testing.T) {
	rt := newRuntime(t)
	if err := rt.Eval(`globalThis.done = false; Promise.resolve().then(function() { globalThis.done = true; });`); err != nil {
		t.Fatal(err)
	}
	rt.RunMicrotasks()
	done, err := rt.EvalBool(`globalThis.done`)
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("microtask did not run")
	}
}

func TestBinaryTransfer(t *testing.T) {
	rt := newRuntime(t)
	bt, ok := rt.(core.BinaryTransferer)
	if !ok {
		t.Skip("VM internals unavailable; binary transfer disabled")
	}
	if bt.BinaryMode() != "ab" {
		t.Fatalf("BinaryMode = %q", bt.BinaryMode())
	}

	in := []byte{0, 1, 2, 250, 255}
	if err := bt.WriteBinaryToJS("__buf", in); err != nil {
		t.Fatal(err)
	}
	sum, err := rt.EvalString(`String(new Uint8Array(globalThis.__buf).reduce(function(a, b) { return a + b; }, 0))`)
	if err != nil {
		t.Fatal(err)
	}
	if sum != "508" {
		t.Fatalf("sum = %s", sum)
	}

	if err := rt.Eval(`globalThis.__out = new Uint8Array([9, 8, 7]).buffer;`); err != nil {
		t.Fatal(err)
	}
	out, err := bt.ReadBinaryFromJS("__out")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte{9, 8, 7}) {
		t.Fatalf("out = %v", out)
	}
	gone, _ := rt.EvalBool(`globalThis.__out === undefined`)
	if !gone {
		t.Fatal("ReadBinaryFromJS left the global behind")
	}
}

func TestNewJobQueue_ResolvesRuntime(t *testing.T) {
	vm, err := quickjs.NewVM()
	if err != nil {
		t.Fatal(err)
	}
	defer vm.Close()
	q, ok := newJobQueue(vm)
	if !ok || q.tls == nil || q.cRuntime == 0 {
		t.Fatalf("newJobQueue = %+v, %v", q, ok)
	}
}

func TestNew_RefusesWithoutJobQueue(t *testing.T) {
	orig := resolveJobs
	t.Cleanup(func() { resolveJobs = orig })
	resolveJobs = func(*quickjs.VM) (jobQueue, bool) { return jobQueue{}, false }

	if rt, err := New(core.EngineOptions{}); err == nil {
		rt.Close()
		t.Fatal("New succeeded without a job queue")
	}
}
