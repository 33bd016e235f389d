//go:build v8

package v8engine

import (
	"bytes"
	"testing"

	"github.com/cryguy/vmhost/internal/core"
)

func TestRuntime_EvalAndBinary(t *testing.T) {
	rt, err := New(core.EngineOptions{HeapLimitBytes: 64 << 20})
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	got, err := rt.EvalString(`JSON.stringify([1, 'a'])`)
	if err != nil || got != `[1,"a"]` {
		t.Fatalf("EvalString = %q, %v", got, err)
	}

	bt := rt.(core.BinaryTransferer)
	if err := bt.WriteBinaryToJS("__in", []byte{4, 5}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := rt.EvalBool(`globalThis.__in instanceof ArrayBuffer && globalThis.__in.byteLength === 2`); !ok {
		t.Fatal("written buffer not visible")
	}
	if err := rt.Eval(`var s = new SharedArrayBuffer(3); new Uint8Array(s).set([7, 8, 9]); globalThis.__out = s;`); err != nil {
		t.Fatal(err)
	}
	out, err := bt.ReadBinaryFromJS("__out")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte{7, 8, 9}) {
		t.Fatalf("out = %v", out)
	}
}

func TestRuntime_RegisterFunc(t *testing.T) {
	rt, err := New(core.EngineOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	var got string
	if err := rt.RegisterFunc("sink", func(level, msg string) { got = level + ":" + msg }); err != nil {
		t.Fatal(err)
	}
	if err := rt.Eval(`sink('warn', 'x')`); err != nil {
		t.Fatal(err)
	}
	if got != "warn:x" {
		t.Fatalf("got %q", got)
	}
}
