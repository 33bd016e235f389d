package quickjs

import (
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// jobQueue drives JS_ExecutePendingJob for a VM. The modernc.org/quickjs
// wrapper never runs pending jobs itself, so Promise reactions queued by a
// managed call would otherwise never fire.
type jobQueue struct {
	cRuntime uintptr
	tls      *libc.TLS
}

// resolveJobs is swapped in tests.
var resolveJobs = newJobQueue

// newJobQueue resolves the VM's runtime pointers once. ok is false when the
// wrapper's unexported layout does not match; New refuses to build an
// engine then.
//
// VM struct layout (modernc.org/quickjs@v0.17.1):
//
//	type VM struct {
//	    cContext       uintptr
//	    ...
//	    runtime       *runtime
//	}
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
func newJobQueue(vm *quickjs.VM) (q jobQueue, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	vmVal := reflect.ValueOf(vm).Elem()
	rtField := vmVal.FieldByName("runtime")
	if !rtField.IsValid() || rtField.IsNil() {
		return q, false
	}
	rtPtr := unsafe.Pointer(rtField.Pointer())
	rtVal := reflect.NewAt(rtField.Type().Elem(), rtPtr).Elem()

	cRuntimeField := rtVal.FieldByName("cRuntime")
	if !cRuntimeField.IsValid() {
		return q, false
	}
	tlsField := rtVal.FieldByName("tls")
	if !tlsField.IsValid() || tlsField.IsNil() {
		return q, false
	}
	q.cRuntime = uintptr(cRuntimeField.Uint())
	q.tls = (*libc.TLS)(unsafe.Pointer(tlsField.Pointer()))
	return q, true
}

// drain runs queued jobs until the queue is empty or a job fails and
// returns the number executed.
func (q jobQueue) drain() int {
	if q.tls == nil {
		return 0
	}
	count := 0
	for lib.XJS_ExecutePendingJob(q.tls, q.cRuntime, 0) > 0 {
		count++
	}
	return count
}
