package core

// Env is a thread's view of a VM. An Env must only be used by the thread it
// was attached for.
//
// Calls that can run managed code leave a pending exception when the code
// throws; they then return a zero Ref or nil value. Callers check
// ExceptionCheck after every call that can throw.
type Env interface {
	// Thread is the native thread id this Env belongs to.
	Thread() int

	// FindClass resolves a class by internal name ("pkg/App" or "pkg.App").
	// A missing class leaves a NoClassDefFoundError pending.
	FindClass(name string) Ref

	// GetMethodID resolves a constructor ("<init>") or instance method.
	// A missing method leaves a NoSuchMethodError pending.
	GetMethodID(cls Ref, name, sig string) *MethodID

	// GetStaticMethodID resolves a static method.
	GetStaticMethodID(cls Ref, name, sig string) *MethodID

	// NewObject invokes a constructor and returns a reference to the new
	// instance.
	NewObject(cls Ref, ctor *MethodID, args []any) Ref

	// CallMethod invokes an instance method on obj.
	CallMethod(obj Ref, m *MethodID, args []any) any

	// CallStaticMethod invokes a static method of cls.
	CallStaticMethod(cls Ref, m *MethodID, args []any) any

	// DeleteRef releases a reference returned by this VM.
	DeleteRef(r Ref)

	ExceptionCheck() bool
	ExceptionOccurred() *Throwable

	// ExceptionDescribe reports the pending exception to the VM's
	// diagnostics sink and returns the rendered description. The
	// exception stays pending.
	ExceptionDescribe() string

	ExceptionClear()
}
