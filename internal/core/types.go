package core

import "strings"

// Ref is a handle to a managed value owned by the VM. The zero Ref is null.
type Ref uint64

// MethodKind distinguishes the three call shapes.
type MethodKind int

const (
	Constructor MethodKind = iota
	InstanceMethod
	StaticMethod
)

func (k MethodKind) String() string {
	switch k {
	case Constructor:
		return "constructor"
	case InstanceMethod:
		return "instance"
	case StaticMethod:
		return "static"
	default:
		return "unknown"
	}
}

// MethodID is a resolved method. It stays valid for the lifetime of the VM
// that produced it.
type MethodID struct {
	Class Ref
	Name  string
	Sig   *Descriptor
	Kind  MethodKind
}

// Names reserved for initializers.
const (
	InitName   = "<init>"
	ClinitName = "<clinit>"
)

// Throwable is a snapshot of a managed exception.
type Throwable struct {
	Class   string
	Message string
	Stack   string
}

// String renders "Class: message" followed by the stack, if any.
func (t *Throwable) String() string {
	var b strings.Builder
	b.WriteString(t.Class)
	if t.Message != "" {
		b.WriteString(": ")
		b.WriteString(t.Message)
	}
	if t.Stack != "" {
		b.WriteByte('\n')
		b.WriteString(strings.TrimRight(t.Stack, "\n"))
	}
	return b.String()
}

// Canonical value forms crossing the Env boundary.
//
// Arguments: bool, int64, float64, string (also for char), nil, Ref,
// []byte for byte arrays, []any for other arrays.
//
// Returns: nil for void, bool, int64 for integral kinds, float64 for
// floating kinds, string for char and strings (nil for a null string),
// []byte for byte arrays, []any for other arrays, Ref for objects.
