package core

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
)

// Startup option spellings. The vector is consumed positionally, in the
// order the host built it.
const (
	OptClassPath    = "-Djava.class.path="
	OptMaxHeap      = "-Xmx"
	OptDebug        = "-Xdebug"
	OptNoAgent      = "-Xnoagent"
	OptNoCompiler   = "-Djava.compiler=NONE"
	OptDebugWire    = "-Xrunjdwp:"
	ClassPathSep    = ":"
	TransportSocket = "dt_socket"
)

// Transport describes a debug transport descriptor
// ("transport=dt_socket,server=y,suspend=n,address=8000").
type Transport struct {
	Kind    string
	Server  bool
	Suspend bool
	Address string
}

// String renders the descriptor form.
func (t Transport) String() string {
	return fmt.Sprintf("transport=%s,server=%s,suspend=%s,address=%s",
		t.Kind, yn(t.Server), yn(t.Suspend), t.Address)
}

func yn(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

// VMOptions is the decoded startup option vector.
type VMOptions struct {
	ClassPath  []string
	HeapBytes  int64
	Debug      bool
	NoAgent    bool
	DisableJIT bool
	Transport  *Transport
}

// ParseOptions decodes a startup option vector. Unknown options are
// rejected with StatusInvalid.
func ParseOptions(opts []string) (*VMOptions, error) {
	out := &VMOptions{}
	for i, opt := range opts {
		switch {
		case strings.HasPrefix(opt, OptClassPath):
			cp := strings.TrimPrefix(opt, OptClassPath)
			if cp == "" {
				return nil, Errorf("parse options", StatusInvalid, "option %d: empty class path", i)
			}
			out.ClassPath = strings.Split(cp, ClassPathSep)
		case strings.HasPrefix(opt, OptMaxHeap):
			n, err := ParseHeap(strings.TrimPrefix(opt, OptMaxHeap))
			if err != nil {
				return nil, &StatusError{Op: "parse options", Status: StatusInvalid, Err: err}
			}
			out.HeapBytes = n
		case opt == OptDebug:
			out.Debug = true
		case opt == OptNoAgent:
			out.NoAgent = true
		case opt == OptNoCompiler:
			out.DisableJIT = true
		case strings.HasPrefix(opt, OptDebugWire):
			t, err := ParseTransport(strings.TrimPrefix(opt, OptDebugWire))
			if err != nil {
				return nil, &StatusError{Op: "parse options", Status: StatusInvalid, Err: err}
			}
			out.Transport = t
		default:
			return nil, Errorf("parse options", StatusInvalid, "option %d: unrecognized option %q", i, opt)
		}
	}
	if out.Transport != nil && !out.Debug {
		return nil, Errorf("parse options", StatusInvalid, "%s requires %s", OptDebugWire, OptDebug)
	}
	return out, nil
}

// ParseHeap parses a heap size with a mandatory unit suffix ("512m", "2g").
func ParseHeap(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("heap size is empty")
	}
	last := s[len(s)-1]
	if last >= '0' && last <= '9' {
		return 0, fmt.Errorf("heap size %q has no unit suffix", s)
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("heap size %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("heap size %q must be positive", s)
	}
	return n, nil
}

// ParseTransport parses a transport descriptor.
func ParseTransport(s string) (*Transport, error) {
	t := &Transport{}
	for _, kv := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("transport descriptor %q: malformed field %q", s, kv)
		}
		switch k {
		case "transport":
			t.Kind = v
		case "server":
			t.Server = v == "y"
		case "suspend":
			t.Suspend = v == "y"
		case "address":
			t.Address = v
		default:
			return nil, fmt.Errorf("transport descriptor %q: unknown field %q", s, k)
		}
	}
	if t.Kind != TransportSocket {
		return nil, fmt.Errorf("transport descriptor %q: unsupported transport %q", s, t.Kind)
	}
	if t.Address == "" {
		return nil, fmt.Errorf("transport descriptor %q: missing address", s)
	}
	return t, nil
}
