package vmhost

import (
	"fmt"
	"strings"

	"github.com/cryguy/vmhost/internal/core"
)

// TransportSocket is the only debug transport kind.
const TransportSocket = core.TransportSocket

// DebugOptions enables the debug transport.
type DebugOptions struct {
	Transport      string // defaults to TransportSocket
	Address        string // port, or host:port
	SuspendOnStart bool
}

// Descriptor renders the transport descriptor, for example
// "transport=dt_socket,server=y,suspend=n,address=8000".
func (d *DebugOptions) Descriptor() string {
	t := core.Transport{Kind: d.Transport, Server: true, Suspend: d.SuspendOnStart, Address: d.Address}
	if t.Kind == "" {
		t.Kind = TransportSocket
	}
	return t.String()
}

// Config describes how to start the runtime. It is immutable once built.
type Config struct {
	classPath []string
	heap      string
	debug     *DebugOptions
}

// NewConfig validates and assembles a Config. Entries are only checked for
// being non-empty here; the backend reports missing files at start.
func NewConfig(classPath []string, heapLimit string, debug *DebugOptions) (*Config, error) {
	const op = "build config"
	if len(classPath) == 0 {
		return nil, newError(KindIllegalArgument, op, "class path is empty", nil)
	}
	for i, e := range classPath {
		if e == "" {
			return nil, newError(KindIllegalArgument, op, fmt.Sprintf("class path entry %d is empty", i), nil)
		}
		if strings.Contains(e, core.ClassPathSep) {
			return nil, newError(KindIllegalArgument, op,
				fmt.Sprintf("class path entry %q contains the separator %q", e, core.ClassPathSep), nil)
		}
	}
	if _, err := core.ParseHeap(heapLimit); err != nil {
		return nil, newError(KindIllegalArgument, op, "invalid heap limit", err)
	}
	cfg := &Config{
		classPath: append([]string(nil), classPath...),
		heap:      heapLimit,
	}
	if debug != nil {
		d := *debug
		if d.Transport == "" {
			d.Transport = TransportSocket
		}
		if d.Transport != TransportSocket {
			return nil, newError(KindIllegalArgument, op, fmt.Sprintf("unsupported debug transport %q", d.Transport), nil)
		}
		if d.Address == "" {
			return nil, newError(KindIllegalArgument, op, "debug address is empty", nil)
		}
		cfg.debug = &d
	}
	return cfg, nil
}

// ClassPath returns a copy of the class path entries.
func (c *Config) ClassPath() []string {
	return append([]string(nil), c.classPath...)
}

// HeapLimit returns the heap size string, for example "512m".
func (c *Config) HeapLimit() string { return c.heap }

// Debug returns a copy of the debug options, or nil.
func (c *Config) Debug() *DebugOptions {
	if c.debug == nil {
		return nil
	}
	d := *c.debug
	return &d
}

// Options renders the startup option vector in the order the runtime
// consumes it.
func (c *Config) Options() []string {
	opts := []string{
		core.OptClassPath + strings.Join(c.classPath, core.ClassPathSep),
		core.OptMaxHeap + c.heap,
	}
	if c.debug != nil {
		opts = append(opts,
			core.OptDebug,
			core.OptNoAgent,
			core.OptNoCompiler,
			core.OptDebugWire+c.debug.Descriptor(),
		)
	}
	return opts
}
