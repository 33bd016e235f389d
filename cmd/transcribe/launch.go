package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/cryguy/vmhost"
	"github.com/cryguy/vmhost/internal/core"
	"go.uber.org/zap"
)

// mainSig is the descriptor of a static main taking string arguments.
const mainSig = "([Ljava/lang/String;)V"

// launch runs the entry point end to end on the calling goroutine.
func launch(ctx context.Context, cfg *Config, args []string, log *zap.Logger) (err error) {
	var debug *vmhost.DebugOptions
	if cfg.DebugAddress != "" {
		debug = &vmhost.DebugOptions{
			Transport:      vmhost.TransportSocket,
			Address:        cfg.DebugAddress,
			SuspendOnStart: cfg.DebugSuspend,
		}
	}
	rcfg, err := vmhost.NewConfig(cfg.ClassPath, cfg.Heap, debug)
	if err != nil {
		return err
	}

	rt, env, err := vmhost.Start(rcfg, vmhost.WithLogger(log), vmhost.WithContext(ctx))
	if err != nil {
		return err
	}
	defer func() {
		// Shutdown is a no-op when a lookup already aborted the runtime.
		if serr := rt.Shutdown(); serr != nil {
			err = errors.Join(err, serr)
		}
	}()
	if addr := rt.DebugAddr(); addr != "" {
		log.Info("debug transport ready", zap.String("addr", addr))
	}

	policy := vmhost.PropagateOnly
	if cfg.AbortOnLookup {
		policy = vmhost.AbortRuntime
	}
	b := vmhost.NewBridge(rt, vmhost.WithResolutionPolicy(policy))

	typ, err := b.ResolveType(env, cfg.Class)
	if err != nil {
		return err
	}

	if cfg.Construct {
		ctor, err := b.ResolveMethod(env, typ, core.InitName, "()V", false)
		if err != nil {
			return err
		}
		inst, err := b.NewInstance(env, typ, ctor)
		if err != nil {
			return err
		}
		if err := env.ReleaseRef(inst); err != nil {
			return err
		}
	}

	entry, err := b.ResolveMethod(env, typ, cfg.Method, mainSig, true)
	if err != nil {
		return err
	}
	log.Debug("invoking entry point", zap.Stringer("method", entry), zap.Strings("args", args))
	res, err := b.InvokeStatic(env, typ, entry, args)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("%s threw %s", entry, res.Failure.Diagnostic)
	}
	return nil
}
