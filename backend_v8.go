//go:build v8

package vmhost

import (
	"github.com/cryguy/vmhost/internal/core"
	"github.com/cryguy/vmhost/internal/jsvm"
	"github.com/cryguy/vmhost/internal/v8engine"
)

func newBackend() core.Backend {
	return jsvm.NewBackend("v8", v8engine.New)
}
