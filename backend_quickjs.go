//go:build !v8

package vmhost

import (
	"github.com/cryguy/vmhost/internal/core"
	"github.com/cryguy/vmhost/internal/jsvm"
	"github.com/cryguy/vmhost/internal/quickjs"
)

func newBackend() core.Backend {
	return jsvm.NewBackend("quickjs", quickjs.New)
}
