//go:build !linux && !windows

package vmhost

import (
	"fmt"
	"runtime"
)

func nativeThreadID() (int, error) {
	return 0, fmt.Errorf("native thread ids are not supported on %s", runtime.GOOS)
}
