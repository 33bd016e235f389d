//go:build windows

package vmhost

import "golang.org/x/sys/windows"

func nativeThreadID() (int, error) {
	return int(windows.GetCurrentThreadId()), nil
}
