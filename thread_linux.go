//go:build linux

package vmhost

import "golang.org/x/sys/unix"

func nativeThreadID() (int, error) {
	return unix.Gettid(), nil
}
