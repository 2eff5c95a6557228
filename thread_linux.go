//go:build linux

package jsisolate

import "golang.org/x/sys/unix"

func currentThread() int64 {
	return int64(unix.Gettid())
}
