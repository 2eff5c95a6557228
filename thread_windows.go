//go:build windows

package jsisolate

import "golang.org/x/sys/windows"

func currentThread() int64 {
	return int64(windows.GetCurrentThreadId())
}
