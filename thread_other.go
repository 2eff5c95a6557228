//go:build !linux && !windows

package jsisolate

import (
	"bytes"
	"runtime"
	"strconv"
)

// currentThread falls back to the goroutine id. Goroutines holding a Locker
// are pinned to their thread, so the id identifies the holder just as well.
func currentThread() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseInt(string(b), 10, 64)
	return id
}
