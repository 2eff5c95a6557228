package jsisolate

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Locker serializes access to an Isolate. At most one thread holds it at a
// time; the holder may acquire it again, and must release it as many times.
// Acquiring pins the calling goroutine to its OS thread until the matching
// release.
type Locker struct {
	mu    sync.Mutex
	owner int64 // thread id of the holder, 0 when free
	depth int
	token chan struct{}
}

func newLocker() *Locker {
	l := &Locker{token: make(chan struct{}, 1)}
	l.token <- struct{}{}
	return l
}

// Acquire takes the lock, blocking while another thread holds it.
func (l *Locker) Acquire() {
	_ = l.AcquireContext(context.Background())
}

// AcquireContext is Acquire that gives up when ctx is done.
func (l *Locker) AcquireContext(ctx context.Context) error {
	runtime.LockOSThread()
	tid := currentThread()

	l.mu.Lock()
	if l.depth > 0 && l.owner == tid {
		l.depth++
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	select {
	case <-l.token:
	case <-ctx.Done():
		runtime.UnlockOSThread()
		return ctx.Err()
	}

	l.mu.Lock()
	l.owner, l.depth = tid, 1
	l.mu.Unlock()
	return nil
}

// TryAcquire takes the lock if it is free or already held by the caller.
func (l *Locker) TryAcquire() bool {
	runtime.LockOSThread()
	tid := currentThread()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.depth > 0 && l.owner == tid {
		l.depth++
		return true
	}
	select {
	case <-l.token:
		l.owner, l.depth = tid, 1
		return true
	default:
		runtime.UnlockOSThread()
		return false
	}
}

// Release undoes one Acquire. The lock becomes free, and one waiter wakes up,
// when the depth drops to zero. Releasing a free lock does nothing.
func (l *Locker) Release() error {
	tid := currentThread()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.depth == 0 {
		return nil
	}
	if l.owner != tid {
		return fmt.Errorf("%w: lock held by thread %d, released from thread %d", ErrThreadViolation, l.owner, tid)
	}
	l.depth--
	if l.depth == 0 {
		l.owner = 0
		l.token <- struct{}{}
	}
	runtime.UnlockOSThread()
	return nil
}

// releaseAll drops every level held by the calling thread.
func (l *Locker) releaseAll() {
	tid := currentThread()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.depth == 0 || l.owner != tid {
		return
	}
	for ; l.depth > 0; l.depth-- {
		runtime.UnlockOSThread()
	}
	l.owner = 0
	l.token <- struct{}{}
}

// CheckThread fails with ErrThreadViolation unless the calling thread holds
// the lock.
func (l *Locker) CheckThread() error {
	tid := currentThread()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.depth == 0 {
		return fmt.Errorf("%w: lock is not held", ErrThreadViolation)
	}
	if l.owner != tid {
		return fmt.Errorf("%w: lock held by thread %d, accessed from thread %d", ErrThreadViolation, l.owner, tid)
	}
	return nil
}

// HasLock reports whether the calling thread holds the lock.
func (l *Locker) HasLock() bool {
	tid := currentThread()

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.depth > 0 && l.owner == tid
}

// Thread returns the id of the holding thread, or 0 when the lock is free.
func (l *Locker) Thread() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

// Depth returns how many times the holder acquired the lock.
func (l *Locker) Depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.depth
}
