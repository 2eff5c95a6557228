package jsisolate

import (
	"sync"
)

// ConcurrentIsolate shares one Isolate between goroutines. Each Run acquires
// the Isolate lock on the calling goroutine's thread, runs fn and releases
// it, so the Isolate moves between threads one call at a time.
type ConcurrentIsolate struct {
	mu  sync.Mutex
	iso *Isolate
}

// NewConcurrentIsolate creates an Isolate with a default Context and releases
// it for use through Run.
func NewConcurrentIsolate(opts ...IsolateOption) (*ConcurrentIsolate, error) {
	iso := NewIsolate(opts...)
	if _, err := iso.CreateContext(); err != nil {
		_ = iso.Close()
		return nil, err
	}
	if err := iso.Locker().Release(); err != nil {
		return nil, err
	}
	return &ConcurrentIsolate{iso: iso}, nil
}

// Run calls fn with the default Context while holding the Isolate lock.
// Values must not escape fn.
func (ci *ConcurrentIsolate) Run(fn func(c *Context) error) error {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	if ci.iso.IsReleased() {
		return ErrIsolateClosed
	}

	locker := ci.iso.Locker()
	locker.Acquire()
	defer locker.Release()
	return fn(ci.iso.DefaultContext())
}

// TerminateExecution aborts the script currently run by Run.
func (ci *ConcurrentIsolate) TerminateExecution() {
	ci.iso.TerminateExecution()
}

// Close closes the Isolate on the calling thread.
func (ci *ConcurrentIsolate) Close() error {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	if ci.iso.IsReleased() {
		return nil
	}
	ci.iso.Locker().Acquire()
	return ci.iso.Close()
}
