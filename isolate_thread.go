package jsisolate

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
)

// IsolateThread runs one target on a new goroutine that owns a private
// Isolate for the duration of the call.
type IsolateThread struct {
	done chan struct{}
	err  error
}

// StartIsolateThread starts target with the default Context of a fresh
// Isolate. The Isolate is closed, with leak checking, when target returns.
func StartIsolateThread(target func(c *Context) error, opts ...IsolateOption) *IsolateThread {
	t := &IsolateThread{done: make(chan struct{})}
	go t.run(target, opts)
	return t
}

func (t *IsolateThread) run(target func(c *Context) error, opts []IsolateOption) {
	defer close(t.done)
	iso := NewIsolate(opts...)
	defer func() {
		if r := recover(); r != nil {
			t.err = multierr.Append(t.err, fmt.Errorf("jsisolate: isolate thread panicked: %v", r))
		}
		t.err = multierr.Append(t.err, iso.Close())
	}()

	c, err := iso.CreateContext()
	if err != nil {
		t.err = err
		return
	}
	t.err = target(c)
}

// Join waits for the target to return and the Isolate to close.
func (t *IsolateThread) Join(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
