package jsisolate

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/buke/jsisolate/internal/native"
)

var (
	engineOnce sync.Once
	engineErr  error

	activeIsolates atomic.Int64
)

// loadEngine verifies once per process that the engine can run a script.
func loadEngine() {
	engineOnce.Do(func() {
		iso := native.NewIsolate(native.Config{})
		defer iso.Release()
		c, err := iso.NewContext("")
		if err != nil {
			engineErr = err
			return
		}
		r, err := c.Execute("1 + 1", "<init>", 0)
		if err == nil && r != 2 {
			err = fmt.Errorf("unexpected result %v", r)
		}
		engineErr = err
	})
	if engineErr != nil {
		panic("jsisolate: engine initialization failed: " + engineErr.Error())
	}
}

// ActiveIsolates returns the number of Isolates created and not yet closed.
func ActiveIsolates() int64 {
	return activeIsolates.Load()
}

// Isolate is an independent engine instance. It is owned by the thread that
// holds its Locker; NewIsolate hands the lock to the calling thread. Except
// for TerminateExecution and IsTerminating, every method must be called by
// the owner.
type Isolate struct {
	native *native.Isolate
	locker *Locker
	logger *zap.Logger

	contexts        []*Context
	resources       []io.Closer
	executors       map[string]*Executor
	releaseHandlers observers[func(*Isolate)]

	objectRefs int64
	weakRefs   int64

	closing     bool
	terminating atomic.Bool
	released    atomic.Bool
}

type IsolateOptions struct {
	maxCallStackSize int
	logger           *zap.Logger
}

type IsolateOption func(*IsolateOptions)

// WithMaxCallStackSize bounds script recursion depth.
func WithMaxCallStackSize(size int) IsolateOption {
	return func(o *IsolateOptions) {
		o.maxCallStackSize = size
	}
}

// WithLogger sets the logger of the Isolate. It defaults to Logger().
func WithLogger(l *zap.Logger) IsolateOption {
	return func(o *IsolateOptions) {
		o.logger = l
	}
}

// NewIsolate creates an Isolate owned by the calling thread. It has no
// Context until CreateContext is called.
func NewIsolate(opts ...IsolateOption) *Isolate {
	loadEngine()

	options := IsolateOptions{}
	for _, fn := range opts {
		fn(&options)
	}
	if options.logger == nil {
		options.logger = Logger()
	}

	iso := &Isolate{
		native:    native.NewIsolate(native.Config{MaxCallStackSize: options.maxCallStackSize}),
		locker:    newLocker(),
		logger:    options.logger,
		executors: make(map[string]*Executor),
	}
	iso.locker.Acquire()
	activeIsolates.Add(1)
	return iso
}

// Locker returns the lock serializing access to the Isolate.
func (iso *Isolate) Locker() *Locker {
	return iso.locker
}

// IsReleased reports whether the Isolate was closed.
func (iso *Isolate) IsReleased() bool {
	return iso.released.Load()
}

func (iso *Isolate) checkThread() error {
	if iso.released.Load() {
		return ErrIsolateClosed
	}
	return iso.locker.CheckThread()
}

// checkRuntime panics unless v belongs to this Isolate.
func (iso *Isolate) checkRuntime(v Value) {
	if v.ctx != nil && v.ctx.iso != iso {
		panic(&InvariantError{Kind: KindCrossRuntime, Detail: "value belongs to another isolate"})
	}
}

// CreateContext creates a Context. The first one becomes the default.
func (iso *Isolate) CreateContext(opts ...ContextOption) (*Context, error) {
	if err := iso.checkThread(); err != nil {
		return nil, err
	}
	options := ContextOptions{}
	for _, fn := range opts {
		fn(&options)
	}
	nc, err := iso.native.NewContext(options.globalAlias)
	if err != nil {
		return nil, toError(err)
	}
	c := newContext(iso, nc, options)
	iso.contexts = append(iso.contexts, c)
	return c, nil
}

// DefaultContext returns the oldest open Context, nil if there is none.
func (iso *Isolate) DefaultContext() *Context {
	if len(iso.contexts) == 0 {
		return nil
	}
	return iso.contexts[0]
}

// Contexts returns the open Contexts in creation order.
func (iso *Isolate) Contexts() []*Context {
	return append([]*Context(nil), iso.contexts...)
}

func (iso *Isolate) removeContext(c *Context) {
	for i, x := range iso.contexts {
		if x == c {
			iso.contexts = append(iso.contexts[:i], iso.contexts[i+1:]...)
			return
		}
	}
}

// ObjectReferenceCount returns the number of open Values over all Contexts,
// weak Values excluded.
func (iso *Isolate) ObjectReferenceCount() int64 {
	return iso.objectRefs - iso.weakRefs
}

// RegisterResource adds r to the resources closed with the Isolate, in
// registration order.
func (iso *Isolate) RegisterResource(r io.Closer) error {
	if err := iso.checkThread(); err != nil {
		return err
	}
	iso.resources = append(iso.resources, r)
	return nil
}

// RegisterExecutor records e under key. The Isolate shuts e down when it is
// closed, or terminates it if TerminateExecution was called.
func (iso *Isolate) RegisterExecutor(key string, e *Executor) error {
	if err := iso.checkThread(); err != nil {
		return err
	}
	iso.executors[key] = e
	return nil
}

// Executor returns the Executor registered under key, nil if none.
func (iso *Isolate) Executor(key string) (*Executor, error) {
	if err := iso.checkThread(); err != nil {
		return nil, err
	}
	return iso.executors[key], nil
}

// RemoveExecutor unregisters and returns the Executor under key.
func (iso *Isolate) RemoveExecutor(key string) (*Executor, error) {
	if err := iso.checkThread(); err != nil {
		return nil, err
	}
	e := iso.executors[key]
	delete(iso.executors, key)
	return e, nil
}

// AddReleaseHandler registers fn to run first when the Isolate is closed.
// The returned function removes it.
func (iso *Isolate) AddReleaseHandler(fn func(*Isolate)) (remove func()) {
	return iso.releaseHandlers.add(fn)
}

// TerminateExecution aborts whatever script runs in the Isolate. An idle
// Isolate aborts its next execution instead. It may be called from any
// goroutine.
func (iso *Isolate) TerminateExecution() {
	iso.terminating.Store(true)
	iso.native.TerminateExecution()
}

// IsTerminating reports whether TerminateExecution was called.
func (iso *Isolate) IsTerminating() bool {
	return iso.terminating.Load()
}

// LowMemoryNotification runs a full collection, then closes the weak Values
// whose script objects were reclaimed.
func (iso *Isolate) LowMemoryNotification() error {
	if err := iso.checkThread(); err != nil {
		return err
	}
	iso.native.CollectGarbage()
	for _, c := range iso.Contexts() {
		c.native.DeliverDisposals()
	}
	return nil
}

// Close is CloseWithLeakCheck(true).
func (iso *Isolate) Close() error {
	return iso.CloseWithLeakCheck(true)
}

// CloseWithLeakCheck tears the Isolate down: release handlers, registered
// resources, executors, host callbacks, Contexts and finally the engine.
// With reportLeaks, Values left open are then reported as a *LeakError.
// Teardown always completes; resource errors are returned along with the
// leak error. Closing twice does nothing.
func (iso *Isolate) CloseWithLeakCheck(reportLeaks bool) error {
	if iso.released.Load() {
		return nil
	}
	if err := iso.locker.CheckThread(); err != nil {
		return err
	}
	if iso.closing {
		return nil
	}
	iso.closing = true

	iso.releaseHandlers.each(func(fn func(*Isolate)) { fn(iso) })

	var errs error
	for _, r := range iso.resources {
		errs = multierr.Append(errs, r.Close())
	}
	iso.resources = nil

	for key, e := range iso.executors {
		if iso.terminating.Load() {
			e.ForceTermination()
		} else {
			e.Shutdown()
		}
		delete(iso.executors, key)
	}

	contexts := iso.Contexts()
	for _, c := range contexts {
		c.releaseCallbacks()
	}
	for _, c := range contexts {
		errs = multierr.Append(errs, c.Close())
	}

	leaks := iso.ObjectReferenceCount()
	iso.native.Release()
	iso.released.Store(true)
	activeIsolates.Add(-1)
	iso.locker.releaseAll()

	if reportLeaks && leaks > 0 {
		iso.logger.Warn("isolate closed with open values", zap.Int64("count", leaks))
		errs = multierr.Append(errs, &LeakError{Count: leaks})
	}
	return errs
}
