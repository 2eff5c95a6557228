package jsisolate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ExecutorState is the lifecycle state of an Executor.
type ExecutorState int32

const (
	ExecutorCreated ExecutorState = iota
	ExecutorRunning
	ExecutorShuttingDown
	ExecutorForceTerminating
	ExecutorTerminated
)

func (s ExecutorState) String() string {
	switch s {
	case ExecutorCreated:
		return "created"
	case ExecutorRunning:
		return "running"
	case ExecutorShuttingDown:
		return "shutting down"
	case ExecutorForceTerminating:
		return "force terminating"
	case ExecutorTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// TerminationProbe is the global function an Executor defines in its Context.
// Long running scripts may call it to give the Executor a chance to stop them.
const TerminationProbe = "__jsisolate_checkTerminate"

var errExecutorStarted = errors.New("jsisolate: executor already started")

// Executor runs a private Isolate on its own goroutine, locked to one OS
// thread, and processes posted Messages strictly in FIFO order.
type Executor struct {
	options ExecutorOptions
	logger  *zap.Logger

	state   atomic.Int32
	forced  atomic.Bool
	isolate atomic.Pointer[Isolate]

	mu     sync.Mutex
	queue  []*Message
	closed bool
	wake   chan struct{}

	startOnce sync.Once
	done      chan struct{}
	err       error
}

type ExecutorOptions struct {
	setup       func(*Context) error
	isolateOpts []IsolateOption
	logger      *zap.Logger
	listener    func(*Message, error)
}

type ExecutorOption func(*ExecutorOptions)

// WithSetup runs fn on the default Context before the first message.
func WithSetup(fn func(*Context) error) ExecutorOption {
	return func(o *ExecutorOptions) {
		o.setup = fn
	}
}

// WithIsolateOptions configures the Isolate the Executor creates.
func WithIsolateOptions(opts ...IsolateOption) ExecutorOption {
	return func(o *ExecutorOptions) {
		o.isolateOpts = append(o.isolateOpts, opts...)
	}
}

// WithExecutorLogger sets the logger of the Executor. It defaults to Logger().
func WithExecutorLogger(l *zap.Logger) ExecutorOption {
	return func(o *ExecutorOptions) {
		o.logger = l
	}
}

// WithExceptionListener calls fn on the Executor thread for every message
// that fails.
func WithExceptionListener(fn func(*Message, error)) ExecutorOption {
	return func(o *ExecutorOptions) {
		o.listener = fn
	}
}

// NewExecutor creates an Executor in the Created state.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for _, fn := range opts {
		fn(&e.options)
	}
	e.logger = e.options.logger
	if e.logger == nil {
		e.logger = Logger()
	}
	if e.options.isolateOpts == nil {
		e.options.isolateOpts = []IsolateOption{WithLogger(e.logger)}
	}
	return e
}

// Start launches the Executor goroutine.
func (e *Executor) Start() error {
	started := false
	e.startOnce.Do(func() {
		started = true
		go e.run()
	})
	if !started {
		return errExecutorStarted
	}
	return nil
}

// Post queues m. It fails with ErrExecutorTerminated once the Executor is
// shutting down or gone, and with a *MessageArgError when Args hold a Value.
func (e *Executor) Post(m *Message) error {
	if err := m.checkArgs(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrExecutorTerminated
	}
	switch e.State() {
	case ExecutorCreated, ExecutorRunning:
	default:
		return ErrExecutorTerminated
	}
	e.queue = append(e.queue, m)
	e.signal()
	return nil
}

// Shutdown stops accepting messages. Queued messages still run, then the
// Executor terminates.
func (e *Executor) Shutdown() {
	for {
		s := e.state.Load()
		if s != int32(ExecutorCreated) && s != int32(ExecutorRunning) {
			return
		}
		if e.state.CompareAndSwap(s, int32(ExecutorShuttingDown)) {
			break
		}
	}
	e.logger.Debug("executor shutting down")
	e.signal()
}

// ForceTermination aborts the running script and terminates the Executor
// without running queued messages, which fail with ErrExecutorTerminated.
func (e *Executor) ForceTermination() {
	for {
		s := e.state.Load()
		if s == int32(ExecutorForceTerminating) || s == int32(ExecutorTerminated) {
			return
		}
		if e.state.CompareAndSwap(s, int32(ExecutorForceTerminating)) {
			break
		}
	}
	e.forced.Store(true)
	e.logger.Debug("executor force terminating")
	if iso := e.isolate.Load(); iso != nil {
		iso.TerminateExecution()
	}
	e.signal()
}

// Wait blocks until the Executor terminated or ctx ends. It returns the
// error that stopped the Executor, if any.
func (e *Executor) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the Executor terminated.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

// Err returns the error that stopped the Executor; valid after Done.
func (e *Executor) Err() error {
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

// State returns the current state.
func (e *Executor) State() ExecutorState {
	return ExecutorState(e.state.Load())
}

// IsTerminating reports whether ForceTermination was called.
func (e *Executor) IsTerminating() bool {
	return e.forced.Load()
}

// IsShuttingDown reports whether Shutdown was called and the Executor has
// not terminated yet.
func (e *Executor) IsShuttingDown() bool {
	return e.State() == ExecutorShuttingDown
}

func (e *Executor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) run() {
	defer close(e.done)

	iso := NewIsolate(e.options.isolateOpts...)
	e.isolate.Store(iso)
	if e.State() == ExecutorForceTerminating {
		iso.TerminateExecution()
	}
	e.state.CompareAndSwap(int32(ExecutorCreated), int32(ExecutorRunning))
	defer e.exit(iso)
	e.logger.Debug("executor started", zap.Int64("thread", iso.Locker().Thread()))

	c, err := iso.CreateContext()
	if err != nil {
		e.err = err
		return
	}
	probe := VoidCallbackFunc(func(Value, []any) error {
		if e.State() == ExecutorForceTerminating {
			iso.TerminateExecution()
		}
		return nil
	})
	if err := c.RegisterVoidCallback(Undefined, TerminationProbe, probe); err != nil {
		e.err = err
		return
	}
	if e.options.setup != nil {
		if err := e.options.setup(c); err != nil {
			e.err = fmt.Errorf("jsisolate: executor setup: %w", err)
			return
		}
	}

	for {
		m := e.next()
		if m == nil {
			return
		}
		e.process(c, m)
	}
}

// next returns the oldest queued message, or nil when the loop must end.
func (e *Executor) next() *Message {
	for {
		if e.State() == ExecutorForceTerminating {
			return nil
		}
		e.mu.Lock()
		if len(e.queue) > 0 {
			m := e.queue[0]
			e.queue = e.queue[1:]
			e.mu.Unlock()
			return m
		}
		e.mu.Unlock()
		if e.State() == ExecutorShuttingDown {
			return nil
		}
		<-e.wake
	}
}

func (e *Executor) process(c *Context, m *Message) {
	result, err := e.call(c, m)
	if err != nil {
		e.logger.Debug("message failed", zap.String("function", m.Function), zap.Error(err))
		if e.options.listener != nil {
			e.options.listener(m, err)
		}
	}
	m.complete(result, err)
}

func (e *Executor) call(c *Context, m *Message) (any, error) {
	fn, err := c.ExecuteObjectScript("("+m.Function+")", ScriptName("message"))
	if err != nil {
		return nil, err
	}
	defer fn.Close()
	if !fn.IsFunction() {
		return nil, fmt.Errorf("jsisolate: message function is a %s", fn.Type())
	}

	r, err := fn.Call(Undefined, m.Args...)
	if err != nil {
		return nil, err
	}
	if v, ok := r.(Value); ok {
		defer v.Close()
	}
	if m.Consumer != nil {
		return m.Consumer(c, r)
	}
	return c.Export(r)
}

// exit tears the Isolate down and fails the messages left in the queue.
func (e *Executor) exit(iso *Isolate) {
	if iso.Locker().HasLock() {
		e.err = multierr.Append(e.err, iso.Close())
	}

	e.mu.Lock()
	pending := e.queue
	e.queue = nil
	e.closed = true
	e.mu.Unlock()
	for _, m := range pending {
		m.complete(nil, ErrExecutorTerminated)
	}

	e.state.Store(int32(ExecutorTerminated))
	e.logger.Debug("executor terminated", zap.Int("dropped", len(pending)))
}
