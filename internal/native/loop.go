package native

import (
	"sort"
	"time"

	"github.com/dop251/goja"
)

// job is one scheduled timer callback.
type job struct {
	id   int64
	due  time.Time
	fn   goja.Callable
	args []goja.Value
}

// loop is the timer queue of a context. Jobs only run when the owner pumps
// the loop.
type loop struct {
	c      *Context
	jobs   []*job // ordered by due time, FIFO among equal due times
	nextID int64
}

func newLoop(c *Context) *loop {
	return &loop{c: c}
}

func (l *loop) install() {
	vm := l.c.vm
	_ = vm.Set("setTimeout", l.setTimeout)
	_ = vm.Set("setImmediate", func(call goja.FunctionCall) goja.Value {
		fn := l.callback(call, "setImmediate")
		return vm.ToValue(l.schedule(fn, 0, restArgs(call.Arguments, 1)))
	})
	_ = vm.Set("clearTimeout", l.clearTimeout)
}

func (l *loop) setTimeout(call goja.FunctionCall) goja.Value {
	fn := l.callback(call, "setTimeout")
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	return l.c.vm.ToValue(l.schedule(fn, delay, restArgs(call.Arguments, 2)))
}

func (l *loop) clearTimeout(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	for i, j := range l.jobs {
		if j.id == id {
			l.jobs = append(l.jobs[:i], l.jobs[i+1:]...)
			break
		}
	}
	return goja.Undefined()
}

func (l *loop) callback(call goja.FunctionCall, name string) goja.Callable {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(l.c.vm.NewTypeError(name + ": callback is not a function"))
	}
	return fn
}

func (l *loop) schedule(fn goja.Callable, delay time.Duration, args []goja.Value) int64 {
	if delay < 0 {
		delay = 0
	}
	l.nextID++
	j := &job{id: l.nextID, due: time.Now().Add(delay), fn: fn, args: args}
	i := sort.Search(len(l.jobs), func(i int) bool { return l.jobs[i].due.After(j.due) })
	l.jobs = append(l.jobs, nil)
	copy(l.jobs[i+1:], l.jobs[i:])
	l.jobs[i] = j
	return j.id
}

func (l *loop) stop() {
	l.jobs = nil
}

func restArgs(args []goja.Value, from int) []goja.Value {
	if len(args) <= from {
		return nil
	}
	return append([]goja.Value(nil), args[from:]...)
}

// PumpMessageLoop runs the next due timer and reports whether one ran. With
// wait it sleeps until the earliest timer is due instead of returning false;
// TerminateExecution cuts the sleep short with ErrTerminated.
func (c *Context) PumpMessageLoop(wait bool) (bool, error) {
	if c.released {
		return false, ErrContextReleased
	}
	c.DeliverDisposals()

	l := c.loop
	if len(l.jobs) == 0 {
		return false, nil
	}
	j := l.jobs[0]
	if d := time.Until(j.due); d > 0 {
		if !wait {
			return false, nil
		}
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-c.wake:
			t.Stop()
			if c.depth == 0 {
				c.clearTermination()
			}
			return false, ErrTerminated
		}
	}
	l.jobs = l.jobs[1:]

	_, err := c.run(func() (goja.Value, error) {
		return j.fn(goja.Undefined(), j.args...)
	})
	return true, err
}

// clearTermination drops a pending interrupt and wake signal once no script
// frame is left to unwind.
func (c *Context) clearTermination() {
	c.vm.ClearInterrupt()
	select {
	case <-c.wake:
	default:
	}
}

// IsRunning reports whether timers are pending.
func (c *Context) IsRunning() bool {
	return !c.released && len(c.loop.jobs) > 0
}
