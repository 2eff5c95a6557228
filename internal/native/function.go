package native

import (
	"errors"

	"github.com/dop251/goja"
)

// Dispatcher receives script calls of registered host functions. Every Ref in
// receiver and args owns a new handle. A Ref returned as result is freed after
// conversion; use Pin to return an object whose handle was already released.
type Dispatcher func(id uint64, receiver any, args []any) (any, error)

// errFunctionReleased is thrown by host functions whose registration was
// dropped.
var errFunctionReleased = errors.New("host function released")

// SetDispatcher installs the receiver of all host function calls.
func (c *Context) SetDispatcher(d Dispatcher) {
	c.dispatch = d
}

// RegisterFunction defines property name of h as a script function calling
// back into the dispatcher with id.
func (c *Context) RegisterFunction(h Handle, name string, id uint64) error {
	obj, err := c.object(h)
	if err != nil {
		return err
	}
	c.functions[id] = struct{}{}
	fn := c.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return c.proxy(id, call)
	})
	return c.guard(func() error { return obj.Set(name, fn) })
}

// ReleaseFunctions drops every host function registration. Script functions
// still referencing them throw when called.
func (c *Context) ReleaseFunctions() {
	if c.released {
		return
	}
	clear(c.functions)
}

// Throw makes a dispatcher error thrown into script use a specific error
// constructor.
type Throw interface {
	error
	ScriptErrorName() string
}

func (c *Context) proxy(id uint64, call goja.FunctionCall) goja.Value {
	if _, ok := c.functions[id]; !ok || c.dispatch == nil {
		panic(c.vm.NewGoError(errFunctionReleased))
	}

	receiver := c.fromEngine(call.This)
	args := make([]any, len(call.Arguments))
	for i, a := range call.Arguments {
		args[i] = c.fromEngine(a)
	}

	result, err := c.dispatch(id, receiver, args)
	if err != nil {
		panic(c.throwable(err))
	}

	v, err := c.toEngine(result)
	if ref, ok := result.(Ref); ok {
		_ = c.table.drop(ref.Handle)
	}
	if err != nil {
		panic(c.throwable(err))
	}
	return v
}

func (c *Context) throwable(err error) goja.Value {
	var t Throw
	if errors.As(err, &t) && t.ScriptErrorName() == "TypeError" {
		return c.vm.NewTypeError("%s", err.Error())
	}
	return c.vm.NewGoError(err)
}

// NewFunction creates a standalone script function calling back into the
// dispatcher with id.
func (c *Context) NewFunction(id uint64) (Ref, error) {
	if c.released {
		return Ref{}, ErrContextReleased
	}
	c.functions[id] = struct{}{}
	fn := c.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return c.proxy(id, call)
	}).(*goja.Object)
	return Ref{Handle: c.table.store(fn, KindFunction), Kind: KindFunction}, nil
}
