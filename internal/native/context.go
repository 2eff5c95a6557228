package native

import (
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// Context is one engine heap with its own global object.
type Context struct {
	iso      *Isolate
	vm       *goja.Runtime
	table    *handleTable
	global   Handle
	loop     *loop

	dispatch  Dispatcher
	functions map[uint64]struct{}

	onWeakDisposed func(Handle)
	disposalMu     sync.Mutex
	disposals      []Handle

	sources  map[string]string
	wake     chan struct{} // signalled by Isolate.TerminateExecution
	depth    int
	released bool
}

func newContext(iso *Isolate, alias string) *Context {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if iso.cfg.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(iso.cfg.MaxCallStackSize)
	}

	c := &Context{
		iso:       iso,
		vm:        vm,
		table:     newHandleTable(),
		functions: make(map[uint64]struct{}),
		sources:   make(map[string]string),
		wake:      make(chan struct{}, 1),
	}

	global := vm.GlobalObject()
	c.global = c.table.store(global, KindObject)
	if alias != "" {
		_ = global.Set(alias, global)
	}

	c.loop = newLoop(c)
	c.loop.install()
	return c
}

// Global returns the handle of the global object. It stays valid until the
// context is closed and must not be freed by the caller.
func (c *Context) Global() Handle {
	return c.global
}

// IsReleased reports whether the context was closed.
func (c *Context) IsReleased() bool {
	return c.released
}

// Close releases every handle of the context and drops its heap.
func (c *Context) Close() {
	if c.released {
		return
	}
	c.iso.removeContext(c)
	c.release()
}

func (c *Context) release() {
	if c.released {
		return
	}
	c.released = true
	c.loop.stop()
	c.table.clear()
	c.functions = nil
	c.dispatch = nil
	c.onWeakDisposed = nil
}

// HandleCount returns the number of live handles, the global object included.
func (c *Context) HandleCount() int {
	return c.table.count()
}

// Live reports whether h is a live handle of this context.
func (c *Context) Live(h Handle) bool {
	if c.released {
		return false
	}
	_, ok := c.table.lookup(h)
	return ok
}

// KindOf returns the kind h was created with.
func (c *Context) KindOf(h Handle) (Kind, error) {
	if c.released {
		return KindUndefined, ErrContextReleased
	}
	s, ok := c.table.lookup(h)
	if !ok {
		return KindUndefined, ErrStaleHandle
	}
	return s.kind, nil
}

// Free releases h. A second release of the same handle reports ErrStaleHandle.
func (c *Context) Free(h Handle) error {
	if c.released {
		return ErrContextReleased
	}
	if h == c.global {
		return nil
	}
	return c.table.drop(h)
}

// Twin creates a second handle on the object behind h.
func (c *Context) Twin(h Handle) (Handle, error) {
	obj, err := c.object(h)
	if err != nil {
		return 0, err
	}
	s, _ := c.table.lookup(h)
	return c.table.store(obj, s.kind), nil
}

// Execute compiles and runs src. line shifts every reported line number.
func (c *Context) Execute(src, name string, line int) (any, error) {
	if c.released {
		return nil, ErrContextReleased
	}
	c.DeliverDisposals()

	if line > 0 {
		src = strings.Repeat("\n", line) + src
	}
	c.sources[name] = src
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, c.exception(err)
	}

	v, err := c.run(func() (goja.Value, error) {
		return c.vm.RunProgram(prog)
	})
	if err != nil {
		return nil, err
	}
	return c.fromEngine(v), nil
}

// Call invokes the function behind fn with the given receiver and arguments.
func (c *Context) Call(fn Handle, this any, args []any) (any, error) {
	obj, err := c.object(fn)
	if err != nil {
		return nil, err
	}
	callable, ok := goja.AssertFunction(obj)
	if !ok {
		return nil, &Exception{Name: "TypeError", Message: "value is not a function"}
	}
	return c.call(callable, this, args)
}

// Invoke calls the function stored in property name of h with h as receiver.
func (c *Context) Invoke(h Handle, name string, args []any) (any, error) {
	obj, err := c.object(h)
	if err != nil {
		return nil, err
	}
	callable, ok := goja.AssertFunction(obj.Get(name))
	if !ok {
		return nil, &Exception{Name: "TypeError", Message: name + " is not a function"}
	}
	return c.call(callable, Ref{Handle: h, Kind: KindObject}, args)
}

func (c *Context) call(fn goja.Callable, this any, args []any) (any, error) {
	c.DeliverDisposals()

	thisVal, err := c.toEngine(this)
	if err != nil {
		return nil, err
	}
	vals := make([]goja.Value, len(args))
	for i, a := range args {
		if vals[i], err = c.toEngine(a); err != nil {
			return nil, err
		}
	}

	v, err := c.run(func() (goja.Value, error) {
		return fn(thisVal, vals...)
	})
	if err != nil {
		return nil, err
	}
	return c.fromEngine(v), nil
}

// run executes fn and maps interrupts and exceptions. The interrupt flag is
// cleared once the outermost script frame has unwound.
func (c *Context) run(fn func() (goja.Value, error)) (goja.Value, error) {
	c.depth++
	defer func() { c.depth-- }()

	v, err := fn()
	if err == nil {
		return v, nil
	}
	if _, ok := err.(*goja.InterruptedError); ok {
		if c.depth == 1 {
			c.clearTermination()
		}
		return nil, ErrTerminated
	}
	return nil, c.exception(err)
}

// Get reads property key of h.
func (c *Context) Get(h Handle, key string) (any, error) {
	obj, err := c.object(h)
	if err != nil {
		return nil, err
	}
	var v goja.Value
	if err := c.guard(func() error {
		v = obj.Get(key)
		return nil
	}); err != nil {
		return nil, err
	}
	return c.fromEngine(v), nil
}

// Set writes property key of h.
func (c *Context) Set(h Handle, key string, v any) error {
	obj, err := c.object(h)
	if err != nil {
		return err
	}
	val, err := c.toEngine(v)
	if err != nil {
		return err
	}
	return c.guard(func() error { return obj.Set(key, val) })
}

// Delete removes property key of h.
func (c *Context) Delete(h Handle, key string) error {
	obj, err := c.object(h)
	if err != nil {
		return err
	}
	return c.guard(func() error { return obj.Delete(key) })
}

// Contains reports whether key resolves on h or its prototype chain.
func (c *Context) Contains(h Handle, key string) (bool, error) {
	obj, err := c.object(h)
	if err != nil {
		return false, err
	}
	return obj.Get(key) != nil, nil
}

// Keys returns the own enumerable property names of h.
func (c *Context) Keys(h Handle) ([]string, error) {
	obj, err := c.object(h)
	if err != nil {
		return nil, err
	}
	return obj.Keys(), nil
}

// TypeOf returns the kind of property key of h without creating a handle.
func (c *Context) TypeOf(h Handle, key string) (Kind, error) {
	obj, err := c.object(h)
	if err != nil {
		return KindUndefined, err
	}
	return c.kindOf(obj.Get(key)), nil
}

// GetIndex reads element i of h.
func (c *Context) GetIndex(h Handle, i int) (any, error) {
	return c.Get(h, strconv.Itoa(i))
}

// SetIndex writes element i of h.
func (c *Context) SetIndex(h Handle, i int, v any) error {
	return c.Set(h, strconv.Itoa(i), v)
}

// TypeAt returns the kind of element i of h.
func (c *Context) TypeAt(h Handle, i int) (Kind, error) {
	return c.TypeOf(h, strconv.Itoa(i))
}

// Length returns the length property of h.
func (c *Context) Length(h Handle) (int, error) {
	obj, err := c.object(h)
	if err != nil {
		return 0, err
	}
	l := obj.Get("length")
	if l == nil {
		return 0, nil
	}
	return int(l.ToInteger()), nil
}

// Push appends v to the array behind h.
func (c *Context) Push(h Handle, v any) error {
	_, err := c.Invoke(h, "push", []any{v})
	return err
}

// String converts h with the engine's ToString.
func (c *Context) String(h Handle) (string, error) {
	obj, err := c.object(h)
	if err != nil {
		return "", err
	}
	var s string
	err = c.guard(func() error {
		s = obj.String()
		return nil
	})
	return s, err
}

// EqualityMode selects the comparison used by Equals.
type EqualityMode int

const (
	Loose EqualityMode = iota
	Strict
	SameValue
)

// Equals compares two boundary values.
func (c *Context) Equals(a, b any, mode EqualityMode) (bool, error) {
	va, err := c.toEngine(a)
	if err != nil {
		return false, err
	}
	vb, err := c.toEngine(b)
	if err != nil {
		return false, err
	}
	var eq bool
	err = c.guard(func() error {
		switch mode {
		case Strict:
			eq = va.StrictEquals(vb)
		case SameValue:
			eq = va.SameAs(vb)
		default:
			eq = va.Equals(vb)
		}
		return nil
	})
	return eq, err
}

// guard turns an engine exception thrown by a direct object operation (a
// throwing setter or getter) into an error.
func (c *Context) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch x := r.(type) {
			case *goja.Exception:
				err = c.exception(x)
			case *goja.InterruptedError:
				err = ErrTerminated
			default:
				panic(r)
			}
		}
	}()
	if err = fn(); err != nil {
		if ex, ok := err.(*goja.Exception); ok {
			err = c.exception(ex)
		}
	}
	return err
}

func (c *Context) object(h Handle) (*goja.Object, error) {
	if c.released {
		return nil, ErrContextReleased
	}
	return c.table.object(h)
}

func (c *Context) kindOf(v goja.Value) Kind {
	if v == nil || goja.IsUndefined(v) {
		return KindUndefined
	}
	if goja.IsNull(v) {
		return KindNull
	}
	if obj, ok := v.(*goja.Object); ok {
		return c.objectKind(obj)
	}
	switch x := v.Export().(type) {
	case int64:
		if x >= -1<<31 && x < 1<<31 {
			return KindInteger
		}
		return KindDouble
	case float64:
		if isInt32(x) {
			return KindInteger
		}
		return KindDouble
	case bool:
		return KindBoolean
	default:
		return KindString
	}
}

// objectKind inspects obj without running script, so a pending interrupt is
// left for the next execution.
func (c *Context) objectKind(obj *goja.Object) Kind {
	if _, ok := goja.AssertFunction(obj); ok {
		return KindFunction
	}
	if obj.ClassName() == "Array" {
		return KindArray
	}
	typ := obj.ExportType()
	if typ == arrayBufferType {
		return KindArrayBuffer
	}
	if typ != nil && typ.Kind() == reflect.Slice {
		switch typ.Elem().Kind() {
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return KindTypedArray
		}
	}
	return KindObject
}

var arrayBufferType = reflect.TypeOf(goja.ArrayBuffer{})

func isInt32(f float64) bool {
	return f == float64(int32(f)) && !(f == 0 && 1/f < 0)
}
