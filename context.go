package jsisolate

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/buke/jsisolate/internal/native"
)

// Context is an execution scope of an Isolate with its own global object.
// Contexts of one Isolate do not share objects: a Value of one Context cannot
// be passed to another.
type Context struct {
	iso    *Isolate
	native *native.Context
	global Value

	registry     map[uint64]*callbackDescriptor
	nextMethodID uint64

	weak       map[native.Handle]Value
	objectRefs int64
	pending    *ScriptError

	data              map[string]any
	referenceHandlers observers[ReferenceHandler]
	releaseHandlers   observers[func(*Context)]

	closeIsolate bool
	released     bool
}

// ReferenceHandler observes every Value a Context hands out and releases.
type ReferenceHandler interface {
	// ReferenceCreated is called for every new Value. Returning an error
	// closes the Value and fails the operation that produced it.
	ReferenceCreated(v Value) error
	// ReferenceDisposed is called when a Value is closed.
	ReferenceDisposed(v Value)
}

type ContextOptions struct {
	globalAlias  string
	closeIsolate bool
}

type ContextOption func(*ContextOptions)

// GlobalAlias exposes the global object under an extra global name.
func GlobalAlias(name string) ContextOption {
	return func(o *ContextOptions) {
		o.globalAlias = name
	}
}

// CloseIsolateWithLastContext closes the Isolate when this Context is closed
// and no other Context is left.
func CloseIsolateWithLastContext() ContextOption {
	return func(o *ContextOptions) {
		o.closeIsolate = true
	}
}

func newContext(iso *Isolate, nc *native.Context, options ContextOptions) *Context {
	c := &Context{
		iso:          iso,
		native:       nc,
		registry:     make(map[uint64]*callbackDescriptor),
		weak:         make(map[native.Handle]Value),
		data:         make(map[string]any),
		closeIsolate: options.closeIsolate,
	}
	c.global = Value{ctx: c, handle: nc.Global(), typ: TypeObject}
	nc.SetDispatcher(c.dispatch)
	nc.SetOnWeakDisposed(c.weakReferenceReleased)
	return c
}

// Isolate returns the owning Isolate.
func (c *Context) Isolate() *Isolate {
	return c.iso
}

// Global returns the global object. It lives as long as the Context and
// closing it does nothing.
func (c *Context) Global() Value {
	return c.global
}

// IsReleased reports whether the Context was closed.
func (c *Context) IsReleased() bool {
	return c.released
}

// checkThread fails unless the caller holds the Isolate lock and the Context
// is open.
func (c *Context) checkThread() error {
	if err := c.iso.checkThread(); err != nil {
		return err
	}
	if c.released {
		return ErrReleased
	}
	return nil
}

// Close releases the Context: release handlers run first, then host
// callbacks are unregistered and weak Values closed. Every Value of the
// Context becomes unusable. Closing twice does nothing.
func (c *Context) Close() error {
	if c.released {
		return nil
	}
	if err := c.iso.checkThread(); err != nil {
		return err
	}

	c.releaseHandlers.each(func(fn func(*Context)) { fn(c) })
	c.releaseCallbacks()
	for _, v := range c.weak {
		_ = v.Close()
	}

	c.released = true
	c.native.Close()
	c.iso.removeContext(c)

	if c.closeIsolate && !c.iso.closing && len(c.iso.contexts) == 0 {
		return c.iso.Close()
	}
	return nil
}

// ObjectReferenceCount returns the number of open Values of this Context,
// weak Values excluded.
func (c *Context) ObjectReferenceCount() int64 {
	return c.objectRefs - int64(len(c.weak))
}

// SetData attaches arbitrary host data to the Context.
func (c *Context) SetData(key string, v any) {
	c.data[key] = v
}

// Data returns data set with SetData, nil if none.
func (c *Context) Data(key string) any {
	return c.data[key]
}

// AddReferenceHandler registers h and returns a function removing it.
func (c *Context) AddReferenceHandler(h ReferenceHandler) (remove func()) {
	return c.referenceHandlers.add(h)
}

// AddReleaseHandler registers fn to run when the Context is closed, before
// anything is released. The returned function removes it.
func (c *Context) AddReleaseHandler(fn func(*Context)) (remove func()) {
	return c.releaseHandlers.add(fn)
}

// wrap turns a boundary reference into a counted Value.
func (c *Context) wrap(ref native.Ref) (Value, error) {
	v := Value{ctx: c, handle: ref.Handle, typ: Type(ref.Kind)}
	if err := c.addObjRef(v); err != nil {
		_ = v.Close()
		return Undefined, err
	}
	return v, nil
}

func (c *Context) addObjRef(v Value) (err error) {
	c.objectRefs++
	c.iso.objectRefs++
	c.referenceHandlers.each(func(h ReferenceHandler) {
		if err == nil {
			err = h.ReferenceCreated(v)
		}
	})
	return err
}

func (c *Context) releaseObjRef(v Value) {
	c.objectRefs--
	c.iso.objectRefs--
	c.referenceHandlers.each(func(h ReferenceHandler) { h.ReferenceDisposed(v) })
}

// weakReferenceReleased is told by the engine that the object behind a weak
// Value was collected. Failures are logged and dropped.
func (c *Context) weakReferenceReleased(h native.Handle) {
	v, ok := c.weak[h]
	if !ok {
		return
	}
	delete(c.weak, h)
	c.iso.weakRefs--

	defer func() {
		if r := recover(); r != nil {
			c.iso.logger.Warn("weak reference release panicked", zap.Any("panic", r))
		}
	}()
	if err := v.Close(); err != nil {
		c.iso.logger.Warn("weak reference release failed", zap.Error(err))
	}
}

// boundary maps a host argument onto the engine boundary. Values of another
// Isolate are a programming error and panic.
func (c *Context) boundary(arg any) (any, error) {
	switch x := arg.(type) {
	case Value:
		if x.ctx == nil {
			return native.Undefined, nil
		}
		c.iso.checkRuntime(x)
		if x.ctx != c {
			return nil, ErrCrossContext
		}
		if !c.native.Live(x.handle) {
			return nil, ErrReleased
		}
		return native.Ref{Handle: x.handle, Kind: native.Kind(x.typ)}, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			v, err := c.boundary(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			v, err := c.boundary(e)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return arg, nil
}

func (c *Context) boundaryArgs(args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		v, err := c.boundary(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// toHost maps a boundary result onto the host representation.
func (c *Context) toHost(r any) (any, error) {
	switch x := r.(type) {
	case native.Ref:
		return c.wrap(x)
	}
	if r == native.Undefined {
		return Undefined, nil
	}
	return r, nil
}

// takePending returns the error a callback raised during the last call and
// clears it.
func (c *Context) takePending() error {
	if c.pending == nil {
		return nil
	}
	err := c.pending
	c.pending = nil
	return err
}

// finish converts the outcome of an engine call.
func (c *Context) finish(r any, err error) (any, error) {
	if pending := c.takePending(); pending != nil {
		if ref, ok := r.(native.Ref); ok {
			_ = c.native.Free(ref.Handle)
		}
		return nil, pending
	}
	if err != nil {
		return nil, toError(err)
	}
	return c.toHost(r)
}

type ExecOptions struct {
	name string
	line int
}

type ExecOption func(*ExecOptions)

// ScriptName sets the file name reported in errors and stack traces.
func ScriptName(name string) ExecOption {
	return func(o *ExecOptions) {
		o.name = name
	}
}

// LineOffset shifts the line numbers reported for the script.
func LineOffset(line int) ExecOption {
	return func(o *ExecOptions) {
		o.line = line
	}
}

func (c *Context) execute(src string, opts []ExecOption) (any, error) {
	if err := c.checkThread(); err != nil {
		return nil, err
	}
	options := ExecOptions{name: "<input>"}
	for _, fn := range opts {
		fn(&options)
	}
	return c.finish(c.native.Execute(src, options.name, options.line))
}

// ExecuteScript runs src and returns its completion value: Undefined or
// another Value for objects, nil for null, or an int, float64, bool or
// string. A returned Value must be closed.
func (c *Context) ExecuteScript(src string, opts ...ExecOption) (any, error) {
	return c.execute(src, opts)
}

// ExecuteVoidScript runs src and discards its completion value.
func (c *Context) ExecuteVoidScript(src string, opts ...ExecOption) error {
	r, err := c.execute(src, opts)
	if v, ok := r.(Value); ok {
		_ = v.Close()
	}
	return err
}

// ExecuteIntegerScript runs src, which must complete with an integer.
func (c *Context) ExecuteIntegerScript(src string, opts ...ExecOption) (int, error) {
	r, err := c.execute(src, opts)
	if err != nil {
		return 0, err
	}
	return asInteger(r)
}

// ExecuteDoubleScript runs src, which must complete with a number.
func (c *Context) ExecuteDoubleScript(src string, opts ...ExecOption) (float64, error) {
	r, err := c.execute(src, opts)
	if err != nil {
		return 0, err
	}
	return asDouble(r)
}

// ExecuteStringScript runs src, which must complete with a string.
func (c *Context) ExecuteStringScript(src string, opts ...ExecOption) (string, error) {
	r, err := c.execute(src, opts)
	if err != nil {
		return "", err
	}
	return asString(r)
}

// ExecuteBooleanScript runs src, which must complete with a boolean.
func (c *Context) ExecuteBooleanScript(src string, opts ...ExecOption) (bool, error) {
	r, err := c.execute(src, opts)
	if err != nil {
		return false, err
	}
	return asBoolean(r)
}

// ExecuteObjectScript runs src, which must complete with an object of any
// kind, or with undefined or null, both reported as Undefined.
func (c *Context) ExecuteObjectScript(src string, opts ...ExecOption) (Value, error) {
	r, err := c.execute(src, opts)
	if err != nil {
		return Undefined, err
	}
	return asObject(r)
}

// ExecuteArrayScript runs src, which must complete with an array, undefined
// or null.
func (c *Context) ExecuteArrayScript(src string, opts ...ExecOption) (Value, error) {
	r, err := c.execute(src, opts)
	if err != nil {
		return Undefined, err
	}
	return asArray(r)
}

// PumpMessageLoop runs one due timer callback. With wait it blocks until the
// next timer is due. It reports whether a callback ran.
func (c *Context) PumpMessageLoop(wait bool) (bool, error) {
	if err := c.checkThread(); err != nil {
		return false, err
	}
	ran, err := c.native.PumpMessageLoop(wait)
	if pending := c.takePending(); pending != nil {
		return ran, pending
	}
	return ran, toError(err)
}

// IsRunning reports whether timers are still scheduled.
func (c *Context) IsRunning() bool {
	return !c.released && c.native.IsRunning()
}

// NewObject creates an empty object.
func (c *Context) NewObject() (Value, error) {
	if err := c.checkThread(); err != nil {
		return Undefined, err
	}
	ref, err := c.native.NewObject()
	if err != nil {
		return Undefined, toError(err)
	}
	return c.wrap(ref)
}

// NewArray creates an array holding items.
func (c *Context) NewArray(items ...any) (Value, error) {
	if err := c.checkThread(); err != nil {
		return Undefined, err
	}
	vals, err := c.boundaryArgs(items)
	if err != nil {
		return Undefined, err
	}
	ref, err := c.native.NewArray(vals)
	if err != nil {
		return Undefined, toError(err)
	}
	return c.wrap(ref)
}

// NewArrayBuffer creates an ArrayBuffer holding a copy of data.
func (c *Context) NewArrayBuffer(data []byte) (Value, error) {
	if err := c.checkThread(); err != nil {
		return Undefined, err
	}
	ref, err := c.native.NewArrayBuffer(data)
	if err != nil {
		return Undefined, toError(err)
	}
	return c.wrap(ref)
}

// TypedArrayType names a typed array constructor.
type TypedArrayType string

const (
	Int8Array         TypedArrayType = "Int8Array"
	Uint8Array        TypedArrayType = "Uint8Array"
	Uint8ClampedArray TypedArrayType = "Uint8ClampedArray"
	Int16Array        TypedArrayType = "Int16Array"
	Uint16Array       TypedArrayType = "Uint16Array"
	Int32Array        TypedArrayType = "Int32Array"
	Uint32Array       TypedArrayType = "Uint32Array"
	Float32Array      TypedArrayType = "Float32Array"
	Float64Array      TypedArrayType = "Float64Array"
)

// NewTypedArray creates a view of length elements over buffer, starting at
// byte offset.
func (c *Context) NewTypedArray(typ TypedArrayType, buffer Value, offset, length int) (Value, error) {
	if err := c.checkThread(); err != nil {
		return Undefined, err
	}
	b, err := c.boundary(buffer)
	if err != nil {
		return Undefined, err
	}
	ref, ok := b.(native.Ref)
	if !ok || ref.Kind != native.KindArrayBuffer {
		return Undefined, fmt.Errorf("jsisolate: %s needs an ArrayBuffer, got %s", typ, buffer.Type())
	}
	r, err := c.native.NewTypedArray(string(typ), ref.Handle, offset, length)
	if err != nil {
		return Undefined, toError(err)
	}
	return c.wrap(r)
}

// Marshal converts Go data into a script value. Maps, structs and slices
// become objects and arrays, []byte becomes an ArrayBuffer.
func (c *Context) Marshal(v any) (any, error) {
	if err := c.checkThread(); err != nil {
		return nil, err
	}
	b, err := c.boundary(v)
	if err != nil {
		return nil, err
	}
	r, err := c.native.Marshal(b)
	if err != nil {
		return nil, toError(err)
	}
	return c.toHost(r)
}

// Unmarshal stores a script value into target, a non-nil pointer.
func (c *Context) Unmarshal(v any, target any) error {
	if err := c.checkThread(); err != nil {
		return err
	}
	b, err := c.boundary(v)
	if err != nil {
		return err
	}
	return toError(c.native.ExportTo(b, target))
}

// Export converts a script value into plain Go data: int64, float64, bool,
// string, []byte, []any and map[string]any.
func (c *Context) Export(v any) (any, error) {
	if err := c.checkThread(); err != nil {
		return nil, err
	}
	b, err := c.boundary(v)
	if err != nil {
		return nil, err
	}
	r, err := c.native.Export(b)
	return r, toError(err)
}
