package jsisolate

import (
	"errors"
	"fmt"

	"github.com/buke/jsisolate/internal/native"
)

// Callback is a host function callable from script code.
//
// receiver and the Values in args are owned by the caller and closed when
// Invoke returns; use Twin to keep one. Arguments that are not objects arrive
// as plain Go values: nil for null, int, float64, bool or string; undefined
// arrives as Undefined.
//
// The result may be nil (undefined), an int, int32, int64, float32, float64,
// bool or string, or an open Value of the same Context, which is closed after
// conversion. A returned error is thrown into the script.
type Callback interface {
	Invoke(receiver Value, args []any) (any, error)
}

// CallbackFunc adapts a function to Callback.
type CallbackFunc func(receiver Value, args []any) (any, error)

func (f CallbackFunc) Invoke(receiver Value, args []any) (any, error) {
	return f(receiver, args)
}

// VoidCallbackFunc adapts a function without result to Callback.
type VoidCallbackFunc func(receiver Value, args []any) error

func (f VoidCallbackFunc) Invoke(receiver Value, args []any) (any, error) {
	return nil, f(receiver, args)
}

// ParamKind declares the type of a Method parameter.
type ParamKind int

const (
	ParamAny ParamKind = iota
	ParamInteger
	ParamDouble
	ParamBoolean
	ParamString
	ParamObject
	ParamArray
	ParamFunction
)

var paramNames = [...]string{
	ParamAny:      "any",
	ParamInteger:  "integer",
	ParamDouble:   "double",
	ParamBoolean:  "boolean",
	ParamString:   "string",
	ParamObject:   "object",
	ParamArray:    "array",
	ParamFunction: "function",
}

func (k ParamKind) String() string {
	if k >= 0 && int(k) < len(paramNames) {
		return paramNames[k]
	}
	return fmt.Sprintf("param(%d)", int(k))
}

// Method is a Callback with a declared signature. Arguments are checked and
// converted before Fn runs:
//
//   - a missing object, array, function or any argument becomes Undefined,
//     any other missing argument rejects the call;
//   - integers are accepted for double parameters and null for object
//     parameters, which then receive Undefined;
//   - with Variadic, the last parameter kind applies to every remaining
//     argument and Fn receives them as one []any;
//   - with IncludeReceiver, the receiver is passed as the first element.
//
// A rejected call throws a TypeError carrying an *ArgumentError.
type Method struct {
	Name            string
	Params          []ParamKind
	Variadic        bool
	IncludeReceiver bool
	Void            bool
	Fn              func(args []any) (any, error)
}

func (m Method) Invoke(receiver Value, args []any) (any, error) {
	in := make([]any, 0, len(m.Params)+1)
	if m.IncludeReceiver {
		in = append(in, receiver)
	}

	fixed := m.Params
	if m.Variadic && len(fixed) > 0 {
		fixed = fixed[:len(fixed)-1]
	}
	for i, kind := range fixed {
		var arg any = Undefined
		supplied := i < len(args)
		if supplied {
			arg = args[i]
		}
		x, err := m.coerce(i, kind, arg, supplied)
		if err != nil {
			return nil, err
		}
		in = append(in, x)
	}

	if m.Variadic {
		kind := ParamAny
		if len(m.Params) > 0 {
			kind = m.Params[len(m.Params)-1]
		}
		rest := []any{}
		for i := len(fixed); i < len(args); i++ {
			x, err := m.coerce(i, kind, args[i], true)
			if err != nil {
				return nil, err
			}
			rest = append(rest, x)
		}
		in = append(in, rest)
	}

	r, err := m.Fn(in)
	if m.Void {
		return nil, err
	}
	return r, err
}

func (m Method) coerce(i int, kind ParamKind, arg any, supplied bool) (any, error) {
	if !supplied {
		switch kind {
		case ParamAny, ParamObject, ParamArray, ParamFunction:
			return Undefined, nil
		}
		return nil, &ArgumentError{Method: m.Name, Index: i, Want: kind}
	}

	switch kind {
	case ParamAny:
		return arg, nil
	case ParamInteger:
		if x, ok := arg.(int); ok {
			return x, nil
		}
	case ParamDouble:
		switch x := arg.(type) {
		case int:
			return float64(x), nil
		case float64:
			return x, nil
		}
	case ParamBoolean:
		if x, ok := arg.(bool); ok {
			return x, nil
		}
	case ParamString:
		if x, ok := arg.(string); ok {
			return x, nil
		}
	case ParamObject, ParamArray, ParamFunction:
		if arg == nil {
			return Undefined, nil
		}
		if v, ok := arg.(Value); ok {
			if v.ctx == nil || kind == ParamObject ||
				(kind == ParamArray && v.typ == TypeArray) ||
				(kind == ParamFunction && v.typ == TypeFunction) {
				return v, nil
			}
		}
	}
	return nil, &ArgumentError{Method: m.Name, Index: i, Want: kind, Got: describe(arg)}
}

func describe(arg any) string {
	switch x := arg.(type) {
	case nil:
		return "null"
	case Value:
		return x.typ.String()
	case int:
		return "integer"
	case float64:
		return "double"
	case bool:
		return "boolean"
	case string:
		return "string"
	}
	return fmt.Sprintf("%T", arg)
}

type callbackDescriptor struct {
	id   uint64
	name string
	cb   Callback
	void bool
}

var errCallbackReleased = errors.New("jsisolate: callback released")

// RegisterCallback defines property name of obj as a script function calling
// cb. An Undefined obj registers on the global object.
func (c *Context) RegisterCallback(obj Value, name string, cb Callback) error {
	return c.register(obj, name, cb, false)
}

// RegisterVoidCallback is RegisterCallback for callbacks whose result is
// discarded; the script always receives undefined.
func (c *Context) RegisterVoidCallback(obj Value, name string, cb Callback) error {
	return c.register(obj, name, cb, true)
}

// RegisterMethod registers m under name, or under m.Name if name is empty.
func (c *Context) RegisterMethod(obj Value, name string, m Method) error {
	if name == "" {
		name = m.Name
	}
	if m.Name == "" {
		m.Name = name
	}
	return c.register(obj, name, m, m.Void)
}

func (c *Context) register(obj Value, name string, cb Callback, void bool) error {
	if err := c.checkThread(); err != nil {
		return err
	}
	if obj.ctx == nil {
		obj = c.global
	}
	b, err := c.boundary(obj)
	if err != nil {
		return err
	}
	ref := b.(native.Ref)

	d := c.newDescriptor(name, cb, void)
	if err := c.native.RegisterFunction(ref.Handle, name, d.id); err != nil {
		delete(c.registry, d.id)
		return toError(err)
	}
	return nil
}

// NewFunction creates a standalone script function calling cb.
func (c *Context) NewFunction(cb Callback) (Value, error) {
	if err := c.checkThread(); err != nil {
		return Undefined, err
	}
	d := c.newDescriptor("", cb, false)
	ref, err := c.native.NewFunction(d.id)
	if err != nil {
		delete(c.registry, d.id)
		return Undefined, toError(err)
	}
	return c.wrap(ref)
}

func (c *Context) newDescriptor(name string, cb Callback, void bool) *callbackDescriptor {
	c.nextMethodID++
	d := &callbackDescriptor{id: c.nextMethodID, name: name, cb: cb, void: void}
	c.registry[d.id] = d
	return d
}

// releaseCallbacks drops every registration. Script functions bound to them
// throw from then on.
func (c *Context) releaseCallbacks() {
	clear(c.registry)
	c.native.ReleaseFunctions()
}

// dispatch runs on the owning thread whenever script code calls a registered
// function. Every Value handed to the callback is closed on the way out, even
// when the callback fails or panics.
func (c *Context) dispatch(id uint64, receiver any, args []any) (any, error) {
	d, ok := c.registry[id]
	if !ok {
		return nil, errCallbackReleased
	}

	var owned []Value
	defer func() {
		for _, v := range owned {
			_ = v.Close()
		}
	}()
	adopt := func(x any) (any, error) {
		if r, ok := x.(native.Ref); ok {
			v, err := c.wrap(r)
			if err != nil {
				return nil, err
			}
			owned = append(owned, v)
			return v, nil
		}
		if x == native.Undefined {
			return Undefined, nil
		}
		return x, nil
	}

	recv := Undefined
	r, err := adopt(receiver)
	if err != nil {
		return nil, err
	}
	if v, ok := r.(Value); ok {
		recv = v
	}
	hostArgs := make([]any, len(args))
	for i, a := range args {
		if hostArgs[i], err = adopt(a); err != nil {
			return nil, err
		}
	}

	result, err := d.cb.Invoke(recv, hostArgs)
	if err != nil {
		var se *ScriptError
		if errors.As(err, &se) {
			c.pending = se
		}
		return nil, err
	}
	if d.void {
		if v, ok := result.(Value); ok {
			_ = v.Close()
		}
		return native.Undefined, nil
	}
	return c.normalize(result)
}

// normalize converts a callback result for the engine.
func (c *Context) normalize(r any) (any, error) {
	switch x := r.(type) {
	case nil:
		return native.Undefined, nil
	case int, int32, int64, float64, bool, string:
		return x, nil
	case float32:
		return float64(x), nil
	case Value:
		if x.ctx == nil {
			return native.Undefined, nil
		}
		c.iso.checkRuntime(x)
		if x.ctx != c {
			return nil, ErrCrossContext
		}
		if x.IsReleased() {
			panic(&InvariantError{Kind: KindReleasedResult, Detail: "callback returned a closed value"})
		}
		p, err := c.native.Pin(x.handle)
		if err != nil {
			return nil, toError(err)
		}
		_ = x.Close()
		return p, nil
	}
	panic(&InvariantError{Kind: KindUnknownReturnType, Detail: fmt.Sprintf("%T", r)})
}
