package jsisolate

import (
	"fmt"

	"github.com/buke/jsisolate/internal/native"
)

// Object, array and function operations of Value. Primitive results are
// returned as plain Go values, objects as Values the caller must close.

func (v Value) get(key string) (any, error) {
	if v.ctx == nil {
		return nil, ErrReleased
	}
	if err := v.check(); err != nil {
		return nil, err
	}
	r, err := v.ctx.native.Get(v.handle, key)
	return v.ctx.finish(r, err)
}

// Get returns property key.
func (v Value) Get(key string) (any, error) {
	return v.get(key)
}

// GetInteger returns property key, which must be an integer.
func (v Value) GetInteger(key string) (int, error) {
	r, err := v.get(key)
	if err != nil {
		return 0, err
	}
	return asInteger(r)
}

// GetDouble returns property key, which must be a number.
func (v Value) GetDouble(key string) (float64, error) {
	r, err := v.get(key)
	if err != nil {
		return 0, err
	}
	return asDouble(r)
}

// GetString returns property key, which must be a string.
func (v Value) GetString(key string) (string, error) {
	r, err := v.get(key)
	if err != nil {
		return "", err
	}
	return asString(r)
}

// GetBoolean returns property key, which must be a boolean.
func (v Value) GetBoolean(key string) (bool, error) {
	r, err := v.get(key)
	if err != nil {
		return false, err
	}
	return asBoolean(r)
}

// GetObject returns property key, which must be an object, undefined or null.
func (v Value) GetObject(key string) (Value, error) {
	r, err := v.get(key)
	if err != nil {
		return Undefined, err
	}
	return asObject(r)
}

// GetArray returns property key, which must be an array, undefined or null.
func (v Value) GetArray(key string) (Value, error) {
	r, err := v.get(key)
	if err != nil {
		return Undefined, err
	}
	return asArray(r)
}

// Set writes property key. val may be a Value of the same Context, nil for
// null, or Go data converted with Marshal.
func (v Value) Set(key string, val any) error {
	if v.ctx == nil {
		return ErrReleased
	}
	if err := v.check(); err != nil {
		return err
	}
	b, err := v.ctx.boundary(val)
	if err != nil {
		return err
	}
	return v.ctx.settle(v.ctx.native.Set(v.handle, key, b))
}

// SetUndefined sets property key to undefined.
func (v Value) SetUndefined(key string) error {
	return v.Set(key, Undefined)
}

// SetNull sets property key to null.
func (v Value) SetNull(key string) error {
	return v.Set(key, nil)
}

// Delete removes property key.
func (v Value) Delete(key string) error {
	if v.ctx == nil {
		return ErrReleased
	}
	if err := v.check(); err != nil {
		return err
	}
	return v.ctx.settle(v.ctx.native.Delete(v.handle, key))
}

// Contains reports whether key resolves on v or its prototype chain.
func (v Value) Contains(key string) (bool, error) {
	if v.ctx == nil {
		return false, nil
	}
	if err := v.check(); err != nil {
		return false, err
	}
	ok, err := v.ctx.native.Contains(v.handle, key)
	return ok, toError(err)
}

// Keys returns the own enumerable property names.
func (v Value) Keys() ([]string, error) {
	if v.ctx == nil {
		return nil, nil
	}
	if err := v.check(); err != nil {
		return nil, err
	}
	keys, err := v.ctx.native.Keys(v.handle)
	return keys, toError(err)
}

// TypeOf returns the type of property key without creating a Value.
func (v Value) TypeOf(key string) (Type, error) {
	if v.ctx == nil {
		return TypeUndefined, nil
	}
	if err := v.check(); err != nil {
		return TypeUndefined, err
	}
	k, err := v.ctx.native.TypeOf(v.handle, key)
	return Type(k), toError(err)
}

// Length returns the length of an array or typed array.
func (v Value) Length() (int, error) {
	if v.ctx == nil {
		return 0, nil
	}
	if err := v.check(); err != nil {
		return 0, err
	}
	n, err := v.ctx.native.Length(v.handle)
	return n, toError(err)
}

func (v Value) at(i int) (any, error) {
	if v.ctx == nil {
		return nil, ErrReleased
	}
	if err := v.check(); err != nil {
		return nil, err
	}
	r, err := v.ctx.native.GetIndex(v.handle, i)
	return v.ctx.finish(r, err)
}

// GetIndex returns element i.
func (v Value) GetIndex(i int) (any, error) {
	return v.at(i)
}

// IntegerAt returns element i, which must be an integer.
func (v Value) IntegerAt(i int) (int, error) {
	r, err := v.at(i)
	if err != nil {
		return 0, err
	}
	return asInteger(r)
}

// DoubleAt returns element i, which must be a number.
func (v Value) DoubleAt(i int) (float64, error) {
	r, err := v.at(i)
	if err != nil {
		return 0, err
	}
	return asDouble(r)
}

// StringAt returns element i, which must be a string.
func (v Value) StringAt(i int) (string, error) {
	r, err := v.at(i)
	if err != nil {
		return "", err
	}
	return asString(r)
}

// BooleanAt returns element i, which must be a boolean.
func (v Value) BooleanAt(i int) (bool, error) {
	r, err := v.at(i)
	if err != nil {
		return false, err
	}
	return asBoolean(r)
}

// ObjectAt returns element i, which must be an object, undefined or null.
func (v Value) ObjectAt(i int) (Value, error) {
	r, err := v.at(i)
	if err != nil {
		return Undefined, err
	}
	return asObject(r)
}

// TypeAt returns the type of element i.
func (v Value) TypeAt(i int) (Type, error) {
	if v.ctx == nil {
		return TypeUndefined, nil
	}
	if err := v.check(); err != nil {
		return TypeUndefined, err
	}
	k, err := v.ctx.native.TypeAt(v.handle, i)
	return Type(k), toError(err)
}

// SetIndex writes element i.
func (v Value) SetIndex(i int, val any) error {
	if v.ctx == nil {
		return ErrReleased
	}
	if err := v.check(); err != nil {
		return err
	}
	b, err := v.ctx.boundary(val)
	if err != nil {
		return err
	}
	return v.ctx.settle(v.ctx.native.SetIndex(v.handle, i, b))
}

// Push appends val to an array.
func (v Value) Push(val any) error {
	if v.ctx == nil {
		return ErrReleased
	}
	if err := v.check(); err != nil {
		return err
	}
	b, err := v.ctx.boundary(val)
	if err != nil {
		return err
	}
	return v.ctx.settle(v.ctx.native.Push(v.handle, b))
}

// Bytes returns the contents of an ArrayBuffer or the viewed range of a
// typed array. The slice shares memory with the script value and is valid
// while v is open.
func (v Value) Bytes() ([]byte, error) {
	if v.typ != TypeArrayBuffer && v.typ != TypeTypedArray {
		return nil, fmt.Errorf("jsisolate: %s has no backing store", v.typ)
	}
	if err := v.check(); err != nil {
		return nil, err
	}
	b, err := v.ctx.native.Bytes(v.handle)
	return b, toError(err)
}

// Call calls v, a function, with receiver as this. receiver may be
// Undefined.
func (v Value) Call(receiver any, args ...any) (any, error) {
	if v.ctx == nil {
		return nil, ErrReleased
	}
	if err := v.check(); err != nil {
		return nil, err
	}
	c := v.ctx
	this, err := c.boundary(receiver)
	if err != nil {
		return nil, err
	}
	vals, err := c.boundaryArgs(args)
	if err != nil {
		return nil, err
	}
	return c.finish(c.native.Call(v.handle, this, vals))
}

// ExecuteFunction calls the method name of v with v as receiver.
func (v Value) ExecuteFunction(name string, args ...any) (any, error) {
	if v.ctx == nil {
		return nil, ErrReleased
	}
	if err := v.check(); err != nil {
		return nil, err
	}
	c := v.ctx
	vals, err := c.boundaryArgs(args)
	if err != nil {
		return nil, err
	}
	return c.finish(c.native.Invoke(v.handle, name, vals))
}

// ExecuteVoidFunction is ExecuteFunction discarding the result.
func (v Value) ExecuteVoidFunction(name string, args ...any) error {
	r, err := v.ExecuteFunction(name, args...)
	if x, ok := r.(Value); ok {
		_ = x.Close()
	}
	return err
}

// ExecuteIntegerFunction is ExecuteFunction for an integer result.
func (v Value) ExecuteIntegerFunction(name string, args ...any) (int, error) {
	r, err := v.ExecuteFunction(name, args...)
	if err != nil {
		return 0, err
	}
	return asInteger(r)
}

// ExecuteDoubleFunction is ExecuteFunction for a numeric result.
func (v Value) ExecuteDoubleFunction(name string, args ...any) (float64, error) {
	r, err := v.ExecuteFunction(name, args...)
	if err != nil {
		return 0, err
	}
	return asDouble(r)
}

// ExecuteStringFunction is ExecuteFunction for a string result.
func (v Value) ExecuteStringFunction(name string, args ...any) (string, error) {
	r, err := v.ExecuteFunction(name, args...)
	if err != nil {
		return "", err
	}
	return asString(r)
}

// ExecuteBooleanFunction is ExecuteFunction for a boolean result.
func (v Value) ExecuteBooleanFunction(name string, args ...any) (bool, error) {
	r, err := v.ExecuteFunction(name, args...)
	if err != nil {
		return false, err
	}
	return asBoolean(r)
}

// ExecuteObjectFunction is ExecuteFunction for an object result.
func (v Value) ExecuteObjectFunction(name string, args ...any) (Value, error) {
	r, err := v.ExecuteFunction(name, args...)
	if err != nil {
		return Undefined, err
	}
	return asObject(r)
}

// ExecuteArrayFunction is ExecuteFunction for an array result.
func (v Value) ExecuteArrayFunction(name string, args ...any) (Value, error) {
	r, err := v.ExecuteFunction(name, args...)
	if err != nil {
		return Undefined, err
	}
	return asArray(r)
}

// settle maps the outcome of an operation that may run script code, such as
// a setter, and has no result.
func (c *Context) settle(err error) error {
	_, err = c.finish(native.Undefined, err)
	return err
}

// Typed result conversions. A result of the wrong type fails with
// ErrResultUndefined; a Value result is closed first.

func mismatch(r any) error {
	if v, ok := r.(Value); ok {
		_ = v.Close()
	}
	return ErrResultUndefined
}

func asInteger(r any) (int, error) {
	if i, ok := r.(int); ok {
		return i, nil
	}
	return 0, mismatch(r)
}

func asDouble(r any) (float64, error) {
	switch x := r.(type) {
	case int:
		return float64(x), nil
	case float64:
		return x, nil
	}
	return 0, mismatch(r)
}

func asString(r any) (string, error) {
	if s, ok := r.(string); ok {
		return s, nil
	}
	return "", mismatch(r)
}

func asBoolean(r any) (bool, error) {
	if b, ok := r.(bool); ok {
		return b, nil
	}
	return false, mismatch(r)
}

func asObject(r any) (Value, error) {
	if r == nil {
		return Undefined, nil
	}
	if v, ok := r.(Value); ok {
		return v, nil
	}
	return Undefined, mismatch(r)
}

func asArray(r any) (Value, error) {
	if r == nil {
		return Undefined, nil
	}
	if v, ok := r.(Value); ok && (v.ctx == nil || v.typ == TypeArray) {
		return v, nil
	}
	return Undefined, mismatch(r)
}
