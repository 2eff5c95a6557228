package jsisolate

import (
	"github.com/buke/jsisolate/internal/native"
)

// Type is the type of a script value. The object types are the variants a
// Value can hold.
type Type int

// The order mirrors native.Kind.
const (
	TypeUndefined Type = iota
	TypeNull
	TypeInteger
	TypeDouble
	TypeBoolean
	TypeString
	TypeObject
	TypeArray
	TypeFunction
	TypeArrayBuffer
	TypeTypedArray
)

func (t Type) String() string {
	return native.Kind(t).String()
}

// Value is a host proxy for one script object held through a handle. Values
// are small and copied by value; all copies share the same handle and the
// same released state. Every Value obtained from a Context must be closed
// exactly once, except Undefined.
//
// Script results that are not objects are returned as plain Go values: nil
// for null, int, float64, bool and string.
type Value struct {
	ctx    *Context
	handle native.Handle
	typ    Type
}

// Undefined is the undefined script value. Lifecycle operations on it do
// nothing.
var Undefined Value

// Type returns the variant of v.
func (v Value) Type() Type {
	return v.typ
}

// IsUndefined reports whether v is Undefined.
func (v Value) IsUndefined() bool {
	return v.ctx == nil
}

// IsArray reports whether v is an array.
func (v Value) IsArray() bool { return v.typ == TypeArray }

// IsFunction reports whether v is a function.
func (v Value) IsFunction() bool { return v.typ == TypeFunction }

// Context returns the owning Context, nil for Undefined.
func (v Value) Context() *Context {
	return v.ctx
}

// IsReleased reports whether v was closed, or its Context was.
func (v Value) IsReleased() bool {
	if v.ctx == nil {
		return false
	}
	return v.ctx.released || !v.ctx.native.Live(v.handle)
}

// Close releases v. Closing twice, or closing Undefined, does nothing.
func (v Value) Close() error {
	c := v.ctx
	if c == nil || c.released {
		return nil
	}
	if err := c.iso.checkThread(); err != nil {
		return err
	}
	if v.handle == c.global.handle || !c.native.Live(v.handle) {
		return nil
	}

	if _, ok := c.weak[v.handle]; ok {
		delete(c.weak, v.handle)
		c.iso.weakRefs--
	}
	c.releaseObjRef(v)
	return toError(c.native.Free(v.handle))
}

// Twin returns a second Value for the same script object. Both must be
// closed; the object lives as long as either does.
func (v Value) Twin() (Value, error) {
	if v.ctx == nil {
		return Undefined, nil
	}
	if err := v.check(); err != nil {
		return Undefined, err
	}
	h, err := v.ctx.native.Twin(v.handle)
	if err != nil {
		return Undefined, toError(err)
	}
	return v.ctx.wrap(native.Ref{Handle: h, Kind: native.Kind(v.typ)})
}

// SetWeak lets the engine reclaim the object once nothing else references
// it. v is then closed automatically and must not be used any more.
func (v Value) SetWeak() error {
	if v.ctx == nil {
		return nil
	}
	if err := v.check(); err != nil {
		return err
	}
	c := v.ctx
	if _, ok := c.weak[v.handle]; ok || v.handle == c.global.handle {
		return nil
	}
	if err := c.native.SetWeak(v.handle); err != nil {
		return toError(err)
	}
	c.weak[v.handle] = v
	c.iso.weakRefs++
	return nil
}

// ClearWeak undoes SetWeak; v must be closed explicitly again.
func (v Value) ClearWeak() error {
	if v.ctx == nil {
		return nil
	}
	if err := v.check(); err != nil {
		return err
	}
	c := v.ctx
	if _, ok := c.weak[v.handle]; !ok {
		return nil
	}
	if err := c.native.ClearWeak(v.handle); err != nil {
		return toError(err)
	}
	delete(c.weak, v.handle)
	c.iso.weakRefs--
	return nil
}

// IsWeak reports whether SetWeak is in effect.
func (v Value) IsWeak() (bool, error) {
	if v.ctx == nil {
		return false, nil
	}
	if err := v.check(); err != nil {
		return false, err
	}
	w, err := v.ctx.native.IsWeak(v.handle)
	return w, toError(err)
}

// check verifies thread access and that v is still alive.
func (v Value) check() error {
	if err := v.ctx.checkThread(); err != nil {
		return err
	}
	if !v.ctx.native.Live(v.handle) {
		return ErrReleased
	}
	return nil
}

// String returns the script string conversion of v.
func (v Value) String() string {
	if v.ctx == nil {
		return "undefined"
	}
	if err := v.check(); err != nil {
		return "<" + err.Error() + ">"
	}
	s, err := v.ctx.native.String(v.handle)
	if err != nil {
		return "<" + toError(err).Error() + ">"
	}
	return s
}

// StrictEquals compares with the script === operator.
func (v Value) StrictEquals(other any) (bool, error) {
	return v.equals(other, native.Strict)
}

// Equals compares with the script == operator.
func (v Value) Equals(other any) (bool, error) {
	return v.equals(other, native.Loose)
}

// SameValue reports whether v and other are the same script value. Twins
// are the same value.
func (v Value) SameValue(other any) (bool, error) {
	return v.equals(other, native.SameValue)
}

func (v Value) equals(other any, mode native.EqualityMode) (bool, error) {
	c := v.ctx
	if c == nil {
		if o, ok := other.(Value); ok && o.ctx != nil {
			c = o.ctx
		} else {
			return other == nil || other == Undefined, nil
		}
	}
	if err := c.checkThread(); err != nil {
		return false, err
	}
	a, err := c.boundary(v)
	if err != nil {
		return false, err
	}
	b, err := c.boundary(other)
	if err != nil {
		return false, err
	}
	eq, err := c.native.Equals(a, b, mode)
	return eq, toError(err)
}
