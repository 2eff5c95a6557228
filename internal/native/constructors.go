package native

import (
	"fmt"

	"github.com/dop251/goja"
)

// NewObject creates an empty object.
func (c *Context) NewObject() (Ref, error) {
	if c.released {
		return Ref{}, ErrContextReleased
	}
	return Ref{Handle: c.table.store(c.vm.NewObject(), KindObject), Kind: KindObject}, nil
}

// NewArray creates an array holding items.
func (c *Context) NewArray(items []any) (Ref, error) {
	if c.released {
		return Ref{}, ErrContextReleased
	}
	vals := make([]any, len(items))
	for i, it := range items {
		v, err := c.toEngine(it)
		if err != nil {
			return Ref{}, err
		}
		vals[i] = v
	}
	return Ref{Handle: c.table.store(c.vm.NewArray(vals...), KindArray), Kind: KindArray}, nil
}

// NewArrayBuffer creates an ArrayBuffer holding a copy of data.
func (c *Context) NewArrayBuffer(data []byte) (Ref, error) {
	if c.released {
		return Ref{}, ErrContextReleased
	}
	buf := c.vm.NewArrayBuffer(append([]byte(nil), data...))
	obj := c.vm.ToValue(buf).(*goja.Object)
	return Ref{Handle: c.table.store(obj, KindArrayBuffer), Kind: KindArrayBuffer}, nil
}

// NewTypedArray creates a view of the given constructor (e.g. "Uint8Array")
// over the ArrayBuffer behind buffer.
func (c *Context) NewTypedArray(constructor string, buffer Handle, offset, length int) (Ref, error) {
	buf, err := c.object(buffer)
	if err != nil {
		return Ref{}, err
	}
	ctor := c.vm.Get(constructor)
	if ctor == nil {
		return Ref{}, fmt.Errorf("native: unknown typed array %q", constructor)
	}

	var obj *goja.Object
	err = c.guard(func() error {
		var err error
		obj, err = c.vm.New(ctor, buf, c.vm.ToValue(offset), c.vm.ToValue(length))
		return err
	})
	if err != nil {
		return Ref{}, err
	}
	return Ref{Handle: c.table.store(obj, KindTypedArray), Kind: KindTypedArray}, nil
}

// Bytes returns the backing store of an ArrayBuffer or the viewed range of a
// typed array. The slice aliases engine memory.
func (c *Context) Bytes(h Handle) ([]byte, error) {
	obj, err := c.object(h)
	if err != nil {
		return nil, err
	}
	if buf, ok := obj.Export().(goja.ArrayBuffer); ok {
		return buf.Bytes(), nil
	}

	b := obj.Get("buffer")
	if b == nil {
		return nil, fmt.Errorf("native: value has no backing store")
	}
	buf, ok := b.Export().(goja.ArrayBuffer)
	if !ok {
		return nil, fmt.Errorf("native: value has no backing store")
	}
	off := int(obj.Get("byteOffset").ToInteger())
	n := int(obj.Get("byteLength").ToInteger())
	data := buf.Bytes()
	if off < 0 || n < 0 || off+n > len(data) {
		return nil, fmt.Errorf("native: view out of range")
	}
	return data[off : off+n], nil
}
