package native

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/dop251/goja"
)

// Pinned carries an engine value across a handle release. It is produced by
// Pin and accepted wherever a boundary value is expected.
type Pinned struct {
	v goja.Value
}

// Pin resolves h to a value that survives freeing h.
func (c *Context) Pin(h Handle) (Pinned, error) {
	obj, err := c.object(h)
	if err != nil {
		return Pinned{}, err
	}
	return Pinned{v: obj}, nil
}

// fromEngine maps an engine value onto a boundary value. Objects get a new
// handle.
func (c *Context) fromEngine(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) {
		return Undefined
	}
	if goja.IsNull(v) {
		return nil
	}
	if obj, ok := v.(*goja.Object); ok {
		kind := c.objectKind(obj)
		return Ref{Handle: c.table.store(obj, kind), Kind: kind}
	}

	switch x := v.Export().(type) {
	case int64:
		if x >= -1<<31 && x < 1<<31 {
			return int(x)
		}
		return float64(x)
	case float64:
		if isInt32(x) {
			return int(x)
		}
		return x
	case bool:
		return x
	case string:
		return x
	}
	return v.String()
}

// toEngine maps a boundary or plain Go value onto an engine value.
func (c *Context) toEngine(v any) (goja.Value, error) {
	switch x := v.(type) {
	case nil:
		return goja.Null(), nil
	case undefinedValue:
		return goja.Undefined(), nil
	case Ref:
		obj, err := c.object(x.Handle)
		if err != nil {
			return nil, err
		}
		return obj, nil
	case Handle:
		obj, err := c.object(x)
		if err != nil {
			return nil, err
		}
		return obj, nil
	case Pinned:
		if x.v == nil {
			return goja.Undefined(), nil
		}
		return x.v, nil
	case int, int32, int64, float64, bool, string:
		return c.vm.ToValue(x), nil
	case float32:
		return c.vm.ToValue(float64(x)), nil
	}
	return c.marshal(reflect.ValueOf(v))
}

// Marshal converts a Go value into a boundary value. Maps, structs and slices
// become plain engine objects and arrays, []byte becomes an ArrayBuffer.
func (c *Context) Marshal(v any) (any, error) {
	if c.released {
		return nil, ErrContextReleased
	}
	val, err := c.toEngine(v)
	if err != nil {
		return nil, err
	}
	return c.fromEngine(val), nil
}

// Export converts a boundary value into plain Go data: int64, float64, bool,
// string, []byte, []any and map[string]any.
func (c *Context) Export(v any) (any, error) {
	val, err := c.toEngine(v)
	if err != nil {
		return nil, err
	}
	return exportValue(val.Export()), nil
}

// ExportTo stores a boundary value into target, a non-nil pointer.
func (c *Context) ExportTo(v any, target any) error {
	val, err := c.toEngine(v)
	if err != nil {
		return err
	}
	if b, ok := target.(*[]byte); ok {
		if buf, ok := val.Export().(goja.ArrayBuffer); ok {
			*b = append([]byte(nil), buf.Bytes()...)
			return nil
		}
	}
	return c.vm.ExportTo(val, target)
}

func exportValue(v any) any {
	switch x := v.(type) {
	case goja.ArrayBuffer:
		return append([]byte(nil), x.Bytes()...)
	case []any:
		for i := range x {
			x[i] = exportValue(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = exportValue(x[k])
		}
		return x
	}
	return v
}

func (c *Context) marshal(rv reflect.Value) (goja.Value, error) {
	if rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return goja.Null(), nil
	}
	if rv.CanInterface() {
		switch x := rv.Interface().(type) {
		case Ref, Pinned, undefinedValue:
			return c.toEngine(x)
		}
	}

	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return goja.Null(), nil
		}
		return c.marshal(rv.Elem())
	case reflect.Bool:
		return c.vm.ToValue(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return c.vm.ToValue(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return c.vm.ToValue(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return c.vm.ToValue(rv.Float()), nil
	case reflect.String:
		return c.vm.ToValue(rv.String()), nil
	case reflect.Slice:
		if rv.IsNil() {
			return goja.Null(), nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return c.vm.ToValue(c.vm.NewArrayBuffer(append([]byte(nil), rv.Bytes()...))), nil
		}
		return c.marshalList(rv)
	case reflect.Array:
		return c.marshalList(rv)
	case reflect.Map:
		return c.marshalMap(rv)
	case reflect.Struct:
		return c.marshalStruct(rv)
	}
	return nil, fmt.Errorf("native: unsupported type %v", rv.Type())
}

func (c *Context) marshalList(rv reflect.Value) (goja.Value, error) {
	items := make([]any, rv.Len())
	for i := range items {
		v, err := c.marshal(rv.Index(i))
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	return c.vm.NewArray(items...), nil
}

func (c *Context) marshalMap(rv reflect.Value) (goja.Value, error) {
	obj := c.vm.NewObject()
	iter := rv.MapRange()
	for iter.Next() {
		v, err := c.marshal(iter.Value())
		if err != nil {
			return nil, err
		}
		if err := obj.Set(fmt.Sprint(iter.Key().Interface()), v); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func (c *Context) marshalStruct(rv reflect.Value) (goja.Value, error) {
	rt := rv.Type()
	obj := c.vm.NewObject()
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name, skip := fieldName(field)
		if skip {
			continue
		}
		v, err := c.marshal(rv.Field(i))
		if err != nil {
			return nil, err
		}
		if err := obj.Set(name, v); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// fieldName honours the js tag first, then json.
func fieldName(field reflect.StructField) (string, bool) {
	for _, key := range []string{"js", "json"} {
		tag := field.Tag.Get(key)
		if tag == "" {
			continue
		}
		if tag == "-" {
			return "", true
		}
		if idx := strings.Index(tag, ","); idx != -1 {
			tag = tag[:idx]
		}
		if tag != "" {
			return tag, false
		}
	}
	return field.Name, false
}
