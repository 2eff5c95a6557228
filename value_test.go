package jsisolate_test

import (
	"testing"
	"time"

	"github.com/buke/jsisolate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteTyped(t *testing.T) {
	iso, c := newIsolate(t)

	i, err := c.ExecuteIntegerScript("6 * 7")
	require.NoError(t, err)
	assert.Equal(t, 42, i)

	d, err := c.ExecuteDoubleScript("2")
	require.NoError(t, err)
	assert.Equal(t, 2.0, d)

	s, err := c.ExecuteStringScript("'a' + 'b'")
	require.NoError(t, err)
	assert.Equal(t, "ab", s)

	b, err := c.ExecuteBooleanScript("1 < 2")
	require.NoError(t, err)
	assert.True(t, b)

	_, err = c.ExecuteIntegerScript("1.5")
	assert.ErrorIs(t, err, jsisolate.ErrResultUndefined)
	_, err = c.ExecuteStringScript("1")
	assert.ErrorIs(t, err, jsisolate.ErrResultUndefined)

	// A mismatched object result is released
	_, err = c.ExecuteArrayScript("({})")
	assert.ErrorIs(t, err, jsisolate.ErrResultUndefined)
	assert.Zero(t, iso.ObjectReferenceCount())

	v, err := c.ExecuteObjectScript("undefined")
	require.NoError(t, err)
	assert.True(t, v.IsUndefined())

	r, err := c.ExecuteScript("null")
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = c.ExecuteScript("[1]")
	require.NoError(t, err)
	arr, ok := r.(jsisolate.Value)
	require.True(t, ok)
	assert.Equal(t, jsisolate.TypeArray, arr.Type())
	require.NoError(t, arr.Close())
}

func TestScriptError(t *testing.T) {
	_, c := newIsolate(t)

	_, err := c.ExecuteScript("\nthrow new TypeError('boom')", jsisolate.ScriptName("throw.js"))
	var se *jsisolate.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "TypeError", se.Name)
	assert.Equal(t, "boom", se.Message)
	assert.Equal(t, "throw.js", se.FileName)
	assert.Equal(t, 2, se.Line)
	assert.Equal(t, "throw new TypeError('boom')", se.SourceLine)
	assert.Contains(t, se.Error(), "TypeError: boom")

	_, err = c.ExecuteScript("throw new Error('x')", jsisolate.ScriptName("offset.js"), jsisolate.LineOffset(4))
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 5, se.Line)

	_, err = c.ExecuteScript("var = ;")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "SyntaxError", se.Name)

	// The context stays usable
	v, err := c.ExecuteIntegerScript("1")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestValueProperties(t *testing.T) {
	iso, c := newIsolate(t)

	obj, err := c.ExecuteObjectScript(`({i: 1, d: 1.5, s: "x", b: true, o: {}, a: [1, "two", 3.5, false, {}]})`)
	require.NoError(t, err)
	defer obj.Close()
	assert.Equal(t, jsisolate.TypeObject, obj.Type())

	i, err := obj.GetInteger("i")
	require.NoError(t, err)
	assert.Equal(t, 1, i)
	d, err := obj.GetDouble("i")
	require.NoError(t, err)
	assert.Equal(t, 1.0, d)
	d, err = obj.GetDouble("d")
	require.NoError(t, err)
	assert.Equal(t, 1.5, d)
	s, err := obj.GetString("s")
	require.NoError(t, err)
	assert.Equal(t, "x", s)
	b, err := obj.GetBoolean("b")
	require.NoError(t, err)
	assert.True(t, b)

	_, err = obj.GetInteger("s")
	assert.ErrorIs(t, err, jsisolate.ErrResultUndefined)

	o, err := obj.GetObject("o")
	require.NoError(t, err)
	assert.Equal(t, jsisolate.TypeObject, o.Type())
	require.NoError(t, o.Close())

	missing, err := obj.GetObject("missing")
	require.NoError(t, err)
	assert.True(t, missing.IsUndefined())

	typ, err := obj.TypeOf("a")
	require.NoError(t, err)
	assert.Equal(t, jsisolate.TypeArray, typ)

	keys, err := obj.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"i", "d", "s", "b", "o", "a"}, keys)

	require.NoError(t, obj.SetNull("n"))
	n, err := obj.Get("n")
	require.NoError(t, err)
	assert.Nil(t, n)

	require.NoError(t, obj.SetUndefined("u"))
	typ, err = obj.TypeOf("u")
	require.NoError(t, err)
	assert.Equal(t, jsisolate.TypeUndefined, typ)

	ok, err := obj.Contains("s")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, obj.Delete("s"))
	ok, err = obj.Contains("s")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.EqualValues(t, 1, iso.ObjectReferenceCount())
}

func TestValueArrays(t *testing.T) {
	iso, c := newIsolate(t)

	obj, err := c.ExecuteObjectScript(`({a: [1, "two", 3.5, false, {}]})`)
	require.NoError(t, err)
	defer obj.Close()

	a, err := obj.GetArray("a")
	require.NoError(t, err)
	defer a.Close()
	assert.True(t, a.IsArray())

	n, err := a.Length()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	i, err := a.IntegerAt(0)
	require.NoError(t, err)
	assert.Equal(t, 1, i)
	s, err := a.StringAt(1)
	require.NoError(t, err)
	assert.Equal(t, "two", s)
	d, err := a.DoubleAt(2)
	require.NoError(t, err)
	assert.Equal(t, 3.5, d)
	b, err := a.BooleanAt(3)
	require.NoError(t, err)
	assert.False(t, b)
	typ, err := a.TypeAt(4)
	require.NoError(t, err)
	assert.Equal(t, jsisolate.TypeObject, typ)
	o, err := a.ObjectAt(4)
	require.NoError(t, err)
	require.NoError(t, o.Close())

	_, err = obj.GetArray("missing")
	require.NoError(t, err)

	list, err := c.NewArray(1, "two")
	require.NoError(t, err)
	defer list.Close()
	require.NoError(t, list.Push(3))
	require.NoError(t, list.SetIndex(0, 10))
	n, err = list.Length()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	v, err := list.GetIndex(0)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	assert.EqualValues(t, 3, iso.ObjectReferenceCount())
}

func TestValueMarshalling(t *testing.T) {
	_, c := newIsolate(t)

	type config struct {
		Port int      `json:"port"`
		Tags []string `json:"tags"`
		Skip string   `json:"-"`
	}
	require.NoError(t, c.Global().Set("cfg", config{Port: 8080, Tags: []string{"a", "b"}, Skip: "x"}))

	port, err := c.ExecuteIntegerScript("cfg.port")
	require.NoError(t, err)
	assert.Equal(t, 8080, port)
	tag, err := c.ExecuteStringScript("cfg.tags[1]")
	require.NoError(t, err)
	assert.Equal(t, "b", tag)
	skipped, err := c.ExecuteBooleanScript("cfg.Skip === undefined && cfg.skip === undefined")
	require.NoError(t, err)
	assert.True(t, skipped)

	v, err := c.Marshal(map[string]any{"n": 1})
	require.NoError(t, err)
	obj := v.(jsisolate.Value)
	defer obj.Close()

	var back struct {
		N int `json:"n"`
	}
	require.NoError(t, c.Unmarshal(obj, &back))
	assert.Equal(t, 1, back.N)

	exported, err := c.Export(obj)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(1)}, exported)
}

func TestValueFunctions(t *testing.T) {
	_, c := newIsolate(t)

	obj, err := c.ExecuteObjectScript(`({
		base: 2,
		mul: function (x) { return this.base * x },
		name: function () { return "n" },
		list: function () { return [1] },
	})`)
	require.NoError(t, err)
	defer obj.Close()

	i, err := obj.ExecuteIntegerFunction("mul", 21)
	require.NoError(t, err)
	assert.Equal(t, 42, i)
	d, err := obj.ExecuteDoubleFunction("mul", 0.25)
	require.NoError(t, err)
	assert.Equal(t, 0.5, d)
	s, err := obj.ExecuteStringFunction("name")
	require.NoError(t, err)
	assert.Equal(t, "n", s)
	list, err := obj.ExecuteArrayFunction("list")
	require.NoError(t, err)
	require.NoError(t, list.Close())
	require.NoError(t, obj.ExecuteVoidFunction("mul", 1))

	_, err = obj.ExecuteFunction("missing")
	var se *jsisolate.ScriptError
	assert.ErrorAs(t, err, &se)

	mul, err := obj.GetObject("mul")
	require.NoError(t, err)
	defer mul.Close()
	assert.True(t, mul.IsFunction())
	r, err := mul.Call(obj, 5)
	require.NoError(t, err)
	assert.Equal(t, 10, r)

	assert.Equal(t, "[object Object]", obj.String())
}

func TestTwinIndependence(t *testing.T) {
	iso, c := newIsolate(t)

	v, err := c.ExecuteObjectScript("({n: 1})")
	require.NoError(t, err)
	twin, err := v.Twin()
	require.NoError(t, err)
	assert.EqualValues(t, 2, iso.ObjectReferenceCount())

	same, err := v.SameValue(twin)
	require.NoError(t, err)
	assert.True(t, same)

	require.NoError(t, v.Close())
	assert.True(t, v.IsReleased())
	assert.False(t, twin.IsReleased())

	require.NoError(t, twin.Set("n", 2))
	n, err := twin.GetInteger("n")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = v.Get("n")
	assert.ErrorIs(t, err, jsisolate.ErrReleased)

	require.NoError(t, twin.Close())
	assert.Zero(t, iso.ObjectReferenceCount())
}

func TestValueEquality(t *testing.T) {
	_, c := newIsolate(t)

	a, err := c.ExecuteObjectScript("globalThis.shared = {}")
	require.NoError(t, err)
	defer a.Close()
	b, err := c.Global().GetObject("shared")
	require.NoError(t, err)
	defer b.Close()
	other, err := c.NewObject()
	require.NoError(t, err)
	defer other.Close()

	eq, err := a.StrictEquals(b)
	require.NoError(t, err)
	assert.True(t, eq)
	eq, err = a.Equals(other)
	require.NoError(t, err)
	assert.False(t, eq)
	eq, err = a.SameValue(other)
	require.NoError(t, err)
	assert.False(t, eq)

	eq, err = jsisolate.Undefined.Equals(nil)
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestBuffers(t *testing.T) {
	_, c := newIsolate(t)

	buf, err := c.NewArrayBuffer([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	defer buf.Close()
	assert.Equal(t, jsisolate.TypeArrayBuffer, buf.Type())

	view, err := c.NewTypedArray(jsisolate.Uint8Array, buf, 1, 2)
	require.NoError(t, err)
	defer view.Close()
	assert.Equal(t, jsisolate.TypeTypedArray, view.Type())

	data, err := view.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 3}, data)

	require.NoError(t, c.Global().Set("view", view))
	require.NoError(t, c.ExecuteVoidScript("view[0] = 9"))
	data, err = buf.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 9, 3, 4}, data)

	obj, err := c.NewObject()
	require.NoError(t, err)
	defer obj.Close()
	_, err = c.NewTypedArray(jsisolate.Uint8Array, obj, 0, 1)
	assert.Error(t, err)
	_, err = obj.Bytes()
	assert.Error(t, err)
}

func TestUndefinedIsInert(t *testing.T) {
	u := jsisolate.Undefined
	assert.True(t, u.IsUndefined())
	assert.NoError(t, u.Close())
	assert.NoError(t, u.Close())
	assert.NoError(t, u.SetWeak())
	assert.NoError(t, u.ClearWeak())
	assert.False(t, u.IsReleased())
	assert.Equal(t, "undefined", u.String())
	assert.Equal(t, jsisolate.TypeUndefined, u.Type())

	twin, err := u.Twin()
	require.NoError(t, err)
	assert.True(t, twin.IsUndefined())
}

func TestValuesOfClosedContext(t *testing.T) {
	iso, c := newIsolate(t)

	v, err := c.NewObject()
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.True(t, v.IsReleased())
	assert.NoError(t, v.Close())
	_, err = v.Get("x")
	assert.ErrorIs(t, err, jsisolate.ErrReleased)
	_, err = c.ExecuteScript("1")
	assert.ErrorIs(t, err, jsisolate.ErrReleased)
	assert.Empty(t, iso.Contexts())
}

func TestWeakValues(t *testing.T) {
	iso, c := newIsolate(t)

	// Reachable from the global object, so it cannot be collected
	v, err := c.ExecuteObjectScript("globalThis.kept = {}")
	require.NoError(t, err)
	require.NoError(t, v.SetWeak())
	weak, err := v.IsWeak()
	require.NoError(t, err)
	assert.True(t, weak)
	assert.Zero(t, iso.ObjectReferenceCount())

	require.NoError(t, v.ClearWeak())
	weak, err = v.IsWeak()
	require.NoError(t, err)
	assert.False(t, weak)
	assert.EqualValues(t, 1, iso.ObjectReferenceCount())
	require.NoError(t, v.Close())

	// Weak values still open at teardown are not leaks
	w, err := c.NewObject()
	require.NoError(t, err)
	require.NoError(t, w.SetWeak())
	require.NoError(t, iso.Close())
}

func TestWeakValueCollected(t *testing.T) {
	iso, c := newIsolate(t)

	v, err := c.NewObject()
	require.NoError(t, err)
	require.NoError(t, v.SetWeak())

	deadline := time.Now().Add(5 * time.Second)
	for !v.IsReleased() && time.Now().Before(deadline) {
		require.NoError(t, iso.LowMemoryNotification())
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, v.IsReleased())
	assert.Zero(t, iso.ObjectReferenceCount())
	assert.Zero(t, c.ObjectReferenceCount())
}
