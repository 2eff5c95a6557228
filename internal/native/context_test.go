package native_test

import (
	"errors"
	"testing"
	"time"

	"github.com/buke/jsisolate/internal/native"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext(t *testing.T) *native.Context {
	t.Helper()
	iso := native.NewIsolate(native.Config{})
	t.Cleanup(iso.Release)
	c, err := iso.NewContext("")
	require.NoError(t, err)
	return c
}

func TestExecutePrimitives(t *testing.T) {
	c := newContext(t)

	tests := []struct {
		src  string
		want any
	}{
		{`1 + 1`, 2},
		{`1.5 * 2`, 3},
		{`0.5`, 0.5},
		{`"hello"`, "hello"},
		{`true`, true},
		{`null`, nil},
		{`undefined`, native.Undefined},
		{`4294967296`, float64(4294967296)},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := c.Execute(tt.src, "test.js", 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecuteObjectKinds(t *testing.T) {
	c := newContext(t)

	tests := []struct {
		src  string
		kind native.Kind
	}{
		{`({})`, native.KindObject},
		{`[1, 2, 3]`, native.KindArray},
		{`(function () {})`, native.KindFunction},
		{`new ArrayBuffer(8)`, native.KindArrayBuffer},
		{`new Uint8Array(4)`, native.KindTypedArray},
		{`new DataView(new ArrayBuffer(2))`, native.KindObject},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := c.Execute(tt.src, "test.js", 0)
			require.NoError(t, err)
			ref, ok := got.(native.Ref)
			require.True(t, ok)
			assert.Equal(t, tt.kind, ref.Kind)
			require.NoError(t, c.Free(ref.Handle))
		})
	}
	assert.Equal(t, 1, c.HandleCount()) // global object only
}

func TestExecuteErrors(t *testing.T) {
	c := newContext(t)

	_, err := c.Execute("var x = ;", "bad.js", 0)
	var ex *native.Exception
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, "SyntaxError", ex.Name)

	_, err = c.Execute("\nthrow new TypeError('boom')", "throw.js", 0)
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, "TypeError", ex.Name)
	assert.Equal(t, "boom", ex.Message)
	assert.Equal(t, "throw.js", ex.File)
	assert.Equal(t, 2, ex.Line)
	assert.Equal(t, "throw new TypeError('boom')", ex.SourceLine)

	// Line offsets shift reported lines
	_, err = c.Execute("throw new Error('x')", "offset.js", 9)
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 10, ex.Line)

	// The context stays usable after a script error
	v, err := c.Execute("40 + 2", "ok.js", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestPropertiesAndArrays(t *testing.T) {
	c := newContext(t)

	obj, err := c.Marshal(map[string]any{"a": 1, "b": "two"})
	require.NoError(t, err)
	h := obj.(native.Ref).Handle

	v, err := c.Get(h, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, c.Set(h, "c", true))
	ok, err := c.Contains(h, "c")
	require.NoError(t, err)
	assert.True(t, ok)

	kind, err := c.TypeOf(h, "b")
	require.NoError(t, err)
	assert.Equal(t, native.KindString, kind)

	keys, err := c.Keys(h)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, keys)

	require.NoError(t, c.Delete(h, "c"))
	ok, err = c.Contains(h, "c")
	require.NoError(t, err)
	assert.False(t, ok)

	arr, err := c.Execute("[1, 2]", "arr.js", 0)
	require.NoError(t, err)
	ah := arr.(native.Ref).Handle
	require.NoError(t, c.Push(ah, 3))
	n, err := c.Length(ah)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	v, err = c.GetIndex(ah, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestTwinAndFree(t *testing.T) {
	c := newContext(t)

	v, err := c.Execute("({n: 1})", "twin.js", 0)
	require.NoError(t, err)
	h := v.(native.Ref).Handle

	twin, err := c.Twin(h)
	require.NoError(t, err)
	require.NotEqual(t, h, twin)

	require.NoError(t, c.Free(h))
	require.NoError(t, c.Set(twin, "n", 2))
	got, err := c.Get(twin, "n")
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	assert.ErrorIs(t, c.Free(h), native.ErrStaleHandle)
	require.NoError(t, c.Free(twin))
}

func TestHostFunctions(t *testing.T) {
	c := newContext(t)

	var seen []any
	c.SetDispatcher(func(id uint64, receiver any, args []any) (any, error) {
		seen = args
		switch id {
		case 1:
			return args[0].(int) + args[1].(int), nil
		default:
			return nil, errors.New("nope")
		}
	})
	require.NoError(t, c.RegisterFunction(c.Global(), "add", 1))
	require.NoError(t, c.RegisterFunction(c.Global(), "fail", 2))

	v, err := c.Execute("add(2, 3)", "fn.js", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.Equal(t, []any{2, 3}, seen)

	v, err = c.Execute("try { fail() } catch (e) { e.message }", "fn.js", 0)
	require.NoError(t, err)
	assert.Equal(t, "nope", v)

	c.ReleaseFunctions()
	_, err = c.Execute("add(1, 1)", "fn.js", 0)
	require.Error(t, err)
}

func TestTerminateExecution(t *testing.T) {
	iso := native.NewIsolate(native.Config{})
	defer iso.Release()
	c, err := iso.NewContext("")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		iso.TerminateExecution()
	}()
	_, err = c.Execute("while (true) {}", "loop.js", 0)
	assert.ErrorIs(t, err, native.ErrTerminated)

	// The context can run again once the interrupted script unwound
	v, err := c.Execute("1", "after.js", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestMessageLoop(t *testing.T) {
	c := newContext(t)

	_, err := c.Execute(`
		var order = [];
		setTimeout(function () { order.push("b") }, 20);
		setTimeout(function () { order.push("a") }, 0);
		var id = setTimeout(function () { order.push("never") }, 10);
		clearTimeout(id);
	`, "loop.js", 0)
	require.NoError(t, err)
	require.True(t, c.IsRunning())

	for c.IsRunning() {
		_, err := c.PumpMessageLoop(true)
		require.NoError(t, err)
	}

	v, err := c.Execute("order.join(',')", "loop.js", 0)
	require.NoError(t, err)
	assert.Equal(t, "a,b", v)
}

func TestWeakHandles(t *testing.T) {
	c := newContext(t)

	v, err := c.Execute("({})", "weak.js", 0)
	require.NoError(t, err)
	h := v.(native.Ref).Handle

	require.NoError(t, c.SetWeak(h))
	weak, err := c.IsWeak(h)
	require.NoError(t, err)
	assert.True(t, weak)

	// A weak handle whose object is still alive can be made strong again
	if err := c.ClearWeak(h); err == nil {
		weak, err = c.IsWeak(h)
		require.NoError(t, err)
		assert.False(t, weak)
	}
	require.NoError(t, c.Free(h))
}

func TestClosedContext(t *testing.T) {
	c := newContext(t)
	c.Close()
	c.Close()

	_, err := c.Execute("1", "closed.js", 0)
	assert.ErrorIs(t, err, native.ErrContextReleased)
	assert.False(t, c.Live(c.Global()))
	assert.False(t, c.IsRunning())
}
