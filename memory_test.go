package jsisolate_test

import (
	"testing"

	"github.com/buke/jsisolate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryManager(t *testing.T) {
	iso, c := newIsolate(t)

	before, err := c.NewObject()
	require.NoError(t, err)
	defer before.Close()

	m, err := jsisolate.NewMemoryManager(c)
	require.NoError(t, err)

	a, err := c.NewObject()
	require.NoError(t, err)
	b, err := c.ExecuteArrayScript("[1, 2]")
	require.NoError(t, err)
	kept, err := b.Twin()
	require.NoError(t, err)
	_, err = c.NewArray(1, 2, 3)
	require.NoError(t, err)

	n, err := m.ObjectReferenceCount()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, a.Close())
	require.NoError(t, m.Persist(kept))
	n, err = m.ObjectReferenceCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, m.Release())
	assert.True(t, m.IsReleased())
	assert.True(t, b.IsReleased())
	assert.False(t, kept.IsReleased())
	assert.False(t, before.IsReleased())
	assert.EqualValues(t, 2, iso.ObjectReferenceCount())

	_, err = m.ObjectReferenceCount()
	assert.ErrorIs(t, err, jsisolate.ErrReleased)
	assert.ErrorIs(t, m.Persist(kept), jsisolate.ErrReleased)
	require.NoError(t, m.Release())

	// Values created after release are not tracked
	late, err := c.NewObject()
	require.NoError(t, err)
	assert.EqualValues(t, 3, iso.ObjectReferenceCount())
	require.NoError(t, late.Close())
	require.NoError(t, kept.Close())
}

func TestNestedMemoryManagers(t *testing.T) {
	iso, c := newIsolate(t)

	outer, err := jsisolate.NewMemoryManager(c)
	require.NoError(t, err)
	first, err := c.NewObject()
	require.NoError(t, err)

	inner, err := jsisolate.NewMemoryManager(c)
	require.NoError(t, err)
	_, err = c.NewObject()
	require.NoError(t, err)
	_, err = c.NewObject()
	require.NoError(t, err)

	n, err := outer.ObjectReferenceCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, inner.Release())
	n, err = outer.ObjectReferenceCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, first.IsReleased())

	require.NoError(t, outer.Release())
	assert.True(t, first.IsReleased())
	assert.Zero(t, iso.ObjectReferenceCount())
}

func TestMemoryManagerCallbacks(t *testing.T) {
	iso, c := newIsolate(t)

	m, err := jsisolate.NewMemoryManager(c)
	require.NoError(t, err)
	defer m.Release()

	// Callback arguments come and go within the call
	during := 0
	require.NoError(t, c.RegisterVoidCallback(jsisolate.Undefined, "take", jsisolate.VoidCallbackFunc(func(jsisolate.Value, []any) error {
		var err error
		during, err = m.ObjectReferenceCount()
		return err
	})))
	require.NoError(t, c.ExecuteVoidScript("take({})"))
	assert.NotZero(t, during)

	n, err := m.ObjectReferenceCount()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, iso.ObjectReferenceCount())
}

func TestMemoryManagerWrongThread(t *testing.T) {
	_, c := newIsolate(t)

	errs := make(chan error, 1)
	go func() {
		_, err := jsisolate.NewMemoryManager(c)
		errs <- err
	}()
	assert.ErrorIs(t, <-errs, jsisolate.ErrThreadViolation)
}
