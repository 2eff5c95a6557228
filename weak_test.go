package jsisolate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	zapobserver "go.uber.org/zap/zaptest/observer"
)

func TestWeakReleaseIdempotence(t *testing.T) {
	iso := NewIsolate()
	defer iso.Close()
	c, err := iso.CreateContext()
	require.NoError(t, err)

	v, err := c.ExecuteObjectScript("globalThis.kept = {}")
	require.NoError(t, err)
	require.NoError(t, v.SetWeak())

	disposed := 0
	c.AddReferenceHandler(countingHandler{disposed: &disposed})

	c.weakReferenceReleased(v.handle)
	c.weakReferenceReleased(v.handle)

	assert.Equal(t, 1, disposed)
	assert.True(t, v.IsReleased())
	assert.Zero(t, c.objectRefs)
	assert.Zero(t, iso.objectRefs)
	assert.Zero(t, iso.weakRefs)
	assert.Empty(t, c.weak)
}

func TestWeakReleaseSwallowsFailures(t *testing.T) {
	core, logs := zapobserver.New(zap.WarnLevel)
	iso := NewIsolate(WithLogger(zap.New(core)))
	defer iso.Close()
	c, err := iso.CreateContext()
	require.NoError(t, err)

	v, err := c.NewObject()
	require.NoError(t, err)
	require.NoError(t, v.SetWeak())

	c.AddReferenceHandler(panickingHandler{})
	assert.NotPanics(t, func() { c.weakReferenceReleased(v.handle) })
	_, ok := c.weak[v.handle]
	assert.False(t, ok)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "weak reference release panicked", logs.All()[0].Message)
}

type countingHandler struct {
	disposed *int
}

func (h countingHandler) ReferenceCreated(Value) error { return nil }

func (h countingHandler) ReferenceDisposed(Value) { *h.disposed++ }

type panickingHandler struct{}

func (panickingHandler) ReferenceCreated(Value) error { return nil }

func (panickingHandler) ReferenceDisposed(Value) { panic("disposal failed") }
