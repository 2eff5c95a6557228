package jsisolate_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/buke/jsisolate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentIsolate(t *testing.T) {
	ci, err := jsisolate.NewConcurrentIsolate()
	require.NoError(t, err)

	require.NoError(t, ci.Run(func(c *jsisolate.Context) error {
		return c.ExecuteVoidScript("globalThis.count = 0")
	}))

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				if err := ci.Run(func(c *jsisolate.Context) error {
					return c.ExecuteVoidScript("count++")
				}); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var count int
	require.NoError(t, ci.Run(func(c *jsisolate.Context) error {
		count, err = c.ExecuteIntegerScript("count")
		return err
	}))
	assert.Equal(t, 100, count)

	require.NoError(t, ci.Close())
	require.NoError(t, ci.Close())
	assert.ErrorIs(t, ci.Run(func(*jsisolate.Context) error { return nil }), jsisolate.ErrIsolateClosed)
}

func TestConcurrentIsolateTerminate(t *testing.T) {
	ci, err := jsisolate.NewConcurrentIsolate()
	require.NoError(t, err)
	defer ci.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		ci.TerminateExecution()
	}()
	err = ci.Run(func(c *jsisolate.Context) error {
		return c.ExecuteVoidScript("while (true) {}")
	})
	assert.ErrorIs(t, err, jsisolate.ErrTerminated)

	assert.NoError(t, ci.Run(func(c *jsisolate.Context) error {
		return c.ExecuteVoidScript("1")
	}))
}

func TestIsolateThread(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ok := jsisolate.StartIsolateThread(func(c *jsisolate.Context) error {
		v, err := c.ExecuteObjectScript("({a: 1})")
		if err != nil {
			return err
		}
		return v.Close()
	})
	require.NoError(t, ok.Join(ctx))

	leaky := jsisolate.StartIsolateThread(func(c *jsisolate.Context) error {
		_, err := c.NewObject()
		return err
	})
	var leak *jsisolate.LeakError
	require.ErrorAs(t, leaky.Join(ctx), &leak)
	assert.EqualValues(t, 1, leak.Count)

	failing := jsisolate.StartIsolateThread(func(c *jsisolate.Context) error {
		panic("broken target")
	})
	err := failing.Join(ctx)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "broken target"))
}
