package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/buke/jsisolate"
	"github.com/buke/jsisolate/internal/fetch"
)

// runner executes each script on its own Executor.
type runner struct {
	fetcher *fetch.Fetcher
	logger  *zap.Logger
	out     io.Writer
	call    string
	timeout time.Duration
}

func (r *runner) runAll(ctx context.Context, refs []string) error {
	var (
		executors []*jsisolate.Executor
		calls     []*jsisolate.Message
		err       error
	)
	for _, ref := range refs {
		e, m, startErr := r.start(ctx, ref)
		if startErr != nil {
			err = multierr.Append(err, startErr)
			continue
		}
		executors = append(executors, e)
		calls = append(calls, m)
	}

	for i, e := range executors {
		select {
		case <-e.Done():
		case <-ctx.Done():
			r.logger.Info("interrupted, terminating scripts")
			for _, other := range executors {
				other.ForceTermination()
			}
			<-e.Done()
		}
		if e.Err() != nil {
			err = multierr.Append(err, e.Err())
		} else if calls[i] != nil {
			_, callErr := calls[i].Result()
			err = multierr.Append(err, callErr)
		}
	}
	return err
}

func (r *runner) start(ctx context.Context, ref string) (*jsisolate.Executor, *jsisolate.Message, error) {
	u, err := fetch.Resolve(nil, ref)
	if err != nil {
		return nil, nil, err
	}
	src, err := r.fetcher.Fetch(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	name := src.URL.String()
	logger := r.logger.With(zap.String("script", name))
	logger.Info("script loaded", zap.Int("bytes", len(src.Text)), zap.Bool("cached", src.Cached))

	e := jsisolate.NewExecutor(
		jsisolate.WithExecutorLogger(logger),
		jsisolate.WithSetup(func(c *jsisolate.Context) error {
			if err := installHost(c, r.fetcher, src.URL, r.out); err != nil {
				return err
			}
			v, err := c.ExecuteScript(src.Text, jsisolate.ScriptName(name))
			if err != nil {
				return err
			}
			if v, ok := v.(jsisolate.Value); ok {
				_ = v.Close()
			}
			return drain(c)
		}),
		jsisolate.WithExceptionListener(func(m *jsisolate.Message, err error) {
			logger.Info("call failed", zap.String("function", m.Function), zap.Error(err))
		}),
	)
	if err := e.Start(); err != nil {
		return nil, nil, err
	}

	var m *jsisolate.Message
	if r.call != "" {
		m = jsisolate.NewMessage(r.call)
		m.Consumer = func(c *jsisolate.Context, result any) (any, error) {
			s, err := format(c, result)
			if err != nil {
				return nil, err
			}
			if _, err := fmt.Fprintln(r.out, s); err != nil {
				return nil, err
			}
			return nil, drain(c)
		}
		if err := e.Post(m); err != nil {
			return nil, nil, err
		}
	}
	e.Shutdown()

	if r.timeout > 0 {
		timer := time.AfterFunc(r.timeout, func() {
			logger.Info("timeout, terminating script", zap.Duration("timeout", r.timeout))
			e.ForceTermination()
		})
		go func() {
			<-e.Done()
			timer.Stop()
		}()
	}
	return e, m, nil
}
