package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/buke/jsisolate"
	"github.com/buke/jsisolate/internal/fetch"
)

// installHost defines print and load in c. load runs a script resolved
// against base in the same Context and returns its completion value.
func installHost(c *jsisolate.Context, f *fetch.Fetcher, base *url.URL, out io.Writer) error {
	err := c.RegisterMethod(jsisolate.Undefined, "", jsisolate.Method{
		Name:     "print",
		Params:   []jsisolate.ParamKind{jsisolate.ParamAny},
		Variadic: true,
		Void:     true,
		Fn: func(args []any) (any, error) {
			rest := args[0].([]any)
			parts := make([]string, len(rest))
			for i, a := range rest {
				s, err := format(c, a)
				if err != nil {
					return nil, err
				}
				parts[i] = s
			}
			_, err := fmt.Fprintln(out, strings.Join(parts, " "))
			return nil, err
		},
	})
	if err != nil {
		return err
	}

	return c.RegisterMethod(jsisolate.Undefined, "", jsisolate.Method{
		Name:   "load",
		Params: []jsisolate.ParamKind{jsisolate.ParamString},
		Fn: func(args []any) (any, error) {
			u, err := fetch.Resolve(base, args[0].(string))
			if err != nil {
				return nil, err
			}
			src, err := f.Fetch(context.Background(), u)
			if err != nil {
				return nil, err
			}
			r, err := c.ExecuteScript(src.Text, jsisolate.ScriptName(src.URL.String()))
			if err != nil {
				return nil, fmt.Errorf("load %s: %w", src.URL, err)
			}
			return r, nil
		},
	})
}

// format renders a script value for display. Objects and arrays are shown as
// JSON, functions by their source.
func format(c *jsisolate.Context, v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case string:
		return x, nil
	case jsisolate.Value:
		if x.IsUndefined() {
			return "undefined", nil
		}
		if x.IsFunction() {
			return x.String(), nil
		}
		data, err := c.Export(x)
		if err != nil {
			return "", err
		}
		b, err := json.Marshal(data)
		if err != nil {
			return x.String(), nil
		}
		return string(b), nil
	}
	return fmt.Sprint(v), nil
}

// drain runs timer callbacks until none is left.
func drain(c *jsisolate.Context) error {
	for c.IsRunning() {
		if _, err := c.PumpMessageLoop(true); err != nil {
			return err
		}
	}
	return nil
}

// syncWriter serializes output of concurrently running scripts.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
