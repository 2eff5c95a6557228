package jsisolate

import (
	"context"
	"fmt"
	"sync"
)

// Message is a unit of work for an Executor. Function is a script expression
// evaluating to a function; it is called with Args, which must be plain data
// (numbers, strings, booleans, nil, slices, maps or structs), never Values.
//
// By default the result is exported to plain Go data. Consumer, when set,
// receives the Context and the raw result on the Executor thread and returns
// the value stored instead; a result Value is closed after Consumer returns.
// Completion runs on the Executor thread once the outcome is stored.
type Message struct {
	Function   string
	Args       []any
	Consumer   func(c *Context, result any) (any, error)
	Completion func(m *Message)

	once   sync.Once
	done   chan struct{}
	result any
	err    error
}

// NewMessage creates a message calling fn with args.
func NewMessage(fn string, args ...any) *Message {
	return &Message{Function: fn, Args: args}
}

func (m *Message) doneChan() chan struct{} {
	m.once.Do(func() {
		m.done = make(chan struct{})
	})
	return m.done
}

// Done is closed once the message has been processed or failed.
func (m *Message) Done() <-chan struct{} {
	return m.doneChan()
}

// Wait blocks until the message is done or ctx ends.
func (m *Message) Wait(ctx context.Context) (any, error) {
	select {
	case <-m.doneChan():
		return m.result, m.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome; it is only meaningful after Done is closed.
func (m *Message) Result() (any, error) {
	return m.result, m.err
}

// checkArgs rejects Values anywhere in Args; they cannot leave their Isolate.
func (m *Message) checkArgs() error {
	for i, a := range m.Args {
		if path, ok := findValue(a, ""); ok {
			return &MessageArgError{Index: i, Path: path}
		}
	}
	return nil
}

func findValue(v any, path string) (string, bool) {
	switch x := v.(type) {
	case Value, *Value:
		return path, true
	case []Value:
		if len(x) > 0 {
			return path + "[0]", true
		}
	case []any:
		for i, e := range x {
			if p, ok := findValue(e, fmt.Sprintf("%s[%d]", path, i)); ok {
				return p, true
			}
		}
	case map[string]any:
		for k, e := range x {
			if p, ok := findValue(e, path+"."+k); ok {
				return p, true
			}
		}
	}
	return "", false
}

func (m *Message) complete(result any, err error) {
	m.result, m.err = result, err
	if m.Completion != nil {
		m.Completion(m)
	}
	close(m.doneChan())
}
