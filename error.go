package jsisolate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/buke/jsisolate/internal/native"
)

var (
	// ErrThreadViolation is returned when an Isolate is used from a thread
	// that does not hold its Locker.
	ErrThreadViolation = errors.New("jsisolate: invalid thread access")

	// ErrIsolateClosed is returned for any use of a closed Isolate. It matches
	// ErrThreadViolation.
	ErrIsolateClosed = fmt.Errorf("%w: isolate closed", ErrThreadViolation)

	// ErrReleased is returned for operations on a closed Value or Context.
	ErrReleased = errors.New("jsisolate: object released")

	// ErrCrossContext is returned when a Value of one Context is used with
	// another Context of the same Isolate.
	ErrCrossContext = errors.New("jsisolate: value belongs to another context")

	// ErrResultUndefined is returned by typed executions whose result has a
	// different type.
	ErrResultUndefined = errors.New("jsisolate: result has unexpected type")

	// ErrTerminated is returned by executions stopped by TerminateExecution.
	ErrTerminated = errors.New("jsisolate: execution terminated")

	// ErrExecutorTerminated fails messages that can no longer run.
	ErrExecutorTerminated = errors.New("jsisolate: executor terminated")
)

// MessageArgError rejects a Message whose arguments carry a Value. Path
// locates the Value inside the argument, e.g. "[2].name".
type MessageArgError struct {
	Index int
	Path  string
}

func (err *MessageArgError) Error() string {
	return fmt.Sprintf("jsisolate: message argument %d%s is a Value", err.Index, err.Path)
}

// ScriptError is a compile or runtime failure raised by script code. The
// Context stays usable after it.
type ScriptError struct {
	Name        string // Error name (e.g., "TypeError", "SyntaxError")
	Message     string
	FileName    string
	Line        int
	StartColumn int
	EndColumn   int
	SourceLine  string
	Stack       string
	Cause       error // host error thrown through a callback
}

// Error implements the error interface.
func (err *ScriptError) Error() string {
	var b strings.Builder
	if err.FileName != "" {
		fmt.Fprintf(&b, "%s:%d: ", err.FileName, err.Line)
	}
	if err.Name != "" {
		b.WriteString(err.Name)
		b.WriteString(": ")
	}
	b.WriteString(err.Message)
	if err.Cause != nil && err.Cause.Error() != err.Message {
		fmt.Fprintf(&b, " (cause: %s)", err.Cause)
	}
	return b.String()
}

func (err *ScriptError) Unwrap() error {
	return err.Cause
}

// LeakError reports Values still alive after an Isolate was torn down.
type LeakError struct {
	Count int64
}

func (err *LeakError) Error() string {
	return fmt.Sprintf("jsisolate: %d Object(s) still exist in isolate", err.Count)
}

// InvariantKind classifies an InvariantError.
type InvariantKind string

const (
	KindCrossRuntime      InvariantKind = "cross_runtime"
	KindReleasedResult    InvariantKind = "released_result"
	KindUnknownReturnType InvariantKind = "unknown_return_type"
)

// InvariantError is raised with panic for programming mistakes that must not
// be handled by ordinary control flow.
type InvariantError struct {
	Kind   InvariantKind
	Detail string
}

func (err *InvariantError) Error() string {
	if err.Detail == "" {
		return "jsisolate: invariant violation: " + string(err.Kind)
	}
	return "jsisolate: invariant violation: " + string(err.Kind) + ": " + err.Detail
}

// Is matches InvariantErrors by kind.
func (err *InvariantError) Is(target error) bool {
	t, ok := target.(*InvariantError)
	return ok && t.Kind == err.Kind
}

// ArgumentError rejects a callback invocation whose arguments do not fit the
// declared parameters. It reaches the script as a TypeError.
type ArgumentError struct {
	Method string
	Index  int
	Want   ParamKind
	Got    string
}

func (err *ArgumentError) Error() string {
	if err.Got == "" {
		return fmt.Sprintf("%s: missing argument %d (%s)", err.Method, err.Index, err.Want)
	}
	return fmt.Sprintf("%s: argument %d: expected %s, got %s", err.Method, err.Index, err.Want, err.Got)
}

// ScriptErrorName makes the engine throw a TypeError.
func (err *ArgumentError) ScriptErrorName() string {
	return "TypeError"
}

// toError maps engine boundary errors onto the package errors.
func toError(err error) error {
	if err == nil {
		return nil
	}
	var ex *native.Exception
	switch {
	case errors.As(err, &ex):
		return &ScriptError{
			Name:        ex.Name,
			Message:     ex.Message,
			FileName:    ex.File,
			Line:        ex.Line,
			StartColumn: ex.StartColumn,
			EndColumn:   ex.EndColumn,
			SourceLine:  ex.SourceLine,
			Stack:       ex.Stack,
			Cause:       ex.Cause,
		}
	case errors.Is(err, native.ErrTerminated):
		return ErrTerminated
	case errors.Is(err, native.ErrStaleHandle), errors.Is(err, native.ErrContextReleased):
		return ErrReleased
	case errors.Is(err, native.ErrIsolateReleased):
		return ErrIsolateClosed
	}
	return err
}
