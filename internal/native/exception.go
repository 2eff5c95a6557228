package native

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// Exception is a compile or runtime failure reported by the engine.
type Exception struct {
	Name        string // Error name (e.g., "TypeError", "SyntaxError")
	Message     string
	File        string
	Line        int
	StartColumn int
	EndColumn   int
	Stack       string
	SourceLine  string
	Cause       error // host error thrown through a callback, if any
}

func (e *Exception) Error() string {
	var b strings.Builder
	if e.File != "" {
		fmt.Fprintf(&b, "%s:%d: ", e.File, e.Line)
	}
	if e.Name != "" {
		b.WriteString(e.Name)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

func (e *Exception) Unwrap() error {
	return e.Cause
}

// framePattern matches the innermost "file:line:column(pc)" stack frame.
var framePattern = regexp.MustCompile(`at (?:[^\n]*? \()?([^\s()]+):(\d+):(\d+)\(\d+\)`)

// syntaxPattern matches the parser's "file: Line l:c message" report.
var syntaxPattern = regexp.MustCompile(`^(.*?): Line (\d+):(\d+) (.*)`)

// exception converts an engine failure into an *Exception.
func (c *Context) exception(err error) error {
	switch x := err.(type) {
	case *Exception:
		return x
	case *goja.Exception:
		return c.runtimeException(x)
	case *goja.CompilerSyntaxError:
		e := &Exception{Name: "SyntaxError", Message: x.Message, Stack: x.Error()}
		if x.File != nil {
			pos := x.File.Position(x.Offset)
			e.File, e.Line = pos.Filename, pos.Line
			e.StartColumn, e.EndColumn = pos.Column-1, pos.Column
			e.SourceLine = sourceLine(c.sources[pos.Filename], pos.Line)
		} else if m := syntaxPattern.FindStringSubmatch(x.Message); m != nil {
			e.File, e.Message = m[1], m[4]
			e.Line, _ = strconv.Atoi(m[2])
			col, _ := strconv.Atoi(m[3])
			e.StartColumn, e.EndColumn = col-1, col
			e.SourceLine = sourceLine(c.sources[e.File], e.Line)
		}
		return e
	case *goja.CompilerReferenceError:
		return &Exception{Name: "ReferenceError", Message: x.Message, Stack: x.Error()}
	}
	return &Exception{Name: "Error", Message: err.Error(), Cause: err}
}

func (c *Context) runtimeException(x *goja.Exception) *Exception {
	e := &Exception{Stack: x.String()}

	val := x.Value()
	if obj, ok := val.(*goja.Object); ok {
		if n := obj.Get("name"); n != nil && !goja.IsUndefined(n) {
			e.Name = n.String()
		}
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
			e.Message = m.String()
		} else {
			e.Message = obj.String()
		}
		if v := obj.Get("value"); v != nil {
			if cause, ok := v.Export().(error); ok {
				e.Cause = cause
			}
		}
	} else if val != nil {
		e.Message = val.String()
	}

	if m := framePattern.FindStringSubmatch(e.Stack); m != nil {
		e.File = m[1]
		e.Line, _ = strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		e.StartColumn, e.EndColumn = col-1, col
		e.SourceLine = sourceLine(c.sources[e.File], e.Line)
	}
	return e
}

func sourceLine(src string, line int) string {
	if line <= 0 || src == "" {
		return ""
	}
	lines := strings.Split(src, "\n")
	if line > len(lines) {
		return ""
	}
	return strings.TrimRight(lines[line-1], "\r")
}
