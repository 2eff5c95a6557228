/*
Package native is the engine boundary of jsisolate. It owns the engine heaps
(one goja runtime per context), the handle arena that identifies engine values
held by the host, weak reference bookkeeping and the per-context timer loop.

Nothing in this package checks thread affinity. Callers must serialize access to
an Isolate and everything it owns; only Isolate.TerminateExecution may be called
concurrently.
*/
package native

import (
	"errors"
	"fmt"
)

// Handle identifies one engine value held by the host. The low 32 bits carry
// the arena index plus one, the high 32 bits the slot generation. Zero is never
// a valid handle.
type Handle uint64

func makeHandle(index uint32, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index+1))
}

func (h Handle) index() uint32 { return uint32(h&0xffffffff) - 1 }

func (h Handle) generation() uint32 { return uint32(h >> 32) }

// Kind is the engine type of a value crossing the boundary.
type Kind int

const (
	KindUndefined Kind = iota
	KindNull
	KindInteger
	KindDouble
	KindBoolean
	KindString
	KindObject
	KindArray
	KindFunction
	KindArrayBuffer
	KindTypedArray
)

var kindNames = [...]string{
	KindUndefined:   "undefined",
	KindNull:        "null",
	KindInteger:     "integer",
	KindDouble:      "double",
	KindBoolean:     "boolean",
	KindString:      "string",
	KindObject:      "object",
	KindArray:       "array",
	KindFunction:    "function",
	KindArrayBuffer: "arraybuffer",
	KindTypedArray:  "typedarray",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsObject reports whether values of this kind are held through a Handle.
func (k Kind) IsObject() bool {
	return k >= KindObject
}

// Ref is an engine object crossing the boundary. Every Ref returned by this
// package owns a fresh handle that the receiver must release.
type Ref struct {
	Handle Handle
	Kind   Kind
}

type undefinedValue struct{}

// Undefined is the host representation of the engine's undefined value.
// A nil interface stands for null.
var Undefined = undefinedValue{}

var (
	// ErrStaleHandle is returned for a handle that was released or never existed.
	ErrStaleHandle = errors.New("native: stale handle")
	// ErrContextReleased is returned by every operation on a released context.
	ErrContextReleased = errors.New("native: context released")
	// ErrIsolateReleased is returned when creating contexts on a released isolate.
	ErrIsolateReleased = errors.New("native: isolate released")
	// ErrTerminated is returned by an execution stopped by TerminateExecution.
	ErrTerminated = errors.New("native: execution terminated")
)

// Config holds isolate wide engine settings.
type Config struct {
	// MaxCallStackSize bounds script recursion; zero keeps the engine default.
	MaxCallStackSize int
}
