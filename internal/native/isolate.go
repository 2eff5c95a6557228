package native

import (
	"runtime"
	"sync"
)

// Isolate groups the engine heaps of one jsisolate.Isolate.
type Isolate struct {
	cfg Config

	mu       sync.Mutex // guards contexts against TerminateExecution
	contexts []*Context
	released bool
}

// NewIsolate creates an empty engine instance.
func NewIsolate(cfg Config) *Isolate {
	return &Isolate{cfg: cfg}
}

// NewContext creates a new engine heap. A non-empty alias makes the global
// object reachable under that global name.
func (iso *Isolate) NewContext(alias string) (*Context, error) {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	if iso.released {
		return nil, ErrIsolateReleased
	}

	c := newContext(iso, alias)
	iso.contexts = append(iso.contexts, c)
	return c, nil
}

// TerminateExecution interrupts whatever script runs in any context of the
// isolate and wakes a message loop waiting for its next timer. A context that
// is idle is interrupted on its next entry. It is the
// only method that may be called from any goroutine.
func (iso *Isolate) TerminateExecution() {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	for _, c := range iso.contexts {
		c.vm.Interrupt(ErrTerminated)
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

// CollectGarbage runs a full collection so that weak values whose engine
// objects became unreachable are queued for disposal.
func (iso *Isolate) CollectGarbage() {
	runtime.GC()
}

// Release releases every context that is still open.
func (iso *Isolate) Release() {
	iso.mu.Lock()
	contexts := iso.contexts
	iso.contexts = nil
	iso.released = true
	iso.mu.Unlock()

	for _, c := range contexts {
		c.release()
	}
}

// IsReleased reports whether Release was called.
func (iso *Isolate) IsReleased() bool {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	return iso.released
}

func (iso *Isolate) removeContext(c *Context) {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	for i, x := range iso.contexts {
		if x == c {
			iso.contexts = append(iso.contexts[:i], iso.contexts[i+1:]...)
			return
		}
	}
}
