package native

import (
	"runtime"
	"weak"

	"github.com/dop251/goja"
)

// SetOnWeakDisposed installs the callback told about weak handles whose engine
// objects were collected. It runs on the owning thread from DeliverDisposals.
func (c *Context) SetOnWeakDisposed(fn func(Handle)) {
	c.onWeakDisposed = fn
}

// SetWeak stops h from keeping its object alive. Once the engine collects the
// object, h is reported through the weak disposal callback.
func (c *Context) SetWeak(h Handle) error {
	if c.released {
		return ErrContextReleased
	}
	s, ok := c.table.lookup(h)
	if !ok {
		return ErrStaleHandle
	}
	if s.weak {
		return nil
	}

	obj := s.obj
	s.weakRef = weak.Make(obj)
	s.cleanup = runtime.AddCleanup(obj, c.queueDisposal, h)
	s.obj = nil
	s.weak = true
	return nil
}

// ClearWeak makes h a strong handle again. It reports ErrStaleHandle when the
// object was already collected; the disposal is then still delivered.
func (c *Context) ClearWeak(h Handle) error {
	if c.released {
		return ErrContextReleased
	}
	s, ok := c.table.lookup(h)
	if !ok {
		return ErrStaleHandle
	}
	if !s.weak {
		return nil
	}

	obj := s.weakRef.Value()
	if obj == nil {
		return ErrStaleHandle
	}
	s.cleanup.Stop()
	s.obj = obj
	s.weakRef = weak.Pointer[goja.Object]{}
	s.weak = false
	return nil
}

// IsWeak reports whether h is weak.
func (c *Context) IsWeak(h Handle) (bool, error) {
	if c.released {
		return false, ErrContextReleased
	}
	s, ok := c.table.lookup(h)
	if !ok {
		return false, ErrStaleHandle
	}
	return s.weak, nil
}

// queueDisposal runs on the runtime's cleanup goroutine.
func (c *Context) queueDisposal(h Handle) {
	c.disposalMu.Lock()
	c.disposals = append(c.disposals, h)
	c.disposalMu.Unlock()
}

// DeliverDisposals reports collected weak handles to the disposal callback.
// Nothing is delivered while a script is running.
func (c *Context) DeliverDisposals() {
	if c.released || c.depth > 0 {
		return
	}

	c.disposalMu.Lock()
	pending := c.disposals
	c.disposals = nil
	c.disposalMu.Unlock()

	for _, h := range pending {
		s, ok := c.table.lookup(h)
		if !ok || !s.weak {
			continue
		}
		if c.onWeakDisposed != nil {
			c.onWeakDisposed(h)
			continue
		}
		_ = c.table.drop(h)
	}
}
