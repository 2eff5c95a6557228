package jsisolate

import (
	"github.com/buke/jsisolate/internal/native"
)

// MemoryManager tracks every Value its Context creates from the moment the
// manager exists, and closes those still open on Release. Managers nest: an
// inner manager releases its Values first, and the outer one forgets them.
type MemoryManager struct {
	ctx       *Context
	refs      map[native.Handle]Value
	remove    func()
	releasing bool
	released  bool
}

// NewMemoryManager starts tracking the Values of c.
func NewMemoryManager(c *Context) (*MemoryManager, error) {
	if err := c.checkThread(); err != nil {
		return nil, err
	}
	m := &MemoryManager{ctx: c, refs: make(map[native.Handle]Value)}
	m.remove = c.AddReferenceHandler(m)
	return m, nil
}

func (m *MemoryManager) ReferenceCreated(v Value) error {
	m.refs[v.handle] = v
	return nil
}

func (m *MemoryManager) ReferenceDisposed(v Value) {
	if !m.releasing {
		delete(m.refs, v.handle)
	}
}

// Persist stops tracking v; it must then be closed by the caller.
func (m *MemoryManager) Persist(v Value) error {
	if m.released {
		return ErrReleased
	}
	if err := m.ctx.checkThread(); err != nil {
		return err
	}
	delete(m.refs, v.handle)
	return nil
}

// ObjectReferenceCount returns the number of tracked open Values.
func (m *MemoryManager) ObjectReferenceCount() (int, error) {
	if m.released {
		return 0, ErrReleased
	}
	if err := m.ctx.checkThread(); err != nil {
		return 0, err
	}
	return len(m.refs), nil
}

// Release closes every tracked Value and stops tracking. Calling it twice
// does nothing.
func (m *MemoryManager) Release() error {
	if m.released {
		return nil
	}
	if err := m.ctx.iso.checkThread(); err != nil {
		return err
	}

	m.releasing = true
	for _, v := range m.refs {
		_ = v.Close()
	}
	m.releasing = false
	m.refs = nil
	m.remove()
	m.released = true
	return nil
}

// IsReleased reports whether Release was called.
func (m *MemoryManager) IsReleased() bool {
	return m.released
}
