package native

import (
	"math"
	"runtime"
	"weak"

	"github.com/dop251/goja"
)

type slot struct {
	obj     *goja.Object              // nil while weak
	weakRef weak.Pointer[goja.Object] // set while weak
	cleanup runtime.Cleanup
	kind    Kind
	gen     uint32
	live    bool
	weak    bool
}

// handleTable is the arena of engine objects held by the host. Released slots
// go to a free list and are reused with a bumped generation, so a stale handle
// never aliases a newer value.
type handleTable struct {
	slots    []slot
	freeList []uint32
	live     int
}

func newHandleTable() *handleTable {
	return &handleTable{
		slots:    make([]slot, 0, 64),
		freeList: make([]uint32, 0, 16),
	}
}

// store keeps obj alive and returns its new handle.
func (t *handleTable) store(obj *goja.Object, kind Kind) Handle {
	t.live++
	if n := len(t.freeList); n > 0 {
		idx := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		s := &t.slots[idx]
		s.obj, s.kind, s.live = obj, kind, true
		return makeHandle(idx, s.gen)
	}

	if len(t.slots) >= math.MaxUint32-1 {
		panic("native: handle table overflow, too many live values")
	}
	t.slots = append(t.slots, slot{obj: obj, kind: kind, live: true})
	return makeHandle(uint32(len(t.slots)-1), 0)
}

// lookup returns the live slot for h.
func (t *handleTable) lookup(h Handle) (*slot, bool) {
	if h == 0 {
		return nil, false
	}
	idx := h.index()
	if int(idx) >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[idx]
	if !s.live || s.gen != h.generation() {
		return nil, false
	}
	return s, true
}

// object resolves h to its engine object. A weak slot whose object was
// already collected reports ErrStaleHandle.
func (t *handleTable) object(h Handle) (*goja.Object, error) {
	s, ok := t.lookup(h)
	if !ok {
		return nil, ErrStaleHandle
	}
	if s.weak {
		if obj := s.weakRef.Value(); obj != nil {
			return obj, nil
		}
		return nil, ErrStaleHandle
	}
	return s.obj, nil
}

// drop releases h exactly once.
func (t *handleTable) drop(h Handle) error {
	s, ok := t.lookup(h)
	if !ok {
		return ErrStaleHandle
	}
	if s.weak {
		s.cleanup.Stop()
	}
	idx := h.index()
	t.slots[idx] = slot{gen: s.gen + 1}
	t.freeList = append(t.freeList, idx)
	t.live--
	return nil
}

// clear releases every handle.
func (t *handleTable) clear() {
	for i := range t.slots {
		if t.slots[i].live && t.slots[i].weak {
			t.slots[i].cleanup.Stop()
		}
	}
	t.slots = t.slots[:0]
	t.freeList = t.freeList[:0]
	t.live = 0
}

func (t *handleTable) count() int {
	return t.live
}
