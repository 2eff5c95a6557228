package jsisolate

// observers is an ordered list of handlers. Handlers may add or remove
// handlers while being notified; changes apply to the next notification.
type observers[T any] struct {
	next  int
	items []observer[T]
}

type observer[T any] struct {
	id int
	fn T
}

func (o *observers[T]) add(fn T) func() {
	o.next++
	id := o.next
	o.items = append(o.items, observer[T]{id: id, fn: fn})
	return func() { o.remove(id) }
}

func (o *observers[T]) remove(id int) {
	for i, it := range o.items {
		if it.id == id {
			o.items = append(o.items[:i:i], o.items[i+1:]...)
			return
		}
	}
}

func (o *observers[T]) each(fn func(T)) {
	for _, it := range o.items {
		fn(it.fn)
	}
}
