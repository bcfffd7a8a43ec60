// Package collection provides an insertion-ordered mapping from identifier to
// item with O(1) lookup, existence check and removal.
package collection

// List keeps items keyed by id in insertion order. The zero value is not
// usable; construct with New.
type List[K comparable, V any] struct {
	nodes      map[K]*node[K, V]
	head, tail *node[K, V]
}

type node[K comparable, V any] struct {
	key        K
	value      V
	prev, next *node[K, V]
}

func New[K comparable, V any]() *List[K, V] {
	return &List[K, V]{nodes: map[K]*node[K, V]{}}
}

// Add inserts item under id, preserving insertion order. It returns false
// without modifying the list when id is already present.
func (l *List[K, V]) Add(id K, item V) bool {
	if _, ok := l.nodes[id]; ok {
		return false
	}
	n := &node[K, V]{key: id, value: item, prev: l.tail}
	if l.tail != nil {
		l.tail.next = n
	} else {
		l.head = n
	}
	l.tail = n
	l.nodes[id] = n
	return true
}

func (l *List[K, V]) Get(id K) (V, bool) {
	n, ok := l.nodes[id]
	if !ok {
		var zero V
		return zero, false
	}
	return n.value, true
}

func (l *List[K, V]) Has(id K) bool {
	_, ok := l.nodes[id]
	return ok
}

// Remove unlinks id and returns its item. Removing an absent id is a no-op
// returning false.
func (l *List[K, V]) Remove(id K) (V, bool) {
	n, ok := l.nodes[id]
	if !ok {
		var zero V
		return zero, false
	}
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	delete(l.nodes, id)
	return n.value, true
}

// Keys returns the ids in insertion order.
func (l *List[K, V]) Keys() []K {
	keys := make([]K, 0, len(l.nodes))
	for n := l.head; n != nil; n = n.next {
		keys = append(keys, n.key)
	}
	return keys
}

// Values returns the items in insertion order.
func (l *List[K, V]) Values() []V {
	values := make([]V, 0, len(l.nodes))
	for n := l.head; n != nil; n = n.next {
		values = append(values, n.value)
	}
	return values
}

func (l *List[K, V]) Len() int {
	return len(l.nodes)
}
