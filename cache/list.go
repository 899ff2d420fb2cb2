// Package cache keeps content-addressed lists: each distinct value is
// stored once and keeps the index it was first given.
package cache

// List is an append-only store keyed by a content key. Adding a value
// whose key is already present returns the existing index and drops the
// new value.
type List[V any] struct {
	items []V
	index map[string]int
	key   func(V) (string, error)

	// admit, when set, vets a value with a new key against the stored ones.
	admit func(v V, stored []V) error
}

func NewList[V any](key func(V) (string, error)) *List[V] {
	return &List[V]{index: make(map[string]int), key: key}
}

// Add returns the index of v, storing it when its key is new.
func (l *List[V]) Add(v V) (int, error) {
	k, err := l.key(v)
	if err != nil {
		return 0, err
	}
	if i, ok := l.index[k]; ok {
		return i, nil
	}
	if l.admit != nil {
		if err := l.admit(v, l.items); err != nil {
			return 0, err
		}
	}
	l.items = append(l.items, v)
	i := len(l.items) - 1
	l.index[k] = i
	return i, nil
}

func (l *List[V]) Len() int { return len(l.items) }

func (l *List[V]) Get(i int) V { return l.items[i] }

// Items returns the stored values in index order.
func (l *List[V]) Items() []V {
	if l.items == nil {
		return []V{}
	}
	return l.items
}

func (l *List[V]) Clear() {
	l.items = nil
	l.index = make(map[string]int)
}
