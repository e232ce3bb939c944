// Package ordered implements a comparator-ordered associative store with
// an optional deleter callback, the Go-native stand-in for tinc's AVL
// trees (edge_weight_tree, past_request_tree, node_udp_tree, ...). It
// favours a sorted slice over a real balanced tree: the corpus carries no
// balanced-tree dependency to ground one on (see DESIGN.md), and insert/
// delete/iterate at this daemon's node/edge/request counts (tens to low
// thousands of entries) make an O(log n) insert via binary search plenty
// fast without the bookkeeping of rotations.
package ordered

import "sort"

// Less reports whether a sorts before b.
type Less[T any] func(a, b T) bool

// Deleter is invoked exactly once when a value leaves the store, whether
// by explicit Delete or by Unlink — mirrors the avl_action_t destructor
// tinc registers per tree.
type Deleter[T any] func(T)

// Store holds values of type T in comparator order.
type Store[T any] struct {
	less    Less[T]
	onDel   Deleter[T]
	entries []T
}

// New creates an empty store ordered by less. onDel may be nil.
func New[T any](less Less[T], onDel Deleter[T]) *Store[T] {
	return &Store[T]{less: less, onDel: onDel}
}

func (s *Store[T]) search(v T) int {
	return sort.Search(len(s.entries), func(i int) bool {
		return !s.less(s.entries[i], v)
	})
}

// Insert adds v in sorted position. Duplicate-ordered values (neither
// less than the other) are inserted adjacent to each other in insertion
// order, matching AVL-tree behaviour under a non-strict comparator.
func (s *Store[T]) Insert(v T) {
	i := s.search(v)
	s.entries = append(s.entries, v)
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = v
}

// Find returns the first entry for which eq reports true, and whether one
// was found.
func (s *Store[T]) Find(eq func(T) bool) (T, bool) {
	for _, v := range s.entries {
		if eq(v) {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Delete removes the first entry for which eq reports true, invoking the
// deleter callback on it. Reports whether an entry was removed.
func (s *Store[T]) Delete(eq func(T) bool) bool {
	for i, v := range s.entries {
		if eq(v) {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			if s.onDel != nil {
				s.onDel(v)
			}
			return true
		}
	}
	return false
}

// Unlink removes the first entry for which eq reports true WITHOUT
// invoking the deleter, returning it so the caller can reinsert it under
// a new sort key — mirrors avl_unlink_node()+avl_insert_node() used by
// tinc's sssp_bfs() to re-key node_udp_tree when a node's UDP address
// changes.
func (s *Store[T]) Unlink(eq func(T) bool) (T, bool) {
	for i, v := range s.entries {
		if eq(v) {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Each iterates entries in sorted order. Stops early if fn returns false.
func (s *Store[T]) Each(fn func(T) bool) {
	for _, v := range s.entries {
		if !fn(v) {
			return
		}
	}
}

// Len returns the number of stored entries.
func (s *Store[T]) Len() int { return len(s.entries) }

// Head returns the smallest entry, if any.
func (s *Store[T]) Head() (T, bool) {
	if len(s.entries) == 0 {
		var zero T
		return zero, false
	}
	return s.entries[0], true
}

// Slice returns a snapshot copy of the ordered entries.
func (s *Store[T]) Slice() []T {
	out := make([]T, len(s.entries))
	copy(out, s.entries)
	return out
}
