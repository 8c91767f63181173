// Package sets is a minimal set over map keys.
package sets

import (
	"cmp"
	"maps"
	"slices"
)

type Set[T comparable] map[T]struct{}

func New[T comparable](vals ...T) Set[T] {
	s := make(Set[T], len(vals))
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}

// Add reports whether v was not yet a member.
func (s Set[T]) Add(v T) bool {
	n := len(s)
	s[v] = struct{}{}
	return len(s) > n
}

func (s Set[T]) Has(v T) bool {
	_, ok := s[v]
	return ok
}

func (s Set[T]) Delete(v T) { delete(s, v) }

func (s Set[T]) Len() int { return len(s) }

// Clone never returns nil, even for a nil receiver.
func (s Set[T]) Clone() Set[T] {
	out := make(Set[T], len(s))
	maps.Copy(out, s)
	return out
}

// Sorted lists the members in ascending order.
func Sorted[T cmp.Ordered](s Set[T]) []T {
	return slices.Sorted(maps.Keys(s))
}
