// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package set implements a generic set of ordered values.
package set

import (
	"cmp"
	"maps"
	"slices"
)

// Set is a set of values. The zero value is not usable; use [New] or
// [NewFromSlice].
type Set[T cmp.Ordered] map[T]struct{}

// New returns an empty set with room for sizeHint values.
func New[T cmp.Ordered](sizeHint int) Set[T] { return make(Set[T], sizeHint) }

// NewFromSlice returns a set containing vals.
func NewFromSlice[T cmp.Ordered](vals ...T) Set[T] {
	s := New[T](len(vals))
	for _, v := range vals {
		s.Add(v)
	}
	return s
}

// Has reports whether v is in the set.
func (s Set[T]) Has(v T) bool {
	_, ok := s[v]
	return ok
}

// Add adds v and reports whether it was absent.
func (s Set[T]) Add(v T) bool {
	if s.Has(v) {
		return false
	}
	s[v] = struct{}{}
	return true
}

// Del removes v and reports whether it was present.
func (s Set[T]) Del(v T) bool {
	if !s.Has(v) {
		return false
	}
	delete(s, v)
	return true
}

// Len returns the number of values.
func (s Set[T]) Len() int { return len(s) }

// ToSortedSlice returns the values in ascending order.
func (s Set[T]) ToSortedSlice() []T {
	vals := slices.AppendSeq(make([]T, 0, len(s)), maps.Keys(s))
	slices.Sort(vals)
	return vals
}
