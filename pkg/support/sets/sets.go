// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sets implements a set of comparable values, interoperating with the iter package.
package sets

import (
	"cmp"
	"iter"
	"maps"
	"slices"
)

// Set of values of type T. The zero value is an empty set that can be read, but not added to.
type Set[T comparable] map[T]struct{}

// Of returns a set with the given values.
func Of[T comparable](values ...T) Set[T] {
	return Collect(slices.Values(values))
}

// Collect the values of seq into a new set.
func Collect[T comparable](seq iter.Seq[T]) Set[T] {
	s := make(Set[T])
	for v := range seq {
		s[v] = struct{}{}
	}
	return s
}

// Has reports whether v is in the set.
func (s Set[T]) Has(v T) bool {
	_, found := s[v]
	return found
}

// All iterates over the values of the set, in no particular order.
func (s Set[T]) All() iter.Seq[T] {
	return maps.Keys(s)
}

// Difference returns a new set with the values of s that are not in other.
func (s Set[T]) Difference(other Set[T]) Set[T] {
	return Collect(func(yield func(T) bool) {
		for v := range s {
			if !other.Has(v) && !yield(v) {
				return
			}
		}
	})
}

// Sorted returns the values of s in ascending order.
func Sorted[T cmp.Ordered](s Set[T]) []T {
	return slices.Sorted(s.All())
}
