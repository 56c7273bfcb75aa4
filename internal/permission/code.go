// Package permission models the permission catalog, its requires graph, draft
// selections kept closed under that graph, and any/all authorization checks.
package permission

import (
	"slices"
	"strconv"
)

// Code identifies exactly one grantable capability.
type Code int64

// String renders the code as a decimal number.
func (c Code) String() string {
	return strconv.FormatInt(int64(c), 10)
}

// Set is an unordered collection of codes. Resolver and evaluator functions
// treat Set values as immutable and always return fresh sets.
type Set map[Code]struct{}

// NewSet builds a set from the given codes.
func NewSet(codes ...Code) Set {
	s := make(Set, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// FromInt64s converts stored integer codes into a set.
func FromInt64s(values []int64) Set {
	s := make(Set, len(values))
	for _, v := range values {
		s[Code(v)] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s Set) Has(c Code) bool {
	_, ok := s[c]
	return ok
}

// Len returns the number of codes.
func (s Set) Len() int {
	return len(s)
}

// Clone returns a copy that can be mutated independently.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Equal reports whether both sets hold the same codes.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for c := range s {
		if _, ok := other[c]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the codes in ascending order.
func (s Set) Sorted() []Code {
	out := make([]Code, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Int64s returns the codes in ascending order as plain integers, the form
// persisted and exchanged over the API.
func (s Set) Int64s() []int64 {
	out := make([]int64, 0, len(s))
	for _, c := range s.Sorted() {
		out = append(out, int64(c))
	}
	return out
}

// Difference returns the codes in s that are not in other, sorted.
func (s Set) Difference(other Set) []Code {
	var out []Code
	for c := range s {
		if _, ok := other[c]; !ok {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return out
}
