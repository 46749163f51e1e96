package bitset

import "math/bits"

const wordBits = 64

// Set is a fixed-capacity bitset. Capacity is chosen at construction and
// never grows; out-of-range indices panic like a slice access would.
type Set struct {
	words []uint64
	size  int
}

// New returns a Set able to hold indices [0, size).
func New(size int) *Set {
	if size < 0 {
		size = 0
	}
	return &Set{
		words: make([]uint64, (size+wordBits-1)/wordBits),
		size:  size,
	}
}

func (s *Set) check(i int) {
	if i < 0 || i >= s.size {
		panic("bitset: index out of range")
	}
}

// Size returns the capacity the set was created with.
func (s *Set) Size() int { return s.size }

// Set turns bit i on.
func (s *Set) Set(i int) {
	s.check(i)
	s.words[i/wordBits] |= 1 << uint(i%wordBits)
}

// Clear turns bit i off.
func (s *Set) Clear(i int) {
	s.check(i)
	s.words[i/wordBits] &^= 1 << uint(i%wordBits)
}

// Test reports whether bit i is on.
func (s *Set) Test(i int) bool {
	s.check(i)
	return s.words[i/wordBits]&(1<<uint(i%wordBits)) != 0
}

// Union ors every bit of other into s. Both sets must have the same size.
func (s *Set) Union(other *Set) {
	if other == nil || len(other.words) != len(s.words) {
		panic("bitset: union size mismatch")
	}
	for i, w := range other.words {
		s.words[i] |= w
	}
}

// Intersect ands every bit of other into s. Both sets must have the same
// size.
func (s *Set) Intersect(other *Set) {
	if other == nil || len(other.words) != len(s.words) {
		panic("bitset: intersect size mismatch")
	}
	for i, w := range other.words {
		s.words[i] &= w
	}
}

// OnesCount returns the number of set bits.
func (s *Set) OnesCount() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Clone returns an independent copy of s.
func (s *Set) Clone() *Set {
	out := &Set{
		words: make([]uint64, len(s.words)),
		size:  s.size,
	}
	copy(out.words, s.words)
	return out
}
