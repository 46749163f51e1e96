// Package solver assigns byte offsets to memory blocks under pairwise
// reuse-eligibility and contiguity constraints.
package solver

import "somas/internal/bitset"

// Desc describes one block to place. ID indexes the Reuse matrix rows.
type Desc struct {
	ID   int
	Size uint64
}

// Input is a complete placement problem. Reuse is a symmetric matrix over
// block ids: Reuse[a].Test(b) means a and b may occupy overlapping ranges.
// Contiguous lists name blocks that must be laid out back to back in order.
type Input struct {
	Tensors    []Desc
	Reuse      []*bitset.Set
	Contiguous [][]int
}

// Result is a solved placement.
type Result struct {
	// Offsets maps block id to assigned offset. Only ids present in
	// Input.Tensors appear.
	Offsets map[int]uint64
	// MaxOffset is the end of the highest placed block, i.e. the total
	// footprint.
	MaxOffset uint64
}

// Solver places blocks. Implementations must honour the Reuse matrix: two
// blocks with a clear mutual bit never overlap in the returned layout.
type Solver interface {
	Solve(in Input) (Result, error)
}
