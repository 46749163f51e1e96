package solver

import (
	"testing"

	"somas/internal/bitset"
)

func newInput(sizes []uint64) Input {
	in := Input{Reuse: make([]*bitset.Set, len(sizes))}
	for i, sz := range sizes {
		in.Tensors = append(in.Tensors, Desc{ID: i, Size: sz})
		in.Reuse[i] = bitset.New(len(sizes))
	}
	return in
}

func allow(in Input, a, b int) {
	in.Reuse[a].Set(b)
	in.Reuse[b].Set(a)
}

func checkNoForbiddenOverlap(t *testing.T, in Input, res Result) {
	t.Helper()
	for _, a := range in.Tensors {
		for _, b := range in.Tensors {
			if a.ID >= b.ID {
				continue
			}
			if in.Reuse[a.ID].Test(b.ID) && in.Reuse[b.ID].Test(a.ID) {
				continue
			}
			oa, ob := res.Offsets[a.ID], res.Offsets[b.ID]
			if oa < ob+b.Size && ob < oa+a.Size {
				t.Errorf("blocks %d [%d,%d) and %d [%d,%d) overlap but may not reuse",
					a.ID, oa, oa+a.Size, b.ID, ob, ob+b.Size)
			}
		}
	}
}

func TestBestFitDisjoint(t *testing.T) {
	in := newInput([]uint64{100, 100, 50})
	res, err := (BestFit{}).Solve(in)
	if err != nil {
		t.Fatal(err)
	}
	checkNoForbiddenOverlap(t, in, res)
	if res.MaxOffset != 250 {
		t.Errorf("MaxOffset = %d, want 250", res.MaxOffset)
	}
}

func TestBestFitFullReuse(t *testing.T) {
	in := newInput([]uint64{100, 80, 60})
	allow(in, 0, 1)
	allow(in, 0, 2)
	allow(in, 1, 2)
	res, err := (BestFit{}).Solve(in)
	if err != nil {
		t.Fatal(err)
	}
	if res.MaxOffset != 100 {
		t.Errorf("MaxOffset = %d, want 100", res.MaxOffset)
	}
	for id, off := range res.Offsets {
		if off != 0 {
			t.Errorf("block %d placed at %d, want 0", id, off)
		}
	}
}

func TestBestFitGapFill(t *testing.T) {
	// Block 2 may reuse with 0 but not with 1; it must land in the hole
	// left by 0 rather than extend the footprint.
	in := newInput([]uint64{100, 100, 40})
	allow(in, 0, 2)
	res, err := (BestFit{}).Solve(in)
	if err != nil {
		t.Fatal(err)
	}
	checkNoForbiddenOverlap(t, in, res)
	if res.MaxOffset != 200 {
		t.Errorf("MaxOffset = %d, want 200", res.MaxOffset)
	}
}

func TestBestFitContiguous(t *testing.T) {
	in := newInput([]uint64{64, 128, 64, 32})
	allow(in, 3, 0)
	allow(in, 3, 1)
	allow(in, 3, 2)
	in.Contiguous = [][]int{{0, 1, 2}}

	res, err := (BestFit{}).Solve(in)
	if err != nil {
		t.Fatal(err)
	}
	base := res.Offsets[0]
	if res.Offsets[1] != base+64 || res.Offsets[2] != base+64+128 {
		t.Errorf("contiguous offsets not back to back: %v", res.Offsets)
	}
	if res.MaxOffset != 256 {
		t.Errorf("MaxOffset = %d, want 256", res.MaxOffset)
	}
}

func TestBestFitContiguousUnknownBlock(t *testing.T) {
	in := newInput([]uint64{64})
	in.Contiguous = [][]int{{0, 7}}
	if _, err := (BestFit{}).Solve(in); err == nil {
		t.Fatal("expected error for unknown block in contiguous list")
	}
}

func TestBestFitDeterministic(t *testing.T) {
	in := newInput([]uint64{100, 100, 100, 50, 50})
	allow(in, 0, 3)
	allow(in, 1, 4)
	first, err := (BestFit{}).Solve(in)
	if err != nil {
		t.Fatal(err)
	}
	for range 10 {
		res, err := (BestFit{}).Solve(in)
		if err != nil {
			t.Fatal(err)
		}
		for id, off := range first.Offsets {
			if res.Offsets[id] != off {
				t.Fatalf("block %d moved between runs: %d vs %d", id, off, res.Offsets[id])
			}
		}
	}
}
