package plan

import (
	"strings"
	"testing"

	"somas/internal/diag"
	"somas/internal/ir"
)

func buildDumpModel(t *testing.T) *Model {
	t.Helper()
	g := &ir.Graph{
		ID: 3,
		Kernels: []ir.Kernel{
			kernel("net/layer1/Conv2D", 0, []uint64{100}),
			kernel("net/layer1/ReLU", 0, []uint64{100}, from(0, 0)),
			{
				Name:    "net/AllReduce",
				Stream:  1,
				Kind:    ir.KindCommunication,
				Mod:     ir.Sizes{Outputs: []uint64{64}},
				Inputs:  []ir.Input{from(1, 0)},
				Logical: -1,
			},
		},
		Params: []ir.ParamNode{{
			Name:    "weight0",
			Outputs: []ir.ParamOut{{Addr: 0x1000, Size: 4096, Bound: true}},
		}},
		StreamGroups: [][]ir.StreamID{{0, 1}},
	}
	g.Kernels[0].Inputs = []ir.Input{{Producer: -1, Index: 0, Param: 0}}
	m, err := BuildForDump(g, diag.NewBag(16))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestInfoTextSections(t *testing.T) {
	m := buildDumpModel(t)
	text := m.InfoText(false)

	for _, want := range []string{
		"All Parameters:",
		"All Tensors:",
		"All Nodes:",
		"All Stream Groups:",
		"%0P\t#4096S",
		"weight0",
		"$0\tConv2D",
		"stm0 stm1",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("InfoText missing %q", want)
		}
	}
}

func TestInfoTextHashVariantExcludesParameters(t *testing.T) {
	m := buildDumpModel(t)
	hashed := m.InfoText(true)
	if strings.Contains(hashed, "All Parameters:") {
		t.Error("hash variant includes parameters")
	}
	if !strings.Contains(hashed, "All Tensors:") {
		t.Error("hash variant lost the tensor section")
	}
}

func TestInfoTextStableAcrossBuilds(t *testing.T) {
	a := buildDumpModel(t).InfoText(true)
	b := buildDumpModel(t).InfoText(true)
	if a != b {
		t.Error("model text differs between identical builds")
	}
}

func TestOfflineEdgeList(t *testing.T) {
	m := buildDumpModel(t)
	text := m.Offline()

	// Conv2D's output is consumed by ReLU: a normal EDGE line.
	if !strings.Contains(text, "Somas EDGE src=n0, srcstm=0, dst=n1, dststm=0, workspace=0, size=100") {
		t.Errorf("missing consumer edge in:\n%s", text)
	}
	// The comm node's output has no consumer and stays OutputOnly.
	if !strings.Contains(text, "Somas EDGE ERROR src=n2") {
		t.Errorf("missing EDGE ERROR line in:\n%s", text)
	}
	if !strings.Contains(text, "Somas CONTIGUOUS") {
		t.Errorf("missing CONTIGUOUS line in:\n%s", text)
	}
	if !strings.Contains(text, "Somas GROUP 0 1") {
		t.Errorf("missing GROUP line in:\n%s", text)
	}
}

func TestMemoryMapGroupsByOffset(t *testing.T) {
	g := &ir.Graph{
		ID: 3,
		Kernels: []ir.Kernel{
			kernel("a", 0, []uint64{100}),
			kernel("b", 0, []uint64{100}, from(0, 0)),
			kernel("c", 0, []uint64{100}, from(1, 0)),
		},
	}
	res := runPlan(t, g, Options{})
	text := res.Model.MemoryMap()
	if !strings.HasPrefix(text, "mem_id:") {
		t.Errorf("missing header in:\n%s", text)
	}
	// a's and c's tensors reuse offset 0 and must share a mem id.
	if !strings.Contains(text, "#0\t0\t512\t%0T") || !strings.Contains(text, "#0\t0\t512\t%2T") {
		t.Errorf("reused slot not grouped in:\n%s", text)
	}
}

func TestSplitName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"net/layer1/Conv2D", "Conv2D"},
		{"Conv2D", "Conv2D"},
		{"trailing/", "trailing/"},
		{"", ""},
	}
	for _, c := range cases {
		if got := splitName(c.in); got != c.want {
			t.Errorf("splitName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
