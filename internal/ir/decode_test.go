package ir_test

import (
	"strings"
	"testing"

	"somas/internal/ir"
)

const sampleGraph = `{
  "graph_id": 7,
  "kernels": [
    {"name": "GetNext", "stream": 0, "flags": ["get_next"], "outputs": [128, 128]},
    {"name": "Conv", "stream": 0, "outputs": [1024], "workspaces": [256],
     "inputs": [{"producer": 0, "index": 0}, {"param": 0, "index": 0}]},
    {"name": "AllReduce", "stream": 1, "kind": "communication", "outputs": [1024],
     "inputs": [{"producer": 1, "index": 0}]}
  ],
  "params": [{"name": "w0", "outputs": [{"addr": 4096, "size": 64, "bound": true}]}],
  "stream_groups": [[0, 1]],
  "events": [{"id": 0, "send": 1, "recv": 2}],
  "ref_pairs": [{"out": {"kernel": 2, "index": 0}, "origin": {"kernel": 1, "index": 0}}]
}`

func TestDecode(t *testing.T) {
	g, err := ir.Decode(strings.NewReader(sampleGraph))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if g.ID != 7 {
		t.Errorf("graph id = %d, want 7", g.ID)
	}
	if len(g.Kernels) != 3 {
		t.Fatalf("kernel count = %d, want 3", len(g.Kernels))
	}
	if g.Kernels[0].Flags&ir.FlagGetNext == 0 {
		t.Error("GetNext kernel lost its flag")
	}
	if g.Kernels[2].Kind != ir.KindCommunication {
		t.Error("AllReduce kernel not tagged communication")
	}
	outs, wss := g.Kernels[1].Mod.SizeList()
	if len(outs) != 1 || outs[0] != 1024 || len(wss) != 1 || wss[0] != 256 {
		t.Errorf("Conv sizes = %v/%v, want [1024]/[256]", outs, wss)
	}
	in := g.Kernels[1].Inputs[1]
	if !in.FromParam() || in.Param != 0 {
		t.Errorf("second Conv input should reference param 0, got %+v", in)
	}
	if g.Kernels[0].Logical != -1 {
		t.Errorf("default logical = %d, want -1", g.Kernels[0].Logical)
	}
	if len(g.Events) != 1 || g.Events[0].Send != 1 || g.Events[0].Recv != 2 {
		t.Errorf("events = %+v", g.Events)
	}
	if len(g.RefPairs) != 1 || g.RefPairs[0].Origin.Kernel != 1 {
		t.Errorf("ref pairs = %+v", g.RefPairs)
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]string{
		"unknown kind":  `{"kernels":[{"name":"k","kind":"weird"}]}`,
		"unknown flag":  `{"kernels":[{"name":"k","flags":["bogus"]}]}`,
		"empty input":   `{"kernels":[{"name":"k","inputs":[{"index":0}]}]}`,
		"ambiguous":     `{"kernels":[{"name":"k","inputs":[{"producer":0,"param":0,"index":0}]}]}`,
		"unknown field": `{"bogus": 1}`,
	}
	for name, src := range cases {
		if _, err := ir.Decode(strings.NewReader(src)); err == nil {
			t.Errorf("%s: Decode accepted invalid graph", name)
		}
	}
}
