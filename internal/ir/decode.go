package ir

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// JSON graph description consumed by the somas CLI. The schema mirrors the
// in-memory contract one to one; the graph compiler embeds the planner
// directly and never goes through this file format.

type fileKernel struct {
	Name           string       `json:"name"`
	Stream         StreamID     `json:"stream"`
	Kind           string       `json:"kind,omitempty"`
	Flags          []string     `json:"flags,omitempty"`
	Outputs        []uint64     `json:"outputs,omitempty"`
	Workspaces     []uint64     `json:"workspaces,omitempty"`
	Inputs         []fileInput  `json:"inputs,omitempty"`
	OutputBound    []bool       `json:"output_bound,omitempty"`
	WorkspaceBound []bool       `json:"workspace_bound,omitempty"`
	Logical        *int         `json:"logical,omitempty"`
	Clean          []fileClean  `json:"clean,omitempty"`
}

type fileInput struct {
	Producer *int `json:"producer,omitempty"`
	Param    *int `json:"param,omitempty"`
	Index    int  `json:"index"`
}

type fileClean struct {
	Target     int   `json:"target"`
	Outputs    []int `json:"outputs,omitempty"`
	Workspaces []int `json:"workspaces,omitempty"`
}

type fileParamOut struct {
	Addr  uint64 `json:"addr"`
	Size  uint64 `json:"size"`
	Bound bool   `json:"bound"`
}

type fileParam struct {
	Name    string         `json:"name"`
	Outputs []fileParamOut `json:"outputs"`
}

type fileEvent struct {
	ID   int `json:"id"`
	Send int `json:"send"`
	Recv int `json:"recv"`
}

type fileRef struct {
	Out    OutputRef `json:"out"`
	Origin OutputRef `json:"origin"`
}

type fileGraph struct {
	GraphID      GraphID      `json:"graph_id"`
	Kernels      []fileKernel `json:"kernels"`
	Params       []fileParam  `json:"params,omitempty"`
	StreamGroups [][]StreamID `json:"stream_groups,omitempty"`
	Events       []fileEvent  `json:"events,omitempty"`
	SummaryRefs  []OutputRef  `json:"summary_refs,omitempty"`
	RefPairs     []fileRef    `json:"ref_pairs,omitempty"`
	RefOverlap   [][]OutputRef `json:"ref_overlap,omitempty"`
	FusionClear  bool         `json:"fusion_clear,omitempty"`
}

var flagNames = map[string]Flags{
	"independent":  FlagIndependent,
	"get_next":     FlagGetNext,
	"non_task":     FlagNonTask,
	"unreuse":      FlagUnreuse,
	"atomic_clean": FlagAtomicClean,
}

// Decode reads a JSON graph description.
func Decode(r io.Reader) (*Graph, error) {
	var fg fileGraph
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fg); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}

	g := &Graph{
		ID:           fg.GraphID,
		Kernels:      make([]Kernel, len(fg.Kernels)),
		StreamGroups: fg.StreamGroups,
		SummaryRefs:  fg.SummaryRefs,
		RefOverlap:   fg.RefOverlap,
		FusionClear:  fg.FusionClear,
	}
	for ki, fk := range fg.Kernels {
		k := Kernel{
			Name:           fk.Name,
			Stream:         fk.Stream,
			Mod:            Sizes{Outputs: fk.Outputs, Workspaces: fk.Workspaces},
			OutputBound:    fk.OutputBound,
			WorkspaceBound: fk.WorkspaceBound,
			Logical:        -1,
		}
		switch fk.Kind {
		case "", "common":
			k.Kind = KindCommon
		case "communication":
			k.Kind = KindCommunication
		default:
			return nil, fmt.Errorf("kernel %q: unknown kind %q", fk.Name, fk.Kind)
		}
		for _, name := range fk.Flags {
			f, ok := flagNames[name]
			if !ok {
				return nil, fmt.Errorf("kernel %q: unknown flag %q", fk.Name, name)
			}
			k.Flags |= f
		}
		if fk.Logical != nil {
			k.Logical = *fk.Logical
		}
		for _, fin := range fk.Inputs {
			switch {
			case fin.Producer != nil && fin.Param != nil:
				return nil, fmt.Errorf("kernel %q: input has both producer and param", fk.Name)
			case fin.Producer != nil:
				k.Inputs = append(k.Inputs, Input{Producer: *fin.Producer, Index: fin.Index})
			case fin.Param != nil:
				k.Inputs = append(k.Inputs, Input{Producer: -1, Param: *fin.Param, Index: fin.Index})
			default:
				return nil, fmt.Errorf("kernel %q: input needs producer or param", fk.Name)
			}
		}
		for _, fc := range fk.Clean {
			k.Clean = append(k.Clean, CleanRef{
				Target:     fc.Target,
				Outputs:    fc.Outputs,
				Workspaces: fc.Workspaces,
			})
		}
		g.Kernels[ki] = k
	}
	for _, fp := range fg.Params {
		p := ParamNode{Name: fp.Name}
		for _, out := range fp.Outputs {
			p.Outputs = append(p.Outputs, ParamOut(out))
		}
		g.Params = append(g.Params, p)
	}
	for _, fe := range fg.Events {
		g.Events = append(g.Events, Event(fe))
	}
	for _, fr := range fg.RefPairs {
		g.RefPairs = append(g.RefPairs, RefPair(fr))
	}
	return g, nil
}

// LoadFile reads and decodes a JSON graph description from disk.
func LoadFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return Decode(f)
}
