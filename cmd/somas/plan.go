package main

import (
	"fmt"
	"io"
	"sort"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"somas/internal/config"
	"somas/internal/diag"
	"somas/internal/ir"
	"somas/internal/observ"
	"somas/internal/plan"
	"somas/internal/plancache"
	"somas/internal/ui"
)

var (
	planConfigPath string
	planCacheDir   string
	planJobs       int
	planOutput     string
	planUI         string
)

func init() {
	planCmd.Flags().StringVar(&planConfigPath, "config", "", "path to somas.toml (default: next to the graph file)")
	planCmd.Flags().StringVar(&planCacheDir, "cache-dir", "", "layout cache directory (overrides config)")
	planCmd.Flags().IntVar(&planJobs, "jobs", 0, "conflict-phase workers (0 = all CPUs)")
	planCmd.Flags().StringVarP(&planOutput, "output", "o", "", "write the solved plan snapshot to this file")
	planCmd.Flags().StringVar(&planUI, "ui", "auto", "interactive memory map (auto|on|off)")
}

var planCmd = &cobra.Command{
	Use:   "plan <graph.json>",
	Short: "Plan memory offsets for a kernel graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := configureColor(cmd); err != nil {
			return err
		}
		quiet, _ := cmd.Flags().GetBool("quiet")
		showTimings, _ := cmd.Flags().GetBool("timings")
		maxDiags, _ := cmd.Flags().GetInt("max-diagnostics")
		mode, err := readUIMode(planUI)
		if err != nil {
			return err
		}

		graphPath := args[0]
		cfg, err := loadConfig(graphPath)
		if err != nil {
			return err
		}
		if planCacheDir != "" {
			cfg.Cache.Dir = planCacheDir
		}
		if planJobs > 0 {
			cfg.Planner.Jobs = planJobs
		}

		g, err := ir.LoadFile(graphPath)
		if err != nil {
			return err
		}

		bag := diag.NewBag(maxDiags)
		var timer *observ.Timer
		if showTimings {
			timer = observ.NewTimer()
		}
		planner := plan.New(plan.Options{
			Jobs:              cfg.Planner.Jobs,
			ParallelThreshold: cfg.Planner.ParallelThreshold,
			CacheDir:          cfg.Cache.Dir,
			CacheThreshold:    cfg.Cache.Threshold,
			Bag:               bag,
			Timer:             timer,
		})

		res, err := planner.Run(cmd.Context(), g)
		printDiagnostics(cmd.ErrOrStderr(), bag, quiet)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !quiet {
			printStats(out, res)
		}
		if showTimings && timer != nil {
			fmt.Fprint(out, timer.Summary())
		}

		if planOutput != "" {
			if err := writeSnapshot(planOutput, res); err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(out, "plan written to %s\n", planOutput)
			}
		}

		if shouldUseTUI(mode) && len(res.Model.Tensors) > 0 {
			return runMemView(graphPath, res)
		}
		return nil
	},
}

func loadConfig(graphPath string) (config.Config, error) {
	if planConfigPath != "" {
		return config.Load(planConfigPath)
	}
	return config.Discover(graphPath)
}

func printStats(out io.Writer, res *plan.Result) {
	s := res.Stats
	source := "solved"
	if res.FromCache {
		source = "cached"
	}
	fmt.Fprintf(out, "graph %d: %d tensors, footprint %d bytes (%s)\n",
		res.Model.GraphID, s.TotalTensors, res.Footprint, source)
	fmt.Fprintf(out, "  lower bound %d, upper bound %d\n", s.LowerBound, s.UpperBound)
	if s.LifelongSize > 0 {
		fmt.Fprintf(out, "  lifelong %d\n", s.LifelongSize)
	}
	if s.WorkspaceSize > 0 {
		fmt.Fprintf(out, "  workspace %d\n", s.WorkspaceSize)
	}
	if s.CommOutputSize > 0 || s.CommInputSize > 0 {
		fmt.Fprintf(out, "  comm output %d, comm input %d\n", s.CommOutputSize, s.CommInputSize)
	}
	if res.HashID != "" {
		fmt.Fprintf(out, "  hash %s\n", res.HashID)
	}
}

func writeSnapshot(path string, res *plan.Result) error {
	snap := &plancache.Snapshot{
		GraphID:   uint32(res.Model.GraphID),
		HashID:    res.HashID,
		Footprint: res.Footprint,
	}
	for _, t := range res.Model.Tensors {
		snap.TensorIDs = append(snap.TensorIDs, int32(t.ID))
		snap.Offsets = append(snap.Offsets, t.Offset)
		snap.Sizes = append(snap.Sizes, t.AlignedSize)
	}
	return plancache.WriteSnapshot(path, snap)
}

func runMemView(title string, res *plan.Result) error {
	m := res.Model
	regions := make([]ui.MemRegion, 0, len(m.Tensors))
	for _, t := range m.Tensors {
		name := ""
		if n := m.Node(t.Source); n != nil {
			name = n.Name
		}
		regions = append(regions, ui.MemRegion{
			TensorID: int(t.ID),
			Offset:   t.Offset,
			Size:     t.AlignedSize,
			Kind:     t.Kind.String(),
			Node:     name,
		})
	}
	sort.Slice(regions, func(i, j int) bool {
		if regions[i].Offset != regions[j].Offset {
			return regions[i].Offset < regions[j].Offset
		}
		return regions[i].TensorID < regions[j].TensorID
	})
	prog := tea.NewProgram(ui.NewMemView(title, res.Footprint, regions), tea.WithAltScreen())
	_, err := prog.Run()
	return err
}
