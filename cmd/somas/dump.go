package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"somas/internal/config"
	"somas/internal/diag"
	"somas/internal/ir"
	"somas/internal/plan"
)

var (
	dumpFormat     string
	dumpOut        string
	dumpSolve      bool
	dumpConfigPath string
)

func init() {
	dumpCmd.Flags().StringVar(&dumpFormat, "format", "info", "dump format (info|offline|memory)")
	dumpCmd.Flags().StringVarP(&dumpOut, "output", "o", "", "write to file instead of stdout")
	dumpCmd.Flags().BoolVar(&dumpSolve, "solve", false, "solve before dumping so offsets are populated")
	dumpCmd.Flags().StringVar(&dumpConfigPath, "config", "", "path to somas.toml (default: next to the graph file)")
}

var dumpCmd = &cobra.Command{
	Use:   "dump <graph.json>",
	Short: "Dump the planning model as diagnostic text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := configureColor(cmd); err != nil {
			return err
		}
		quiet, _ := cmd.Flags().GetBool("quiet")
		maxDiags, _ := cmd.Flags().GetInt("max-diagnostics")

		g, err := ir.LoadFile(args[0])
		if err != nil {
			return err
		}

		var cfg config.Config
		if dumpConfigPath != "" {
			cfg, err = config.Load(dumpConfigPath)
		} else {
			cfg, err = config.Discover(args[0])
		}
		if err != nil {
			return err
		}

		bag := diag.NewBag(maxDiags)
		var m *plan.Model
		// The memory map is only meaningful with offsets assigned; info and
		// offline dumps describe the pre-solve model.
		if dumpSolve || dumpFormat == "memory" {
			res, err := plan.New(plan.Options{Bag: bag}).Run(cmd.Context(), g)
			if err != nil {
				printDiagnostics(cmd.ErrOrStderr(), bag, quiet)
				return err
			}
			m = res.Model
		} else {
			m, err = plan.BuildForDump(g, bag)
			if err != nil {
				printDiagnostics(cmd.ErrOrStderr(), bag, quiet)
				return err
			}
		}
		printDiagnostics(cmd.ErrOrStderr(), bag, quiet)

		var text string
		switch dumpFormat {
		case "info":
			text = m.InfoText(false)
		case "offline":
			text = m.Offline()
		case "memory":
			text = m.MemoryMap()
		default:
			return fmt.Errorf("invalid --format value %q (expected info|offline|memory)", dumpFormat)
		}

		// С настроенным [dump].dir дампы уходят в файлы даже без -o.
		target := dumpOut
		if target == "" && cfg.Dump.Dir != "" {
			target = filepath.Join(cfg.Dump.Dir, fmt.Sprintf("somas_%s_%d.ir", dumpFormat, g.ID))
		}
		if target == "" {
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, []byte(text), 0o644); err != nil {
			return err
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "dump written to %s\n", target)
		}
		return nil
	},
}
