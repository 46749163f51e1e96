package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"somas/internal/diag"
)

func configureColor(cmd *cobra.Command) error {
	mode, err := cmd.Flags().GetString("color")
	if err != nil {
		return err
	}
	switch strings.TrimSpace(strings.ToLower(mode)) {
	case "", "auto":
		color.NoColor = !isTerminal(os.Stdout)
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", mode)
	}
	return nil
}

var (
	errStyle  = color.New(color.FgRed, color.Bold)
	warnStyle = color.New(color.FgYellow)
	infoStyle = color.New(color.FgCyan)
)

// printDiagnostics выводит отсортированный список диагностик.
func printDiagnostics(out io.Writer, bag *diag.Bag, quiet bool) {
	if bag == nil {
		return
	}
	bag.Sort()
	for _, d := range bag.Items() {
		if quiet && d.Severity < diag.SevWarning {
			continue
		}
		var style *color.Color
		switch d.Severity {
		case diag.SevError:
			style = errStyle
		case diag.SevWarning:
			style = warnStyle
		default:
			style = infoStyle
		}
		fmt.Fprintf(out, "%s %s: %s", style.Sprint(d.Severity.String()), d.Code, d.Message)
		if d.Node >= 0 {
			fmt.Fprintf(out, " (node %d)", d.Node)
		}
		if d.Tensor >= 0 {
			fmt.Fprintf(out, " (tensor %d)", d.Tensor)
		}
		fmt.Fprintln(out)
	}
}
