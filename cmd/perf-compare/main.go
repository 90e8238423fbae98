// Command perf-compare prints the per-kind entry count difference between
// two sampler run directories.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvelasquez/node-perf/internal/compare"
	"github.com/dvelasquez/node-perf/internal/output"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, compare.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cmd := newCommand(stdout)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func newCommand(stdout io.Writer) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:           "perf-compare <dirA> <dirB>",
		Short:         "Diff entry counts between two sampler runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return compare.ErrUsage
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := compare.CompareDirs(args[0], args[1])
			if err != nil {
				return err
			}
			return output.PrintComparison(stdout, report, format)
		},
	}
	cmd.SetOut(stdout)
	cmd.Flags().StringVar(&format, "format", output.FormatText, "Output format: text, json or yaml")
	return cmd
}
