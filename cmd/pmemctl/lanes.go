package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pmemtx/internal/format"
	"github.com/joshuapare/pmemtx/pool"
	"github.com/joshuapare/pmemtx/pool/tx"
)

var lanesAll bool

func init() {
	cmd := newLanesCmd()
	cmd.Flags().BoolVarP(&lanesAll, "all", "a", false, "Include idle lanes")
	rootCmd.AddCommand(cmd)
}

func newLanesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lanes <pool>",
		Short: "Show lane states and pending undo logs",
		Long: `The lanes command opens a pool read-only and lists every lane that is
not idle together with its undo log. With --verbose each undo entry is
printed. The pool is not recovered.

Example:
  pmemctl lanes data.pool
  pmemctl lanes data.pool --all --verbose`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLanes(args)
		},
	}
}

// laneJSON is the JSON form of one lane.
type laneJSON struct {
	Lane    uint32         `json:"lane"`
	State   string         `json:"state"`
	Gen     uint64         `json:"gen"`
	Blocks  []uint64       `json:"blocks,omitempty"`
	Entries []tx.EntryInfo `json:"entries,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func runLanes(args []string) error {
	path := args[0]
	p, err := pool.Open(path, pool.OpenOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to open pool: %w", err)
	}
	defer p.Close()

	dumps, err := tx.DumpLanes(p)
	if err != nil {
		return fmt.Errorf("failed to read lanes: %w", err)
	}

	var shown []tx.LaneDump
	for _, d := range dumps {
		if lanesAll || d.State != format.LaneIdle {
			shown = append(shown, d)
		}
	}

	if jsonOut {
		out := make([]laneJSON, 0, len(shown))
		for _, d := range shown {
			j := laneJSON{Lane: d.Index, State: d.State.String(), Gen: d.Gen, Blocks: d.Blocks, Entries: d.Entries}
			if d.Err != nil {
				j.Error = d.Err.Error()
			}
			out = append(out, j)
		}
		return printJSON(out)
	}

	printInfo("\n%s %d lanes, %d shown\n", header("Lanes:"), len(dumps), len(shown))
	for _, d := range shown {
		printInfo("  lane %-4d %-18s gen %d", d.Index, laneState(d.State.String()), d.Gen)
		if len(d.Blocks) > 0 {
			printInfo("  %d blocks, %d entries", len(d.Blocks), len(d.Entries))
		}
		printInfo("\n")
		if d.Err != nil {
			printInfo("    %s %v\n", mark(false), d.Err)
		}
		for i, e := range d.Entries {
			printVerbose("    %4d %-8s target 0x%X field %d len %d\n", i, e.Kind, e.Target, e.Field, e.Len)
		}
	}
	return nil
}
