package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pmemtx/cmd/pmemctl/logger"
	"github.com/joshuapare/pmemtx/pkg/pmemobj"
	"github.com/joshuapare/pmemtx/pool/dirty"
)

var (
	recoverFlush   string
	recoverWorkers int
)

func init() {
	cmd := newRecoverCmd()
	cmd.Flags().StringVar(&recoverFlush, "flush", "auto", "Flush mode (auto, data-only, full, none)")
	cmd.Flags().IntVar(&recoverWorkers, "workers", 0, "Lanes recovered in parallel (default GOMAXPROCS)")
	rootCmd.AddCommand(cmd)
}

func newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover <pool>",
		Short: "Run recovery on a pool",
		Long: `The recover command opens a pool, which rolls back interrupted
transactions, completes committed ones and frees leftover log blocks, then
reports what was done.

Example:
  pmemctl recover data.pool
  pmemctl recover data.pool --flush full --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(cmd.Context(), args)
		},
	}
}

// storeOptions builds store options from the flush flag value.
func storeOptions(flush string) (pmemobj.Options, error) {
	mode, ok := dirty.ParseFlushMode(flush)
	if !ok {
		return pmemobj.Options{}, fmt.Errorf("unknown flush mode: %s (must be auto, data-only, full or none)", flush)
	}
	opts := pmemobj.DefaultOptions()
	opts.FlushMode = mode
	opts.Logger = logger.L
	return opts, nil
}

func runRecover(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	path := args[0]
	opts, err := storeOptions(recoverFlush)
	if err != nil {
		return err
	}
	opts.RecoveryWorkers = recoverWorkers

	printVerbose("Recovering pool: %s\n", path)
	s, err := pmemobj.OpenContext(ctx, path, opts)
	if err != nil {
		return fmt.Errorf("failed to recover pool: %w", err)
	}
	defer s.Close()
	report := s.Recovery()

	if jsonOut {
		return printJSON(map[string]any{
			"file":        path,
			"clean":       report.Clean(),
			"lanes":       report.Lanes,
			"orphans":     report.Orphans,
			"duration_ms": report.Duration.Milliseconds(),
		})
	}

	if report.Clean() {
		printInfo("%s %s: nothing to recover\n", mark(true), path)
		return nil
	}
	printInfo("\n%s %s\n", header("Recovered"), path)
	for _, l := range report.Lanes {
		printInfo("  lane %-4d %-10s gen %d: %s, %d entries, %d restored, %d freed\n",
			l.Lane, l.State, l.Gen, l.Outcome, l.Entries, l.Restored, l.Freed)
	}
	if report.Orphans > 0 {
		printInfo("  %s freed %d orphaned log blocks\n", warnMark(), report.Orphans)
	}
	printInfo("  took %s\n", report.Duration)
	return nil
}
