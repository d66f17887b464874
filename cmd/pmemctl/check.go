package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pmemtx/cmd/pmemctl/logger"
	"github.com/joshuapare/pmemtx/internal/mmfile"
	"github.com/joshuapare/pmemtx/pool/verify"
)

// errCheckFailed is returned when a pool violates an invariant.
var errCheckFailed = errors.New("pool check failed")

func init() {
	rootCmd.AddCommand(newCheckCmd())
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <pool>",
		Short: "Validate pool structure without modifying it",
		Long: `The check command maps a pool read-only and validates its header, lane
table and heap. Lanes awaiting recovery and leftover log blocks are reported
as warnings; run "pmemctl recover" to clear them.

Example:
  pmemctl check data.pool
  pmemctl check data.pool --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), args)
		},
	}
}

func runCheck(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	path := args[0]
	printVerbose("Checking pool: %s\n", path)

	img, err := mmfile.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open pool: %w", err)
	}
	defer img.Close()

	report, err := verify.Check(ctx, img.Bytes())
	if err != nil {
		return err
	}
	logger.Info("pool checked", "path", path, "errors", len(report.Errors), "warnings", len(report.Warnings))

	if jsonOut {
		result := map[string]any{
			"file":     path,
			"valid":    report.OK(),
			"errors":   errorStrings(report.Errors),
			"warnings": errorStrings(report.Warnings),
			"heap":     report.Stats,
		}
		if err := printJSON(result); err != nil {
			return err
		}
	} else {
		printInfo("\nChecking %s...\n\n", path)
		for _, e := range report.Errors {
			printInfo("  %s %v\n", mark(false), e)
		}
		for _, w := range report.Warnings {
			printInfo("  %s %v\n", warnMark(), w)
		}
		if report.OK() {
			printInfo("  %s Header, lanes and heap valid\n", mark(true))
			printInfo("\nResult: %s VALID\n", mark(true))
		} else {
			printInfo("\nResult: %s INVALID\n", mark(false))
		}
	}
	if !report.OK() {
		return fmt.Errorf("%w: %d problems", errCheckFailed, len(report.Errors))
	}
	return nil
}

func errorStrings(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}
