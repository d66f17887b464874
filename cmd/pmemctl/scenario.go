package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pmemtx/cmd/pmemctl/logger"
	"github.com/joshuapare/pmemtx/pkg/pmemobj/scenario"
	"github.com/joshuapare/pmemtx/pool/tx"
)

var (
	scenarioPoint   string
	scenarioDir     string
	scenarioFlush   string
	scenarioOutcome string
)

func init() {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run crash-consistency scenarios",
		Long: `The scenario commands replay the crash scenarios used to test the
transaction engine. Each scenario prepares a pool, runs a final transaction
that "crashes" at a fail point, then reopens the pool and checks that recovery
rolled the transaction back (crash before the commit flag) or completed it
(crash after).

Fail points:
  after-entry-persist  after an undo entry is durable
  before-commit-flag   before the lane is marked COMMITTED
  after-commit-flag    right after the commit point
  before-lane-idle     after deferred frees, before the lane is released`,
	}
	cmd.PersistentFlags().StringVar(&scenarioFlush, "flush", "none", "Flush mode (auto, data-only, full, none)")

	run := newScenarioRunCmd()
	run.Flags().StringVar(&scenarioPoint, "point", tx.FailBeforeCommitFlag, "Fail point to crash at")
	run.Flags().StringVar(&scenarioDir, "dir", "", "Directory for pool files (default: temporary)")

	create := newScenarioCreateCmd()
	create.Flags().StringVar(&scenarioPoint, "point", tx.FailBeforeCommitFlag, "Fail point to crash at")

	verifyCmd := newScenarioVerifyCmd()
	verifyCmd.Flags().StringVar(&scenarioOutcome, "outcome", "", "Expected outcome: abort or commit (required)")
	_ = verifyCmd.MarkFlagRequired("outcome")

	cmd.AddCommand(newScenarioListCmd(), run, create, verifyCmd)
	rootCmd.AddCommand(cmd)
}

func newScenarioListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioList()
		},
	}
}

func newScenarioRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <n|all>",
		Short: "Prepare, crash and verify scenarios end to end",
		Long: `The run command executes whole scenarios: create a pool, crash at
--point, recover and verify.

Example:
  pmemctl scenario run all
  pmemctl scenario run 6 --point after-commit-flag`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioRun(cmd.Context(), args)
		},
	}
}

func newScenarioCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <pool> <n>",
		Short: "Create a scenario pool and crash its final transaction",
		Long: `The create command creates <pool> (when missing) and runs scenario
<n> up to the crash at --point. Run "scenario verify" afterwards.

Example:
  pmemctl scenario create sc.pool 2 --point after-commit-flag
  pmemctl scenario verify sc.pool 2 --outcome commit`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioCreate(cmd.Context(), args)
		},
	}
}

func newScenarioVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <pool> <n>",
		Short: "Recover a scenario pool and check the expected outcome",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioVerify(cmd.Context(), args)
		},
	}
}

func runScenarioList() error {
	all := scenario.All()
	if jsonOut {
		out := make([]map[string]any, 0, len(all))
		for n, sc := range all {
			out = append(out, map[string]any{"n": n, "name": sc.Name, "pool_size": sc.PoolSize})
		}
		return printJSON(out)
	}
	printInfo("%s\n", header("Scenarios:"))
	for n, sc := range all {
		printInfo("  %d  %-32s %s\n", n, sc.Name, formatSize(sc.PoolSize))
	}
	return nil
}

func parseScenario(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid scenario number %q", s)
	}
	if _, err := scenario.Get(n); err != nil {
		return 0, err
	}
	return n, nil
}

func runScenarioRun(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	opts, err := storeOptions(scenarioFlush)
	if err != nil {
		return err
	}

	var which []int
	if args[0] == "all" {
		for n := range scenario.All() {
			which = append(which, n)
		}
	} else {
		n, err := parseScenario(args[0])
		if err != nil {
			return err
		}
		which = []int{n}
	}

	dir := scenarioDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "pmemctl-scenario-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	var results []scenario.Result
	failed := 0
	for _, n := range which {
		path := filepath.Join(dir, fmt.Sprintf("sc%d.pool", n))
		_ = os.Remove(path)
		res, err := scenario.Run(ctx, path, n, scenarioPoint, opts)
		results = append(results, res)
		logger.Info("scenario finished", "n", n, "point", scenarioPoint, "crashed", res.Crashed,
			"outcome", res.Outcome.String(), "err", err)
		if err != nil {
			failed++
		}
		if !jsonOut {
			status := mark(err == nil)
			printInfo("  %s sc%d %-32s crashed=%-5t outcome=%s\n",
				status, n, scenario.All()[n].Name, res.Crashed, res.Outcome)
			if err != nil {
				printInfo("      %v\n", err)
			}
		}
	}
	if jsonOut {
		if err := printJSON(results); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(which))
	}
	return nil
}

func runScenarioCreate(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	path := args[0]
	n, err := parseScenario(args[1])
	if err != nil {
		return err
	}
	opts, err := storeOptions(scenarioFlush)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := scenario.Prepare(path, n, opts); err != nil {
			return err
		}
	}
	crashed, err := scenario.CreateCrashed(ctx, path, n, scenarioPoint, opts)
	if err != nil {
		return err
	}
	outcome := scenario.Commit
	if crashed {
		outcome = scenario.ExpectedOutcome(scenarioPoint)
	}
	if jsonOut {
		return printJSON(map[string]any{"file": path, "scenario": n, "crashed": crashed, "expect": outcome.String()})
	}
	printInfo("sc%d: crashed=%t, verify with --outcome %s\n", n, crashed, outcome)
	return nil
}

func runScenarioVerify(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	path := args[0]
	n, err := parseScenario(args[1])
	if err != nil {
		return err
	}
	var outcome scenario.Outcome
	switch scenarioOutcome {
	case "abort":
		outcome = scenario.Abort
	case "commit":
		outcome = scenario.Commit
	default:
		return fmt.Errorf("unknown outcome: %s (must be abort or commit)", scenarioOutcome)
	}
	opts, err := storeOptions(scenarioFlush)
	if err != nil {
		return err
	}
	report, err := scenario.VerifyPool(ctx, path, n, outcome, opts)
	if jsonOut {
		result := map[string]any{"file": path, "scenario": n, "outcome": outcome.String(),
			"recovered_lanes": len(report.Lanes), "valid": err == nil}
		if err != nil {
			result["error"] = err.Error()
		}
		if perr := printJSON(result); perr != nil {
			return perr
		}
		return err
	}
	if err != nil {
		printInfo("%s sc%d %s: %v\n", mark(false), n, outcome, err)
		return err
	}
	printInfo("%s sc%d %s verified (%d lanes recovered)\n", mark(true), n, outcome, len(report.Lanes))
	return nil
}
