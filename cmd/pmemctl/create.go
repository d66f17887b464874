package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pmemtx/cmd/pmemctl/logger"
	"github.com/joshuapare/pmemtx/pkg/pmemobj"
	"github.com/joshuapare/pmemtx/pool"
)

var (
	createSize       int64
	createRootSize   int
	createLanes      uint32
	createLayout     string
	createDirectZero bool
)

func init() {
	cmd := newCreateCmd()
	cmd.Flags().Int64Var(&createSize, "size", pool.DefaultPoolSize, "Pool size in bytes")
	cmd.Flags().IntVar(&createRootSize, "root-size", 0, "Root object size in bytes (required)")
	cmd.Flags().Uint32Var(&createLanes, "lanes", pool.DefaultLaneCount, "Number of lanes")
	cmd.Flags().StringVar(&createLayout, "layout", "", "Layout name recorded in the header")
	cmd.Flags().BoolVar(&createDirectZero, "direct-zero", false, "Zero-fill the file with O_DIRECT writes")
	_ = cmd.MarkFlagRequired("root-size")
	rootCmd.AddCommand(cmd)
}

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <pool>",
		Short: "Create a new pool file",
		Long: `The create command makes a new pool file with an empty heap, a root
object of --root-size bytes and an idle lane table. The file must not exist.

Example:
  pmemctl create data.pool --root-size 256
  pmemctl create data.pool --root-size 56 --size 67108864 --layout convert`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(args)
		},
	}
}

func runCreate(args []string) error {
	path := args[0]
	printVerbose("Creating pool: %s\n", path)

	s, err := pmemobj.Create(path, pmemobj.CreateOptions{
		Layout:     createLayout,
		PoolSize:   createSize,
		RootSize:   createRootSize,
		Lanes:      createLanes,
		DirectZero: createDirectZero,
	}, pmemobj.Options{Logger: logger.L})
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	defer s.Close()

	stats := s.Stats()
	logger.Info("pool created", "path", path, "uuid", s.UUID().String(), "lanes", stats.Lanes)

	if jsonOut {
		return printJSON(map[string]any{
			"file":      path,
			"uuid":      s.UUID().String(),
			"layout":    s.Layout(),
			"root_size": s.RootSize(),
			"lanes":     stats.Lanes,
			"heap_free": stats.Heap.FreeBytes,
		})
	}
	printInfo("%s Created %s\n", mark(true), path)
	printInfo("  UUID: %s\n", s.UUID())
	printInfo("  Lanes: %d\n", stats.Lanes)
	printInfo("  Free heap: %s\n", formatSize(stats.Heap.FreeBytes))
	return nil
}
