package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joshuapare/pmemtx/internal/format"
	"github.com/joshuapare/pmemtx/internal/mmfile"
	"github.com/joshuapare/pmemtx/pool/verify"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <pool>",
		Short: "Show pool header and heap statistics",
		Long: `The info command maps a pool read-only and prints its header, lane
usage and heap statistics. The pool is not recovered or modified.

Example:
  pmemctl info data.pool
  pmemctl info data.pool --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(args)
		},
	}
}

// poolInfo is the JSON form of the info command.
type poolInfo struct {
	File      string           `json:"file"`
	Size      int64            `json:"size"`
	Version   string           `json:"version"`
	UUID      string           `json:"uuid"`
	Layout    string           `json:"layout"`
	Created   time.Time        `json:"created"`
	Lanes     uint32           `json:"lanes"`
	BusyLanes int              `json:"busy_lanes"`
	HeapOff   uint64           `json:"heap_offset"`
	HeapSize  uint64           `json:"heap_size"`
	RootOff   uint64           `json:"root_offset"`
	RootSize  uint64           `json:"root_size"`
	Heap      verify.HeapStats `json:"heap"`
}

func runInfo(args []string) error {
	path := args[0]
	printVerbose("Mapping pool: %s\n", path)

	img, err := mmfile.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open pool: %w", err)
	}
	defer img.Close()
	data := img.Bytes()

	hdr, err := format.ParseHeader(data)
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if err := verify.Header(data); err != nil {
		return err
	}
	stats, err := verify.Stats(data)
	if err != nil {
		return fmt.Errorf("failed to walk heap: %w", err)
	}

	info := poolInfo{
		File:      path,
		Size:      int64(len(data)),
		Version:   fmt.Sprintf("%d.%d", hdr.Major, hdr.Minor),
		UUID:      uuid.UUID(hdr.UUID).String(),
		Layout:    hdr.Layout,
		Created:   time.Unix(0, hdr.CreateTime).UTC(),
		Lanes:     hdr.LaneCount,
		BusyLanes: busyLanes(data, hdr.LaneCount),
		HeapOff:   hdr.HeapOff,
		HeapSize:  hdr.HeapSize,
		RootOff:   hdr.RootOff,
		RootSize:  hdr.RootSize,
		Heap:      stats,
	}
	if jsonOut {
		return printJSON(info)
	}

	printInfo("\n%s\n", header("Pool Information:"))
	printInfo("  File: %s\n", info.File)
	printInfo("  Size: %s\n", formatSize(info.Size))
	printInfo("  Version: %s\n", info.Version)
	printInfo("  UUID: %s\n", info.UUID)
	printInfo("  Layout: %q\n", info.Layout)
	printInfo("  Created: %s\n", info.Created.Format(time.RFC3339))
	printInfo("  Root: %d bytes at 0x%X\n", info.RootSize, info.RootOff)
	printInfo("  Lanes: %d (%d need recovery)\n", info.Lanes, info.BusyLanes)

	printInfo("\n%s\n", header("Heap:"))
	printInfo("  Size: %s at 0x%X\n", formatSize(int64(info.HeapSize)), info.HeapOff)
	printInfo("  Cells: %d (%d free)\n", stats.Cells, stats.FreeCells)
	printInfo("  Objects: %d (%s)\n", stats.Objects, formatSize(stats.ObjectSize))
	printInfo("  Free: %s\n", formatSize(stats.FreeBytes))
	if stats.LogBlocks > 0 {
		printInfo("  Log blocks: %d\n", stats.LogBlocks)
	}
	return nil
}

// busyLanes counts lanes that are not IDLE. Unparseable lanes count as busy.
func busyLanes(data []byte, n uint32) int {
	busy := 0
	for i := range n {
		l, err := format.ParseLane(data[format.LaneOffset(i):], i)
		if err != nil || l.State != format.LaneIdle {
			busy++
		}
	}
	return busy
}
