package tx

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/pmemtx/internal/format"
	"github.com/joshuapare/pmemtx/pkg/types"
	"github.com/joshuapare/pmemtx/pool/alloc"
	"github.com/joshuapare/pmemtx/pool/dirty"
)

// Recovery outcomes reported per lane.
const (
	OutcomeRolledBack = "rolled-back"
	OutcomeCompleted  = "completed"
)

// LaneReport describes what recovery did to one non-idle lane.
type LaneReport struct {
	Lane     uint32
	State    format.LaneState
	Gen      uint64
	Blocks   int
	Entries  int
	Restored int // SET and SNAPSHOT entries undone
	Freed    int // cells marked free by replay or deferred frees
	Outcome  string
}

// RecoveryReport summarizes a Recover run.
type RecoveryReport struct {
	Lanes    []LaneReport
	Orphans  int // log blocks found outside any chain
	Duration time.Duration
}

// Clean reports whether the pool needed no recovery.
func (r RecoveryReport) Clean() bool {
	return len(r.Lanes) == 0 && r.Orphans == 0
}

// Recover brings every lane of st back to IDLE. ACTIVE lanes are rolled
// back, COMMITTED lanes have their deferred frees completed. Afterwards any
// log block still allocated is freed. Recover must run before the heap
// index is loaded. Structural damage in a lane or chain is reported as a
// Corrupt error and leaves the pool untouched past that lane.
//
// The context is checked before work starts; once a lane is being
// recovered it runs to completion.
func Recover(ctx context.Context, st Storage, opts Options) (RecoveryReport, error) {
	const op = "tx.recover"
	opts = opts.withDefaults()
	var report RecoveryReport
	if err := ctx.Err(); err != nil {
		return report, err
	}
	start := time.Now()

	data := st.Bytes()
	var pending []format.Lane
	for i := range st.LaneCount() {
		l, err := format.ParseLane(data[format.LaneOffset(i):], i)
		if err != nil {
			return report, types.Corrupt(op, "lane table", err)
		}
		if l.State != format.LaneIdle {
			pending = append(pending, l)
		}
	}

	var mu sync.Mutex
	recoverOne := func(l format.Lane) error {
		rep, err := recoverLane(st, l, opts)
		if err != nil {
			return types.Corrupt(op, fmt.Sprintf("lane %d gen %d", l.Index, l.Gen), err)
		}
		opts.Logger.Info("recovered lane",
			"lane", rep.Lane,
			"state", rep.State.String(),
			"gen", rep.Gen,
			"entries", rep.Entries,
			"outcome", rep.Outcome)
		mu.Lock()
		report.Lanes = append(report.Lanes, rep)
		mu.Unlock()
		return nil
	}

	// Lanes are independent; a single worker runs them on the caller's
	// goroutine so fail point panics reach the caller.
	if opts.RecoveryWorkers == 1 || len(pending) <= 1 {
		for _, l := range pending {
			if err := recoverOne(l); err != nil {
				return report, err
			}
		}
	} else {
		var g errgroup.Group
		g.SetLimit(opts.RecoveryWorkers)
		for _, l := range pending {
			g.Go(func() error { return recoverOne(l) })
		}
		if err := g.Wait(); err != nil {
			return report, err
		}
	}
	slices.SortFunc(report.Lanes, func(a, b LaneReport) int { return int(a.Lane) - int(b.Lane) })

	orphans, err := sweepOrphans(st, opts)
	if err != nil {
		return report, types.Corrupt(op, "heap walk", err)
	}
	report.Orphans = orphans
	if orphans > 0 {
		opts.Logger.Info("freed orphaned log blocks", "count", orphans)
	}
	report.Duration = time.Since(start)
	return report, nil
}

func recoverLane(st Storage, l format.Lane, opts Options) (LaneReport, error) {
	rep := LaneReport{Lane: l.Index, State: l.State, Gen: l.Gen}
	dt := dirty.NewTracker(st, opts.FlushMode)
	data := st.Bytes()

	blocks, entries, err := readChain(st, l)
	if err != nil {
		return rep, err
	}
	if err := checkTargets(st, entries); err != nil {
		return rep, err
	}
	rep.Blocks, rep.Entries = len(blocks), len(entries)

	markFree := func(p int) error { return alloc.MarkFree(st, dt, p) }
	switch l.State {
	case format.LaneActive:
		freed, err := replay(data, entries, dt, markFree, opts.Hooks, FailRecoveryMidReplay)
		if err != nil {
			return rep, err
		}
		if err := dt.FlushData(context.Background()); err != nil {
			return rep, err
		}
		rep.Freed = len(freed)
		for _, e := range entries {
			if e.Kind == format.EntrySet || e.Kind == format.EntrySnapshot {
				rep.Restored++
			}
		}
		rep.Outcome = OutcomeRolledBack
	case format.LaneCommitted:
		for _, e := range entries {
			if e.Kind != format.EntryAllocFree {
				continue
			}
			if err := markFree(int(e.Target)); err != nil {
				return rep, err
			}
			rep.Freed++
		}
		rep.Outcome = OutcomeCompleted
	}

	for _, b := range blocks {
		if err := markFree(b); err != nil {
			return rep, err
		}
	}
	if err := writeLane(data, dt, format.Lane{Index: l.Index, State: format.LaneIdle, Gen: l.Gen}); err != nil {
		return rep, err
	}
	return rep, dt.Barrier(context.Background())
}

// sweepOrphans frees allocated log blocks. With every lane IDLE none of
// them can belong to a live chain; they are left behind by crashes between
// allocating a block and linking it.
func sweepOrphans(st Storage, opts Options) (int, error) {
	var orphans []int
	err := alloc.Walk(st, func(c format.Cell) error {
		if !c.Free && c.Type == format.TypeLogBlock {
			orphans = append(orphans, c.PayloadOffset())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(orphans) == 0 {
		return 0, nil
	}
	dt := dirty.NewTracker(st, opts.FlushMode)
	for _, p := range orphans {
		if err := alloc.MarkFree(st, dt, p); err != nil {
			return 0, err
		}
	}
	return len(orphans), dt.Barrier(context.Background())
}
