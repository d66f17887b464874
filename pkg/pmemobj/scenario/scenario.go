// Package scenario holds end-to-end crash scenarios for pmemobj stores.
//
// Each scenario prepares a pool, then runs a final transaction with a trap
// armed. When the trap fires at a tx fail point the process "crashes": the
// store is abandoned without cleanup and reopened, and recovery must leave
// the pool either untouched by that transaction (abort) or fully updated
// (commit), depending on where the crash happened.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/joshuapare/pmemtx/pkg/pmemobj"
	"github.com/joshuapare/pmemtx/pkg/types"
	"github.com/joshuapare/pmemtx/pool/tx"
)

// Root object layout shared by every scenario.
const (
	RootFoo    = 0  // handle of a Foo object
	RootBar    = 8  // handle of a Bar object
	RootValues = 16 // NValues little-endian int32
	RootSize   = RootValues + NValues*4

	FooSize = 64
	BarSize = 200 << 10

	TypeFoo uint32 = 1
	TypeBar uint32 = 2

	Value     = 5
	NValues   = 10
	Recursion = 5

	// Committed is the value every element holds after two nested update
	// passes commit.
	Committed = 2 * Recursion * Value

	Layout = "scenario"
)

// Outcome is what recovery must have done to the trapped transaction.
type Outcome int

const (
	Abort Outcome = iota
	Commit
)

func (o Outcome) String() string {
	if o == Commit {
		return "commit"
	}
	return "abort"
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// ExpectedOutcome maps the fail point a transaction stopped at to the
// outcome recovery must produce. An empty point means no crash.
func ExpectedOutcome(point string) Outcome {
	switch point {
	case tx.FailAfterEntryPersist, tx.FailBeforeCommitFlag, tx.FailMidReplay:
		return Abort
	default:
		return Commit
	}
}

// Crash is the panic value raised when an armed trap fires.
type Crash struct{ Point string }

// Trap raises a Crash at one fail point once armed.
type Trap struct {
	point string
	armed atomic.Bool
}

// NewTrap returns a disarmed trap for point.
func NewTrap(point string) *Trap { return &Trap{point: point} }

// Arm makes the next firing of the trap's point crash.
func (t *Trap) Arm() {
	if t != nil {
		t.armed.Store(true)
	}
}

// Hooks returns tx hooks that panic with a Crash once armed.
func (t *Trap) Hooks() tx.Hooks {
	return tx.Hooks{FailPoint: func(name string) {
		if name == t.point && t.armed.Load() {
			panic(Crash{Point: name})
		}
	}}
}

// VerifyError reports a failed check. Code identifies the check.
type VerifyError struct {
	Scenario int
	Code     int
	Msg      string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("scenario %d: check %d: %s", e.Scenario, e.Code, e.Msg)
}

func mismatch(sc, code int, format string, args ...any) error {
	return &VerifyError{Scenario: sc, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Scenario is one crash test.
type Scenario struct {
	Name     string
	PoolSize int64
	// Create prepares the pool and runs the trapped transaction, arming the
	// trap right before it.
	Create       func(ctx context.Context, s *pmemobj.Store, trap *Trap) error
	VerifyAbort  func(ctx context.Context, s *pmemobj.Store) error
	VerifyCommit func(ctx context.Context, s *pmemobj.Store) error
}

// Verify runs the check for outcome o.
func (sc Scenario) Verify(ctx context.Context, s *pmemobj.Store, o Outcome) error {
	if o == Commit {
		return sc.VerifyCommit(ctx, s)
	}
	return sc.VerifyAbort(ctx, s)
}

// All returns the scenarios in order; the index is the scenario number.
func All() []Scenario {
	return []Scenario{
		{"single large set undo", 8 << 20, sc0Create, sc0VerifyAbort, sc0VerifyCommit},
		{"single small set undo", 8 << 20, sc1Create, sc1VerifyAbort, sc1VerifyCommit},
		{"nested adds on the root", 8 << 20, sc2Create, sc2VerifyAbort, sc2VerifyCommit},
		{"nested sets on a large object", 64 << 20, sc3Create, sc3VerifyAbort, sc3VerifyCommit},
		{"nested adds on a small object", 8 << 20, sc4Create, sc4VerifyAbort, sc4VerifyCommit},
		{"nested sets on a small object", 8 << 20, sc5Create, sc5VerifyAbort, sc5VerifyCommit},
		{"free undo", 8 << 20, sc6Create, sc6VerifyAbort, sc6VerifyCommit},
		{"mixed small and large undo", 64 << 20, sc7Create, sc7VerifyAbort, sc7VerifyCommit},
		{"small allocation undo", 2 << 20, sc8Create, sc8VerifyAbort, sc8VerifyCommit},
		{"large allocation undo", 8 << 20, sc9Create, sc9VerifyAbort, sc9VerifyCommit},
	}
}

// Get returns scenario n.
func Get(n int) (Scenario, error) {
	all := All()
	if n < 0 || n >= len(all) {
		return Scenario{}, types.NotFound("scenario.get", fmt.Sprintf("scenario %d (have 0-%d)", n, len(all)-1), nil)
	}
	return all[n], nil
}

// Result describes one full run.
type Result struct {
	Scenario int
	Point    string // fail point the trap was set at
	Crashed  bool
	Outcome  Outcome
	Recovery tx.RecoveryReport
}

// Prepare creates the pool file for scenario n.
func Prepare(path string, n int, opts pmemobj.Options) error {
	sc, err := Get(n)
	if err != nil {
		return err
	}
	s, err := pmemobj.Create(path, pmemobj.CreateOptions{
		Layout:   Layout,
		PoolSize: sc.PoolSize,
		RootSize: RootSize,
	}, opts)
	if err != nil {
		return err
	}
	return s.Close()
}

// CreateCrashed opens the pool at path and runs scenario n's Create with a
// trap at point. It reports whether the trap fired. A crashed store is
// abandoned as is.
func CreateCrashed(ctx context.Context, path string, n int, point string, opts pmemobj.Options) (crashed bool, err error) {
	sc, err := Get(n)
	if err != nil {
		return false, err
	}
	trap := NewTrap(point)
	opts.Hooks = trap.Hooks()
	s, err := pmemobj.OpenContext(ctx, path, opts)
	if err != nil {
		return false, err
	}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if _, ok := r.(Crash); !ok {
			panic(r)
		}
		crashed = true
		err = s.Close()
	}()

	if err := sc.Create(ctx, s, trap); err != nil {
		_ = s.Close()
		return false, fmt.Errorf("scenario %d create: %w", n, err)
	}
	return false, s.Close()
}

// VerifyPool reopens the pool at path and runs scenario n's check for o.
func VerifyPool(ctx context.Context, path string, n int, o Outcome, opts pmemobj.Options) (tx.RecoveryReport, error) {
	sc, err := Get(n)
	if err != nil {
		return tx.RecoveryReport{}, err
	}
	opts.Hooks = tx.Hooks{}
	s, err := pmemobj.OpenContext(ctx, path, opts)
	if err != nil {
		return tx.RecoveryReport{}, err
	}
	report := s.Recovery()
	verr := sc.Verify(ctx, s, o)
	return report, errors.Join(verr, s.Close())
}

// Run prepares a fresh pool at path, crashes scenario n at point and
// verifies the outcome the crash point implies.
func Run(ctx context.Context, path string, n int, point string, opts pmemobj.Options) (Result, error) {
	res := Result{Scenario: n, Point: point, Outcome: Commit}
	if err := Prepare(path, n, opts); err != nil {
		return res, err
	}
	crashed, err := CreateCrashed(ctx, path, n, point, opts)
	if err != nil {
		return res, err
	}
	res.Crashed = crashed
	if crashed {
		res.Outcome = ExpectedOutcome(point)
	}
	res.Recovery, err = VerifyPool(ctx, path, n, res.Outcome, opts)
	return res, err
}
