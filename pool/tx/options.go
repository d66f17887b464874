package tx

import (
	"log/slog"
	"runtime"

	"github.com/joshuapare/pmemtx/pool/dirty"
)

const (
	// DefaultLogBlockSize is the payload size of one undo log block.
	DefaultLogBlockSize = 64 << 10

	// MinLogBlockSize is the smallest accepted log block.
	MinLogBlockSize = 1 << 10
)

// Options configures a Manager and Recover.
type Options struct {
	// FlushMode selects the durability barrier used at commit and abort.
	// FlushNone skips every flush and is only crash safe against process
	// crashes.
	FlushMode dirty.FlushMode

	// LogBlockSize is the payload size of each undo log block.
	LogBlockSize int

	// RecoveryWorkers bounds the lanes recovered in parallel. Zero means
	// GOMAXPROCS.
	RecoveryWorkers int

	// Logger receives recovery and stranded-lane reports. Nil discards.
	Logger *slog.Logger

	Hooks Hooks
}

func (o Options) withDefaults() Options {
	if o.LogBlockSize == 0 {
		o.LogBlockSize = DefaultLogBlockSize
	}
	if o.LogBlockSize < MinLogBlockSize {
		o.LogBlockSize = MinLogBlockSize
	}
	if o.RecoveryWorkers <= 0 {
		o.RecoveryWorkers = runtime.GOMAXPROCS(0)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}
