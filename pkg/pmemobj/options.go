package pmemobj

import (
	"log/slog"

	"github.com/joshuapare/pmemtx/pool"
	"github.com/joshuapare/pmemtx/pool/dirty"
	"github.com/joshuapare/pmemtx/pool/tx"
)

// Options controls how a Store runs transactions and recovery.
type Options struct {
	// Layout, when non-empty, must match the layout name the pool was
	// created with.
	Layout string

	// FlushMode selects the durability barrier. FlushAuto is the default.
	// FlushNone trades power-loss safety for speed.
	FlushMode dirty.FlushMode

	// LogBlockSize is the payload size of undo log blocks.
	// Default: tx.DefaultLogBlockSize.
	LogBlockSize int

	// RecoveryWorkers bounds the lanes recovered in parallel at Open.
	RecoveryWorkers int

	// Logger receives recovery reports. Nil discards.
	Logger *slog.Logger

	// Hooks are fail points for crash tests.
	Hooks tx.Hooks
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		FlushMode:    dirty.FlushAuto,
		LogBlockSize: tx.DefaultLogBlockSize,
	}
}

func (o Options) txOptions() tx.Options {
	return tx.Options{
		FlushMode:       o.FlushMode,
		LogBlockSize:    o.LogBlockSize,
		RecoveryWorkers: o.RecoveryWorkers,
		Logger:          o.Logger,
		Hooks:           o.Hooks,
	}
}

// CreateOptions describes a new pool.
type CreateOptions struct {
	// Layout names the application layout (at most 63 bytes, NFC).
	Layout string
	// PoolSize is the file size. Default: pool.DefaultPoolSize.
	PoolSize int64
	// RootSize is the size of the root object. Required.
	RootSize int
	// Lanes bounds concurrently running transactions.
	// Default: pool.DefaultLaneCount.
	Lanes uint32
	// DirectZero zero-fills the file with O_DIRECT writes.
	DirectZero bool
}

func (c CreateOptions) poolOptions() pool.CreateOptions {
	return pool.CreateOptions{
		Layout:     c.Layout,
		Size:       c.PoolSize,
		RootSize:   c.RootSize,
		Lanes:      c.Lanes,
		DirectZero: c.DirectZero,
	}
}
