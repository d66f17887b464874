/*
Package pmemobj is the application API of pmemtx: a persistent object store
in a memory-mapped file with nested, crash-consistent transactions.

# Quick Start

Create a pool with a 64-byte root object and update it atomically:

	s, err := pmemobj.Create("data.pool",
	    pmemobj.CreateOptions{Layout: "counter", RootSize: 64},
	    pmemobj.DefaultOptions())
	if err != nil {
	    log.Fatal(err)
	}
	defer s.Close()

	err = s.Update(ctx, func(f *tx.Frame) error {
	    n, _ := s.ReadU64(s.Root(), 0)
	    return f.SetU64(s.Root(), 0, n+1)
	})

# Transactions

Update runs one transaction: if fn returns an error, or any operation inside
it fails, every change is rolled back and Update returns an error wrapping
tx.ErrAborted. Frames nest: Begin on the frame's Tx opens an inner frame that
shares the transaction.

	err = s.Update(ctx, func(f *tx.Frame) error {
	    h, err := f.ZNew(128, typeNode)
	    if err != nil {
	        return err
	    }
	    return f.SetHandle(s.Root(), 8, h)
	})

Bytes obtained from Direct may be written only after the range has been
added to the running transaction (Frame.Add, Frame.AddRange or
Frame.AddObject).

# Recovery

Open runs recovery before returning: interrupted transactions are rolled
back, committed ones are completed. Recovery() reports what was done.

# Errors

Errors carry a pkg/types kind and match the types sentinels:

	if errors.Is(err, types.ErrNotFound) { ... }        // missing pool or bad handle
	if errors.Is(err, types.ErrCorrupt) { ... }         // damaged pool, Open failed
	if errors.Is(err, types.ErrResourceExhausted) { ... } // heap or lanes exhausted
	if errors.Is(err, types.ErrInvalidState) { ... }    // frame misuse
*/
package pmemobj
