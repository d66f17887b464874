// Package alloc provides cell allocation and free-space management for the
// heap of a pmemtx pool.
//
// # Overview
//
// The heap is a contiguous run of cells, each with a 16-byte header holding
// a signed size (negative = allocated) and a type number. The FitAllocator
// keeps an in-memory best-fit index of free cells in two tidwall/btree trees
// (by offset for coalescing, by size for placement). The index is volatile:
// Load rebuilds it from the cell headers after recovery.
//
// # Two-step allocation
//
// Transactions must log an allocation before it becomes visible on disk, so
// allocation is split:
//
//	r, err := fa.Reserve(64, typeNum)   // pick and remove a free cell (memory only)
//	...append ALLOC_NEW undo entry for r.Payload()...
//	err = fa.Publish(r, true)           // zero, split, mark allocated, persist
//
// Cancel returns an unpublished reservation to the index.
//
// # Deferred reuse
//
// Freeing is also split. MarkFree durably flips the header sign and is
// idempotent, so recovery may repeat it. The freed cell is not indexed until
// Release, which the transaction engine calls only once the owning lane is
// back to IDLE; until then no other transaction can be handed the cell and
// a repeated undo replay cannot free someone else's object.
//
// # Thread Safety
//
// FitAllocator methods are safe for concurrent use. Walk and Load are not
// synchronized with concurrent mutation.
package alloc
