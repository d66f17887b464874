package tx

import (
	"errors"
	"fmt"

	"github.com/joshuapare/pmemtx/internal/format"
	"github.com/joshuapare/pmemtx/pkg/types"
	"github.com/joshuapare/pmemtx/pool/alloc"
)

// minSnapshotChunk is the smallest snapshot fragment written at the tail of
// a block before moving on to a fresh block.
const minSnapshotChunk = 64

// undoLog appends entries to a lane's chain of log blocks.
type undoLog struct {
	st       Storage
	heap     Heap
	pt       alloc.Persister
	hooks    Hooks
	lane     uint32
	gen      uint64
	size     int // block payload size
	capacity int // entry bytes per block

	blocks  []int // payload offsets, in chain order
	used    int   // entry bytes used in the tail block
	entries []format.Entry
}

func newUndoLog(m *Manager, pt alloc.Persister, lane uint32, gen uint64) *undoLog {
	return &undoLog{
		st:       m.st,
		heap:     m.heap,
		pt:       pt,
		hooks:    m.opts.Hooks,
		lane:     lane,
		gen:      gen,
		size:     m.opts.LogBlockSize,
		capacity: m.opts.LogBlockSize - format.BlockHeaderSize,
	}
}

// newBlock allocates, zeroes and stamps one log block. The block is not
// linked into the chain.
func (l *undoLog) newBlock() (int, error) {
	res, err := l.heap.Reserve(l.size, format.TypeLogBlock)
	if err != nil {
		if errors.Is(err, alloc.ErrNoSpace) || errors.Is(err, alloc.ErrTooLarge) {
			return 0, types.Exhausted("tx.log", "allocate undo log block", err)
		}
		return 0, err
	}
	if err := l.heap.Publish(res, true); err != nil {
		return 0, err
	}
	p := res.Payload()
	format.EncodeBlock(l.st.Bytes()[p:], format.Block{
		Capacity: uint32(l.capacity),
		Lane:     l.lane,
		Gen:      l.gen,
	})
	if err := l.pt.Persist(p, format.BlockHeaderSize); err != nil {
		return 0, err
	}
	return p, nil
}

// grow links a fresh block after the tail block.
func (l *undoLog) grow() error {
	p, err := l.newBlock()
	if err != nil {
		return err
	}
	tail := l.blocks[len(l.blocks)-1]
	format.PutU64(l.st.Bytes(), tail+format.BlockNextOffset, uint64(p))
	l.blocks = append(l.blocks, p)
	l.used = 0
	return l.pt.Persist(tail+format.BlockNextOffset, 8)
}

// append writes e at the tail of the log and persists it before returning.
func (l *undoLog) append(e format.Entry) error {
	e.Lane = uint16(l.lane)
	e.Gen = l.gen
	n := e.EncodedSize()
	if n > l.capacity {
		return fmt.Errorf("tx: log entry of %d bytes exceeds block capacity %d", n, l.capacity)
	}
	if l.used+n > l.capacity {
		if err := l.grow(); err != nil {
			return err
		}
	}
	data := l.st.Bytes()
	pos := l.blocks[len(l.blocks)-1] + format.BlockHeaderSize + l.used
	if _, err := format.EncodeEntry(data[pos:pos+n], e); err != nil {
		return err
	}
	if err := l.pt.Persist(pos, n); err != nil {
		return err
	}
	l.used += n
	payload := pos + format.EntryHeaderSize
	e.Payload = data[payload : payload+len(e.Payload)]
	l.entries = append(l.entries, e)
	l.hooks.fire(FailAfterEntryPersist)
	return nil
}

// appendSnapshot logs src, the current bytes at target+field, splitting it
// into as many SNAPSHOT entries as the blocks require.
func (l *undoLog) appendSnapshot(target, field int, src []byte) error {
	for len(src) > 0 {
		room := (l.capacity - l.used - format.EntryHeaderSize) &^ format.EntryAlignmentMask
		if room < min(len(src), minSnapshotChunk) {
			if err := l.grow(); err != nil {
				return err
			}
			continue
		}
		chunk := min(room, len(src))
		err := l.append(format.Entry{
			Kind:    format.EntrySnapshot,
			Target:  uint64(target),
			Field:   uint32(field),
			Payload: src[:chunk],
		})
		if err != nil {
			return err
		}
		src = src[chunk:]
		field += chunk
	}
	return nil
}

// readChain decodes the undo log of lane l. Blocks may already be marked
// free by an interrupted reclaim; only the type tag is checked.
func readChain(st Storage, l format.Lane) ([]int, []format.Entry, error) {
	data := st.Bytes()
	start, end := st.HeapStart(), st.HeapEnd()
	seen := make(map[int]struct{})
	var blocks []int
	var entries []format.Entry
	for p := int(l.FirstBlock); p != 0; {
		if _, dup := seen[p]; dup {
			return blocks, entries, fmt.Errorf("log block 0x%x: chain loops", p)
		}
		seen[p] = struct{}{}
		c, _, err := format.NextCell(data, start, end, p-format.CellHeaderSize)
		if err != nil {
			return blocks, entries, fmt.Errorf("log block 0x%x: %w", p, err)
		}
		if c.Type != format.TypeLogBlock {
			return blocks, entries, fmt.Errorf("log block 0x%x: cell type 0x%x", p, c.Type)
		}
		payload := data[p : c.Offset+c.Size]
		blk, err := format.ParseBlock(payload, l.Index, l.Gen)
		if err != nil {
			return blocks, entries, fmt.Errorf("log block 0x%x: %w", p, err)
		}
		blocks = append(blocks, p)
		body := payload[format.BlockHeaderSize : format.BlockHeaderSize+int(blk.Capacity)]
		for pos := 0; pos < len(body); {
			e, n, err := format.DecodeEntry(body[pos:], uint16(l.Index), l.Gen)
			if err == nil {
				entries = append(entries, e)
				pos += n
				continue
			}
			torn := errors.Is(err, format.ErrTornEntry)
			if !torn && !errors.Is(err, format.ErrEndOfLog) {
				return blocks, entries, fmt.Errorf("log block 0x%x+0x%x: %w", p, pos, err)
			}
			if torn && blk.Next != 0 {
				return blocks, entries, fmt.Errorf("log block 0x%x+0x%x: %w before the end of the chain", p, pos, err)
			}
			if later := nextEntry(body, pos+format.EntryAlignment, uint16(l.Index), l.Gen); later >= 0 {
				return blocks, entries, fmt.Errorf("log block 0x%x+0x%x: %w followed by an entry at +0x%x", p, pos, err, later)
			}
			break
		}
		p = int(blk.Next)
	}
	return blocks, entries, nil
}

// nextEntry returns the offset of the first aligned slot at or after from
// that decodes as an entry of lane/gen, or -1. Log blocks are zeroed when
// allocated and filled front to back, so nothing valid follows the end of a
// log.
func nextEntry(body []byte, from int, lane uint16, gen uint64) int {
	for pos := from; pos+format.EntryHeaderSize <= len(body); pos += format.EntryAlignment {
		if body[pos+format.EntryKindOffset] == 0 {
			continue
		}
		if _, _, err := format.DecodeEntry(body[pos:], lane, gen); err == nil {
			return pos
		}
	}
	return -1
}

// checkTargets verifies that every entry addresses a heap cell and that
// pre-images fit inside it.
func checkTargets(st Storage, entries []format.Entry) error {
	data := st.Bytes()
	start, end := st.HeapStart(), st.HeapEnd()
	for i, e := range entries {
		c, _, err := format.NextCell(data, start, end, int(e.Target)-format.CellHeaderSize)
		if err != nil {
			return fmt.Errorf("entry %d (%s): target 0x%x: %w", i, e.Kind, e.Target, err)
		}
		if int(e.Field)+len(e.Payload) > c.Size-format.CellHeaderSize {
			return fmt.Errorf("entry %d (%s): [0x%x, +%d) overruns cell of %d bytes",
				i, e.Kind, e.Field, len(e.Payload), c.Size)
		}
	}
	return nil
}

// replay undoes entries newest-first: pre-images are copied back and cells
// created by the log are marked free. Restored ranges are added to dt for
// the caller to flush; marked cells are returned for release. Replaying
// the same entries again produces the same state.
func replay(data []byte, entries []format.Entry, dt interface{ Add(off, n int) },
	markFree func(payload int) error, hooks Hooks, point string) ([]int, error) {
	var freed []int
	half := len(entries) / 2
	for i := len(entries) - 1; i >= 0; i-- {
		if len(entries)-1-i == half {
			hooks.fire(point)
		}
		e := entries[i]
		switch e.Kind {
		case format.EntrySet, format.EntrySnapshot:
			off := int(e.Target) + int(e.Field)
			copy(data[off:off+len(e.Payload)], e.Payload)
			dt.Add(off, len(e.Payload))
		case format.EntryAllocNew:
			if err := markFree(int(e.Target)); err != nil {
				return freed, err
			}
			freed = append(freed, int(e.Target))
		case format.EntryAllocFree:
			// Deferred frees never happened.
		}
	}
	return freed, nil
}
