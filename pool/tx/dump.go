package tx

import (
	"github.com/joshuapare/pmemtx/internal/format"
)

// EntryInfo summarizes one undo entry.
type EntryInfo struct {
	Kind   format.EntryKind
	Target uint64
	Field  uint32
	Len    int
}

// LaneDump is a read-only view of a lane and its undo log.
type LaneDump struct {
	format.Lane
	Blocks  []uint64
	Entries []EntryInfo
	Err     error // chain decoding error, if any
}

// DumpLanes reads every lane without modifying the pool. Chains are only
// decoded for lanes that are not IDLE.
func DumpLanes(st Storage) ([]LaneDump, error) {
	data := st.Bytes()
	out := make([]LaneDump, 0, st.LaneCount())
	for i := range st.LaneCount() {
		l, err := format.ParseLane(data[format.LaneOffset(i):], i)
		if err != nil {
			return out, err
		}
		d := LaneDump{Lane: l}
		if l.State != format.LaneIdle {
			blocks, entries, err := readChain(st, l)
			d.Err = err
			for _, b := range blocks {
				d.Blocks = append(d.Blocks, uint64(b))
			}
			for _, e := range entries {
				d.Entries = append(d.Entries, EntryInfo{
					Kind:   e.Kind,
					Target: e.Target,
					Field:  e.Field,
					Len:    len(e.Payload),
				})
			}
		}
		out = append(out, d)
	}
	return out, nil
}
