package tx

import "github.com/tidwall/btree"

// span is a half-open byte range [lo, hi) of absolute pool offsets.
type span struct {
	lo, hi int
}

// rangeSet tracks the bytes whose pre-image is already in the undo log.
// Spans are disjoint and never adjacent; add merges eagerly.
type rangeSet struct {
	t *btree.BTreeG[span]
}

func newRangeSet() *rangeSet {
	return &rangeSet{
		t: btree.NewBTreeGOptions(func(a, b span) bool { return a.lo < b.lo }, btree.Options{NoLocks: true}),
	}
}

// gaps returns the sub-ranges of [lo, hi) that are not covered, in order.
func (s *rangeSet) gaps(lo, hi int) []span {
	if lo >= hi {
		return nil
	}
	cur := lo
	s.t.Descend(span{lo: lo}, func(sp span) bool {
		if sp.hi > cur {
			cur = sp.hi
		}
		return false
	})
	if cur >= hi {
		return nil
	}
	var out []span
	s.t.Ascend(span{lo: cur}, func(sp span) bool {
		if sp.lo >= hi {
			return false
		}
		if sp.lo > cur {
			out = append(out, span{lo: cur, hi: sp.lo})
		}
		cur = max(cur, sp.hi)
		return cur < hi
	})
	if cur < hi {
		out = append(out, span{lo: cur, hi: hi})
	}
	return out
}

// covered reports whether all of [lo, hi) is covered.
func (s *rangeSet) covered(lo, hi int) bool {
	return len(s.gaps(lo, hi)) == 0
}

// add marks [lo, hi) covered, merging with overlapping or adjacent spans.
func (s *rangeSet) add(lo, hi int) {
	if lo >= hi {
		return
	}
	if prev, ok := s.floor(lo); ok && prev.hi >= lo {
		s.t.Delete(prev)
		lo = prev.lo
		hi = max(hi, prev.hi)
	}
	var absorbed []span
	s.t.Ascend(span{lo: lo}, func(sp span) bool {
		if sp.lo > hi {
			return false
		}
		absorbed = append(absorbed, sp)
		return true
	})
	for _, sp := range absorbed {
		s.t.Delete(sp)
		hi = max(hi, sp.hi)
	}
	s.t.Set(span{lo: lo, hi: hi})
}

func (s *rangeSet) floor(lo int) (span, bool) {
	var out span
	var ok bool
	s.t.Descend(span{lo: lo}, func(sp span) bool {
		out, ok = sp, true
		return false
	})
	return out, ok
}

func (s *rangeSet) spans() []span {
	out := make([]span, 0, s.t.Len())
	s.t.Scan(func(sp span) bool {
		out = append(out, sp)
		return true
	})
	return out
}

func (s *rangeSet) clear() { s.t.Clear() }
