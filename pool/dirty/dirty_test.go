package dirty

import (
	"context"
	"errors"
	"testing"
)

// recordingFlusher records every call so tests can check ordering.
type recordingFlusher struct {
	flushes []Range
	syncs   []bool
	failAt  int // 1-based flush call to fail, 0 = never
}

func (f *recordingFlusher) Flush(off, n int) error {
	f.flushes = append(f.flushes, Range{Off: int64(off), Len: int64(n)})
	if f.failAt != 0 && len(f.flushes) == f.failAt {
		return errors.New("injected flush failure")
	}
	return nil
}

func (f *recordingFlusher) Sync(full bool) error {
	f.syncs = append(f.syncs, full)
	return nil
}

// Test 1: Page Alignment.
func Test_DirtyTracker_PageAlignment(t *testing.T) {
	tracker := NewTracker(&recordingFlusher{}, FlushAuto)

	// Add a range that's NOT page-aligned (offset 100, length 200)
	tracker.Add(100, 200)

	coalesced := tracker.coalesce()
	if len(coalesced) != 1 {
		t.Fatalf("Expected 1 coalesced range, got %d", len(coalesced))
	}
	if coalesced[0].Off != 0 {
		t.Errorf("Start not aligned: got %d, want 0", coalesced[0].Off)
	}
	if coalesced[0].Len != 4096 {
		t.Errorf("Length not aligned: got %d, want 4096", coalesced[0].Len)
	}
}

// Test 2: Coalescing Adjacent Ranges.
func Test_DirtyTracker_Coalesce_Adjacent(t *testing.T) {
	tracker := NewTracker(&recordingFlusher{}, FlushAuto)

	tracker.Add(4096, 4096)
	tracker.Add(8192, 4096)

	coalesced := tracker.coalesce()
	if len(coalesced) != 1 {
		t.Fatalf("Expected 1 merged range, got %d", len(coalesced))
	}
	if coalesced[0].Off != 4096 || coalesced[0].Len != 8192 {
		t.Errorf("Merged range: got (%d, %d), want (4096, 8192)", coalesced[0].Off, coalesced[0].Len)
	}
}

// Test 3: Coalescing Overlapping Ranges.
func Test_DirtyTracker_Coalesce_Overlapping(t *testing.T) {
	tracker := NewTracker(&recordingFlusher{}, FlushAuto)

	tracker.Add(4096, 8192)
	tracker.Add(0, 8192)

	coalesced := tracker.coalesce()
	if len(coalesced) != 1 {
		t.Fatalf("Expected 1 merged range, got %d", len(coalesced))
	}
	if coalesced[0].Off != 0 || coalesced[0].Len != 12288 {
		t.Errorf("Merged range: got (%d, %d), want (0, 12288)", coalesced[0].Off, coalesced[0].Len)
	}
}

// Test 4: Non-Overlapping Ranges.
func Test_DirtyTracker_Coalesce_Separate(t *testing.T) {
	tracker := NewTracker(&recordingFlusher{}, FlushAuto)

	tracker.Add(20480, 16)
	tracker.Add(0, 4096)

	coalesced := tracker.coalesce()
	if len(coalesced) != 2 {
		t.Fatalf("Expected 2 separate ranges, got %d", len(coalesced))
	}
	if coalesced[0].Off != 0 || coalesced[1].Off != 20480 {
		t.Errorf("Ranges not sorted: %+v", coalesced)
	}
}

// Test 5: FlushData hands coalesced ranges to the flusher and clears them.
func Test_DirtyTracker_FlushData(t *testing.T) {
	f := &recordingFlusher{}
	tracker := NewTracker(f, FlushAuto)

	tracker.Add(0x5010, 32)
	tracker.Add(0x5100, 8)
	tracker.Add(0x9000, 16)

	if err := tracker.FlushData(context.Background()); err != nil {
		t.Fatalf("FlushData() failed: %v", err)
	}
	want := []Range{{Off: 0x5000, Len: 0x1000}, {Off: 0x9000, Len: 0x1000}}
	if len(f.flushes) != len(want) {
		t.Fatalf("flushes = %+v, want %+v", f.flushes, want)
	}
	for i := range want {
		if f.flushes[i] != want[i] {
			t.Errorf("flush %d = %+v, want %+v", i, f.flushes[i], want[i])
		}
	}
	if tracker.Len() != 0 {
		t.Errorf("Ranges not cleared after flush: got %d, want 0", tracker.Len())
	}
}

// Test 6: A failed flush keeps the ranges for a retry.
func Test_DirtyTracker_FlushData_FailureKeepsRanges(t *testing.T) {
	f := &recordingFlusher{failAt: 1}
	tracker := NewTracker(f, FlushAuto)
	tracker.Add(0x5000, 8)

	if err := tracker.FlushData(context.Background()); err == nil {
		t.Fatalf("expected injected failure")
	}
	if tracker.Len() != 1 {
		t.Fatalf("ranges dropped after failed flush")
	}
}

// Test 7: Barrier honours the flush mode.
func Test_DirtyTracker_BarrierModes(t *testing.T) {
	tests := []struct {
		mode      FlushMode
		wantSyncs []bool
	}{
		{FlushAuto, []bool{false}},
		{FlushDataOnly, nil},
		{FlushFull, []bool{true}},
		{FlushNone, nil},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			f := &recordingFlusher{}
			tracker := NewTracker(f, tt.mode)
			if err := tracker.Barrier(context.Background()); err != nil {
				t.Fatalf("Barrier() failed: %v", err)
			}
			if len(f.syncs) != len(tt.wantSyncs) {
				t.Fatalf("syncs = %v, want %v", f.syncs, tt.wantSyncs)
			}
			for i := range f.syncs {
				if f.syncs[i] != tt.wantSyncs[i] {
					t.Errorf("sync %d full=%v, want %v", i, f.syncs[i], tt.wantSyncs[i])
				}
			}
		})
	}
}

// Test 8: FlushNone never reaches the flusher.
func Test_DirtyTracker_FlushNone(t *testing.T) {
	f := &recordingFlusher{}
	tracker := NewTracker(f, FlushNone)
	tracker.Add(0x5000, 8)

	if err := tracker.Persist(0x6000, 8); err != nil {
		t.Fatalf("Persist() failed: %v", err)
	}
	if err := tracker.FlushData(context.Background()); err != nil {
		t.Fatalf("FlushData() failed: %v", err)
	}
	if len(f.flushes) != 0 {
		t.Fatalf("FlushNone issued %d flushes", len(f.flushes))
	}
	if tracker.Len() != 0 {
		t.Fatalf("ranges not cleared")
	}
}

// Test 9: Reset and zero-length adds.
func Test_DirtyTracker_Reset(t *testing.T) {
	tracker := NewTracker(&recordingFlusher{}, FlushAuto)

	tracker.Add(0, 100)
	tracker.Add(4096, 0)
	tracker.Add(8192, 300)
	if len(tracker.DebugRanges()) != 2 {
		t.Fatalf("Expected 2 ranges before reset, got %d", len(tracker.DebugRanges()))
	}

	tracker.Reset()
	if tracker.Len() != 0 {
		t.Errorf("Ranges not cleared after reset: got %d, want 0", tracker.Len())
	}
	if tracker.DebugCoalescedRanges() != nil {
		t.Errorf("expected nil coalesced ranges for empty tracker")
	}
}

// Test 10: Many ranges stay sorted and disjoint.
func Test_DirtyTracker_Coalesce_ManyRanges(t *testing.T) {
	tracker := NewTracker(&recordingFlusher{}, FlushAuto)
	for i := range 100 {
		tracker.Add((99-i)*8192, 4096)
	}

	coalesced := tracker.coalesce()
	if len(coalesced) != 100 {
		t.Fatalf("Expected 100 ranges, got %d", len(coalesced))
	}
	for i := 1; i < len(coalesced); i++ {
		prevEnd := coalesced[i-1].Off + coalesced[i-1].Len
		if coalesced[i].Off < prevEnd {
			t.Errorf("Overlapping ranges at %d", i)
		}
	}
}

func Test_ParseFlushMode(t *testing.T) {
	for _, m := range []FlushMode{FlushAuto, FlushDataOnly, FlushFull, FlushNone} {
		got, ok := ParseFlushMode(m.String())
		if !ok || got != m {
			t.Errorf("ParseFlushMode(%q) = %v, %v", m.String(), got, ok)
		}
	}
	if _, ok := ParseFlushMode("bogus"); ok {
		t.Errorf("bogus mode accepted")
	}
}

// Benchmark: Add() performance.
func Benchmark_DirtyTracker_Add(b *testing.B) {
	tracker := NewTracker(&recordingFlusher{}, FlushAuto)

	b.ResetTimer()
	b.ReportAllocs()

	for i := range b.N {
		tracker.Add(4096*i, 4096)
	}
}
