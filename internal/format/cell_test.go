package format

import (
	"errors"
	"testing"
)

const testHeap = 0x2000

func TestNextCellAllocated(t *testing.T) {
	b := make([]byte, testHeap+0x1000)
	size := 0x30
	PutCellHeader(b, testHeap, size, true, 7)
	b[testHeap+CellHeaderSize] = 0xAB

	cell, next, err := NextCell(b, testHeap, len(b), testHeap)
	if err != nil {
		t.Fatalf("NextCell: %v", err)
	}
	if cell.Free {
		t.Fatalf("expected allocated cell")
	}
	if cell.Size != size || cell.Type != 7 {
		t.Fatalf("unexpected cell: %+v", cell)
	}
	if cell.Data[0] != 0xAB || len(cell.Data) != size-CellHeaderSize {
		t.Fatalf("payload not aliased correctly")
	}
	if cell.PayloadOffset() != testHeap+CellHeaderSize {
		t.Fatalf("payload offset = 0x%x", cell.PayloadOffset())
	}
	if next != testHeap+size {
		t.Fatalf("next offset mismatch: %d", next)
	}
}

func TestNextCellFree(t *testing.T) {
	b := make([]byte, testHeap+0x1000)
	PutCellHeader(b, testHeap, 0x1000, false, 0)

	cell, next, err := NextCell(b, testHeap, len(b), testHeap)
	if err != nil {
		t.Fatalf("NextCell: %v", err)
	}
	if !cell.Free {
		t.Fatalf("expected free cell")
	}
	if next != len(b) {
		t.Fatalf("free cell should span the heap, next=0x%x", next)
	}
}

func TestNextCellRejectsBadHeaders(t *testing.T) {
	cases := []struct {
		name string
		raw  int64
		off  int
	}{
		{"zero", 0, testHeap},
		{"too small", 16, testHeap},
		{"misaligned size", -40, testHeap},
		{"past heap end", 0x2000, testHeap},
		{"misaligned offset", -32, testHeap + 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := make([]byte, testHeap+0x1000)
			PutI64(b, tc.off, tc.raw)
			_, _, err := NextCell(b, testHeap, len(b), tc.off)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.Is(err, ErrBadCell) && !errors.Is(err, ErrTruncated) {
				t.Fatalf("unexpected error kind: %v", err)
			}
		})
	}
}

func TestCellSizeFor(t *testing.T) {
	cases := map[int]int{
		0:      MinCellSize,
		1:      MinCellSize,
		16:     MinCellSize,
		17:     48,
		64:     80,
		204800: 204816,
	}
	for n, want := range cases {
		if got := CellSizeFor(n); got != want {
			t.Errorf("CellSizeFor(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestAlign(t *testing.T) {
	if Align8(9) != 16 || Align16(17) != 32 || AlignPage(4097) != 8192 || AlignPage(4096) != 4096 {
		t.Fatalf("alignment helpers returned unexpected values")
	}
}
