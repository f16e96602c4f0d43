package memmap

import (
	"testing"

	"github.com/hle-ios/kernel/internal/kerr"
)

func TestCreateArenaAdvancesWatermark(t *testing.T) {
	a := NewAllocator(1024)
	ar1, err := a.CreateArena(0, 256)
	if err != nil {
		t.Fatalf("create arena 0: %v", err)
	}
	if ar1.Base != 0 || ar1.Size != 256 {
		t.Fatalf("unexpected arena 0: %+v", ar1)
	}
	ar2, err := a.CreateArena(1, 256)
	if err != nil {
		t.Fatalf("create arena 1: %v", err)
	}
	if ar2.Base != 256 {
		t.Fatalf("expected arena 1 to start at 256, got %d", ar2.Base)
	}
}

func TestCreateArenaFailsWhenExhausted(t *testing.T) {
	a := NewAllocator(100)
	if _, err := a.CreateArena(0, 90); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := a.CreateArena(1, 20)
	if !kerr.IsCode(err, kerr.CodeFailAlloc) {
		t.Fatalf("expected CodeFailAlloc, got %v", err)
	}
}

func TestArenaLookup(t *testing.T) {
	a := NewAllocator(1024)
	a.CreateArena(3, 64)
	ar, ok := a.Arena(3)
	if !ok || ar.ProcID != 3 {
		t.Fatalf("expected arena for proc 3, got %+v ok=%v", ar, ok)
	}
	if _, ok := a.Arena(4); ok {
		t.Fatal("expected no arena for unregistered proc")
	}
}

func TestCreateHeapCarvesDisjointRegionFromArenas(t *testing.T) {
	a := NewAllocator(4096)
	a.CreateArena(0, 1024)
	h, err := a.CreateHeap(1, 2048)
	if err != nil {
		t.Fatalf("create heap: %v", err)
	}
	if h.ID != 1 || h.base != 1024 || h.size != 2048 {
		t.Fatalf("unexpected heap placement: %+v", h)
	}
}

func TestHeapAllocFirstFit(t *testing.T) {
	h := newHeap(1, 0, 100)
	addr1, err := h.Alloc(30)
	if err != nil || addr1 != 0 {
		t.Fatalf("expected addr 0, got %d err %v", addr1, err)
	}
	addr2, err := h.Alloc(30)
	if err != nil || addr2 != 30 {
		t.Fatalf("expected addr 30, got %d err %v", addr2, err)
	}
	if h.InUse() != 60 {
		t.Fatalf("expected 60 bytes in use, got %d", h.InUse())
	}
}

func TestHeapAllocFailsWhenExhausted(t *testing.T) {
	h := newHeap(1, 0, 10)
	if _, err := h.Alloc(10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := h.Alloc(1)
	if !kerr.IsCode(err, kerr.CodeFailAlloc) {
		t.Fatalf("expected CodeFailAlloc, got %v", err)
	}
}

func TestHeapFreeCoalescesAdjacentBlocks(t *testing.T) {
	h := newHeap(1, 0, 90)
	a, _ := h.Alloc(30)
	b, _ := h.Alloc(30)
	c, _ := h.Alloc(30)
	if err := h.Free(a); err != nil {
		t.Fatalf("free a: %v", err)
	}
	if err := h.Free(b); err != nil {
		t.Fatalf("free b: %v", err)
	}
	if err := h.Free(c); err != nil {
		t.Fatalf("free c: %v", err)
	}
	if len(h.free) != 1 || h.free[0].base != 0 || h.free[0].size != 90 {
		t.Fatalf("expected fully coalesced free list, got %+v", h.free)
	}
	addr, err := h.Alloc(90)
	if err != nil || addr != 0 {
		t.Fatalf("expected whole-region reallocation, got %d err %v", addr, err)
	}
}

func TestHeapFreeRejectsUnknownAddress(t *testing.T) {
	h := newHeap(1, 0, 100)
	err := h.Free(42)
	if !kerr.IsCode(err, kerr.CodeInvalid) {
		t.Fatalf("expected CodeInvalid, got %v", err)
	}
}

func TestHeapFreeRejectsDoubleFree(t *testing.T) {
	h := newHeap(1, 0, 100)
	addr, _ := h.Alloc(10)
	if err := h.Free(addr); err != nil {
		t.Fatalf("first free: %v", err)
	}
	err := h.Free(addr)
	if !kerr.IsCode(err, kerr.CodeInvalid) {
		t.Fatalf("expected CodeInvalid on double free, got %v", err)
	}
}
