// Package memmap implements the kernel's physical-address allocator: a
// single contiguous physical-memory region carved into per-process
// static arenas plus one or more free-list heaps (the shared heap and
// the cross-process heap created at boot), spec.md §2 "Physical-address
// allocator" and §4.6 step 3.
//
// This allocator hands out addresses and extents; it does not back them
// with actual bytes — guest memory content is reached through the
// external MemoryTranslator collaborator (internal/interfaces).
package memmap

import (
	"sort"
	"sync"

	"github.com/hle-ios/kernel/internal/kerr"
)

// Arena is a per-process contiguous physical-memory region fixed at
// boot. Subsystem singletons for that process live here (spec.md §3
// "Process-static arena").
type Arena struct {
	ProcID int32
	Base   uint32
	Size   uint32
}

// Allocator carves a fixed-size physical address space into process
// arenas and heaps, bump-allocating from a single watermark. Arenas and
// heaps are only ever created at boot, so a simple watermark (rather
// than a general free list) is sufficient at this level; the heaps
// themselves support free/reuse internally via Heap.
type Allocator struct {
	mu        sync.Mutex
	totalSize uint32
	nextFree  uint32
	arenas    map[int32]Arena
}

// NewAllocator creates an allocator over [0, totalSize).
func NewAllocator(totalSize uint32) *Allocator {
	return &Allocator{totalSize: totalSize, arenas: make(map[int32]Arena)}
}

// CreateArena carves a size-byte region for procID at the current
// watermark. Each process gets exactly one arena.
func (a *Allocator) CreateArena(procID int32, size uint32) (Arena, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.totalSize-a.nextFree < size {
		return Arena{}, kerr.NewProcess("CREATE_ARENA", procID, kerr.CodeFailAlloc, "physical address space exhausted")
	}
	ar := Arena{ProcID: procID, Base: a.nextFree, Size: size}
	a.arenas[procID] = ar
	a.nextFree += size
	return ar, nil
}

// Arena returns the arena previously created for procID.
func (a *Allocator) Arena(procID int32) (Arena, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ar, ok := a.arenas[procID]
	return ar, ok
}

// CreateHeap carves a size-byte region at the current watermark and
// returns a free-list Heap over it, tagged with id (spec.md §4.6 step 3
// asserts the shared heap's id equals constants.SharedHeapID).
func (a *Allocator) CreateHeap(id int, size uint32) (*Heap, error) {
	a.mu.Lock()
	if a.totalSize-a.nextFree < size {
		a.mu.Unlock()
		return nil, kerr.New("CREATE_HEAP", kerr.CodeFailAlloc, "physical address space exhausted")
	}
	base := a.nextFree
	a.nextFree += size
	a.mu.Unlock()
	return newHeap(id, base, size), nil
}

// block is a free (or, transiently during bookkeeping, allocated) extent.
type block struct {
	base, size uint32
}

// Heap is a first-fit free-list allocator over a fixed [base, base+size)
// physical region, used for the shared heap and the cross-process heap
// created at boot. Adjacent freed blocks are coalesced.
type Heap struct {
	ID   int
	mu   sync.Mutex
	base uint32
	size uint32

	free      []block // sorted by base, no two adjacent
	allocated map[uint32]uint32
}

func newHeap(id int, base, size uint32) *Heap {
	return &Heap{
		ID:        id,
		base:      base,
		size:      size,
		free:      []block{{base: base, size: size}},
		allocated: make(map[uint32]uint32),
	}
}

// Alloc returns the base address of a size-byte region, or CodeFailAlloc
// if no free block is large enough.
func (h *Heap) Alloc(size uint32) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.free {
		if b.size < size {
			continue
		}
		addr := b.base
		if b.size == size {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			h.free[i] = block{base: b.base + size, size: b.size - size}
		}
		h.allocated[addr] = size
		return addr, nil
	}
	return 0, kerr.New("HEAP_ALLOC", kerr.CodeFailAlloc, "heap exhausted")
}

// Free returns addr's region to the free list, coalescing with
// neighbours. Fails with CodeInvalid if addr was never returned by Alloc
// or has already been freed.
func (h *Heap) Free(addr uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	size, ok := h.allocated[addr]
	if !ok {
		return kerr.New("HEAP_FREE", kerr.CodeInvalid, "address not allocated")
	}
	delete(h.allocated, addr)
	h.insertFreeLocked(block{base: addr, size: size})
	return nil
}

func (h *Heap) insertFreeLocked(b block) {
	idx := sort.Search(len(h.free), func(i int) bool { return h.free[i].base >= b.base })
	h.free = append(h.free, block{})
	copy(h.free[idx+1:], h.free[idx:])
	h.free[idx] = b

	if idx > 0 && h.free[idx-1].base+h.free[idx-1].size == h.free[idx].base {
		h.free[idx-1].size += h.free[idx].size
		h.free = append(h.free[:idx], h.free[idx+1:]...)
		idx--
	}
	if idx+1 < len(h.free) && h.free[idx].base+h.free[idx].size == h.free[idx+1].base {
		h.free[idx].size += h.free[idx+1].size
		h.free = append(h.free[:idx+1], h.free[idx+2:]...)
	}
}

// InUse reports the number of bytes currently allocated. Diagnostics
// only.
func (h *Heap) InUse() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n uint32
	for _, size := range h.allocated {
		n += size
	}
	return n
}
