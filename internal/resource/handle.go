package resource

import (
	"sync"

	"github.com/hle-ios/kernel/internal/constants"
	"github.com/hle-ios/kernel/internal/kerr"
)

// HandleState is a resource handle's lifecycle state (spec.md §3
// "Resource handle").
type HandleState int

const (
	HandleFree HandleState = iota
	HandleOpening
	HandleOpen
	HandleClosing
)

// Handle is one per-process resource-handle slot.
type Handle struct {
	State        HandleState
	Generation   uint32
	Manager      *Manager
	DeviceHandle int32 // opaque handle the device's open reply returned
}

// procHandles is one process's fixed-size resource-handle table
// (constants.MaxResourceHandlesPerProcess entries, spec.md §3).
type procHandles struct {
	mu    sync.Mutex
	slots [constants.MaxResourceHandlesPerProcess]Handle
}

func (r *Registry) procTable(procID int32) *procHandles {
	r.mu.Lock()
	defer r.mu.Unlock()
	pt, ok := r.handles[procID]
	if !ok {
		pt = &procHandles{}
		r.handles[procID] = pt
	}
	return pt
}

// encodeHandle packs (generation, index) per spec.md §6 "Resource-handle
// encoding": index in the low constants.HandleIndexBits bits, generation
// above it.
func encodeHandle(index int, generation uint32) uint32 {
	return (generation << constants.HandleIndexBits) | uint32(index)&constants.HandleIndexMask
}

func decodeHandle(h uint32) (index int, generation uint32) {
	return int(h & constants.HandleIndexMask), h >> constants.HandleIndexBits
}

// fetchLocked validates id against pt (caller must hold pt.mu) and
// returns the slot, per spec.md §3 "Handle encoding": out-of-range index
// is InvalidHandle, a free slot is InvalidHandle, a generation mismatch
// is StaleHandle.
func fetchLocked(pt *procHandles, procID int32, id uint32) (*Handle, error) {
	index, gen := decodeHandle(id)
	if index < 0 || index >= len(pt.slots) {
		return nil, kerr.NewProcess("FETCH_HANDLE", procID, kerr.CodeInvalidHandle, "index out of range")
	}
	h := &pt.slots[index]
	if h.State == HandleFree {
		return nil, kerr.NewProcess("FETCH_HANDLE", procID, kerr.CodeInvalidHandle, "handle slot is free")
	}
	if h.Generation != gen {
		return nil, kerr.NewProcess("FETCH_HANDLE", procID, kerr.CodeStaleHandle, "generation mismatch")
	}
	return h, nil
}

// AllocHandle finds a free slot in procID's handle table, transitions it
// to Opening bound to m, and returns its encoded handle id. The slot's
// generation is bumped before encoding (ios_handlemanager.h::open()
// increments instanceNum before encoding), so a slot's first-ever open
// already carries generation 1, not 0.
func (r *Registry) AllocHandle(procID int32, m *Manager) (uint32, error) {
	pt := r.procTable(procID)
	pt.mu.Lock()
	defer pt.mu.Unlock()

	for i := range pt.slots {
		if pt.slots[i].State == HandleFree {
			pt.slots[i].State = HandleOpening
			pt.slots[i].Manager = m
			pt.slots[i].DeviceHandle = 0
			pt.slots[i].Generation++
			m.mu.Lock()
			m.openHandles++
			m.mu.Unlock()
			return encodeHandle(i, pt.slots[i].Generation), nil
		}
	}
	return 0, kerr.NewProcess("ALLOC_HANDLE", procID, kerr.CodeMax, "resource-handle table full")
}

// FetchHandle decodes id and returns the slot, validating range and
// generation (spec.md §3 "Handle encoding"). The returned pointer must
// only be read without pt.mu held by callers outside this file — use
// the Begin*/Complete*/Release* operations for mutation.
func (r *Registry) FetchHandle(procID int32, id uint32) (*Handle, error) {
	pt := r.procTable(procID)
	pt.mu.Lock()
	defer pt.mu.Unlock()
	h, err := fetchLocked(pt, procID, id)
	if err != nil {
		return nil, err
	}
	copy := *h
	return &copy, nil
}

// CompleteOpen transitions a handle from Opening to Open on a successful
// open reply, recording the device's opaque handle (spec.md §4.4
// "Reply").
func (r *Registry) CompleteOpen(procID int32, id uint32, deviceHandle int32) error {
	pt := r.procTable(procID)
	pt.mu.Lock()
	defer pt.mu.Unlock()

	h, err := fetchLocked(pt, procID, id)
	if err != nil {
		return err
	}
	if h.State != HandleOpening {
		return kerr.NewProcess("COMPLETE_OPEN", procID, kerr.CodeInvalid, "handle is not in Opening state")
	}
	h.State = HandleOpen
	h.DeviceHandle = deviceHandle
	return nil
}

// ReleaseHandle frees id's slot. The next AllocHandle of this slot bumps
// the generation again before re-encoding, so any stale copy of this id
// is detected as StaleHandle on reuse (spec.md §3 "Handle encoding").
func (r *Registry) ReleaseHandle(procID int32, id uint32) error {
	pt := r.procTable(procID)
	pt.mu.Lock()
	defer pt.mu.Unlock()

	h, err := fetchLocked(pt, procID, id)
	if err != nil {
		return err
	}
	if h.Manager != nil {
		h.Manager.mu.Lock()
		if h.Manager.openHandles > 0 {
			h.Manager.openHandles--
		}
		h.Manager.mu.Unlock()
	}
	h.State = HandleFree
	h.Manager = nil
	h.DeviceHandle = 0
	return nil
}

// BeginClose transitions an Open handle to Closing (spec.md §4.4
// "close(handle): fetch handle (must be Open); ... transition handle to
// Closing") and returns a snapshot of the handle (its Manager field is
// what dispatchClose needs).
func (r *Registry) BeginClose(procID int32, id uint32) (Handle, error) {
	pt := r.procTable(procID)
	pt.mu.Lock()
	defer pt.mu.Unlock()

	h, err := fetchLocked(pt, procID, id)
	if err != nil {
		return Handle{}, err
	}
	if h.State != HandleOpen {
		return Handle{}, kerr.NewProcess("BEGIN_CLOSE", procID, kerr.CodeInvalid, "handle is not Open")
	}
	h.State = HandleClosing
	return *h, nil
}

// ReopenAsOpen reverts id back to Open — used to unwind BeginClose when
// the subsequent request allocation fails.
func (r *Registry) ReopenAsOpen(procID int32, id uint32) {
	pt := r.procTable(procID)
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if h, err := fetchLocked(pt, procID, id); err == nil {
		h.State = HandleOpen
	}
}
