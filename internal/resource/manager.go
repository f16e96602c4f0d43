// Package resource implements the resource-manager registry, the
// per-process resource-handle tables, the global resource-request pool,
// and the dispatch/reply paths that route a guest IPC call to the owning
// device handler and back (spec.md §3 "Resource manager"/"Resource
// handle"/"Resource request", §4.4).
package resource

import (
	"sync"

	"github.com/hle-ios/kernel/internal/constants"
	"github.com/hle-ios/kernel/internal/interfaces"
	"github.com/hle-ios/kernel/internal/kerr"
	"github.com/hle-ios/kernel/internal/kthread"
	"github.com/hle-ios/kernel/internal/mqueue"
)

// Manager is a registered consumer of requests targeting one device
// path (spec.md §3 "Resource manager").
type Manager struct {
	UID             uint32
	DevicePath      string
	ProcID          int32 // owning process; only it may change PermissionGroup
	Queue           *mqueue.Queue
	PermissionGroup int32

	mu               sync.Mutex
	openHandles      int
	reqHead, reqTail *Request
	reqCount         int
	inUse            bool
}

func (m *Manager) pushRequest(r *Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.next = nil
	if m.reqTail == nil {
		m.reqHead, m.reqTail = r, r
	} else {
		m.reqTail.next = r
		m.reqTail = r
	}
	m.reqCount++
}

func (m *Manager) removeRequest(r *Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var prev *Request
	for cur := m.reqHead; cur != nil; cur = cur.next {
		if cur == r {
			if prev == nil {
				m.reqHead = cur.next
			} else {
				prev.next = cur.next
			}
			if m.reqTail == cur {
				m.reqTail = prev
			}
			m.reqCount--
			return
		}
		prev = cur
	}
}

// RequestCount reports the manager's current pending-request count.
// Diagnostics and the invariant checks in spec.md §8 item 6.
func (m *Manager) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reqCount
}

// OpenHandleCount reports how many resource handles are currently bound
// to this manager.
func (m *Manager) OpenHandleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openHandles
}

// Registry owns the registered-manager table, every process's
// resource-handle table, and the global resource-request pool. It is the
// single entry point for dispatch and reply (spec.md §4.4).
type Registry struct {
	obs interfaces.Observer
	ipc interfaces.IPCDriver

	mu            sync.Mutex
	managers      []Manager
	freeManagers  []*Manager
	byPath        map[string]*Manager
	managersByPID map[int32]int

	handles map[int32]*procHandles

	requests     []Request
	freeRequests []*Request
	globalCount  int
	mostGlobal   int
	perProcCount map[int32]int
	mostPerProc  map[int32]int

	nextUID uint32
}

// New creates a registry sized per constants.MaxResourceManagers and
// constants.MaxResourceRequestsGlobal.
func New(obs interfaces.Observer, ipc interfaces.IPCDriver) *Registry {
	r := &Registry{
		obs:           obs,
		ipc:           ipc,
		managers:      make([]Manager, constants.MaxResourceManagers),
		byPath:        make(map[string]*Manager),
		managersByPID: make(map[int32]int),
		handles:       make(map[int32]*procHandles),
		requests:      make([]Request, constants.MaxResourceRequestsGlobal),
		perProcCount:  make(map[int32]int),
		mostPerProc:   make(map[int32]int),
	}
	for i := range r.managers {
		r.freeManagers = append(r.freeManagers, &r.managers[i])
	}
	for i := range r.requests {
		r.requests[i].index = i
		r.freeRequests = append(r.freeRequests, &r.requests[i])
	}
	return r
}

// managerQuotaPerProcess bounds how many device paths a single process
// may register; the spec leaves the number unconstrained beyond "the
// caller's process has reached its manager quota" (§4.4), so this uses
// the global manager pool size as the per-process ceiling — a process
// cannot register more managers than exist slots for.
const managerQuotaPerProcess = constants.MaxResourceManagers

// RegisterManager implements spec.md §4.4 "Registration": rejects a
// manager-quota overrun or a path collision, then pops a free slot and
// links it in.
func (r *Registry) RegisterManager(procID int32, devicePath string, q *mqueue.Queue) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.managersByPID[procID] >= managerQuotaPerProcess {
		return nil, kerr.NewProcess("REGISTER_MANAGER", procID, kerr.CodeMax, "manager quota exceeded")
	}
	if _, exists := r.byPath[devicePath]; exists {
		return nil, kerr.NewProcess("REGISTER_MANAGER", procID, kerr.CodeExists, "device path already registered")
	}
	if len(r.freeManagers) == 0 {
		return nil, kerr.NewProcess("REGISTER_MANAGER", procID, kerr.CodeFailAlloc, "resource-manager pool exhausted")
	}

	m := r.freeManagers[len(r.freeManagers)-1]
	r.freeManagers = r.freeManagers[:len(r.freeManagers)-1]
	r.nextUID++
	*m = Manager{
		UID:        r.nextUID,
		DevicePath: devicePath,
		ProcID:     procID,
		Queue:      q,
		inUse:      true,
	}
	r.byPath[devicePath] = m
	r.managersByPID[procID]++
	return m, nil
}

// UnregisterManager detaches every outstanding request with an error
// reply, then returns the slot to the free list (spec.md §3 Resource
// manager invariants: "destruction ... must detach all outstanding
// requests with an error reply").
func (r *Registry) UnregisterManager(t *kthread.Thread, m *Manager) {
	m.mu.Lock()
	pending := make([]*Request, 0, m.reqCount)
	for cur := m.reqHead; cur != nil; cur = cur.next {
		pending = append(pending, cur)
	}
	m.reqHead, m.reqTail, m.reqCount = nil, nil, 0
	m.mu.Unlock()

	for _, req := range pending {
		_ = r.Reply(t, req, kerr.CodeIntr, 0)
	}

	r.mu.Lock()
	delete(r.byPath, m.DevicePath)
	if r.managersByPID[m.ProcID] > 0 {
		r.managersByPID[m.ProcID]--
	}
	m.inUse = false
	r.freeManagers = append(r.freeManagers, m)
	r.mu.Unlock()
}

// SetPermissionGroup implements the "only the owning process may set the
// permission group" invariant.
func (r *Registry) SetPermissionGroup(procID int32, devicePath string, group int32) error {
	r.mu.Lock()
	m, ok := r.byPath[devicePath]
	r.mu.Unlock()
	if !ok {
		return kerr.NewProcess("SET_PERMISSION_GROUP", procID, kerr.CodeNoExists, "no such device path")
	}
	if m.ProcID != procID {
		return kerr.NewProcess("SET_PERMISSION_GROUP", procID, kerr.CodeAccess, "caller does not own this manager")
	}
	m.mu.Lock()
	m.PermissionGroup = group
	m.mu.Unlock()
	return nil
}

// Lookup finds the manager registered for devicePath.
func (r *Registry) Lookup(devicePath string) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byPath[devicePath]
	if !ok {
		return nil, kerr.New("LOOKUP_MANAGER", kerr.CodeNoExists, "no such device path")
	}
	return m, nil
}
