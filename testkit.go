package ios

import (
	"sync"
	"unsafe"
)

// MockMemoryTranslator is an in-process stand-in for the guest-memory
// translator collaborator (spec.md §6). It backs a single flat byte slice
// and treats virtual == physical, which is sufficient for exercising
// kernel code paths that only need a stable host pointer and a physical
// address to embed in wire structures.
type MockMemoryTranslator struct {
	mu     sync.RWMutex
	backing []byte
}

// NewMockMemoryTranslator creates a translator backed by a zeroed region
// of the given size.
func NewMockMemoryTranslator(size int) *MockMemoryTranslator {
	return &MockMemoryTranslator{backing: make([]byte, size)}
}

// Translate returns a host pointer into the backing slice at the given
// offset, as unsafe.Pointer(&t.backing[virtualAddress]) — a real
// MemoryTranslator does the equivalent against the process's mmap'd
// guest-RAM region, so callers that turn the result into a []byte via
// unsafe.Slice exercise the same code path against this mock.
func (t *MockMemoryTranslator) Translate(virtualAddress uint32) (uintptr, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(virtualAddress) >= len(t.backing) {
		return 0, NewError("TRANSLATE", CodeInvalid, "address out of range")
	}
	return uintptr(unsafe.Pointer(&t.backing[virtualAddress])), nil
}

// VirtToPhys is the identity mapping for the mock's flat address space.
func (t *MockMemoryTranslator) VirtToPhys(virtualAddress uint32) (uint32, error) {
	return virtualAddress, nil
}

// PhysToVirt is the identity mapping for the mock's flat address space.
func (t *MockMemoryTranslator) PhysToVirt(physicalAddress uint32) (uint32, error) {
	return physicalAddress, nil
}

// Bytes returns the backing slice for direct inspection in tests.
func (t *MockMemoryTranslator) Bytes() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.backing
}

// MockIPCDriver is an in-process stand-in for the guest IPC driver
// collaborator (spec.md §6). It records every submitted reply instead of
// writing to real guest memory and raising a real interrupt, so tests can
// assert on what the kernel tried to deliver.
type MockIPCDriver struct {
	mu        sync.Mutex
	submitted []submittedReply
	failNext  error
}

type submittedReply struct {
	CoreID             int
	IPCBlockPhysAddr   uint32
}

// NewMockIPCDriver creates an empty mock IPC driver.
func NewMockIPCDriver() *MockIPCDriver {
	return &MockIPCDriver{}
}

// SubmitReply implements interfaces.IPCDriver.
func (d *MockIPCDriver) SubmitReply(coreID int, ipcBlockPhysAddr uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failNext != nil {
		err := d.failNext
		d.failNext = nil
		return err
	}
	d.submitted = append(d.submitted, submittedReply{CoreID: coreID, IPCBlockPhysAddr: ipcBlockPhysAddr})
	return nil
}

// FailNext makes the next SubmitReply call return err.
func (d *MockIPCDriver) FailNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = err
}

// Submissions returns a copy of every (coreID, physAddr) pair submitted so far.
func (d *MockIPCDriver) Submissions() []struct {
	CoreID           int
	IPCBlockPhysAddr uint32
} {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]struct {
		CoreID           int
		IPCBlockPhysAddr uint32
	}, len(d.submitted))
	for i, s := range d.submitted {
		out[i] = struct {
			CoreID           int
			IPCBlockPhysAddr uint32
		}{CoreID: s.CoreID, IPCBlockPhysAddr: s.IPCBlockPhysAddr}
	}
	return out
}

// Reset clears recorded submissions.
func (d *MockIPCDriver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitted = nil
	d.failNext = nil
}

// MockLogger records every call instead of writing to a writer, so tests
// can assert on what the kernel logged without parsing formatted text.
type MockLogger struct {
	mu   sync.Mutex
	logs []MockLogEntry
}

// MockLogEntry is a single recorded log call.
type MockLogEntry struct {
	Level string
	Msg   string
	Args  []any
}

// NewMockLogger creates an empty mock logger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (l *MockLogger) record(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, MockLogEntry{Level: level, Msg: msg, Args: args})
}

func (l *MockLogger) Debug(msg string, args ...any) { l.record("DEBUG", msg, args...) }
func (l *MockLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args...) }
func (l *MockLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args...) }
func (l *MockLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args...) }

// Entries returns a copy of every recorded log call.
func (l *MockLogger) Entries() []MockLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]MockLogEntry, len(l.logs))
	copy(out, l.logs)
	return out
}

// Reset clears recorded entries.
func (l *MockLogger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = nil
}

// MockObserver records every metrics observation instead of aggregating
// counters, so tests can assert exactly what subsystems reported.
type MockObserver struct {
	mu                sync.Mutex
	ThreadTransitions []ThreadTransitionObs
	MessageQueueOps   []MessageQueueOpObs
	ResourceDispatches []ResourceDispatchObs
	SchedulerSwaps    []SchedulerSwapObs
}

type ThreadTransitionObs struct {
	ThreadID   uint32
	From, To   string
}

type MessageQueueOpObs struct {
	Op      string
	Blocked bool
}

type ResourceDispatchObs struct {
	Command   string
	Success   bool
	LatencyNs uint64
}

type SchedulerSwapObs struct {
	FromCore, ToCore int
}

// NewMockObserver creates an empty mock observer.
func NewMockObserver() *MockObserver {
	return &MockObserver{}
}

func (o *MockObserver) ObserveThreadTransition(threadID uint32, from, to string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ThreadTransitions = append(o.ThreadTransitions, ThreadTransitionObs{threadID, from, to})
}

func (o *MockObserver) ObserveMessageQueueOp(op string, blocked bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.MessageQueueOps = append(o.MessageQueueOps, MessageQueueOpObs{op, blocked})
}

func (o *MockObserver) ObserveResourceDispatch(command string, success bool, latencyNs uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ResourceDispatches = append(o.ResourceDispatches, ResourceDispatchObs{command, success, latencyNs})
}

func (o *MockObserver) ObserveSchedulerSwap(fromCore, toCore int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.SchedulerSwaps = append(o.SchedulerSwaps, SchedulerSwapObs{fromCore, toCore})
}

// Reset clears every recorded observation.
func (o *MockObserver) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ThreadTransitions = nil
	o.MessageQueueOps = nil
	o.ResourceDispatches = nil
	o.SchedulerSwaps = nil
}
