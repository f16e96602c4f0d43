// Package ios is the public API of the kernel runtime: StartKernel
// constructs every subsystem in dependency order, runs the boot sequence,
// and hands back a Kernel through which a host process drives the guest
// client API (create-queue, create-semaphore, create-thread,
// register-resource-manager, resource-reply, ...).
package ios

import (
	"context"
	"fmt"
	"time"

	"github.com/hle-ios/kernel/internal/boot"
	"github.com/hle-ios/kernel/internal/capability"
	"github.com/hle-ios/kernel/internal/constants"
	"github.com/hle-ios/kernel/internal/interfaces"
	"github.com/hle-ios/kernel/internal/interrupt"
	"github.com/hle-ios/kernel/internal/ipc"
	"github.com/hle-ios/kernel/internal/kthread"
	"github.com/hle-ios/kernel/internal/memmap"
	"github.com/hle-ios/kernel/internal/mqueue"
	"github.com/hle-ios/kernel/internal/resource"
	"github.com/hle-ios/kernel/internal/sched"
	"github.com/hle-ios/kernel/internal/sem"
	"github.com/hle-ios/kernel/internal/timer"
)

// KernelParams configures StartKernel. The zero value plus
// DefaultKernelParams' fill-ins is a workable constants.NumCores-core boot with no
// processes or managers beyond what the caller registers afterward.
type KernelParams struct {
	// NumCores is the number of emulated cores (0 = constants.NumCores).
	NumCores int

	// TotalPhysicalMemory sizes the address space internal/memmap carves
	// process arenas and the two boot heaps from (0 =
	// constants.TotalPhysicalMemory).
	TotalPhysicalMemory uint32

	// Processes is the fixed process table forked at boot (spec.md §4.6
	// step 4). Empty is valid — a minimal kernel with no guest processes
	// beyond the root thread.
	Processes []boot.ProcessEntry

	// Managers is the firmware-pinned resource-manager table walked
	// during the boot resume sequence (spec.md §4.6 step 5). Each entry
	// is driven through asyncOpen/asyncResume by AsyncOpen/AsyncResume.
	Managers []boot.ManagerEntry

	// AsyncOpen and AsyncResume drive each ManagerEntry's resume state
	// machine. Both default to an RPC that always succeeds immediately,
	// suitable for managers that have nothing to do at resume time.
	AsyncOpen, AsyncResume boot.AsyncRPC
}

// DefaultKernelParams returns parameters for a constants.NumCores-core boot
// with no guest processes beyond the root thread, but with the
// firmware-pinned manager table (spec.md §4.6 step 5) wired in — callers
// add any process-table entries before calling StartKernel.
func DefaultKernelParams() KernelParams {
	return KernelParams{
		NumCores:            constants.NumCores,
		TotalPhysicalMemory: constants.TotalPhysicalMemory,
		Managers:            boot.DefaultManagerTable(),
		AsyncOpen:           noopAsyncRPC,
		AsyncResume:         noopAsyncRPC,
	}
}

func noopAsyncRPC(ctx context.Context, m boot.ManagerEntry) error { return nil }

// BootOptions carries the collaborators and observability hooks StartKernel
// wires into every subsystem. All fields are optional.
type BootOptions struct {
	// Context governs the kernel's lifetime; Stop is also always
	// available regardless of context cancellation. Defaults to
	// context.Background().
	Context context.Context

	// Memory and IPC are the guest-side collaborators dispatch and reply
	// call through (spec.md §6). Nil is valid for a kernel that never
	// dispatches a guest IPC request directly (e.g. kernel-client-only
	// use, or tests driving resource managers through mqueue directly).
	Memory interfaces.MemoryTranslator
	IPC    interfaces.IPCDriver

	// Logger receives structured boot and lifecycle messages. Nil means
	// no logging.
	Logger interfaces.Logger

	// Observer receives operational metrics. Nil defaults to a
	// NewMetricsObserver wrapping a fresh Metrics the Kernel owns and
	// exposes via Metrics().
	Observer interfaces.Observer
}

// Kernel is the running IOS kernel: every subsystem singleton plus the
// boot-sequence result (root thread, heaps, forked processes).
type Kernel struct {
	Scheduler  *sched.Scheduler
	Allocator  *memmap.Allocator
	Resources  *resource.Registry
	Timers     *timer.Manager
	Interrupts *interrupt.Plane

	Boot *boot.Result

	metrics  *Metrics
	observer interfaces.Observer
	logger   interfaces.Logger

	ctx    context.Context
	cancel context.CancelFunc
	ipcDrv interfaces.IPCDriver
	memory interfaces.MemoryTranslator

	started bool
}

// Memory returns the guest-memory translator collaborator supplied via
// BootOptions, or nil if none was configured.
func (k *Kernel) Memory() interfaces.MemoryTranslator { return k.memory }

// StartKernel constructs every subsystem in spec.md §4.6's dependency
// order — scheduler, heap allocator, resource-manager registry, timer
// manager, interrupt plane — starts the scheduler's core loops, then runs
// the boot sequence (root thread, capability assignment, heap carving,
// process forking, manager-table resume walk).
//
// Example:
//
//	params := ios.DefaultKernelParams()
//	params.Managers = append(params.Managers, boot.ManagerEntry{DevicePath: "/dev/loopback"})
//	k, err := ios.StartKernel(context.Background(), params, nil)
func StartKernel(ctx context.Context, params KernelParams, options *BootOptions) (*Kernel, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &BootOptions{}
	}
	if options.Context != nil {
		ctx = options.Context
	}

	numCores := params.NumCores
	if numCores == 0 {
		numCores = constants.NumCores
	}
	totalMem := params.TotalPhysicalMemory
	if totalMem == 0 {
		totalMem = constants.TotalPhysicalMemory
	}

	metrics := NewMetrics()
	observer := options.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	k := &Kernel{
		metrics:  metrics,
		observer: observer,
		logger:   options.Logger,
		ipcDrv:   options.IPC,
	}
	k.ctx, k.cancel = context.WithCancel(ctx)
	k.memory = options.Memory

	k.Scheduler = sched.New(numCores, observer, options.Logger)
	k.Allocator = memmap.NewAllocator(totalMem)
	k.Resources = resource.New(observer, options.IPC)
	k.Timers = timer.NewManager(time.Now())
	k.Interrupts = interrupt.NewPlane(k.Scheduler)

	k.Scheduler.Start()

	asyncOpen, asyncResume := params.AsyncOpen, params.AsyncResume
	if asyncOpen == nil {
		asyncOpen = noopAsyncRPC
	}
	if asyncResume == nil {
		asyncResume = noopAsyncRPC
	}

	result, err := boot.Sequence(boot.Subsystems{
		Scheduler: k.Scheduler,
		Allocator: k.Allocator,
		Resources: k.Resources,
		Timers:    k.Timers,
		Logger:    options.Logger,
	}, params.Processes, params.Managers, asyncOpen, asyncResume)
	if err != nil {
		k.Scheduler.Stop()
		k.cancel()
		return nil, fmt.Errorf("boot sequence: %w", err)
	}
	k.Boot = result
	k.started = true

	if options.Logger != nil {
		options.Logger.Info("kernel started", "cores", numCores, "processes", len(params.Processes), "managers", len(params.Managers))
	}

	return k, nil
}

// Stop halts every core loop and stamps the metrics stop time. In-flight
// resource requests are not forcibly drained; callers should destroy
// their queues/managers first so waiters unblock with CodeIntr (spec.md
// §5 "Shutdown").
func (k *Kernel) Stop() {
	if k == nil || !k.started {
		return
	}
	k.cancel()
	k.Scheduler.Stop()
	k.metrics.Stop()
	k.started = false
}

// IsRunning reports whether the kernel's core loops are active.
func (k *Kernel) IsRunning() bool { return k != nil && k.started }

// Metrics returns the kernel's operational metrics (populated only if
// BootOptions.Observer was left nil, so the default MetricsObserver is
// recording into it).
func (k *Kernel) Metrics() *Metrics { return k.metrics }

// MetricsSnapshot returns a point-in-time snapshot of the kernel's metrics.
func (k *Kernel) MetricsSnapshot() MetricsSnapshot { return k.metrics.Snapshot() }

// --- Kernel-client API (spec.md §6 "Collaborator contracts the core
// exposes") -----------------------------------------------------------

// CreateQueue creates a message queue owned by procID with the given
// ring capacity (create-queue).
func (k *Kernel) CreateQueue(uid uint32, procID int32, capacity int) *mqueue.Queue {
	return mqueue.New(k.Scheduler, k.observer, uid, procID, capacity)
}

// DestroyQueue wakes every waiter with CodeIntr, clears any event-handler
// slot pointing at q (logging a warning when q was registered as one),
// and returns the count of threads woken (destroy-queue).
func (k *Kernel) DestroyQueue(q *mqueue.Queue) int {
	if q.HasEventHandler && k.logger != nil {
		k.logger.Warn("destroying queue registered as an event handler", "uid", q.UID)
	}
	k.Interrupts.UnregisterQueue(q)
	return q.Destroy()
}

// CreateSemaphore creates a counting semaphore owned by procID
// (create-semaphore).
func (k *Kernel) CreateSemaphore(uid uint32, procID int32, initialCount, maxCount int) *sem.Semaphore {
	return sem.New(k.Scheduler, uid, procID, initialCount, maxCount)
}

// CreateTimer creates (and, if either delay is non-zero, arms) a timer
// that posts msg to q on expiry (create-timer).
func (k *Kernel) CreateTimer(uid uint32, procID int32, delayNs, periodNs int64, q *mqueue.Queue, msg mqueue.Message) *timer.Timer {
	return k.Timers.Create(uid, procID, delayNs, periodNs, q, msg)
}

// RestartTimer re-arms t for now+delayNs with a new period
// (restart-timer).
func (k *Kernel) RestartTimer(t *timer.Timer, delayNs, periodNs int64) {
	k.Timers.Restart(t, delayNs, periodNs)
}

// StopTimer removes t from the running list without discarding it
// (stop-timer).
func (k *Kernel) StopTimer(t *timer.Timer) { k.Timers.Stop(t) }

// CreateThread creates and launches a new kernel thread (create-thread).
// onExit is called once entry returns; it must leave the thread Dead —
// pass nil to use the kernel's default reaper, which marks the thread
// Dead, wakes its join-wait list with OK, and reaps it straight to
// Available if it is FlagDetached (spec.md §4.1 "Fiber swap").
//
// caller, if non-nil, is the thread requesting the creation; per spec.md
// §3 "Creating a thread requires the caller's base priority ≥ the new
// thread's base priority", a caller may only create threads whose priority
// value is numerically ≤ its own base priority (smaller is higher). A
// violation returns CodeInvalid without allocating a thread
// (ios_kernel_thread.cpp IOS_CreateThread: "We cannot create thread with
// priority higher than current thread's priority"). Pass a nil caller
// for the boot sequence's own thread creation, which has no creator to
// check against.
func (k *Kernel) CreateThread(caller *kthread.Thread, id uint32, procID int32, priority int, entry kthread.EntryFunc, arg any, onExit func(*kthread.Thread)) (*kthread.Thread, error) {
	if caller != nil && priority > caller.BasePriority {
		return nil, NewProcessError("CREATE_THREAD", procID, CodeInvalid, "priority is higher than the creating thread's base priority")
	}

	t := kthread.New(id, procID, priority, entry, arg)
	if onExit == nil {
		onExit = func(t *kthread.Thread) { k.Scheduler.MarkDead(t) }
	}
	k.Scheduler.AddThread(t, onExit)
	return t, nil
}

// SetThreadPriority changes t's current priority, repositioning it on
// whatever wait list it currently sits on (set-thread-priority).
func (k *Kernel) SetThreadPriority(t *kthread.Thread, priority int) {
	k.Scheduler.ChangePriority(t, priority)
}

// SetThreadName sets t's diagnostic name (set-thread-name; coreinit_thread.cpp
// OSSetThreadName's IOS-side counterpart).
func (k *Kernel) SetThreadName(t *kthread.Thread, name string) {
	t.Name = name
}

// YieldThread implements yield-thread: t gives up the core if an
// equal-or-higher-priority thread is ready to run. Must be called from
// within t's own goroutine.
func (k *Kernel) YieldThread(t *kthread.Thread) {
	k.Scheduler.RescheduleSelf(t, true)
}

// JoinThread implements join-thread: caller blocks until target exits,
// then reaps it to Available (ios_kernel_thread.cpp IOS_JoinThread).
// Must be called from within caller's own goroutine. Joining yourself, a
// detached thread, or a thread belonging to another process fails
// without blocking.
func (k *Kernel) JoinThread(caller, target *kthread.Thread) error {
	if target == caller {
		return NewProcessError("JOIN_THREAD", caller.ProcID, CodeInvalid, "a thread cannot join itself")
	}
	if target.ProcID != caller.ProcID {
		return NewProcessError("JOIN_THREAD", caller.ProcID, CodeAccess, "target thread belongs to a different process")
	}
	if target.Flags&kthread.FlagDetached != 0 {
		return NewProcessError("JOIN_THREAD", caller.ProcID, CodeInvalid, "cannot join a detached thread")
	}
	k.Scheduler.Join(caller, target)
	return nil
}

// CancelThread implements cancel-thread: target is transitioned straight
// to Dead, pulled off whatever wait list (or the run queue) it currently
// occupies, and its join-wait list is woken with OK
// (ios_kernel_thread.cpp IOS_CancelThread). Only a thread in the calling
// thread's own process may be cancelled.
func (k *Kernel) CancelThread(caller, target *kthread.Thread) error {
	if target.ProcID != caller.ProcID {
		return NewProcessError("CANCEL_THREAD", caller.ProcID, CodeAccess, "target thread belongs to a different process")
	}
	k.Scheduler.Cancel(target)
	return nil
}

// SuspendThread implements suspend-thread: target transitions to Stopped,
// removed from whatever it was running on, waiting on, or queued on
// (ios_kernel_thread.cpp IOS_SuspendThread). Only a thread in the calling
// thread's own process may be suspended; a thread that is Dead or
// already Stopped cannot be.
func (k *Kernel) SuspendThread(caller, target *kthread.Thread) error {
	if target.ProcID != caller.ProcID {
		return NewProcessError("SUSPEND_THREAD", caller.ProcID, CodeAccess, "target thread belongs to a different process")
	}
	if !k.Scheduler.Suspend(target) {
		return NewProcessError("SUSPEND_THREAD", caller.ProcID, CodeInvalid, "thread is not Running, Ready, or Waiting")
	}
	return nil
}

// StartThread implements start-thread: a Stopped target (one that was
// suspended by suspend-thread) returns to Ready on the global run queue
// (ios_kernel_thread.cpp IOS_StartThread). Only a thread in the calling
// thread's own process may be started.
func (k *Kernel) StartThread(caller, target *kthread.Thread) error {
	if target.ProcID != caller.ProcID {
		return NewProcessError("START_THREAD", caller.ProcID, CodeAccess, "target thread belongs to a different process")
	}
	if !k.Scheduler.ResumeStopped(target) {
		return NewProcessError("START_THREAD", caller.ProcID, CodeInvalid, "thread is not Stopped")
	}
	return nil
}

// RegisterResourceManager registers procID as the handler for
// devicePath, receiving dispatched requests on q
// (register-resource-manager).
func (k *Kernel) RegisterResourceManager(procID int32, devicePath string, q *mqueue.Queue) (*resource.Manager, error) {
	return k.Resources.RegisterManager(procID, devicePath, q)
}

// SetResourcePermissionGroup sets devicePath's permission group; only the
// registering process may call this successfully
// (set-resource-permission-group).
func (k *Kernel) SetResourcePermissionGroup(procID int32, devicePath string, group int32) error {
	return k.Resources.SetPermissionGroup(procID, devicePath, group)
}

// DispatchResourceRequest routes one guest IPC call to its owning
// resource manager (the dispatch half of spec.md §4.4; the device
// handler's own fiber completes the round trip with ResourceReply).
func (k *Kernel) DispatchResourceRequest(t *kthread.Thread, args resource.DispatchArgs) (*resource.Request, error) {
	return k.Resources.Dispatch(t, args)
}

// ResourceReply delivers a device handler's outcome back to the caller
// that issued req, either through the guest IPC block or a kernel-client
// reply queue (resource-reply).
func (k *Kernel) ResourceReply(t *kthread.Thread, req *resource.Request, result Code, deviceHandle int32) error {
	return k.Resources.Reply(t, req, result, deviceHandle)
}

// HandleEvent registers q to receive msg whenever deviceID's interrupt
// fires (handle-event).
func (k *Kernel) HandleEvent(deviceID int, procID int32, q *mqueue.Queue, msg mqueue.Message) error {
	return k.Interrupts.RegisterEvent(deviceID, procID, q, msg)
}

// ClearAndEnable clears deviceID's pending bit and unmasks it
// (clear-and-enable).
func (k *Kernel) ClearAndEnable(deviceID int) error {
	return k.Interrupts.ClearAndEnable(deviceID)
}

// NewScratchAllocator creates a client-side scratch allocator for marshalling
// managed buffers through internal/ipc (spec.md §4.5).
func (k *Kernel) NewScratchAllocator(size uint32) *ipc.ScratchAllocator {
	return ipc.NewScratchAllocator(size)
}

// NewCapabilityTable creates an empty per-process capability table; most
// callers instead consult k.Boot.Processes[procID].Capability, which
// holds what the boot sequence assigned.
func (k *Kernel) NewCapabilityTable() *capability.Table { return capability.New() }

// Process returns the boot-time state (thread, arena, capability table)
// for a process forked from KernelParams.Processes, or nil if procID
// wasn't in the table.
func (k *Kernel) Process(procID int32) *boot.ProcessState {
	if k.Boot == nil {
		return nil
	}
	return k.Boot.Processes[procID]
}
