package boot

import (
	"fmt"

	"github.com/hle-ios/kernel/internal/capability"
	"github.com/hle-ios/kernel/internal/constants"
	"github.com/hle-ios/kernel/internal/interfaces"
	"github.com/hle-ios/kernel/internal/kerr"
	"github.com/hle-ios/kernel/internal/kthread"
	"github.com/hle-ios/kernel/internal/memmap"
	"github.com/hle-ios/kernel/internal/resource"
	"github.com/hle-ios/kernel/internal/sched"
	"github.com/hle-ios/kernel/internal/timer"
)

// Subsystems bundles every subsystem singleton the root package
// constructs, in spec.md §4.6's init order: "the scheduler, heap,
// message-queue, resource-manager, semaphore, thread, and timer
// subsystems are initialised in that order (later ones depend on
// earlier)". Sequence only performs the root-thread-driven steps that
// need all of them to already exist; the message-queue and semaphore
// subsystems have no boot-time setup beyond being constructible (a
// mqueue.Queue/sem.Semaphore is created lazily per caller, not at boot),
// so they aren't referenced directly here.
type Subsystems struct {
	Scheduler *sched.Scheduler
	Allocator *memmap.Allocator
	Resources *resource.Registry
	Timers    *timer.Manager
	Logger    interfaces.Logger
}

// ProcessState is what Sequence produced for one forked process.
type ProcessState struct {
	Entry      ProcessEntry
	Thread     *kthread.Thread
	Arena      memmap.Arena
	Capability *capability.Table
}

// Result is everything the boot sequence produced, handed back to the
// root package to finish wiring (e.g. exposing heaps to internal/ipc's
// scratch allocators).
type Result struct {
	SharedHeap       *memmap.Heap
	CrossProcessHeap *memmap.Heap
	RootThread       *kthread.Thread
	RootCapability   *capability.Table
	Processes        map[int32]*ProcessState
}

// Sequence runs spec.md §4.6's root-thread steps:
//  1. Start the timer thread (a no-op here: internal/timer.Manager has no
//     thread and arms its host alarm when the first timer is inserted, so
//     "starting" it is constructing Subsystems.Timers before Sequence runs).
//  2. Assign capabilities: "all" to the root thread and privileged
//     system processes, the narrow default to everyone else.
//  3. Create the shared heap and the cross-process heap; assert the
//     shared heap's id equals constants.SharedHeapID.
//  4. Fork each process thread from the fixed process table.
//  5. Walk the firmware-pinned manager table, driving each through the
//     resume state machine.
func Sequence(ss Subsystems, processes []ProcessEntry, managers []ManagerEntry, asyncOpen, asyncResume AsyncRPC) (*Result, error) {
	root := kthread.New(0, 0, constants.RootThreadPriority, noopEntry, nil)
	root.Name = "root"
	ss.Scheduler.AddThread(root, ss.Scheduler.MarkDead)
	rootCaps := capability.NewAll()

	if ss.Logger != nil {
		ss.Logger.Info("boot: root thread created", "priority", constants.RootThreadPriority)
	}

	sharedHeap, err := ss.Allocator.CreateHeap(constants.SharedHeapID, constants.SharedHeapSize)
	if err != nil {
		return nil, fmt.Errorf("create shared heap: %w", err)
	}
	kerr.Assert("BOOT", sharedHeap.ID == constants.SharedHeapID, "shared heap id must equal constants.SharedHeapID")

	crossHeap, err := ss.Allocator.CreateHeap(constants.CrossProcessHeapID, constants.CrossProcessHeapSize)
	if err != nil {
		return nil, fmt.Errorf("create cross-process heap: %w", err)
	}

	result := &Result{
		SharedHeap:       sharedHeap,
		CrossProcessHeap: crossHeap,
		RootThread:       root,
		RootCapability:   rootCaps,
		Processes:        make(map[int32]*ProcessState, len(processes)),
	}

	for _, pe := range processes {
		arenaSize := pe.ArenaSize
		if arenaSize == 0 {
			arenaSize = constants.DefaultArenaSize
		}
		arena, err := ss.Allocator.CreateArena(pe.ProcID, arenaSize)
		if err != nil {
			return nil, fmt.Errorf("fork process %d (%s): %w", pe.ProcID, pe.Name, err)
		}

		var caps *capability.Table
		if pe.Privileged {
			caps = capability.NewAll()
		} else {
			caps = capability.NewDefault()
		}

		entry := pe.Entry
		if entry == nil {
			entry = noopEntry
		}
		th := kthread.New(uint32(pe.ProcID)+1000, pe.ProcID, pe.Priority, entry, nil)
		th.Name = pe.Name
		ss.Scheduler.AddThread(th, ss.Scheduler.MarkDead)

		result.Processes[pe.ProcID] = &ProcessState{
			Entry:      pe,
			Thread:     th,
			Arena:      arena,
			Capability: caps,
		}

		if ss.Logger != nil {
			ss.Logger.Info("boot: process forked", "proc_id", pe.ProcID, "name", pe.Name)
		}
	}

	seq := NewResumeSequencer(constants.ResumeStepTimeout)
	for _, me := range managers {
		state := seq.Resume(me, asyncOpen, asyncResume)
		kerr.Assert("BOOT", state == Resumed, fmt.Sprintf("manager %q did not reach Resumed", me.DevicePath))
		if ss.Logger != nil {
			ss.Logger.Info("boot: manager resumed", "path", me.DevicePath, "proc_id", me.ProcID)
		}
	}

	return result, nil
}

// noopEntry is the default thread body for a process-table or root
// entry that supplies none: it returns immediately, leaving the thread
// to be reaped by its onExit callback.
func noopEntry(t *kthread.Thread) {}
