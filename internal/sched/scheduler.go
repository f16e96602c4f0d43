// Package sched implements the kernel's global scheduler: a single
// priority-ordered ready queue, a fiber-swap primitive, and the per-core
// loop that drives kernel threads (spec.md §4.1, §5).
//
// Fiber swap is modelled as a goroutine handoff rather than a real
// ucontext/stack switch: each kthread.Thread owns a goroutine parked on a
// pair of unbuffered channels, and only the thread a core's loop has just
// resumed is permitted to make progress. This satisfies spec.md §9's
// "tasks + channels" alternative — priority-and-FIFO wake order is
// preserved, and the single scheduler mutex is the mutual-exclusion
// barrier every transition is linearised under.
package sched

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hle-ios/kernel/internal/constants"
	"github.com/hle-ios/kernel/internal/interfaces"
	"github.com/hle-ios/kernel/internal/kthread"
	"golang.org/x/sys/unix"
)

// Core is one emulated CPU execution unit: one host OS thread running an
// interruptible loop over cooperative fibers (spec.md §5).
type Core struct {
	ID                  int
	current             *kthread.Thread
	rescheduleRequested atomic.Bool
	cpuAffinity         int // -1 = unset
}

// Scheduler owns the global run queue and every core loop.
type Scheduler struct {
	mu       sync.Mutex
	cond     *sync.Cond
	runQueue kthread.Queue
	cores    []*Core
	stopped  bool
	observer interfaces.Observer
	logger   interfaces.Logger
}

// New creates a scheduler for numCores cores. observer and logger may be
// nil; nil observer means no-op, nil logger means no logging.
func New(numCores int, observer interfaces.Observer, logger interfaces.Logger) *Scheduler {
	if numCores <= 0 {
		numCores = constants.NumCores
	}
	s := &Scheduler{
		observer: observer,
		logger:   logger,
	}
	s.cond = sync.NewCond(&s.mu)
	s.cores = make([]*Core, numCores)
	for i := range s.cores {
		s.cores[i] = &Core{ID: i, cpuAffinity: -1}
	}
	return s
}

// SetCoreAffinity pins core i's host loop to a specific CPU once started.
func (s *Scheduler) SetCoreAffinity(core, cpu int) {
	if core < 0 || core >= len(s.cores) {
		return
	}
	s.cores[core].cpuAffinity = cpu
}

// NumCores returns the number of emulated cores.
func (s *Scheduler) NumCores() int { return len(s.cores) }

// Start launches every core's loop as its own goroutine.
func (s *Scheduler) Start() {
	for _, c := range s.cores {
		go s.coreLoop(c)
	}
}

// Stop wakes every idle core loop so it can observe shutdown and return.
// In-flight threads are not forcibly unblocked; callers are expected to
// destroy queues/semaphores first so waiters wake with CodeIntr.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Scheduler) coreLoop(c *Core) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if c.cpuAffinity >= 0 {
		var mask unix.CPUSet
		mask.Set(c.cpuAffinity)
		if err := unix.SchedSetaffinity(0, &mask); err != nil && s.logger != nil {
			s.logger.Warn("failed to set core affinity", "core", c.ID, "cpu", c.cpuAffinity, "err", err)
		}
	}

	s.mu.Lock()
	for {
		next := s.runQueue.Pop()
		if next == nil {
			if s.stopped {
				s.mu.Unlock()
				return
			}
			s.cond.Wait()
			continue
		}
		from := next.State
		next.State = kthread.StateRunning
		next.CurCore = c.ID
		c.current = next
		if next.Debug != nil {
			next.Debug.OnTransition(next, from, kthread.StateRunning)
		}
		s.mu.Unlock()

		next.Resume()
		next.WaitYielded()

		s.mu.Lock()
		if c.current == next {
			c.current = nil
		}
		s.observeSwap(c.ID)
	}
}

func (s *Scheduler) observeSwap(coreID int) {
	if s.observer != nil {
		s.observer.ObserveSchedulerSwap(coreID, coreID)
	}
}

// AddThread transitions a freshly created thread to Ready, pushes it onto
// the run queue, and launches its goroutine. onExit is called (with the
// lock not held) once the thread's entry function returns; it must leave
// the thread in kthread.StateDead.
func (s *Scheduler) AddThread(t *kthread.Thread, onExit func(*kthread.Thread)) {
	t.Launch(onExit)

	s.mu.Lock()
	t.State = kthread.StateReady
	s.runQueue.Push(t)
	s.cond.Broadcast()
	if t.Debug != nil {
		t.Debug.OnTransition(t, kthread.StateAvailable, kthread.StateReady)
	}
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveThreadTransition(t.ID, "available", "created")
	}
}

// Sleep suspends the calling thread (must be invoked from within t's own
// goroutine) onto queue q and blocks until the scheduler resumes it. The
// caller is responsible for re-checking whatever predicate it slept on;
// t.WaitResult carries the unblocker's outcome (e.g. CodeIntr).
func (s *Scheduler) Sleep(t *kthread.Thread, q *kthread.Queue) {
	s.mu.Lock()
	s.SleepLocked(t, q)
	s.mu.Unlock()
}

// SleepLocked is Sleep for callers that already hold the scheduler lock
// (via Lock/Unlock below). It releases the lock while blocked and
// re-acquires it before returning, so a subsystem can loop
// "check predicate; SleepLocked; re-check" without ever letting another
// goroutine observe its state between the check and the enqueue.
func (s *Scheduler) SleepLocked(t *kthread.Thread, q *kthread.Queue) {
	t.State = kthread.StateWaiting
	t.WaitResult = nil
	q.Push(t)
	s.mu.Unlock()

	t.Yielded()
	t.WaitResumed()

	s.mu.Lock()
}

// WakeOne pops the highest-priority thread from q (FIFO on ties), marks
// it Ready, stores result in its wait-result slot, and pushes it onto the
// run queue. Returns the woken thread, or nil if q was empty.
func (s *Scheduler) WakeOne(q *kthread.Queue, result error) *kthread.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.WakeOneLocked(q, result)
}

// WakeOneLocked is WakeOne for callers that already hold the scheduler lock.
func (s *Scheduler) WakeOneLocked(q *kthread.Queue, result error) *kthread.Thread {
	t := q.Pop()
	if t == nil {
		return nil
	}
	t.WaitResult = result
	t.State = kthread.StateReady
	s.runQueue.Push(t)
	s.cond.Broadcast()
	return t
}

// WakeAll repeats WakeOne until q is empty, returning the count woken.
// Used by destroy paths (spec.md §3 "Message queue"/"Semaphore": Destroy
// wakes every waiter with CodeIntr).
func (s *Scheduler) WakeAll(q *kthread.Queue, result error) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.WakeAllLocked(q, result)
}

// WakeAllLocked is WakeAll for callers that already hold the scheduler lock.
func (s *Scheduler) WakeAllLocked(q *kthread.Queue, result error) int {
	n := 0
	for s.WakeOneLocked(q, result) != nil {
		n++
	}
	return n
}

// MarkDead transitions t to Dead, wakes everyone parked in t.JoinWaiters
// with nil (success), and — if t is FlagDetached, so nobody is entitled
// to collect its exit value — reaps it straight through to Available
// (spec.md §4.1 "Fiber swap": "after the entry returns the thread
// transitions Dead (detached → Available), its join-wait list is woken
// with OK"; ios_kernel_thread.cpp's iosFiberEntryPoint/IOS_CancelThread
// do the equivalent on the two paths that can kill a thread).
func (s *Scheduler) MarkDead(t *kthread.Thread) {
	s.mu.Lock()
	from := t.State
	t.State = kthread.StateDead
	if t.Debug != nil {
		t.Debug.OnTransition(t, from, kthread.StateDead)
	}
	s.WakeAllLocked(&t.JoinWaiters, nil)
	if t.Flags&kthread.FlagDetached != 0 {
		t.State = kthread.StateAvailable
	}
	s.mu.Unlock()
}

// Join blocks caller — which must be invoked from within caller's own
// goroutine — on target's join-wait list until target reaches Dead, then
// reaps target to Available. If target is already Dead, returns
// immediately without blocking (ios_kernel_thread.cpp IOS_JoinThread).
// Validating that caller may legally join target (not itself, same
// process, target not detached) is the kernel-client layer's job; this
// is the bare mechanism.
func (s *Scheduler) Join(caller, target *kthread.Thread) {
	s.mu.Lock()
	if target.State != kthread.StateDead {
		s.SleepLocked(caller, &target.JoinWaiters)
	}
	target.State = kthread.StateAvailable
	s.mu.Unlock()
}

// Cancel transitions target straight to Dead, pulling it out of whichever
// wait list (or the run queue) it currently occupies, and wakes its own
// join-wait list with nil. There is no way to force an arbitrary blocked
// fiber's goroutine to unwind early, so a cancelled thread's goroutine is
// simply never resumed again; it holds no lock and blocks forever on a
// channel receive, which is harmless (spec.md §5 "Cancellation":
// "cancel-thread transitions a thread to Dead, removes it from whichever
// list it sits on, wakes joiners").
func (s *Scheduler) Cancel(target *kthread.Thread) {
	s.mu.Lock()
	if target.WaitList != nil {
		target.WaitList.Remove(target)
	} else if target.State == kthread.StateReady {
		s.runQueue.Remove(target)
	}
	from := target.State
	target.State = kthread.StateDead
	if target.Debug != nil {
		target.Debug.OnTransition(target, from, kthread.StateDead)
	}
	s.WakeAllLocked(&target.JoinWaiters, nil)
	s.mu.Unlock()
}

// Suspend transitions target to Stopped, pulling it off whatever wait
// list or the run queue it currently occupies. Reports whether the
// transition applied — false if target was already Dead, Available, or
// Stopped (ios_kernel_thread.cpp IOS_SuspendThread: "cannot suspend a
// thread which is not Running, Ready or Waiting").
func (s *Scheduler) Suspend(target *kthread.Thread) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch target.State {
	case kthread.StateRunning, kthread.StateReady, kthread.StateWaiting:
	default:
		return false
	}

	if target.WaitList != nil {
		target.WaitList.Remove(target)
	} else if target.State == kthread.StateReady {
		s.runQueue.Remove(target)
	}
	from := target.State
	target.State = kthread.StateStopped
	if target.Debug != nil {
		target.Debug.OnTransition(target, from, kthread.StateStopped)
	}
	return true
}

// ResumeStopped transitions a Stopped target back to Ready on the global
// run queue (the resume half of start-thread, ios_kernel_thread.cpp
// IOS_StartThread: "can only start a stopped thread"). Reports whether
// the transition applied.
func (s *Scheduler) ResumeStopped(target *kthread.Thread) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if target.State != kthread.StateStopped {
		return false
	}
	target.State = kthread.StateReady
	if target.Debug != nil {
		target.Debug.OnTransition(target, kthread.StateStopped, kthread.StateReady)
	}
	s.runQueue.Push(target)
	s.cond.Broadcast()
	return true
}

// RescheduleSelf implements spec.md §4.1's reschedule-self: if the run
// queue's head is not strictly higher priority than t (and, when
// yielding is false, not merely equal), t keeps running. Otherwise t is
// pushed back onto the run queue and yields the core to whoever the core
// loop pops next. Must be called from within t's own goroutine.
func (s *Scheduler) RescheduleSelf(t *kthread.Thread, yielding bool) {
	s.mu.Lock()
	head := s.runQueue.Peek()
	if head == nil {
		s.mu.Unlock()
		return
	}
	if t.CurPriority < head.CurPriority {
		s.mu.Unlock()
		return
	}
	if t.CurPriority == head.CurPriority && !yielding {
		s.mu.Unlock()
		return
	}
	t.State = kthread.StateReady
	s.runQueue.Push(t)
	s.cond.Broadcast()
	s.mu.Unlock()

	t.Yielded()
	t.WaitResumed()
}

// RescheduleOthers sets the reschedule flag of every core but the
// caller's own. Real hardware delivers this as a cross-core interrupt;
// here it only stores the flag, which RescheduleRequested reports and
// clears. The core loop does not read the flag, so this call preempts no
// running thread on another core.
func (s *Scheduler) RescheduleOthers(exceptCore int) {
	for _, c := range s.cores {
		if c.ID != exceptCore {
			c.rescheduleRequested.Store(true)
		}
	}
}

// RescheduleRequested reports and clears the reschedule flag for a core.
func (s *Scheduler) RescheduleRequested(core int) bool {
	if core < 0 || core >= len(s.cores) {
		return false
	}
	return s.cores[core].rescheduleRequested.Swap(false)
}

// RescheduleAll implements reschedule-all: reschedule-others, then
// reschedule-self(false) for the calling thread.
func (s *Scheduler) RescheduleAll(t *kthread.Thread) {
	s.RescheduleOthers(t.CurCore)
	s.RescheduleSelf(t, false)
}

// ChangePriority updates t's current priority and repositions it within
// whichever queue it currently sits on (spec.md §3 "Thread": "Priority
// change while sitting on a list re-positions it in priority order").
func (s *Scheduler) ChangePriority(t *kthread.Thread, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.CurPriority = priority
	if t.WaitList != nil {
		t.WaitList.Reposition(t)
	}
}

// CurrentCoreThread returns the thread currently running on core i, or
// nil. Intended for diagnostics and tests.
func (s *Scheduler) CurrentCoreThread(core int) *kthread.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	if core < 0 || core >= len(s.cores) {
		return nil
	}
	return s.cores[core].current
}

// RunQueueLen reports the current run-queue length. Diagnostics only.
func (s *Scheduler) RunQueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runQueue.Len()
}

// Lock and Unlock expose the scheduler's single global lock to
// subsystems (message queue, semaphore, timer) that must make their own
// predicate check and enqueue atomic with respect to the run queue
// (spec.md §4.2: "the blocking path sleeps under the lock and
// re-verifies predicate on wake").
func (s *Scheduler) Lock()   { s.mu.Lock() }
func (s *Scheduler) Unlock() { s.mu.Unlock() }

// Broadcast wakes any core loops parked waiting for run-queue work.
// Subsystems call this after pushing work outside of WakeOne/WakeAll
// (e.g. the interrupt plane's direct queue delivery).
func (s *Scheduler) Broadcast() {
	s.cond.Broadcast()
}
