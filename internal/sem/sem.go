// Package sem implements the kernel counting semaphore: an integer count
// bounded by a maximum, a single priority-ordered wait list, and
// wait/signal/try-wait operations (spec.md §3 "Semaphore", §4.2).
package sem

import (
	"github.com/hle-ios/kernel/internal/kerr"
	"github.com/hle-ios/kernel/internal/kthread"
	"github.com/hle-ios/kernel/internal/sched"
)

// Semaphore is a single kernel counting semaphore.
type Semaphore struct {
	UID    uint32
	ProcID int32

	sched *sched.Scheduler

	count     int
	max       int
	destroyed bool

	waiters kthread.Queue
}

// New creates a semaphore with the given initial count and maximum.
func New(s *sched.Scheduler, uid uint32, procID int32, initialCount, maxCount int) *Semaphore {
	return &Semaphore{
		UID:    uid,
		ProcID: procID,
		sched:  s,
		count:  initialCount,
		max:    maxCount,
	}
}

// Count returns the current count. Diagnostics only — the value may be
// stale by the time the caller observes it.
func (sm *Semaphore) Count() int {
	sm.sched.Lock()
	defer sm.sched.Unlock()
	return sm.count
}

// Wait decrements the count, blocking the calling thread if it is
// already zero. Returns CodeIntr if the semaphore is destroyed while
// waiting (or already destroyed when called).
func (sm *Semaphore) Wait(t *kthread.Thread) error {
	sm.sched.Lock()
	for sm.destroyed || sm.count == 0 {
		if sm.destroyed {
			sm.sched.Unlock()
			return kerr.NewObject("WAIT_SEM", t.ProcID, sm.UID, kerr.CodeIntr, "semaphore destroyed")
		}
		sm.sched.SleepLocked(t, &sm.waiters)
		if t.WaitResult != nil {
			err := t.WaitResult
			sm.sched.Unlock()
			return err
		}
	}
	sm.count--
	sm.sched.Unlock()
	return nil
}

// TryWait is the non-blocking form: it decrements the count if positive,
// otherwise fails with CodeSemUnavailable.
func (sm *Semaphore) TryWait(t *kthread.Thread) error {
	sm.sched.Lock()
	defer sm.sched.Unlock()
	if sm.destroyed {
		return kerr.NewObject("TRY_WAIT_SEM", t.ProcID, sm.UID, kerr.CodeIntr, "semaphore destroyed")
	}
	if sm.count == 0 {
		return kerr.NewObject("TRY_WAIT_SEM", t.ProcID, sm.UID, kerr.CodeSemUnavailable, "semaphore count is zero")
	}
	sm.count--
	return nil
}

// Signal increments the count by n, clamped to max, and wakes up to n
// waiters — each woken waiter re-checks the count and decrements its own
// unit upon resuming, same as any other Wait. Returns the count actually
// added (it may be less than n if max was hit) and the number of threads
// woken.
func (sm *Semaphore) Signal(t *kthread.Thread, n int) (added, woken int) {
	sm.sched.Lock()
	room := sm.max - sm.count
	if n > room {
		n = room
	}
	sm.count += n
	added = n
	for i := 0; i < n; i++ {
		if sm.sched.WakeOneLocked(&sm.waiters, nil) == nil {
			break
		}
		woken++
	}
	sm.sched.Unlock()
	if woken > 0 {
		sm.sched.RescheduleSelf(t, false)
	}
	return added, woken
}

// Destroy wakes every blocked waiter with CodeIntr.
func (sm *Semaphore) Destroy() int {
	sm.sched.Lock()
	sm.destroyed = true
	n := sm.sched.WakeAllLocked(&sm.waiters, kerr.New("DESTROY", kerr.CodeIntr, "semaphore destroyed"))
	sm.sched.Unlock()
	return n
}
